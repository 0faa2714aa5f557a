// Package metrics collects hub counters and gauges and exposes them in the
// Prometheus text exposition format.
//
// Counters are kept in memory and incremented by the router; gauges are read
// at scrape time from the functions installed with SetGauges. Snapshot
// flattens both into the structure the alert engine evaluates.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

const namespace = "musink_hub_"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Gauges supplies point-in-time values. Any nil function reads as zero.
type Gauges struct {
	Clients     func() int
	Groups      func() int
	Connections func() int
	Workers     func() map[string]int
}

// Snapshot is a flat view of the current metric values.
type Snapshot struct {
	Clients               int
	Groups                int
	Connections           int
	WorkersMutualPlaylist int
	WorkersOther          int
	DispatchFailures      float64
	RefreshFailures       float64
	ProtocolErrors        float64
}

// Fields returns the snapshot keyed by the names alert rules use.
func (s Snapshot) Fields() map[string]float64 {
	return map[string]float64{
		"clients":                 float64(s.Clients),
		"groups":                  float64(s.Groups),
		"connections":             float64(s.Connections),
		"workers_mutual_playlist": float64(s.WorkersMutualPlaylist),
		"workers_other":           float64(s.WorkersOther),
		"dispatch_failures":       s.DispatchFailures,
		"refresh_failures":        s.RefreshFailures,
		"protocol_errors":         s.ProtocolErrors,
	}
}

type pair struct{ a, b string }

// Metrics is safe for concurrent use.
type Metrics struct {
	mu             sync.Mutex
	messages       map[string]float64 // by message type
	protocolErrors float64
	dispatches     map[pair]float64 // category, outcome
	broadcasts     float64
	refreshes      map[string]float64 // outcome
	playback       map[pair]float64   // command, outcome

	gaugeMu sync.RWMutex
	gauges  Gauges
}

// New creates an empty Metrics.
func New() *Metrics {
	return &Metrics{
		messages:   make(map[string]float64),
		dispatches: make(map[pair]float64),
		refreshes:  make(map[string]float64),
		playback:   make(map[pair]float64),
	}
}

// SetGauges installs the gauge sources.
func (m *Metrics) SetGauges(g Gauges) {
	m.gaugeMu.Lock()
	m.gauges = g
	m.gaugeMu.Unlock()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// MessageReceived counts one inbound envelope of the given type.
func (m *Metrics) MessageReceived(msgType string) {
	m.mu.Lock()
	m.messages[msgType]++
	m.mu.Unlock()
}

// ProtocolError counts one dropped malformed or unexpected envelope.
func (m *Metrics) ProtocolError() {
	m.mu.Lock()
	m.protocolErrors++
	m.mu.Unlock()
}

// ObserveDispatch counts one dispatch attempt to category.
func (m *Metrics) ObserveDispatch(category string, err error) {
	m.mu.Lock()
	m.dispatches[pair{category, outcome(err)}]++
	m.mu.Unlock()
}

// BroadcastSent counts one group-table broadcast.
func (m *Metrics) BroadcastSent() {
	m.mu.Lock()
	m.broadcasts++
	m.mu.Unlock()
}

// ObserveRefresh counts one token refresh call.
func (m *Metrics) ObserveRefresh(err error) {
	m.mu.Lock()
	m.refreshes[outcome(err)]++
	m.mu.Unlock()
}

// ObservePlayback counts one playback command sent for one member.
func (m *Metrics) ObservePlayback(command string, err error) {
	m.mu.Lock()
	m.playback[pair{command, outcome(err)}]++
	m.mu.Unlock()
}

func readGauge(fn func() int) int {
	if fn == nil {
		return 0
	}
	return fn()
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.gaugeMu.RLock()
	g := m.gauges
	m.gaugeMu.RUnlock()

	s := Snapshot{
		Clients:     readGauge(g.Clients),
		Groups:      readGauge(g.Groups),
		Connections: readGauge(g.Connections),
	}
	if g.Workers != nil {
		w := g.Workers()
		s.WorkersMutualPlaylist = w["MutualPlaylist"]
		s.WorkersOther = w["Other"]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.dispatches {
		if k.b == OutcomeError {
			s.DispatchFailures += v
		}
	}
	s.RefreshFailures = m.refreshes[OutcomeError]
	s.ProtocolErrors = m.protocolErrors
	return s
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func counter(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: proto.Float64(v)}}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func family(name, help string, typ dto.MetricType, ms []*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   typ.Enum(),
		Metric: ms,
	}
}

// Gather builds the metric families, sorted by name.
func (m *Metrics) Gather() []*dto.MetricFamily {
	snap := m.Snapshot()

	m.gaugeMu.RLock()
	workersFn := m.gauges.Workers
	m.gaugeMu.RUnlock()
	var workers []*dto.Metric
	if workersFn != nil {
		w := workersFn()
		cats := make([]string, 0, len(w))
		for c := range w {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			workers = append(workers, gauge(float64(w[c]), label("category", c)))
		}
	}

	m.mu.Lock()
	var messages []*dto.Metric
	for _, t := range sortedKeys(m.messages) {
		messages = append(messages, counter(m.messages[t], label("type", t)))
	}
	var dispatches []*dto.Metric
	for _, k := range sortedPairs(m.dispatches) {
		dispatches = append(dispatches, counter(m.dispatches[k], label("category", k.a), label("outcome", k.b)))
	}
	var refreshes []*dto.Metric
	for _, o := range sortedKeys(m.refreshes) {
		refreshes = append(refreshes, counter(m.refreshes[o], label("outcome", o)))
	}
	var playback []*dto.Metric
	for _, k := range sortedPairs(m.playback) {
		playback = append(playback, counter(m.playback[k], label("command", k.a), label("outcome", k.b)))
	}
	protocolErrors := m.protocolErrors
	broadcasts := m.broadcasts
	m.mu.Unlock()

	fams := []*dto.MetricFamily{
		family("broadcasts_total", "Group table broadcasts sent.", dto.MetricType_COUNTER,
			[]*dto.Metric{counter(broadcasts)}),
		family("clients", "Registered clients.", dto.MetricType_GAUGE,
			[]*dto.Metric{gauge(float64(snap.Clients))}),
		family("connections", "Open transport connections.", dto.MetricType_GAUGE,
			[]*dto.Metric{gauge(float64(snap.Connections))}),
		family("groups", "Current groups.", dto.MetricType_GAUGE,
			[]*dto.Metric{gauge(float64(snap.Groups))}),
		family("protocol_errors_total", "Inbound envelopes dropped as protocol errors.", dto.MetricType_COUNTER,
			[]*dto.Metric{counter(protocolErrors)}),
	}
	if len(messages) > 0 {
		fams = append(fams, family("messages_received_total", "Inbound envelopes by type.", dto.MetricType_COUNTER, messages))
	}
	if len(dispatches) > 0 {
		fams = append(fams, family("dispatches_total", "Work dispatches by category and outcome.", dto.MetricType_COUNTER, dispatches))
	}
	if len(refreshes) > 0 {
		fams = append(fams, family("token_refreshes_total", "Token refresh calls by outcome.", dto.MetricType_COUNTER, refreshes))
	}
	if len(playback) > 0 {
		fams = append(fams, family("playback_commands_total", "Playback commands by command and outcome.", dto.MetricType_COUNTER, playback))
	}
	if len(workers) > 0 {
		fams = append(fams, family("workers", "Connected workers by category.", dto.MetricType_GAUGE, workers))
	}

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// ServeHTTP writes the text exposition.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range m.Gather() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPairs(m map[pair]float64) []pair {
	keys := make([]pair, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].a != keys[j].a {
			return keys[i].a < keys[j].a
		}
		return keys[i].b < keys[j].b
	})
	return keys
}

// String implements fmt.Stringer for debug logging.
func (s Snapshot) String() string {
	return fmt.Sprintf("clients=%d groups=%d connections=%d workers=%d/%d",
		s.Clients, s.Groups, s.Connections, s.WorkersMutualPlaylist, s.WorkersOther)
}
