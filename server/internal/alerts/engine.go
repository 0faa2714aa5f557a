package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/musink/musink/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"
}

// Engine evaluates alert rules against hub metrics and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: rule name
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts

	client *http.Client
	now    func() time.Time
	wg     sync.WaitGroup // in-flight deliveries
}

// New creates an Engine from the hub alert configuration.
// An Engine with empty rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// SetConfig replaces the rules and webhooks. Active alerts whose rule no
// longer exists are resolved without notification.
func (e *Engine) SetConfig(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = cfg.Rules
	e.webhooks = cfg.Webhooks

	keep := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		keep[r.Name] = true
	}
	now := e.now()
	for name, a := range e.active {
		if keep[name] {
			continue
		}
		resolved := now
		a.State = "resolved"
		a.ResolvedAt = &resolved
		e.pushHistory(a)
		delete(e.active, name)
		delete(e.lastFire, name)
	}
}

// Run evaluates the rules against fields() every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration, fields func() map[string]float64) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Evaluate(fields())
		}
	}
}

// Evaluate tests all configured rules against fields.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(fields map[string]float64) {
	e.mu.Lock()
	rules := e.rules
	webhooks := e.webhooks
	e.mu.Unlock()

	now := e.now()
	for _, rule := range rules {
		fires, value := evalCondition(rule.Condition, fields)

		e.mu.Lock()
		var notify *Alert
		if fires {
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if _, firing := e.active[rule.Name]; !firing && now.Sub(e.lastFire[rule.Name]) > cooldown {
				sev := rule.Severity
				if sev == "" {
					sev = "warning"
				}
				a := &Alert{
					ID:       uuid.NewString(),
					RuleName: rule.Name,
					Severity: sev,
					Value:    value,
					Message:  fmt.Sprintf("[%s] %s fired: %s = %.2f", sev, rule.Name, rule.Condition, value),
					FiredAt:  now,
					State:    "firing",
				}
				e.active[rule.Name] = a
				e.lastFire[rule.Name] = now
				cp := *a
				notify = &cp
				slog.Warn("alerts: fired", "rule", rule.Name, "value", value, "severity", sev)
			}
		} else if a, ok := e.active[rule.Name]; ok {
			resolved := now
			a.State = "resolved"
			a.ResolvedAt = &resolved
			delete(e.active, rule.Name)
			e.pushHistory(a)
			cp := *a
			notify = &cp
			slog.Info("alerts: resolved", "rule", rule.Name)
		}
		e.mu.Unlock()

		if notify != nil {
			e.wg.Add(1)
			go func(a *Alert) {
				defer e.wg.Done()
				e.deliver(webhooks, a)
			}(notify)
		}
	}
}

// pushHistory must be called with e.mu held.
func (e *Engine) pushHistory(a *Alert) {
	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}
