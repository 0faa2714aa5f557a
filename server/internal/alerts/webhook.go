package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/musink/musink/server/internal/config"
)

// hubEvent is the flat, structured form of an alert transition posted to
// "http" webhooks. Slack and Teams payloads are rendered from it too.
type hubEvent struct {
	Source     string     `json:"source"`
	AlertID    string     `json:"alert_id"`
	Rule       string     `json:"rule"`
	State      string     `json:"state"`
	Severity   string     `json:"severity"`
	Value      float64    `json:"value"`
	Message    string     `json:"message"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

const eventSource = "musink-hub"

func newHubEvent(a *Alert) hubEvent {
	return hubEvent{
		Source:     eventSource,
		AlertID:    a.ID,
		Rule:       a.RuleName,
		State:      a.State,
		Severity:   a.Severity,
		Value:      a.Value,
		Message:    a.Message,
		FiredAt:    a.FiredAt.UTC(),
		ResolvedAt: a.ResolvedAt,
	}
}

// fact is one labelled field of an event, in display order.
type fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (ev hubEvent) facts() []fact {
	fs := []fact{
		{"Rule", ev.Rule},
		{"State", ev.State},
		{"Severity", ev.Severity},
		{"Value", strconv.FormatFloat(ev.Value, 'g', -1, 64)},
		{"Fired at", ev.FiredAt.Format(time.RFC3339)},
	}
	if ev.ResolvedAt != nil {
		fs = append(fs, fact{"Resolved at", ev.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return fs
}

// renderers maps a webhook type onto its payload encoder.
var renderers = map[string]func(hubEvent) any{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  func(ev hubEvent) any { return ev },
}

// deliver posts a to every webhook target. Failures are logged only.
func (e *Engine) deliver(webhooks []config.WebhookConfig, a *Alert) {
	ev := newHubEvent(a)
	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := renderers[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := json.Marshal(render(ev))
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed", "type", wh.Type, "rule", ev.Rule, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", ev.Rule, "state", ev.State)
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback"`
	Color    string       `json:"color"`
	Title    string       `json:"title"`
	Text     string       `json:"text"`
	Fields   []slackField `json:"fields"`
	Ts       int64        `json:"ts"`
}

func slackPayload(ev hubEvent) any {
	fields := make([]slackField, 0, 6)
	for _, f := range ev.facts() {
		fields = append(fields, slackField{Title: f.Name, Value: f.Value, Short: true})
	}
	title := fmt.Sprintf("%s %s is %s", severityLabel(ev.Severity), ev.Rule, ev.State)
	return map[string]any{
		"text": title,
		"attachments": []slackAttachment{{
			Fallback: title + ": " + ev.Message,
			Color:    "#" + severityColor(ev.Severity, ev.State),
			Title:    ev.Rule,
			Text:     ev.Message,
			Fields:   fields,
			Ts:       ev.FiredAt.Unix(),
		}},
	}
}

func teamsPayload(ev hubEvent) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(ev.Severity, ev.State),
		"summary":    ev.Rule + " " + ev.State,
		"sections": []map[string]any{{
			"activityTitle":    fmt.Sprintf("musink hub: %s %s", ev.Rule, ev.State),
			"activitySubtitle": ev.Message,
			"facts":            ev.facts(),
		}},
	}
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	}
	return "[INFO]"
}

// severityColor is green once an alert resolves.
func severityColor(severity, state string) string {
	if state == "resolved" {
		return "2EB67D"
	}
	switch severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	}
	return "00D4FF"
}
