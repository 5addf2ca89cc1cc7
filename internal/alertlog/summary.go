package alertlog

import (
	"encoding/json"
)

// grafanaAlert mirrors the top-level fields of a Grafana/Alertmanager webhook body
type grafanaAlert struct {
	Receiver string            `json:"receiver"`
	Status   string            `json:"status"`
	Title    string            `json:"title"`
	Alerts   []json.RawMessage `json:"alerts"`
}

// Summarize extracts receiver, status, alert count and title from payload.
// Missing fields stay zero; status defaults to "unknown" like the alert senders expect.
// The payload itself is never modified.
func Summarize(payload []byte) (Summary, error) {
	var a grafanaAlert
	if err := json.Unmarshal(payload, &a); err != nil {
		return Summary{Status: "unknown"}, err
	}
	s := Summary{
		Receiver:   a.Receiver,
		Status:     a.Status,
		AlertCount: len(a.Alerts),
		Title:      a.Title,
	}
	if s.Status == "" {
		s.Status = "unknown"
	}
	return s, nil
}
