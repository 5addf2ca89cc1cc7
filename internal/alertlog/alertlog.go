// Package alertlog keeps the local journal of received alerts and their relay outcomes.
//
// Entries are JSON lines written to <dir>/alerts_YYYYMMDD.log; a new file is
// opened when the local date changes. Write failures are reported to the
// process logger and never surface to callers, so journaling can not block a relay.
package alertlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zep-us/alert-relay/internal/dispatch"
	"github.com/zep-us/alert-relay/pkg/logger"
)

// Summary holds the fields of a Grafana-style alert payload worth a log line
type Summary struct {
	Receiver   string
	Status     string
	AlertCount int
	Title      string
}

// Journal appends alert entries to a dated log file
type Journal struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	day    string
	file   *os.File
	log    zerolog.Logger
	closed bool
}

// Open prepares a journal in dir, creating the directory if needed.
// An empty dir yields a journal that writes through the process logger instead of a file.
func Open(dir string) (*Journal, error) {
	j := &Journal{dir: dir, now: time.Now}
	if dir == "" {
		j.log = logger.Zerolog().With().Str("component", "alertlog").Logger()
		return j, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create alert log dir %s: %w", dir, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.rotateLocked(); err != nil {
		return nil, err
	}
	return j, nil
}

// Enabled reports whether entries go to a dated file
func (j *Journal) Enabled() bool {
	return j.dir != ""
}

// FileName returns the journal file name for the given day
func FileName(t time.Time) string {
	return fmt.Sprintf("alerts_%s.log", t.Format("20060102"))
}

// rotateLocked must be called with j.mu held
func (j *Journal) rotateLocked() error {
	now := j.now()
	day := now.Format("20060102")
	if j.file != nil && day == j.day {
		return nil
	}
	path := filepath.Join(j.dir, FileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open alert log %s: %w", path, err)
	}
	if j.file != nil {
		_ = j.file.Close()
	}
	j.file = f
	j.day = day
	j.log = zerolog.New(f).With().Timestamp().Logger()
	return nil
}

func (j *Journal) write(fn func(l zerolog.Logger)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if j.dir != "" {
		if err := j.rotateLocked(); err != nil {
			logger.Error("alert log unavailable: %v", err)
			return
		}
	}
	fn(j.log)
}

// Received records an inbound alert with its summary and full payload
func (j *Journal) Received(requestID string, s Summary, payload []byte) {
	j.write(func(l zerolog.Logger) {
		ev := l.Info().
			Str("event", "received").
			Str("request_id", requestID).
			Str("receiver", s.Receiver).
			Str("status", s.Status).
			Int("alerts", s.AlertCount).
			Str("title", s.Title)
		var compact bytes.Buffer
		if err := json.Compact(&compact, payload); err == nil {
			ev = ev.RawJSON("payload", compact.Bytes())
		} else {
			ev = ev.Bytes("payload", payload)
		}
		ev.Msg("alert received")
	})
}

// Outcome records what the dispatcher did with an alert
func (j *Journal) Outcome(requestID string, o dispatch.Outcome) {
	j.write(func(l zerolog.Logger) {
		var ev *zerolog.Event
		switch o.Kind {
		case dispatch.DeliveryFailed:
			ev = l.Error().Err(o.Cause)
		case dispatch.Rejected:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.Str("event", "relayed").
			Str("request_id", requestID).
			Str("outcome", o.Kind.String()).
			Str("provider", o.EndpointID).
			Str("reason", o.Reason).
			Msg("relay outcome")
	})
}

// Close closes the current file, if any
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
