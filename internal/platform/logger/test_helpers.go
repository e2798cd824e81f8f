package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// Entry is one decoded JSON log record.
type Entry map[string]any

// Capture collects JSON log output written by concurrent goroutines, such
// as HTTP handlers and scheduler workers under test.
type Capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Entries decodes every record written so far. A malformed line fails tb.
func (c *Capture) Entries(tb testing.TB) []Entry {
	tb.Helper()
	c.mu.Lock()
	raw := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			tb.Fatalf("malformed log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

// WithMessage returns the records whose msg equals msg.
func (c *Capture) WithMessage(tb testing.TB, msg string) []Entry {
	tb.Helper()
	var out []Entry
	for _, e := range c.Entries(tb) {
		if e["msg"] == msg {
			out = append(out, e)
		}
	}
	return out
}

// NewCapture returns a debug-level JSON logger and the capture it writes to.
func NewCapture(tb testing.TB) (*slog.Logger, *Capture) {
	tb.Helper()
	c := &Capture{}
	return slog.New(slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug})), c
}
