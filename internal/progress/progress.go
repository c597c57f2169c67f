// Package progress carries cancellation and progress between a running
// simulation and whoever is watching it. Everything here is safe for
// concurrent use.
package progress

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Token is a cooperative cancellation flag.
type Token struct {
	canceled atomic.Bool
}

func NewToken() *Token {
	return &Token{}
}

func (t *Token) Cancel() {
	t.canceled.Store(true)
}

// Canceled is safe to call on a nil Token.
func (t *Token) Canceled() bool {
	return t != nil && t.canceled.Load()
}

// Update is one progress report.
type Update struct {
	Run      int     `json:"run"`
	Time     float64 `json:"time"`
	Fraction float64 `json:"fraction"`
	Status   string  `json:"status"`
	Done     bool    `json:"done"`
}

type Sink interface {
	Report(u Update)
}

// Title renders the status line shown next to a progress bar.
func Title(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return fmt.Sprintf("Progress (%d%%)", int(fraction*100))
}

type SinkFunc func(Update)

func (f SinkFunc) Report(u Update) { f(u) }

// Multi fans an update out to several sinks.
type Multi []Sink

func (m Multi) Report(u Update) {
	for _, s := range m {
		if s != nil {
			s.Report(u)
		}
	}
}

// LogSink logs every update at debug level and completion at info.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Report(u Update) {
	if u.Done {
		s.Logger.Info("run finished", "run", u.Run, "t", u.Time, "status", u.Status)
		return
	}
	s.Logger.Debug("progress", "run", u.Run, "t", u.Time, "status", u.Status)
}

// Latest keeps the most recent update for polling readers.
type Latest struct {
	mu sync.RWMutex
	u  Update
	ok bool
}

func (l *Latest) Report(u Update) {
	l.mu.Lock()
	l.u, l.ok = u, true
	l.mu.Unlock()
}

func (l *Latest) Get() (Update, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.u, l.ok
}
