// Package notify carries pipeline and playback updates to whoever is
// listening. Every sink is fire-and-forget: a slow or broken consumer must
// never stall the synthesis worker.
package notify

import (
	"log/slog"
	"sync"
)

// Notifier receives updates from the pipeline worker and the playback
// controller. Implementations must return quickly and never panic.
type Notifier interface {
	// Progress reports percent complete, monotonically non-decreasing,
	// ending with exactly one 100.
	Progress(percent float64)
	// Error reports a terminal failure.
	Error(message string)
	// PlaybackState reports playback starting or stopping.
	PlaybackState(playing bool)
	// Finished reports successful completion.
	Finished()
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Progress(float64)   {}
func (Nop) Error(string)       {}
func (Nop) PlaybackState(bool) {}
func (Nop) Finished()          {}

// Logger writes notifications to a slog logger, for plain CLI runs.
type Logger struct {
	log *slog.Logger
}

// NewLogger returns a logging sink.
func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With(slog.String("component", "notify"))}
}

func (l *Logger) Progress(percent float64) {
	l.log.Info("synthesis progress", slog.Float64("percent", percent))
}

func (l *Logger) Error(message string) {
	l.log.Error("synthesis failed", slog.String("reason", message))
}

func (l *Logger) PlaybackState(playing bool) {
	l.log.Info("playback state changed", slog.Bool("playing", playing))
}

func (l *Logger) Finished() {
	l.log.Info("synthesis finished")
}

// Multi fans notifications out to several sinks in order.
func Multi(sinks ...Notifier) Notifier {
	return multi(sinks)
}

type multi []Notifier

func (m multi) Progress(percent float64) {
	for _, n := range m {
		n.Progress(percent)
	}
}

func (m multi) Error(message string) {
	for _, n := range m {
		n.Error(message)
	}
}

func (m multi) PlaybackState(playing bool) {
	for _, n := range m {
		n.PlaybackState(playing)
	}
}

func (m multi) Finished() {
	for _, n := range m {
		n.Finished()
	}
}

// EventKind labels a recorded notification.
type EventKind string

const (
	KindProgress EventKind = "progress"
	KindError    EventKind = "error"
	KindPlayback EventKind = "playback"
	KindFinished EventKind = "finished"
)

// Event is one recorded notification.
type Event struct {
	Kind    EventKind
	Percent float64
	Message string
	Playing bool
}

// Collector records notifications in order for inspection in tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) Progress(percent float64) {
	c.append(Event{Kind: KindProgress, Percent: percent})
}

func (c *Collector) Error(message string) {
	c.append(Event{Kind: KindError, Message: message})
}

func (c *Collector) PlaybackState(playing bool) {
	c.append(Event{Kind: KindPlayback, Playing: playing})
}

func (c *Collector) Finished() {
	c.append(Event{Kind: KindFinished})
}

func (c *Collector) append(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

// Events returns a copy of everything recorded so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Progresses returns the recorded progress percentages in order.
func (c *Collector) Progresses() []float64 {
	var out []float64
	for _, e := range c.Events() {
		if e.Kind == KindProgress {
			out = append(out, e.Percent)
		}
	}
	return out
}

// Errors returns the recorded error messages in order.
func (c *Collector) Errors() []string {
	var out []string
	for _, e := range c.Events() {
		if e.Kind == KindError {
			out = append(out, e.Message)
		}
	}
	return out
}

// PlaybackStates returns the recorded playback transitions in order.
func (c *Collector) PlaybackStates() []bool {
	var out []bool
	for _, e := range c.Events() {
		if e.Kind == KindPlayback {
			out = append(out, e.Playing)
		}
	}
	return out
}

// FinishedCount returns how many completion notifications were recorded.
func (c *Collector) FinishedCount() int {
	n := 0
	for _, e := range c.Events() {
		if e.Kind == KindFinished {
			n++
		}
	}
	return n
}
