// Package player drives local audio playback through an external player
// process and exposes pause, resume, and abort controls. Commands travel
// over a channel into the playback loop, so a pause issued between audio
// units always lands before the next unit is written.
package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chanterlabs/chanter/internal/config"
	"github.com/chanterlabs/chanter/internal/notify"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

const (
	// DefaultCommand reads audio from stdin and exits when the stream ends.
	DefaultCommand = "ffplay -autoexit -nodisp -loglevel error -"

	// DefaultUnit is the target duration of one audio unit.
	DefaultUnit = 200 * time.Millisecond

	fallbackUnitBytes = 32 * 1024
)

// State is the playback lifecycle position.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateFinished
	StateAborted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func terminal(s State) bool {
	switch s {
	case StateFinished, StateAborted, StateErrored:
		return true
	}
	return false
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdAbort
)

// Output consumes audio units. Implementations are single-use: one Start,
// any number of Writes, one Close.
type Output interface {
	Start(ctx context.Context, format string) error
	Write(unit []byte) error
	Close() error
}

// Controller runs at most one playback session at a time. Starting a new
// session aborts the previous one and waits for it to wind down.
type Controller struct {
	newOutput func() Output
	unit      time.Duration
	notifier  notify.Notifier
	log       *slog.Logger

	mu       sync.Mutex
	state    State
	commands chan command
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option overrides a controller collaborator.
type Option func(*Controller)

// WithOutput replaces how sessions open their audio output. The default
// spawns the configured player command.
func WithOutput(factory func() Output) Option {
	return func(c *Controller) { c.newOutput = factory }
}

// New builds a controller that pipes audio into the configured player
// command.
func New(cfg config.PlayerConfig, notifier notify.Notifier, log *slog.Logger, opts ...Option) (*Controller, error) {
	command := cfg.Command
	if command == "" {
		command = DefaultCommand
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command is empty")
	}

	unit := time.Duration(cfg.UnitMS) * time.Millisecond
	if unit <= 0 {
		unit = DefaultUnit
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	logger := log.With(slog.String("component", "player"))
	c := &Controller{
		unit:     unit,
		notifier: notifier,
		log:      logger,
		state:    StateIdle,
	}
	c.newOutput = func() Output {
		return &execOutput{args: args, log: logger}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Play starts a new playback session. Any session still running is
// aborted first and joined for up to one second.
func (c *Controller) Play(audio []byte, format string) error {
	if len(audio) == 0 {
		return errors.New("no audio to play")
	}

	c.mu.Lock()
	prevDone := c.done
	prevCancel := c.cancel
	c.mu.Unlock()

	if prevDone != nil {
		if prevCancel != nil {
			prevCancel()
		}
		select {
		case <-prevDone:
		case <-time.After(time.Second):
			c.log.Warn("previous playback did not stop in time")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StatePlaying
	c.commands = make(chan command, 8)
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.notifier.PlaybackState(true)
	go c.run(ctx, cancel, audio, format, done)
	return nil
}

// Pause stops feeding audio after the unit currently in flight. No-op
// unless playing.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	select {
	case c.commands <- cmdPause:
	default:
	}
}

// Resume continues a paused session. No-op unless paused.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return
	}
	select {
	case c.commands <- cmdResume:
	default:
	}
}

// Abort stops the current session. Safe to call repeatedly and from any
// state; only the first call on a live session has an effect.
func (c *Controller) Abort() {
	c.mu.Lock()
	cancel := c.cancel
	commands := c.commands
	state := c.state
	c.mu.Unlock()

	if cancel == nil || terminal(state) || state == StateIdle {
		return
	}
	select {
	case commands <- cmdAbort:
	default:
	}
	cancel()
}

// State reports the current lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the current session reaches a terminal state.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, audio []byte, format string, done chan struct{}) {
	defer close(done)
	defer cancel()

	out := c.newOutput()
	if err := out.Start(ctx, format); err != nil {
		c.finish(done, StateErrored, fmt.Sprintf("start audio output: %v", err))
		return
	}
	defer func() {
		if err := out.Close(); err != nil {
			c.log.Debug("audio output close", slog.String("error", err.Error()))
		}
	}()

	units := splitUnits(audio, format, c.unit)
	paused := false

	for i := 0; i < len(units); {
		if paused {
			select {
			case <-ctx.Done():
				c.finish(done, StateAborted, "")
				return
			case cmd := <-c.commands:
				switch cmd {
				case cmdResume:
					paused = false
					c.setState(done, StatePlaying)
					c.notifier.PlaybackState(true)
				case cmdAbort:
					c.finish(done, StateAborted, "")
					return
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			c.finish(done, StateAborted, "")
			return
		case cmd := <-c.commands:
			switch cmd {
			case cmdPause:
				paused = true
				c.setState(done, StatePaused)
				c.notifier.PlaybackState(false)
			case cmdAbort:
				c.finish(done, StateAborted, "")
				return
			}
			continue
		default:
		}

		if err := out.Write(units[i]); err != nil {
			if ctx.Err() != nil {
				c.finish(done, StateAborted, "")
				return
			}
			c.finish(done, StateErrored, fmt.Sprintf("write audio: %v", err))
			return
		}
		i++
	}

	c.finish(done, StateFinished, "")
}

// setState updates the lifecycle position unless the session was replaced
// or already terminal.
func (c *Controller) setState(done chan struct{}, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != done || terminal(c.state) {
		return
	}
	c.state = state
}

// finish records the terminal state and delivers the terminal
// notification exactly once per session.
func (c *Controller) finish(done chan struct{}, state State, errMsg string) {
	c.mu.Lock()
	if c.done != done || terminal(c.state) {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.notifier.PlaybackState(false)
	if state == StateErrored {
		c.log.Error("playback failed", slog.String("error", errMsg))
		c.notifier.Error(errMsg)
		return
	}
	c.log.Info("playback ended", slog.String("state", state.String()))
	c.notifier.Finished()
}

// splitUnits slices audio into units of roughly the target duration. WAV
// headers carry the byte rate; other formats fall back to a fixed size.
func splitUnits(audio []byte, format string, unit time.Duration) [][]byte {
	size := unitSize(audio, format, unit)
	units := make([][]byte, 0, len(audio)/size+1)
	for len(audio) > size {
		units = append(units, audio[:size])
		audio = audio[size:]
	}
	if len(audio) > 0 {
		units = append(units, audio)
	}
	return units
}

func unitSize(audio []byte, format string, unit time.Duration) int {
	if !strings.EqualFold(format, "wav") {
		return fallbackUnitBytes
	}
	dec := wav.NewDecoder(bytes.NewReader(audio))
	dec.ReadInfo()
	if dec.Err() != nil || dec.AvgBytesPerSec == 0 {
		return fallbackUnitBytes
	}
	size := int(time.Duration(dec.AvgBytesPerSec) * unit / time.Second)
	if size <= 0 {
		return fallbackUnitBytes
	}
	return size
}
