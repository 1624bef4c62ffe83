// Package pipeline turns a text into a finished audio file: split into
// chunks, synthesize each over the network, write intermediates, merge,
// clean up. One job runs at a time; starting another aborts the first.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chanterlabs/chanter/internal/assemble"
	"github.com/chanterlabs/chanter/internal/chunker"
	"github.com/chanterlabs/chanter/internal/config"
	"github.com/chanterlabs/chanter/internal/history"
	"github.com/chanterlabs/chanter/internal/notify"
	"github.com/chanterlabs/chanter/internal/player"
	"github.com/chanterlabs/chanter/internal/pricing"
	"github.com/chanterlabs/chanter/internal/speech"
	"github.com/chanterlabs/chanter/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAborted reports a job cancelled before completion.
var ErrAborted = errors.New("synthesis aborted")

// Synthesizer turns one text chunk into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.Request) ([]byte, error)
	SynthesizeTo(ctx context.Context, req speech.Request, w io.Writer) (int64, error)
}

// Merger stores chunk files and joins them into the final output.
type Merger interface {
	WriteChunk(path string, data []byte) error
	Merge(ctx context.Context, files []string, outputPath string) error
	Cleanup(files []string)
}

// Request describes one synthesis job. Zero fields fall back to the
// configured defaults.
type Request struct {
	JobID        string
	Text         string
	Model        string
	Voice        string
	Format       string
	Speed        float64
	OutputPath   string
	RetainChunks bool
}

// Runner executes synthesis jobs one at a time.
type Runner struct {
	cfg        config.SynthesisConfig
	synth      Synthesizer
	merger     Merger
	notifier   notify.Notifier
	log        *slog.Logger
	tracer     trace.Tracer
	chunkLimit int

	estimator *pricing.Estimator
	store     *history.Store
	metrics   *telemetry.PipelineMetrics
	player    *player.Controller

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures optional runner collaborators.
type Option func(*Runner)

// WithHistory records jobs in the given store.
func WithHistory(store *history.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithMetrics counts jobs and chunks.
func WithMetrics(m *telemetry.PipelineMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithEstimator prices jobs for the history record.
func WithEstimator(e *pricing.Estimator) Option {
	return func(r *Runner) { r.estimator = e }
}

// WithPlayer enables Speak.
func WithPlayer(p *player.Controller) Option {
	return func(r *Runner) { r.player = p }
}

// NewRunner wires the pipeline together.
func NewRunner(cfg config.SynthesisConfig, synth Synthesizer, merger Merger, notifier notify.Notifier, log *slog.Logger, opts ...Option) *Runner {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	limit := cfg.ChunkLimit
	if limit <= 0 {
		limit = chunker.DefaultLimit
	}
	r := &Runner{
		cfg:        cfg,
		synth:      synth,
		merger:     merger,
		notifier:   notifier,
		log:        log.With(slog.String("component", "pipeline")),
		tracer:     otel.Tracer("github.com/chanterlabs/chanter/internal/pipeline"),
		chunkLimit: limit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches a job in the background and returns its ID. A job still
// in flight is aborted first and joined for up to one second.
func (r *Runner) Start(parent context.Context, req Request) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	r.mu.Lock()
	prevCancel := r.cancel
	prevDone := r.done
	r.mu.Unlock()

	if prevDone != nil {
		if prevCancel != nil {
			prevCancel()
		}
		select {
		case <-prevDone:
		case <-time.After(time.Second):
			r.log.Warn("previous job did not stop in time", slog.String("job_id", req.JobID))
		}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if err := r.run(ctx, req); err != nil && !errors.Is(err, ErrAborted) {
			r.log.Error("synthesis job failed", slog.String("job_id", req.JobID), slogError(err))
		}
	}()
	return req.JobID, nil
}

// Run executes a job synchronously.
func (r *Runner) Run(ctx context.Context, req Request) error {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	return r.run(ctx, req)
}

// Abort cancels the in-flight job, if any.
func (r *Runner) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the in-flight job completes.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) run(ctx context.Context, req Request) error {
	ctx, span := r.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("job_id", req.JobID)))
	defer span.End()

	req = r.normalize(req)
	if strings.TrimSpace(req.Text) == "" {
		err := errors.New("nothing to synthesize")
		r.notifier.Error(err.Error())
		return err
	}

	chunks := chunker.Split(req.Text, r.chunkLimit)
	total := len(chunks)
	span.SetAttributes(attribute.Int("chunks", total))

	r.metrics.JobStarted(ctx)
	r.recordStart(ctx, req, total)
	r.log.Info("synthesis started",
		slog.String("job_id", req.JobID),
		slog.Int("characters", utf8.RuneCountInString(req.Text)),
		slog.Int("chunks", total),
		slog.String("model", req.Model))

	files := make([]string, 0, total)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			r.merger.Cleanup(files)
			return r.fail(ctx, req, history.StatusAborted, ErrAborted)
		}
		r.notifier.Progress(float64(i) / float64(total) * 100)

		began := time.Now()
		audio, err := r.synth.Synthesize(ctx, speech.Request{
			Model:  req.Model,
			Input:  chunk,
			Voice:  req.Voice,
			Format: req.Format,
			Speed:  req.Speed,
		})
		if err != nil {
			r.merger.Cleanup(files)
			if ctx.Err() != nil {
				return r.fail(ctx, req, history.StatusAborted, ErrAborted)
			}
			return r.fail(ctx, req, history.StatusFailed, err)
		}
		r.metrics.ChunkSynthesized(ctx, time.Since(began))

		path := assemble.ChunkPath(req.OutputPath, i, req.Format)
		if err := r.merger.WriteChunk(path, audio); err != nil {
			r.merger.Cleanup(files)
			return r.fail(ctx, req, history.StatusFailed, err)
		}
		files = append(files, path)
	}

	if err := r.merger.Merge(ctx, files, req.OutputPath); err != nil {
		r.merger.Cleanup(files)
		if ctx.Err() != nil {
			return r.fail(ctx, req, history.StatusAborted, ErrAborted)
		}
		return r.fail(ctx, req, history.StatusFailed, err)
	}
	if total > 1 && !req.RetainChunks {
		r.merger.Cleanup(files)
	}

	r.notifier.Progress(100)
	r.notifier.Finished()
	r.metrics.JobFinished(ctx, history.StatusCompleted)
	r.recordComplete(req.JobID, history.StatusCompleted, "")
	r.log.Info("synthesis finished",
		slog.String("job_id", req.JobID),
		slog.String("output", req.OutputPath))
	return nil
}

// Speak synthesizes one short text and plays it through the local player
// instead of writing a file. The text must fit in a single request.
func (r *Runner) Speak(ctx context.Context, req Request) error {
	if r.player == nil {
		return errors.New("no player configured")
	}
	req = r.normalize(req)
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("nothing to synthesize")
	}
	if n := chunker.Count(req.Text, r.chunkLimit); n > 1 {
		return fmt.Errorf("text needs %d synthesis requests; speak plays a single response", n)
	}

	var buf bytes.Buffer
	_, err := r.synth.SynthesizeTo(ctx, speech.Request{
		Model:  req.Model,
		Input:  req.Text,
		Voice:  req.Voice,
		Format: req.Format,
		Speed:  req.Speed,
	}, &buf)
	if err != nil {
		r.notifier.Error(err.Error())
		return err
	}
	return r.player.Play(buf.Bytes(), req.Format)
}

// Player exposes the playback controller for interactive commands.
func (r *Runner) Player() *player.Controller {
	return r.player
}

func (r *Runner) normalize(req Request) Request {
	if req.Model == "" {
		req.Model = r.cfg.Model
	}
	if req.Voice == "" {
		req.Voice = r.cfg.Voice
	}
	if req.Format == "" {
		req.Format = r.cfg.Format
	}
	if req.Speed == 0 {
		req.Speed = r.cfg.Speed
	}
	if req.Speed != 0 && (req.Speed < speech.MinSpeed || req.Speed > speech.MaxSpeed) {
		r.log.Warn("speed out of range, falling back to normal",
			slog.Float64("speed", req.Speed))
		req.Speed = 1.0
	}
	if req.OutputPath == "" {
		req.OutputPath = fmt.Sprintf("speech.%s", req.Format)
	}
	return req
}

func (r *Runner) fail(ctx context.Context, req Request, status string, cause error) error {
	r.notifier.Error(cause.Error())
	r.metrics.JobFinished(ctx, status)
	r.recordComplete(req.JobID, status, cause.Error())
	r.log.Error("synthesis job ended",
		slog.String("job_id", req.JobID),
		slog.String("status", status),
		slogError(cause))
	return cause
}

func (r *Runner) recordStart(ctx context.Context, req Request, chunkCount int) {
	if r.store == nil {
		return
	}
	chars := utf8.RuneCountInString(req.Text)
	var usd float64
	if r.estimator != nil {
		usd = r.estimator.Estimate(chars, speech.Request{Model: req.Model}.HD())
	}
	job := history.Job{
		ID:           req.JobID,
		Model:        req.Model,
		Voice:        req.Voice,
		Format:       req.Format,
		Characters:   chars,
		Chunks:       chunkCount,
		EstimatedUSD: usd,
		OutputPath:   req.OutputPath,
		Status:       history.StatusRunning,
	}
	if err := r.store.Append(ctx, job); err != nil {
		r.log.Warn("failed to record job", slogError(err))
	}
}

// recordComplete uses a fresh context so aborted jobs still get their
// final status written.
func (r *Runner) recordComplete(id, status, errMsg string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Complete(ctx, id, status, errMsg); err != nil {
		r.log.Warn("failed to record job completion", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
