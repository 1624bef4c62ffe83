// Package runtime hosts the synthesis pipeline as a long-running service:
// health and metrics endpoints over HTTP, job requests and notifications
// over NATS.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chanterlabs/chanter/internal/assemble"
	"github.com/chanterlabs/chanter/internal/bus"
	"github.com/chanterlabs/chanter/internal/config"
	"github.com/chanterlabs/chanter/internal/credentials"
	"github.com/chanterlabs/chanter/internal/history"
	"github.com/chanterlabs/chanter/internal/natsserver"
	"github.com/chanterlabs/chanter/internal/notify"
	"github.com/chanterlabs/chanter/internal/pipeline"
	"github.com/chanterlabs/chanter/internal/pricing"
	"github.com/chanterlabs/chanter/internal/protocol"
	"github.com/chanterlabs/chanter/internal/speech"
	"github.com/chanterlabs/chanter/internal/telemetry"
	"github.com/nats-io/nats.go"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *history.Store
	runner   *pipeline.Runner
	sub      *nats.Subscription
	jobCtx   context.Context
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the service up and blocks until ctx is cancelled, then
// shuts everything down in reverse order. An in-flight job is aborted.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.jobCtx = ctx

	shutdownTelemetry, metricsHandler, err := telemetry.Setup(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.embedded = embedded

		busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			r.embedded.Shutdown()
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		r.bus = busClient
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open job history: %w", err)
	}
	r.store = store

	runner, err := r.buildPipeline()
	if err != nil {
		return err
	}
	r.runner = runner

	if r.bus != nil {
		sub, err := r.bus.Conn().Subscribe(protocol.SubjectSynthesisRequest, r.handleSynthesisRequest)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", protocol.SubjectSynthesisRequest, err)
		}
		r.sub = sub
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	if metricsHandler != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metricsHandler)
			r.metricsServer = &http.Server{
				Addr:              bind,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					r.logger.Error("metrics server failed", slogError(err))
				}
			}()
		} else {
			mux.Handle("/metrics", metricsHandler)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	if r.sub != nil {
		_ = r.sub.Drain()
	}
	r.runner.Wait()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("job history close error", slogError(err))
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}

	return nil
}

// buildPipeline assembles the synthesis runner from configuration.
func (r *Runtime) buildPipeline() (*pipeline.Runner, error) {
	key, source, err := credentials.Resolve(".")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API key: %w", err)
	}
	r.logger.Info("API key resolved", slog.String("source", string(source)))

	limiter := speech.NewIntervalLimiter(
		rpmInterval(r.cfg.Client.StandardRPM),
		rpmInterval(r.cfg.Client.HDRPM),
	)
	client := speech.New(key,
		speech.WithBaseURL(r.cfg.Client.BaseURL),
		speech.WithTimeout(time.Duration(r.cfg.Client.TimeoutMS)*time.Millisecond),
		speech.WithMaxAttempts(r.cfg.Client.MaxAttempts),
		speech.WithRetryDelay(time.Duration(r.cfg.Client.RetryDelayMS)*time.Millisecond),
		speech.WithLimiter(limiter),
		speech.WithLogger(r.logger),
	)

	merger, err := assemble.New(r.cfg.Assembler.Command, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build assembler: %w", err)
	}

	sinks := []notify.Notifier{notify.NewLogger(r.logger)}
	if r.bus != nil {
		sinks = append(sinks, notify.NewBus(r.bus, r.logger))
	}

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		r.logger.Warn("failed to initialize pipeline metrics", slogError(err))
		metrics = nil
	}

	estimator := pricing.Estimator{
		BlockChars:    r.cfg.Pricing.BlockChars,
		USDPerBlock:   r.cfg.Pricing.USDPerBlock,
		USDPerBlockHD: r.cfg.Pricing.USDPerBlockHD,
	}

	return pipeline.NewRunner(r.cfg.Synthesis, client, merger, notify.Multi(sinks...), r.logger,
		pipeline.WithHistory(r.store),
		pipeline.WithMetrics(metrics),
		pipeline.WithEstimator(&estimator),
	), nil
}

func (r *Runtime) handleSynthesisRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.logger.Warn("failed to decode synthesis request", slogError(err))
		return
	}

	id, err := r.runner.Start(r.jobCtx, pipeline.Request{
		JobID:        req.JobID,
		Text:         req.Text,
		Model:        req.Model,
		Voice:        req.Voice,
		Format:       req.Format,
		Speed:        req.Speed,
		OutputPath:   req.OutputPath,
		RetainChunks: req.RetainChunks,
	})
	if err != nil {
		r.logger.Warn("failed to start synthesis job", slogError(err))
		return
	}
	r.logger.Info("synthesis job accepted", slog.String("job_id", id))
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func rpmInterval(rpm int) time.Duration {
	if rpm <= 0 {
		return 0
	}
	return time.Minute / time.Duration(rpm)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
