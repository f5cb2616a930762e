// Package bridge assembles the AudioSocket transport, the call manager, the
// vendor collaborators and the metrics endpoint into one process.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/harunnryd/callbridge/pkg/audio"
	"github.com/harunnryd/callbridge/pkg/call"
	"github.com/harunnryd/callbridge/pkg/conversation"
	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/llm"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/metrics"
	"github.com/harunnryd/callbridge/pkg/observers"
	"github.com/harunnryd/callbridge/pkg/redact"
	"github.com/harunnryd/callbridge/pkg/resilience"
	"github.com/harunnryd/callbridge/pkg/runner"
	"github.com/harunnryd/callbridge/pkg/transports/audiosocket"
	"golang.org/x/sync/errgroup"
)

type EngineOptions struct {
	Config Config
	// Providers defaults to DefaultProviders().
	Providers *ProviderRegistry
	Logger    *slog.Logger
	// Banner receives the startup banner; nil disables it.
	Banner io.Writer
}

type Engine struct {
	cfg        Config
	log        *slog.Logger
	transport  *audiosocket.Transport
	manager    *call.Manager
	async      *metrics.AsyncObserver
	lifecycle  *runner.LifecycleRunner
	metricsSrv *http.Server
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	log.Info("callbridge_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"listen_addr", cfg.TransportConfig().Addr(),
	)

	transcriber, err := providers.BuildSTT(cfg.Vendors.STT)
	if err != nil {
		return nil, fmt.Errorf("build stt: %w", err)
	}
	synthesizer, err := providers.BuildTTS(cfg.Vendors.TTS)
	if err != nil {
		return nil, fmt.Errorf("build tts: %w", err)
	}
	adapter, err := providers.BuildLLM(cfg.Vendors.LLM)
	if err != nil {
		return nil, fmt.Errorf("build llm: %w", err)
	}
	clip, err := LoadGreetingClip(cfg.Conversation.GreetingClip)
	if err != nil {
		return nil, err
	}

	prom := observers.NewPrometheusObserver()
	multi := observers.NewMultiObserver(
		prom,
		observers.NewLatencyObserver(log),
		observers.NewLoggerObserver(log),
	)
	async := metrics.NewAsyncObserver(multi, cfg.Metrics.Buffer)

	breaker := llm.NewCircuitBreakerAdapter(adapter, resilience.NewCircuitBreaker(
		cfg.Resilience.BreakerThreshold,
		ms(cfg.Resilience.BreakerCooldownMS),
	))
	breaker.SetObserver(async)
	responder := conversation.NewResponder(breaker, cfg.ResponderConfig(), log)
	responder.SetObserver(async)

	transport := audiosocket.New(cfg.TransportConfig(), log)
	manager := call.NewManager(transport, call.Collaborators{
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: synthesizer,
	}, cfg.CallConfig(clip), log)
	manager.SetObserver(async)

	e := &Engine{
		cfg:       cfg,
		log:       logging.NewComponentLogger(log, "engine"),
		transport: transport,
		manager:   manager,
		async:     async,
	}
	if strings.TrimSpace(cfg.Metrics.Addr) != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		mux.HandleFunc("/health", e.handleHealth)
		e.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	drainTimeout := ms(cfg.Shutdown.DrainTimeoutMS)
	e.lifecycle = runner.NewLifecycleRunner(runner.DrainerFunc(e.drain), runner.Hooks{
		OnStart: e.onStart,
		OnStop:  e.onStop,
	}, drainTimeout)
	e.lifecycle.Banner = opts.Banner
	e.lifecycle.Title = "CALLBRIDGE"
	return e, nil
}

// Run serves calls until ctx ends, then hangs up live calls and drains. Calls
// run on a context detached from ctx so the drain can end them cleanly.
func (e *Engine) Run(ctx context.Context) error {
	serveCtx, stopServe := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServe()

	if err := e.transport.Start(serveCtx); err != nil {
		return err
	}
	var metricsLn net.Listener
	if e.metricsSrv != nil {
		ln, err := net.Listen("tcp", e.metricsSrv.Addr)
		if err != nil {
			_ = e.transport.Stop()
			return errorsx.Wrap(fmt.Errorf("metrics listen %s: %w", e.metricsSrv.Addr, err), errorsx.ReasonTransportListen)
		}
		metricsLn = ln
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopServe()
		return e.lifecycle.Run(gctx)
	})
	g.Go(func() error {
		return e.manager.Run(serveCtx)
	})
	if metricsLn != nil {
		g.Go(func() error {
			e.log.Info("metrics_listening", "addr", metricsLn.Addr().String())
			if err := e.metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return e.metricsSrv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func (e *Engine) drain(ctx context.Context) error {
	e.log.Info("callbridge_draining", "active_calls", e.manager.Count())
	_ = e.transport.Stop()
	err := e.manager.Close(ctx)

	done := make(chan struct{})
	go func() {
		e.transport.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (e *Engine) onStart() {
	fields := []any{"message", "callbridge ready"}
	for k, v := range e.transport.ReadyFields() {
		fields = append(fields, k, v)
	}
	e.log.Info("engine_ready", fields...)
}

func (e *Engine) onStop() {
	e.async.Close()
	e.log.Info("shutdown",
		"goroutines", runtime.NumGoroutine(),
		"active_calls", e.manager.Count(),
		"dropped_events", e.async.Dropped(),
	)
}

func (e *Engine) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := e.lifecycle.State()
	status := http.StatusOK
	if state != runner.StateRunning {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"state":        state.String(),
		"active_calls": e.manager.Count(),
		"sessions":     len(e.transport.Sessions()),
	})
}

// Addr is the bound AudioSocket address once Run has started.
func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

func (e *Engine) Manager() *call.Manager { return e.manager }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) State() runner.State { return e.lifecycle.State() }

// LoadGreetingClip reads a pre-rendered greeting. WAV files must hold 8 kHz
// mono 16-bit PCM; anything else is taken as raw s16le samples. An empty
// path means no clip.
func LoadGreetingClip(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("greeting clip: %w", err), errorsx.ReasonConfigInvalid)
	}
	pcm, format, err := audio.DecodeWAV(data)
	switch {
	case errors.Is(err, audio.ErrNotWAV):
		pcm = data
	case err != nil:
		return nil, errorsx.Wrap(fmt.Errorf("greeting clip %s: %w", path, err), errorsx.ReasonConfigInvalid)
	case format != audio.TelephonyFormat:
		return nil, errorsx.Wrap(fmt.Errorf("greeting clip %s: want %+v, got %+v", path, audio.TelephonyFormat, format), errorsx.ReasonConfigInvalid)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, errorsx.Wrap(fmt.Errorf("greeting clip %s: %d bytes is not whole s16 samples", path, len(pcm)), errorsx.ReasonConfigInvalid)
	}
	return pcm, nil
}
