package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/natsserver"
	"github.com/loqalabs/loqa-tts/internal/server"
	"github.com/loqalabs/loqa-tts/internal/speech"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	eventStore  *eventstore.Store
	natsServer  *natsserver.EmbeddedServer
	busClient   *bus.Client
	responder   *speech.Responder
	registry    *capability.Registry
	ready       atomic.Bool
	addr        atomic.Value
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Ready reports whether the HTTP listener is accepting requests.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Addr is the bound HTTP address once the runtime is ready.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// Start brings the node up, serves until ctx is cancelled, then shuts down in
// reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.shutdown()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	model, err := LoadVoice(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to load voice: %w", err)
	}

	synth, err := tts.New(r.cfg.TTS, model)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.eventStore = store
	if err := store.Ensure(); err != nil {
		return fmt.Errorf("event store misconfigured: %w", err)
	}

	svc := speech.NewService(synth, speech.Options{
		Voice:          model.Name,
		Gap:            speech.GapMillis(r.cfg.TTS.GapMS),
		MaxConcurrency: r.cfg.TTS.MaxConcurrency,
		Store:          store,
		Logger:         r.logger,
	})

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, svc, model); err != nil {
			return err
		}
	}

	srv := server.New(svc, server.Options{
		Config:  r.cfg.HTTP,
		Voice:   model.Info(),
		Metrics: metricsHandler,
		Ready:   r.healthy,
		Logger:  r.logger,
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: time.Duration(r.cfg.HTTP.ReadHeaderTimeoutMS) * time.Millisecond,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.addr.Store(listener.Addr().String())
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", listener.Addr().String()),
		slog.String("voice", model.Name),
		slog.Int("sample_rate", synth.SampleRate()),
		slog.String("mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startBus(ctx context.Context, svc *speech.Service, model *voice.Model) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		r.natsServer = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = client

	r.responder = speech.NewResponder(ctx, svc, client, r.cfg.Node.ID,
		time.Duration(busCfg.RequestTimeoutMS)*time.Millisecond, r.logger)
	if err := r.responder.Start(); err != nil {
		return fmt.Errorf("failed to start bus responder: %w", err)
	}

	local := []capability.Capability{capability.TTS(model.Name, model.SampleRate)}
	registry, err := capability.NewRegistry(ctx, r.cfg.Node, local, client, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry
	return nil
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.busClient.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.registry != nil {
		r.registry.Close()
	}
	if r.responder != nil {
		r.responder.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if r.eventStore != nil {
		if err := r.eventStore.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
