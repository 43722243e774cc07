package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/config"
	"github.com/Aidin1998/swapengine/internal/server"
	"github.com/Aidin1998/swapengine/internal/swap/adapter"
	"github.com/Aidin1998/swapengine/internal/swap/engine"
	"github.com/Aidin1998/swapengine/internal/swap/events"
	"github.com/Aidin1998/swapengine/internal/swap/mirror"
	"github.com/Aidin1998/swapengine/internal/telemetry"
	"github.com/Aidin1998/swapengine/pkg/errors"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the HTTP API",
		Long: `Start the swap engine against the simulated venue and expose it over HTTP.

Events go to Kafka when kafka.enabled is set and the coordination state is
mirrored to Redis when redis.enabled is set.

Example:
  swapengine serve --config ./swapengine.yaml
  SWAPENGINE_SERVER_ADDRESS=:9000 swapengine serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, log, err := setup(opts)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Tracing:        cfg.Telemetry.Tracing,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	bus, err := newBus(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error("Failed to close event sinks", zap.Error(err))
		}
	}()

	orch, _, err := newEngine(cfg, bus, log)
	if err != nil {
		return err
	}
	orch.Start(ctx)
	defer orch.Stop()

	if cfg.Redis.Enabled {
		client := mirror.NewRedisClient(cfg.Redis)
		defer client.Close()
		go mirror.NewRedisMirror(client, orch, cfg.Redis, log).Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.NewServer(log, orch, cfg.Telemetry.ServiceName).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting API server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited properly")
	return nil
}

// newBus builds the event bus with the sinks enabled in cfg.
func newBus(cfg *config.Config, log *zap.Logger) (*events.Bus, error) {
	var sinks []events.Sink
	if cfg.Kafka.Enabled {
		sinks = append(sinks, events.NewKafkaSink(cfg.Kafka, log))
	}
	if cfg.Telemetry.Metrics {
		counter, err := telemetry.NewEventCounter(otel.Meter("swapengine/events"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, counter)
	}
	return events.NewBus(log, sinks...), nil
}

// newEngine builds an orchestrator executing against the simulated venue.
func newEngine(cfg *config.Config, bus *events.Bus, log *zap.Logger) (*engine.Orchestrator, *adapter.Simulator, error) {
	sim := adapter.NewSimulator(cfg.Simulator, log)
	orch, err := engine.New(cfg.Engine, cfg.Workers.Pool(), engine.Deps{
		Adapter: sim,
		Bus:     bus,
		Logger:  log,
	})
	if err != nil {
		return nil, nil, err
	}
	return orch, sim, nil
}
