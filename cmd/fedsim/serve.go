package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/absmach/fedsim/experiment"
	"github.com/absmach/fedsim/experiment/api"
	"github.com/absmach/fedsim/experiment/middleware"
	"github.com/absmach/fedsim/pkg/events"
	"github.com/absmach/fedsim/pkg/mqtt"
	"github.com/absmach/fedsim/pkg/storage"
	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName     = "fedsim"
	defHTTPPort = "9090"
	pathEnv     = ".env"
)

type serveConfig struct {
	LogLevel      string         `env:"FEDSIM_LOG_LEVEL"            envDefault:"info"`
	InstanceID    string         `env:"FEDSIM_INSTANCE_ID"`
	EventsEnabled bool           `env:"FEDSIM_EVENTS_ENABLED"       envDefault:"false"`
	TopicPrefix   string         `env:"FEDSIM_EVENTS_TOPIC_PREFIX"  envDefault:"fedsim"`
	OTELURL       url.URL        `env:"FEDSIM_OTEL_URL"`
	TraceRatio    float64        `env:"FEDSIM_TRACE_RATIO"          envDefault:"0"`
	Storage       storage.Config `envPrefix:"FEDSIM_"`
	MQTT          mqtt.Config    `envPrefix:"FEDSIM_"`
	Server        server.Config  `envPrefix:"FEDSIM_HTTP_"`
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the experiment service",
		Long: `Serve the experiment HTTP API. Configuration is read from FEDSIM_* environment
variables and an optional .env file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			return startServer(ctx, cancel, cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port (overrides FEDSIM_HTTP_PORT)")

	return cmd
}

func loadServeConfig() (serveConfig, error) {
	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := serveConfig{}
	if err := env.Parse(&cfg); err != nil {
		return serveConfig{}, fmt.Errorf("failed to load configuration : %w", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = defHTTPPort
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	return cfg, nil
}

func startServer(ctx context.Context, cancel context.CancelFunc, cfg serveConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	tp, shutdownTracer, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("error shutting down tracer provider", slog.Any("error", err))
		}
	}()
	tracer := tp.Tracer(svcName)

	db, closer, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %s", err.Error())
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error("error closing storage", slog.Any("error", err))
		}
	}()

	emitter := events.NewNoop()
	if cfg.EventsEnabled {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = svcName + "-" + cfg.InstanceID
		}
		if cfg.MQTT.WillTopic == "" {
			cfg.MQTT.WillTopic = fmt.Sprintf("%s/instances/%s", cfg.TopicPrefix, cfg.InstanceID)
		}
		ps, err := mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt pubsub: %s", err.Error())
		}
		defer func() {
			if err := ps.Disconnect(context.Background()); err != nil {
				logger.Error("error disconnecting mqtt", slog.Any("error", err))
			}
		}()
		emitter = events.NewMQTTEmitter(ps, cfg.TopicPrefix)
	}

	svc := experiment.NewService(db, emitter, logger)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	hs := httpserver.NewServer(ctx, cancel, svcName, cfg.Server, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}

	if err := svc.Shutdown(context.Background()); err != nil {
		logger.Error("error stopping running experiments", slog.Any("error", err))
	}

	return nil
}

// newTracerProvider exports spans to cfg.OTELURL, or discards them when no
// collector is configured.
func newTracerProvider(ctx context.Context, cfg serveConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg.OTELURL == (url.URL{}) {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	tp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
	if err != nil {
		return nil, nil, err
	}

	return tp, tp.Shutdown, nil
}
