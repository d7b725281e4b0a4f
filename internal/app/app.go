// Package app assembles the service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcapi "anamnesis-transcript-service/internal/api/grpc"
	"anamnesis-transcript-service/internal/config"
	"anamnesis-transcript-service/internal/events"
	httpapi "anamnesis-transcript-service/internal/http"
	"anamnesis-transcript-service/internal/observability"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/observability/metrics"
	"anamnesis-transcript-service/internal/schema"
	"anamnesis-transcript-service/internal/service/buffer"
	"anamnesis-transcript-service/internal/service/dispatch"
	"anamnesis-transcript-service/internal/service/extract"
	"anamnesis-transcript-service/internal/service/gate"
	"anamnesis-transcript-service/internal/service/record"
	"anamnesis-transcript-service/internal/service/session"
	"anamnesis-transcript-service/internal/service/stt"
	"anamnesis-transcript-service/internal/service/stt/google"
	"anamnesis-transcript-service/internal/service/stt/mock"
	"anamnesis-transcript-service/internal/store"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Schema    *schema.Schema
	Store     store.Store
	Publisher *events.Publisher
	Hub       *events.Hub
	Registry  *session.Registry

	pool    *pgxpool.Pool
	closers []func() error

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	obsServer  *observability.Server
}

// New constructs the Application. Schema and storage errors are fatal.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	sc, err := loadSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	a.Schema = sc

	transcriber, err := a.newTranscriber(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:            cfg.Kafka.Enabled,
		Brokers:            cfg.Kafka.Brokers,
		TopicTranscription: cfg.Kafka.TopicTranscription,
		TopicDelta:         cfg.Kafka.TopicDelta,
		TopicStatus:        cfg.Kafka.TopicStatus,
		Principal:          cfg.Kafka.Principal,
	})
	a.Hub = events.NewHub(metrics.DefaultMetrics)

	a.Registry = session.NewRegistry(session.Deps{
		Schema: sc,
		Gate: gate.New(gate.Config{
			MinLength:         cfg.Gate.MinLength,
			MinConfidence:     cfg.Gate.MinConfidence,
			RepetitionRatio:   cfg.Gate.RepetitionRatio,
			DuplicateRatio:    cfg.Gate.DuplicateRatio,
			MinSentenceLength: cfg.Gate.MinSentenceLength,
		}),
		Extractor: extract.New(sc, extract.Config{
			MinConfidence: cfg.Extractor.MinConfidence,
			MaxConfidence: cfg.Extractor.MaxConfidence,
			Boosts:        extract.DefaultBoostRules(),
		}),
		Machine: record.NewMachine(record.Thresholds{
			AutoFill: cfg.Record.AutoFillThreshold,
			Suggest:  cfg.Record.SuggestThreshold,
		}),
		STT:      transcriber,
		Store:    a.Store,
		Notifier: events.Fanout{a.Publisher, a.Hub},
		Metrics:  metrics.DefaultMetrics,
	}, sessionConfig(cfg))

	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, a.Registry, metrics.DefaultMetrics)
	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(a.grpcServer)

	handler := httpapi.NewHandler(a.Registry, a.Hub, metrics.DefaultMetrics)
	a.httpServer = &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           httpapi.NewRouter(handler, a.ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.obsServer = observability.NewServer(":"+cfg.Observability.MetricsPort, a.ready)

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("postgres", cfg.Postgres.DSN != "").
		Int("schemaFields", len(sc.Fields())).
		Msg("Anamnesis transcript service application created")
	return a, nil
}

func loadSchema(cfg config.SchemaConfig) (*schema.Schema, error) {
	if cfg.Path == "" {
		return schema.LoadDefault()
	}
	return schema.Load(cfg.Path)
}

func (a *Application) newTranscriber(ctx context.Context) (stt.Transcriber, error) {
	c := a.Cfg.STT
	switch c.Provider {
	case "google":
		g, err := google.New(ctx, google.Config{
			LanguageCode:    c.LanguageCode,
			SampleRateHz:    int32(c.SampleRateHz),
			AudioEncoding:   c.AudioEncoding,
			Model:           c.Model,
			CredentialsFile: c.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	case "mock", "":
		return mock.New(mock.WithLatency(c.MockLatency)), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", c.Provider)
	}
}

// openStore connects Postgres when a DSN is configured and keeps records in
// memory otherwise.
func (a *Application) openStore(ctx context.Context) error {
	c := a.Cfg.Postgres
	if c.DSN == "" {
		a.Logger.Warn().Msg("POSTGRES_DSN not set, records are kept in memory only")
		a.Store = store.NewMemoryStore()
		return nil
	}
	pool, err := store.NewPool(ctx, c.DSN, int32(c.MaxConns))
	if err != nil {
		return err
	}
	a.pool = pool
	ps := store.NewPostgresStore(pool)
	if c.Migrate {
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
	}
	a.Store = ps
	return nil
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.Buffer = buffer.Config{
		MaxChars: cfg.Buffer.MaxChars,
		MaxWait:  cfg.Buffer.MaxWait,
		Debounce: cfg.Buffer.Debounce,
	}
	sc.Dispatch = dispatch.Config{
		ChunkWindow: cfg.Dispatch.ChunkWindow,
		QueueSize:   cfg.Dispatch.QueueSize,
		STTTimeout:  cfg.STT.Timeout,
		Limits: dispatch.ChunkLimits{
			MinBytes: cfg.Dispatch.MinChunkBytes,
			MaxBytes: cfg.Dispatch.MaxChunkBytes,
		},
		Provider: cfg.STT.Provider,
	}
	sc.AutoAdvance = cfg.Session.AutoAdvance
	sc.AutoAdvanceDelay = cfg.Session.AutoAdvanceDelay
	sc.SilenceTimeout = cfg.Session.SilenceTimeout
	sc.WatchdogInterval = cfg.Session.WatchdogInterval
	return sc
}

func (a *Application) ready(ctx context.Context) error {
	if a.Store == nil {
		return errors.New("store not initialised")
	}
	return a.Store.Ping(ctx)
}

// Run serves gRPC, HTTP and the observability endpoints until ctx is done or
// a server fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("grpcPort", a.Cfg.Service.GRPCPort).
		Str("httpPort", a.Cfg.Service.HTTPPort).
		Msg("Anamnesis transcript service starting")

	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.obsServer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

// Shutdown stops accepting traffic, closes every consultation so buffered
// text is extracted and persisted, then releases the collaborators.
func (a *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.Service.ShutdownTimeout)
	defer cancel()
	a.Logger.Info().Int("sessions", a.Registry.Len()).Msg("Anamnesis transcript service shutting down")

	var errs []error
	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}

	closeCtx, closeCancel := context.WithTimeout(ctx, a.Cfg.Session.CloseTimeout)
	if err := a.Registry.CloseAll(closeCtx); err != nil {
		errs = append(errs, fmt.Errorf("close sessions: %w", err))
	}
	closeCancel()

	a.Hub.Close()
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.obsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Application) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}
