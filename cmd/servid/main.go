package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ardanlabs/conf/v3"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/phbpx/leadsvc"
	"github.com/phbpx/leadsvc/auth"
	"github.com/phbpx/leadsvc/events"
	"github.com/phbpx/leadsvc/handler"
	"github.com/phbpx/leadsvc/pkg/database"
	"github.com/phbpx/leadsvc/pkg/metrics"
	"github.com/phbpx/leadsvc/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var build = "develop"

func main() {

	log, err := newLog("leads-api")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run("leads-api", log); err != nil {
		log.Errorw("startup", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(serviceName string, log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout        time.Duration `conf:"default:5s"`
			WriteTimeout       time.Duration `conf:"default:30s"`
			IdleTimeout        time.Duration `conf:"default:120s"`
			ShutdownTimeout    time.Duration `conf:"default:20s"`
			APIHost            string        `conf:"default:0.0.0.0:8000"`
			DebugHost          string        `conf:"default:0.0.0.0:4000"`
			CORSAllowedOrigins []string      `conf:"default:http://localhost:3000"`
			TrustProxyHeaders  bool          `conf:"default:false"`
		}
		Auth struct {
			AdminUsername     string        `conf:"default:admin"`
			AdminPassword     string        `conf:"mask"`
			AdminPasswordHash string        `conf:"mask"`
			SigningKey        string        `conf:"required,mask"`
			SessionTTL        time.Duration `conf:"default:24h"`
			CookieSecure      bool          `conf:"default:false"`
		}
		DB struct {
			User         string `conf:"default:leadsvc"`
			Password     string `conf:"default:leadsvc,mask"`
			Host         string `conf:"default:localhost"`
			Name         string `conf:"default:leads"`
			MaxIdleConns int    `conf:"default:2"`
			MaxOpenConns int    `conf:"default:10"`
			DisableTLS   bool   `conf:"default:true"`
		}
		Redis struct {
			Addr          string        `conf:"default:localhost:6379"`
			Password      string        `conf:"mask"`
			DB            int           `conf:"default:0"`
			LoginAttempts int           `conf:"default:5"`
			LoginWindow   time.Duration `conf:"default:15m"`
		}
		Kafka struct {
			Brokers []string
			Topic   string `conf:"default:leads.events"`
		}
		Sentry struct {
			DSN         string `conf:"mask"`
			Environment string `conf:"default:development"`
		}
		Jaeger struct {
			ReporterURI string  `conf:"default:http://localhost:14268/api/traces"`
			ServiceName string  `conf:"default:leads-api"`
			Probability float64 `conf:"default:0.5"`
		}
		TimeZone string `conf:"default:UTC"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "lead capture and admin API",
		},
	}

	help, err := conf.Parse("LEADS", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Infow("startup", "status", "starting service", "build", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("loading time zone %q: %w", cfg.TimeZone, err)
	}

	// =========================================================================
	// Error Reporting

	if cfg.Sentry.DSN != "" {
		log.Infow("startup", "status", "initializing sentry support", "environment", cfg.Sentry.Environment)

		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          build,
			AttachStacktrace: true,
		})
		if err != nil {
			return fmt.Errorf("initializing sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// =========================================================================
	// Database Support

	// Create connectivity to the database.
	log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

	db, err := database.Open(database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		DisableTLS:   cfg.DB.DisableTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
		db.Close()
	}()

	// =========================================================================
	// Update database schema

	log.Infow("startup", "status", "updating database schema", "database", cfg.DB.Name, "host", cfg.DB.Host)

	if err := postgres.Migrate(context.Background(), db); err != nil {
		return fmt.Errorf("updating database schema: %w", err)
	}

	// =========================================================================
	// Start Tracing Support

	log.Infow("startup", "status", "initializing OT/Jaeger tracing support")

	traceProvider, err := startTracing(
		cfg.Jaeger.ServiceName,
		cfg.Jaeger.ReporterURI,
		cfg.Jaeger.Probability,
	)
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())

	// =========================================================================
	// Login Throttling

	var throttle *auth.Throttle
	if cfg.Redis.Addr != "" {
		log.Infow("startup", "status", "initializing login throttle", "redis", cfg.Redis.Addr)

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warnw("startup", "status", "redis unreachable, login throttle fails open", "error", err)
		}
		cancel()

		throttle = auth.NewThrottle(rdb, cfg.Redis.LoginAttempts, cfg.Redis.LoginWindow)
	}

	// =========================================================================
	// Event Publishing

	var publisher leadsvc.EventPublisher = events.Discard{}
	if len(cfg.Kafka.Brokers) > 0 {
		log.Infow("startup", "status", "initializing kafka publisher", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)

		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer func() {
			if err := kp.Close(); err != nil {
				log.Errorw("shutdown", "status", "closing kafka publisher", "error", err)
			}
		}()
		publisher = kp
	}

	// =========================================================================
	// Create routers

	log.Infow("startup", "status", "initializing router")

	authenticator, err := auth.New(auth.Config{
		AdminUsername:     cfg.Auth.AdminUsername,
		AdminPassword:     cfg.Auth.AdminPassword,
		AdminPasswordHash: cfg.Auth.AdminPasswordHash,
		SigningKey:        cfg.Auth.SigningKey,
		TTL:               cfg.Auth.SessionTTL,
		CookieSecure:      cfg.Auth.CookieSecure,
	})
	if err != nil {
		return fmt.Errorf("configuring admin auth: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	otelLog := otelzap.New(log.Desugar(), otelzap.WithStackTrace(true)).Sugar()

	apiHandler := handler.NewRouter(handler.Config{
		ServiceName: serviceName,
		Log:         otelLog,
		Leads:       postgres.NewLeadService(db, loc),
		Events:      publisher,
		Auth:        authenticator,
		Throttle:    throttle,
		Metrics:     m,
		Location:    loc,
		CORSOrigins: cfg.Web.CORSAllowedOrigins,
		Sentry:      cfg.Sentry.DSN != "",
		Tracing:     true,

		TrustProxyHeaders: cfg.Web.TrustProxyHeaders,
	})

	debugHandler := handler.NewDebugRouter(handler.DebugConfig{
		Build:   build,
		Log:     otelLog,
		Metrics: m,
		Ready: func(ctx context.Context) error {
			return database.StatusCheck(ctx, db)
		},
	})

	// =========================================================================
	// Start API and Debug Servers

	log.Infow("startup", "status", "initializing http servers")

	api := &http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	debug := &http.Server{
		Addr:         cfg.Web.DebugHost,
		Handler:      debugHandler,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Listen for syscall signals for process to interrupt/quit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Infow("startup", "status", "debug router started", "host", debug.Addr)
		if err := debug.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutdown", "status", "shutdown started")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := debug.Shutdown(shutdownCtx); err != nil {
			log.Errorw("shutdown", "status", "stopping debug server", "error", err)
		}
		if err := api.Shutdown(shutdownCtx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func newLog(serviceName string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

func startTracing(serviceName, reporterURL string, probability float64) (*tracesdk.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(reporterURL)))
	if err != nil {
		return nil, fmt.Errorf("creating new exporter: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(probability))),
		tracesdk.WithBatcher(exp,
			tracesdk.WithMaxExportBatchSize(tracesdk.DefaultMaxExportBatchSize),
			tracesdk.WithBatchTimeout(tracesdk.DefaultScheduleDelay*time.Millisecond),
		),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("exporter", "jaeger"),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp, nil
}
