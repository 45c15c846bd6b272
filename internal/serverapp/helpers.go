package serverapp

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crm-graphql/internal/config"
	"crm-graphql/internal/files"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/middleware"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/observability"
	"crm-graphql/internal/schemarefresh"
	"crm-graphql/internal/token"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// pgxDriverName is the database/sql driver registered by pgx/v5/stdlib.
const pgxDriverName = "pgx"

// appMetrics groups the instruments created at startup. Every field is nil
// when metrics are disabled.
type appMetrics struct {
	meterProvider *observability.MeterProvider
	graphql       *observability.GraphQLMetrics
	schemaRefresh *observability.SchemaRefreshMetrics
	security      *observability.SecurityMetrics
	runner        *observability.RunnerMetrics
}

func otlpExporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

// InitLogger builds the process logger. With log exports enabled the logger
// also feeds an OTLP logger provider, which the caller must shut down.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     otlpExporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (appMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return appMetrics{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return appMetrics{}, err
	}

	m := appMetrics{meterProvider: meterProvider}
	if m.graphql, err = observability.NewGraphQLMetrics(); err != nil {
		return appMetrics{}, err
	}
	if m.schemaRefresh, err = observability.NewSchemaRefreshMetrics(); err != nil {
		return appMetrics{}, err
	}
	if m.security, err = observability.NewSecurityMetrics(); err != nil {
		return appMetrics{}, err
	}
	if m.runner, err = observability.NewRunnerMetrics(); err != nil {
		return appMetrics{}, err
	}
	logger.Info("OpenTelemetry metrics initialized")
	return m, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       otlpExporterConfig(tracesConfig),
	})
	if err != nil {
		return nil, err
	}
	return tracerProvider, nil
}

// connectDB opens the shared pool through pgx. With metrics or tracing on,
// the driver is wrapped by otelsql.
func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(pgxDriverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{otelsql.WithAttributes(semconv.DBSystemPostgreSQL)}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	db, err := otelsql.Open(pgxDriverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("metadata_schema", cfg.Database.MetadataSchema),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the database answers or ConnectionTimeout
// elapses. A zero timeout tries once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 30*time.Second)
	}
}

func startSchemaManager(cfg *config.Config, logger *logging.Logger, c *components, metrics appMetrics) (*schemarefresh.Manager, context.CancelFunc, error) {
	manager, err := schemarefresh.NewManager(schemarefresh.Config{
		Metadata:         c.objects,
		Runner:           c.runner,
		Naming:           naming.DefaultConfig(),
		UserID:           middleware.UserIDFromContext,
		Logger:           logger,
		Metrics:          metrics.schemaRefresh,
		GraphiQL:         cfg.Server.GraphiQLEnabled,
		IdleTimeout:      cfg.Metadata.SchemaIdleTimeout,
		WorkspaceFromCtx: middleware.WorkspaceFromContext,
	})
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	return manager, cancel, nil
}

func oidcAuthConfig(cfg *config.Config) middleware.OIDCAuthConfig {
	return middleware.OIDCAuthConfig{
		Enabled:        cfg.Server.Auth.OIDCEnabled,
		IssuerURL:      cfg.Server.Auth.OIDCIssuerURL,
		Audience:       cfg.Server.Auth.OIDCAudience,
		ClockSkew:      cfg.Server.Auth.OIDCClockSkew,
		SkipTLSVerify:  cfg.Server.Auth.OIDCSkipTLSVerify,
		CAFile:         cfg.Server.Auth.OIDCCAFile,
		WorkspaceClaim: cfg.Server.Auth.OIDCWorkspaceClaim,
	}
}

func authMiddleware(cfg *config.Config, logger *logging.Logger, tokens *token.Service, metrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	if cfg.Server.Auth.OIDCEnabled {
		logger.Info("OIDC auth middleware enabled", slog.String("issuer", cfg.Server.Auth.OIDCIssuerURL))
		return middleware.OIDCAuthMiddleware(oidcAuthConfig(cfg), logger, metrics)
	}
	logger.Info("access token auth middleware enabled")
	return middleware.AccessTokenAuthMiddleware(tokens, metrics)
}

// buildGraphQLHandler assembles the /graphql chain:
//
//	logging -> auth -> rate limit -> request parsing -> metrics -> tracing -> workspace schema
//
// The rate limiter runs after auth so buckets are keyed on the workspace.
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, manager http.Handler, tokens *token.Service, metrics appMetrics) (http.Handler, error) {
	handler := middleware.GraphQLTracingMiddleware()(manager)

	if metrics.graphql != nil {
		handler = middleware.GraphQLMetricsMiddleware(metrics.graphql)(handler)
		logger.Info("GraphQL metrics middleware enabled")
	}
	handler = middleware.GraphQLRequestMiddleware()(handler)

	if cfg.Server.RateLimitEnabled {
		var onLimited middleware.RateLimitedFunc
		if metrics.graphql != nil {
			onLimited = metrics.graphql.RecordRateLimited
		}
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled: cfg.Server.RateLimitEnabled,
			RPS:     cfg.Server.RateLimitRPS,
			Burst:   cfg.Server.RateLimitBurst,
			IdleTTL: 10 * time.Minute,
		}, onLimited)(handler)
		logger.Info("rate limiting enabled",
			slog.Float64("rps", cfg.Server.RateLimitRPS),
			slog.Int("burst", cfg.Server.RateLimitBurst),
		)
	}

	auth, err := authMiddleware(cfg, logger, tokens, metrics.security)
	if err != nil {
		return nil, err
	}
	return middleware.LoggingMiddleware(logger)(auth(handler)), nil
}

// buildFilesHandler serves signed attachment URLs. The token in the URL is
// the credential, so no auth middleware is applied.
func buildFilesHandler(cfg *config.Config, logger *logging.Logger, tokens *token.Service, metrics appMetrics) (http.Handler, error) {
	storage, err := files.NewStorage(cfg.Files)
	if err != nil {
		return nil, err
	}
	h := files.NewHandler(storage, tokens, logger)
	h.SetMetrics(metrics.security)
	logger.Info("file storage initialized", slog.String("driver", cfg.Files.Driver))
	return middleware.LoggingMiddleware(logger)(h), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, filesHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	if filesHandler != nil {
		mux.Handle(files.Pattern, filesHandler)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		return handler
	}
	logger.Info("HTTP instrumentation enabled")
	return otelhttp.NewHandler(handler, "http.server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return httpRootSpanName(r)
		}),
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
	)
}

// httpRootSpanName is "<METHOD> <route>".
func httpRootSpanName(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "HTTP /*"
	}
	method := cmp.Or(strings.TrimSpace(r.Method), "HTTP")
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality: file paths carry
// folder and file names and collapse to their route.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch {
	case rawPath == "/", rawPath == "/graphql", rawPath == "/health", rawPath == "/metrics":
		return rawPath
	case strings.HasPrefix(rawPath, "/files/"):
		return "/files/{folder}/{filename}"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/health"),
			slog.String("queue_driver", cfg.Queue.Driver),
			slog.String("files_driver", cfg.Files.Driver),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports whether the shared database pool answers.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if db == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"unavailable"}`)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			// Generic message; driver errors may name hosts.
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
