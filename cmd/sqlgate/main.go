package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/httpapi"
	"github.com/HArsh-ri01/nl-to-sql/internal/adapter/mcp"
	"github.com/HArsh-ri01/nl-to-sql/internal/config"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/port"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/service"
	"github.com/HArsh-ri01/nl-to-sql/internal/policy"
	"github.com/HArsh-ri01/nl-to-sql/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	overrides, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting sqlgate",
		slog.String("version", version),
		slog.String("engine", cfg.Engine),
		slog.String("transport", cfg.Transport),
		slog.String("quota.store", cfg.QuotaStore),
		slog.Int("quota.per_identity", cfg.PerIdentityLimit),
		slog.Int("quota.global", cfg.MaxGlobalDaily),
		slog.Bool("read_only", cfg.ReadOnly),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("explain_only", cfg.ExplainOnly),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var (
		tracer trace.Tracer         = telemetry.NoopTracer()
		inst   port.Instrumentation = telemetry.NoopInstruments()
	)
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, "sqlgate", version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
			}
		}()
		tracer = telemetry.Tracer()
		inst = telemetry.NewInstruments()
		logger.Info("opentelemetry enabled")
	}

	res := &resources{}
	defer res.Close()

	executor, dbSystem, err := buildExecutor(ctx, cfg, res, logger)
	if err != nil {
		return err
	}
	if cfg.ExplainOnly {
		executor = service.NewExplainOnlyExecutor(executor)
	}

	thresholds := policy.Thresholds{
		MaxSubqueryDepth: cfg.MaxSubqueryDepth,
		MaxUnions:        cfg.MaxUnions,
		PerIdentityLimit: cfg.PerIdentityLimit,
		MaxGlobalDaily:   cfg.MaxGlobalDaily,
	}
	var extraPatterns []domain.DenyPattern
	if cfg.PolicyFile != "" {
		pol, err := policy.LoadFromFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		thresholds = pol.Apply(thresholds)
		extraPatterns = pol.DenyPatterns()
		logger.Info("policy loaded",
			slog.String("file", cfg.PolicyFile),
			slog.Int("deny_patterns", len(extraPatterns)),
		)
	}

	validator := domain.NewSafetyValidator(domain.ValidatorOptions{
		MaxUnions:         thresholds.MaxUnions,
		ExtraDenyPatterns: extraPatterns,
		Classifier:        domain.NewClassifier(cfg.Dialect()),
		Logger:            logger,
	})

	identities, global, err := buildQuotaStores(ctx, cfg, res, logger)
	if err != nil {
		return err
	}

	failurePolicy, err := service.ParseFailurePolicy(cfg.StoreFailurePolicy)
	if err != nil {
		return err
	}
	admission, err := service.NewAdmissionController(identities, global, service.AdmissionConfig{
		PerIdentityLimit: thresholds.PerIdentityLimit,
		MaxGlobalDaily:   thresholds.MaxGlobalDaily,
		FailurePolicy:    failurePolicy,
		Location:         cfg.QuotaTimezone,
	}, logger, inst)
	if err != nil {
		return err
	}

	auditor, err := buildAuditor(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditor.Close(); err != nil {
			logger.Error("closing auditor failed", slog.String("error", err.Error()))
		}
	}()

	querySvc := service.NewQueryService(admission, validator, executor, auditor, service.QueryServiceConfig{
		MaxSubqueryDepth: thresholds.MaxSubqueryDepth,
		Sanitize:         cfg.SanitizeSQL,
		DryRun:           cfg.DryRun,
		DBSystem:         dbSystem,
	}, logger, tracer, inst)

	mcpServer := mcp.NewServer(version, querySvc, logger, tracer, inst)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.QuotaSweepInterval > 0 {
		g.Go(func() error {
			return service.RunSweeper(gctx, admission, cfg.QuotaSweepInterval, logger)
		})
	}

	switch cfg.Transport {
	case "http":
		g.Go(func() error {
			return serveHTTP(gctx, cfg, querySvc, mcpServer, logger)
		})
	default:
		g.Go(func() error {
			defer stop()
			logger.Info("serving MCP over stdio")
			stdio := mcpserver.NewStdioServer(mcpServer)
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stdio server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, querySvc *service.QueryService, mcpServer *mcpserver.MCPServer, logger *slog.Logger) error {
	router := httpapi.NewRouter(httpapi.RouterConfig{
		BearerToken:        cfg.HTTPBearerToken,
		TrustProxy:         cfg.TrustProxy,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, querySvc, mcpServer, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving HTTP", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// redactDSN masks the password of a connection string for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
