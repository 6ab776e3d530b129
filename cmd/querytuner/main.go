package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guillermoBallester/querytuner/internal/adapter/llm"
	"github.com/guillermoBallester/querytuner/internal/adapter/mcp"
	"github.com/guillermoBallester/querytuner/internal/adapter/policy"
	"github.com/guillermoBallester/querytuner/internal/adapter/postgres"
	"github.com/guillermoBallester/querytuner/internal/audit"
	"github.com/guillermoBallester/querytuner/internal/config"
	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
	"github.com/guillermoBallester/querytuner/internal/core/service"
	"github.com/guillermoBallester/querytuner/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags maps command-line flags onto config overrides. Flags that are
// not given leave the environment value in place.
func parseFlags(args []string) (config.Overrides, error) {
	fs := flag.NewFlagSet("querytuner", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		o            config.Overrides
		databaseURL  string
		logLevel     string
		queryTimeout time.Duration
		maxAttempts  int
		threshold    float64
		policyFile   string
		transport    string
		httpAddr     string
		bearerToken  string
	)
	fs.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string (overrides DB_* variables)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.DurationVar(&queryTimeout, "query-timeout", 0, "baseline query timeout")
	fs.IntVar(&maxAttempts, "max-attempts", 0, "refinement attempts per recommendation")
	fs.Float64Var(&threshold, "improvement-threshold", 0, "target improvement in percent")
	fs.StringVar(&policyFile, "policy-file", "", "YAML file with table and column descriptions")
	fs.StringVar(&transport, "transport", "", "MCP transport: stdio or http")
	fs.StringVar(&httpAddr, "http-addr", "", "listen address for the http transport")
	fs.StringVar(&bearerToken, "http-bearer-token", "", "bearer token required by the http transport")
	fs.BoolVar(&o.ParallelTests, "parallel", false, "test recommendations concurrently")
	fs.BoolVar(&o.OTelEnabled, "otel", false, "export OpenTelemetry traces and metrics")
	fs.StringVar(&o.AuditLog, "audit-log", "", "append one NDJSON line per optimization run to this file")
	fs.StringVar(&o.QueryFile, "query-file", "", "optimize the query in this file, print the result and exit")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}

	// Only flags actually passed become overrides.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "database-url":
			o.DatabaseURL = &databaseURL
		case "log-level":
			o.LogLevel = &logLevel
		case "query-timeout":
			o.QueryTimeout = &queryTimeout
		case "max-attempts":
			o.MaxAttempts = &maxAttempts
		case "improvement-threshold":
			o.ImprovementThreshold = &threshold
		case "policy-file":
			o.PolicyFile = &policyFile
		case "transport":
			o.Transport = &transport
		case "http-addr":
			o.HTTPAddr = &httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = &bearerToken
		}
	})
	return o, nil
}

func run(args []string) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr. stdout is reserved for the MCP stdio transport and
	// the one-shot result.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting querytuner",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("transport", cfg.Transport),
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Float64("improvement_threshold", cfg.ImprovementThreshold),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Bool("parallel", cfg.ParallelTests),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.OTelEnabled, telemetry.Options{
		ServiceName: "querytuner",
		Version:     version,
		Transport:   cfg.Transport,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()
	if cfg.OTelEnabled {
		logger.Info("opentelemetry enabled")
	}
	tracer, inst := tel.Tracer(), tel.Instruments()

	// Adapters
	rewriter := domain.NewRegexRewriter()

	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = postgres.BuildDSN(cfg.ConnParams())
	}
	pg, err := postgres.NewGatewayFromDSN(dsn, cfg.Schemas, rewriter, logger)
	if err != nil {
		return fmt.Errorf("configuring database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBConnectTimeout)
	serverVersion, err := pg.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database %s: %w", postgres.RedactDSN(dsn), err)
	}
	logger.Info("database reachable",
		slog.String("db.system", "postgresql"),
		slog.String("db.version", serverVersion),
	)

	var gateway port.SandboxGateway = pg

	// Policy decorator (optional).
	if cfg.PolicyFile != "" {
		pol, err := policy.LoadFromFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		gateway = policy.NewGateway(gateway, pol)
		logger.Info("policy loaded",
			slog.String("file", cfg.PolicyFile),
			slog.Int("tables", len(pol.Context.Tables)),
		)
	}

	providers := llm.ProvidersFromKeys(
		cfg.Providers.GeminiKey, cfg.Providers.GeminiModel,
		cfg.Providers.DeepSeekKey, cfg.Providers.DeepSeekModel,
		cfg.Providers.GroqKey, cfg.Providers.GroqModel,
	)
	advisor, err := llm.NewAdvisor(providers, logger,
		llm.WithTimeout(cfg.ProviderTimeout),
		llm.WithMaxRetries(cfg.ProviderMaxRetries),
		llm.WithTracer(tracer),
		llm.WithInstrumentation(inst),
	)
	if err != nil {
		return fmt.Errorf("configuring AI providers: %w", err)
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info("AI providers configured", slog.Any("providers", names))

	var auditor port.RunAuditor = audit.NoopAuditor{}
	if cfg.AuditLog != "" {
		fa, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer fa.Close()
		auditor = fa
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}

	// Services
	optimizer, err := service.NewOptimizerService(
		gateway, advisor, domain.NewQueryValidator(), rewriter, auditor, logger,
		service.Policy{
			MaxAttempts:          cfg.MaxAttempts,
			ImprovementThreshold: cfg.ImprovementThreshold,
			QueryTimeout:         cfg.QueryTimeout,
			SandboxQueryTimeout:  cfg.SandboxQueryTimeout,
			CloneRowLimit:        cfg.CloneRowLimit,
			Parallel:             cfg.ParallelTests,
		},
		tracer, inst,
	)
	if err != nil {
		return fmt.Errorf("creating optimizer: %w", err)
	}

	if cfg.QueryFile != "" {
		return optimizeFile(ctx, optimizer, cfg.QueryFile, os.Stdout)
	}

	// MCP server with tool handlers.
	mcpServer := mcp.NewServer(version, optimizer, logger, tracer, inst)

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, mcpServer, cfg, logger)
	default:
		stdioServer := mcpserver.NewStdioServer(mcpServer)

		logger.Info("serving MCP over stdio")
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// optimizeFile runs one optimization on the query stored at path and writes
// the run as indented JSON to w. An aborted run is still written.
func optimizeFile(ctx context.Context, optimizer *service.OptimizerService, path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading query file: %w", err)
	}

	ctx = service.WithToolName(ctx, "cli")
	run, runErr := optimizer.Optimize(ctx, string(data), true)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("optimization aborted at %s: %w", run.Stage, runErr)
	}
	return nil
}
