package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hospitium/hospitium/cmd/hospitium/cli"
	"github.com/hospitium/hospitium/internal/app"
	"github.com/hospitium/hospitium/internal/audit"
	audithttp "github.com/hospitium/hospitium/internal/audit/http"
	"github.com/hospitium/hospitium/internal/auth"
	"github.com/hospitium/hospitium/internal/catalog"
	"github.com/hospitium/hospitium/internal/guard"
	"github.com/hospitium/hospitium/internal/observability"
	"github.com/hospitium/hospitium/internal/platform/cache"
	"github.com/hospitium/hospitium/internal/platform/db"
	"github.com/hospitium/hospitium/internal/rbac"
	rbachttp "github.com/hospitium/hospitium/internal/rbac/http"
	"github.com/hospitium/hospitium/jobs"
)

const usage = `usage: hospitium [command]

commands:
  serve                     run the HTTP API (default)
  migrate                   apply the database schema and exit
  grant  --principal --role [--tenant] [--json]
  revoke --principal --role [--tenant] [--json]
  replays [--requeue]       inspect or requeue escalated audit writes
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "grant", "revoke":
		os.Exit(grant(ctx, cfg, logger, cmd, args))
	case "replays":
		err = replays(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ConnectTimeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer dbpool.Close()
	if cfg.PGMigrate {
		if err := db.Migrate(ctx, dbpool); err != nil {
			return err
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	engine, err := buildEngine(cfg, logger, dbpool, redisClient)
	if err != nil {
		return err
	}
	trail := audit.NewTrail(audit.NewPGRepository(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var escalator guard.Escalator = guard.NewLogEscalator(logger, metrics)
	if cfg.AuditEscalation == app.EscalationQueue {
		queue := jobs.NewClient(redisOpts)
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		escalator = guard.NewQueueEscalator(queue, logger, metrics)
	}
	g := guard.New(guard.Config{
		Checker:      engine,
		Recorder:     trail,
		Escalator:    escalator,
		Metrics:      metrics,
		Logger:       logger,
		AuditTimeout: cfg.AuditTimeout,
	})

	verifierOpts := []auth.Option{auth.WithLogger(logger)}
	if cfg.JWTIssuer != "" {
		verifierOpts = append(verifierOpts, auth.WithIssuer(cfg.JWTIssuer))
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret, verifierOpts...)
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Authenticate:   verifier.Middleware,
		RBACMiddleware: rbac.Middleware{Engine: engine, Logger: logger},
		Guard:          g,
		RBACHandler:    rbachttp.NewHandler(logger, engine, g),
		AuditHandler:   audithttp.NewHandler(logger, trail),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func buildEngine(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client) (*rbac.Engine, error) {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	var repo rbac.AssignmentRepository = rbac.NewPGRepository(pool)
	if redisClient != nil && cfg.CacheTTL > 0 {
		repo = rbac.NewCachedRepository(repo, redisClient, cfg.CacheTTL, logger)
	}
	logger.Info("role catalog loaded", slog.Int("roles", len(cat.Roles())))
	return rbac.NewEngine(cat, repo,
		rbac.WithSuperadminLevel(cfg.SuperadminLevel),
		rbac.WithTimeout(cfg.AuthzTimeout),
		rbac.WithRequireTenant(cfg.RequireTenant),
		rbac.WithTenantDirectory(rbac.NewPGTenantDirectory(pool)),
		rbac.WithLogger(logger),
	), nil
}

func loadCatalog(cfg *app.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Default()
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ConnectTimeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer dbpool.Close()
	if err := db.Migrate(ctx, dbpool); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func grant(ctx context.Context, cfg *app.Config, logger *slog.Logger, cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var opts cli.GrantOptions
	fs.StringVar(&opts.Principal, "principal", "", "principal ID")
	fs.StringVar(&opts.Role, "role", "", "role slug, name or alias")
	fs.StringVar(&opts.Tenant, "tenant", "", "tenant ID; empty grants globally")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{ConnectTimeout: 5 * time.Second})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer dbpool.Close()

	// The cache wrapper bumps the principal's version so running servers see
	// the change on their next read.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer redisClient.Close()

	engine, err := buildEngine(cfg, logger, dbpool, redisClient)
	if err != nil {
		logger.Error("build engine", slog.Any("error", err))
		return 1
	}
	admin, err := cli.NewAdminCLI(engine, audit.NewTrail(audit.NewPGRepository(dbpool)))
	if err != nil {
		logger.Error("admin cli", slog.Any("error", err))
		return 1
	}
	if cmd == "revoke" {
		return admin.RevokeCommand(ctx, opts)
	}
	return admin.GrantCommand(ctx, opts)
}

func replays(ctx context.Context, cfg *app.Config, args []string) error {
	fs := flag.NewFlagSet("replays", flag.ContinueOnError)
	requeue := fs.Bool("requeue", false, "move archived replays back to pending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	jc := cli.NewJobsCLI(cfg.RedisAddr)
	defer jc.Close()

	if *requeue {
		n, err := jc.RequeueArchived(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("requeued %d archived audit replays\n", n)
		return nil
	}
	stats, err := jc.InspectQueue(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(stats)
}
