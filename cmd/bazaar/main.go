package main

import (
	"context"
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

	"github.com/bazaar-market/bazaar-admin/cmd/bazaar/cli"
	"github.com/bazaar-market/bazaar-admin/internal/app"
	"github.com/bazaar-market/bazaar-admin/internal/auth"
	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/observability"
	"github.com/bazaar-market/bazaar-admin/internal/platform/cache"
	"github.com/bazaar-market/bazaar-admin/internal/platform/db"
	"github.com/bazaar-market/bazaar-admin/internal/rbac"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
	"github.com/bazaar-market/bazaar-admin/internal/view"
	"github.com/bazaar-market/bazaar-admin/jobs"
)

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

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "explain":
		os.Exit(explain(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(jobsCommand(ctx, cfg, args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (serve, explain, jobs)\n", command)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	store, closeStore, err := app.OpenAuthzStore(ctx, cfg, dbpool)
	if err != nil {
		return fmt.Errorf("open authz store: %w", err)
	}
	defer closeStore()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "bazaar_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	discoverer, err := app.NewDiscoverer(cfg, store, logger, metrics)
	if err != nil {
		return fmt.Errorf("init discovery: %w", err)
	}
	snapshots := app.NewAuthzCache(cfg)
	broadcaster := authz.NewBroadcaster(redisClient, snapshots, logger)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("authz broadcaster stopped", slog.Any("error", err))
		}
	}()

	authRepo := auth.NewStoreRepository(store, authz.NewProber(store, logger), "users")
	authService := auth.NewService(authRepo)
	resolver := auth.NewSessionResolver(authService, logger)

	authorizer := authz.NewAuthorizer(authz.Config{
		Resolver:  resolver,
		Discovery: discoverer,
		Cache:     snapshots,
		Publisher: broadcaster,
		Logger:    logger,
		Metrics:   metrics,
	})
	guard := authz.NewGuard(authorizer, app.SessionFunc, authz.GuardConfig{
		LoginPath: cfg.AuthzLoginPath,
		APIPrefix: cfg.AuthzAPIPrefix,
		Renderer: view.ForbiddenPage{
			Engine: templates,
			CSRF:   csrfManager,
			Principal: func(r *http.Request) *authz.Principal {
				p, _ := authorizer.CurrentPrincipal(r.Context(), app.SessionFunc(r))
				return p
			},
			Logger: logger,
		},
		Logger:  logger,
		Metrics: metrics,
	})

	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, authorizer)
	authzHandler := authz.NewHandler(authorizer, app.SessionFunc, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	rbacService := rbac.NewService(rbac.NewRepository(dbpool), authorizer, shared.NewAuditLogger(dbpool), logger)
	rbacHandler := rbac.NewHandler(logger, rbacService, guard, jobClient)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Templates:      templates,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Authorizer:     authorizer,
		Guard:          guard,
		AuthHandler:    authHandler,
		AuthzHandler:   authzHandler,
		RBACHandler:    rbacHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("db_driver", cfg.DBDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func explain(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "principal id to explain")
	check := fs.String("check", "", `permission expression, e.g. "products:edit|vendors:edit"`)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitUsage
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return cli.ExitUsage
	}
	defer pool.Close()

	store, closeStore, err := app.OpenAuthzStore(ctx, cfg, pool)
	if err != nil {
		logger.Error("open authz store", slog.Any("error", err))
		return cli.ExitUsage
	}
	defer closeStore()

	discoverer, err := app.NewDiscoverer(cfg, store, logger, nil)
	if err != nil {
		logger.Error("init discovery", slog.Any("error", err))
		return cli.ExitUsage
	}
	authzCLI, err := cli.NewAuthzCLI(discoverer)
	if err != nil {
		logger.Error("init authz cli", slog.Any("error", err))
		return cli.ExitUsage
	}
	return authzCLI.ExplainCommand(ctx, cli.ExplainOptions{PrincipalID: *userID, Check: *check, JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: jobs trigger <name> | jobs stats")
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: jobs trigger <name>")
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s (%s)\n", info.Type, info.ID)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n", stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", args[0])
		return 2
	}
	return 0
}
