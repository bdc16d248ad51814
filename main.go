// Command liveclass is the entrypoint for the live session engine.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background jobs: schedule planner, session launcher, status
//     reconciler, recording watcher, and the OAuth token refresher.
//   - Exposes the HTTP API: health/readiness, status, metrics, the OAuth
//     connect flow, the session read surface, and admin triggers.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/edustream/liveclass/config"
	"github.com/edustream/liveclass/db"
	"github.com/edustream/liveclass/notify"
	"github.com/edustream/liveclass/oauth"
	"github.com/edustream/liveclass/recording"
	"github.com/edustream/liveclass/schedule"
	"github.com/edustream/liveclass/server"
	"github.com/edustream/liveclass/session"
	"github.com/edustream/liveclass/telemetry"
	"github.com/edustream/liveclass/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("liveclass", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to the embedded SQL for
	// deployments without the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateBroadcastReady(); err != nil {
		slog.Warn("broadcast provider not configured; launch and reconcile will fail until the account is connected", slog.Any("err", err))
	}

	credStore := &db.CredentialStoreAdapter{DB: database}
	authSvc := youtubeapi.New(cfg, credStore)
	tokens := &oauth.Manager{
		Store:    credStore,
		Exchange: authSvc.RefreshExchange,
		Margin:   cfg.RefreshMargin,
	}
	provider := &youtubeapi.Client{Tokens: tokens}

	sessions := &session.PGStore{DB: database}
	recordings := &recording.PGStore{DB: database}

	planner := &schedule.Planner{
		Slots:     &schedule.PGSlotSource{DB: database},
		Sessions:  sessions,
		AccountID: cfg.BroadcastAccountID,
		Lookahead: cfg.PlannerLookahead,
	}
	launcher := &session.Launcher{
		Store:    sessions,
		Provider: provider,
		Window:   cfg.LaunchWindow,
	}
	notifier := &notify.Notifier{
		Directory: &notify.PGDirectory{DB: database},
		Deliverer: &notify.PGDeliverer{DB: database},
		CourseID:  cfg.CourseID,
	}
	reconciler := &session.Reconciler{
		Store:               sessions,
		Provider:            provider,
		Notify:              notifier,
		Recordings:          recordings,
		Tokens:              tokens,
		CallTimeout:         cfg.ProviderCallTimeout,
		MaxSessionDuration:  cfg.MaxSessionDuration,
		GracePeriod:         cfg.GracePeriod,
		FirstRecordingCheck: cfg.WatcherInitialBackoff,
	}
	watcher := &recording.Watcher{
		Store:          recordings,
		Sessions:       sessions,
		Provider:       provider,
		InitialBackoff: cfg.WatcherInitialBackoff,
		MaxBackoff:     cfg.WatcherMaxBackoff,
		MaxAttempts:    cfg.WatcherMaxAttempts,
	}
	if cfg.CatalogWebhookURL != "" {
		watcher.Catalog = &recording.WebhookCatalog{URL: cfg.CatalogWebhookURL}
	} else {
		slog.Info("CATALOG_WEBHOOK_URL not set; recordings will not be pushed to the catalog")
	}

	schedule.StartPlannerJob(ctx, database, planner, cfg.PlannerInterval)
	session.StartLauncherJob(ctx, database, launcher, cfg.LaunchInterval)
	session.StartReconcilerJob(ctx, database, reconciler, cfg.ReconcileInterval)
	recording.StartWatcherJob(ctx, database, watcher, cfg.WatcherInterval)
	oauth.StartRefresher(ctx, database, tokens, cfg.RefreshInterval, cfg.RefreshWindow)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	handlers := server.NewHandlers(server.Deps{
		DB:         database,
		Cfg:        cfg,
		Sessions:   sessions,
		Recordings: recordings,
		Planner:    planner,
		Reconciler: reconciler,
		Auth:       authSvc,
	})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
