package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"golang.org/x/sync/errgroup"

	notifyadapter "github.com/ericfisherdev/spacewake/internal/adapter/driven/discord"
	"github.com/ericfisherdev/spacewake/internal/adapter/driven/gamehost"
	githubadapter "github.com/ericfisherdev/spacewake/internal/adapter/driven/github"
	"github.com/ericfisherdev/spacewake/internal/adapter/driven/mcstatus"
	"github.com/ericfisherdev/spacewake/internal/adapter/driven/metrics"
	"github.com/ericfisherdev/spacewake/internal/adapter/driven/probe"
	sqliteadapter "github.com/ericfisherdev/spacewake/internal/adapter/driven/sqlite"
	discordbot "github.com/ericfisherdev/spacewake/internal/adapter/driving/discord"
	httphandler "github.com/ericfisherdev/spacewake/internal/adapter/driving/http"
	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"external_url", cfg.ExternalURL,
		"guild_id", cfg.GuildID,
		"wake_attempts", cfg.WakeAttempts,
		"wake_timeout", cfg.WakeTimeout,
		"binding_ttl", cfg.BindingTTL,
		"credential_ttl", cfg.CredentialTTL,
	)
	if cfg.WebhookSecret == "" {
		slog.Warn("SPACEWAKE_WEBHOOK_SECRET not set, tunnel reports are accepted without authentication")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire driven adapters.
	bindingStore := sqliteadapter.NewBindingRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	watchStore := sqliteadapter.NewWatchRepo(db)

	ghClient := githubadapter.NewClient()
	prober := probe.NewHTTPProber()
	outbound := &http.Client{Timeout: 30 * time.Second}
	gameHost := gamehost.NewClient(outbound)
	statusChecker := mcstatus.NewClient(outbound, mcstatus.DefaultBaseURL)

	collector := metrics.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	notifier := notifyadapter.NewNotifier(session)

	// 6. Create application services.
	access := application.NewAccessResolver(bindingStore, credentialStore, cfg.BindingTTL, cfg.CredentialTTL)
	wake := application.NewWakeOrchestrator(ghClient, prober, collector, application.WakeConfig{
		MaxAttempts:   cfg.WakeAttempts,
		TotalTimeout:  cfg.WakeTimeout,
		Delay:         cfg.WakeDelay,
		GraceAttempts: cfg.WakeGraceAttempts,
		Concurrency:   cfg.ProbeConcurrency,
	})
	bindingSvc := application.NewBindingService(bindingStore, credentialStore, ghClient, ghClient, notifier,
		cfg.WebhookURL(), cfg.CredentialTTL, cfg.BindingTTL)
	controlSvc := application.NewControlService(access, wake, ghClient, bindingStore, notifier, collector)

	gameCfg := application.DefaultGameConfig()
	gameCfg.MonitorInterval = cfg.MonitorInterval
	gameSvc := application.NewGameService(access, wake, gameHost, statusChecker, watchStore, notifier, collector, gameCfg)
	addonSvc := application.NewAddonService(bindingStore, gameHost, notifier, cfg.AddonPollInterval)

	// 7. Create the slash command front end.
	bot := discordbot.NewBot(session, bindingSvc, controlSvc, gameSvc, addonSvc, discordbot.Config{
		GuildID:  cfg.GuildID,
		Cooldown: cfg.CommandCooldown,
		// A wake campaign may run its full budget plus one slice.
		CommandTimeout: cfg.WakeTimeout + cfg.WakeTimeout/time.Duration(cfg.WakeAttempts) + time.Minute,
		GameTimeout:    gameSvc.Budget() + time.Minute,
	})

	// 8. Create HTTP handler: health, metrics and the tunnel webhook.
	apiHandler := httphandler.NewHandler(bindingSvc, bot, db,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), cfg.WebhookSecret, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return bot.Run(gctx, session)
	})

	// 9. Start background loops.
	go application.NewCredentialSweeper(credentialStore, cfg.SweepInterval).Start(gctx)
	go gameSvc.Monitor(gctx)
	go addonSvc.Monitor(gctx)
	if url := cfg.HealthURL(); url != "" {
		go application.NewKeepAlive(prober, url, cfg.KeepAliveDelay, cfg.KeepAliveInterval).Start(gctx)
	} else {
		slog.Info("SPACEWAKE_EXTERNAL_URL not set, keep-alive and tunnel provisioning disabled")
	}

	slog.Info("spacewake started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal or a fatal error, then drain HTTP.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
