package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"clientportal/internal/api"
	"clientportal/internal/api/handlers"
	"clientportal/internal/api/middleware"
	"clientportal/internal/engine/directory"
	"clientportal/internal/engine/magiclink"
	"clientportal/internal/engine/portal"
	"clientportal/internal/pkg/logger"
	"clientportal/internal/platform/audit"
	"clientportal/internal/platform/auth"
	"clientportal/internal/platform/config"
	"clientportal/internal/platform/crm"
	"clientportal/internal/platform/database"
	"clientportal/internal/platform/notify"
	"clientportal/internal/platform/repositories"
	"clientportal/internal/platform/tasktracker"
)

var (
	version = "dev"
	cli     struct {
		Config  string           `help:"Path to config file." default:"configs/config.yaml" type:"path"`
		Version kong.VersionFlag `help:"Print version and exit."`
	}
)

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("portal-server"),
		kong.Description("Client portal API server."),
		kong.Vars{"version": version},
	)
	kctx.FatalIfErrorf(run(cli.Config))
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	closer := logger.Init(cfg.Logging)
	defer closer.Close()

	db, err := database.OpenAndMigrate(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sender, err := notify.NewSender(cfg.Email)
	if err != nil {
		return fmt.Errorf("configure email: %w", err)
	}

	// Repositories
	tokenRepo := repositories.NewTokenRepository(db, cfg.Auth.TokenTTL)
	auditLogger := audit.NewLogger(db)

	// Upstreams
	crmClient := crm.NewClient(cfg.CRM)
	trackerClient := tasktracker.NewClient(cfg.TaskTracker)

	// Services
	sessions := auth.NewSessionService(cfg.Session)
	cookies := auth.NewCookieStore(cfg.Session)

	// Handlers
	authHandler := handlers.NewAuthHandler(handlers.AuthHandlerConfig{
		Directory:   directory.NewService(crmClient),
		Issuer:      magiclink.NewIssuer(tokenRepo, cfg.Auth.PortalBaseURL),
		Verifier:    magiclink.NewVerifier(tokenRepo),
		Sessions:    sessions,
		Cookies:     cookies,
		Sender:      sender,
		Audit:       auditLogger,
		TokenTTL:    cfg.Auth.TokenTTL,
		MinDuration: cfg.Auth.RequestLinkMinDuration,
	})
	portalHandler := handlers.NewPortalHandler(trackerClient, portal.NewDealResolver(crmClient).WithCache(cfg.Portal.DealCacheTTL))
	activityHandler := handlers.NewActivityHandler(auditLogger)
	healthHandler := handlers.NewHealthHandler(db)

	// Middleware
	rateLimiter := middleware.NewRateLimiter(map[string]int{
		middleware.LimitRequestLink: cfg.RateLimit.RequestLinkPerMinute,
		middleware.LimitVerify:      cfg.RateLimit.VerifyPerMinute,
	})
	defer rateLimiter.Stop()

	router := api.NewRouter(&api.Dependencies{
		AuthHandler:       authHandler,
		PortalHandler:     portalHandler,
		ActivityHandler:   activityHandler,
		HealthHandler:     healthHandler,
		SessionMiddleware: middleware.NewSessionMiddleware(sessions, cookies),
		RateLimiter:       rateLimiter,
		CORS:              cfg.CORS,
		TrustProxy:        cfg.Server.TrustProxy,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Let background last-login updates and audit writes land before the
	// database is closed.
	authHandler.Wait()
	auditLogger.Wait()

	log.Info().Msg("server stopped")
	return nil
}
