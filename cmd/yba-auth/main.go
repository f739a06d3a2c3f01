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

	adapterhandler "yba-auth/internal/adapter/handler"
	"yba-auth/internal/adapter/gateway"
	infracache "yba-auth/internal/infrastructure/cache"
	infratoken "yba-auth/internal/infrastructure/token"
	"yba-auth/internal/usecase"

	"yba-auth/config"
	appmiddleware "yba-auth/middleware"
	"yba-auth/utils/logger"
	"yba-auth/utils/otel"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// sessionStore is the persistence behind the session cache.
type sessionStore interface {
	infracache.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	// Handle healthcheck subcommand (for Docker healthcheck in distroless image)
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := runHealthcheck(); err != nil {
			fmt.Fprintf(os.Stderr, "Healthcheck failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	otelCfg := otel.ConfigFromEnv()
	otelShutdown, err := otel.InitProvider(ctx, otelCfg)
	if err != nil {
		slog.Warn("failed to initialize OpenTelemetry, continuing without tracing", "error", err)
		otelCfg.Enabled = false
	}

	log := logger.Init(otelCfg.Enabled)

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.InfoContext(ctx, "configuration loaded",
		"bridge_url", cfg.BridgeURL,
		"directory_url", cfg.DirectoryURL,
		"cache_backend", cfg.CacheBackend,
		"cache_ttl", cfg.CacheTTL,
		"port", cfg.Port)

	// Infrastructure
	store, err := openStore(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session store", "backend", cfg.CacheBackend, "error", err)
		os.Exit(1)
	}
	sessionCache := infracache.NewSessionCache(store, cfg.CacheTTL, log)
	directory := gateway.NewStrapiDirectory(cfg.DirectoryURL, cfg.DirectoryToken, cfg.DirectoryTimeout)
	bridge := gateway.NewZaloBridge(cfg.BridgeURL, cfg.BridgeTimeout)
	memberTokens := infratoken.NewMemberTokenIssuer(infratoken.JWTConfig{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
		TTL:      cfg.TokenTTL,
	})
	csrfGenerator := infratoken.NewHMACCSRFGenerator(cfg.CSRFSecret)

	registry := usecase.NewSessionRegistry(bridge.ForSession, directory, sessionCache, usecase.RegistryConfig{
		IdleTimeout:   cfg.SessionIdleTimeout,
		MaxSessions:   cfg.MaxSessions,
		LookupTimeout: cfg.LookupTimeout,
		CacheKey:      infracache.Key,
		Logger:        log,
		Metrics:       otel.Metrics,
	})

	// Usecases
	viewUC := usecase.NewGetView(registry, memberTokens, log)
	actionsUC := usecase.NewSessionActions(registry, log, otel.Metrics)
	csrfUC := usecase.NewGenerateCSRF(csrfGenerator, log)
	refreshUC := usecase.NewRefreshSession(registry, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(appmiddleware.SecurityHeaders())

	if otelCfg.Enabled {
		e.Use(otelecho.Middleware(otelCfg.ServiceName))
		e.Use(appmiddleware.OTelStatusMiddleware())
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/health"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				slog.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				slog.ErrorContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))

	e.Use(middleware.Recover())

	ipRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.IPRateLimit), cfg.IPRateBurst)
	sessionRL := appmiddleware.NewKeyedRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst, appmiddleware.BySession)
	internalRL := appmiddleware.NewRateLimiter(60.0/60.0, 10) // 60 req/min

	router := &adapterhandler.Router{
		Health:             adapterhandler.NewHealthHandler(store),
		Auth:               adapterhandler.NewAuthHandler(viewUC, actionsUC, cfg.PermissionTimeout),
		Access:             adapterhandler.NewAccessHandler(actionsUC, adapterhandler.Redirects{Home: cfg.RedirectHome, Registration: cfg.RedirectRegistration}),
		CSRF:               adapterhandler.NewCSRFHandler(csrfUC),
		Internal:           adapterhandler.NewInternalHandler(refreshUC),
		CSRFVerifier:       csrfGenerator,
		InternalSecret:     cfg.InternalSecret,
		PublicMiddleware:   []echo.MiddlewareFunc{ipRL.Middleware()},
		SessionMiddleware:  []echo.MiddlewareFunc{sessionRL.Middleware()},
		InternalMiddleware: []echo.MiddlewareFunc{internalRL.Middleware()},
	}
	router.Mount(e)
	if cfg.InternalSecret == "" {
		slog.WarnContext(ctx, "INTERNAL_SECRET not set, /internal routes are disabled")
	}

	address := fmt.Sprintf(":%s", cfg.Port)
	slog.InfoContext(ctx, "starting yba-auth server", "address", address)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := e.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := e.Shutdown(shutdownCtx)

		registry.Close()
		ipRL.Close()
		sessionRL.Close()
		internalRL.Close()
		return errors.Join(err, store.Close())
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited properly")
}

// openStore opens the session store selected by CACHE_BACKEND.
func openStore(cfg *config.Config) (sessionStore, error) {
	switch cfg.CacheBackend {
	case config.CacheRedis:
		store, err := infracache.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return store, nil
	case config.CacheSQLite:
		store, err := infracache.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return infracache.NewMemoryStore(time.Minute), nil
	}
}

// runHealthcheck performs a health check against the local server.
func runHealthcheck() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8888"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%s/health", port))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status: %d", resp.StatusCode)
	}
	return nil
}
