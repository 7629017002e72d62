package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"finitefield.org/wholesale/internal/apiclient"
	"finitefield.org/wholesale/internal/clientstate"
	"finitefield.org/wholesale/internal/handlers"
	"finitefield.org/wholesale/internal/notify"
	"finitefield.org/wholesale/internal/platform/config"
	"finitefield.org/wholesale/internal/platform/events"
	"finitefield.org/wholesale/internal/platform/idempotency"
	"finitefield.org/wholesale/internal/platform/kv"
	"finitefield.org/wholesale/internal/platform/observability"
	"finitefield.org/wholesale/internal/platform/secrets"
	"finitefield.org/wholesale/internal/platform/session"
	"finitefield.org/wholesale/internal/pricing"
	"finitefield.org/wholesale/internal/query"
	"finitefield.org/wholesale/internal/services"
)

// storeCloser is implemented by kv backends holding a connection.
type storeCloser interface {
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger(observability.WithService("wholesale-storefront", os.Getenv("STOREFRONT_BUILD_VERSION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	version := buildVersion(envValues)

	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		logger.Fatal("failed to initialise client state store", zap.Error(err))
	}
	if closer, ok := store.(storeCloser); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("client state store close error", zap.Error(err))
			}
		}()
	}

	origin := ulid.Make().String()
	bus, err := newBus(cfg.Events, origin, logger)
	if err != nil {
		logger.Fatal("failed to initialise invalidation bus", zap.Error(err))
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("invalidation bus close error", zap.Error(err))
		}
	}()

	cache, err := query.NewCache(
		query.WithLogger(logger),
		query.WithStaleAfter(cfg.Query.StaleAfter),
		query.WithIdleTTL(cfg.Query.IdleTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise query cache", zap.Error(err))
	}
	unsubscribe, err := bus.Subscribe(cache.HandleInvalidation)
	if err != nil {
		logger.Fatal("failed to subscribe to invalidations", zap.Error(err))
	}
	defer unsubscribe()

	flash, err := notify.NewFlash(store, notify.WithCapacity(cfg.Client.FlashLimit))
	if err != nil {
		logger.Fatal("failed to initialise notifications", zap.Error(err))
	}
	notifier := notify.Multi{notify.LogNotifier{}, flash}
	coordinator, err := query.NewCoordinator(cache,
		query.WithNotifier(notifier),
		query.WithPublisher(bus),
		query.WithCoordinatorLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to initialise mutation coordinator", zap.Error(err))
	}
	services.RegisterInvalidationRules(coordinator)

	api, err := apiclient.New(cfg.Upstream.BaseURL,
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.Upstream.Timeout}),
		apiclient.WithRateLimit(cfg.Upstream.RequestsPerSecond, cfg.Upstream.Burst),
		apiclient.WithLogger(logger),
		apiclient.WithUserAgent("wholesale-storefront/"+version),
	)
	if err != nil {
		logger.Fatal("failed to initialise upstream client", zap.Error(err))
	}

	tokens, err := clientstate.NewTokens(store, cfg.Client.TokenTTL)
	if err != nil {
		logger.Fatal("failed to initialise token store", zap.Error(err))
	}
	guestCarts, err := clientstate.NewGuestCarts(store, cfg.Client.GuestCartTTL)
	if err != nil {
		logger.Fatal("failed to initialise guest carts", zap.Error(err))
	}
	resolver, err := pricing.NewResolver(logger, nil)
	if err != nil {
		logger.Fatal("failed to initialise tier resolver", zap.Error(err))
	}

	authorizer, err := services.NewAuthorizer(services.AuthorizerDeps{Tokens: tokens, API: api, Cache: cache, Logger: logger})
	if err != nil {
		logger.Fatal("failed to initialise authorizer", zap.Error(err))
	}

	defaults, err := services.LoadSettingsDefaults(cfg.Settings.DefaultsFile)
	if err != nil {
		logger.Fatal("failed to load store settings defaults", zap.Error(err))
	}
	settingsService, err := services.NewSettingsService(services.SettingsServiceDeps{
		Store:       store,
		Defaults:    defaults,
		Authorizer:  authorizer,
		Coordinator: coordinator,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise settings service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		API:         api,
		Coordinator: coordinator,
		Authorizer:  authorizer,
		Resolver:    resolver,
		Settings:    settingsService,
		Currency:    cfg.Pricing.Currency,
		Locale:      cfg.Pricing.Locale,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		API:         api,
		GuestCarts:  guestCarts,
		Products:    catalogService,
		Authorizer:  authorizer,
		Coordinator: coordinator,
		Resolver:    resolver,
		Notifier:    notifier,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	authService, err := services.NewAuthService(services.AuthServiceDeps{
		API:         api,
		Authorizer:  authorizer,
		Coordinator: coordinator,
		Cart:        cartService,
		Notifier:    notifier,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise auth service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		API:         api,
		Authorizer:  authorizer,
		Coordinator: coordinator,
		Settings:    settingsService,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	adminService, err := services.NewAdminService(services.AdminServiceDeps{
		API:         api,
		Authorizer:  authorizer,
		Coordinator: coordinator,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise admin service", zap.Error(err))
	}
	exportService, err := services.NewExportService(services.ExportServiceDeps{Admin: adminService, Logger: logger})
	if err != nil {
		logger.Fatal("failed to initialise export service", zap.Error(err))
	}

	sessionCfg := session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookieSecure: cfg.Session.CookieSecure,
		Lifetime:     cfg.Session.Lifetime,
		IdleTimeout:  cfg.Session.IdleTimeout,
	}
	if cfg.Session.PreviousHashKey != "" {
		sessionCfg.PreviousKeys = []session.KeyPair{{
			Hash:  []byte(cfg.Session.PreviousHashKey),
			Block: []byte(cfg.Session.PreviousBlockKey),
		}}
	}
	sessions, err := session.NewManager(sessionCfg)
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}
	// An expired session's token, guest cart and queued notifications go with it.
	purgeSession := func(ctx context.Context, sessionID string) error {
		_, drainErr := flash.Drain(ctx, sessionID)
		return errors.Join(tokens.Clear(ctx, sessionID), guestCarts.Clear(ctx, sessionID), drainErr)
	}
	renewSession := func(ctx context.Context, from, to string) error {
		if err := guestCarts.Move(ctx, from, to); err != nil {
			return err
		}
		return errors.Join(tokens.Clear(ctx, from), flash.Move(ctx, from, to))
	}

	replayStore, err := idempotency.NewKVStore(store)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	replayGuard := idempotency.Middleware(replayStore,
		idempotency.WithTTL(cfg.Client.IdempotencyTTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	janitorCtx, janitorCancel := context.WithCancel(ctx)
	var janitorWG sync.WaitGroup
	janitorWG.Add(1)
	go func() {
		defer janitorWG.Done()
		cache.Run(janitorCtx, cfg.Query.JanitorInterval)
	}()
	if mem, ok := store.(*kv.MemoryStore); ok {
		janitorWG.Add(1)
		go func() {
			defer janitorWG.Done()
			runMemoryJanitor(janitorCtx, mem, cfg.Query.JanitorInterval, logger.Named("kv"))
		}()
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthVersion(version),
		handlers.WithHealthCheck("kv", store.Ping),
	)

	projectID := cfg.Telemetry.ProjectID
	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
	))
	opts = append(opts, handlers.WithAPIMiddlewares(
		handlers.SessionMiddleware(sessions,
			handlers.WithExpiredSessionHook(purgeSession),
			handlers.WithRenewedSessionHook(renewSession),
		),
		observability.RequestLoggerMiddleware(observability.WithSlowRequestThreshold(cfg.Server.SlowRequestThreshold)),
	))
	opts = append(opts, handlers.WithStorefrontMiddlewares(handlers.MaintenanceMiddleware(settingsService)))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithCatalogRoutes(handlers.NewCatalogHandlers(catalogService).Routes))
	opts = append(opts, handlers.WithCartRoutes(handlers.NewCartHandlers(cartService).Routes))
	opts = append(opts, handlers.WithOrderRoutes(handlers.NewOrderHandlers(orderService, handlers.WithReplayGuard(replayGuard)).Routes))
	opts = append(opts, handlers.WithAuthRoutes(handlers.NewAuthHandlers(authService).Routes))
	opts = append(opts, handlers.WithNotificationRoutes(handlers.NewNotificationHandlers(flash).Routes))
	opts = append(opts, handlers.WithAdminRoutes(handlers.NewAdminHandlers(authorizer, adminService, settingsService, exportService).Routes))

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("origin", origin))
	go func() {
		serverLogger.Info("wholesale storefront listening", zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; draining requests")

	janitorCancel()
	janitorWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newStore(ctx context.Context, cfg config.StoreConfig) (kv.Store, error) {
	switch cfg.Driver {
	case "redis":
		return kv.NewRedisStore(ctx, kv.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return kv.NewMemoryStore(), nil
	}
}

// newBus returns a NATS bus when a server is configured. Without one the replica runs alone and
// invalidations stay in process.
func newBus(cfg config.EventsConfig, origin string, logger *zap.Logger) (events.Bus, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		logger.Info("no NATS url configured; cache invalidations stay local")
		return events.NewLocalBus(origin), nil
	}
	return events.NewNATSBus(events.NATSOptions{
		URL:     cfg.NATSURL,
		Subject: cfg.Subject,
		Name:    "wholesale-storefront",
		Origin:  origin,
		Logger:  logger,
	})
}

func runMemoryJanitor(ctx context.Context, store *kv.MemoryStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.CleanupExpired(ctx); removed > 0 {
				logger.Debug("expired client state removed", zap.Int("count", removed))
			}
		}
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	project := lookup("STOREFRONT_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("GOOGLE_CLOUD_PROJECT")
	}
	fallbackPath := lookup("STOREFRONT_SECRETS_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if raw := lookup("STOREFRONT_SECRETS_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse STOREFRONT_SECRETS_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("STOREFRONT_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["STOREFRONT_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}
