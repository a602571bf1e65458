package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	cfg "github.com/sand/digital-marketplace/backend/config"
	"github.com/sand/digital-marketplace/backend/internal/aml"
	amlclients "github.com/sand/digital-marketplace/backend/internal/aml/clients"
	amlrepository "github.com/sand/digital-marketplace/backend/internal/aml/repository"
	amlservices "github.com/sand/digital-marketplace/backend/internal/aml/services"
	"github.com/sand/digital-marketplace/backend/internal/auth"
	"github.com/sand/digital-marketplace/backend/internal/clients"
	"github.com/sand/digital-marketplace/backend/internal/events"
	"github.com/sand/digital-marketplace/backend/internal/handlers"
	"github.com/sand/digital-marketplace/backend/internal/ratelimit"
	"github.com/sand/digital-marketplace/backend/internal/usecases"
	"github.com/sand/digital-marketplace/backend/internal/usecases/mocked"
	"github.com/sand/digital-marketplace/backend/internal/usecases/repository"
	"github.com/sand/digital-marketplace/backend/internal/workers"
	"github.com/sand/digital-marketplace/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
	amlRequestTimeout      = 10 * time.Second
)

// storage is everything the services need from the persistence layer. Both the
// postgres repositories and the memory store provide it.
type storage struct {
	transactor   usecases.Transactor
	orders       usecases.OrdersRepository
	users        usecases.UsersRepository
	products     usecases.ProductsRepository
	wallets      usecases.WalletsRepository
	transactions usecases.TransactionsRepository
	payouts      usecases.PayoutsRepository
	pinger       handlers.Pinger
	amlRepo      aml.Repository
	close        func()
}

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}
	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"environment", config.App.Environment,
		"db_driver", config.DB.Driver,
		"server_port", config.HTTP.Port,
		"rate_limit_backend", config.RateLimit.Backend)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := initStorage(ctx, logger, config)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		log.Fatal(err)
	}
	defer store.close()

	var rdb *redis.Client
	if config.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		defer rdb.Close()
	}

	websocketManager := handlers.NewWebSocketManager(logger, config.HTTP.AllowedOrigins)
	defer websocketManager.Close()

	publisher := events.NewMulti(logger).
		Add("log", events.NewLogPublisher(logger)).
		Add("websocket", websocketManager)
	if rdb != nil {
		publisher.Add("redis", events.NewRedisPublisher(rdb, config.Redis.Channel))
	}
	if len(config.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(logger, config.Kafka.Brokers, config.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher.Add("kafka", kafkaPublisher)
	}

	rates, err := usecases.ParseCommissionRates(config.Marketplace.PlatformCommissionRate, config.Marketplace.ReferrerCommissionRate)
	if err != nil {
		log.Fatal(err)
	}
	minPayout, err := decimal.NewFromString(config.Marketplace.MinPayoutAmount)
	if err != nil {
		log.Fatalf("invalid min payout amount %q: %v", config.Marketplace.MinPayoutAmount, err)
	}

	// Outbound clients
	var provider usecases.CryptoPaymentProvider
	if config.Payments.APIKey != "" {
		provider = clients.NewNowPaymentsClient(logger,
			config.Payments.APIURL,
			config.Payments.APIKey,
			config.Payments.CallbackURL,
			config.Payments.PriceCurrency,
			time.Duration(config.Payments.RequestTimeout)*time.Second)
	} else {
		logger.Warn("Payment provider API key is not set, crypto orders are disabled")
	}
	if config.Delivery.URL == "" {
		logger.Warn("Delivery URL is not set, paid orders will wait for the recovery worker")
	}
	deliverer := clients.NewDeliveryClient(logger,
		config.Delivery.URL,
		config.Delivery.Token,
		time.Duration(config.Delivery.RequestTimeout)*time.Second)

	// Create usecases
	walletService := usecases.NewWalletService(logger, store.transactor, store.wallets, store.transactions)
	transactionService := usecases.NewTransactionService(logger, store.transactor, store.wallets, store.transactions)
	orderService := usecases.NewOrderService(logger,
		store.transactor,
		store.orders,
		store.products,
		store.users,
		provider,
		publisher,
		rates,
		config.Payments.DefaultPayCurrency)
	paymentService := usecases.NewPaymentService(logger, store.transactor, orderService, walletService, deliverer, publisher)
	payoutService := usecases.NewPayoutService(logger,
		store.transactor,
		store.payouts,
		store.users,
		walletService,
		initAMLService(logger, config, store.amlRepo),
		publisher,
		minPayout)

	// Initialize and run workers
	initAndRunWorkers(ctx, logger, config, orderService, paymentService, publisher)

	trustedProxies, err := handlers.ParseTrustedProxies(config.HTTP.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}
	if config.Auth.JWTSecret == "" {
		logger.Warn("JWT secret is not configured, user routes are locked")
	}

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger,
		orderService,
		paymentService,
		walletService,
		transactionService,
		payoutService,
		store.pinger,
		handlers.Access{
			AdminToken:     config.Admin.Token,
			Tokens:         auth.NewTokens(config.Auth.JWTSecret, config.Auth.Issuer, time.Duration(config.Auth.TokenTTL)*time.Minute),
			TrustedProxies: trustedProxies,
		},
		initRateLimiter(logger, config, rdb))
	webhookHandler := handlers.NewWebhookHandler(logger,
		paymentService,
		config.Payments.IPNSecret,
		time.Duration(config.Payments.WebhookTimeout)*time.Second)
	wsHandler := handlers.NewWebSocketHandler(logger, orderService, websocketManager)

	// Create router
	router := mux.NewRouter()

	// Register WebSocket and webhook routes before the rate limited API
	wsHandler.RegisterRoutes(router)
	webhookHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)

	allowedOrigins := config.HTTP.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Admin-Token"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
	})

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop workers first so no recovery pass starts during shutdown
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func initStorage(ctx context.Context, logger *slog.Logger, config *cfg.Config) (*storage, error) {
	if config.DB.Driver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		store := mocked.NewStore()
		store.SeedDemoData(logger)
		return &storage{
			transactor:   store,
			orders:       store,
			users:        store,
			products:     store,
			wallets:      store,
			transactions: store,
			payouts:      store,
			pinger:       store,
			close:        func() {},
		}, nil
	}

	// Connect to Database
	pg, err := database.New(ctx, config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		return nil, err
	}

	// Run database migrations
	logger.Info("Running database migrations", "path", config.DB.MigrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, config.DB.MigrationsPath); err != nil {
		pg.Close()
		return nil, err
	}

	users := repository.NewUsersRepository(logger, pg)
	return &storage{
		transactor:   pg.Transactor,
		orders:       repository.NewOrdersRepository(logger, pg),
		users:        users,
		products:     users,
		wallets:      repository.NewWalletsRepository(logger, pg),
		transactions: repository.NewTransactionsRepository(logger, pg),
		payouts:      repository.NewPayoutsRepository(logger, pg),
		pinger:       pg,
		amlRepo:      amlrepository.NewAMLRepository(logger, pg),
		close:        pg.Close,
	}, nil
}

func initAMLService(logger *slog.Logger, config *cfg.Config, repo aml.Repository) *aml.AMLService {
	localAMLService := amlservices.NewLocalAMLService(logger, config.AML.TransactionThreshold, config.AML.DenyList)

	var external aml.ExternalChecker
	amlbotService := amlclients.NewAMLBotService(logger, config.AML.AMLBotAPIKey, config.AML.AMLBotAPIURL, amlRequestTimeout)
	if amlbotService.IsEnabled() {
		external = amlbotService
	}

	logger.Info("AML service initialized",
		"amlbot_enabled", amlbotService.IsEnabled(),
		"deny_list_size", len(config.AML.DenyList),
		"persisted", repo != nil)

	return aml.NewAMLService(logger, localAMLService, external, repo)
}

func initRateLimiter(logger *slog.Logger, config *cfg.Config, rdb *redis.Client) ratelimit.Limiter {
	if config.RateLimit.Requests <= 0 {
		logger.Warn("Rate limiting is disabled")
		return nil
	}
	window := time.Duration(config.RateLimit.Window) * time.Second

	if config.RateLimit.Backend == "redis" {
		if rdb == nil {
			logger.Warn("Redis rate limiter requested without redis address, using memory limiter")
		} else {
			return ratelimit.NewRedisLimiter(rdb, config.RateLimit.Requests, window, "marketplace:ratelimit:")
		}
	}
	return ratelimit.NewMemoryLimiter(config.RateLimit.Requests, window)
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	orderService *usecases.OrderService,
	paymentService *usecases.PaymentService,
	publisher events.Publisher,
) {
	deliveryRecovery := workers.NewDeliveryRecovery(logger, orderService, paymentService, publisher, workers.RecoveryConfig{
		Interval:  time.Duration(config.Workers.RecoveryInterval) * time.Minute,
		Grace:     time.Duration(config.Workers.RecoveryGrace) * time.Minute,
		Horizon:   time.Duration(config.Workers.RecoveryHorizon) * time.Minute,
		BatchSize: config.Workers.RecoveryBatchSize,
	})

	orderCleaner := workers.NewOrderCleaner(
		logger,
		orderService,
		time.Duration(config.Workers.OrderExpiration)*time.Minute,
		time.Duration(config.Workers.OrderCleanupInterval)*time.Minute,
	)

	go deliveryRecovery.Start(ctx)
	go orderCleaner.Start(ctx)

	logger.Info("All workers initialized and started")
}
