package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zllovesuki/storecheckout/access"
	"github.com/zllovesuki/storecheckout/auth"
	"github.com/zllovesuki/storecheckout/broker"
	"github.com/zllovesuki/storecheckout/checkout"
	"github.com/zllovesuki/storecheckout/config"
	"github.com/zllovesuki/storecheckout/db"
	"github.com/zllovesuki/storecheckout/fiscal"
	"github.com/zllovesuki/storecheckout/journal"
	"github.com/zllovesuki/storecheckout/metrics"
	"github.com/zllovesuki/storecheckout/pricing"
	"github.com/zllovesuki/storecheckout/remote"
	resp "github.com/zllovesuki/storecheckout/response"
	specBroker "github.com/zllovesuki/storecheckout/spec/broker"
	"github.com/zllovesuki/storecheckout/subscription"
	"github.com/zllovesuki/storecheckout/vault"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Version is set at build time
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Cannot load configurations: %v\n", err)
	}

	var logger *zap.Logger
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     Version,
		Debug:       !cfg.Production(),
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)
	defer logger.Sync()

	promMetrics := metrics.New("storecheckout")

	newRemote := func(name, baseURL string, readRetries int) *remote.Client {
		c, err := remote.New(remote.Options{
			BaseURL:     baseURL,
			Logger:      logger.With(zap.String("Collaborator", name)),
			ReadRetries: readRetries,
			Timeout:     cfg.RemoteTimeout,
			Observe:     promMetrics.Observer(),
		})
		if err != nil {
			logger.Fatal("Cannot initialize collaborator client",
				zap.String("Collaborator", name),
				zap.Error(err),
			)
		}
		return c
	}
	paymentRemote := newRemote("payment", cfg.PaymentServiceURL, 1)
	subscriptionRemote := newRemote("subscription", cfg.SubscriptionURL, 1)
	walletRemote := newRemote("wallet", cfg.WalletURL, 1)
	identityRemote := newRemote("identity", cfg.IdentityURL, cfg.AccessRetries-1)
	commonsRemote := newRemote("commons", cfg.CommonsURL, 2)

	// Initialize backend connections
	var rdb redis.UniversalClient
	if cfg.CacheBackend == "redis" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisURI},
			Password: cfg.RedisPW,
			DB:       0,
		})
		if _, err := rdb.Ping().Result(); err != nil {
			logger.Fatal("Cannot connect to Redis",
				zap.Error(err),
			)
		}
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accessCache := newCache[access.Access](ctx, logger, rdb, "access:", cfg.AccessCacheCapacity, cfg.AccessCacheTTL)
	regimeCache := newCache[[]fiscal.Regime](ctx, logger, rdb, "sat_regimes:", 4, cfg.CatalogCacheTTL)
	useCache := newCache[[]fiscal.CFDIUse](ctx, logger, rdb, "sat_cfdi_uses:", 64, cfg.CatalogCacheTTL)

	var conn *gorm.DB
	var checkoutJournal checkout.Journal
	var reconciler checkout.Reconciler
	if cfg.PostgresURI != "" {
		conn, err = db.New(db.Options{
			URI:    cfg.PostgresURI,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal("Cannot connect to Postgres",
				zap.Error(err),
			)
		}
		journalManager, err := journal.NewManager(logger, conn)
		if err != nil {
			logger.Fatal("Cannot initialize JournalManager",
				zap.Error(err),
			)
		}
		checkoutJournal = journalManager
		reconciler = journalManager
	} else {
		logger.Info("POSTGRES_URI is empty, checkout journal disabled")
	}

	var events specBroker.Producer
	if cfg.AMQPURI != "" {
		amqpBroker, err := broker.NewAMQPBroker(logger, cfg.AMQPURI)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		events = amqpBroker
	} else {
		events = broker.NewLogBroker(logger)
	}
	defer events.Close()

	tokenAuth, err := auth.New(auth.Options{
		Logger:       logger,
		PublicKeyPEM: cfg.TokenPublicKey,
		Issuer:       cfg.TokenIssuer,
		Leeway:       cfg.TokenLeeway,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	accessChecker, err := access.NewChecker(access.Options{
		Remote: identityRemote,
		Cache:  accessCache,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize access Checker",
			zap.Error(err),
		)
	}

	vaultClient, err := vault.NewClient(vault.Options{
		Remote:        paymentRemote,
		Logger:        logger,
		EncryptionKey: cfg.CardEncryptionKey,
	})
	if err != nil {
		logger.Fatal("Cannot initialize vault Client",
			zap.Error(err),
		)
	}

	subscriptionClient, err := subscription.NewClient(subscription.Options{
		Remote:  subscriptionRemote,
		Logger:  logger,
		Country: cfg.DefaultCountry,
	})
	if err != nil {
		logger.Fatal("Cannot initialize subscription Client",
			zap.Error(err),
		)
	}

	fiscalClient, err := fiscal.NewClient(fiscal.Options{
		Wallet:   walletRemote,
		Identity: identityRemote,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize fiscal Client",
			zap.Error(err),
		)
	}

	satCatalog, err := fiscal.NewCatalog(commonsRemote, regimeCache, useCache, logger)
	if err != nil {
		logger.Fatal("Cannot initialize SAT Catalog",
			zap.Error(err),
		)
	}

	resolver, err := pricing.NewResolver(pricing.Options{
		TaxMode:        pricing.TaxMode(cfg.TaxMode),
		DefaultCountry: cfg.DefaultCountry,
		StrictCountry:  cfg.StrictCountry,
	})
	if err != nil {
		logger.Fatal("Cannot initialize price Resolver",
			zap.Error(err),
		)
	}

	cardValidator := vault.NewValidator(nil)

	runner, err := checkout.NewRunner(checkout.Options{
		Subscriptions: subscriptionClient,
		Cards:         vaultClient,
		Fiscal:        fiscalClient,
		Pricing:       resolver,
		Validator:     cardValidator,
		Logger:        logger,
		SuccessURL:    cfg.SuccessURL,
		Journal:       checkoutJournal,
		Events:        events,
		Metrics:       promMetrics,
	})
	if err != nil {
		logger.Fatal("Cannot initialize checkout Runner",
			zap.Error(err),
		)
	}

	checkoutRouter, err := checkout.NewService(checkout.ServiceOptions{
		Runner:     runner,
		Logger:     logger,
		Reconciler: reconciler,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Checkout Service Router",
			zap.Error(err),
		)
	}

	cardRouter, err := vault.NewService(vault.ServiceOptions{
		Vault:     vaultClient,
		Validator: cardValidator,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Card Service Router",
			zap.Error(err),
		)
	}

	fiscalRouter, err := fiscal.NewService(fiscal.ServiceOptions{
		Fiscal:  fiscalClient,
		Catalog: satCatalog,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Fiscal Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.RealIP)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(promMetrics.Middleware)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", access.ShopHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if conn != nil {
			if err := db.Ping(r.Context(), conn); err != nil {
				logger.Error("Database is unreachable", zap.Error(err))
				resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("database"))
				return
			}
		}
		resp.WriteResponse(w, r, map[string]string{"status": "ok", "version": Version})
	})
	rootRouter.Method(http.MethodGet, "/metrics", promMetrics.Handler())

	rootRouter.Group(func(r chi.Router) {
		r.Use(tokenAuth.Middleware())
		r.Use(tokenAuth.ClaimCheck())
		r.Use(accessChecker.Middleware())

		r.Mount("/checkout", checkoutRouter.Router())
		r.Mount("/cards", cardRouter.Router())
		r.Mount("/fiscal", fiscalRouter.Router())
	})

	srv := &http.Server{
		Handler:           rootRouter,
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Cannot shut down gracefully", zap.Error(err))
		}
	}()

	if reconciler != nil {
		go sweepUnfinished(ctx, logger, reconciler, time.Now().Add(-checkout.StaleAfter))
	}

	logger.Info("API listening", zap.String("Addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("API server stopped",
			zap.Error(err),
		)
	}
}
