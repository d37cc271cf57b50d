package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/anchorpay/settlement/internal/config"
	"github.com/anchorpay/settlement/internal/database"
	"github.com/anchorpay/settlement/internal/exchange"
	"github.com/anchorpay/settlement/internal/handler"
	"github.com/anchorpay/settlement/internal/keys"
	"github.com/anchorpay/settlement/internal/ledger"
	"github.com/anchorpay/settlement/internal/middleware"
	"github.com/anchorpay/settlement/internal/repository"
	"github.com/anchorpay/settlement/internal/scheduler"
	"github.com/anchorpay/settlement/internal/secrets"
	"github.com/anchorpay/settlement/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	gin.SetMode(cfg.GinMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.DatabaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := database.RunMigrations(cfg.DatabaseURL()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	secretProvider, err := buildSecretProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build secret provider")
	}
	if err := ensureMasterSecret(ctx, secretProvider); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize master secret")
	}

	merchantRepo := repository.NewMerchantRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	settlementRepo := repository.NewSettlementRepository(pool)
	reconRepo := repository.NewReconciliationRepository(pool)
	webhookRepo := repository.NewWebhookRepository(pool)

	deriver := keys.NewDeriver(secretProvider)
	ledgerClient := ledger.NewHTTPClient(cfg.HorizonURL, cfg.LedgerTimeout)
	exchangeClient := exchange.NewHTTPClient(cfg.ExchangeURL, cfg.ExchangeAPIKey, cfg.ExchangeTimeout)

	webhookSvc := service.NewWebhookService(webhookRepo, merchantRepo,
		cfg.WebhookSecret, cfg.WebhookTimeout, cfg.WebhookMaxRetries)
	monitorSvc := service.NewMonitorService(paymentRepo, ledgerClient, webhookSvc,
		cfg.AssetCode, cfg.AssetIssuer, cfg.MonitorPageLimit, cfg.MonitorInterval)
	settlementSvc := service.NewSettlementService(paymentRepo, settlementRepo, merchantRepo,
		exchangeClient, webhookSvc, cfg.FeePercent, cfg.SettlementBatchSize)
	reconSvc := service.NewReconciliationService(reconRepo,
		cfg.DiscrepancyThreshold, cfg.FeePercent, cfg.FeeDeviationPoints)
	billingSvc := service.NewBillingService(merchantRepo, webhookSvc)
	paymentSvc := service.NewPaymentService(paymentRepo, merchantRepo, deriver, cfg.MonitorExpiry)

	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(gin.Recovery())

	healthHandler := handler.NewHealthHandler(pool, secretProvider)
	router.GET("/health", healthHandler.Health)
	setupAPIRoutes(router, paymentSvc, settlementSvc, reconSvc, webhookSvc, webhookRepo)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := scheduler.New(
		&scheduler.Job{
			Name:     "settlement-cycle",
			Interval: cfg.SettlementInterval,
			Run: func(ctx context.Context) error {
				_, err := settlementSvc.RunBatch(ctx)
				return err
			},
		},
		&scheduler.Job{
			Name:     "webhook-retry-pump",
			Interval: time.Minute,
			Run: func(ctx context.Context) error {
				_, err := webhookSvc.RetryDue(ctx, 100)
				return err
			},
		},
		&scheduler.Job{
			Name:     "billing-renewal",
			Interval: cfg.BillingInterval,
			Run: func(ctx context.Context) error {
				_, err := billingSvc.Run(ctx)
				return err
			},
		},
	)

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return monitorSvc.Run(groupCtx) })
	group.Go(func() error { return jobs.Start(groupCtx) })
	group.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server exited")
}

// ensureMasterSecret generates and stores a fresh master secret on first
// boot. Rotating an existing secret is a deliberate operator action, never
// done here.
func ensureMasterSecret(ctx context.Context, provider secrets.Provider) error {
	if _, err := provider.GetMasterSecret(ctx); err == nil {
		return nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	if err := provider.StoreMasterSecret(ctx, secret); err != nil {
		return err
	}
	log.Info().Str("provider", provider.Name()).Msg("initialized new master secret")
	return nil
}

func buildSecretProvider(cfg *config.Config) (secrets.Provider, error) {
	switch cfg.SecretProvider {
	case "kms":
		client := secrets.NewHTTPKMSClient(cfg.KMSEndpoint)
		store := &secrets.FileCiphertextStore{Path: cfg.SecretFilePath}
		return secrets.NewKMSProvider(client, store, cfg.KMSKeyID, cfg.KMSCacheTTL)
	default:
		return secrets.NewLocalProvider(cfg.SecretPassphrase, cfg.SecretFilePath)
	}
}

func setupAPIRoutes(router *gin.Engine, paymentSvc *service.PaymentService, settlementSvc *service.SettlementService, reconSvc *service.ReconciliationService, webhookSvc *service.WebhookService, webhookRepo *repository.WebhookRepository) {
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	settlementHandler := handler.NewSettlementHandler(settlementSvc)
	reconHandler := handler.NewReconciliationHandler(reconSvc)
	webhookHandler := handler.NewWebhookHandler(webhookSvc, webhookRepo)

	api := router.Group("/api/v1")
	{
		api.POST("/merchants/:merchantId/payments", paymentHandler.Create)
		api.GET("/payments/:id", paymentHandler.Get)

		api.GET("/settlements/status", settlementHandler.Status)
		api.POST("/settlements/run", settlementHandler.Run)

		api.POST("/reconciliation/run", reconHandler.Run)
		api.GET("/reconciliation/summary", reconHandler.Summary)
		api.GET("/reconciliation/:id", reconHandler.Get)
		api.POST("/reconciliation/:id/review", reconHandler.Review)
		api.POST("/reconciliation/alerts/:id/acknowledge", reconHandler.AcknowledgeAlert)

		api.POST("/webhooks/:id/retry", webhookHandler.Retry)
		api.GET("/merchants/:merchantId/webhooks", webhookHandler.ListByMerchant)
	}
}
