package main

import (
	"context"
	"go-storefront/config"
	"go-storefront/payment/chain"
	"go-storefront/payment/currency"
	"go-storefront/payment/db"
	"go-storefront/payment/notify"
	"go-storefront/payment/order"
	"go-storefront/payment/store"
	"go-storefront/payment/sweep"
	"go-storefront/payment/wallet"
	"go-storefront/service"
	"go-storefront/utils"
	"go-storefront/web/controllers"
	"go-storefront/web/middleware"
	stlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	utils.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		stlog.Fatalln(err)
	}
	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		stlog.Fatalln("Error building logger:", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("payment service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	repos := store.New(conn)

	network, err := chain.LookupNetwork(cfg.Chain.ActiveNetwork)
	if err != nil {
		return err
	}
	endpoint := network.Endpoint(cfg.Chain.RPCURL, cfg.Chain.AlchemyAPIKey)
	reader, client, err := chain.Dial(ctx, network, endpoint, cfg.Chain.LookbackBlocks)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("connected to chain", zap.String("network", network.Name), zap.Int64("chain_id", network.ChainID))

	deriver, err := wallet.NewDeriver(cfg.Wallet.MasterSecret, logger)
	if err != nil {
		return err
	}
	book := wallet.NewAddressBook(deriver, repos.Users, logger)

	monitor := order.NewMonitor()
	restored, err := monitor.Restore(ctx, repos.Orders)
	if err != nil {
		return err
	}
	logger.Info("monitoring restored", zap.Int("orders", restored))

	matcher := order.NewMatcher(reader)
	mailer := notify.NewMailer(cfg.SMTP, cfg.WebHost)
	settler := order.NewSettler(repos, monitor, mailer, cfg.Payment.ReferralBonus, logger)
	sweeper := order.NewSweeper(repos.Orders, book, sweep.NewExecutor(reader, cfg.Treasury(), logger), monitor, logger)
	checkout := order.NewCheckout(repos, book, currency.NewQuoter(), monitor, order.CheckoutConfig{
		Network:               network,
		Window:                cfg.Payment.Window,
		RequiredConfirmations: cfg.Payment.RequiredConfirmations,
		DeliveryFee:           cfg.Payment.DeliveryFee,
	}, logger)
	confirmer := order.NewConfirmer(repos.Orders, matcher, reader, settler, sweeper, logger)
	scheduler := order.NewScheduler(repos.Orders, matcher, reader, settler, sweeper, monitor, order.SchedulerConfig{
		VerifyInterval:        cfg.Payment.VerifyInterval,
		SweepInterval:         cfg.Payment.SweepInterval,
		Concurrency:           cfg.Payment.Concurrency,
		RequiredConfirmations: cfg.Payment.RequiredConfirmations,
	}, logger)

	if cfg.Log.Format != "console" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	limiter := middleware.NewRateLimiter(30, time.Minute) // 30 requests/min/IP
	limiter.StartCleanup(ctx, 10*time.Minute)

	controllers.Register(r,
		&controllers.Payment{
			Orders:    repos.Orders,
			Checkout:  checkout,
			Confirmer: confirmer,
			Monitor:   monitor,
			Network:   network,
			Logger:    logger,
		},
		&controllers.Callbacks{
			Orders:         repos.Orders,
			Settler:        settler,
			PaystackSecret: cfg.Paystack.SecretKey,
			SeerBitSecret:  cfg.SeerBit.WebhookSecret,
			Logger:         logger,
		},
		middleware.RequireAuth(cfg.JWTSecret),
		limiter.Middleware(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(ctx)
	}()

	stopped := service.Start(ctx, "payment", cfg.HTTP.Host, cfg.HTTP.Port, r, logger)
	<-stopped.Done()

	// a server failure must stop the schedulers too
	cancel()
	<-schedulerDone
	logger.Info("schedulers stopped")
	return nil
}
