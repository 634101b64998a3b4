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

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/bidhall/bidhall-api/internal/handlers"
	"github.com/bidhall/bidhall-api/internal/models"
	"github.com/bidhall/bidhall-api/internal/notify"
	stripepay "github.com/bidhall/bidhall-api/internal/payment/stripe"
	"github.com/bidhall/bidhall-api/internal/realtime"
	"github.com/bidhall/bidhall-api/internal/services"
	"github.com/bidhall/bidhall-api/internal/store"
	"github.com/bidhall/bidhall-api/internal/worker"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// hubBids breaks the construction cycle between the hub, which places bids,
// and the bid service, which publishes through the hub
type hubBids struct {
	svc *services.BidService
}

func (b *hubBids) PlaceBid(ctx context.Context, itemID, bidderID string, amount decimal.Decimal) (*models.Bid, error) {
	return b.svc.PlaceBid(ctx, itemID, bidderID, amount)
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	var st store.Store
	if cfg.Database.Host == "" {
		logger.Warn("no database configured, using in-memory store")
		st = store.NewMemoryStore()
	} else {
		db, err := store.NewDatabase(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		st = db
	}

	// Real-time fan-out
	bids := &hubBids{}
	hub := realtime.NewHub(bids, logger)
	go hub.Run(ctx)

	var publishers realtime.Multi
	if cfg.Redis.Addr != "" {
		rp, err := realtime.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return err
		}
		defer rp.Close()
		// every node, this one included, feeds its hub from redis
		go func() {
			if err := rp.Relay(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
		publishers = append(publishers, rp)
	} else {
		publishers = append(publishers, hub)
	}
	if cfg.NATS.URL != "" {
		np, err := realtime.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer np.Close()
		publishers = append(publishers, np)
	}

	// Notifications
	var notifier services.Notifier
	var documents services.DocumentRenderer
	if cfg.RabbitMQ.URL != "" {
		queue, err := notify.NewQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.NotifyQueue, cfg.RabbitMQ.DocumentQueue)
		if err != nil {
			return err
		}
		defer queue.Close()
		notifier = notify.NewQueueNotifier(queue, cfg.RabbitMQ.NotifyQueue)
		documents = notify.NewQueueRenderer(queue, cfg.RabbitMQ.DocumentQueue)
	} else {
		logNotifier := notify.NewLogNotifier(logger)
		notifier, documents = logNotifier, logNotifier
	}
	notifier = notify.NewEmailNotifier(services.NewEmailService(cfg.Email), notifier)

	// Payment gateway
	var lookup services.PaymentLookup
	var verifier handlers.EventVerifier
	if cfg.Stripe.SecretKey != "" {
		lookup = stripepay.NewGateway(cfg.Stripe.SecretKey, nil)
	}
	if cfg.Stripe.WebhookSecret != "" {
		verifier = stripepay.NewProcessor(cfg.Stripe.WebhookSecret)
	}

	// Services
	authService := services.NewAuthService(cfg.Auth)
	bidService := services.NewBidService(st, publishers, logger)
	bids.svc = bidService
	invoiceService := services.NewInvoiceService(st, cfg.Billing, logger)
	auctionService := services.NewAuctionService(st, invoiceService, publishers, logger)
	settlementService := services.NewSettlementService(st, cfg.Billing, logger)
	dispatcher := services.NewDispatcher(st, notifier, documents, cfg.Worker, logger)
	paymentService := services.NewPaymentService(st, dispatcher, lookup, publishers, logger, cfg.Stripe.LookupTimeoutDuration())

	if cfg.Worker.Enabled {
		sweeper := worker.NewSweeper(auctionService, dispatcher, cfg.Worker, logger)
		if err := sweeper.Start(ctx); err != nil {
			return err
		}
	}

	router := handlers.NewRouter(handlers.Services{
		Auth:        authService,
		Bids:        bidService,
		Auctions:    auctionService,
		Invoices:    invoiceService,
		Settlements: settlementService,
		Payments:    paymentService,
		Verifier:    verifier,
		Hub:         hub,
	}, cfg.Server.AllowedOrigins, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
