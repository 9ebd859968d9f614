package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paygate-be/internal/boltstore"
	"paygate-be/internal/config"
	"paygate-be/internal/db"
	"paygate-be/internal/events"
	"paygate-be/internal/handler"
	"paygate-be/internal/invoice"
	"paygate-be/internal/logger"
	"paygate-be/internal/metrics"
	"paygate-be/internal/middleware"
	"paygate-be/internal/notification"
	"paygate-be/internal/payment"
	"paygate-be/internal/payment/webhook"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = listenAndServe
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// stores bundles the persistence backends selected by STORE_DRIVER.
type stores struct {
	invoices invoice.Repository
	webhooks payment.WebhookRepository
	close    func() error
}

func openStores(cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverBolt:
		s, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return &stores{invoices: s, webhooks: s, close: s.Close}, nil
	case config.StoreDriverPostgres:
		database := initDBFunc(cfg)
		return postgresStores(database), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func postgresStores(database *sql.DB) *stores {
	return &stores{
		invoices: invoice.NewRepository(database),
		webhooks: payment.NewRepository(database),
		close:    database.Close,
	}
}

func newPublisher(cfg *config.Config) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		return events.NewKafkaPublisher(cfg.KafkaBrokers)
	}
	return events.NewLogPublisher()
}

func newNotifier(cfg *config.Config) notification.Notifier {
	if cfg.EmailServiceURL != "" {
		return notification.NewHTTPNotifier(cfg.EmailServiceURL, cfg.GatewayTimeout)
	}
	return notification.NewLogNotifier()
}

func setupRouter(
	cfg *config.Config,
	limiter *middleware.Limiter,
	api *handler.Handler,
	webhookHandler http.HandlerFunc,
	metricsHandler http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.InternalSecretKey != "" {
		metricsHandler = middleware.RequireInternal(metricsHandler)
	}
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("POST /webhooks/razorpay", webhookHandler)
	api.Register(mux, middleware.RequireAuth)

	var h http.Handler = mux
	h = limiter.Middleware(h)
	h = middleware.AuthMiddleware(cfg.JWTSecret)(h)
	h = logger.LoggingMiddleware(h)
	h = logger.RequestIDMiddleware(h)
	return h
}

func newServer(
	cfg *config.Config,
	st *stores,
	publisher events.Publisher,
	limiter *middleware.Limiter,
) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gateway := payment.NewRazorpayGateway(payment.RazorpayConfig{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		Timeout:   cfg.GatewayTimeout,
	}, m)

	paymentSvc := payment.NewService(payment.Deps{
		Invoices:  st.invoices,
		Webhooks:  st.webhooks,
		Gateway:   gateway,
		Publisher: publisher,
		Notifier:  newNotifier(cfg),
		Metrics:   m,
		Options: payment.Options{
			KeySecret:       cfg.RazorpayKeySecret,
			WebhookSecret:   cfg.RazorpayWebhookSecret,
			DefaultCurrency: cfg.DefaultCurrency,
			Topic:           cfg.KafkaTopic,
			GatewayTimeout:  cfg.GatewayTimeout,
		},
	})

	api := handler.NewHandler(paymentSvc)
	webhookHandler := webhook.NewWebhookHandler(paymentSvc)

	return setupRouter(cfg, limiter, api, webhookHandler.PaymentWebhookHandler,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	publisher := newPublisher(cfg)
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := middleware.NewLimiter(cfg.InternalSecretKey)
	go limiter.Run(ctx)

	router := newServer(cfg, st, publisher, limiter)

	logger.L().Info("payment server starting",
		zap.String("port", cfg.AppPort),
		zap.String("store", cfg.StoreDriver),
	)
	return startServerFunc(":"+cfg.AppPort, router)
}

// listenAndServe blocks until the server fails or the process is signalled,
// then drains in-flight requests.
func listenAndServe(addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
