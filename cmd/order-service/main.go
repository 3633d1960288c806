package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/order-saga/internal/config"
	"github.com/jcmexdev/order-saga/internal/httpx"
	"github.com/jcmexdev/order-saga/internal/notify"
	"github.com/jcmexdev/order-saga/internal/order"
	"github.com/jcmexdev/order-saga/internal/order/store/sqlite"
	"github.com/jcmexdev/order-saga/internal/outbox"
	"github.com/jcmexdev/order-saga/internal/pkg/cache"
	"github.com/jcmexdev/order-saga/internal/pkg/telemetry"
	"github.com/jcmexdev/order-saga/internal/rabbitmq"
)

const serviceName = "order-service"

func main() {
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, serviceName)
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open order store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Process-scoped broker connection: opened once, shared by the publisher
	// and the subscriber, released on shutdown.
	conn, ch, err := rabbitmq.SetupConn(cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.StockCheckQueue, cfg.StockResponseQueue); err != nil {
		slog.Error("failed to declare queues", "error", err)
		os.Exit(1)
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.SendGridAPIKey != "" {
		notifier = notify.NewSendGrid(cfg.SendGridAPIKey, cfg.SenderEmail, cfg.SenderName)
	}

	var orderCache cache.Cache
	if cfg.RedisAddr != "" {
		orderCache = cache.NewRedisCache(cfg.RedisAddr, serviceName)
	}

	svc := order.NewService(st, notifier, cfg.StockCheckQueue)
	relay := outbox.NewRelay(st, rabbitmq.NewPublisher(ch), cfg.OutboxInterval)
	subscriber := rabbitmq.NewSubscriber(ch, cfg.StockResponseQueue, svc)

	router := httpx.NewRouter(httpx.NewHandler(svc, orderCache))
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: otelhttp.NewHandler(router, "http.server"),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gCtx) })
	g.Go(func() error { return subscriber.Run(gCtx) })
	g.Go(func() error {
		slog.Info("order service running", "addr", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("service stopped")
}
