package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront-sync/internal/cache"
	"github.com/fjod/storefront-sync/internal/checkout"
	"github.com/fjod/storefront-sync/internal/config"
	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/gateway"
	h "github.com/fjod/storefront-sync/internal/http"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/metrics"
	"github.com/fjod/storefront-sync/internal/notify"
	"github.com/fjod/storefront-sync/internal/payment"
	"github.com/fjod/storefront-sync/internal/poller"
	"github.com/fjod/storefront-sync/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Logger().WithError(err).Fatal("failed to load config")
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.App.ServiceName)
	log := logging.Logger()

	ctx := context.Background()
	reg := metrics.NewRegistry()
	feed := notify.NewFeed(50)

	store, err := cache.Open(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	log.WithField("backend", cfg.Storage.Backend).Info("storage ready")

	gw := gateway.NewClient(gateway.Options{
		BaseURL:         cfg.Gateway.BaseURL,
		Token:           cfg.Gateway.Token,
		Timeout:         cfg.Gateway.Timeout,
		BreakerFailures: cfg.Gateway.BreakerFailures,
		BreakerCooldown: cfg.Gateway.BreakerCooldown,
	})

	carts := service.NewStore(gw, store, service.Options{
		SessionID:        cfg.App.SessionID,
		Debounce:         cfg.Sync.Debounce,
		SnapshotDebounce: cfg.Sync.SnapshotDebounce,
		HydrateWorkers:   cfg.Sync.HydrateWorkers,
		Notifier:         feed,
		Metrics:          reg,
	})
	if err := carts.Restore(ctx); err != nil {
		log.WithError(err).Warn("failed to restore cart snapshot")
	}
	if _, err := carts.LoadUserCarts(ctx); err != nil {
		log.WithError(err).Warn("failed to load remote carts")
	}

	locations := checkout.NewLocations(domain.Location{})
	co := checkout.NewOrchestrator(carts, gw, locations, checkout.Options{
		Sessions: store,
		Notifier: feed,
		Metrics:  reg,
	})

	relay := payment.NewRelayOpener()
	payments := payment.NewOrchestrator(gw, relay, cfg.Payment, payment.Options{
		Sessions:   store,
		SessionKey: cfg.App.SessionID,
		Notifier:   feed,
		Metrics:    reg,
		OnRedirect: func(url string) {
			log.WithField("url", url).Info("payment finished, redirecting")
		},
	})
	if a, err := payments.Resume(ctx); err == nil {
		log.WithField("payment_reference", a.Session().PaymentReference).Info("resumed payment attempt")
	} else if !errors.Is(err, payment.ErrNoAttempt) {
		log.WithError(err).Warn("failed to resume payment attempt")
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	var orders *poller.Poller
	if len(cfg.Kafka.Brokers) > 0 {
		orders = poller.NewPoller(carts, cfg.Kafka)
		go orders.Run(pollCtx)
		log.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.OrderTopic}).Info("order event poller started")
	}

	srv := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: h.NewRouter(h.Deps{
			Store:     carts,
			Products:  gw,
			Checkout:  co,
			Locations: locations,
			Payments:  payments,
			Relay:     relay,
			Feed:      feed,
			Metrics:   reg,
			Timeout:   cfg.App.RequestTimeout,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.App.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("storefront sync listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	stopPoll()
	if orders != nil {
		orders.Close()
	}
	if err := payments.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("payment attempt did not stop in time")
	}
	if err := carts.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("pending cart writes were not flushed")
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("closing storage")
	}
	log.Info("storefront sync stopped")
}
