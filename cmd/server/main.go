package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/koi-auction/bidding-engine/internal/arbiter"
	"github.com/koi-auction/bidding-engine/internal/clock"
	"github.com/koi-auction/bidding-engine/internal/hub"
	"github.com/koi-auction/bidding-engine/internal/httpapi"
	"github.com/koi-auction/bidding-engine/internal/identity"
	"github.com/koi-auction/bidding-engine/internal/obs"
	"github.com/koi-auction/bidding-engine/internal/storage"
)

func main() {
	_ = godotenv.Load()

	logger, err := obs.NewLogger(os.Getenv("DEV") == "1")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	addr := envOr("ADDR", ":8080")
	submitTimeout := envDuration("SUBMIT_TIMEOUT_MS", time.Millisecond, 2000)
	clk := clock.Config{
		ExtensionWindow:    envDuration("EXTENSION_WINDOW_SEC", time.Second, 300),
		ExtensionAmount:    envDuration("EXTENSION_AMOUNT_SEC", time.Second, 300),
		DescendingInterval: envDuration("DESC_INTERVAL_SEC", time.Second, 60),
	}

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics()
	metrics.Register(reg)

	var (
		source hub.Source
		sink   arbiter.Sink = arbiter.NopSink{}
		wsink  *storage.Sink
	)
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		db, err := storage.Open(dsn)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		if err := db.Migrate(); err != nil {
			logger.Fatal("migrate database", zap.Error(err))
		}
		source = db
		wsink = storage.NewSink(db, logger, metrics)
		sink = wsink
	} else {
		logger.Warn("DATABASE_DSN not set, running with in-memory lot source")
		source = storage.NewMemorySource()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, source, arbiter.Options{
		Clock:    clk,
		Verifier: identity.AllowAll{},
		Sink:     sink,
		Logger:   logger,
		Metrics:  metrics,
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: httpapi.SetupRoutes(h, logger, reg, submitTimeout),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		// Arbiters finish their in-flight message, then the sink drains.
		h.Shutdown()
		if wsink != nil {
			wsink.Close()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, unit time.Duration, def int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * unit
		}
	}
	return time.Duration(def) * unit
}
