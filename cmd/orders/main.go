// Package main запускает HTTP-сервер сервиса заказов маркетплейса.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-orders/internal/catalog"
	"github.com/mmeshcher/marketplace-orders/internal/config"
	"github.com/mmeshcher/marketplace-orders/internal/handler"
	"github.com/mmeshcher/marketplace-orders/internal/middleware"
	"github.com/mmeshcher/marketplace-orders/internal/notify"
	"github.com/mmeshcher/marketplace-orders/internal/observability"
	"github.com/mmeshcher/marketplace-orders/internal/repository"
	"github.com/mmeshcher/marketplace-orders/internal/service"
)

const notificationBuffer = 256

func newLogger(mode string) (*zap.Logger, error) {
	if mode == config.LogModeDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err.Error())
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err.Error())
		}
	}()

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, orders are kept in memory")
		repo = repository.NewMemoryRepository()
	}

	var quotes service.QuoteSource
	if cfg.CatalogAddress != "" {
		quotes = catalog.NewClient(cfg.CatalogAddress)
	} else {
		sugar.Warn("CATALOG_ADDRESS is empty, orders cannot be created from quotes")
	}

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if cfg.RedisAddr != "" {
		redisPublisher, err := notify.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
	}
	dispatcher := notify.NewDispatcher(publisher, logger, notificationBuffer)

	svc := service.NewService(repo, quotes, dispatcher, logger,
		service.WithAutoCompleteOnFirstUpload(cfg.AutoCompleteOnFirstUpload),
	)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	ln, err := net.Listen("tcp", cfg.RunAddress)
	if err != nil {
		sugar.Fatalw("listen error", "error", err.Error())
	}

	server := &http.Server{
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sugar.Infow("starting orders server", "addr", ln.Addr().String())
	if err := serve(ctx, ln, server, dispatcher, logger); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// serve обслуживает запросы до отмены ctx. Диспетчер уведомлений останавливается
// только после завершения server.Shutdown, чтобы уведомления незавершённых запросов были доставлены.
func serve(ctx context.Context, ln net.Listener, server *http.Server, dispatcher *notify.Dispatcher, logger *zap.Logger) error {
	sugar := logger.Sugar()
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		defer stopDispatch()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Infow("server stopped gracefully", "dropped_notifications", dispatcher.Dropped())
		return nil
	})

	return g.Wait()
}
