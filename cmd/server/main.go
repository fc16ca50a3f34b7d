package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/actionlog"
	"github.com/DoyleJ11/poker-table-backend/internal/config"
	"github.com/DoyleJ11/poker-table-backend/internal/conn"
	"github.com/DoyleJ11/poker-table-backend/internal/httpapi"
	"github.com/DoyleJ11/poker-table-backend/internal/server"
	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/DoyleJ11/poker-table-backend/internal/ws"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg config.Config, log *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []session.Option{session.WithLogger(log)}

	if cfg.DatabaseURL != "" {
		store, openErr := actionlog.Open(ctx, cfg.DatabaseURL)
		if openErr != nil {
			return openErr
		}
		rec := actionlog.NewRecorder(store, 1024, log.Named("actionlog"))
		opts = append(opts, session.WithRecorder(rec))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = multierr.Combine(err, rec.Close(closeCtx), store.Close())
			if n := rec.Dropped(); n > 0 {
				log.Warn("action log dropped events", zap.Int64("dropped", n))
			}
		}()
		log.Info("action log enabled")
	}

	initial := table.NewEmptyState(table.Rules{
		Seats:          cfg.Seats,
		BuyIn:          cfg.BuyIn,
		ReadyThreshold: cfg.ReadyThreshold,
	})
	coord := session.NewCoordinator(ctx, initial, opts...)

	// A bind failure is fatal before anything else starts serving.
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}

	connOpts := conn.Options{
		OutboxSize:   cfg.OutboxSize,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log.Named("conn"),
	}
	tcp := server.New(coord, server.Options{ReadIdleTimeout: cfg.ReadIdleTimeout, Conn: connOpts})

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(coord, ws.Options{
			ReadIdleTimeout: cfg.ReadIdleTimeout,
			Conn:            connOpts,
			OriginPatterns:  cfg.WSOrigins,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tcp.Serve(gctx, ln)
	})
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stop()
	<-coord.Done()
	log.Info("table shut down")
	return err
}
