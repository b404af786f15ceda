package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/spellduel/internal/config"
	"github.com/DoyleJ11/spellduel/internal/httpapi"
	"github.com/DoyleJ11/spellduel/internal/hub"
	"github.com/DoyleJ11/spellduel/internal/logging"
	"github.com/DoyleJ11/spellduel/internal/store"
	"github.com/DoyleJ11/spellduel/internal/ws"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "spellduel-server",
		Short:   "Relay and challenge store for live spelling duels.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cfg.RegisterFlags(cmd.Flags())
	envErr := config.ApplyEnv(cmd.Flags())
	cmd.PreRunE = func(*cobra.Command, []string) error { return envErr }

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("spellduel-server v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

func serve(parent context.Context, cfg *config.Config) (err error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	h := hub.NewHub(ctx, logger)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.SetupRoutes(h, st, ws.Options{IdleTimeout: cfg.IdleTimeout, WriteTimeout: cfg.SendTimeout}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("version", releaseVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks postgres when a database url is configured and keeps
// challenges in memory otherwise.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, challenges are kept in memory")
		return store.NewMemory(), func() error { return nil }, nil
	}
	gs, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return gs, gs.Close, nil
}
