package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/frecent/internal/engine"
	"github.com/lazypower/frecent/internal/server"
)

// ServeCmd starts the HTTP API server.
func ServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(a)
		},
	}
}

func runServe(a *app) error {
	db, err := openDB(a.cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	defaults := a.cfg.Settings()
	tracker := engine.NewTracker(db, engine.TrackerOptions{
		Debounce: a.cfg.Debounce(),
		Logger:   a.logger.With("component", "tracker"),
		Defaults: &defaults,
	})
	if err := tracker.Load(context.Background()); err != nil {
		return err
	}

	srv := server.New(db, tracker, VersionString(), a.logger.With("component", "server"))
	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(srv.Events().CloseAll)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("frecent serving", "addr", addr, "db", db.Path, "records", tracker.Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-done:
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	}
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownErr := httpServer.Shutdown(ctx)
	if err := tracker.Close(ctx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	return shutdownErr
}
