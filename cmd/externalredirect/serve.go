package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the publish hook and the redirect API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	rt, err := openRuntime(c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			c.log.WithError(err).Warn("closing storage failed")
		}
	}()

	handler, err := httpapi.NewServer(httpapi.Dependencies{
		Service:   rt.service,
		Nodes:     rt.repo,
		Publisher: rt.repo,
		Store:     rt.store,
		Logger:    c.log,
	}, httpapi.ServerConfig{
		JWTSecret:          c.cfg.Server.JWTSecret,
		InternalHMACSecret: c.cfg.Server.InternalHMACSecret,
		InternalMaxSkew:    c.cfg.Server.InternalMaxSkew,
		MaxBodyBytes:       c.cfg.Server.MaxBodyBytes,
	})
	if err != nil {
		return err
	}
	if c.cfg.Server.JWTSecret == "" || c.cfg.Server.InternalHMACSecret == "" {
		c.log.Warn("server secrets not configured, using development defaults")
	}

	if c.cfg.Content.Watch {
		go func() {
			if err := rt.repo.Watch(ctx); err != nil {
				c.log.WithError(err).Error("content watch stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              c.cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		c.log.WithField("addr", c.cfg.Server.Addr).Info("externalredirect listening")
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

	c.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
