package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/san-kum/biosim/internal/adapters/redis"
	"github.com/san-kum/biosim/internal/api"
	"github.com/san-kum/biosim/internal/logging"
	"github.com/san-kum/biosim/internal/progress"
)

type serveFlags struct {
	addr      string
	redisAddr string
	redisName string
	logLevel  string
	logFormat string
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve stored runs, and the progress of a remote job when --redis is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&f.redisAddr, "redis", "", "follow a job on this redis server")
	cmd.Flags().StringVar(&f.redisName, "redis-name", "default", "job name on the redis bus")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")
	return cmd
}

// remoteCancel forwards cancel requests to the job watching the bus.
type remoteCancel struct {
	bus *redis.Bus
	log *slog.Logger
}

func (c remoteCancel) Cancel() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.bus.RequestCancel(ctx); err != nil {
		c.log.Error("cancel request failed", "err", err)
	}
}

func serve(ctx context.Context, f *serveFlags) error {
	log, err := logging.New(f.logLevel, f.logFormat, os.Stderr)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	srv := &api.Server{Gatherer: prometheus.DefaultGatherer, Logger: log}

	if storeKind != "none" {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		srv.Store = st
	}

	if f.redisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: f.redisAddr})
		defer client.Close()
		bus := redis.New(client, f.redisName, redis.WithLogger(log))

		latest := &progress.Latest{}
		if u, err := bus.Latest(ctx); err == nil {
			latest.Report(u)
		}
		updates, err := bus.Subscribe(ctx)
		if err != nil {
			return err
		}
		go func() {
			for u := range updates {
				latest.Report(u)
			}
		}()
		srv.Progress = latest
		srv.Cancel = remoteCancel{bus: bus, log: log}
	}

	hs := &http.Server{
		Addr:              f.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	log.Info("api listening", "addr", f.addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdown)
	}
}
