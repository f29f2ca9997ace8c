package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docrelay/relay/internal/api"
	"github.com/docrelay/relay/internal/broker"
	"github.com/docrelay/relay/internal/registry"
	"github.com/docrelay/relay/internal/replica"
	"github.com/docrelay/relay/internal/session"
	"github.com/docrelay/relay/internal/snapshotstore"
	"github.com/docrelay/relay/internal/wire"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serverOptions struct {
	listenAddr string
	redisAddr  string
	serverID   string
	workers    int
	logLevel   string
}

func newServerOptions() *serverOptions {
	return &serverOptions{
		listenAddr: envOrDefault("LISTEN_ADDR", ":8080"),
		redisAddr:  os.Getenv("REDIS_ADDR"),
		serverID:   string(replica.FromEnv()),
		workers:    snapshotstore.DefaultWorkers,
		logLevel:   envOrDefault("LOG_LEVEL", "info"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func newRootCommand() *cobra.Command {
	opts := newServerOptions()

	cmd := &cobra.Command{
		Use:   "relayd",
		Short: "Run a replica of the collaborative document relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listenAddr, "listen", opts.listenAddr, "address to listen on")
	flags.StringVar(&opts.redisAddr, "redis-addr", opts.redisAddr, "redis address (empty uses an in-memory store, single replica only)")
	flags.StringVar(&opts.serverID, "server-id", opts.serverID, "this replica's identifier, stamped on every frame it originates")
	flags.IntVar(&opts.workers, "workers", opts.workers, "snapshot persistence worker pool size")
	flags.StringVar(&opts.logLevel, "log-level", opts.logLevel, "logrus level (debug, info, warn, error)")

	return cmd
}

func runServer(ctx context.Context, opts *serverOptions) error {
	log := logrus.New()

	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}

	log.SetLevel(level)

	self := replica.ID(opts.serverID)
	fields := log.WithField("replica_id", self.String())

	var store snapshotstore.Store

	var redisClient *redis.Client

	if opts.redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		store = snapshotstore.NewRedisStore(redisClient)
	} else {
		fields.Warn("no redis address configured; running with an in-memory snapshot store (no cross-replica fanout)")
		store = snapshotstore.NewMemoryStore()
	}

	pool := snapshotstore.NewPool(store, opts.workers, log)
	defer func() {
		pool.Flush(context.Background())
		pool.Stop()
	}()

	reg := registry.New(store, pool, log)

	mux := http.NewServeMux()

	var publisher session.Publisher = noopPublisher{}

	if redisClient != nil {
		b := broker.New(redisClient, self, reg, log)
		publisher = b

		subCtx, cancelSub := context.WithCancel(ctx)
		defer cancelSub()

		go func() {
			if err := b.Subscribe(subCtx); err != nil {
				fields.WithError(err).Error("broker subscription exited")
			}
		}()
	}

	handler := session.NewHandler(nil, reg, publisher, self, log)
	mux.Handle("/ws", handler)

	apiServer := api.NewServer(store, log)
	mux.Handle("/api/", apiServer.Handler())

	httpServer := &http.Server{
		Addr:              opts.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		fields.WithField("listen_addr", opts.listenAddr).Info("relayd listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err

			return
		}

		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigCh:
		fields.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

// noopPublisher is used when no bus is configured (single-replica, no
// redis-addr): local fanout still works, but nothing is published
// cross-replica.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, int, wire.Message) {}
