package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/splitttr/collabhub/internal/auth"
	"github.com/splitttr/collabhub/internal/config"
	"github.com/splitttr/collabhub/internal/hub"
	"github.com/splitttr/collabhub/internal/session"
	"github.com/splitttr/collabhub/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the collaboration hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to yaml config file")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("jwt secret is required (JWT_SECRET or jwtSecret in config)")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := session.NewRegistry(st, nil)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	settings := hub.DefaultSettings()
	if cfg.SendBuffer > 0 {
		settings.SendBuffer = cfg.SendBuffer
	}
	handler := hub.NewHandler(registry, verifier, settings)

	r := mux.NewRouter()
	r.Handle("/ws/docs", handler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ping(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		glog.Infof("collabhub listening on %s", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	glog.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the configured store chain, waiting with exponential
// backoff for the backends to come up.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	var st store.Store
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := waitFor(ctx, "postgres", pg.Ping); err != nil {
			pg.Close()
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		glog.Infof("using postgres store")
		st = pg
	case cfg.BoltPath != "":
		b, err := store.NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		glog.Infof("using bolt store at %s", cfg.BoltPath)
		st = b
	default:
		glog.Warningf("no store configured, documents will not survive restarts")
		st = store.NewMemory()
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := waitFor(ctx, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			rdb.Close()
			st.Close()
			return nil, err
		}
		glog.Infof("snapshot cache enabled via redis at %s", cfg.RedisAddr)
		st = store.NewRedisCache(st, rdb, time.Duration(cfg.CacheTTL))
	}
	return st, nil
}

func waitFor(ctx context.Context, name string, ping func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		if err := ping(ctx); err != nil {
			glog.Warningf("waiting for %s: %v", name, err)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}
