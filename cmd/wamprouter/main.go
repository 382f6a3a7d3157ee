// Command wamprouter serves WAMP realms over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/wamp-go/internal/logctx"
	"github.com/ggoodman/wamp-go/relay"
	redisrelay "github.com/ggoodman/wamp-go/relay/redis"
	"github.com/ggoodman/wamp-go/router"
	"github.com/ggoodman/wamp-go/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "wamprouter:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lvl, err := cfg.level()
	if err != nil {
		return err
	}
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	opts := []router.Option{
		router.WithLogger(log),
		router.WithAutoCreateRealms(cfg.AutoCreateRealms),
		router.WithPublisherExclusion(cfg.ExcludePublisher),
		router.WithMetricsRegisterer(reg),
	}

	var rl relay.Relay
	if cfg.RedisAddr != "" {
		rl, err = redisrelay.New(redisrelay.Config{RedisAddr: cfg.RedisAddr, KeyPrefix: cfg.RelayKeyPrefix})
		if err != nil {
			return fmt.Errorf("relay: %w", err)
		}
		defer rl.Close()
		opts = append(opts, router.WithRelay(rl))
	}

	r := router.New(opts...)
	for _, realm := range cfg.realmList() {
		if err := r.AddRealm(realm); err != nil {
			return fmt.Errorf("add realm %s: %w", realm, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, websocket.NewHandler(r.Serve, websocket.WithLogger(log)))
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("wamprouter.listen", slog.String("addr", cfg.ListenAddr), slog.String("path", cfg.Path), slog.String("node", r.NodeID()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("wamprouter.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown; closing
		// the router says GOODBYE to each of them.
		err := server.Shutdown(shutdownCtx)
		_ = r.Close()
		return err
	})

	return g.Wait()
}
