package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/matst80/ws2s/internal/config"
	"github.com/matst80/ws2s/internal/obs"
	"github.com/matst80/ws2s/internal/ratelimit"
	"github.com/matst80/ws2s/internal/relay"
)

func main() {
	var cfg Config
	kctx := kong.Parse(&cfg,
		kong.Name("ws2sd"),
		kong.Description("WebSocket to TCP socket bridge."),
		kong.UsageOnError(),
		kong.Configuration(config.TOML, "/etc/ws2s/ws2sd.toml", "~/.config/ws2s/ws2sd.toml"),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := run(ctx, &cfg)
	obs.Sync()
	kctx.FatalIfErrorf(err)
}

func run(ctx context.Context, cfg *Config) error {
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	obs.Info("server.start", obs.Fields{"listen": cfg.Listen, "path": cfg.Path, "metrics": cfg.Metrics})

	store, err := relay.NewStore(cfg.storeConfig())
	if err != nil {
		return err
	}
	if rs, ok := store.(*relay.RedisStore); ok {
		go rs.StartMaintenance(ctx)
	}
	limiter := ratelimit.New(cfg.rateConfig())
	go runPruneLoop(ctx, limiter, cfg.RatePrune)

	tlsConfig, err := createServerTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("tls config: %w", err)
	}
	ln, err := createListener(cfg.Listen, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	bridge := relay.NewServer(cfg.serverOptions(store, limiter))
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, bridge)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	metrics := &http.Server{Addr: cfg.Metrics, Handler: newMetricsMux(store, limiter, cfg.Instance), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("bridge server: %w", err)
		}
	}()
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": cfg.Metrics})
		}
	}()

	store.SetReady(true)
	obs.Info("server.ready", obs.Fields{"tls": tlsConfig != nil})

	select {
	case <-ctx.Done():
		obs.Info("server.shutdown.signal", obs.Fields{})
	case err = <-errc:
		obs.Error("server.failed", obs.Fields{"err": err.Error()})
	}
	store.SetClosing(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked WebSocket connections are not tracked by Shutdown
	_ = srv.Shutdown(shutdownCtx)
	bridge.Close()
	_ = metrics.Shutdown(shutdownCtx)
	obs.Info("server.shutdown.complete", obs.Fields{})
	return err
}

func runPruneLoop(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := limiter.Prune(interval); n > 0 {
				obs.Debug("ratelimit.prune", obs.Fields{"removed": n})
			}
		}
	}
}
