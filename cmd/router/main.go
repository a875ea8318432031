// FILE: main.go
// Package main – program entrypoint.
//
// Boot sequence:
//   1) config.Load()           – .env + environment knobs, optional venue roster
//   2) wire chain client, cache, venue adapters, router, composer, shim
//   3) start the execution engine's tick loop
//   4) serve /healthz and /metrics
//   5) block on SIGINT/SIGTERM, then drain
//
// Flags:
//   -dry-run   Use the in-memory mock chain client. No live RPC client is
//              wired yet, so the mock is also used without this flag.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offermesh/router/internal/cache"
	"github.com/offermesh/router/internal/chainclient"
	"github.com/offermesh/router/internal/chainclient/mock"
	"github.com/offermesh/router/internal/composer"
	"github.com/offermesh/router/internal/confidential"
	"github.com/offermesh/router/internal/config"
	"github.com/offermesh/router/internal/engine"
	"github.com/offermesh/router/internal/model"
	"github.com/offermesh/router/internal/router"
	"github.com/offermesh/router/internal/venue"
)

func main() {
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "use the in-memory mock chain client instead of a live RPC endpoint")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	client := buildChainClient(dryRun)

	liquidityCache := cache.New(client, cache.Config{
		PackageID:    cfg.PackageID,
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	liquidityCache.Start(ctx)
	defer liquidityCache.Stop()

	adapters := buildVenues(cfg)
	venueAdapters := make([]venue.Adapter, 0, len(adapters))
	for _, a := range adapters {
		venueAdapters = append(venueAdapters, a)
	}

	r := router.New(liquidityCache, venueAdapters)

	reg := &adapterRegistry{byName: adapters, native: venue.NewNative(liquidityCache)}
	comp := composer.New(client, reg, composer.GasBudgets{
		Direct:    cfg.GasBudgetDirect,
		Composite: cfg.GasBudgetComposite,
	}, chainclient.ObjectID{})

	shim := confidential.NewHTTPShim(cfg.ConfidentialityBase, cfg.ConfidentialityKeyID, cfg.ConfidentialitySecret)

	policy := router.DefaultPolicy()
	policy.QuoteDeadline = cfg.QuoteDeadline
	policy.MaxNativeLegs = cfg.MaxNativeLegs
	policy.EnableSplits = cfg.EnableSplits

	eng := engine.New(liquidityCache, r, shim, comp, client, engine.Config{
		PollInterval:       cfg.ExecutorTick,
		RecentExecutionTTL: cfg.RecentTTL,
		MaxConcurrent:      cfg.MaxConcurrent,
		Policy:             policy,
	})
	eng.Start(ctx)
	defer eng.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Printf("serving /healthz and /metrics on %s", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func buildChainClient(dryRun bool) chainclient.Client {
	if dryRun {
		return mock.New()
	}
	// A live RPC-backed chainclient.Client belongs to the deployment's
	// own protocol SDK; wire the concrete implementation here when one is
	// available. Until then, dry-run mode is the only supported path.
	log.Println("no live chain client wired; falling back to the in-memory mock")
	return mock.New()
}

func buildVenues(cfg *config.Config) map[string]venue.Adapter {
	out := make(map[string]venue.Adapter)
	for _, v := range cfg.Venues {
		switch v.Kind {
		case "amm":
			// A concrete PoolReader belongs to the deployment's own chain
			// SDK; until one is wired here, an AMM roster entry is
			// accepted but left unreachable rather than registered
			// against a nil reader.
			log.Printf("skipping amm venue %s: no PoolReader wired", v.Name)
		case "clob":
			pem := os.Getenv(v.PrivateKeyEnv)
			adapter, err := venue.NewCLOB(v.Name, v.APIBase, v.KeyName, pem, v.SlippageBps)
			if err != nil {
				log.Printf("skipping clob venue %s: %v", v.Name, err)
				continue
			}
			out[v.Name] = adapter
		default:
			log.Printf("skipping venue %s: unknown kind %q", v.Name, v.Kind)
		}
	}
	return out
}

// adapterRegistry resolves composer.AdapterRegistry lookups by name,
// folding the native adapter in alongside the configured external ones.
type adapterRegistry struct {
	byName map[string]venue.Adapter
	native *venue.Native
}

func (r *adapterRegistry) Adapter(kind model.VenueKind, name string) (venue.Adapter, bool) {
	if kind == model.VenueNative || name == model.VenueNative.String() {
		return r.native, true
	}
	a, ok := r.byName[name]
	return a, ok
}
