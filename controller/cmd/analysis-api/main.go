package analysisapi

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	promApi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	log "github.com/sirupsen/logrus"

	"github.com/sloscope/sloscope/controller/analysis"
	"github.com/sloscope/sloscope/controller/api"
	"github.com/sloscope/sloscope/controller/graph"
	"github.com/sloscope/sloscope/controller/slo"
	"github.com/sloscope/sloscope/controller/storage/postgres"
	"github.com/sloscope/sloscope/controller/telemetry"
	"github.com/sloscope/sloscope/pkg/admin"
	"github.com/sloscope/sloscope/pkg/flags"
)

// Main executes the analysis-api subcommand
func Main(args []string) {
	cmd := flag.NewFlagSet("analysis-api", flag.ExitOnError)

	addr := cmd.String("addr", ":8085", "address to serve on")
	metricsAddr := cmd.String("metrics-addr", ":9995", "address to serve scrapable metrics on")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")
	prometheusURL := cmd.String("prometheus-url", "http://127.0.0.1:9090", "prometheus url")
	postgresURL := cmd.String("postgres-url", "", "postgres connection string; empty runs the in-memory store")

	defaultTarget := cmd.Float64("default-target", 99.9, "availability target (percent) assumed when a service has no active SLO")
	defaultAvailability := cmd.Float64("default-availability", 0.999, "availability substituted for dependencies without telemetry")
	derateMultiplier := cmd.Float64("derate-multiplier", 11, "pessimism multiplier applied to published external SLAs")
	maxDepth := cmd.Int("max-depth", graph.MaxTraversalDepth, "default traversal depth for analysis")
	staleAfter := cmd.Duration("stale-after", graph.DefaultStaleThreshold, "how long an edge may go unobserved before it is marked stale")
	staleSweepInterval := cmd.Duration("stale-sweep-interval", time.Hour, "how often to run the staleness sweep")
	cycleSweepInterval := cmd.Duration("cycle-sweep-interval", 10*time.Minute, "how often to run cycle detection")

	flags.ConfigureAndParse(cmd, args)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ready := false
	go admin.StartServer(*metricsAddr, *enablePprof, &ready)

	ctx := context.Background()

	var store graph.Store
	var slos slo.Repository
	if *postgresURL != "" {
		db, err := postgres.Open(ctx, *postgresURL)
		if err != nil {
			log.Fatalf("Failed to open postgres: %s", err)
		}
		defer db.Close()
		store = postgres.NewGraphStore(db)
		slos = postgres.NewSLORepository(db)
		log.Info("using postgres-backed stores")
	} else {
		store = graph.NewMemoryStore()
		slos = slo.NewMemoryRepository()
		log.Warn("no -postgres-url given; state is in-memory and will not survive a restart")
	}

	promClient, err := promApi.NewClient(promApi.Config{Address: *prometheusURL})
	if err != nil {
		log.Fatal(err.Error())
	}

	cfg := analysis.DefaultConfig()
	cfg.DefaultTargetPct = *defaultTarget
	cfg.DefaultAvailability = *defaultAvailability
	cfg.ExternalDerateMultiplier = *derateMultiplier
	cfg.MaxDepth = *maxDepth

	reader := telemetry.NewPromReader(promv1.NewAPI(promClient), cfg.TelemetryTimeout)

	server := api.NewServer(*addr, api.Deps{
		Store:     store,
		Ingestor:  graph.NewIngestor(store),
		Analyzer:  analysis.NewAnalyzer(store, reader, slos, cfg),
		Lifecycle: slo.NewLifecycle(slos, slo.DefaultTierTargets()),
		SLOs:      slos,
	})

	sweepCtx, cancelSweeps := context.WithCancel(ctx)
	go staleSweep(sweepCtx, store, *staleAfter, *staleSweepInterval)
	go cycleSweep(sweepCtx, store, *cycleSweepInterval)

	go func() {
		log.Infof("starting HTTP server on %+v", *addr)
		server.ListenAndServe()
	}()

	ready = true

	<-stop

	log.Infof("shutting down HTTP server on %+v", *addr)
	cancelSweeps()
	server.Shutdown(context.Background())
}

func staleSweep(ctx context.Context, store graph.Store, threshold, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.MarkStaleEdges(ctx, threshold)
			if err != nil {
				log.Errorf("staleness sweep failed: %s", err)
				continue
			}
			if n > 0 {
				log.Infof("staleness sweep marked %d edges", n)
			}
		}
	}
}

func cycleSweep(ctx context.Context, store graph.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := graph.DetectCycles(ctx, store)
			if err != nil {
				log.Errorf("cycle sweep failed: %s", err)
				continue
			}
			if len(report.NewAlerts) > 0 {
				log.Warnf("cycle sweep opened %d new alerts", len(report.NewAlerts))
			}
		}
	}
}
