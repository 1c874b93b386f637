package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalog-dev/catalog-ingest/api"
	"github.com/catalog-dev/catalog-ingest/api/handlers"
	"github.com/catalog-dev/catalog-ingest/config"
	"github.com/catalog-dev/catalog-ingest/internal/database"
	"github.com/catalog-dev/catalog-ingest/internal/estimator"
	"github.com/catalog-dev/catalog-ingest/internal/hooks"
	"github.com/catalog-dev/catalog-ingest/internal/ingest"
	"github.com/catalog-dev/catalog-ingest/internal/rawstore"
	"github.com/catalog-dev/catalog-ingest/internal/resolver"
	"github.com/catalog-dev/catalog-ingest/internal/scheduler"
	"github.com/catalog-dev/catalog-ingest/internal/sources"
	"github.com/catalog-dev/catalog-ingest/internal/sources/b10f"
	"github.com/catalog-dev/catalog-ingest/internal/sources/caribbean"
	"github.com/catalog-dev/catalog-ingest/internal/sources/dti"
	"github.com/catalog-dev/catalog-ingest/internal/sources/duga"
	"github.com/catalog-dev/catalog-ingest/internal/sources/fc2"
	"github.com/catalog-dev/catalog-ingest/internal/sources/heyzo"
	"github.com/catalog-dev/catalog-ingest/internal/sources/mgs"
	"github.com/catalog-dev/catalog-ingest/internal/sources/sokmil"
	"github.com/catalog-dev/catalog-ingest/internal/sources/tokyohot"
	"github.com/catalog-dev/catalog-ingest/internal/vault"
)

func builtinSources(timeout time.Duration) []sources.Source {
	return []sources.Source{
		duga.New(duga.DefaultBaseURL, timeout),
		sokmil.New(sokmil.DefaultBaseURL, timeout),
		b10f.New(b10f.DefaultBaseURL, timeout),
		mgs.New(mgs.DefaultBaseURL, timeout),
		caribbean.New(caribbean.Caribbeancom, "", timeout),
		caribbean.New(caribbean.CaribbeancomPR, "", timeout),
		heyzo.New(heyzo.DefaultBaseURL, timeout),
		fc2.New(fc2.DefaultBaseURL, timeout),
		tokyohot.New(tokyohot.DefaultBaseURL, timeout),
		dti.New(dti.Ippondo, "", timeout),
		dti.New(dti.Jukkumusume, "", timeout),
		dti.New(dti.Pacopacomama, "", timeout),
	}
}

func main() {
	var (
		showVersion bool
		runSource   string
		reprocess   string
		totalsOnly  bool
		opts        ingest.Options
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&runSource, "run", "", "Run one ingestion of the given source and exit")
	flag.StringVar(&reprocess, "reprocess", "", "Reprocess stored captures of the given source and exit")
	flag.BoolVar(&totalsOnly, "totals", false, "Refresh and print catalog totals and exit")
	flag.IntVar(&opts.Limit, "limit", 0, "Maximum number of items (0 = no limit)")
	flag.IntVar(&opts.Offset, "offset", 0, "Number of items to skip")
	flag.StringVar(&opts.StartID, "start-id", "", "First id of an id range (sources with numeric ids)")
	flag.StringVar(&opts.EndID, "end-id", "", "Last id of an id range")
	flag.BoolVar(&opts.ForceReprocess, "force", false, "Parse captures even when unchanged")
	flag.BoolVar(&opts.EnableEnrichment, "enrich", false, "Call secondary endpoints to enrich records")
	flag.Parse()

	if showVersion {
		fmt.Println("catalog-ingest v" + handlers.Version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting catalog-ingest", "port", cfg.Port, "dataDir", cfg.DataDir, "dbDriver", cfg.DBDriver)

	db, err := database.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	v, err := vault.New(db, cfg.Passphrase)
	if err != nil {
		slog.Error("Failed to open credential vault", "error", err)
		os.Exit(1)
	}
	if !v.Configured() {
		slog.Warn("No passphrase configured, credentials cannot be stored and mutations are unauthenticated")
	}

	hooksManager := hooks.New(db)

	registry := sources.NewRegistry(db)
	registry.RegisterBuiltin(builtinSources(cfg.FetchTimeoutDuration())...)
	if v.Configured() {
		if err := registry.LoadCredentialsWithDecryptor(v); err != nil {
			slog.Error("Failed to load source credentials", "error", err)
		}
	}

	var blobs rawstore.BlobStore
	if cfg.Blob.Enabled {
		store, err := rawstore.NewMinIO(ctx, cfg.Blob)
		if err != nil {
			slog.Error("Failed to initialize blob store", "error", err)
			os.Exit(1)
		}
		blobs = store
	}
	raw := rawstore.New(db, blobs, cfg.Blob.MinBytes)

	runner := ingest.New(db, registry, raw, resolver.New(db), hooksManager, cfg)

	totals := estimator.New(db, estimator.WithTTL(cfg.TotalsTTLDuration()))
	for _, src := range registry.List() {
		if reporter, ok := src.(estimator.Reporter); ok {
			totals.RegisterReporter(src.ID(), src.Name(), reporter)
		}
	}

	switch {
	case runSource != "":
		os.Exit(runOnce(hooksManager, func() (*ingest.Stats, error) { return runner.Run(ctx, runSource, opts) }))
	case reprocess != "":
		os.Exit(runOnce(hooksManager, func() (*ingest.Stats, error) { return runner.Reprocess(ctx, reprocess, opts) }))
	case totalsOnly:
		results := totals.All(ctx, true)
		json.NewEncoder(os.Stdout).Encode(results)
		os.Exit(0)
	}

	sched := scheduler.New(registry, runner, totals, hooksManager, cfg.TotalsSchedule)

	doc, err := api.Load(ctx)
	if err != nil {
		slog.Error("Failed to load API document", "error", err)
		os.Exit(1)
	}
	validate, err := api.RequestValidator(doc)
	if err != nil {
		slog.Error("Failed to build request validator", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	handlers.New(db, v, registry, runner, sched, totals, hooksManager).Register(mux)
	mux.HandleFunc("GET /api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(api.Spec())
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      v.Middleware(validate(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}

	for _, p := range runner.ActiveRuns() {
		runner.Cancel(p.SourceID)
	}
	sched.Stop()
	hooksManager.Wait()
}

// runOnce executes a single job in the foreground and returns the exit code.
func runOnce(hooksManager *hooks.Manager, job func() (*ingest.Stats, error)) int {
	stats, err := job()
	hooksManager.Wait()
	if stats != nil {
		json.NewEncoder(os.Stdout).Encode(stats)
	}
	if err != nil {
		slog.Error("Job failed", "error", err)
		return 1
	}
	return 0
}
