package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/api"
	"github.com/laylaymen/kriptobot-sub001/internal/config"
	"github.com/laylaymen/kriptobot-sub001/internal/controller"
	"github.com/laylaymen/kriptobot-sub001/internal/flagsink"
	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
	"github.com/laylaymen/kriptobot-sub001/internal/metrics"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/sample"
	"github.com/laylaymen/kriptobot-sub001/internal/storage"
	"github.com/laylaymen/kriptobot-sub001/internal/storage/sqlite"
)

func main() {
	cfg := parseFlags()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting bandit allocation server...")
	log.Printf("Config: port=%d, policy-dir=%s, sink=%s, tick=%s",
		cfg.Port, cfg.PolicyDirectory, cfg.SinkType, cfg.TickInterval)

	validator, err := policy.NewValidator(cfg.SchemaPath)
	if err != nil {
		log.Fatalf("Failed to initialize validator: %v", err)
	}

	// Create flag sink
	var sink flagsink.Sink
	switch cfg.SinkType {
	case "http":
		sinkCfg := flagsink.DefaultConfig(cfg.FlagsURL)
		sinkCfg.Timeout = cfg.SinkTimeout
		sink = flagsink.NewHTTPSink(sinkCfg)
		log.Printf("Using HTTP flag sink: %s", cfg.FlagsURL)

	case "memory":
		sink = flagsink.NewMemorySink()
		log.Printf("Using in-memory flag sink")

	default:
		log.Fatalf("Unknown sink type: %s", cfg.SinkType)
	}

	m := metrics.New()
	monitor := guardrail.NewMonitor(guardrail.DefaultSeverityMap())
	sampler := sample.NewSampler(rand.NewSource(time.Now().UnixNano()))

	ctrl := controller.New(controller.Config{
		TickInterval:        cfg.TickInterval,
		EnforceTimeout:      cfg.EnforceTimeout,
		IdempotencyTTL:      cfg.IdempotencyTTL,
		MaxConcurrentCycles: cfg.MaxConcurrentCycles,
	}, validator, monitor, sink, sampler, m)

	// Audit storage
	var audit storage.AuditStorage
	if cfg.DatabasePath != "" {
		store, err := sqlite.NewStore(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to open audit storage: %v", err)
		}
		defer store.Close()
		audit = store
		ctrl.SetAuditStorage(store)
		log.Printf("Audit storage: %s", cfg.DatabasePath)
	}

	// Load policies from disk, if a directory is configured
	if cfg.PolicyDirectory != "" {
		loadPolicies(ctrl, cfg.PolicyDirectory)
	}

	if err := ctrl.Start(); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	apiServer := api.NewServer(ctrl, audit, m, addr)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}

		ctrl.Stop()
		log.Println("Shutdown complete")
	}
}

// loadPolicies registers every valid policy document found on disk
func loadPolicies(ctrl *controller.Controller, dir string) {
	withFiles, errs := policy.LoadFromDirectory(dir)
	for _, e := range errs {
		log.Printf("Warning: %v", e)
	}

	now := time.Now()
	loaded := 0
	for _, wf := range withFiles {
		if _, err := ctrl.DefinePolicy(wf.Policy, controller.RoleOperator, now); err != nil {
			log.Printf("Warning: skipping %s: %v", wf.File, err)
			continue
		}
		loaded++
	}
	log.Printf("Loaded %d policies from %s", loaded, dir)
}

func parseFlags() config.Config {
	cfg := config.DefaultConfig()

	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server host")
	flag.StringVar(&cfg.PolicyDirectory, "policy-dir", cfg.PolicyDirectory, "Directory containing allocation policy YAML files")
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "Path to the policy JSON schema")
	flag.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "Allocation cycle interval")
	flag.DurationVar(&cfg.EnforceTimeout, "enforce-timeout", cfg.EnforceTimeout, "Timeout for flag system enforcement calls")
	flag.StringVar(&cfg.SinkType, "sink", cfg.SinkType, "Flag sink type (http|memory)")
	flag.StringVar(&cfg.FlagsURL, "flags-url", cfg.FlagsURL, "Flag system base URL (required for http sink)")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite audit database path (empty disables audit storage)")

	flag.Parse()

	return cfg
}
