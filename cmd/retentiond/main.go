package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boxpulse/retention/internal/alerts"
	"github.com/boxpulse/retention/internal/api"
	"github.com/boxpulse/retention/internal/assist"
	"github.com/boxpulse/retention/internal/billing"
	"github.com/boxpulse/retention/internal/config"
	"github.com/boxpulse/retention/internal/escalation"
	"github.com/boxpulse/retention/internal/events"
	"github.com/boxpulse/retention/internal/health"
	"github.com/boxpulse/retention/internal/outcome"
	"github.com/boxpulse/retention/internal/risk"
	"github.com/boxpulse/retention/internal/scheduler"
	"github.com/boxpulse/retention/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile = flag.String("config", "config/config.yaml", "Configuration file path")
		showVer    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}
	if *showVer {
		showVersion()
		return
	}

	log.Printf("Starting retentiond v%s (commit: %s, built: %s)", version, commit, date)

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	st, err := store.NewNeo4jStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close(context.Background())

	// Event publishing
	var (
		alertPublisher      alerts.EventPublisher     = events.NopPublisher{}
		escalationPublisher escalation.EventPublisher = events.NopPublisher{}
		outcomePublisher    outcome.EventPublisher    = events.NopPublisher{}
		producer            events.Producer
	)
	if cfg.Kafka.Enabled {
		producer, err = events.NewProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("Failed to initialize event producer: %v", err)
		}
		defer producer.Close()
		publisher := events.NewPublisher(producer)
		alertPublisher = publisher
		escalationPublisher = publisher
		outcomePublisher = publisher
	}

	// Coach briefings
	var briefer alerts.Briefer
	if cfg.Assist.Enabled {
		briefer = assist.NewService(cfg.Assist)
	}

	// Engines
	riskEngine, err := risk.NewEngine(cfg.Risk, st, st)
	if err != nil {
		log.Fatalf("Failed to initialize risk engine: %v", err)
	}
	alertGenerator := alerts.NewGenerator(cfg.Alerts, st, st, alertPublisher, briefer)
	escalationEngine := escalation.NewEngine(cfg.Escalation, st, st, escalationPublisher)
	outcomeTracker := outcome.NewTracker(cfg.Outcome, st, st, outcomePublisher)
	reporter := escalation.NewReporter(st, st)

	// Billing guard
	guard := billing.NewGuard(cfg.Billing, st)

	// Health checks
	checker := health.NewHealthChecker()
	checker.Register(&health.StoreHealthCheck{Store: st})
	producerCheck := &health.ProducerHealthCheck{}
	if producer != nil {
		producerCheck.Probe = producer.Ping
	}
	checker.Register(producerCheck)

	// Scheduler
	sched := scheduler.NewScheduler(cfg.Scheduler, st, riskEngine, alertGenerator, escalationEngine, outcomeTracker, riskEngine, guard)
	sched.Start(ctx)

	// API gateway
	gateway := api.NewGateway(cfg.API, api.Deps{
		Retention:  st,
		Risk:       riskEngine,
		Alerts:     alertGenerator,
		Escalation: escalationEngine,
		Outcomes:   outcomeTracker,
		Reporter:   reporter,
		Health:     checker,
		MetricsProviders: map[string]func() interface{}{
			"risk":       func() interface{} { return riskEngine.GetMetrics() },
			"alerts":     func() interface{} { return alertGenerator.GetMetrics() },
			"escalation": func() interface{} { return escalationEngine.GetMetrics() },
			"outcomes":   func() interface{} { return outcomeTracker.GetMetrics() },
		},
	})

	go func() {
		if err := gateway.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Gateway stopped: %v", err)
			cancel()
		}
	}()

	waitForShutdown(cancel, gateway, sched)
}

func showHelp() {
	fmt.Printf(`retentiond - Member retention early-warning engine

Usage:
  retentiond [flags]

Flags:
  -config string
        Configuration file path (default "config/config.yaml")
  -version
        Show version information
  -help
        Show this help message

Examples:
  retentiond                                   # Start with default config
  retentiond -config config/production.yaml    # Start with production config
  retentiond -version                          # Show version
`)
}

func showVersion() {
	fmt.Printf("retentiond version %s\n", version)
	fmt.Printf("Commit: %s\n", commit)
	fmt.Printf("Built: %s\n", date)
}

func waitForShutdown(cancel context.CancelFunc, gateway *api.Gateway, sched *scheduler.Scheduler) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		log.Printf("Error during gateway shutdown: %v", err)
	}
	sched.Stop()

	cancel()
	log.Println("retentiond stopped")
}
