package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"listing_alerts/api"
	"listing_alerts/cache"
	"listing_alerts/config"
	"listing_alerts/httputil"
	"listing_alerts/logging"
	"listing_alerts/notify"
	"listing_alerts/scheduler"
	"listing_alerts/services"
	"listing_alerts/source"
	"listing_alerts/storage"
	"listing_alerts/workers"
)

var (
	cycleNow = flag.Bool("cycle", false, "Run one alert cycle (ignoring the check interval) and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.Logging.File, cfg.Logging.MaxBytes)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting listing alerts...")
	log.Printf("Source: %s (%s)", cfg.Source.Name, cfg.Source.Endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite always holds operational data: runs, logs, commands, retries
	sqliteStore, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.Database.Path)

	var domain storage.DomainStore = sqliteStore
	if cfg.Database.URL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		domain = pgStore
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Database.URL))
	}

	browseCache, err := cache.New(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to create cache: %v", err)
	}
	defer browseCache.Close()
	log.Printf("Cache: %s (ttl %s)", cfg.Cache.Type, cfg.Cache.TTL)

	clients, err := httputil.NewClients(&cfg.Proxy, cfg.Source.Timeout)
	if err != nil {
		log.Fatalf("Failed to create HTTP clients: %v", err)
	}
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, clients.Telegram)
		if err != nil {
			log.Fatalf("Failed to connect to Telegram: %v", err)
		}
		dispatcher = tg
	} else {
		log.Println("TELEGRAM_TOKEN not set, notifications are logged only")
	}

	listingService := services.NewListingService(domain, browseCache, cfg.Cache.TTL)
	userService := services.NewUserService(domain)
	alertService := services.NewAlertService(domain, domain)
	ledger := services.NewLedger(domain)
	matcher := services.NewMatcher(domain, domain)

	log.Println("Services initialized")

	state := scheduler.NewState(sqliteStore)
	cycle := scheduler.NewAlertCycle(
		scheduler.CycleConfig{
			CheckInterval: cfg.Scheduler.CheckInterval,
			DispatchDelay: cfg.Scheduler.DispatchDelay,
		},
		state,
		source.NewWordPress(cfg.Source, clients.Source),
		listingService,
		alertService,
		matcher,
		ledger,
		dispatcher,
		sqliteStore,
	)

	if *cycleNow {
		log.Println("Running alert cycle...")
		if err := state.Load(ctx); err != nil {
			log.Fatalf("Failed to load scheduler state: %v", err)
		}
		run, err := cycle.Run(ctx, true)
		if err != nil {
			log.Fatalf("Cycle failed: %v", err)
		}
		log.Printf("Cycle complete: %d fetched, %d new, %d sent",
			run.ListingsFetched, run.ListingsNew, run.NotificationsSent)
		return
	}

	// Daemon mode
	retryWorker := workers.NewRetryWorker(sqliteStore, listingService, userService, ledger, dispatcher, cfg.Scheduler.DispatchDelay)
	retryWorker.SetLogger(workers.StoreLogger(sqliteStore))

	sched := scheduler.New(cfg.Scheduler, cycle, sqliteStore)
	sched.SetRetryWorker(retryWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go retryWorker.Run(ctx, cfg.Retry.BatchSize, cfg.Retry.Interval)
	log.Println("Retry worker started")

	handler := api.NewHandler(sched, sqliteStore, userService, alertService, listingService)
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.NewRouter(handler, cfg.HTTP.APIKey),
	}
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	if cfg.HTTP.APIKey == "" {
		log.Println("API_KEY not set, HTTP API is unauthenticated")
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Println("Goodbye!")
}

// maskConnectionString hides the password part of a URL-style connection string.
func maskConnectionString(connStr string) string {
	scheme := strings.Index(connStr, "://")
	if scheme < 0 {
		return connStr
	}
	rest := connStr[scheme+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return connStr
	}
	colon := strings.Index(rest[:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:scheme+3] + rest[:colon+1] + "****" + rest[at:]
}
