package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/bridgekit/chainsettle/docs"
	"github.com/bridgekit/chainsettle/internal/audit"
	"github.com/bridgekit/chainsettle/internal/config"
	"github.com/bridgekit/chainsettle/internal/database"
	"github.com/bridgekit/chainsettle/internal/ledger"
	"github.com/bridgekit/chainsettle/internal/lock"
	"github.com/bridgekit/chainsettle/internal/obs"
	"github.com/bridgekit/chainsettle/internal/settlement"
	"github.com/bridgekit/chainsettle/internal/worker"
	apimw "github.com/bridgekit/chainsettle/pkg/middleware"
)

//	@title		ChainSettle API
//	@version	1.0
//	@description	Cross-chain settlement orchestration service
//	@BasePath	/api/v1

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := obs.NewLogger()
	metrics := obs.NewMetrics()

	// Initialize database connection (runs migrations)
	db, err := database.Open(ctx, database.Config{
		Driver: cfg.DatabaseDriver,
		URL:    cfg.DatabaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	// Ledger capability. The simulator stands in for real chain clients;
	// swap in production adapters here.
	chains := ledger.NewSimulator()

	// Settlement engine
	locks := lock.NewManager(db.DB, logger, metrics)
	store := settlement.NewStore(db.DB)
	events := audit.NewStore(db.DB)
	orchestrator := settlement.NewOrchestrator(store, locks, chains, events, logger, metrics, cfg.LockTTL)
	settlementHandler := settlement.NewHandler(orchestrator, events)

	// Worker pool drives pending settlements in the background
	pool := worker.NewPool(orchestrator, store, logger, cfg.WorkerCount, cfg.PollInterval)
	pool.Start(ctx)
	defer pool.Stop()

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.RequireAPIKey(cfg.APIKey))
		r.Mount("/settlements", settlementHandler.Routes())
	})

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Printf("Server starting on port %s", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
