package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/camarigor/tribeminer/internal/api"
	"github.com/camarigor/tribeminer/internal/auth"
	"github.com/camarigor/tribeminer/internal/config"
	"github.com/camarigor/tribeminer/internal/pool"
	"github.com/camarigor/tribeminer/internal/storage"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	log.Println("TribeMiner starting...")

	// Load config (use defaults if file doesn't exist)
	cfg, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults", *configPath)
			cfg = config.DefaultConfig()
			// Save default config so it persists
			if saveErr := cfg.Save(*configPath); saveErr != nil {
				log.Printf("Warning: could not save default config: %v", saveErr)
			}
		} else {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Determine database path and ensure parent directory exists
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "tribeminer.db"
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", dbPath)

	// Initialize identity service
	authSvc := auth.NewService(store, cfg.Auth.SessionTTL)

	// Initialize and start the pool simulation engine
	poolSvc := pool.NewService(cfg.Pool, store)
	poolSvc.Start()
	log.Printf("Pool engine started (block roll every %s, retarget every %s)",
		cfg.Pool.BlockInterval, cfg.Pool.DifficultyInterval)

	// Sweep expired auth sessions periodically
	go func() {
		ticker := time.NewTicker(cfg.Auth.PurgeInterval)
		defer ticker.Stop()
		for range ticker.C {
			purged, err := store.PurgeExpiredAuthSessions(time.Now())
			if err != nil {
				log.Printf("Session purge error: %v", err)
			} else if purged > 0 {
				log.Printf("Purged %d expired auth sessions", purged)
			}
		}
	}()

	// Initialize and start HTTP server
	server := api.NewServer(cfg, store, authSvc, poolSvc)
	go func() {
		log.Printf("HTTP server starting on http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.Start(); err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Println("TribeMiner is running. Press Ctrl+C to stop.")

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("TribeMiner shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolSvc.Stop()
	if err := server.Stop(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("TribeMiner stopped")
}
