package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dronewatch/tracker/internal/api"
	"github.com/dronewatch/tracker/internal/archive"
	"github.com/dronewatch/tracker/internal/config"
	"github.com/dronewatch/tracker/internal/counter"
	"github.com/dronewatch/tracker/internal/engine"
	"github.com/dronewatch/tracker/internal/query"
	"github.com/dronewatch/tracker/internal/store"
)

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var live store.LiveStore
	var arch store.ArchiveStore
	if cfg.StoreKind == "memory" {
		log.Println("Using in-memory store (development mode, state is not persisted)")
		live, arch = store.NewMemoryLive(), store.NewMemoryArchive()
	} else {
		live, arch, err = store.Open(cfg.DBConnStr)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
	}
	defer func() {
		if err := live.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing live store: %v\n", err)
		}
	}()

	var counters counter.Store
	if cfg.RedisAddr != "" {
		counters, err = counter.NewRedis(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to create Redis counter store: %w", err)
		}
	} else {
		log.Println("REDIS_ADDR not set, rate counters are process-local")
		counters = counter.NewMemory()
	}
	defer func() {
		if err := counters.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing counter store: %v\n", err)
		}
	}()

	eng := engine.New(live, engine.WithEvictionThreshold(cfg.EvictionThreshold))
	migrator := archive.New(live, arch, archive.WithMaxAge(cfg.ArchiveMaxAge))

	server := api.New(api.Config{
		Query:      query.New(live, arch),
		Engine:     eng,
		Migrator:   migrator,
		Counters:   counters,
		RatePerMin: cfg.RatePerMinute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	log.Printf("API listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Printf("api: %v", err)
		os.Exit(1)
	}
}
