package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dronewatch/tracker/internal/archive"
	"github.com/dronewatch/tracker/internal/config"
	"github.com/dronewatch/tracker/internal/engine"
	"github.com/dronewatch/tracker/internal/journal"
	"github.com/dronewatch/tracker/internal/nats"
	"github.com/dronewatch/tracker/internal/normalize"
	"github.com/dronewatch/tracker/internal/stats"
	"github.com/dronewatch/tracker/internal/store"
	"github.com/dronewatch/tracker/internal/types"
)

// BatchHandler routes incoming batch envelopes through normalization and
// reconciliation, journaling every envelope first.
type BatchHandler struct {
	engine  *engine.Engine
	journal *journal.Journal
	stats   *stats.Stats
	now     func() time.Time
}

// NewBatchHandler creates a handler over the engine and journal.
func NewBatchHandler(e *engine.Engine, j *journal.Journal, s *stats.Stats) *BatchHandler {
	return &BatchHandler{engine: e, journal: j, stats: s, now: time.Now}
}

// Handle processes one delivered batch envelope. Per-record normalization
// failures are rejected individually and do not abort the batch.
func (h *BatchHandler) Handle(ctx context.Context, batch *types.BatchEnvelope) (*types.BatchResult, error) {
	if h.journal != nil {
		if err := h.journal.Append(batch); err != nil {
			log.Printf("Warning: failed to journal batch %s: %v", batch.BatchID, err)
		}
	}

	now := h.now().UTC()
	updates := make([]*types.TrackUpdate, 0, len(batch.Records))
	rejected := 0
	for _, raw := range batch.Records {
		u, err := normalize.Normalize(raw, batch.Source, now)
		if err != nil {
			rejected++
			if h.stats != nil {
				h.stats.IncrementRejected()
			}
			log.Printf("Rejected record in batch %s: %v", batch.BatchID, err)
			continue
		}
		updates = append(updates, u)
	}

	result, err := h.engine.ProcessBatch(ctx, batch.Source, updates)
	if err != nil {
		return result, fmt.Errorf("failed to reconcile batch %s: %w", batch.BatchID, err)
	}
	result.Rejected += rejected
	return result, nil
}

// openStores picks the configured store backend.
func openStores(cfg *config.Config) (store.LiveStore, store.ArchiveStore, *store.StatsWriter, error) {
	if cfg.StoreKind == "memory" {
		log.Println("Using in-memory store (development mode, state is not persisted)")
		return store.NewMemoryLive(), store.NewMemoryArchive(), nil, nil
	}

	live, arch, err := store.Open(cfg.DBConnStr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return live, arch, store.StatsWriterFor(live), nil
}

// recordLiveTracks refreshes the live-track gauge from the store.
func recordLiveTracks(ctx context.Context, s *stats.Stats, live store.LiveStore) {
	counts, err := live.CountBySource(ctx)
	if err != nil {
		log.Printf("Warning: failed to count live tracks: %v", err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	s.SetLiveTracks(uint64(total))
}

func logStats(ctx context.Context, s *stats.Stats, live store.LiveStore) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recordLiveTracks(ctx, s, live)
			log.Printf("Statistics:\n%s", s)
		}
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	live, arch, statsSink, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := live.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing live store: %v\n", err)
		}
	}()

	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer natsClient.Close()

	st := stats.New()
	if statsSink != nil {
		st.SetSink(statsSink)
	}

	eng := engine.New(live,
		engine.WithEvictionThreshold(cfg.EvictionThreshold),
		engine.WithStats(st),
	)

	migrator := archive.New(live, arch,
		archive.WithInterval(cfg.ArchiveInterval),
		archive.WithMaxAge(cfg.ArchiveMaxAge),
		archive.WithStats(st),
	)

	jnl := journal.New(cfg.JournalDir)
	if err := jnl.Start(); err != nil {
		return fmt.Errorf("failed to start journal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go migrator.Run(ctx)
	go logStats(ctx, st, live)
	if statsSink != nil {
		go st.StartPersistence(ctx, 5*time.Minute)
	}

	handler := NewBatchHandler(eng, jnl, st)
	err = natsClient.SubscribeBatches(func(batch *types.BatchEnvelope) {
		result, err := handler.Handle(ctx, batch)
		if err != nil {
			log.Printf("Failed to process batch: %v", err)
			return
		}
		log.Printf("Reconciled %s batch: created=%d updated=%d removed=%d evicted=%d rejected=%d",
			batch.Source, result.Created, result.Updated, result.Removed, result.Evicted, result.Rejected)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to batches: %w", err)
	}

	log.Println("Tracker started, waiting for batches...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	if err := jnl.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing journal: %v\n", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Printf("tracker: %v", err)
		os.Exit(1)
	}
}
