// The ingestor relays producer batch files from a drop directory onto the
// batch stream. Feed pollers that cannot reach NATS directly write their
// poll cycle as <source>-<anything>.json into the directory; the ingestor
// publishes each file as one batch and moves it aside.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dronewatch/tracker/internal/config"
	"github.com/dronewatch/tracker/internal/nats"
	"github.com/dronewatch/tracker/internal/types"
)

const scanInterval = 5 * time.Second

type publisher interface {
	PublishBatch(batch *types.BatchEnvelope) error
}

// knownSources orders the recognized source tags longest first so that
// "radar-feed-*.json" is not misread as the radar-sensor tag's sibling.
var knownSources = []string{
	types.SourceRadarSensor,
	types.SourceGliderFeed,
	types.SourceRadarFeed,
	types.SourceCamera,
	types.SourceReport,
}

// relayFile publishes one drop file as a batch envelope. The source tag is
// the file name prefix.
func relayFile(pub publisher, path string) error {
	base := filepath.Base(path)
	source := ""
	for _, tag := range knownSources {
		if strings.HasPrefix(base, tag+"-") {
			source = tag
			break
		}
	}
	if source == "" {
		return fmt.Errorf("cannot derive source from file name %q", base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return pub.PublishBatch(&types.BatchEnvelope{
		BatchID:   uuid.New().String(),
		Source:    source,
		Records:   records,
		Collected: time.Now().UTC(),
	})
}

func scanOnce(pub publisher, dropDir, doneDir string) {
	entries, err := os.ReadDir(dropDir)
	if err != nil {
		log.Printf("Warning: failed to scan drop directory: %v", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dropDir, entry.Name())
		if err := relayFile(pub, path); err != nil {
			log.Printf("Warning: failed to relay %s: %v", entry.Name(), err)
			continue
		}
		if err := os.Rename(path, filepath.Join(doneDir, entry.Name())); err != nil {
			log.Printf("Warning: failed to move relayed file %s: %v", entry.Name(), err)
		}
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dropDir := os.Getenv("DROP_DIR")
	if dropDir == "" {
		dropDir = "./drop"
	}
	doneDir := filepath.Join(dropDir, "processed")
	if err := os.MkdirAll(doneDir, 0o755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}

	client, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer client.Close()

	log.Printf("Ingestor watching %s", dropDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			return nil
		case <-ticker.C:
			scanOnce(client, dropDir, doneDir)
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Printf("ingestor: %v", err)
		os.Exit(1)
	}
}
