// Package journal appends received batches to a daily-rotated on-disk log.
// The journal is the local durable record of what was delivered: an audit
// trail for reconciliation outcomes and a replay source when a downstream
// store was unavailable.
package journal

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dronewatch/tracker/internal/types"
)

// Journal writes batch envelopes as JSON lines, one file per UTC day.
// Yesterday's file is gzip-compressed at rotation.
type Journal struct {
	outputDir string
	file      *os.File
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates a Journal writing under outputDir.
func New(outputDir string) *Journal {
	return &Journal{
		outputDir: outputDir,
		stopChan:  make(chan struct{}),
	}
}

// Start opens today's file and starts the rotation timer.
func (j *Journal) Start() error {
	if err := os.MkdirAll(j.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	if err := j.rotateFile(); err != nil {
		return err
	}

	j.wg.Add(1)
	go j.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer.
func (j *Journal) Stop() error {
	close(j.stopChan)
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// Append writes one batch envelope as a JSON line.
func (j *Journal) Append(batch *types.BatchEnvelope) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		if err := j.rotateFile(); err != nil {
			return err
		}
	}

	_, err = j.file.Write(append(data, '\n'))
	return err
}

// rotationTimer rotates at midnight UTC.
func (j *Journal) rotationTimer() {
	defer j.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		waitTime := nextMidnight.Sub(now)

		select {
		case <-time.After(waitTime):
			if err := j.rotateAndCompress(); err != nil {
				fmt.Printf("Error during journal rotation: %v\n", err)
			}
		case <-j.stopChan:
			return
		}
	}
}

func (j *Journal) rotateAndCompress() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		j.file.Close()
		j.file = nil
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	yesterdayFile := filepath.Join(j.outputDir, FileName(yesterday))

	if _, err := os.Stat(yesterdayFile); err == nil {
		if err := compressFile(yesterdayFile); err != nil {
			return fmt.Errorf("failed to compress journal file: %w", err)
		}
	}

	return j.rotateFile()
}

func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	if _, err := io.Copy(gz, source); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

func (j *Journal) rotateFile() error {
	filename := filepath.Join(j.outputDir, FileName(time.Now().UTC()))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}

	j.file = file
	return nil
}

// FileName returns the journal file name for a given day.
func FileName(day time.Time) string {
	return fmt.Sprintf("batches_%s.log", day.UTC().Format("2006-01-02"))
}
