package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dronewatch/tracker/internal/types"
)

type capturingPublisher struct {
	batches []*types.BatchEnvelope
}

func (p *capturingPublisher) PublishBatch(batch *types.BatchEnvelope) error {
	p.batches = append(p.batches, batch)
	return nil
}

func writeDropFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRelayFile(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "radar-feed-20260901T120000.json",
		`[{"icao":"abc123","lat":50.85,"lon":4.35}]`)

	pub := &capturingPublisher{}
	if err := relayFile(pub, path); err != nil {
		t.Fatalf("relayFile() unexpected error: %v", err)
	}

	if len(pub.batches) != 1 {
		t.Fatalf("published %d batches, want 1", len(pub.batches))
	}
	b := pub.batches[0]
	if b.Source != types.SourceRadarFeed {
		t.Errorf("source = %q, want %q from the file name prefix", b.Source, types.SourceRadarFeed)
	}
	if b.BatchID == "" {
		t.Error("batch id not assigned")
	}
	if len(b.Records) != 1 || b.Records[0]["icao"] != "abc123" {
		t.Errorf("records = %v", b.Records)
	}
}

func TestRelayFile_EmptyBatch(t *testing.T) {
	dir := t.TempDir()
	path := writeDropFile(t, dir, "camera-0001.json", `[]`)

	pub := &capturingPublisher{}
	if err := relayFile(pub, path); err != nil {
		t.Fatalf("relayFile() unexpected error: %v", err)
	}
	if len(pub.batches) != 1 || len(pub.batches[0].Records) != 0 {
		t.Errorf("empty poll cycle must still publish a batch: %v", pub.batches)
	}
}

func TestRelayFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"no source prefix", "nodash.json", `[]`},
		{"unknown source prefix", "sonar-1.json", `[]`},
		{"not a json array", "radar-feed-1.json", `{"icao":"x"}`},
		{"invalid json", "camera-1.json", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDropFile(t, dir, tt.file, tt.content)
			pub := &capturingPublisher{}
			if err := relayFile(pub, path); err == nil {
				t.Error("relayFile() expected error")
			}
			if len(pub.batches) != 0 {
				t.Error("failed relay must not publish")
			}
		})
	}
}

func TestScanOnce_MovesRelayedFiles(t *testing.T) {
	dropDir := t.TempDir()
	doneDir := filepath.Join(dropDir, "processed")
	if err := os.MkdirAll(doneDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeDropFile(t, dropDir, "radar-feed-1.json", `[{"icao":"a1","lat":50.0,"lon":4.0}]`)
	writeDropFile(t, dropDir, "notes.txt", "ignored")
	writeDropFile(t, dropDir, "broken-1.json", `not json`)

	pub := &capturingPublisher{}
	scanOnce(pub, dropDir, doneDir)

	if len(pub.batches) != 1 {
		t.Fatalf("published %d batches, want 1", len(pub.batches))
	}
	if _, err := os.Stat(filepath.Join(doneDir, "radar-feed-1.json")); err != nil {
		t.Errorf("relayed file not moved to processed: %v", err)
	}
	// Failed and non-JSON files stay put for inspection.
	if _, err := os.Stat(filepath.Join(dropDir, "broken-1.json")); err != nil {
		t.Errorf("failed file moved away: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dropDir, "notes.txt")); err != nil {
		t.Errorf("non-json file touched: %v", err)
	}
}
