package types

import (
	"time"
)

// Source tags for track producers. The tag decides eviction and archival policy.
const (
	SourceRadarFeed   = "radar-feed"
	SourceGliderFeed  = "glider-feed"
	SourceCamera      = "camera"
	SourceRadarSensor = "radar-sensor"
	SourceReport      = "report"
)

// StalenessEnabled reports whether tracks of the given source are evicted by
// missed-cycle counting. Manual reports age out through archival instead.
func StalenessEnabled(source string) bool {
	switch source {
	case SourceRadarFeed, SourceGliderFeed, SourceCamera, SourceRadarSensor:
		return true
	}
	return false
}

// TrackUpdate is the canonical update shape produced by the normalizer.
// Optional telemetry fields are pointers so that absent and zero are distinct.
type TrackUpdate struct {
	Identity  string  `json:"identity"`
	Anonymous bool    `json:"anonymous"`
	Source    string  `json:"source"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Callsign     string   `json:"callsign,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`
	Squawk       string   `json:"squawk,omitempty"`
	OnGround     bool     `json:"on_ground"`

	Description string `json:"description,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// HistoryEntry is one retained prior position of a track.
type HistoryEntry struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// MaxHistoryEntries caps per-track history; the oldest entry is dropped when
// a new one would exceed the cap.
const MaxHistoryEntries = 50

// Track is the live current-state record for one tracked entity.
type Track struct {
	Identity  string  `json:"identity"`
	Anonymous bool    `json:"anonymous"`
	Source    string  `json:"source"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	CellKey   string  `json:"cell_key"`

	Callsign     string   `json:"callsign,omitempty"`
	Altitude     *float64 `json:"altitude,omitempty"`
	Speed        *float64 `json:"speed,omitempty"`
	Heading      *float64 `json:"heading,omitempty"`
	VerticalRate *float64 `json:"vertical_rate,omitempty"`
	Squawk       string   `json:"squawk,omitempty"`
	OnGround     bool     `json:"on_ground"`

	Description string `json:"description,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`

	FirstSeen    time.Time      `json:"first_seen"`
	LastSeen     time.Time      `json:"last_seen"`
	UpdatedAt    time.Time      `json:"updated_at"`
	MissedCycles int            `json:"missed_cycles"`
	History      []HistoryEntry `json:"history,omitempty"`
	Visible      bool           `json:"visible"`
}

// AppendHistory appends a prior-position entry, dropping the oldest entry once
// the cap is reached.
func (t *Track) AppendHistory(e HistoryEntry) {
	t.History = append(t.History, e)
	if len(t.History) > MaxHistoryEntries {
		t.History = t.History[len(t.History)-MaxHistoryEntries:]
	}
}

// ArchivedTrack is a track moved out of the live set.
type ArchivedTrack struct {
	Track
	ArchivedAt       time.Time `json:"archived_at"`
	OriginalLastSeen time.Time `json:"original_last_seen"`
}

// Outcome is the per-update result of a reconciliation pass.
type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUpdated         Outcome = "updated"
	OutcomeRemovedOnGround Outcome = "removed-on-ground"
	OutcomeError           Outcome = "error"
)

// UpdateResult pairs one update with its outcome.
type UpdateResult struct {
	Identity string  `json:"identity"`
	Outcome  Outcome `json:"outcome"`
	Err      string  `json:"error,omitempty"`
}

// BatchResult summarizes one reconciled batch.
type BatchResult struct {
	Source      string         `json:"source"`
	Results     []UpdateResult `json:"results"`
	Created     int            `json:"created"`
	Updated     int            `json:"updated"`
	Removed     int            `json:"removed"`
	Rejected    int            `json:"rejected"`
	Evicted     int            `json:"evicted"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// BatchEnvelope is the wire shape a feed poller publishes for one poll cycle.
// Records are producer-shaped; the normalizer maps them to TrackUpdates.
type BatchEnvelope struct {
	BatchID   string           `json:"batch_id"`
	Source    string           `json:"source"`
	Records   []map[string]any `json:"records"`
	Collected time.Time        `json:"collected"`
}
