// Package normalize converts producer-shaped records into canonical track
// updates. Producers disagree on field names for the same concept, so the
// mapping is a declarative alias table rather than per-feed branching.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dronewatch/tracker/internal/types"
)

// Validation bounds for telemetry fields.
const (
	MinAltitudeM     = -500.0
	MaxAltitudeM     = 20000.0
	MaxSpeedMS       = 1000.0
	MaxHeadingDeg    = 360.0
	MaxVerticalRate  = 100.0
	MaxTextLength    = 1000
	MaxTimestampSkew = 60 * time.Second
	MaxTimestampAge  = 24 * time.Hour
)

// aliases maps each canonical field to the producer field names observed in
// the wild, in precedence order.
var aliases = map[string][]string{
	"identity":      {"icao", "icao24", "address", "drone_id", "id"},
	"latitude":      {"lat", "latitude"},
	"longitude":     {"lon", "lng", "longitude"},
	"altitude":      {"alt", "alt_m", "altitude_m", "altitude"},
	"speed":         {"spd", "spd_ms", "ground_speed_ms", "speed"},
	"heading":       {"heading", "track"},
	"vertical_rate": {"vr", "climb_rate_ms", "vertical_rate"},
	"squawk":        {"squawk", "code"},
	"callsign":      {"flight", "callsign", "name"},
	"description":   {"description", "drone_description"},
	"notes":         {"notes"},
	"image_ref":     {"image_id", "image_ref", "photo_filename"},
	"on_ground":     {"on_ground"},
	"observed_at":   {"ts_unix", "timestamp", "event_ts", "last_seen"},
}

// Normalize converts one producer record into a canonical TrackUpdate or
// fails with a ValidationError. It is a pure function: now is injected and
// nothing is mutated or logged.
func Normalize(raw map[string]any, source string, now time.Time) (*types.TrackUpdate, error) {
	if source == "" {
		return nil, &types.ValidationError{Field: "source", Reason: "missing"}
	}

	u := &types.TrackUpdate{Source: source}

	if id, ok := lookupString(raw, "identity"); ok && id != "" {
		u.Identity = strings.ToLower(strings.TrimSpace(id))
	} else {
		u.Anonymous = true
	}

	lat, lon, err := extractPosition(raw)
	if err != nil {
		return nil, err
	}
	if lat < -90 || lat > 90 {
		return nil, &types.ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v out of range [-90, 90]", lat)}
	}
	if lon < -180 || lon > 180 {
		return nil, &types.ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v out of range [-180, 180]", lon)}
	}
	u.Latitude = lat
	u.Longitude = lon

	if v, ok := lookupFloat(raw, "altitude"); ok {
		if v < MinAltitudeM || v > MaxAltitudeM {
			return nil, &types.ValidationError{Field: "altitude", Reason: fmt.Sprintf("%v out of range [%v, %v] m", v, MinAltitudeM, MaxAltitudeM)}
		}
		u.Altitude = &v
	}
	if v, ok := lookupFloat(raw, "speed"); ok {
		if v < 0 || v > MaxSpeedMS {
			return nil, &types.ValidationError{Field: "speed", Reason: fmt.Sprintf("%v out of range [0, %v] m/s", v, MaxSpeedMS)}
		}
		u.Speed = &v
	}
	if v, ok := lookupFloat(raw, "heading"); ok {
		if v < 0 || v > MaxHeadingDeg {
			return nil, &types.ValidationError{Field: "heading", Reason: fmt.Sprintf("%v out of range [0, %v]", v, MaxHeadingDeg)}
		}
		u.Heading = &v
	}
	if v, ok := lookupFloat(raw, "vertical_rate"); ok {
		if v < -MaxVerticalRate || v > MaxVerticalRate {
			return nil, &types.ValidationError{Field: "vertical_rate", Reason: fmt.Sprintf("%v out of range [-%v, %v] m/s", v, MaxVerticalRate, MaxVerticalRate)}
		}
		u.VerticalRate = &v
	}
	if s, ok := lookupString(raw, "squawk"); ok && s != "" {
		if !digitsOnly(s) || len(s) > 4 {
			return nil, &types.ValidationError{Field: "squawk", Reason: fmt.Sprintf("%q is not a numeric code", s)}
		}
		u.Squawk = s
	}
	if b, ok := lookupBool(raw, "on_ground"); ok {
		u.OnGround = b
	}

	if ts, ok, err := lookupTime(raw); err != nil {
		return nil, err
	} else if ok {
		if ts.After(now.Add(MaxTimestampSkew)) {
			return nil, &types.ValidationError{Field: "timestamp", Reason: "in the future"}
		}
		if ts.Before(now.Add(-MaxTimestampAge)) {
			return nil, &types.ValidationError{Field: "timestamp", Reason: "older than 24h"}
		}
		u.ObservedAt = ts.UTC()
	}

	if s, ok := lookupString(raw, "callsign"); ok {
		u.Callsign = strings.TrimSpace(s)
	}
	if s, ok := lookupString(raw, "description"); ok {
		u.Description = SanitizeText(s)
	}
	if s, ok := lookupString(raw, "notes"); ok {
		u.Notes = SanitizeText(s)
	}
	if s, ok := lookupString(raw, "image_ref"); ok {
		// Opaque reference, never dereferenced here.
		u.ImageRef = strings.TrimSpace(s)
	}

	return u, nil
}

// extractPosition prefers an explicit GeoJSON-style position field over a
// separate lat/lon pair.
func extractPosition(raw map[string]any) (lat, lon float64, err error) {
	if pos, ok := raw["position"].(map[string]any); ok {
		coords, ok := pos["coordinates"].([]any)
		if !ok || len(coords) != 2 {
			return 0, 0, &types.ValidationError{Field: "position", Reason: "coordinates must be [lon, lat]"}
		}
		lonV, okLon := toFloat(coords[0])
		latV, okLat := toFloat(coords[1])
		if !okLon || !okLat {
			return 0, 0, &types.ValidationError{Field: "position", Reason: "coordinates must be numeric"}
		}
		return latV, lonV, nil
	}

	latV, okLat := lookupFloat(raw, "latitude")
	lonV, okLon := lookupFloat(raw, "longitude")
	if !okLat || !okLon {
		return 0, 0, &types.ValidationError{Field: "position", Reason: "record has neither position nor latitude/longitude"}
	}
	return latV, lonV, nil
}

// SanitizeText strips markup, collapses whitespace and caps the length of a
// free-text field.
func SanitizeText(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := strings.Join(strings.Fields(b.String()), " ")
	if utf8.RuneCountInString(out) > MaxTextLength {
		runes := []rune(out)
		out = string(runes[:MaxTextLength])
	}
	return out
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func lookup(raw map[string]any, field string) (any, bool) {
	for _, name := range aliases[field] {
		if v, ok := raw[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(raw map[string]any, field string) (string, bool) {
	v, ok := lookup(raw, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupFloat(raw map[string]any, field string) (float64, bool) {
	v, ok := lookup(raw, field)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func lookupBool(raw map[string]any, field string) (bool, bool) {
	v, ok := lookup(raw, field)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// lookupTime accepts unix seconds (number) or an RFC 3339 string.
func lookupTime(raw map[string]any) (time.Time, bool, error) {
	v, ok := lookup(raw, "observed_at")
	if !ok {
		return time.Time{}, false, nil
	}
	if f, ok := toFloat(v); ok {
		return time.Unix(int64(f), 0), true, nil
	}
	if s, ok := v.(string); ok {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false, &types.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("cannot parse %q", s)}
		}
		return ts, true, nil
	}
	return time.Time{}, false, &types.ValidationError{Field: "timestamp", Reason: "unsupported type"}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
