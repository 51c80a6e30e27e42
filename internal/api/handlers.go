package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dronewatch/tracker/internal/normalize"
	"github.com/dronewatch/tracker/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListPlanes serves the three read shapes: radius (lat/lon/radius),
// bounding box (bbox=min_lat,min_lon,max_lat,max_lon) and the default
// most-recently-seen listing.
func (s *Server) handleListPlanes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 100)

	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr != "" && lonStr != "" {
		lat, err1 := strconv.ParseFloat(latStr, 64)
		lon, err2 := strconv.ParseFloat(lonStr, 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "lat and lon must be numeric")
			return
		}
		radius := float64(parseIntDefault(q.Get("radius"), 5000))

		tracks, err := s.query.Near(r.Context(), lat, lon, radius, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tracks)
		return
	}

	if bbox := q.Get("bbox"); bbox != "" {
		parts := strings.Split(bbox, ",")
		if len(parts) != 4 {
			writeError(w, http.StatusBadRequest, "bbox must be min_lat,min_lon,max_lat,max_lon")
			return
		}
		vals := make([]float64, 4)
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bbox must be min_lat,min_lon,max_lat,max_lon")
				return
			}
			vals[i] = v
		}

		tracks, err := s.query.Within(r.Context(), vals[0], vals[1], vals[2], vals[3], limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tracks)
		return
	}

	tracks, err := s.query.Recent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleGetPlane(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	track, err := s.query.Get(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (s *Server) handleDeletePlane(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if err := s.query.Delete(r.Context(), identity); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": 1})
}

// handleSingleReport accepts one sighting report and runs it through the
// engine as a single-update batch for the report source. The staleness pass
// is a no-op for reports by policy.
func (s *Server) handleSingleReport(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	update, err := normalize.Normalize(raw, types.SourceReport, time.Now().UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := s.engine.ProcessBatch(r.Context(), types.SourceReport, []*types.TrackUpdate{update})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result.Rejected > 0 {
		writeError(w, http.StatusBadRequest, result.Results[0].Err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"identity": result.Results[0].Identity,
		"outcome":  result.Results[0].Outcome,
	})
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 100)

	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr != "" && lonStr != "" {
		lat, err1 := strconv.ParseFloat(latStr, 64)
		lon, err2 := strconv.ParseFloat(lonStr, 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "lat and lon must be numeric")
			return
		}
		radius := float64(parseIntDefault(q.Get("radius"), 5000))

		tracks, err := s.query.ArchivedNear(r.Context(), lat, lon, radius, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tracks)
		return
	}

	tracks, err := s.query.ArchivedRecent(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleManualArchive(w http.ResponseWriter, r *http.Request) {
	archived, deleted, err := s.migrator.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"archived": archived, "deleted": deleted})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	bySource, archived, err := s.query.Overview(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	total := 0
	for _, n := range bySource {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tracks":     total,
		"by_source":        bySource,
		"archived_reports": archived,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case types.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case types.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
