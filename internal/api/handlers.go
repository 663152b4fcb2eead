package api

import (
	"net/http"
	"strconv"
	"strings"

	"sdx/internal/errors"
	"sdx/internal/query"
	"sdx/internal/version"
)

// handleHealth returns service health, version, and index row counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	counts, err := s.engine.Status()
	if err != nil {
		writeError(w, err)
		return
	}

	data := map[string]interface{}{
		"status":  "healthy",
		"version": version.Version,
		"counts":  counts,
	}
	if report, at := s.coordinator.LastReport(); report != nil {
		data["last_scan_id"] = report.ScanID
		data["last_scan_at"] = at
	}
	writeData(w, data)
}

var testFilterKeys = map[string]bool{
	"project": true, "date": true, "scenario": true,
	"subject": true, "subject_id": true, "sensor_id": true,
}

// handleSearchTests handles GET /api/search/tests
func (s *Server) handleSearchTests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	for key := range q {
		if !testFilterKeys[key] {
			writeError(w, errors.Newf(errors.InvalidFilter, "unknown filter %q", key))
			return
		}
	}

	hits, err := s.engine.SearchTests(query.Filters{
		Project:   q.Get("project"),
		Date:      q.Get("date"),
		Scenario:  q.Get("scenario"),
		Subject:   q.Get("subject"),
		SubjectID: q.Get("subject_id"),
		SensorID:  q.Get("sensor_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, len(hits), hits)
}

// handleTestRoutes handles GET /api/tests/:id/paths and
// GET /api/tests/:id/sensors
func (s *Server) handleTestRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/tests/"), "/")
	if len(parts) != 2 {
		writeError(w, errors.New(errors.NotFound, "not found"))
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, errors.Newf(errors.InvalidFilter, "invalid test id %q", parts[0]))
		return
	}

	switch parts[1] {
	case "paths":
		bundle, err := s.engine.GetTestPaths(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, bundle)
	case "sensors":
		sensors, err := s.engine.GetTestSensors(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeList(w, len(sensors), sensors)
	default:
		writeError(w, errors.New(errors.NotFound, "not found"))
	}
}

var paramFilterKeys = map[string]bool{
	"subject_id": true, "scenario": true, "sensor_setting": true,
	"strategy": true, "model": true, "parameter_type": true, "data_type": true,
}

// handleSearchOptimization handles GET /api/search/optimization
func (s *Server) handleSearchOptimization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	for key := range q {
		if !paramFilterKeys[key] {
			writeError(w, errors.Newf(errors.InvalidFilter, "unknown filter %q", key))
			return
		}
	}

	filters := query.ParamFilters{
		SubjectID:     q.Get("subject_id"),
		Scenario:      q.Get("scenario"),
		SensorSetting: q.Get("sensor_setting"),
		ModelName:     q.Get("model"),
		ParameterType: q.Get("parameter_type"),
		DataType:      q.Get("data_type"),
	}
	if raw := q.Get("strategy"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, errors.Newf(errors.InvalidFilter, "strategy must be an integer, got %q", raw))
			return
		}
		filters.Strategy = &n
	}

	hits, err := s.engine.SearchParameters(filters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, len(hits), hits)
}

// handleGetParameter handles GET /api/optimization/parameters/:id
func (s *Server) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/optimization/parameters/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, errors.Newf(errors.InvalidFilter, "invalid parameter id %q", raw))
		return
	}

	detail, err := s.engine.GetParameter(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, detail)
}

// handleStrategies handles GET /api/optimization/strategies
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	strategies, err := s.engine.Strategies()
	if err != nil {
		writeError(w, err)
		return
	}
	writeList(w, len(strategies), strategies)
}

// handleServeFile handles GET /api/optimization/files/*relpath, refusing
// paths that escape the workspace root.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, "/api/optimization/files/")
	if rel == "" {
		writeError(w, errors.New(errors.NotFound, "not found"))
		return
	}

	abs, err := s.engine.ResolveOptimizationFile(rel)
	if err != nil {
		writeError(w, err)
		return
	}
	http.ServeFile(w, r, abs)
}

// handleScan handles POST /api/scan, running one scan synchronously.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	report, err := s.coordinator.RunNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, report)
}
