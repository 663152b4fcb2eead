// Package query provides the read-only search surface over the index. All
// operations are side-effect-free; no rows matching a filter set is an empty
// result, not an error.
package query

import (
	"database/sql"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"sdx/internal/errors"
	"sdx/internal/paths"
	"sdx/internal/storage"
)

// Filters narrows a test search. Empty fields are wildcards; supplied fields
// combine with AND semantics.
type Filters struct {
	Project   string
	Date      string
	Scenario  string
	Subject   string
	SubjectID string
	SensorID  string
}

// TestSummary is one search hit: test plus parent experiment fields and the
// child sensor count.
type TestSummary struct {
	ID           int64    `json:"id"`
	Project      string   `json:"project"`
	Date         string   `json:"date"`
	Scenario     string   `json:"scenario"`
	Sequence     int      `json:"sequence"`
	Subject      string   `json:"subject"`
	SubjectID    string   `json:"subject_id"`
	DurationSec  *float64 `json:"duration_sec,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	MetadataPath string   `json:"metadata_path"`
	SensorCount  int      `json:"sensor_count"`
}

// SensorFileInfo is one sensor file entry in a path bundle.
type SensorFileInfo struct {
	SensorID     string  `json:"sensor_id"`
	Type         string  `json:"type"`
	Position     string  `json:"position"`
	SampleRateHz float64 `json:"sample_rate_hz"`
	FilePath     string  `json:"file_path"`
}

// PathBundle resolves every path belonging to one test.
type PathBundle struct {
	TestID         int64            `json:"test_id"`
	ExperimentPath string           `json:"experiment_path"`
	TestPath       string           `json:"test_path"`
	MetadataPath   string           `json:"metadata_path"`
	SensorFiles    []SensorFileInfo `json:"sensor_files"`
}

// SensorInfo is one sensor record of a test.
type SensorInfo struct {
	SensorID     string  `json:"sensor_id"`
	Type         string  `json:"type"`
	Position     string  `json:"position"`
	Sequence     int     `json:"sequence"`
	SampleRateHz float64 `json:"sample_rate_hz"`
	FileName     string  `json:"file_name"`
	FilePath     string  `json:"file_path"`
}

// ParamFilters narrows a parameter search. Empty fields are wildcards.
type ParamFilters struct {
	SubjectID     string
	Scenario      string
	SensorSetting string
	// Strategy is nil for no filter; a non-nil value matches exactly.
	Strategy      *int
	ModelName     string
	ParameterType string
	DataType      string
}

// StrategyInfo describes a parameter's scoping strategy.
type StrategyInfo struct {
	Number              int    `json:"number"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	SubjectScoped       bool   `json:"subject_scoped"`
	ScenarioScoped      bool   `json:"scenario_scoped"`
	SensorSettingScoped bool   `json:"sensor_setting_scoped"`
}

// ResultInfo is one result file owned by a parameter.
type ResultInfo struct {
	ID        int64  `json:"id"`
	ModelName string `json:"model_name"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
}

// VisualizationInfo is one visualization owned by a parameter, with a
// servable URL.
type VisualizationInfo struct {
	ID        int64  `json:"id"`
	VizType   string `json:"viz_type"`
	ModelName string `json:"model_name,omitempty"`
	FileName  string `json:"file_name"`
	FilePath  string `json:"file_path"`
	URL       string `json:"url"`
}

// ParameterDetail is the full nested shape of one optimization parameter.
type ParameterDetail struct {
	ID              int64               `json:"id"`
	Strategy        StrategyInfo        `json:"strategy"`
	ParameterType   string              `json:"parameter_type"`
	DataType        string              `json:"data_type"`
	FileName        string              `json:"file_name"`
	FilePath        string              `json:"file_path"`
	SubjectIDs      []string            `json:"subject_ids"`
	Scenarios       []string            `json:"scenarios"`
	SensorSettings  []string            `json:"sensor_settings"`
	Results         []ResultInfo        `json:"results"`
	Visualizations  []VisualizationInfo `json:"visualizations"`
	LinkedTestCount int                 `json:"linked_test_count"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// fileRoutePrefix is where the API serves optimization artifacts from.
const fileRoutePrefix = "/api/optimization/files/"

// Engine answers queries over the store.
type Engine struct {
	db            *storage.DB
	logger        *slog.Logger
	workspaceRoot string
}

// NewEngine creates a query engine.
func NewEngine(db *storage.DB, workspaceRoot string, logger *slog.Logger) *Engine {
	return &Engine{db: db, logger: logger, workspaceRoot: workspaceRoot}
}

// SearchTests returns the tests matching all supplied filters, ordered by
// experiment date and sequence.
func (e *Engine) SearchTests(f Filters) ([]TestSummary, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT t.id, p.name, e.date, e.scenario, t.sequence, t.subject, t.subject_id,
		       t.duration_sec, t.notes, t.metadata_path,
		       (SELECT COUNT(*) FROM sensors s WHERE s.test_id = t.id) AS sensor_count
		FROM tests t
		JOIN experiments e ON e.id = t.experiment_id
		JOIN projects p ON p.id = e.project_id
		WHERE 1=1`)
	var args []interface{}

	add := func(clause, value string) {
		if value != "" {
			query.WriteString(clause)
			args = append(args, value)
		}
	}
	add(" AND p.name = ?", f.Project)
	add(" AND e.date = ?", f.Date)
	add(" AND e.scenario = ?", f.Scenario)
	add(" AND t.subject = ?", f.Subject)
	add(" AND t.subject_id = ?", f.SubjectID)
	add(" AND EXISTS (SELECT 1 FROM sensors s2 WHERE s2.test_id = t.id AND s2.sensor_id = ?)", f.SensorID)
	query.WriteString(" ORDER BY e.date, t.sequence, t.id")

	rows, err := e.db.Query(query.String(), args...)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "search tests", err)
	}
	defer rows.Close()

	out := []TestSummary{}
	for rows.Next() {
		var s TestSummary
		var duration sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.Project, &s.Date, &s.Scenario, &s.Sequence,
			&s.Subject, &s.SubjectID, &duration, &s.Notes, &s.MetadataPath, &s.SensorCount); err != nil {
			return nil, errors.Wrap(errors.InternalError, "scan test row", err)
		}
		if duration.Valid {
			s.DurationSec = &duration.Float64
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTestPaths returns the path bundle for one test, or NOT_FOUND.
func (e *Engine) GetTestPaths(id int64) (*PathBundle, error) {
	var metadataPath string
	err := e.db.QueryRow("SELECT metadata_path FROM tests WHERE id = ?", id).Scan(&metadataPath)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.NotFound, "test %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get test", err)
	}

	testPath := path.Dir(metadataPath)
	bundle := &PathBundle{
		TestID:         id,
		ExperimentPath: path.Dir(testPath),
		TestPath:       testPath,
		MetadataPath:   metadataPath,
		SensorFiles:    []SensorFileInfo{},
	}

	rows, err := e.db.Query(`
		SELECT sensor_id, type, position, COALESCE(sample_rate_hz, 0), file_path
		FROM sensors WHERE test_id = ? ORDER BY sensor_id
	`, id)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get sensor files", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s SensorFileInfo
		if err := rows.Scan(&s.SensorID, &s.Type, &s.Position, &s.SampleRateHz, &s.FilePath); err != nil {
			return nil, errors.Wrap(errors.InternalError, "scan sensor file", err)
		}
		bundle.SensorFiles = append(bundle.SensorFiles, s)
	}
	return bundle, rows.Err()
}

// GetTestSensors returns the sensor list for one test, or NOT_FOUND when the
// test does not exist.
func (e *Engine) GetTestSensors(id int64) ([]SensorInfo, error) {
	var exists int
	err := e.db.QueryRow("SELECT 1 FROM tests WHERE id = ?", id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.NotFound, "test %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get test", err)
	}

	rows, err := e.db.Query(`
		SELECT sensor_id, type, position, sequence, COALESCE(sample_rate_hz, 0), file_name, file_path
		FROM sensors WHERE test_id = ? ORDER BY sensor_id
	`, id)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get sensors", err)
	}
	defer rows.Close()

	out := []SensorInfo{}
	for rows.Next() {
		var s SensorInfo
		if err := rows.Scan(&s.SensorID, &s.Type, &s.Position, &s.Sequence,
			&s.SampleRateHz, &s.FileName, &s.FilePath); err != nil {
			return nil, errors.Wrap(errors.InternalError, "scan sensor", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SearchParameters returns the parameters matching all supplied filters with
// their full nested shape.
func (e *Engine) SearchParameters(f ParamFilters) ([]ParameterDetail, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT p.id FROM optimization_parameters p
		WHERE 1=1`)
	var args []interface{}

	if f.SubjectID != "" {
		query.WriteString(" AND EXISTS (SELECT 1 FROM parameter_subjects ps WHERE ps.parameter_id = p.id AND ps.subject_id = ?)")
		args = append(args, f.SubjectID)
	}
	if f.Scenario != "" {
		query.WriteString(" AND EXISTS (SELECT 1 FROM parameter_scenarios pc WHERE pc.parameter_id = p.id AND pc.scenario = ?)")
		args = append(args, f.Scenario)
	}
	if f.SensorSetting != "" {
		query.WriteString(` AND EXISTS (
			SELECT 1 FROM parameter_sensor_settings pss
			JOIN sensor_settings ss ON ss.id = pss.sensor_setting_id
			WHERE pss.parameter_id = p.id AND ss.code = ?)`)
		args = append(args, f.SensorSetting)
	}
	if f.Strategy != nil {
		query.WriteString(" AND p.strategy_number = ?")
		args = append(args, *f.Strategy)
	}
	if f.ModelName != "" {
		query.WriteString(" AND EXISTS (SELECT 1 FROM optimization_results r WHERE r.parameter_id = p.id AND r.model_name = ?)")
		args = append(args, f.ModelName)
	}
	if f.ParameterType != "" {
		query.WriteString(" AND p.kind = ?")
		args = append(args, f.ParameterType)
	}
	if f.DataType != "" {
		query.WriteString(" AND p.data_type = ?")
		args = append(args, f.DataType)
	}
	query.WriteString(" ORDER BY p.id")

	rows, err := e.db.Query(query.String(), args...)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "search parameters", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(errors.InternalError, "scan parameter id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := []ParameterDetail{}
	for _, id := range ids {
		detail, err := e.GetParameter(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *detail)
	}
	return out, nil
}

// GetParameter returns the full nested shape of one parameter, or NOT_FOUND.
func (e *Engine) GetParameter(id int64) (*ParameterDetail, error) {
	var d ParameterDetail
	var createdAt, updatedAt string
	err := e.db.QueryRow(`
		SELECT p.id, p.kind, p.data_type, p.file_name, p.file_path, p.created_at, p.updated_at,
		       s.number, s.name, s.description, s.subject_scoped, s.scenario_scoped, s.sensor_setting_scoped
		FROM optimization_parameters p
		JOIN optimization_strategies s ON s.number = p.strategy_number
		WHERE p.id = ?
	`, id).Scan(
		&d.ID, &d.ParameterType, &d.DataType, &d.FileName, &d.FilePath, &createdAt, &updatedAt,
		&d.Strategy.Number, &d.Strategy.Name, &d.Strategy.Description,
		&d.Strategy.SubjectScoped, &d.Strategy.ScenarioScoped, &d.Strategy.SensorSettingScoped,
	)
	if err == sql.ErrNoRows {
		return nil, errors.Newf(errors.NotFound, "parameter %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get parameter", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	var qerr error
	d.SubjectIDs = e.stringList(&qerr,
		"SELECT subject_id FROM parameter_subjects WHERE parameter_id = ? ORDER BY subject_id", id)
	d.Scenarios = e.stringList(&qerr,
		"SELECT scenario FROM parameter_scenarios WHERE parameter_id = ? ORDER BY scenario", id)
	d.SensorSettings = e.stringList(&qerr, `
		SELECT ss.code FROM parameter_sensor_settings pss
		JOIN sensor_settings ss ON ss.id = pss.sensor_setting_id
		WHERE pss.parameter_id = ? ORDER BY ss.code`, id)
	if qerr != nil {
		return nil, errors.Wrap(errors.InternalError, "get parameter scope", qerr)
	}

	d.Results = []ResultInfo{}
	rows, err := e.db.Query(`
		SELECT id, model_name, file_name, file_path
		FROM optimization_results WHERE parameter_id = ? ORDER BY model_name
	`, id)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get results", err)
	}
	for rows.Next() {
		var r ResultInfo
		if err := rows.Scan(&r.ID, &r.ModelName, &r.FileName, &r.FilePath); err != nil {
			rows.Close()
			return nil, errors.Wrap(errors.InternalError, "scan result", err)
		}
		d.Results = append(d.Results, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	d.Visualizations = []VisualizationInfo{}
	rows, err = e.db.Query(`
		SELECT id, viz_type, model_name, file_name, file_path
		FROM optimization_visualizations WHERE parameter_id = ? ORDER BY file_name
	`, id)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "get visualizations", err)
	}
	for rows.Next() {
		var v VisualizationInfo
		if err := rows.Scan(&v.ID, &v.VizType, &v.ModelName, &v.FileName, &v.FilePath); err != nil {
			rows.Close()
			return nil, errors.Wrap(errors.InternalError, "scan visualization", err)
		}
		v.URL = fileRoutePrefix + v.FilePath
		d.Visualizations = append(d.Visualizations, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := e.db.QueryRow(
		"SELECT COUNT(*) FROM parameter_test_links WHERE parameter_id = ?", id,
	).Scan(&d.LinkedTestCount); err != nil {
		return nil, errors.Wrap(errors.InternalError, "count links", err)
	}

	return &d, nil
}

func (e *Engine) stringList(qerr *error, query string, args ...interface{}) []string {
	if *qerr != nil {
		return nil
	}
	rows, err := e.db.Query(query, args...)
	if err != nil {
		*qerr = err
		return nil
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			*qerr = err
			return nil
		}
		out = append(out, s)
	}
	*qerr = rows.Err()
	return out
}

// ResolveOptimizationFile resolves a relative artifact path to an absolute
// path under the workspace root. A path escaping the root is FORBIDDEN; a
// missing file is NOT_FOUND.
func (e *Engine) ResolveOptimizationFile(rel string) (string, error) {
	abs, err := paths.ResolveWithin(e.workspaceRoot, rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", errors.Newf(errors.NotFound, "file %s not found", rel)
	}
	return abs, nil
}

// Strategies returns the seeded strategy table.
func (e *Engine) Strategies() ([]StrategyInfo, error) {
	repo := storage.NewOptimizationRepository(e.db)
	list, err := repo.ListStrategies()
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "list strategies", err)
	}
	out := make([]StrategyInfo, 0, len(list))
	for _, s := range list {
		out = append(out, StrategyInfo{
			Number:              s.Number,
			Name:                s.Name,
			Description:         s.Description,
			SubjectScoped:       s.SubjectScoped,
			ScenarioScoped:      s.ScenarioScoped,
			SensorSettingScoped: s.SensorSettingScoped,
		})
	}
	return out, nil
}

// Status returns row counts per entity, for the status command and health
// endpoint.
func (e *Engine) Status() (map[string]int64, error) {
	tests := storage.NewTestRepository(e.db)
	opt := storage.NewOptimizationRepository(e.db)

	counts, err := tests.Counts()
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "count rows", err)
	}
	optCounts, err := opt.Counts()
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, "count rows", err)
	}
	for k, v := range optCounts {
		counts[k] = v
	}
	return counts, nil
}
