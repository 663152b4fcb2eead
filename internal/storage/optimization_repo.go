package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// OptimizationRepository provides CRUD operations for the optimization
// tables.
type OptimizationRepository struct {
	db *DB
}

// NewOptimizationRepository creates a new optimization repository
func NewOptimizationRepository(db *DB) *OptimizationRepository {
	return &OptimizationRepository{db: db}
}

// GetStrategy retrieves a strategy by number, or nil when unknown.
func (r *OptimizationRepository) GetStrategy(number int) (*Strategy, error) {
	var s Strategy
	var subj, scen, sett int
	err := r.db.QueryRow(`
		SELECT number, name, description, subject_scoped, scenario_scoped, sensor_setting_scoped
		FROM optimization_strategies
		WHERE number = ?
	`, number).Scan(&s.Number, &s.Name, &s.Description, &subj, &scen, &sett)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	s.SubjectScoped = subj != 0
	s.ScenarioScoped = scen != 0
	s.SensorSettingScoped = sett != 0
	return &s, nil
}

// ListStrategies returns all seeded strategies ordered by number.
func (r *OptimizationRepository) ListStrategies() ([]Strategy, error) {
	rows, err := r.db.Query(`
		SELECT number, name, description, subject_scoped, scenario_scoped, sensor_setting_scoped
		FROM optimization_strategies
		ORDER BY number
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var s Strategy
		var subj, scen, sett int
		if err := rows.Scan(&s.Number, &s.Name, &s.Description, &subj, &scen, &sett); err != nil {
			return nil, err
		}
		s.SubjectScoped = subj != 0
		s.ScenarioScoped = scen != 0
		s.SensorSettingScoped = sett != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetOrCreateSensorSetting returns the id of the sensor-setting row for
// code, creating it on first reference from a parameter filename.
func (r *OptimizationRepository) GetOrCreateSensorSetting(tx *sql.Tx, code string) (int64, error) {
	var id int64
	err := tx.QueryRow("SELECT id FROM sensor_settings WHERE code = ?", code).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get sensor setting: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO sensor_settings (code) VALUES (?)", code,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create sensor setting: %w", err)
	}
	return res.LastInsertId()
}

// GetSensorSettingByCode retrieves a sensor setting by its code, or nil.
func (r *OptimizationRepository) GetSensorSettingByCode(code string) (*SensorSetting, error) {
	var s SensorSetting
	err := r.db.QueryRow(`
		SELECT id, code, description, components FROM sensor_settings WHERE code = ?
	`, code).Scan(&s.ID, &s.Code, &s.Description, &s.Components)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor setting: %w", err)
	}
	return &s, nil
}

// GetParameterByPath retrieves a parameter by its file path, or nil.
func (r *OptimizationRepository) GetParameterByPath(filePath string) (*Parameter, error) {
	return r.scanParameter(r.db.QueryRow(parameterSelect+" WHERE file_path = ?", filePath))
}

// GetParameterBySignature retrieves the parameter whose scope signature
// matches, or nil. Result and visualization files resolve their owning
// parameter this way.
func (r *OptimizationRepository) GetParameterBySignature(signature string) (*Parameter, error) {
	return r.scanParameter(r.db.QueryRow(
		parameterSelect+" WHERE signature = ? ORDER BY id LIMIT 1", signature))
}

const parameterSelect = `
	SELECT id, strategy_number, kind, data_type, signature,
	       file_name, file_path, content_hash, metadata_json, created_at, updated_at
	FROM optimization_parameters`

func (r *OptimizationRepository) scanParameter(row *sql.Row) (*Parameter, error) {
	var p Parameter
	var createdAt, updatedAt string
	err := row.Scan(
		&p.ID, &p.StrategyNumber, &p.Kind, &p.DataType, &p.Signature,
		&p.FileName, &p.FilePath, &p.ContentHash, &p.MetadataJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parameter: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// UpsertParameter inserts or updates a parameter row keyed by file path and
// replaces its scope junctions. An unchanged content hash is a no-op that
// preserves id and updated_at; a changed hash updates the existing row in
// place. Returns the row id and whether anything was written.
func (r *OptimizationRepository) UpsertParameter(tx *sql.Tx, p *Parameter, subjects, scenarios []string, settingIDs []int64) (int64, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var id int64
	var oldHash string
	err := tx.QueryRow(
		"SELECT id, content_hash FROM optimization_parameters WHERE file_path = ?",
		p.FilePath,
	).Scan(&id, &oldHash)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO optimization_parameters
				(strategy_number, kind, data_type, signature, file_name, file_path,
				 content_hash, metadata_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.StrategyNumber, p.Kind, p.DataType, p.Signature, p.FileName, p.FilePath,
			p.ContentHash, p.MetadataJSON, now, now)
		if err != nil {
			return 0, false, fmt.Errorf("failed to create parameter: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
	case err != nil:
		return 0, false, fmt.Errorf("failed to get parameter: %w", err)
	case oldHash == p.ContentHash:
		p.ID = id
		return id, false, nil
	default:
		_, err := tx.Exec(`
			UPDATE optimization_parameters
			SET strategy_number = ?, kind = ?, data_type = ?, signature = ?,
			    file_name = ?, content_hash = ?, metadata_json = ?, updated_at = ?
			WHERE id = ?
		`, p.StrategyNumber, p.Kind, p.DataType, p.Signature,
			p.FileName, p.ContentHash, p.MetadataJSON, now, id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to update parameter: %w", err)
		}
	}

	for _, stmt := range []string{
		"DELETE FROM parameter_subjects WHERE parameter_id = ?",
		"DELETE FROM parameter_scenarios WHERE parameter_id = ?",
		"DELETE FROM parameter_sensor_settings WHERE parameter_id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return 0, false, fmt.Errorf("failed to clear parameter scope: %w", err)
		}
	}
	for _, s := range subjects {
		if _, err := tx.Exec(
			"INSERT INTO parameter_subjects (parameter_id, subject_id) VALUES (?, ?)", id, s,
		); err != nil {
			return 0, false, fmt.Errorf("failed to insert parameter subject: %w", err)
		}
	}
	for _, s := range scenarios {
		if _, err := tx.Exec(
			"INSERT INTO parameter_scenarios (parameter_id, scenario) VALUES (?, ?)", id, s,
		); err != nil {
			return 0, false, fmt.Errorf("failed to insert parameter scenario: %w", err)
		}
	}
	for _, sid := range settingIDs {
		if _, err := tx.Exec(
			"INSERT INTO parameter_sensor_settings (parameter_id, sensor_setting_id) VALUES (?, ?)", id, sid,
		); err != nil {
			return 0, false, fmt.Errorf("failed to insert parameter sensor setting: %w", err)
		}
	}

	p.ID = id
	return id, true, nil
}

// UpsertResult inserts or updates a result row keyed by file path, subject
// to the (parameter, model name) uniqueness constraint. An unchanged hash is
// a no-op. Returns (created, changed).
func (r *OptimizationRepository) UpsertResult(tx *sql.Tx, res *Result) (bool, bool, error) {
	var id int64
	var oldHash string
	err := tx.QueryRow(
		"SELECT id, content_hash FROM optimization_results WHERE file_path = ?",
		res.FilePath,
	).Scan(&id, &oldHash)

	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(`
			INSERT INTO optimization_results
				(parameter_id, model_name, file_name, file_path, content_hash, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, res.ParameterID, res.ModelName, res.FileName, res.FilePath, res.ContentHash, res.MetadataJSON)
		if err != nil {
			return false, false, fmt.Errorf("failed to create result: %w", err)
		}
		return true, true, nil
	case err != nil:
		return false, false, fmt.Errorf("failed to get result: %w", err)
	case oldHash == res.ContentHash:
		return false, false, nil
	default:
		_, err := tx.Exec(`
			UPDATE optimization_results
			SET parameter_id = ?, model_name = ?, file_name = ?, content_hash = ?, metadata_json = ?
			WHERE id = ?
		`, res.ParameterID, res.ModelName, res.FileName, res.ContentHash, res.MetadataJSON, id)
		if err != nil {
			return false, false, fmt.Errorf("failed to update result: %w", err)
		}
		return false, true, nil
	}
}

// UpsertVisualization inserts or updates a visualization row keyed by file
// path. An unchanged hash is a no-op. Returns (created, changed).
func (r *OptimizationRepository) UpsertVisualization(tx *sql.Tx, v *Visualization) (bool, bool, error) {
	var id int64
	var oldHash string
	err := tx.QueryRow(
		"SELECT id, content_hash FROM optimization_visualizations WHERE file_path = ?",
		v.FilePath,
	).Scan(&id, &oldHash)

	switch {
	case err == sql.ErrNoRows:
		_, err := tx.Exec(`
			INSERT INTO optimization_visualizations
				(parameter_id, viz_type, model_name, file_name, file_path, content_hash)
			VALUES (?, ?, ?, ?, ?, ?)
		`, v.ParameterID, v.VizType, v.ModelName, v.FileName, v.FilePath, v.ContentHash)
		if err != nil {
			return false, false, fmt.Errorf("failed to create visualization: %w", err)
		}
		return true, true, nil
	case err != nil:
		return false, false, fmt.Errorf("failed to get visualization: %w", err)
	case oldHash == v.ContentHash:
		return false, false, nil
	default:
		_, err := tx.Exec(`
			UPDATE optimization_visualizations
			SET parameter_id = ?, viz_type = ?, model_name = ?, file_name = ?, content_hash = ?
			WHERE id = ?
		`, v.ParameterID, v.VizType, v.ModelName, v.FileName, v.ContentHash, id)
		if err != nil {
			return false, false, fmt.Errorf("failed to update visualization: %w", err)
		}
		return false, true, nil
	}
}

// ListParameters returns every parameter row ordered by id.
func (r *OptimizationRepository) ListParameters() ([]Parameter, error) {
	rows, err := r.db.Query(parameterSelect + " ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list parameters: %w", err)
	}
	defer rows.Close()

	var out []Parameter
	for rows.Next() {
		var p Parameter
		var createdAt, updatedAt string
		if err := rows.Scan(
			&p.ID, &p.StrategyNumber, &p.Kind, &p.DataType, &p.Signature,
			&p.FileName, &p.FilePath, &p.ContentHash, &p.MetadataJSON, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetParameterScope reconstructs a parameter's scope tokens from the
// junction tables, so the linker can re-run without re-parsing the filename.
func (r *OptimizationRepository) GetParameterScope(parameterID int64) (subjects, scenarios, settings []string, err error) {
	subjects, err = r.stringColumn(
		"SELECT subject_id FROM parameter_subjects WHERE parameter_id = ? ORDER BY subject_id", parameterID)
	if err != nil {
		return nil, nil, nil, err
	}
	scenarios, err = r.stringColumn(
		"SELECT scenario FROM parameter_scenarios WHERE parameter_id = ? ORDER BY scenario", parameterID)
	if err != nil {
		return nil, nil, nil, err
	}
	settings, err = r.stringColumn(`
		SELECT ss.code FROM parameter_sensor_settings pss
		JOIN sensor_settings ss ON ss.id = pss.sensor_setting_id
		WHERE pss.parameter_id = ? ORDER BY ss.code`, parameterID)
	if err != nil {
		return nil, nil, nil, err
	}
	return subjects, scenarios, settings, nil
}

func (r *OptimizationRepository) stringColumn(query string, args ...interface{}) ([]string, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter scope: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceLinks atomically replaces the test links for a parameter.
func (r *OptimizationRepository) ReplaceLinks(tx *sql.Tx, parameterID int64, testIDs []int64) error {
	if _, err := tx.Exec(
		"DELETE FROM parameter_test_links WHERE parameter_id = ?", parameterID,
	); err != nil {
		return fmt.Errorf("failed to clear parameter links: %w", err)
	}
	for _, tid := range testIDs {
		if _, err := tx.Exec(
			"INSERT INTO parameter_test_links (parameter_id, test_id) VALUES (?, ?)",
			parameterID, tid,
		); err != nil {
			return fmt.Errorf("failed to insert parameter link: %w", err)
		}
	}
	return nil
}

// GetLinkedTestIDs returns the ids of the tests linked to a parameter.
func (r *OptimizationRepository) GetLinkedTestIDs(parameterID int64) ([]int64, error) {
	rows, err := r.db.Query(
		"SELECT test_id FROM parameter_test_links WHERE parameter_id = ? ORDER BY test_id",
		parameterID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter links: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListParameterPaths returns every parameter row's id and file path.
func (r *OptimizationRepository) ListParameterPaths() ([]PathRow, error) {
	return r.listPaths("SELECT id, file_path FROM optimization_parameters")
}

// ListResultPaths returns every result row's id and file path.
func (r *OptimizationRepository) ListResultPaths() ([]PathRow, error) {
	return r.listPaths("SELECT id, file_path FROM optimization_results")
}

// ListVisualizationPaths returns every visualization row's id and file path.
func (r *OptimizationRepository) ListVisualizationPaths() ([]PathRow, error) {
	return r.listPaths("SELECT id, file_path FROM optimization_visualizations")
}

func (r *OptimizationRepository) listPaths(query string) ([]PathRow, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer rows.Close()

	var out []PathRow
	for rows.Next() {
		var p PathRow
		if err := rows.Scan(&p.ID, &p.Path); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteParameter removes a parameter row; results, visualizations, scope
// junctions, and test links cascade.
func (r *OptimizationRepository) DeleteParameter(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM optimization_parameters WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete parameter %d: %w", id, err)
	}
	return nil
}

// DeleteResult removes a result row.
func (r *OptimizationRepository) DeleteResult(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM optimization_results WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete result %d: %w", id, err)
	}
	return nil
}

// DeleteVisualization removes a visualization row.
func (r *OptimizationRepository) DeleteVisualization(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM optimization_visualizations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete visualization %d: %w", id, err)
	}
	return nil
}

// Counts returns row counts per optimization table, for status reporting.
func (r *OptimizationRepository) Counts() (map[string]int64, error) {
	out := make(map[string]int64)
	for _, table := range []string{
		"optimization_parameters", "optimization_results",
		"optimization_visualizations", "parameter_test_links", "sensor_settings",
	} {
		var n int64
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
