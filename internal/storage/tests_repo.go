package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// PathRow pairs a row id with the filesystem path backing it, used by the
// reconciliation pass.
type PathRow struct {
	ID   int64
	Path string
}

// TestRepository provides CRUD operations for the raw-data tables.
type TestRepository struct {
	db *DB
}

// NewTestRepository creates a new test repository
func NewTestRepository(db *DB) *TestRepository {
	return &TestRepository{db: db}
}

// GetOrCreateProject returns the id of the named project, creating it on
// first reference.
func (r *TestRepository) GetOrCreateProject(tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRow("SELECT id FROM projects WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get project: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO projects (name, created_at) VALUES (?, ?)",
		name, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	return res.LastInsertId()
}

// GetOrCreateExperiment returns the id of the (project, date, scenario)
// experiment, creating it on first reference. The description is only
// written at creation; later scans never overwrite it.
func (r *TestRepository) GetOrCreateExperiment(tx *sql.Tx, projectID int64, date, scenario, description string) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT id FROM experiments
		WHERE project_id = ? AND date = ? AND scenario = ?
	`, projectID, date, scenario).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get experiment: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO experiments (project_id, date, scenario, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, projectID, date, scenario, description, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to create experiment: %w", err)
	}
	return res.LastInsertId()
}

// GetTestByPath retrieves a test by its metadata document path, or nil when
// no such row exists.
func (r *TestRepository) GetTestByPath(metadataPath string) (*Test, error) {
	var t Test
	var createdAt, updatedAt string
	var duration sql.NullFloat64

	err := r.db.QueryRow(`
		SELECT id, experiment_id, sequence, subject, subject_id, duration_sec,
		       sensor_setting, notes, metadata_path, content_hash, created_at, updated_at
		FROM tests
		WHERE metadata_path = ?
	`, metadataPath).Scan(
		&t.ID, &t.ExperimentID, &t.Sequence, &t.Subject, &t.SubjectID, &duration,
		&t.SensorSetting, &t.Notes, &t.MetadataPath, &t.ContentHash, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	if duration.Valid {
		t.DurationSec = &duration.Float64
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

// ReplaceTest upserts a test row by metadata path and replaces its sensor
// set and data-quality row wholesale. An existing row keeps its id and
// created_at. The full replace of sensors avoids orphaned positions when a
// sensor is removed from the metadata document.
func (r *TestRepository) ReplaceTest(tx *sql.Tx, t *Test, sensors []Sensor, dq *DataQuality) (int64, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var id int64
	var created bool
	err := tx.QueryRow("SELECT id FROM tests WHERE metadata_path = ?", t.MetadataPath).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO tests (experiment_id, sequence, subject, subject_id, duration_sec,
			                   sensor_setting, notes, metadata_path, content_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ExperimentID, t.Sequence, t.Subject, t.SubjectID, t.DurationSec,
			t.SensorSetting, t.Notes, t.MetadataPath, t.ContentHash, now, now)
		if err != nil {
			return 0, false, fmt.Errorf("failed to create test: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, false, err
		}
		created = true
	case err != nil:
		return 0, false, fmt.Errorf("failed to get test: %w", err)
	default:
		_, err := tx.Exec(`
			UPDATE tests
			SET experiment_id = ?, sequence = ?, subject = ?, subject_id = ?,
			    duration_sec = ?, sensor_setting = ?, notes = ?, content_hash = ?, updated_at = ?
			WHERE id = ?
		`, t.ExperimentID, t.Sequence, t.Subject, t.SubjectID,
			t.DurationSec, t.SensorSetting, t.Notes, t.ContentHash, now, id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to update test: %w", err)
		}
	}

	if _, err := tx.Exec("DELETE FROM sensors WHERE test_id = ?", id); err != nil {
		return 0, false, fmt.Errorf("failed to clear sensors: %w", err)
	}
	for _, s := range sensors {
		_, err := tx.Exec(`
			INSERT INTO sensors (test_id, sensor_id, type, position, sequence,
			                     sample_rate_hz, file_name, file_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, s.SensorID, s.Type, s.Position, s.Sequence, s.SampleRateHz, s.FileName, s.FilePath)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert sensor %s: %w", s.SensorID, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM data_quality WHERE test_id = ?", id); err != nil {
		return 0, false, fmt.Errorf("failed to clear data quality: %w", err)
	}
	if dq != nil {
		_, err := tx.Exec(`
			INSERT INTO data_quality (test_id, completeness, anomalies, notes)
			VALUES (?, ?, ?, ?)
		`, id, dq.Completeness, dq.Anomalies, dq.Notes)
		if err != nil {
			return 0, false, fmt.Errorf("failed to insert data quality: %w", err)
		}
	}

	t.ID = id
	return id, created, nil
}

// ListTestPaths returns every test row's id and metadata path.
func (r *TestRepository) ListTestPaths() ([]PathRow, error) {
	rows, err := r.db.Query("SELECT id, metadata_path FROM tests")
	if err != nil {
		return nil, fmt.Errorf("failed to list test paths: %w", err)
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

// DeleteTest removes a test row; sensors, data quality, and parameter links
// cascade.
func (r *TestRepository) DeleteTest(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM tests WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete test %d: %w", id, err)
	}
	return nil
}

// Counts returns row counts per raw-data table, for status reporting.
func (r *TestRepository) Counts() (map[string]int64, error) {
	out := make(map[string]int64)
	for _, table := range []string{"projects", "experiments", "tests", "sensors", "data_quality"} {
		var n int64
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
