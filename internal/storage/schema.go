package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}
		if err := createRawDataTables(tx); err != nil {
			return err
		}
		if err := createOptimizationTables(tx); err != nil {
			return err
		}
		if err := seedStrategies(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		return nil
	}

	db.logger.Info("Running database migrations",
		"from_version", version, "to_version", currentSchemaVersion)

	// Migrations run sequentially as the schema evolves.
	// if version < 2 { ... }

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

func createRawDataTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS experiments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			scenario TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(project_id, date, scenario)
		)`,
		`CREATE TABLE IF NOT EXISTS tests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			experiment_id INTEGER NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
			sequence INTEGER NOT NULL,
			subject TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			duration_sec REAL,
			sensor_setting TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			metadata_path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tests_subject_id ON tests(subject_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tests_experiment ON tests(experiment_id)`,
		`CREATE TABLE IF NOT EXISTS sensors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
			sensor_id TEXT NOT NULL,
			type TEXT NOT NULL,
			position TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			sample_rate_hz REAL,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensors_test ON sensors(test_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sensors_sensor_id ON sensors(sensor_id)`,
		`CREATE TABLE IF NOT EXISTS data_quality (
			test_id INTEGER PRIMARY KEY REFERENCES tests(id) ON DELETE CASCADE,
			completeness REAL NOT NULL,
			anomalies INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create raw data tables: %w", err)
		}
	}
	return nil
}

func createOptimizationTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS optimization_strategies (
			number INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			subject_scoped INTEGER NOT NULL,
			scenario_scoped INTEGER NOT NULL,
			sensor_setting_scoped INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			code TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			components TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS optimization_parameters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			strategy_number INTEGER NOT NULL REFERENCES optimization_strategies(number),
			kind TEXT NOT NULL,
			data_type TEXT NOT NULL,
			signature TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_parameters_signature ON optimization_parameters(signature)`,
		`CREATE TABLE IF NOT EXISTS parameter_subjects (
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			subject_id TEXT NOT NULL,
			PRIMARY KEY (parameter_id, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_scenarios (
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			scenario TEXT NOT NULL,
			PRIMARY KEY (parameter_id, scenario)
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_sensor_settings (
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			sensor_setting_id INTEGER NOT NULL REFERENCES sensor_settings(id),
			PRIMARY KEY (parameter_id, sensor_setting_id)
		)`,
		`CREATE TABLE IF NOT EXISTS optimization_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			model_name TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			UNIQUE(parameter_id, model_name)
		)`,
		`CREATE TABLE IF NOT EXISTS optimization_visualizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			viz_type TEXT NOT NULL,
			model_name TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS parameter_test_links (
			parameter_id INTEGER NOT NULL REFERENCES optimization_parameters(id) ON DELETE CASCADE,
			test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
			PRIMARY KEY (parameter_id, test_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create optimization tables: %w", err)
		}
	}
	return nil
}

// seedStrategies inserts the five scoping strategies. The table is a seeded
// lookup, immutable at runtime.
func seedStrategies(tx *sql.Tx) error {
	strategies := []Strategy{
		{Number: 0, Name: "subject_scenario_setting_specific",
			Description:   "one subject, one scenario, one sensor setting",
			SubjectScoped: true, ScenarioScoped: true, SensorSettingScoped: true},
		{Number: 1, Name: "subject_wide",
			Description:   "one subject across all scenarios",
			SubjectScoped: true},
		{Number: 2, Name: "subject_scenario",
			Description:   "one subject, one scenario",
			SubjectScoped: true, ScenarioScoped: true},
		{Number: 3, Name: "scenario_wide",
			Description:    "one scenario across all subjects",
			ScenarioScoped: true},
		{Number: 4, Name: "global",
			Description: "all tests"},
	}

	for _, s := range strategies {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO optimization_strategies
				(number, name, description, subject_scoped, scenario_scoped, sensor_setting_scoped)
			VALUES (?, ?, ?, ?, ?, ?)
		`, s.Number, s.Name, s.Description,
			boolToInt(s.SubjectScoped), boolToInt(s.ScenarioScoped), boolToInt(s.SensorSettingScoped))
		if err != nil {
			return fmt.Errorf("failed to seed strategy %d: %w", s.Number, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
