package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	dbPath string
}

// Open opens or creates the index database at .sdx/sdx.db under the
// workspace root. A new database gets the full schema and strategy seed.
func Open(workspaceRoot string, logger *slog.Logger) (*DB, error) {
	sdxDir := filepath.Join(workspaceRoot, ".sdx")
	if err := os.MkdirAll(sdxDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .sdx directory: %w", err)
	}

	dbPath := filepath.Join(sdxDir, "sdx.db")
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas apply per connection; a single pooled connection keeps them
	// in effect for every statement.
	conn.SetMaxOpenConns(1)

	// Single-writer model; WAL lets readers run concurrently with a scan.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	if !dbExists {
		logger.Info("Creating new database", "path", dbPath)
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		if err := db.runMigrations(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BeginTx starts a new transaction
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// WithTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction",
				"error", err.Error(), "rollback_error", rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
