// Package linker resolves which raw tests are in scope for an optimization
// parameter, per its strategy's scoping flags, and maintains the
// parameter-test junction accordingly.
package linker

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"sdx/internal/storage"
)

// Scope carries the scope tokens parsed from a parameter filename.
type Scope struct {
	SubjectIDs     []string
	Scenarios      []string
	SensorSettings []string
}

// Linker populates parameter-test links.
type Linker struct {
	logger *slog.Logger
}

// New creates a linker.
func New(logger *slog.Logger) *Linker {
	return &Linker{logger: logger}
}

// Relink replaces the test links for one parameter inside the caller's
// transaction, selecting tests per the strategy's scoping flags. Links for
// the parameter are deleted and rebuilt in full, so re-linking after new
// tests arrive extends the set. Returns the number of linked tests.
func (l *Linker) Relink(tx *sql.Tx, parameterID int64, strategy *storage.Strategy, scope Scope) (int, error) {
	testIDs, err := l.selectTests(tx, strategy, scope)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		"DELETE FROM parameter_test_links WHERE parameter_id = ?", parameterID,
	); err != nil {
		return 0, fmt.Errorf("failed to clear parameter links: %w", err)
	}
	for _, id := range testIDs {
		if _, err := tx.Exec(
			"INSERT INTO parameter_test_links (parameter_id, test_id) VALUES (?, ?)",
			parameterID, id,
		); err != nil {
			return 0, fmt.Errorf("failed to link test %d: %w", id, err)
		}
	}

	l.logger.Debug("Relinked parameter",
		"parameter_id", parameterID,
		"strategy", strategy.Number,
		"linked_tests", len(testIDs))
	return len(testIDs), nil
}

// selectTests returns the ids of tests matching the strategy's scope. An
// unscoped strategy (number 4) matches every test.
func (l *Linker) selectTests(tx *sql.Tx, strategy *storage.Strategy, scope Scope) ([]int64, error) {
	query := strings.Builder{}
	query.WriteString(`
		SELECT t.id FROM tests t
		JOIN experiments e ON e.id = t.experiment_id
		WHERE 1=1`)
	var args []interface{}

	if strategy.SubjectScoped {
		if len(scope.SubjectIDs) == 0 {
			// A subject-scoped parameter with no subject token matches
			// nothing rather than everything.
			return nil, nil
		}
		query.WriteString(" AND t.subject_id IN (" + placeholders(len(scope.SubjectIDs)) + ")")
		for _, s := range scope.SubjectIDs {
			args = append(args, s)
		}
	}

	if strategy.ScenarioScoped {
		if len(scope.Scenarios) == 0 {
			return nil, nil
		}
		query.WriteString(" AND e.scenario IN (" + placeholders(len(scope.Scenarios)) + ")")
		for _, s := range scope.Scenarios {
			args = append(args, s)
		}
	}

	if strategy.SensorSettingScoped && len(scope.SensorSettings) > 0 {
		// Tests only carry a setting when their metadata declares one; the
		// filter applies only where the data can satisfy it.
		tracked, err := anySettingTracked(tx)
		if err != nil {
			return nil, err
		}
		if tracked {
			query.WriteString(" AND t.sensor_setting IN (" + placeholders(len(scope.SensorSettings)) + ")")
			for _, s := range scope.SensorSettings {
				args = append(args, s)
			}
		}
	}

	query.WriteString(" ORDER BY t.id")

	rows, err := tx.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select tests for linking: %w", err)
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

func anySettingTracked(tx *sql.Tx) (bool, error) {
	var one int
	err := tx.QueryRow("SELECT 1 FROM tests WHERE sensor_setting != '' LIMIT 1").Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
