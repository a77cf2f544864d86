package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hangulkey/internal/escalation"
	"hangulkey/internal/keycode"
)

// Store is the SQLite operation history.
type Store struct {
	db *sql.DB

	// maxEntries bounds the operations table. 0 keeps everything.
	maxEntries int
	now        func() time.Time
}

// Open opens or creates the SQLite database at the given path and runs
// migrations.
func Open(path string) (*Store, error) {
	return OpenWithLimit(path, 0)
}

// OpenWithLimit is Open with a retention bound applied after every insert.
func OpenWithLimit(path string, maxEntries int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps the WAL simple for a single-user tool.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, maxEntries: maxEntries, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Schema reports the applied and pending migrations.
func (s *Store) Schema() (*MigrationStatus, error) {
	return GetMigrationStatus(s.db)
}

// Record appends one operation outcome. It satisfies the mapping journal.
func (s *Store) Record(ctx context.Context, kind string, src keycode.Descriptor, opErr error) error {
	op := Operation{
		Kind:        kind,
		SourceUsage: src.UsageCode,
		SourceName:  src.DisplayName,
		Outcome:     classify(opErr),
		At:          s.now(),
	}
	if opErr != nil {
		op.Error = opErr.Error()
		var escErr *escalation.Error
		if errors.As(opErr, &escErr) {
			op.FailedStep = escErr.Step
		}
	}
	_, err := s.Insert(ctx, &op)
	return err
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, escalation.ErrPermissionDenied):
		return OutcomeDenied
	default:
		return OutcomeFailure
	}
}

// Insert stores op and returns its ID, pruning old rows when bounded.
func (s *Store) Insert(ctx context.Context, op *Operation) (int64, error) {
	var errText sql.NullString
	if op.Error != "" {
		errText = sql.NullString{String: op.Error, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (kind, source_usage, source_name, outcome, error, failed_step, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.Kind, op.SourceUsage, op.SourceName, string(op.Outcome), errText, op.FailedStep, op.At.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	op.ID = id

	if s.maxEntries > 0 {
		if _, err := s.Prune(ctx, s.maxEntries); err != nil {
			return id, err
		}
	}
	return id, nil
}

const selectOperations = `
	SELECT id, kind, source_usage, source_name, outcome, error, failed_step, at_ns
	FROM operations`

// Recent returns up to n operations, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Operation, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectOperations+`
		ORDER BY at_ns DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// Since returns operations at or after t, oldest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectOperations+`
		WHERE at_ns >= ?
		ORDER BY at_ns ASC, id ASC`, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query operations since: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// LastSuccess returns the newest successful operation of kind, or nil.
func (s *Store) LastSuccess(ctx context.Context, kind string) (*Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectOperations+`
		WHERE kind = ? AND outcome = ?
		ORDER BY at_ns DESC, id DESC
		LIMIT 1`, kind, string(OutcomeSuccess))
	if err != nil {
		return nil, fmt.Errorf("query last success: %w", err)
	}
	defer rows.Close()

	ops, err := scanOperations(rows)
	if err != nil || len(ops) == 0 {
		return nil, err
	}
	return &ops[0], nil
}

// Count returns the number of stored operations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep operations and reports how many
// rows were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM operations
		WHERE id NOT IN (
			SELECT id FROM operations ORDER BY at_ns DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

func scanOperations(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		var (
			op      Operation
			outcome string
			errText sql.NullString
			atNs    int64
		)
		if err := rows.Scan(&op.ID, &op.Kind, &op.SourceUsage, &op.SourceName, &outcome, &errText, &op.FailedStep, &atNs); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Outcome = Outcome(outcome)
		op.Error = errText.String
		op.At = time.Unix(0, atNs)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}
