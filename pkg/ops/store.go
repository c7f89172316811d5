package ops

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mhaegens/DMLegoArm/pkg/motion"
)

//go:embed schema.sql
var schemaSQL string

// Store keeps operation history in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the history database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save inserts or updates an operation.
func (s *Store) Save(ctx context.Context, op Operation) error {
	result := ""
	if op.Result != nil {
		data, err := json.Marshal(op.Result)
		if err != nil {
			return fmt.Errorf("save operation %s: %w", op.ID, err)
		}
		result = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, type, payload, status, error, result, submitted_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			result = excluded.result,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
		op.ID,
		string(op.Type),
		string(op.Payload),
		string(op.Status),
		op.Error,
		result,
		unixMilli(op.Submitted),
		unixMilli(op.Started),
		unixMilli(op.Finished),
	)
	if err != nil {
		return fmt.Errorf("save operation %s: %w", op.ID, err)
	}
	return nil
}

// Get returns the operation with id.
func (s *Store) Get(ctx context.Context, id string) (Operation, bool, error) {
	rows, err := s.db.QueryContext(ctx, selectOps+` WHERE id = ?`, id)
	if err != nil {
		return Operation{}, false, fmt.Errorf("get operation: %w", err)
	}
	ops, err := scanOps(rows)
	if err != nil || len(ops) == 0 {
		return Operation{}, false, err
	}
	return ops[0], true, nil
}

// Recent returns up to limit operations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectOps+` ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return scanOps(rows)
}

// FailUnfinished marks operations left queued or running by a previous
// process as failed and returns how many were changed.
func (s *Store) FailUnfinished(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operations SET status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?)
	`, string(StatusFailed), reason, time.Now().UnixMilli(), string(StatusQueued), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("fail unfinished operations: %w", err)
	}
	return res.RowsAffected()
}

const selectOps = `SELECT id, type, payload, status, error, result, submitted_at, started_at, finished_at FROM operations`

func scanOps(rows *sql.Rows) ([]Operation, error) {
	defer rows.Close()
	var ops []Operation
	for rows.Next() {
		var (
			op                           Operation
			typ, payload, status, result string
			submitted, started, finished int64
		)
		if err := rows.Scan(&op.ID, &typ, &payload, &status, &op.Error, &result, &submitted, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Type = Type(typ)
		op.Status = Status(status)
		if payload != "" {
			op.Payload = json.RawMessage(payload)
		}
		if result != "" {
			op.Result = new(motion.MoveSummary)
			if err := json.Unmarshal([]byte(result), op.Result); err != nil {
				return nil, fmt.Errorf("operation %s result: %w", op.ID, err)
			}
		}
		op.Submitted = fromMilli(submitted)
		op.Started = fromMilli(started)
		op.Finished = fromMilli(finished)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
