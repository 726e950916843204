package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer persists run logs to the state database
type Writer struct {
	db *sql.DB
}

// NewWriter creates a new event writer
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// LogEvent writes one event of a run at position seq
func (w *Writer) LogEvent(tx *sql.Tx, runID int64, seq int, event Event) error {
	query := `
		INSERT INTO run_events (run_id, seq, timestamp, level, message, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var payload *string
	if len(event.Fields) > 0 {
		data, err := json.Marshal(event.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		s := string(data)
		payload = &s
	}

	executor := w.getExecutor(tx)
	_, err := executor.Exec(query, runID, seq, event.Time.UTC().Format(time.RFC3339Nano), string(event.Level), event.Message, payload)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogRunLog appends every event of a run log, numbering them from 1
func (w *Writer) LogRunLog(tx *sql.Tx, runID int64, log []Event) error {
	for i, event := range log {
		if err := w.LogEvent(tx, runID, i+1, event); err != nil {
			return err
		}
	}
	return nil
}

// ReadRunLog loads the persisted events of a run in order
func (w *Writer) ReadRunLog(runID int64) ([]Event, error) {
	rows, err := w.db.Query(`
		SELECT timestamp, level, message, payload
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ts      string
			level   string
			message string
			payload sql.NullString
		)
		if err := rows.Scan(&ts, &level, &message, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("invalid event timestamp %q: %w", ts, err)
		}
		e := Event{Time: t, Level: Level(level), Message: message}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Fields); err != nil {
				return nil, fmt.Errorf("invalid event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run events: %w", err)
	}
	return out, nil
}

// getExecutor returns the appropriate executor (tx or db)
func (w *Writer) getExecutor(tx *sql.Tx) interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
} {
	if tx != nil {
		return tx
	}
	return w.db
}
