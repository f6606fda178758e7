// Package journal keeps an append-only SQLite record of every non-WAIT
// action the engine emits and every session that closes. The journal is an
// audit trail, not an authority: writes are best-effort and a failure never
// blocks the decision loop.
package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"elastic-dca/pkg/id"
	"elastic-dca/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id          TEXT PRIMARY KEY,
	time        TEXT NOT NULL,
	side        TEXT NOT NULL,
	action      TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	row_index   INTEGER,
	volume      TEXT,
	comment     TEXT,
	price       TEXT,
	reason      TEXT
);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	side        TEXT NOT NULL,
	closed_at   TEXT NOT NULL,
	rows_filled INTEGER NOT NULL,
	total_lots  TEXT NOT NULL,
	profit      TEXT NOT NULL,
	reason      TEXT NOT NULL
);
`

// ActionRecord is one emitted order intent.
type ActionRecord struct {
	Side      types.Side
	Action    types.Action
	SessionID string
	RowIndex  int // -1 when the action is not tied to a row
	Volume    decimal.Decimal
	Comment   string
	Price     decimal.Decimal
	Reason    string // "expansion", "hedge", "take_profit", "operator_off", "emergency"
}

// SessionEnd summarizes a session at the moment its close completes.
type SessionEnd struct {
	SessionID  string
	Side       types.Side
	RowsFilled int
	TotalLots  decimal.Decimal
	Profit     decimal.Decimal
	Reason     string
}

// Journal is a SQLite-backed action log. A nil *Journal is a no-op, so
// callers never need to branch on whether journaling is enabled.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, logger: logger.With("component", "journal")}, nil
}

// RecordAction appends an emitted action. Best-effort.
func (j *Journal) RecordAction(rec ActionRecord) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(`
		INSERT INTO actions
		(id, time, side, action, session_id, row_index, volume, comment, price, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.New(), time.Now().UTC().Format(time.RFC3339Nano),
		string(rec.Side), string(rec.Action), rec.SessionID, rec.RowIndex,
		rec.Volume.String(), rec.Comment, rec.Price.String(), rec.Reason,
	)
	if err != nil {
		j.logger.Error("record action failed", "error", err, "action", rec.Action)
	}
}

// RecordSessionEnd appends a closed-session summary. Best-effort.
func (j *Journal) RecordSessionEnd(end SessionEnd) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(`
		INSERT INTO sessions
		(id, session_id, side, closed_at, rows_filled, total_lots, profit, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.New(), end.SessionID, string(end.Side),
		time.Now().UTC().Format(time.RFC3339Nano),
		end.RowsFilled, end.TotalLots.String(), end.Profit.String(), end.Reason,
	)
	if err != nil {
		j.logger.Error("record session end failed", "error", err, "session", end.SessionID)
	}
}

// RecentActions returns the latest n journaled actions, newest first.
func (j *Journal) RecentActions(n int) ([]ActionRecord, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.Query(`
		SELECT side, action, session_id, row_index, volume, comment, price, reason
		FROM actions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		var side, action, volume, price string
		if err := rows.Scan(&side, &action, &rec.SessionID, &rec.RowIndex, &volume, &rec.Comment, &price, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Side = types.Side(side)
		rec.Action = types.Action(action)
		rec.Volume, _ = decimal.NewFromString(volume)
		rec.Price, _ = decimal.NewFromString(price)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
