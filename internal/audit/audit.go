// Package audit persists a record of every accepted or rejected frame a
// Session observes, for offline link diagnosis after a field deployment.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	sfp "github.com/xx25/go-sfp"
)

// Log is a Session Observer backed by a SQLite database. It never
// blocks on the session's hot path for longer than a single INSERT.
type Log struct {
	db *sql.DB
}

// Open opens or creates the audit database at path, creating its schema
// if necessary. If path is empty, a default under the user state
// directory ($XDG_STATE_HOME, else ~/.local/state) is used.
func Open(path string) (*Log, error) {
	if path == "" {
		var err error
		path, err = defaultPath()
		if err != nil {
			return nil, fmt.Errorf("audit: determine default path: %w", err)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit: create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS frame_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	kind       TEXT NOT NULL,
	frame_type TEXT,
	seq        INTEGER,
	payload_len INTEGER,
	reason     TEXT
);

CREATE TABLE IF NOT EXISTS state_transitions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL
);
`
	_, err := l.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("audit: migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// OnFrameAccepted implements sfp.Observer.
func (l *Log) OnFrameAccepted(pkt sfp.Packet) {
	l.insertFrameEvent("accepted", pkt.Type.String(), int(pkt.Seq), len(pkt.Payload), "")
}

// OnFrameRejected implements sfp.Observer.
func (l *Log) OnFrameRejected(err error) {
	l.insertFrameEvent("rejected", "", -1, 0, err.Error())
}

// OnStateChange implements sfp.Observer.
func (l *Log) OnStateChange(from, to sfp.ConnectState) {
	_, err := l.db.ExecContext(context.Background(),
		`INSERT INTO state_transitions (from_state, to_state) VALUES (?, ?)`,
		from.String(), to.String())
	if err != nil {
		// Audit is best-effort diagnostics; a write failure here must
		// never propagate back into the session's routing path.
		fmt.Fprintf(os.Stderr, "audit: record state transition: %v\n", err)
	}
}

func (l *Log) insertFrameEvent(kind, frameType string, seq, payloadLen int, reason string) {
	_, err := l.db.ExecContext(context.Background(),
		`INSERT INTO frame_events (kind, frame_type, seq, payload_len, reason) VALUES (?, ?, ?, ?, ?)`,
		kind, frameType, seq, payloadLen, reason)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: record frame event: %v\n", err)
	}
}

// Counts reports how many frame events of each kind have been recorded,
// for a quick health summary without a full table scan by the caller.
func (l *Log) Counts(ctx context.Context) (accepted, rejected int, err error) {
	row := l.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM frame_events WHERE kind = 'accepted'),
		(SELECT COUNT(*) FROM frame_events WHERE kind = 'rejected')`)
	if err := row.Scan(&accepted, &rejected); err != nil {
		return 0, 0, fmt.Errorf("audit: count frame events: %w", err)
	}
	return accepted, rejected, nil
}

func defaultPath() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "sfp", "audit.db"), nil
}
