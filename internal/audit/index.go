package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ara-systems/ara/internal/arerr"
)

// Index is a rebuildable SQLite secondary index over the append-only
// chain file, used by `audit.query` for fast filtering by event_type or
// actor. The chain file remains the sole source of truth for integrity;
// this index can always be rebuilt from it via Rebuild.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the query index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "cannot open audit index", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		details TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_entries_event_type ON entries(event_type);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, arerr.Wrap(arerr.KindInternal, "cannot create audit index schema", err)
	}
	return &Index{db: db}, nil
}

// Ingest records one entry into the index. Called right after a
// successful Log.Append so the index never races ahead of the canonical
// chain.
func (idx *Index) Ingest(e Entry) error {
	details, _ := json.Marshal(e.Details)
	_, err := idx.db.Exec(
		`INSERT INTO entries (timestamp, session_id, event_type, actor, details) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano), e.SessionID, e.EventType, string(e.Actor), string(details),
	)
	if err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot ingest audit entry into index", err)
	}
	return nil
}

// QueryFiltered returns indexed entries matching sessionID (optional),
// eventType (optional), and actor (optional); empty string means
// "any".
func (idx *Index) QueryFiltered(sessionID, eventType, actor string) ([]Entry, error) {
	query := `SELECT timestamp, session_id, event_type, actor, details FROM entries WHERE 1=1`
	var args []interface{}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	if actor != "" {
		query += ` AND actor = ?`
		args = append(args, actor)
	}
	query += ` ORDER BY seq ASC`

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, arerr.Wrap(arerr.KindInternal, "audit index query failed", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var ts, sid, et, act, details string
		if err := rows.Scan(&ts, &sid, &et, &act, &details); err != nil {
			return nil, arerr.Wrap(arerr.KindInternal, "audit index scan failed", err)
		}
		var d map[string]interface{}
		json.Unmarshal([]byte(details), &d)
		parsed, _ := time.Parse(time.RFC3339Nano, ts)
		out = append(out, Entry{Timestamp: parsed, SessionID: sid, EventType: et, Actor: Actor(act), Details: d})
	}
	return out, rows.Err()
}

// Rebuild clears and repopulates the index from the canonical chain log,
// used to recover from an index that has fallen out of sync.
func (idx *Index) Rebuild(log *Log) error {
	if _, err := idx.db.Exec(`DELETE FROM entries`); err != nil {
		return arerr.Wrap(arerr.KindInternal, "cannot clear audit index", err)
	}
	entries, err := log.Query("")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := idx.Ingest(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }
