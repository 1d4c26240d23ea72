// Package ledger provides the durable key-value store backing the policy
// engine's spend tracking and the funding proposal table. All components
// persist through this store; nothing touches the database directly.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/database"
)

// Well-known keys and key prefixes.
const (
	SpendKeyPrefix    = "spend/"
	ProposalKeyPrefix = "proposal/"
	TxHistoryLog      = "txhistory"
	ViolationLog      = "violations"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	log_key    TEXT NOT NULL,
	entry      TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_key ON logs(log_key, id);
`

// Store is a durable JSON record store over SQLite. Writes are serialized by
// a single store-wide mutex; every write commits in its own transaction, so a
// failed write leaves the prior value intact.
type Store struct {
	db  *database.DB
	mu  sync.Mutex
	log zerolog.Logger
}

// NewStore creates the schema if needed and returns a ready store.
func NewStore(db *database.DB, log zerolog.Logger) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Store{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
	}, nil
}

// Put serializes record as JSON and upserts it under key. All-or-nothing:
// on any failure the previously committed value remains readable.
func (s *Store) Put(key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize record %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		`INSERT INTO records (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	return nil
}

// Get loads the record stored under key into out. Returns false when the key
// is absent. A corrupt stored value is treated as absent with a logged
// warning; use GetStrict on paths where silent loss would be a correctness bug.
func (s *Store) Get(key string, out any) (bool, error) {
	found, err := s.GetStrict(key, out)
	if err != nil {
		var corruptErr *CorruptRecordError
		if isCorrupt(err, &corruptErr) {
			s.log.Warn().Str("key", key).Err(corruptErr.Cause).
				Msg("Corrupt record treated as absent")
			return false, nil
		}
		return false, err
	}
	return found, nil
}

// GetStrict loads the record stored under key into out and surfaces corrupt
// data as an error instead of degrading to absent.
func (s *Store) GetStrict(key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read record %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, &CorruptRecordError{Key: key, Cause: err}
	}
	return true, nil
}

// Delete removes the record under key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Keys returns all record keys with the given prefix, ascending.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM records WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys %s*: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// AppendBounded appends entry to the log named logKey and evicts the oldest
// entries beyond maxEntries. Append and eviction commit in one transaction.
func (s *Store) AppendBounded(logKey string, entry any, maxEntries int) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize log entry for %s: %w", logKey, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin append to %s: %w", logKey, err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO logs (log_key, entry, created_at) VALUES (?, ?, ?)`,
		logKey, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", logKey, err)
	}

	_, err = tx.Exec(
		`DELETE FROM logs WHERE log_key = ? AND id NOT IN (
			SELECT id FROM logs WHERE log_key = ? ORDER BY id DESC LIMIT ?
		)`,
		logKey, logKey, maxEntries,
	)
	if err != nil {
		return fmt.Errorf("failed to truncate %s: %w", logKey, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append to %s: %w", logKey, err)
	}
	return nil
}

// ReadLog returns up to limit entries from the log named logKey, newest
// first. Corrupt rows are skipped with a warning.
func (s *Store) ReadLog(logKey string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT entry FROM logs WHERE log_key = ? ORDER BY id DESC LIMIT ?`,
		logKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read log %s: %w", logKey, err)
	}
	defer rows.Close()

	var entries []json.RawMessage
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if !json.Valid([]byte(entry)) {
			s.log.Warn().Str("log", logKey).Msg("Skipping corrupt log entry")
			continue
		}
		entries = append(entries, json.RawMessage(entry))
	}
	return entries, rows.Err()
}

// LogCount returns the number of entries currently held for logKey.
func (s *Store) LogCount(logKey string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM logs WHERE log_key = ?`, logKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count log %s: %w", logKey, err)
	}
	return n, nil
}

// CleanupBefore deletes dated records under prefix whose suffix sorts below
// cutoff. Date suffixes are YYYY-MM-DD, so lexical order is date order.
// Returns the number of records removed.
func (s *Store) CleanupBefore(prefix, cutoff string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM records WHERE key LIKE ? AND key < ?`,
		prefix+"%", prefix+cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up %s* before %s: %w", prefix, cutoff, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
