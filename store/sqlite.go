package store

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sent-cache and lock bounds. The cache only needs to cover occurrences an
// agent could re-fire after a restart; the lock only needs to outlive one
// dedupe round.
const (
	SentCacheTTL = 48 * time.Hour
	SentCacheMax = 64
	SendLockTTL  = 30 * time.Second
)

// Store is the agent's shared local state: a sqlite file in the account's
// state dir, opened by every agent process on the machine. It backs the
// sent-cache and the advisory send-locks. It is deliberately not
// transactional across processes; callers treat it as best-effort.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sent_cache (
		signature TEXT PRIMARY KEY,
		sent_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sent_cache_time ON sent_cache(sent_at);

	CREATE TABLE IF NOT EXISTS send_locks (
		signature TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		acquired_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SeenSignature reports whether a due message for this signature was already
// sent by some process on this machine within the cache TTL.
func (s *Store) SeenSignature(signature string) (bool, error) {
	var sentAt time.Time
	err := s.db.QueryRow(`
		SELECT sent_at FROM sent_cache WHERE signature = ?
	`, signature).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return time.Since(sentAt) < SentCacheTTL, nil
}

// RecordSent marks a signature as delivered and prunes the cache down to its
// TTL and size bounds.
func (s *Store) RecordSent(signature string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sent_cache (signature, sent_at) VALUES (?, ?)
	`, signature, time.Now())
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		DELETE FROM sent_cache WHERE sent_at < ?
	`, time.Now().Add(-SentCacheTTL))
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		DELETE FROM sent_cache WHERE signature NOT IN (
			SELECT signature FROM sent_cache ORDER BY sent_at DESC LIMIT ?
		)
	`, SentCacheMax)
	return err
}

// TryAcquireSendLock attempts the advisory claim for one signature. Any
// fresh, unexpired lock row counts as already claimed, including one this
// process wrote earlier. This is a read-check-write, not a compare-and-swap:
// two processes racing through it can both win. The dedupe protocol layers
// further checks around it rather than pretending otherwise.
func (s *Store) TryAcquireSendLock(signature, ownerID string) (bool, error) {
	var acquiredAt time.Time
	err := s.db.QueryRow(`
		SELECT acquired_at FROM send_locks WHERE signature = ?
	`, signature).Scan(&acquiredAt)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if err == nil && time.Since(acquiredAt) < SendLockTTL {
		return false, nil
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO send_locks (signature, owner_id, acquired_at)
		VALUES (?, ?, ?)
	`, signature, ownerID, time.Now())
	if err != nil {
		return false, err
	}

	_, _ = s.db.Exec(`
		DELETE FROM send_locks WHERE acquired_at < ?
	`, time.Now().Add(-2*SendLockTTL))

	return true, nil
}
