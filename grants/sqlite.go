package grants

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It is the
// durable backend for grants not flagged CacheOnly: refresh tokens survive a
// process restart, authorization codes and CIBA sessions usually should not
// and belong in the memory or Redis store.
//
// Consume uses DELETE ... RETURNING, which SQLite executes atomically, so
// concurrent consumers of one key cannot both receive the row.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dbPath and initializes
// the grant schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSQLiteStore] sql.Open")
	}
	// Serialized writes; avoids SQLITE_BUSY under concurrent consumers.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[NewSQLiteStore] busy_timeout")
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS grants (
			key       TEXT PRIMARY KEY,
			data      TEXT NOT NULL,
			evict_at  INTEGER NOT NULL
		);`); err != nil {
		return errors.Wrap(err, "[NewSQLiteStore] create grants table")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS consumed_grants (
			key       TEXT PRIMARY KEY,
			evict_at  INTEGER NOT NULL
		);`); err != nil {
		return errors.Wrap(err, "[NewSQLiteStore] create consumed_grants table")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS grant_polls (
			key        TEXT PRIMARY KEY,
			polled_at  INTEGER NOT NULL,
			evict_at   INTEGER NOT NULL
		);`); err != nil {
		return errors.Wrap(err, "[NewSQLiteStore] create grant_polls table")
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, grant *Grant, ttl time.Duration) error {
	if grant.CacheOnly {
		return errors.New("[SQLiteStore.Put] cache-only grant must not be persisted")
	}
	data, err := json.Marshal(grant)
	if err != nil {
		return errors.Wrap(err, "[SQLiteStore.Put] marshal grant")
	}
	evictAt := s.nowFunc().Add(ttl).Unix()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (key, data, evict_at) VALUES (?1, ?2, ?3)
		ON CONFLICT(key) DO UPDATE SET data=?2, evict_at=?3;`,
		key, string(data), evictAt,
	); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Put] insert grant")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consumed_grants WHERE key=?1;`, key); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Put] clear tombstone")
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM grants WHERE key=?1 AND evict_at>?2;`,
		key, s.nowFunc().Unix(),
	)
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "[SQLiteStore.Get] scan grant")
	}
	return unmarshalGrant(data)
}

func (s *SQLiteStore) Consume(ctx context.Context, key string) (*Grant, error) {
	now := s.nowFunc().Unix()
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM grants WHERE key=?1 AND evict_at>?2 RETURNING data, evict_at;`,
		key, now,
	)
	var (
		data    string
		evictAt int64
	)
	if err := row.Scan(&data, &evictAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissing(ctx, key, now)
		}
		return nil, errors.Wrap(err, "[SQLiteStore.Consume] delete returning")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO consumed_grants (key, evict_at) VALUES (?1, ?2)
		ON CONFLICT(key) DO UPDATE SET evict_at=?2;`,
		key, evictAt,
	); err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore.Consume] insert tombstone")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grant_polls WHERE key=?1;`, key); err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore.Consume] clear poll record")
	}
	return unmarshalGrant(data)
}

// TouchPoll swaps the per-key poll timestamp inside a transaction, so
// concurrent polls of one key serialize without ever touching the grant row.
func (s *SQLiteStore) TouchPoll(ctx context.Context, key string, at time.Time, ttl time.Duration) (time.Time, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[SQLiteStore.TouchPoll] begin")
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowFunc().Unix()
	var prevNanos int64
	row := tx.QueryRowContext(ctx, `
		SELECT polled_at FROM grant_polls WHERE key=?1 AND evict_at>?2;`,
		key, now,
	)
	if err := row.Scan(&prevNanos); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrap(err, "[SQLiteStore.TouchPoll] scan previous poll")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO grant_polls (key, polled_at, evict_at) VALUES (?1, ?2, ?3)
		ON CONFLICT(key) DO UPDATE SET polled_at=?2, evict_at=?3;`,
		key, at.UnixNano(), s.nowFunc().Add(ttl).Unix(),
	); err != nil {
		return time.Time{}, errors.Wrap(err, "[SQLiteStore.TouchPoll] upsert poll record")
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, errors.Wrap(err, "[SQLiteStore.TouchPoll] commit")
	}

	if prevNanos == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, prevNanos), nil
}

func (s *SQLiteStore) classifyMissing(ctx context.Context, key string, now int64) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM consumed_grants WHERE key=?1 AND evict_at>?2;`,
		key, now,
	)
	var one int
	if err := row.Scan(&one); err == nil {
		return ErrAlreadyConsumed
	}
	return ErrNotFound
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE key=?1;`, key); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Remove] delete grant")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grant_polls WHERE key=?1;`, key); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Remove] delete poll record")
	}
	return nil
}

// Sweep evicts expired rows and tombstones. Intended to be run periodically
// by the owning process.
func (s *SQLiteStore) Sweep(ctx context.Context) error {
	now := s.nowFunc().Unix()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grants WHERE evict_at<=?1;`, now); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Sweep] grants")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM consumed_grants WHERE evict_at<=?1;`, now); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Sweep] tombstones")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM grant_polls WHERE evict_at<=?1;`, now); err != nil {
		return errors.Wrap(err, "[SQLiteStore.Sweep] poll records")
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unmarshalGrant(data string) (*Grant, error) {
	var grant Grant
	if err := json.Unmarshal([]byte(data), &grant); err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore] unmarshal grant")
	}
	return &grant, nil
}
