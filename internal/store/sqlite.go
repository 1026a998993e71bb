package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single connection: sqlite is single-writer, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS identity_cache (
	normalized_name  TEXT PRIMARY KEY,
	original_name    TEXT NOT NULL,
	resolved_id      INTEGER,
	tier             TEXT NOT NULL,
	hit_count        INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_cache (
	class      TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    BLOB NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (class, key)
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	role             TEXT NOT NULL,
	companies        TEXT,
	compiled_query   TEXT NOT NULL DEFAULT '',
	discovered_ids   TEXT,
	profiles_offset  INTEGER NOT NULL DEFAULT 0,
	stage            TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	last_accessed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_resource_cache_fetched ON resource_cache(fetched_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- identity cache ---

func (s *SQLiteStore) GetIdentity(ctx context.Context, normalizedName string) (*model.IdentityCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT normalized_name, original_name, resolved_id, tier, hit_count, created_at, last_accessed_at
		 FROM identity_cache WHERE normalized_name = ?`,
		normalizedName,
	)

	var e model.IdentityCacheEntry
	var resolvedID sql.NullInt64
	err := row.Scan(&e.NormalizedName, &e.OriginalName, &resolvedID, &e.Tier, &e.HitCount, &e.CreatedAt, &e.LastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get identity")
	}
	if resolvedID.Valid {
		e.ResolvedID = &resolvedID.Int64
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertIdentity(ctx context.Context, entry *model.IdentityCacheEntry) error {
	var resolvedID sql.NullInt64
	if entry.ResolvedID != nil {
		resolvedID = sql.NullInt64{Int64: *entry.ResolvedID, Valid: true}
	}
	now := time.Now().UTC()

	// A successful resolution is written once and never overwritten; only
	// negative entries may be refreshed (cooldown re-attempts).
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_cache
			(normalized_name, original_name, resolved_id, tier, hit_count, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(normalized_name) DO UPDATE SET
			resolved_id = excluded.resolved_id,
			tier = excluded.tier,
			original_name = excluded.original_name,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at
		 WHERE identity_cache.resolved_id IS NULL`,
		entry.NormalizedName, entry.OriginalName, resolvedID, string(entry.Tier), now, now,
	)
	return eris.Wrap(err, "sqlite: upsert identity")
}

func (s *SQLiteStore) IncrementIdentityHit(ctx context.Context, normalizedName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_cache SET hit_count = hit_count + 1, last_accessed_at = ? WHERE normalized_name = ?`,
		time.Now().UTC(), normalizedName,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: increment identity hit")
	}
	return checkRowsAffected(res, "identity", normalizedName)
}

// --- resource cache ---

func (s *SQLiteStore) GetResource(ctx context.Context, class, key string) (*ResourceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT class, key, payload, fetched_at FROM resource_cache WHERE class = ? AND key = ?`,
		class, key,
	)

	var r ResourceRecord
	err := row.Scan(&r.Class, &r.Key, &r.Payload, &r.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get resource")
	}
	return &r, nil
}

func (s *SQLiteStore) PutResource(ctx context.Context, class, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_cache (class, key, payload, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(class, key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		class, key, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put resource")
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{Resources: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT class, COUNT(*) FROM resource_cache GROUP BY class`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resource stats")
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resource stats")
		}
		stats.Resources[class] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: resource stats rows")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(CASE WHEN resolved_id IS NULL THEN 1 ELSE 0 END), 0)
		 FROM identity_cache`)
	if err := row.Scan(&stats.Identity.Entries, &stats.Identity.Hits, &stats.Identity.Negative); err != nil {
		return nil, eris.Wrap(err, "sqlite: identity stats")
	}
	return stats, nil
}

// --- sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.SearchSession) error {
	roleJSON, err := json.Marshal(sess.Role)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal role")
	}
	companiesJSON, err := json.Marshal(sess.Companies)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal companies")
	}
	idsJSON, err := json.Marshal(sess.DiscoveredIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal discovered ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions
			(id, role, companies, compiled_query, discovered_ids, profiles_offset, stage, failure_reason, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, string(roleJSON), string(companiesJSON), sess.CompiledQuery, string(idsJSON),
		sess.ProfilesOffset, string(sess.Stage), sess.FailureReason, sess.CreatedAt, sess.LastAccessedAt,
	)
	return eris.Wrap(err, "sqlite: insert session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SearchSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, companies, compiled_query, discovered_ids, profiles_offset, stage, failure_reason, created_at, last_accessed_at
		 FROM sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = ? WHERE id = ?`, now, id,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: touch session")
	}
	sess.LastAccessedAt = now

	return sess, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	query := `UPDATE sessions SET last_accessed_at = ?`
	args := []any{time.Now().UTC()}

	if update.Stage != nil {
		query += `, stage = ?`
		args = append(args, string(*update.Stage))
	}
	if update.FailureReason != nil {
		query += `, failure_reason = ?`
		args = append(args, *update.FailureReason)
	}
	if update.Companies != nil {
		companiesJSON, err := json.Marshal(update.Companies)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal companies")
		}
		query += `, companies = ?`
		args = append(args, string(companiesJSON))
	}
	if update.CompiledQuery != nil {
		query += `, compiled_query = ?`
		args = append(args, *update.CompiledQuery)
	}
	if update.DiscoveredIDs != nil {
		idsJSON, err := json.Marshal(update.DiscoveredIDs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal discovered ids")
		}
		query += `, discovered_ids = ?`
		args = append(args, string(idsJSON))
	}
	if update.ProfilesOffset != nil {
		// Monotonic: never move the offset backwards.
		query += `, profiles_offset = MAX(profiles_offset, ?)`
		args = append(args, *update.ProfilesOffset)
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update session %s", id)
	}
	return checkRowsAffected(res, "session", id)
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, inactiveFor time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-inactiveFor)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_accessed_at <= ?`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired sessions")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.SearchSession, error) {
	var sess model.SearchSession
	var roleJSON, companiesJSON, idsJSON sql.NullString

	err := row.Scan(&sess.ID, &roleJSON, &companiesJSON, &sess.CompiledQuery, &idsJSON,
		&sess.ProfilesOffset, &sess.Stage, &sess.FailureReason, &sess.CreatedAt, &sess.LastAccessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan session")
	}

	if roleJSON.Valid && roleJSON.String != "" {
		if err := json.Unmarshal([]byte(roleJSON.String), &sess.Role); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal role")
		}
	}
	if companiesJSON.Valid && companiesJSON.String != "" {
		if err := json.Unmarshal([]byte(companiesJSON.String), &sess.Companies); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal companies")
		}
	}
	if idsJSON.Valid && idsJSON.String != "" {
		if err := json.Unmarshal([]byte(idsJSON.String), &sess.DiscoveredIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal discovered ids")
		}
	}
	return &sess, nil
}
