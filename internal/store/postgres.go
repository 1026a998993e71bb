package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/scout/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS identity_cache (
	normalized_name  TEXT PRIMARY KEY,
	original_name    TEXT NOT NULL,
	resolved_id      BIGINT,
	tier             TEXT NOT NULL,
	hit_count        BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_cache (
	class      TEXT NOT NULL,
	key        TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (class, key)
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	role             JSONB NOT NULL,
	companies        JSONB,
	compiled_query   TEXT NOT NULL DEFAULT '',
	discovered_ids   JSONB,
	profiles_offset  INT NOT NULL DEFAULT 0,
	stage            TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_resource_cache_fetched ON resource_cache(fetched_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- identity cache ---

func (s *PostgresStore) GetIdentity(ctx context.Context, normalizedName string) (*model.IdentityCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT normalized_name, original_name, resolved_id, tier, hit_count, created_at, last_accessed_at
		 FROM identity_cache WHERE normalized_name = $1`,
		normalizedName,
	)

	var e model.IdentityCacheEntry
	var resolvedID *int64
	err := row.Scan(&e.NormalizedName, &e.OriginalName, &resolvedID, &e.Tier, &e.HitCount, &e.CreatedAt, &e.LastAccessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get identity")
	}
	e.ResolvedID = resolvedID
	return &e, nil
}

func (s *PostgresStore) UpsertIdentity(ctx context.Context, entry *model.IdentityCacheEntry) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_cache
			(normalized_name, original_name, resolved_id, tier, hit_count, created_at, last_accessed_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $5)
		 ON CONFLICT (normalized_name) DO UPDATE SET
			resolved_id = EXCLUDED.resolved_id,
			tier = EXCLUDED.tier,
			original_name = EXCLUDED.original_name,
			created_at = EXCLUDED.created_at,
			last_accessed_at = EXCLUDED.last_accessed_at
		 WHERE identity_cache.resolved_id IS NULL`,
		entry.NormalizedName, entry.OriginalName, entry.ResolvedID, string(entry.Tier), now,
	)
	return eris.Wrap(err, "postgres: upsert identity")
}

func (s *PostgresStore) IncrementIdentityHit(ctx context.Context, normalizedName string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_cache SET hit_count = hit_count + 1, last_accessed_at = $1 WHERE normalized_name = $2`,
		time.Now().UTC(), normalizedName,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: increment identity hit")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "identity %s", normalizedName)
	}
	return nil
}

// --- resource cache ---

func (s *PostgresStore) GetResource(ctx context.Context, class, key string) (*ResourceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT class, key, payload, fetched_at FROM resource_cache WHERE class = $1 AND key = $2`,
		class, key,
	)

	var r ResourceRecord
	err := row.Scan(&r.Class, &r.Key, &r.Payload, &r.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get resource")
	}
	return &r, nil
}

func (s *PostgresStore) PutResource(ctx context.Context, class, key string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resource_cache (class, key, payload, fetched_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (class, key) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		class, key, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put resource")
}

func (s *PostgresStore) CacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{Resources: make(map[string]int64)}

	rows, err := s.pool.Query(ctx,
		`SELECT class, COUNT(*) FROM resource_cache GROUP BY class`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resource stats")
	}
	defer rows.Close()
	for rows.Next() {
		var class string
		var n int64
		if err := rows.Scan(&class, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resource stats")
		}
		stats.Resources[class] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: resource stats rows")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(CASE WHEN resolved_id IS NULL THEN 1 ELSE 0 END), 0)
		 FROM identity_cache`)
	if err := row.Scan(&stats.Identity.Entries, &stats.Identity.Hits, &stats.Identity.Negative); err != nil {
		return nil, eris.Wrap(err, "postgres: identity stats")
	}
	return stats, nil
}

// --- sessions ---

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.SearchSession) error {
	roleJSON, err := json.Marshal(sess.Role)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal role")
	}
	companiesJSON, err := json.Marshal(sess.Companies)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal companies")
	}
	idsJSON, err := json.Marshal(sess.DiscoveredIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal discovered ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions
			(id, role, companies, compiled_query, discovered_ids, profiles_offset, stage, failure_reason, created_at, last_accessed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, roleJSON, companiesJSON, sess.CompiledQuery, idsJSON,
		sess.ProfilesOffset, string(sess.Stage), sess.FailureReason, sess.CreatedAt, sess.LastAccessedAt,
	)
	return eris.Wrap(err, "postgres: insert session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SearchSession, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE sessions SET last_accessed_at = $1 WHERE id = $2
		 RETURNING id, role, companies, compiled_query, discovered_ids, profiles_offset, stage, failure_reason, created_at, last_accessed_at`,
		now, id,
	)

	var sess model.SearchSession
	var roleJSON, companiesJSON, idsJSON []byte
	err := row.Scan(&sess.ID, &roleJSON, &companiesJSON, &sess.CompiledQuery, &idsJSON,
		&sess.ProfilesOffset, &sess.Stage, &sess.FailureReason, &sess.CreatedAt, &sess.LastAccessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get session")
	}

	if len(roleJSON) > 0 {
		if err := json.Unmarshal(roleJSON, &sess.Role); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal role")
		}
	}
	if len(companiesJSON) > 0 {
		if err := json.Unmarshal(companiesJSON, &sess.Companies); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal companies")
		}
	}
	if len(idsJSON) > 0 {
		if err := json.Unmarshal(idsJSON, &sess.DiscoveredIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal discovered ids")
		}
	}
	return &sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) error {
	query := `UPDATE sessions SET last_accessed_at = $1`
	args := []any{time.Now().UTC()}

	next := func() int { return len(args) + 1 }

	if update.Stage != nil {
		query += `, stage = $` + itoa(next())
		args = append(args, string(*update.Stage))
	}
	if update.FailureReason != nil {
		query += `, failure_reason = $` + itoa(next())
		args = append(args, *update.FailureReason)
	}
	if update.Companies != nil {
		companiesJSON, err := json.Marshal(update.Companies)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal companies")
		}
		query += `, companies = $` + itoa(next())
		args = append(args, companiesJSON)
	}
	if update.CompiledQuery != nil {
		query += `, compiled_query = $` + itoa(next())
		args = append(args, *update.CompiledQuery)
	}
	if update.DiscoveredIDs != nil {
		idsJSON, err := json.Marshal(update.DiscoveredIDs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal discovered ids")
		}
		query += `, discovered_ids = $` + itoa(next())
		args = append(args, idsJSON)
	}
	if update.ProfilesOffset != nil {
		query += `, profiles_offset = GREATEST(profiles_offset, $` + itoa(next()) + `)`
		args = append(args, *update.ProfilesOffset)
	}

	query += ` WHERE id = $` + itoa(next())
	args = append(args, id)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, inactiveFor time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-inactiveFor)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE last_accessed_at <= $1`, cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired sessions")
	}
	return int(tag.RowsAffected()), nil
}

func itoa(n int) string { return strconv.Itoa(n) }
