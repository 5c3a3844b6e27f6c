package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	sql *sql.DB
}

var _ Repository = (*DB)(nil)

func Open(connStr string) (*DB, error) {
	s, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(20)
	s.SetMaxIdleConns(5)
	s.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	d := &DB{sql: s}
	if err := d.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS m3u_sources (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			encrypted_url TEXT NOT NULL,
			encryption_iv TEXT NOT NULL,
			source_type TEXT NOT NULL DEFAULT 'playlist' CHECK(source_type IN ('playlist','account')),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			live_count INTEGER,
			movie_count INTEGER,
			series_count INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS user_keys (
			key_code TEXT PRIMARY KEY,
			m3u_source_id BIGINT NOT NULL REFERENCES m3u_sources(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_banned BOOLEAN NOT NULL DEFAULT FALSE,
			max_connections INTEGER NOT NULL DEFAULT 1,
			expires_at TIMESTAMPTZ,
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_user_keys_source ON user_keys(m3u_source_id);`,
		`CREATE TABLE IF NOT EXISTS key_favorites (
			key_code TEXT NOT NULL REFERENCES user_keys(key_code) ON DELETE CASCADE,
			entry_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (key_code, entry_id)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (d *DB) GetKey(ctx context.Context, code string) (*AccessKey, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT key_code, m3u_source_id, is_active, is_banned, max_connections, expires_at, last_used_at, created_at
		 FROM user_keys WHERE key_code=$1;`, code)

	var k AccessKey
	var expiresAt, lastUsedAt sql.NullTime
	if err := row.Scan(&k.Code, &k.CatalogID, &k.Active, &k.Banned, &k.MaxConnections, &expiresAt, &lastUsedAt, &k.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return &k, nil
}

func (d *DB) TouchKey(ctx context.Context, code string, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE user_keys SET last_used_at=$2 WHERE key_code=$1;`, code, at.UTC())
	return err
}

func (d *DB) GetCatalog(ctx context.Context, id int64) (*Catalog, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT id, name, encrypted_url, encryption_iv, source_type, is_active, live_count, movie_count, series_count
		 FROM m3u_sources WHERE id=$1;`, id)

	var c Catalog
	var live, movies, series sql.NullInt64
	if err := row.Scan(&c.ID, &c.Name, &c.EncryptedLocation, &c.IV, &c.Type, &c.Active, &live, &movies, &series); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if live.Valid || movies.Valid || series.Valid {
		c.Counts = &Counts{Live: int(live.Int64), Movies: int(movies.Int64), Series: int(series.Int64)}
	}
	return &c, nil
}

func (d *DB) UpdateCounts(ctx context.Context, id int64, counts Counts) error {
	_, err := d.sql.ExecContext(ctx,
		`UPDATE m3u_sources SET live_count=$2, movie_count=$3, series_count=$4, updated_at=NOW() WHERE id=$1;`,
		id, counts.Live, counts.Movies, counts.Series)
	return err
}

func (d *DB) ListFavorites(ctx context.Context, keyCode string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT entry_id FROM key_favorites WHERE key_code=$1 ORDER BY created_at;`, keyCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *DB) ToggleFavorite(ctx context.Context, keyCode, entryID string) (bool, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM key_favorites WHERE key_code=$1 AND entry_id=$2;`, keyCode, entryID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = d.sql.ExecContext(ctx,
		`INSERT INTO key_favorites(key_code, entry_id) VALUES($1, $2) ON CONFLICT DO NOTHING;`, keyCode, entryID)
	if err != nil {
		return false, err
	}
	return true, nil
}
