// Package store persists the farm configuration: a durable shared store
// that is the single source of truth, and a per-node cache mirror.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/mfafarm/internal/model"
	"github.com/edvin/mfafarm/internal/platform"
)

// ErrNotFound is returned by Read when no configuration has been written.
var ErrNotFound = errors.New("configuration not found")

// ConfigStore reads and writes the full configuration blob.
type ConfigStore interface {
	Read(ctx context.Context) (*model.Configuration, error)
	Write(ctx context.Context, cfg *model.Configuration) error
	Delete(ctx context.Context) error
}

// DB is the subset of pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the configuration as a single JSONB row.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a ConfigStore over db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Read(ctx context.Context) (*model.Configuration, error) {
	var body []byte
	err := s.db.QueryRow(ctx, "SELECT body FROM farm_configuration WHERE id = 1").Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg model.Configuration
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) Write(ctx context.Context, cfg *model.Configuration) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO farm_configuration (id, version, body, updated_by, updated_at)
		 VALUES (1, $1, $2, $3, now())
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, body = EXCLUDED.body,
		 updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`,
		cfg.Version, body, platform.ProcessID(),
	)
	if err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	return nil
}

// Delete removes the stored configuration.
func (s *PostgresStore) Delete(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM farm_configuration WHERE id = 1"); err != nil {
		return fmt.Errorf("delete configuration: %w", err)
	}
	return nil
}
