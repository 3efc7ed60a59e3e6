package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/mfafarm/internal/model"
)

func sampleConfig() *model.Configuration {
	cfg := model.NewConfiguration()
	cfg.Farm.Initialized = true
	cfg.Farm.FarmIdentifier = "http://sts.corp.local/adfs/services/trust"
	cfg.Farm.Upsert(model.NodeDescriptor{
		FQDN:      "adfs1.corp.local",
		NodeType:  model.NodeTypePrimary,
		Heartbeat: time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC),
	})
	cfg.ConfigStore = model.SecretStoreDescriptor{
		ConnectionString: "Data Source=sql1",
		Parameters:       map[string]string{"timeout": "30"},
	}
	return cfg
}

// ---------- PostgresStore ----------

func TestPostgresStore_Read_Success(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	body, err := json.Marshal(sampleConfig())
	require.NoError(t, err)
	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*[]byte)) = body
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any(nil)).Return(row)

	cfg, err := s.Read(ctx)
	require.NoError(t, err)
	assert.True(t, cfg.Farm.Initialized)
	assert.Equal(t, []string{"adfs1.corp.local"}, cfg.Farm.Names())
	assert.False(t, cfg.Dirty)
	db.AssertExpectations(t)
}

func TestPostgresStore_Read_NotFound(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any(nil)).Return(row)

	cfg, err := s.Read(ctx)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Read_Error(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return errors.New("connection refused") }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any(nil)).Return(row)

	_, err := s.Read(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read configuration")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Write(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()
	cfg := sampleConfig()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 3 || args[0] != 1 {
			return false
		}
		var decoded model.Configuration
		return json.Unmarshal(args[1].([]byte), &decoded) == nil && decoded.Farm.Initialized
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, s.Write(ctx, cfg))
	db.AssertExpectations(t)
}

func TestPostgresStore_Write_Error(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("read-only transaction"))

	err := s.Write(ctx, sampleConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only transaction")
}

func TestPostgresStore_Delete(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "DELETE FROM farm_configuration")
	}), mock.Anything).Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, s.Delete(ctx))
	db.AssertExpectations(t)
}

func TestPostgresStore_Delete_Error(t *testing.T) {
	db := &mockDB{}
	s := NewPostgresStore(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := s.Delete(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete configuration")
}

// ---------- FileCache ----------

func TestFileCache_SaveLoadDelete(t *testing.T) {
	c := NewFileCache(t.TempDir())

	_, err := c.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := sampleConfig()
	cfg.Dirty = true
	require.NoError(t, c.Save(cfg))

	got, err := c.Load()
	require.NoError(t, err)
	assert.False(t, got.Dirty, "dirty flag is never persisted")
	assert.Equal(t, cfg.Farm.FarmIdentifier, got.Farm.FarmIdentifier)
	assert.Equal(t, "30", got.ConfigStore.Parameters["timeout"])
	assert.True(t, cfg.Farm.Nodes[0].Heartbeat.Equal(got.Farm.Nodes[0].Heartbeat))

	require.NoError(t, c.Delete())
	require.NoError(t, c.Delete())
	_, err = c.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := Marshal(sampleConfig())
	require.NoError(t, err)
	b, err := Marshal(sampleConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
