package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ErrNotFound is returned when no record matches the given identity.
var ErrNotFound = sqlx.ErrNotFound

var _ ConfigRecordsModel = (*defaultConfigRecordsModel)(nil)

type (
	// ConfigRecordsModel is an interface to be customized, add more methods
	// here and implement them in a custom wrapper.
	ConfigRecordsModel interface {
		Upsert(ctx context.Context, record *ConfigRecord) error
		FindOne(ctx context.Context, identity string) (*ConfigRecord, error)
		ListByCategory(ctx context.Context, category string) ([]ConfigRecord, error)
	}

	// ConfigRecord is one archived configuration, keyed by its identity
	// ("broker/iqoption", "asset/binary_options/EURUSD", ...).
	ConfigRecord struct {
		Identity string    `db:"identity"`
		Category string    `db:"category"`
		Market   string    `db:"market"`
		Name     string    `db:"name"`
		Payload  []byte    `db:"payload"`
		BuiltAt  time.Time `db:"built_at"`
	}

	defaultConfigRecordsModel struct {
		conn sqlx.SqlConn
	}
)

// NewConfigRecordsModel returns a model for the config_records table.
func NewConfigRecordsModel(conn sqlx.SqlConn) ConfigRecordsModel {
	return &defaultConfigRecordsModel{conn: conn}
}

func (m *defaultConfigRecordsModel) Upsert(ctx context.Context, record *ConfigRecord) error {
	const q = `INSERT INTO config_records (identity, category, market, name, payload, built_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (identity) DO UPDATE SET
  category = EXCLUDED.category,
  market = EXCLUDED.market,
  name = EXCLUDED.name,
  payload = EXCLUDED.payload,
  built_at = EXCLUDED.built_at,
  updated_at = now()`
	_, err := m.conn.ExecCtx(ctx, q,
		record.Identity, record.Category, record.Market, record.Name, record.Payload, record.BuiltAt)
	return err
}

func (m *defaultConfigRecordsModel) FindOne(ctx context.Context, identity string) (*ConfigRecord, error) {
	const q = `SELECT identity, category, market, name, payload, built_at
FROM config_records WHERE identity = $1 LIMIT 1`
	var record ConfigRecord
	err := m.conn.QueryRowCtx(ctx, &record, q, identity)
	switch err {
	case nil:
		return &record, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (m *defaultConfigRecordsModel) ListByCategory(ctx context.Context, category string) ([]ConfigRecord, error) {
	const q = `SELECT identity, category, market, name, payload, built_at
FROM config_records WHERE category = $1 ORDER BY identity`
	var records []ConfigRecord
	if err := m.conn.QueryRowsCtx(ctx, &records, q, category); err != nil {
		return nil, err
	}
	return records, nil
}
