// Package archive persists installed snapshots to Postgres for audit and
// rollback tooling. Archiving is best-effort: a database outage is logged and
// never fails a load cycle.
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"tradeconf/internal/model"
	"tradeconf/internal/registry"
	"tradeconf/pkg/confnode"
)

// Connect opens a Postgres connection through the pgx stdlib driver.
func Connect(dsn string) sqlx.SqlConn {
	return sqlx.NewSqlConn("pgx", dsn)
}

// Recorder writes one row per configuration in a snapshot.
type Recorder struct {
	records model.ConfigRecordsModel
}

// NewRecorder builds a recorder over the given connection.
func NewRecorder(conn sqlx.SqlConn) *Recorder {
	return &Recorder{records: model.NewConfigRecordsModel(conn)}
}

// NewRecorderWithModel is used by tests to inject a fake model.
func NewRecorderWithModel(records model.ConfigRecordsModel) *Recorder {
	return &Recorder{records: records}
}

// Record upserts every config of the snapshot and returns how many rows were
// written. Individual failures are logged and skipped.
func (r *Recorder) Record(ctx context.Context, snap *registry.Snapshot) int {
	if snap == nil {
		return 0
	}
	saved := 0
	for key, cfg := range snap.Brokers {
		r.save(ctx, &saved, snap, "broker/"+key, "broker", "", cfg.Name, cfg.Root)
	}
	for key, cfg := range snap.Assets {
		r.save(ctx, &saved, snap, "asset/"+key, "asset", cfg.Market, cfg.Symbol, cfg.Root)
	}
	for key, cfg := range snap.Strategies {
		r.save(ctx, &saved, snap, "strategy/"+key, "strategy", cfg.Market, cfg.Name, cfg.Root)
	}
	for key, cfg := range snap.Risk {
		r.save(ctx, &saved, snap, "risk/"+key, "risk", "", cfg.Name, cfg.Root)
	}
	logx.Infof("archive: %d config records written", saved)
	return saved
}

func (r *Recorder) save(ctx context.Context, saved *int, snap *registry.Snapshot,
	identity, category, market, name string, root *confnode.Node) {
	payload, err := json.Marshal(root.ToInterface())
	if err != nil {
		logx.WithContext(ctx).Errorf("archive: encode %s: %v", identity, err)
		return
	}
	record := &model.ConfigRecord{
		Identity: identity,
		Category: category,
		Market:   market,
		Name:     name,
		Payload:  payload,
		BuiltAt:  snap.BuiltAt,
	}
	if err := r.records.Upsert(ctx, record); err != nil {
		logx.WithContext(ctx).Errorf("archive: upsert %s: %v", identity, err)
		return
	}
	*saved++
}

// Verify reads one archived record back, used by smoke checks after migration.
func (r *Recorder) Verify(ctx context.Context, identity string) error {
	record, err := r.records.FindOne(ctx, identity)
	if err != nil {
		return fmt.Errorf("archive: verify %s: %w", identity, err)
	}
	if len(record.Payload) == 0 {
		return fmt.Errorf("archive: verify %s: empty payload", identity)
	}
	return nil
}
