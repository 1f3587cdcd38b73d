package maintenance

import (
	"context"
	"fmt"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
)

// SnapshotCleanupResult represents the result of dropping one snapshot
type SnapshotCleanupResult struct {
	SnapshotID    int    `json:"snapshot_id"`
	RunID         string `json:"run_id"`
	TablesDropped int    `json:"tables_dropped"`
	CleanupStatus string `json:"cleanup_status"`
}

// Maintenance handles snapshot cleanup and statistics refresh
type Maintenance struct {
	db       *db.DB
	registry *db.SnapshotRegistry
	logger   logger.Logger
}

func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:       database,
		registry: db.NewSnapshotRegistry(database),
		logger:   logger,
	}
}

// CleanupOldSnapshots drops superseded rail snapshots, keeping the active one
// and the keepInactive most recent inactive ones. A snapshot that fails to
// drop is reported and the rest are still attempted.
func (m *Maintenance) CleanupOldSnapshots(ctx context.Context, keepInactive int) ([]SnapshotCleanupResult, error) {
	m.logger.Info("Starting cleanup of old rail snapshots", "keep_inactive_snapshots", keepInactive)

	snapshots, err := m.registry.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	var results []SnapshotCleanupResult
	kept := 0
	for _, snap := range snapshots {
		if snap.IsActive {
			continue
		}
		if kept < keepInactive {
			kept++
			continue
		}

		result := SnapshotCleanupResult{
			SnapshotID:    snap.SnapshotID,
			RunID:         snap.RunID,
			TablesDropped: len(db.RailTables),
			CleanupStatus: "SUCCESS",
		}
		if err := m.dropSnapshot(ctx, snap.SnapshotID); err != nil {
			result.TablesDropped = 0
			result.CleanupStatus = err.Error()
			m.logger.Error("Failed to drop rail snapshot",
				"snapshot_id", snap.SnapshotID,
				"error", err)
		} else {
			m.logger.Info("Dropped rail snapshot",
				"snapshot_id", snap.SnapshotID,
				"run_id", snap.RunID)
		}
		results = append(results, result)
	}

	m.logger.Info("Rail snapshot cleanup completed",
		"snapshots_total", len(snapshots),
		"snapshots_dropped", len(results))

	return results, nil
}

func (m *Maintenance) dropSnapshot(ctx context.Context, id int) error {
	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := m.registry.DeleteSnapshot(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Analyze refreshes planner statistics for the base tables and the active
// snapshot. Must be called outside a transaction.
func (m *Maintenance) Analyze(ctx context.Context) error {
	if m.db.Dialect() == db.SQLite {
		if _, err := m.db.ExecContext(ctx, `ANALYZE`); err != nil {
			return fmt.Errorf("analyzing database: %w", err)
		}
		m.logger.Info("ANALYZE completed")
		return nil
	}

	tables := []string{"stops", "routes", "trips", "stop_times", "calendar", "calendar_dates"}
	if snap, err := m.registry.GetActiveSnapshot(ctx); err == nil {
		for _, base := range db.RailTables {
			tables = append(tables, db.RailTable(snap.SnapshotID, base))
		}
	}

	failed := 0
	for _, table := range tables {
		if _, err := m.db.ExecContext(ctx, `ANALYZE `+table); err != nil {
			failed++
			m.logger.Error("Failed to analyze table", "table", table, "error", err)
		}
	}

	m.logger.Info("ANALYZE completed",
		"successful_tables", len(tables)-failed,
		"total_tables", len(tables))

	if failed > 0 {
		return fmt.Errorf("analyze failed for %d out of %d tables", failed, len(tables))
	}
	return nil
}

// PerformPostImportMaintenance runs maintenance tasks after a successful
// ingest and materialization
func (m *Maintenance) PerformPostImportMaintenance(ctx context.Context, keepInactive int) error {
	m.logger.Info("Performing post-import maintenance tasks")

	if _, err := m.CleanupOldSnapshots(ctx, keepInactive); err != nil {
		return fmt.Errorf("cleaning up old rail snapshots: %w", err)
	}

	if err := m.Analyze(ctx); err != nil {
		// Statistics are an optimization; a failed ANALYZE leaves data intact
		m.logger.Warn("Failed to analyze tables after import", "error", err)
	}

	m.logger.Info("Post-import maintenance completed successfully")
	return nil
}
