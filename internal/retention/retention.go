// Package retention prunes MAC-table history and records each cleanup in the
// audit log.
package retention

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mactrack/internal/db"
	"mactrack/internal/metrics"
)

var ErrInvalidRetention = errors.New("retention days must not be negative")

type Manager struct {
	store   *db.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(store *db.Store, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger.Named("retention"), metrics: m}
}

// PurgeOlderThan deletes entries stamped strictly before now minus days and
// returns how many were removed.
func (m *Manager) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRetention, days)
	}

	cutoff := m.store.Cutoff(days)
	n, err := m.purge(ctx, "age", func(tx *db.Tx) (int64, string, error) {
		n, err := tx.DeleteMacEntriesBefore(cutoff)
		return n, fmt.Sprintf("Purged %d MAC entries older than %d days", n, days), err
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("purged old entries", zap.Int64("deleted", n), zap.Int("days", days), zap.Time("cutoff", cutoff))
	return n, nil
}

// PurgeAll deletes every MAC entry.
func (m *Manager) PurgeAll(ctx context.Context) (int64, error) {
	n, err := m.purge(ctx, "all", func(tx *db.Tx) (int64, string, error) {
		n, err := tx.DeleteAllMacEntries()
		return n, fmt.Sprintf("Purged all %d MAC entries", n), err
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info("purged all entries", zap.Int64("deleted", n))
	return n, nil
}

// purge runs del and its audit entry in one transaction. When either fails the
// deletion is rolled back and the failure is audited separately.
func (m *Manager) purge(ctx context.Context, mode string, del func(tx *db.Tx) (int64, string, error)) (int64, error) {
	var deleted int64
	err := m.store.Tx(ctx, func(tx *db.Tx) error {
		n, msg, err := del(tx)
		if err != nil {
			return err
		}
		if err := tx.AddLog(msg); err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		m.logger.Error("purge failed", zap.String("mode", mode), zap.Error(err))
		if logErr := m.store.AddLog(context.WithoutCancel(ctx), fmt.Sprintf("Cleanup failed: %v", err)); logErr != nil {
			m.logger.Error("recording purge failure", zap.Error(logErr))
		}
		return 0, fmt.Errorf("purge %s: %w", mode, err)
	}

	m.metrics.EntriesPurged(mode, deleted)
	return deleted, nil
}
