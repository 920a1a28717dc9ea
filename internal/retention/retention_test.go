package retention

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"mactrack/internal/db"
	"mactrack/internal/metrics"
	"mactrack/internal/models"
	"mactrack/internal/testutil"
)

var now = time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)

func seedAges(t *testing.T, s *db.Store, days ...int) {
	t.Helper()
	require.NoError(t, s.Tx(context.Background(), func(tx *db.Tx) error {
		for _, d := range days {
			e := models.MacEntry{
				Device:    "10.0.0.1",
				VLAN:      "VLAN 1",
				MAC:       "00:11:22:33:44:55",
				Port:      "1",
				Timestamp: now.Add(-time.Duration(d) * 24 * time.Hour),
			}
			if err := tx.AddMacEntry(&e); err != nil {
				return err
			}
		}
		return nil
	}))
}

func remaining(t *testing.T, s *db.Store) []time.Time {
	t.Helper()
	got, err := s.SearchMacEntries(context.Background(), db.MacFilter{})
	require.NoError(t, err)
	out := make([]time.Time, len(got))
	for i, e := range got {
		out[i] = e.Timestamp
	}
	return out
}

func logs(t *testing.T, s *db.Store) []string {
	t.Helper()
	entries, err := s.ListLogs(context.Background(), db.LogFilter{})
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func newStore(t *testing.T) *db.Store {
	return testutil.NewStore(t, db.WithLocation(time.UTC), db.WithClock(func() time.Time { return now }))
}

func TestPurgeOlderThan(t *testing.T) {
	s := newStore(t)
	seedAges(t, s, 10, 29, 30, 31, 45)
	m := metrics.New(prometheus.NewRegistry())
	mgr := New(s, zaptest.NewLogger(t), m)

	n, err := mgr.PurgeOlderThan(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left := remaining(t, s)
	require.Len(t, left, 3)
	for _, ts := range left {
		assert.False(t, ts.Before(now.Add(-30*24*time.Hour)), "kept %s", ts)
	}

	assert.Equal(t, []string{"Purged 2 MAC entries older than 30 days"}, logs(t, s))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Purged.WithLabelValues("age")))
}

func TestPurgeOlderThan_ZeroDaysKeepsCurrentInstant(t *testing.T) {
	s := newStore(t)
	seedAges(t, s, 0, 1)
	mgr := New(s, zaptest.NewLogger(t), nil)

	n, err := mgr.PurgeOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, remaining(t, s), 1)
}

func TestPurgeOlderThan_NegativeDays(t *testing.T) {
	s := newStore(t)
	mgr := New(s, zaptest.NewLogger(t), nil)

	_, err := mgr.PurgeOlderThan(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidRetention)
	assert.Empty(t, logs(t, s))
}

func TestPurgeAll_Twice(t *testing.T) {
	s := newStore(t)
	seedAges(t, s, 1, 2, 3)
	mgr := New(s, zaptest.NewLogger(t), nil)
	ctx := context.Background()

	n, err := mgr.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = mgr.PurgeAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Empty(t, remaining(t, s))
	msgs := logs(t, s)
	require.Len(t, msgs, 2)
	assert.ElementsMatch(t, []string{"Purged all 3 MAC entries", "Purged all 0 MAC entries"}, msgs)
}

func TestPurge_FailureRollsBackAndAudits(t *testing.T) {
	s := newStore(t)
	seedAges(t, s, 40, 50)
	mgr := New(s, zaptest.NewLogger(t), nil)

	diskFull := errors.New("disk full")
	err := s.Gorm().Callback().Delete().Before("gorm:delete").Register("test:fail_delete", func(tx *gorm.DB) {
		_ = tx.AddError(diskFull)
	})
	require.NoError(t, err)

	_, err = mgr.PurgeOlderThan(context.Background(), 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrPersistence)

	assert.Len(t, remaining(t, s), 2, "deletion rolled back")
	msgs := logs(t, s)
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "Cleanup failed:"), msgs[0])
	assert.Contains(t, msgs[0], "disk full")
}

func TestPurge_AuditFailureRollsBackDelete(t *testing.T) {
	s := newStore(t)
	seedAges(t, s, 1, 40, 50)
	mgr := New(s, zaptest.NewLogger(t), nil)

	failed := false
	err := s.Gorm().Callback().Create().Before("gorm:create").Register("test:fail_log_once", func(tx *gorm.DB) {
		if tx.Statement.Table == "logs" && !failed {
			failed = true
			_ = tx.AddError(errors.New("audit table locked"))
		}
	})
	require.NoError(t, err)

	_, err = mgr.PurgeOlderThan(context.Background(), 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrPersistence)
	assert.True(t, failed)

	assert.Len(t, remaining(t, s), 3, "delete rolled back with its audit entry")
	msgs := logs(t, s)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "audit table locked")
}

func TestPurge_StoreUnavailable(t *testing.T) {
	s := newStore(t)
	mgr := New(s, zaptest.NewLogger(t), nil)
	require.NoError(t, s.Close())

	_, err := mgr.PurgeAll(context.Background())
	assert.ErrorIs(t, err, db.ErrPersistence)
}
