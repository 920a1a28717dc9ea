package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"mactrack/internal/models"
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

// MacFilter selects MAC-table rows. Zero fields are ignored; From is
// inclusive and To exclusive.
type MacFilter struct {
	Device string
	VLAN   string
	MAC    string
	Port   string
	From   time.Time
	To     time.Time
	Limit  int
}

// NormalizeMAC lowercases a MAC fragment and drops separators so that
// "AA-BB", "aa:bb" and "aabb" match the same rows.
func NormalizeMAC(q string) string {
	r := strings.NewReplacer(":", "", "-", "", ".", "", " ", "")
	return strings.ToLower(r.Replace(q))
}

// SearchMacEntries returns matching rows, newest first.
func (s *Store) SearchMacEntries(ctx context.Context, f MacFilter) ([]models.MacEntry, error) {
	q := s.db.WithContext(ctx).Model(&models.MacEntry{})

	if f.Device != "" {
		q = q.Where("device = ?", f.Device)
	}
	if f.VLAN != "" {
		q = q.Where("vlan = ?", f.VLAN)
	}
	if f.Port != "" {
		q = q.Where("port = ?", f.Port)
	}
	if mac := NormalizeMAC(f.MAC); mac != "" {
		q = q.Where("REPLACE(REPLACE(REPLACE(LOWER(mac), ':', ''), '-', ''), '.', '') LIKE ?", "%"+mac+"%")
	}
	q = timeRange(q, f.From, f.To)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []models.MacEntry
	if err := q.Order("timestamp desc").Order("id desc").Find(&entries).Error; err != nil {
		return nil, persistErr("search mac entries", err)
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.In(s.loc)
	}
	return entries, nil
}

// EntriesOnDate returns the rows collected on a calendar day in the serving zone.
func (s *Store) EntriesOnDate(ctx context.Context, day string) ([]models.MacEntry, error) {
	start, err := time.ParseInLocation(dateLayout, day, s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, day)
	}
	return s.SearchMacEntries(ctx, MacFilter{From: start, To: start.AddDate(0, 0, 1)})
}

// CollectionDates lists the distinct serving-zone days that have rows, newest first.
func (s *Store) CollectionDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.WithContext(ctx).Model(&models.MacEntry{}).Select("timestamp").Rows()
	if err != nil {
		return nil, persistErr("collection dates", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, persistErr("collection dates", err)
		}
		seen[ts.In(s.loc).Format(dateLayout)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("collection dates", err)
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// LogFilter selects audit rows; From is inclusive and To exclusive.
type LogFilter struct {
	From  time.Time
	To    time.Time
	Limit int
}

func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]models.LogEntry, error) {
	q := timeRange(s.db.WithContext(ctx).Model(&models.LogEntry{}), f.From, f.To)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var logs []models.LogEntry
	if err := q.Order("timestamp desc").Order("id desc").Find(&logs).Error; err != nil {
		return nil, persistErr("list logs", err)
	}
	for i := range logs {
		logs[i].Timestamp = logs[i].Timestamp.In(s.loc)
	}
	return logs, nil
}

type Stats struct {
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
	Total     int64      `json:"total"`
	OlderThan int64      `json:"older_than"`
}

// CleanupStats reports table bounds and how many rows are older than days.
func (s *Store) CleanupStats(ctx context.Context, days int) (Stats, error) {
	var st Stats
	q := s.db.WithContext(ctx).Model(&models.MacEntry{})

	if err := q.Count(&st.Total).Error; err != nil {
		return st, persistErr("count mac entries", err)
	}
	if st.Total == 0 {
		return st, nil
	}

	cutoff := s.Cutoff(days)
	if err := s.db.WithContext(ctx).Model(&models.MacEntry{}).
		Where("timestamp < ?", cutoff.UTC()).
		Count(&st.OlderThan).Error; err != nil {
		return st, persistErr("count old mac entries", err)
	}

	var oldest, newest models.MacEntry
	if err := s.db.WithContext(ctx).Order("timestamp asc").First(&oldest).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return st, persistErr("oldest mac entry", err)
	}
	if err := s.db.WithContext(ctx).Order("timestamp desc").First(&newest).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return st, persistErr("newest mac entry", err)
	}
	o, n := oldest.Timestamp.In(s.loc), newest.Timestamp.In(s.loc)
	st.Oldest, st.Newest = &o, &n
	return st, nil
}

// Cutoff returns the instant days*24h before now.
func (s *Store) Cutoff(days int) time.Time {
	return s.Now().Add(-time.Duration(days) * 24 * time.Hour)
}

func timeRange(q *gorm.DB, from, to time.Time) *gorm.DB {
	if !from.IsZero() {
		q = q.Where("timestamp >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("timestamp < ?", to.UTC())
	}
	return q
}
