package store

import (
	"context"
	stderrors "errors"

	"main/internal/model"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BarStore owns the bars table. Upserts are transactional so readers
// never observe a partially written row; finalized rows are immutable.
type BarStore struct {
	db *gorm.DB
}

func NewBarStore(db *gorm.DB) *BarStore {
	return &BarStore{db: db}
}

// Upsert inserts or replaces the bar for its (symbol, interval, open_time)
// key. Replacing an already-final row is rejected with ErrBarFinalized,
// which guards against feed replay.
func (s *BarStore) Upsert(ctx context.Context, bar model.Bar) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Bar
		err := tx.
			Where("symbol = ? AND interval_type = ? AND open_time = ?", bar.Symbol, bar.Interval, bar.OpenTime).
			Take(&existing).Error
		switch {
		case err == nil:
			if existing.IsFinal {
				return exception.ErrBarFinalized
			}
			bar.ID = existing.ID
			bar.CreatedAt = existing.CreatedAt
			return errors.Wrap(tx.Save(&bar).Error, "replace bar")
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			bar.ID = 0
			return errors.Wrap(tx.Create(&bar).Error, "insert bar")
		default:
			return errors.Wrap(err, "lookup bar")
		}
	})
}

// InsertMissing writes backfilled bars, skipping any key already present.
// The live feed is authoritative for keys it has observed, so backfill
// never overwrites an existing row.
func (s *BarStore) InsertMissing(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i := range bars {
		bars[i].ID = 0
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&bars).Error
	return errors.Wrap(err, "insert missing bars")
}

// QueryWindow returns up to limit most recent closed bars for the key,
// ordered by open time ascending (most recent last).
func (s *BarStore) QueryWindow(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error) {
	var bars []model.Bar
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval_type = ? AND is_final = ?", symbol, interval, true).
		Order("open_time DESC").
		Limit(limit).
		Find(&bars).Error
	if err != nil {
		return nil, errors.Wrap(err, "query window")
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// CountClosed returns the number of closed bars stored for the key.
func (s *BarStore) CountClosed(ctx context.Context, symbol, interval string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Bar{}).
		Where("symbol = ? AND interval_type = ? AND is_final = ?", symbol, interval, true).
		Count(&count).Error
	return count, errors.Wrap(err, "count closed bars")
}

// DeleteOlderThan removes bars whose open time is before cutoff (ms).
// Returns the number of rows removed.
func (s *BarStore) DeleteOlderThan(ctx context.Context, cutoffMilli int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("open_time < ?", cutoffMilli).
		Delete(&model.Bar{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete aged bars")
}

// DeleteOldestUntilWithinCaps evicts oldest-first until the per-key row
// cap and the total row cap both hold. Zero caps are ignored. Each delete
// runs in its own short transaction so unrelated upserts are not blocked
// for the whole sweep.
func (s *BarStore) DeleteOldestUntilWithinCaps(ctx context.Context, maxRowsPerSymbol, maxTotalRows int) (int64, error) {
	var removed int64

	if maxRowsPerSymbol > 0 {
		res := s.db.WithContext(ctx).Exec(`
			DELETE FROM bars WHERE id IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (
						PARTITION BY symbol, interval_type
						ORDER BY open_time DESC
					) AS rn
					FROM bars
				) ranked
				WHERE rn > ?
			)`, maxRowsPerSymbol)
		if res.Error != nil {
			return removed, errors.Wrap(res.Error, "evict per-symbol excess")
		}
		removed += res.RowsAffected
	}

	if maxTotalRows > 0 {
		var total int64
		if err := s.db.WithContext(ctx).Model(&model.Bar{}).Count(&total).Error; err != nil {
			return removed, errors.Wrap(err, "count bars")
		}
		if excess := total - int64(maxTotalRows); excess > 0 {
			res := s.db.WithContext(ctx).Exec(`
				DELETE FROM bars WHERE id IN (
					SELECT id FROM bars ORDER BY open_time ASC LIMIT ?
				)`, excess)
			if res.Error != nil {
				return removed, errors.Wrap(res.Error, "evict total excess")
			}
			removed += res.RowsAffected
		}
	}

	return removed, nil
}

// Stats is a point-in-time view of the bars table for health reporting.
type Stats struct {
	RowCount       int64
	OldestOpenTime int64
}

func (s *BarStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.WithContext(ctx).Model(&model.Bar{}).Count(&st.RowCount).Error; err != nil {
		return st, errors.Wrap(err, "count bars")
	}
	if st.RowCount == 0 {
		return st, nil
	}
	err := s.db.WithContext(ctx).Model(&model.Bar{}).
		Select("MIN(open_time)").
		Scan(&st.OldestOpenTime).Error
	return st, errors.Wrap(err, "oldest bar")
}
