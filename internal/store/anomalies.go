package store

import (
	"context"

	"main/internal/model"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnomalySink owns the anomalies table. Records are written once per
// (symbol, timestamp, interval_type) key; re-detection is a no-op.
type AnomalySink struct {
	db *gorm.DB
}

func NewAnomalySink(db *gorm.DB) *AnomalySink {
	return &AnomalySink{db: db}
}

// Upsert persists a scoring result. A conflicting key leaves the stored
// row untouched, so re-running detection after a crash is safe.
func (s *AnomalySink) Upsert(ctx context.Context, rec model.AnomalyRecord) error {
	rec.ID = 0
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	return errors.Wrap(err, "upsert anomaly record")
}

// QueryFilter narrows the anomaly listing. Zero values are ignored.
type QueryFilter struct {
	Symbol      string
	MinScore    float64
	AnomalyOnly bool
	Limit       int
}

const defaultQueryLimit = 100

// Query lists records ordered by timestamp descending.
func (s *AnomalySink) Query(ctx context.Context, filter QueryFilter) ([]model.AnomalyRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	q := s.db.WithContext(ctx).Model(&model.AnomalyRecord{})
	if filter.Symbol != "" {
		q = q.Where("symbol = ?", filter.Symbol)
	}
	if filter.MinScore > 0 {
		q = q.Where("anomaly_score >= ?", filter.MinScore)
	}
	if filter.AnomalyOnly {
		q = q.Where("is_anomaly = ?", true)
	}

	var records []model.AnomalyRecord
	err := q.Order("timestamp DESC").Limit(limit).Find(&records).Error
	return records, errors.Wrap(err, "query anomalies")
}

// DeleteOlderThan removes records whose bar timestamp (seconds) is before
// cutoff. Returns the number of rows removed.
func (s *AnomalySink) DeleteOlderThan(ctx context.Context, cutoffSec int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoffSec).
		Delete(&model.AnomalyRecord{})
	return res.RowsAffected, errors.Wrap(res.Error, "delete aged anomalies")
}

// Count reports the total stored records for health reporting.
func (s *AnomalySink) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.AnomalyRecord{}).Count(&count).Error
	return count, errors.Wrap(err, "count anomalies")
}
