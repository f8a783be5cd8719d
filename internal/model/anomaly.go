package model

import "strings"

// Anomaly dimension tags recorded in AnomalyRecord.Reasons.
const (
	ReasonPrice      = "price"
	ReasonVolume     = "volume"
	ReasonVolatility = "volatility"
)

// AnomalyRecord is one scoring result for a finalized bar, identified by
// (symbol, timestamp, interval_type). Rows are written once and never
// mutated; re-detection for the same key is a no-op.
type AnomalyRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	Symbol       string `gorm:"size:32;not null;uniqueIndex:idx_anomalies_key,priority:1" json:"symbol"`
	Timestamp    int64  `gorm:"not null;uniqueIndex:idx_anomalies_key,priority:2;index:idx_anomalies_timestamp,sort:desc" json:"timestamp"`
	IntervalType string `gorm:"size:8;not null;uniqueIndex:idx_anomalies_key,priority:3" json:"interval_type"`

	CurReturn     float64 `gorm:"not null" json:"cur_return"`
	ClosePrice    float64 `gorm:"not null" json:"close_price"`
	CurVolume     float64 `gorm:"not null" json:"cur_volume"`
	CurVolatility float64 `gorm:"not null" json:"cur_volatility"`

	PriceZScore      float64 `gorm:"not null" json:"price_zscore"`
	VolumeZScore     float64 `gorm:"not null" json:"volume_zscore"`
	VolatilityZScore float64 `gorm:"not null" json:"volatility_zscore"`

	Score   float64 `gorm:"column:anomaly_score;not null;index:idx_anomalies_score,sort:desc" json:"anomaly_score"`
	Reasons string  `gorm:"not null" json:"reasons"`

	QuoteVolume24h float64 `gorm:"not null" json:"quote_volume_24h"`
	IsAnomaly      bool    `gorm:"not null" json:"is_anomaly"`
	CreatedAt      int64   `gorm:"autoCreateTime" json:"-"`
}

func (AnomalyRecord) TableName() string { return "anomalies" }

// ReasonList splits the stored reason tags.
func (r AnomalyRecord) ReasonList() []string {
	if r.Reasons == "" {
		return nil
	}
	return strings.Split(r.Reasons, "+")
}

// JoinReasons packs reason tags into the stored representation.
func JoinReasons(reasons []string) string {
	return strings.Join(reasons, "+")
}
