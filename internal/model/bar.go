package model

import "time"

// Bar is one OHLCV observation for a fixed interval, identified by
// (symbol, interval, open_time). A non-final bar may be replaced in place
// by a later update for the same key; once IsFinal is set the row is
// immutable.
type Bar struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	Symbol      string `gorm:"size:32;not null;uniqueIndex:idx_bars_key,priority:1;index:idx_bars_symbol_time,priority:1" json:"symbol"`
	Interval    string `gorm:"column:interval_type;size:8;not null;uniqueIndex:idx_bars_key,priority:2" json:"interval"`
	OpenTime    int64  `gorm:"not null;uniqueIndex:idx_bars_key,priority:3;index:idx_bars_symbol_time,priority:2;index:idx_bars_open_time" json:"open_time"`
	CloseTime   int64  `gorm:"not null" json:"close_time"`
	Open        float64 `gorm:"not null" json:"open"`
	High        float64 `gorm:"not null" json:"high"`
	Low         float64 `gorm:"not null" json:"low"`
	Close       float64 `gorm:"not null" json:"close"`
	Volume      float64 `gorm:"not null" json:"volume"`
	QuoteVolume float64 `gorm:"not null" json:"quote_volume"`
	TradeCount  int64   `gorm:"not null" json:"trade_count"`
	IsFinal     bool    `gorm:"not null" json:"is_final"`
	CreatedAt   int64   `gorm:"autoCreateTime" json:"-"`
}

func (Bar) TableName() string { return "bars" }

// OpenedAt converts the millisecond open time to time.Time.
func (b Bar) OpenedAt() time.Time {
	return time.UnixMilli(b.OpenTime)
}

// Return is the simple return of this bar's close against prev's close.
func (b Bar) Return(prev Bar) float64 {
	if prev.Close == 0 {
		return 0
	}
	return (b.Close - prev.Close) / prev.Close
}

// Volatility is the intrabar range proxy (high-low)/close.
func (b Bar) Volatility() float64 {
	if b.Close == 0 {
		return 0
	}
	return (b.High - b.Low) / b.Close
}
