package retention

import (
	"context"
	"testing"
	"time"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStores(t *testing.T) (*store.BarStore, *store.AnomalySink) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Bar{}, &model.AnomalyRecord{}))
	return store.NewBarStore(db), store.NewAnomalySink(db)
}

func seedBar(t *testing.T, bars *store.BarStore, symbol string, openedAt time.Time) {
	t.Helper()
	openTime := openedAt.UnixMilli()
	require.NoError(t, bars.Upsert(context.Background(), model.Bar{
		Symbol:    symbol,
		Interval:  "15m",
		OpenTime:  openTime,
		CloseTime: openTime + 15*time.Minute.Milliseconds() - 1,
		Close:     100,
		IsFinal:   true,
	}))
}

func seedRecord(t *testing.T, sink *store.AnomalySink, symbol string, at time.Time) {
	t.Helper()
	require.NoError(t, sink.Upsert(context.Background(), model.AnomalyRecord{
		Symbol:       symbol,
		Timestamp:    at.Unix(),
		IntervalType: "15m",
		Score:        1.5,
		Reasons:      model.ReasonPrice,
		IsAnomaly:    true,
	}))
}

func TestSweepOnceRemovesAgedRows(t *testing.T) {
	bars, sink := newTestStores(t)
	now := time.Now()

	// bars spanning three hours at 15m steps, records at the same times
	for i := 0; i < 12; i++ {
		at := now.Add(-time.Duration(i) * 15 * time.Minute)
		seedBar(t, bars, "BTCUSDT", at)
		seedRecord(t, sink, "BTCUSDT", at)
	}

	s := NewSweeper(bars, sink, model.RetentionPolicy{
		MaxAge:        time.Hour,
		SweepInterval: time.Hour,
	}, obs.NewHealth())
	s.now = func() time.Time { return now }

	require.NoError(t, s.SweepOnce(context.Background()))

	// rows strictly older than one hour go; the row at exactly the cutoff
	// stays
	stats, err := bars.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.RowCount)

	remaining, err := sink.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining)
}

func TestSweepOnceEvictsBeyondPerSymbolCap(t *testing.T) {
	bars, sink := newTestStores(t)
	now := time.Now()

	for i := 0; i < 8; i++ {
		seedBar(t, bars, "BTCUSDT", now.Add(-time.Duration(i)*15*time.Minute))
	}

	health := obs.NewHealth()
	s := NewSweeper(bars, sink, model.RetentionPolicy{
		MaxAge:           24 * time.Hour,
		MaxRowsPerSymbol: 5,
		SweepInterval:    time.Hour,
	}, health)
	s.now = func() time.Time { return now }

	require.NoError(t, s.SweepOnce(context.Background()))

	stats, err := bars.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.RowCount)
	assert.False(t, health.Snapshot().LastRetentionSweep.IsZero())
}

func TestSweepOnceEvictsBeyondTotalBytes(t *testing.T) {
	bars, sink := newTestStores(t)
	now := time.Now()

	for i := 0; i < 10; i++ {
		seedBar(t, bars, "BTCUSDT", now.Add(-time.Duration(i)*15*time.Minute))
	}

	s := NewSweeper(bars, sink, model.RetentionPolicy{
		MaxAge:        24 * time.Hour,
		MaxTotalBytes: 6 * model.EstimatedBarBytes,
		SweepInterval: time.Hour,
	}, obs.NewHealth())
	s.now = func() time.Time { return now }

	require.NoError(t, s.SweepOnce(context.Background()))

	stats, err := bars.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.RowCount)
}
