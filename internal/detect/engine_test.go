package detect

import (
	"context"
	"testing"
	"time"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
	"main/internal/universe"
	"main/internal/window"
	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testInterval = "15m"
	stepMilli    = int64(15 * time.Minute / time.Millisecond)
)

type staticSource []universe.Snapshot

func (s staticSource) FetchMarketSnapshot(context.Context) ([]universe.Snapshot, error) {
	return s, nil
}

func detectConfig() ops.DetectConfig {
	return ops.DetectConfig{
		WindowSize:           16,
		PriceZThreshold:      2.5,
		VolumeZThreshold:     2.0,
		VolatilityZThreshold: 2.0,
		MinAbsReturn:         0.01,
		WeightPrice:          0.4,
		WeightVolume:         0.3,
		WeightVolatility:     0.3,
		PassInterval:         time.Minute,
	}
}

type fixture struct {
	engine *Engine
	bars   *store.BarStore
	sink   *store.AnomalySink
	closes []float64
	next   int64
}

func newFixture(t *testing.T, cfg ops.DetectConfig) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Bar{}, &model.AnomalyRecord{}))

	bars := store.NewBarStore(db)
	sink := store.NewAnomalySink(db)

	selector := universe.NewSelector(staticSource{
		{Symbol: "BTCUSDT", QuoteVolume24h: 5_000_000},
	}, 10, 0)
	require.NoError(t, selector.Refresh(context.Background()))

	engine := NewEngine(cfg, testInterval, bars, sink, selector, nil, obs.NewHealth())
	return &fixture{engine: engine, bars: bars, sink: sink}
}

// appendBar stores one closed bar whose close realizes the given return
// against the previous close. Volumes are constant and bars are flat
// (high==low==close) so only the price dimension can trigger.
func (f *fixture) appendBar(t *testing.T, ret float64) {
	t.Helper()
	prev := 100.0
	if n := len(f.closes); n > 0 {
		prev = f.closes[n-1]
	}
	c := prev * (1 + ret)
	f.closes = append(f.closes, c)

	bar := model.Bar{
		Symbol:      "BTCUSDT",
		Interval:    testInterval,
		OpenTime:    f.next,
		CloseTime:   f.next + stepMilli - 1,
		Open:        prev,
		High:        c,
		Low:         c,
		Close:       c,
		Volume:      10,
		QuoteVolume: 1000,
		TradeCount:  5,
		IsFinal:     true,
	}
	f.next += stepMilli
	require.NoError(t, f.bars.Upsert(context.Background(), bar))
}

// seedHistory stores one seed bar plus len(returns) bars realizing the
// given return series.
func (f *fixture) seedHistory(t *testing.T, returns []float64) {
	t.Helper()
	f.appendBar(t, 0)
	for _, r := range returns {
		f.appendBar(t, r)
	}
}

// alternatingReturns yields n returns of +-magnitude with zero mean.
func alternatingReturns(n int, magnitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = magnitude
		} else {
			out[i] = -magnitude
		}
	}
	return out
}

func TestScoreBarInsufficientWindow(t *testing.T) {
	f := newFixture(t, detectConfig())
	f.seedHistory(t, alternatingReturns(8, 0.01)) // fewer than W+1 closed bars

	rec, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, exception.ErrInsufficientWindow)
	assert.Nil(t, rec)

	count, err := f.sink.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestScoreBarPriceZScore(t *testing.T) {
	f := newFixture(t, detectConfig())
	history := alternatingReturns(16, 0.01)
	f.seedHistory(t, history)

	mean, std := window.MeanStd(history)
	f.appendBar(t, mean+3*std)

	rec, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.InDelta(t, 3.0, rec.PriceZScore, 1e-9)
	assert.Equal(t, []string{model.ReasonPrice}, rec.ReasonList())
	assert.True(t, rec.IsAnomaly)
	assert.InDelta(t, 0.4*3.0, rec.Score, 1e-9)
	assert.InDelta(t, 5_000_000, rec.QuoteVolume24h, 1e-6)
}

func TestThresholdGatingAbsoluteReturnFloor(t *testing.T) {
	// tiny-return regime: z-score clears the threshold but the move is
	// economically negligible
	f := newFixture(t, detectConfig())
	history := alternatingReturns(16, 0.001)
	f.seedHistory(t, history)

	_, std := window.MeanStd(history)
	f.appendBar(t, 3*std) // ~0.003 return, z ~ 3.0

	rec, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, rec, "floor must suppress the price dimension")

	count, err := f.sink.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	// same z-score magnitude on a 10x regime clears the floor
	g := newFixture(t, detectConfig())
	history = alternatingReturns(16, 0.01)
	g.seedHistory(t, history)
	_, std = window.MeanStd(history)
	g.appendBar(t, 3*std) // ~0.03 return

	rec, err = g.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, rec.ReasonList(), model.ReasonPrice)
}

func TestScoreBarIdempotent(t *testing.T) {
	f := newFixture(t, detectConfig())
	history := alternatingReturns(16, 0.01)
	f.seedHistory(t, history)
	mean, std := window.MeanStd(history)
	f.appendBar(t, mean+3*std)

	for i := 0; i < 2; i++ {
		_, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
		require.NoError(t, err)
	}

	count, err := f.sink.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestQuietBarProducesNoRecord(t *testing.T) {
	f := newFixture(t, detectConfig())
	history := alternatingReturns(16, 0.01)
	f.seedHistory(t, history)
	mean, std := window.MeanStd(history)

	f.appendBar(t, mean+3*std)
	rec, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, rec)

	f.appendBar(t, 0.002) // z ~ 0.2, well under threshold
	rec, err = f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, rec)

	count, err := f.sink.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPersistAllKeepsQuietBars(t *testing.T) {
	cfg := detectConfig()
	cfg.PersistAll = true
	f := newFixture(t, cfg)
	f.seedHistory(t, alternatingReturns(16, 0.01))
	f.appendBar(t, 0.002)

	rec, err := f.engine.ScoreBar(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsAnomaly)
	assert.Zero(t, rec.Score)
	assert.Empty(t, rec.ReasonList())
}

func TestDegradedSymbolSkipped(t *testing.T) {
	f := newFixture(t, detectConfig())
	history := alternatingReturns(16, 0.01)
	f.seedHistory(t, history)
	mean, std := window.MeanStd(history)
	f.appendBar(t, mean+3*std)

	f.engine.degraded = func(string) bool { return true }
	f.engine.Pass(context.Background())

	count, err := f.sink.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
