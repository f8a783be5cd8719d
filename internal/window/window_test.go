package window

import (
	"math"
	"testing"

	"main/internal/model"
	"main/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barsFromCloses builds an ascending closed-bar series with the given
// close prices.
func barsFromCloses(closes []float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol:      "BTCUSDT",
			Interval:    "15m",
			OpenTime:    int64(i) * 900_000,
			Close:       c,
			High:        c * 1.02,
			Low:         c * 0.98,
			QuoteVolume: 1000,
			IsFinal:     true,
		}
	}
	return bars
}

func TestSummarizeNotReadyBelowW(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101, 102})

	_, err := Summarize(bars, 4)
	require.ErrorIs(t, err, exception.ErrInsufficientWindow)
}

func TestSummarizeReadyAtExactlyW(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101, 102, 103})

	s, err := Summarize(bars, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Size)
	// the oldest stored bar has no predecessor, so W-1 returns
	assert.Len(t, s.Returns, 3)
	assert.False(t, math.IsNaN(s.ReturnStd))
}

func TestSummarizeUsesPriorCloseWhenAvailable(t *testing.T) {
	bars := barsFromCloses([]float64{100, 101, 102, 103, 104})

	s, err := Summarize(bars, 4)
	require.NoError(t, err)
	// the W+1-th prior close seeds the first in-window return
	require.Len(t, s.Returns, 4)
	assert.InDelta(t, 0.01, s.Returns[0], 1e-9)
}

func TestSummarizeStatistics(t *testing.T) {
	// closes engineered for returns +10%, -10%, +10%, -10%
	bars := barsFromCloses([]float64{100, 110, 99, 108.9, 98.01})

	s, err := Summarize(bars, 4)
	require.NoError(t, err)
	require.Len(t, s.Returns, 4)
	assert.InDelta(t, 0.0, s.ReturnMean, 1e-12)

	// sample std of {0.1,-0.1,0.1,-0.1} = sqrt(4*0.01/3)
	assert.InDelta(t, math.Sqrt(0.04/3), s.ReturnStd, 1e-12)

	assert.InDelta(t, 1000.0, s.VolumeMean, 1e-9)
	assert.InDelta(t, 0.0, s.VolumeStd, 1e-9)
}

func TestMeanStdBesselCorrection(t *testing.T) {
	mean, std := MeanStd([]float64{1, 2, 3, 4})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), std, 1e-12)

	mean, std = MeanStd(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = MeanStd([]float64{7})
	assert.InDelta(t, 7.0, mean, 1e-12)
	assert.Zero(t, std)
}

func TestZScore(t *testing.T) {
	assert.InDelta(t, 3.0, ZScore(0.03, 0.0, 0.01), 1e-12)
	assert.Zero(t, ZScore(42, 10, 0), "zero stddev must not fault")
}
