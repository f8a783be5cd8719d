// Package window derives rolling statistical summaries from stored bars.
// A summary is a pure function of the bar sequence and is recomputed on
// every call; W is small enough that O(W) per closed bar is cheap.
package window

import (
	"math"

	"main/internal/model"
	"main/pkg/exception"
)

// Summary holds sample statistics over the last W closed bars of a key.
// Standard deviations are Bessel-corrected (N-1 denominator).
type Summary struct {
	Size    int
	Returns []float64

	ReturnMean float64
	ReturnStd  float64

	VolumeMean float64
	VolumeStd  float64

	VolatilityMean float64
	VolatilityStd  float64
}

// Summarize computes the summary over the most recent w bars of an
// ascending closed-bar sequence. Fewer than w bars yields
// ErrInsufficientWindow ("not ready", not a failure). When a bar older
// than the window is present it seeds the first in-window return, so the
// return series has w entries; otherwise w-1.
func Summarize(bars []model.Bar, w int) (*Summary, error) {
	if w < 2 || len(bars) < w {
		return nil, exception.ErrInsufficientWindow
	}

	win := bars[len(bars)-w:]

	returns := make([]float64, 0, w)
	for i := range win {
		idx := len(bars) - w + i
		if idx == 0 {
			continue // no predecessor for the oldest stored bar
		}
		returns = append(returns, win[i].Return(bars[idx-1]))
	}

	volumes := make([]float64, w)
	volatility := make([]float64, w)
	for i, b := range win {
		volumes[i] = b.QuoteVolume
		volatility[i] = b.Volatility()
	}

	s := &Summary{Size: w, Returns: returns}
	s.ReturnMean, s.ReturnStd = MeanStd(returns)
	s.VolumeMean, s.VolumeStd = MeanStd(volumes)
	s.VolatilityMean, s.VolatilityStd = MeanStd(volatility)
	return s, nil
}

// MeanStd returns the sample mean and Bessel-corrected standard deviation.
func MeanStd(values []float64) (mean, std float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(n-1))
}

// ZScore standardizes value against the sample statistics. A zero or
// degenerate stddev yields zero rather than a division fault.
func ZScore(value, mean, std float64) float64 {
	if std <= 0 || math.IsNaN(std) {
		return 0
	}
	return (value - mean) / std
}
