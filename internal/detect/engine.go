// Package detect scores newly finalized bars along three independent
// dimensions (return, volume, volatility) and persists the composite
// result for anomalous bars.
package detect

import (
	"context"
	stderrors "errors"
	"math"
	"time"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
	"main/internal/universe"
	"main/internal/window"
	"main/pkg/exception"

	"github.com/yanun0323/logs"
)

// scoreTimeout bounds a single symbol's scoring pass so a stalled store
// read degrades that symbol instead of the whole loop.
const scoreTimeout = 10 * time.Second

// Key identifies a finalized bar to score.
type Key struct {
	Symbol   string
	Interval string
}

// Engine computes per-dimension z-scores against the rolling window and
// writes composite-scored records to the sink.
type Engine struct {
	cfg      ops.DetectConfig
	interval string
	bars     *store.BarStore
	sink     *store.AnomalySink
	universe *universe.Selector
	degraded func(symbol string) bool
	health   *obs.Health
}

func NewEngine(
	cfg ops.DetectConfig,
	interval string,
	bars *store.BarStore,
	sink *store.AnomalySink,
	sel *universe.Selector,
	degraded func(symbol string) bool,
	health *obs.Health,
) *Engine {
	if degraded == nil {
		degraded = func(string) bool { return false }
	}
	return &Engine{
		cfg:      cfg,
		interval: interval,
		bars:     bars,
		sink:     sink,
		universe: sel,
		degraded: degraded,
		health:   health,
	}
}

// Run consumes finalize notifications and additionally sweeps the whole
// universe on a fixed period. Both paths are idempotent, so overlap after
// a crash or a missed notification is harmless.
func (e *Engine) Run(ctx context.Context, finalized <-chan Key) {
	ticker := time.NewTicker(e.cfg.PassInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-finalized:
			if !ok {
				return
			}
			e.scoreOne(ctx, key.Symbol)
		case <-ticker.C:
			e.Pass(ctx)
		}
	}
}

// Pass scores the latest finalized bar of every active, non-degraded
// symbol.
func (e *Engine) Pass(ctx context.Context) {
	scored, anomalies := 0, 0
	for _, symbol := range e.universe.Symbols() {
		if ctx.Err() != nil {
			return
		}
		rec := e.scoreOne(ctx, symbol)
		if rec == nil {
			continue
		}
		scored++
		if rec.IsAnomaly {
			anomalies++
		}
	}
	e.health.MarkScoringPass(time.Now())
	logs.Infof("scoring pass done: %d scored, %d anomalies", scored, anomalies)
}

func (e *Engine) scoreOne(ctx context.Context, symbol string) *model.AnomalyRecord {
	if e.degraded(symbol) {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, scoreTimeout)
	defer cancel()

	rec, err := e.ScoreBar(callCtx, symbol)
	if err != nil && !stderrors.Is(err, exception.ErrInsufficientWindow) {
		logs.Errorf("score %s: %+v", symbol, err)
	}
	return rec
}

// ScoreBar scores the most recent finalized bar of the symbol. It returns
// (nil, ErrInsufficientWindow) while the window is not ready, and
// (nil, nil) when the bar is unremarkable and full persistence is off.
func (e *Engine) ScoreBar(ctx context.Context, symbol string) (*model.AnomalyRecord, error) {
	w := e.cfg.WindowSize

	// W history bars plus the current one, plus one older close to seed
	// the first in-window return when available.
	bars, err := e.bars.QueryWindow(ctx, symbol, e.interval, w+2)
	if err != nil {
		return nil, err
	}
	if len(bars) < w+1 {
		return nil, exception.ErrInsufficientWindow
	}

	current := bars[len(bars)-1]
	history := bars[:len(bars)-1]
	summary, err := window.Summarize(history, w)
	if err != nil {
		return nil, err
	}

	prev := history[len(history)-1]
	curReturn := current.Return(prev)
	curVolume := current.QuoteVolume
	curVolatility := current.Volatility()

	priceZ := window.ZScore(curReturn, summary.ReturnMean, summary.ReturnStd)
	volumeZ := window.ZScore(curVolume, summary.VolumeMean, summary.VolumeStd)
	volatilityZ := window.ZScore(curVolatility, summary.VolatilityMean, summary.VolatilityStd)

	var (
		reasons []string
		score   float64
	)
	// The absolute-return floor suppresses statistically significant but
	// economically negligible moves on low-volatility symbols.
	if math.Abs(priceZ) >= e.cfg.PriceZThreshold && math.Abs(curReturn) >= e.cfg.MinAbsReturn {
		reasons = append(reasons, model.ReasonPrice)
		score += e.cfg.WeightPrice * math.Abs(priceZ)
	}
	if math.Abs(volumeZ) >= e.cfg.VolumeZThreshold {
		reasons = append(reasons, model.ReasonVolume)
		score += e.cfg.WeightVolume * math.Abs(volumeZ)
	}
	if math.Abs(volatilityZ) >= e.cfg.VolatilityZThreshold {
		reasons = append(reasons, model.ReasonVolatility)
		score += e.cfg.WeightVolatility * math.Abs(volatilityZ)
	}

	if score == 0 && !e.cfg.PersistAll {
		return nil, nil
	}

	rec := model.AnomalyRecord{
		Symbol:           symbol,
		Timestamp:        current.OpenTime / 1000,
		IntervalType:     e.interval,
		CurReturn:        curReturn,
		ClosePrice:       current.Close,
		CurVolume:        curVolume,
		CurVolatility:    curVolatility,
		PriceZScore:      priceZ,
		VolumeZScore:     volumeZ,
		VolatilityZScore: volatilityZ,
		Score:            score,
		Reasons:          model.JoinReasons(reasons),
		QuoteVolume24h:   e.universe.QuoteVolume24h(symbol),
		IsAnomaly:        len(reasons) > 0,
	}
	if err := e.sink.Upsert(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
