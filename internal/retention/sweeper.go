// Package retention enforces the age and size bounds of the stored data
// with a periodic background sweep.
package retention

import (
	"context"
	"time"

	"main/internal/model"
	"main/internal/obs"
	"main/internal/store"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// sweepTimeout bounds one sweep cycle; a stalled store surfaces through
// health rather than wedging the ticker.
const sweepTimeout = 2 * time.Minute

// Sweeper deletes aged rows and evicts oldest-first beyond the caps.
// Config validation guarantees max_age exceeds W x interval, so a sweep
// never starves an active window.
type Sweeper struct {
	bars   *store.BarStore
	sink   *store.AnomalySink
	policy model.RetentionPolicy
	health *obs.Health
	now    func() time.Time
}

func NewSweeper(bars *store.BarStore, sink *store.AnomalySink, policy model.RetentionPolicy, health *obs.Health) *Sweeper {
	return &Sweeper{
		bars:   bars,
		sink:   sink,
		policy: policy,
		health: health,
		now:    time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. A failed
// sweep is logged and retried next cycle, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.health.IncRetentionFailure()
				logs.Errorf("retention sweep: %+v", err)
			}
		}
	}
}

// SweepOnce applies the age bound to bars and anomaly records, then
// evicts oldest-first until the row caps hold.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.policy.MaxAge)

	agedBars, err := s.bars.DeleteOlderThan(ctx, cutoff.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sweep aged bars")
	}

	agedRecords, err := s.sink.DeleteOlderThan(ctx, cutoff.Unix())
	if err != nil {
		return errors.Wrap(err, "sweep aged anomalies")
	}

	evicted, err := s.bars.DeleteOldestUntilWithinCaps(ctx, s.policy.MaxRowsPerSymbol, s.policy.MaxTotalRows())
	if err != nil {
		return errors.Wrap(err, "evict beyond caps")
	}

	s.health.MarkRetentionSweep(s.now())
	if agedBars+agedRecords+evicted > 0 {
		logs.Infof("retention sweep: %d aged bars, %d aged anomalies, %d evicted", agedBars, agedRecords, evicted)
	}
	return nil
}
