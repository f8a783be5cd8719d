// Package ingest merges the live kline feed and one-time historical
// backfill into a single write path against the bar store.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"main/internal/detect"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/store"
	"main/internal/universe"
	"main/pkg/exception"

	"github.com/cenkalti/backoff/v4"
	"github.com/yanun0323/logs"
)

// LiveFeed is the push market-data connection. One feed multiplexes all
// subscribed symbols.
type LiveFeed interface {
	Start(ctx context.Context) error
	SubscribeKline(ctx context.Context, symbol, interval string) error
	UnsubscribeKline(ctx context.Context, symbol, interval string) error
	ObserveBars(ctx context.Context, handler func(model.Bar)) (stop func(), done <-chan struct{})
	Close()
}

// RecentBarFetcher is the batch historical query used for backfill.
type RecentBarFetcher interface {
	FetchRecentBars(ctx context.Context, symbol, interval string, limit int) ([]model.Bar, error)
}

type subscription struct {
	queue  *Queue
	cancel context.CancelFunc
}

// Pipeline owns the per-symbol subscriptions. Updates for one key flow
// through one bounded queue drained by one consumer, so per-key ordering
// holds while symbols progress independently.
type Pipeline struct {
	cfg             ops.IngestConfig
	refreshInterval time.Duration
	windowSize      int
	store           *store.BarStore
	universe        *universe.Selector
	rest            RecentBarFetcher
	newFeed         func(ctx context.Context) LiveFeed
	reconnect       Backoff
	health          *obs.Health
	finalized       chan detect.Key

	mu       sync.Mutex
	feed     LiveFeed
	subs     map[string]*subscription
	degraded map[string]struct{}
}

func NewPipeline(
	cfg ops.IngestConfig,
	refreshInterval time.Duration,
	windowSize int,
	barStore *store.BarStore,
	sel *universe.Selector,
	rest RecentBarFetcher,
	newFeed func(ctx context.Context) LiveFeed,
	health *obs.Health,
) *Pipeline {
	return &Pipeline{
		cfg:             cfg,
		refreshInterval: refreshInterval,
		windowSize:      windowSize,
		store:           barStore,
		universe:        sel,
		rest:            rest,
		newFeed:         newFeed,
		reconnect:       DefaultBackoff(),
		health:          health,
		finalized:       make(chan detect.Key, 1024),
		subs:            make(map[string]*subscription),
		degraded:        make(map[string]struct{}),
	}
}

// Finalized notifies the scoring engine about newly closed bars. Sends
// are non-blocking; the periodic scoring pass covers anything dropped.
func (p *Pipeline) Finalized() <-chan detect.Key {
	return p.finalized
}

// Degraded reports whether backfill for the symbol has exhausted its
// retries; detection is skipped for such symbols until the next
// successful backfill.
func (p *Pipeline) Degraded(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.degraded[symbol]
	return ok
}

// Run drives the feed connection and reconciles subscriptions against the
// universe on a fixed period until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	go p.runFeed(ctx)

	p.Reconcile(ctx)

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return
		case <-ticker.C:
			if err := p.universe.Refresh(ctx); err != nil {
				logs.Warnf("universe refresh: %+v", err)
			}
			p.Reconcile(ctx)
		}
	}
}

// runFeed keeps one live connection up, resubscribing every active symbol
// after a disconnect with capped, jittered backoff.
func (p *Pipeline) runFeed(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		feed := p.newFeed(ctx)
		if err := feed.Start(ctx); err != nil {
			feed.Close()
			attempt++
			wait := p.reconnect.Next(attempt)
			logs.Warnf("feed connect failed (attempt %d, retry in %s): %+v", attempt, wait, err)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		p.mu.Lock()
		p.feed = feed
		symbols := make([]string, 0, len(p.subs))
		for symbol := range p.subs {
			symbols = append(symbols, symbol)
		}
		p.mu.Unlock()

		resubscribed := true
		for _, symbol := range symbols {
			if err := feed.SubscribeKline(ctx, symbol, p.cfg.Interval); err != nil {
				logs.Errorf("resubscribe %s: %+v", symbol, err)
				resubscribed = false
				break
			}
		}
		if !resubscribed {
			feed.Close()
			attempt++
			if !sleep(ctx, p.reconnect.Next(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		stop, done := feed.ObserveBars(ctx, p.dispatch)
		select {
		case <-ctx.Done():
			stop()
			feed.Close()
			return
		case <-done:
			logs.Warnf("resubscribing: %+v", exception.ErrFeedDisconnected)
			feed.Close()
			attempt++
			if !sleep(ctx, p.reconnect.Next(attempt)) {
				return
			}
		}
	}
}

// dispatch routes one live update into its subscription queue.
func (p *Pipeline) dispatch(bar model.Bar) {
	if bar.Interval != p.cfg.Interval {
		return
	}

	p.mu.Lock()
	sub := p.subs[bar.Symbol]
	p.mu.Unlock()
	if sub == nil {
		return // removed from universe, stream not yet torn down
	}

	if err := sub.queue.TryPublish(bar); err != nil {
		p.health.IncQueueDrop()
		logs.Warnf("drop %s update: %+v", bar.Symbol, err)
	}
}

// apply upserts one update. A replay of an already-final key is ignored;
// other write failures are logged and dropped, the next update for the
// key self-heals the row.
func (p *Pipeline) apply(ctx context.Context, bar model.Bar) {
	err := p.store.Upsert(ctx, bar)
	switch {
	case err == nil:
		if bar.IsFinal {
			select {
			case p.finalized <- detect.Key{Symbol: bar.Symbol, Interval: bar.Interval}:
			default:
			}
		}
	case stderrors.Is(err, exception.ErrBarFinalized):
		// replayed update for a closed bar
	default:
		p.health.IncStoreWriteFailure()
		logs.Errorf("upsert %s@%d: %+v", bar.Symbol, bar.OpenTime, err)
	}
}

// Reconcile aligns subscriptions with the active universe: additions
// subscribe live updates and begin backfill, removals stop live updates
// without deleting stored bars. Degraded symbols retry backfill here.
func (p *Pipeline) Reconcile(ctx context.Context) {
	active := p.universe.Symbols()
	activeSet := make(map[string]struct{}, len(active))
	for _, symbol := range active {
		activeSet[symbol] = struct{}{}
	}

	p.mu.Lock()
	var added, removed []string
	for symbol := range p.subs {
		if _, ok := activeSet[symbol]; !ok {
			removed = append(removed, symbol)
		}
	}
	for _, symbol := range active {
		if _, ok := p.subs[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	var retry []string
	for symbol := range p.degraded {
		if _, ok := activeSet[symbol]; ok {
			retry = append(retry, symbol)
		} else {
			delete(p.degraded, symbol)
		}
	}
	p.mu.Unlock()

	for _, symbol := range removed {
		p.unsubscribe(ctx, symbol)
	}
	for _, symbol := range added {
		p.subscribe(ctx, symbol)
	}
	for _, symbol := range retry {
		go p.runBackfill(ctx, symbol)
	}

	if len(added) > 0 || len(removed) > 0 {
		logs.Infof("subscriptions reconciled: %d active, +%d -%d", len(activeSet), len(added), len(removed))
	}
}

// subscribe reads the feed under the mutex right before use: a connection
// established after the caller's snapshot is still picked up here.
func (p *Pipeline) subscribe(ctx context.Context, symbol string) {
	consumerCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		queue:  NewQueue(p.cfg.QueueSize),
		cancel: cancel,
	}

	p.mu.Lock()
	p.subs[symbol] = sub
	feed := p.feed
	p.mu.Unlock()

	go sub.queue.Run(consumerCtx, func(bar model.Bar) {
		p.apply(consumerCtx, bar)
	})

	if feed != nil {
		if err := feed.SubscribeKline(ctx, symbol, p.cfg.Interval); err != nil {
			logs.Errorf("subscribe %s: %+v", symbol, err)
		}
	}

	go p.runBackfill(ctx, symbol)
}

func (p *Pipeline) unsubscribe(ctx context.Context, symbol string) {
	p.mu.Lock()
	sub := p.subs[symbol]
	delete(p.subs, symbol)
	delete(p.degraded, symbol)
	feed := p.feed
	p.mu.Unlock()
	if sub == nil {
		return
	}

	if feed != nil {
		if err := feed.UnsubscribeKline(ctx, symbol, p.cfg.Interval); err != nil {
			logs.Warnf("unsubscribe %s: %+v", symbol, err)
		}
	}
	sub.cancel()
	sub.queue.Close()
}

// runBackfill primes the window with recent closed bars, retrying with
// bounded exponential backoff. Exhaustion marks the symbol degraded
// rather than blocking the pipeline.
func (p *Pipeline) runBackfill(ctx context.Context, symbol string) {
	if err := p.Backfill(ctx, symbol); err != nil {
		if ctx.Err() != nil {
			return
		}
		logs.Errorf("backfill %s, marking degraded: %+v", symbol, err)
		p.setDegraded(symbol, true)
		return
	}
	p.setDegraded(symbol, false)
}

// Backfill fetches up to W+2 recent closed bars and inserts only keys
// absent from the store: the live feed is authoritative for any key it
// has observed. Skipped entirely when the window is already primed.
func (p *Pipeline) Backfill(ctx context.Context, symbol string) error {
	need := p.windowSize + 2
	count, err := p.store.CountClosed(ctx, symbol, p.cfg.Interval)
	if err == nil && count >= int64(need) {
		return nil
	}

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.BackfillTimeout)
		defer cancel()

		bars, err := p.rest.FetchRecentBars(callCtx, symbol, p.cfg.Interval, need)
		if err != nil {
			return err
		}
		return p.store.InsertMissing(callCtx, bars)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.BackfillRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("%w: %v", exception.ErrBackfillFailed, err)
	}
	return nil
}

func (p *Pipeline) setDegraded(symbol string, degraded bool) {
	p.mu.Lock()
	if degraded {
		p.degraded[symbol] = struct{}{}
	} else {
		delete(p.degraded, symbol)
	}
	n := len(p.degraded)
	p.mu.Unlock()
	p.health.SetDegraded(n)
}

func (p *Pipeline) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, sub := range p.subs {
		sub.cancel()
		sub.queue.Close()
		delete(p.subs, symbol)
	}
	if p.feed != nil {
		p.feed.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
