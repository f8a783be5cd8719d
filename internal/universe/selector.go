// Package universe maintains the active instrument set: the top-N symbols
// by 24h quote volume above a minimum floor, refreshed periodically from a
// market snapshot.
package universe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"main/pkg/exception"

	"github.com/yanun0323/logs"
)

// Snapshot is one instrument entry of a market-wide snapshot.
type Snapshot struct {
	Symbol         string
	QuoteVolume24h float64
}

// Source fetches the market-wide snapshot.
type Source interface {
	FetchMarketSnapshot(ctx context.Context) ([]Snapshot, error)
}

// Selector holds the current universe. It is an explicit service-scoped
// value shared by reference; there is no process-wide singleton.
type Selector struct {
	source    Source
	topN      int
	minVolume float64

	mu      sync.RWMutex
	symbols []string
	volumes map[string]float64
}

func NewSelector(source Source, topN int, minVolume float64) *Selector {
	return &Selector{
		source:    source,
		topN:      topN,
		minVolume: minVolume,
		volumes:   make(map[string]float64),
	}
}

// Refresh re-evaluates the universe from a fresh snapshot. A failed or
// empty snapshot keeps the previous universe unchanged and reports
// ErrDataUnavailable; the universe never becomes empty while a prior
// non-empty one exists.
func (s *Selector) Refresh(ctx context.Context) error {
	snapshot, err := s.source.FetchMarketSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", exception.ErrDataUnavailable, err)
	}

	eligible := snapshot[:0]
	for _, entry := range snapshot {
		if entry.Symbol == "" || entry.QuoteVolume24h < s.minVolume {
			continue
		}
		eligible = append(eligible, entry)
	}
	if len(eligible) == 0 {
		return exception.ErrDataUnavailable
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].QuoteVolume24h > eligible[j].QuoteVolume24h
	})
	if len(eligible) > s.topN {
		eligible = eligible[:s.topN]
	}

	symbols := make([]string, len(eligible))
	volumes := make(map[string]float64, len(eligible))
	for i, entry := range eligible {
		symbols[i] = entry.Symbol
		volumes[entry.Symbol] = entry.QuoteVolume24h
	}

	s.mu.Lock()
	s.symbols = symbols
	s.volumes = volumes
	s.mu.Unlock()

	logs.Infof("universe refreshed: %d symbols", len(symbols))
	return nil
}

// Symbols returns the active set in descending 24h quote volume order.
func (s *Selector) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Size returns the active universe size.
func (s *Selector) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Contains reports whether the symbol is in the active universe.
func (s *Selector) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.volumes[symbol]
	return ok
}

// QuoteVolume24h returns the snapshot volume for the symbol, zero when
// unknown.
func (s *Selector) QuoteVolume24h(symbol string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volumes[symbol]
}
