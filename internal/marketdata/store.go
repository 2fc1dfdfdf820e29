// Package marketdata holds immutable, time-ordered bar series and the
// loaders that fill them. Series are append-only; retrieval is always
// ordered and never exposes bars after the requested end time.
package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riptide-quant/riptide/internal/domain"
)

var (
	ErrOutOfOrder        = errors.New("bar out of order for instrument")
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// Store is an in-memory MarketDataStore. Backtests load it once up
// front; the live orchestrator appends feed bars as they arrive. Reads
// return copies so callers can never mutate stored history.
type Store struct {
	mu     sync.RWMutex
	series map[string][]domain.Bar
}

// New returns an empty Store.
func New() *Store {
	return &Store{series: make(map[string][]domain.Bar)}
}

// Append adds one bar, enforcing strictly increasing timestamps per
// instrument.
func (s *Store) Append(bar domain.Bar) error {
	if bar.Instrument == "" {
		return fmt.Errorf("append: empty instrument")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.series[bar.Instrument]
	if n := len(series); n > 0 && !bar.Timestamp.After(series[n-1].Timestamp) {
		return fmt.Errorf("%w: %s at %s does not advance past %s",
			ErrOutOfOrder, bar.Instrument,
			bar.Timestamp.UTC().Format(time.RFC3339),
			series[n-1].Timestamp.UTC().Format(time.RFC3339))
	}
	s.series[bar.Instrument] = append(series, bar)
	return nil
}

// AppendBatch adds bars in order, stopping at the first violation.
func (s *Store) AppendBatch(bars []domain.Bar) error {
	for _, b := range bars {
		if err := s.Append(b); err != nil {
			return err
		}
	}
	return nil
}

// Window returns up to length bars for the instrument ending at the
// latest bar with timestamp <= end. Fewer bars than requested is not
// an error here; the feature engine decides whether the window is
// usable.
func (s *Store) Window(instrument string, end time.Time, length int) []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	hi := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(end)
	})
	lo := hi - length
	if lo < 0 {
		lo = 0
	}
	out := make([]domain.Bar, hi-lo)
	copy(out, series[lo:hi])
	return out
}

// Range returns all bars for the instrument in [from, to]. Zero times
// are open-ended.
func (s *Store) Range(instrument string, from, to time.Time) []domain.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(series), func(i int) bool {
			return !series[i].Timestamp.Before(from)
		})
	}
	hi := len(series)
	if !to.IsZero() {
		hi = sort.Search(len(series), func(i int) bool {
			return series[i].Timestamp.After(to)
		})
	}
	if lo >= hi {
		return nil
	}
	out := make([]domain.Bar, hi-lo)
	copy(out, series[lo:hi])
	return out
}

// BarAt returns the instrument's bar at exactly ts.
func (s *Store) BarAt(instrument string, ts time.Time) (domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(ts)
	})
	if i < len(series) && series[i].Timestamp.Equal(ts) {
		return series[i], true
	}
	return domain.Bar{}, false
}

// Last returns the most recent bar for the instrument.
func (s *Store) Last(instrument string) (domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[instrument]
	if len(series) == 0 {
		return domain.Bar{}, false
	}
	return series[len(series)-1], true
}

// Instruments returns the known instruments, sorted.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.series))
	for k := range s.series {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of bars stored for the instrument.
func (s *Store) Len(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[instrument])
}

// Timestamps returns the merged, deduplicated, ascending timestamps
// across all instruments within [from, to]. This is the replay
// timeline: the backtest engine visits each timestamp exactly once.
func (s *Store) Timestamps(from, to time.Time) []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]time.Time)
	for _, series := range s.series {
		for _, b := range series {
			if !from.IsZero() && b.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && b.Timestamp.After(to) {
				continue
			}
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	keys := make([]int64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]time.Time, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
