package exchange

import "sync"

// VolumeTracker maintains a sliding window of recent bar volumes per
// instrument. The slippage model keys off its rolling average: the
// bigger an order is relative to typical volume, the worse it fills.
type VolumeTracker struct {
	window  int
	history map[string][]float64
	mu      sync.RWMutex
}

// NewVolumeTracker creates a tracker that averages the last window bars.
func NewVolumeTracker(window int) *VolumeTracker {
	if window < 1 {
		window = 1
	}
	return &VolumeTracker{
		window:  window,
		history: make(map[string][]float64),
	}
}

// Track records one bar's volume and trims observations that fell out
// of the window.
func (vt *VolumeTracker) Track(instrument string, volume float64) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	h := append(vt.history[instrument], volume)
	if len(h) > vt.window {
		h = h[len(h)-vt.window:]
	}
	vt.history[instrument] = h
}

// Average returns the mean volume over the window, or 0 before any
// observation.
func (vt *VolumeTracker) Average(instrument string) float64 {
	vt.mu.RLock()
	defer vt.mu.RUnlock()

	h := vt.history[instrument]
	if len(h) == 0 {
		return 0
	}
	var sum float64
	for _, v := range h {
		sum += v
	}
	return sum / float64(len(h))
}

// Observations returns how many bars the window currently holds.
func (vt *VolumeTracker) Observations(instrument string) int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return len(vt.history[instrument])
}
