package cost

import "sync"

// Tracker accumulates the running session total from each successful
// response's current cost. The workflow's own session figure is not used.
type Tracker struct {
	mu    sync.Mutex
	total float64
	count int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Add(current float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current > 0 {
		t.total += current
	}
	t.count++
	return t.total
}

func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Count is the number of successful generations recorded.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.count = 0
}
