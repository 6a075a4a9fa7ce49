package stats

import "sync"

// NoopStats is a StatsProvider for tests that records counter values
// without touching expvar's process-global namespace.
type NoopStats struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewNoopStats() *NoopStats {
	return &NoopStats{counters: make(map[string]int)}
}

func (n *NoopStats) Incr(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counters[name]++
}

func (n *NoopStats) Decr(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.counters[name]--
}

func (n *NoopStats) RegisterMetric(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.counters[name]; !ok {
		n.counters[name] = 0
	}
}

func (n *NoopStats) Run() {}

// Value returns the current counter value for name.
func (n *NoopStats) Value(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counters[name]
}
