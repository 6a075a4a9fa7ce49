package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

// StatsProvider is the counter surface the chat server records against.
type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater publishes counters through expvar and serves them on
// /debug/vars. Deltas flow through a buffered channel so recording a
// metric never blocks the caller.
type StatsUpdater struct {
	vars    *expvar.Map
	deltas  chan delta
	started time.Time
}

type delta struct {
	name string
	by   int64
}

func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    expvar.NewMap("askdesk-stats"),
		deltas:  make(chan delta, 512),
		started: time.Now(),
	}
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(su.started).Milliseconds()
	}))
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.serveVars))

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	vars := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		vars[kv.Key] = value
	})

	json.NewEncoder(w).Encode(vars)
}

// RegisterMetric creates a zeroed counter. The int lives only in this
// updater's map, not in expvar's global namespace, so independent updaters
// can coexist in one process.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Incr(name string) {
	su.deltas <- delta{name: name, by: 1}
}

func (su *StatsUpdater) Decr(name string) {
	su.deltas <- delta{name: name, by: -1}
}

// Run starts the goroutine that applies deltas. A delta for an
// unregistered metric is dropped.
func (su *StatsUpdater) Run() {
	go func() {
		for d := range su.deltas {
			if counter, ok := su.vars.Get(d.name).(*expvar.Int); ok {
				counter.Add(d.by)
			}
		}
	}()
}

func (su *StatsUpdater) Stop() {
	close(su.deltas)
}
