package dynamake

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Resources is a named pool of integer semaphores that Invocations acquire
// before running an action and release once it completes. The "jobs"
// resource is always present and defaults to the number of CPUs.
type Resources struct {
	mu        sync.Mutex
	cond      *sync.Cond
	total     map[string]int
	available map[string]int
	defaults  map[string]int

	available_gauge *prometheus.GaugeVec
	total_gauge     *prometheus.GaugeVec
}

// NewResources builds a pool seeded with the "jobs" resource. A negative
// jobs value N means "one job per N processors, at least 1".
func NewResources(jobs int) *Resources {
	r := &Resources{
		total:     map[string]int{},
		available: map[string]int{},
		defaults:  map[string]int{},
	}
	r.cond = sync.NewCond(&r.mu)

	n := jobs
	if n == 0 {
		n = runtime.NumCPU()
	} else if n < 0 {
		n = runtime.NumCPU() / -n
		if n < 1 {
			n = 1
		}
	}
	r.SetTotal("jobs", n)
	r.SetDefault("jobs", n)
	return r
}

// WithMetrics attaches Prometheus gauges tracking available/total capacity
// per resource name; registerer is typically prometheus.DefaultRegisterer.
func (r *Resources) WithMetrics(registerer prometheus.Registerer) *Resources {
	r.available_gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynamake_resource_available",
		Help: "Units of a named resource currently available.",
	}, []string{"resource"})
	r.total_gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dynamake_resource_total",
		Help: "Total units of a named resource.",
	}, []string{"resource"})
	registerer.MustRegister(r.available_gauge, r.total_gauge)
	r.reportMetricsLocked()
	return r
}

// SetTotal fixes the total capacity of a named resource and shifts its
// available capacity by the same change.
func (r *Resources) SetTotal(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delta := n - r.total[name]
	r.total[name] = n
	r.available[name] += delta
	r.reportMetricsLocked()
}

// SetDefault sets the amount of a resource an action consumes when it does
// not explicitly request one.
func (r *Resources) SetDefault(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = n
}

// effective computes the debits an action will make against the pool,
// applying defaults for resources the action did not mention explicitly.
// Requesting an unknown resource, or an amount outside [0, total], is an
// error; requested zeros are dropped.
func (r *Resources) effective(requested map[string]int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveLocked(requested)
}

func (r *Resources) effectiveLocked(requested map[string]int) (map[string]int, error) {
	out := map[string]int{}
	for name, n := range requested {
		total, known := r.total[name]
		if !known {
			return nil, fmt.Errorf("unknown resource %q", name)
		}
		if n < 0 || n > total {
			return nil, fmt.Errorf("requested %d units of resource %q but valid range is [0, %d]", n, name, total)
		}
		if n == 0 {
			continue
		}
		out[name] = n
	}
	for name, n := range r.defaults {
		if _, explicit := requested[name]; !explicit && n > 0 {
			out[name] = n
		}
	}
	return out, nil
}

// Use blocks until every named resource in requested (after applying
// defaults) has enough available capacity, then debits it atomically.
func (r *Resources) Use(requested map[string]int) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	amounts, err := r.effectiveLocked(requested)
	if err != nil {
		return nil, err
	}

	for !r.fitsLocked(amounts) {
		r.cond.Wait()
	}
	for name, n := range amounts {
		r.available[name] -= n
	}
	r.reportMetricsLocked()
	return amounts, nil
}

func (r *Resources) fitsLocked(amounts map[string]int) bool {
	for name, n := range amounts {
		if r.available[name] < n {
			return false
		}
	}
	return true
}

// Free returns previously debited amounts to the pool and wakes waiters.
func (r *Resources) Free(amounts map[string]int) {
	r.mu.Lock()
	for name, n := range amounts {
		r.available[name] += n
	}
	r.reportMetricsLocked()
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *Resources) reportMetricsLocked() {
	if r.available_gauge == nil {
		return
	}
	for name, n := range r.available {
		r.available_gauge.WithLabelValues(name).Set(float64(n))
	}
	for name, n := range r.total {
		r.total_gauge.WithLabelValues(name).Set(float64(n))
	}
}
