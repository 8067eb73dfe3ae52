// Package health serves liveness and readiness probes.
//
// Every check runs on its own ticker. A check flips to failing only after
// FailureThreshold consecutive errors and back to passing after
// SuccessThreshold consecutive successes, so a single slow ping does not
// take the service out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe selects which endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

func (p Probe) String() string {
	if p == Liveness {
		return "liveness"
	}
	return "readiness"
}

// Check describes a registered check. Zero thresholds default to 3 failures
// and 1 success; a zero Timeout defaults to one second.
type Check struct {
	Name             string
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	Fn               CheckFunc
}

// state is owned by the goroutine running the check; passing and lastErr
// are also read by HTTP handlers.
type state struct {
	Check

	passing atomic.Bool
	lastErr atomic.Pointer[string]

	fails int
	oks   int
}

func newState(c Check) *state {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.passing.Store(true)
	return s
}

func (s *state) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	if err := s.Fn(ctx); err != nil {
		msg := err.Error()
		s.lastErr.Store(&msg)
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.passing.Store(false)
		}
		return
	}
	s.lastErr.Store(nil)
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.passing.Store(true)
	}
}

func (s *state) message() string {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return "check is failing"
}

// Health aggregates checks for both probes.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Probe][]*state
	cancel context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Probe][]*state)}
}

// Register adds c to probe. Checks registered after Start are not run.
func (h *Health) Register(probe Probe, c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[probe] = append(h.checks[probe], newState(c))
}

// Start runs every registered check immediately and then every interval
// until Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*state
	for _, list := range h.checks {
		all = append(all, list...)
	}
	h.mu.Unlock()

	for _, s := range all {
		go loop(ctx, s, interval)
	}
}

func loop(ctx context.Context, s *state, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service as initialized (true) or draining (false).
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, s := range h.snapshot(Readiness) {
		if !s.passing.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(probe Probe) []*state {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.checks[probe])
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, Liveness)
}

// ReadyEndpoint serves /readyz. It fails while the service is not marked
// ready, regardless of the checks.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, Readiness)
}

type result struct {
	name    string
	passing bool
	err     string
}

// serve writes {"status":"ok"|"unhealthy","checks":{name:{...}}}. Passing
// checks are listed only with ?verbose.
func (h *Health) serve(w http.ResponseWriter, r *http.Request, probe Probe) {
	_, verbose := r.URL.Query()["verbose"]

	var results []result
	healthy := true
	for _, s := range h.snapshot(probe) {
		res := result{name: s.Name, passing: s.passing.Load()}
		if !res.passing {
			healthy = false
			res.err = s.message()
		}
		if verbose || !res.passing {
			results = append(results, res)
		}
	}
	if probe == Readiness && !h.ready.Load() {
		healthy = false
		results = append(results, result{name: "_readiness", err: "service is not ready"})
	}
	slices.SortFunc(results, func(a, b result) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	if healthy {
		e.Str("ok")
	} else {
		e.Str("unhealthy")
	}
	if len(results) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for _, res := range results {
			e.FieldStart(res.name)
			e.ObjStart()
			e.FieldStart("healthy")
			e.Bool(res.passing)
			if res.err != "" {
				e.FieldStart("error")
				e.Str(res.err)
			}
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write(e.Bytes())
}
