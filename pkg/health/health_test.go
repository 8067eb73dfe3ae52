package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type checkBody struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error"`
}

type body struct {
	Status string               `json:"status"`
	Checks map[string]checkBody `json:"checks"`
}

func call(t *testing.T, handler http.HandlerFunc, target string) (int, body) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var b body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return w.Code, b
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func runN(h *Health, probe Probe, n int) {
	for _, s := range h.snapshot(probe) {
		for range n {
			s.run(context.Background())
		}
	}
}

func TestLive_PassingChecksAreHiddenUnlessVerbose(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{Name: "a", Fn: passing})
	h.Register(Liveness, Check{Name: "b", Fn: passing})

	code, b := call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", b.Status)
	assert.Empty(t, b.Checks)

	code, b = call(t, h.LiveEndpoint, "/livez?verbose")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, b.Checks, 2)
	assert.True(t, b.Checks["a"].Healthy)
}

func TestLive_FailureThreshold(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{Name: "db", Fn: failing("connection refused")})

	runN(h, Liveness, 2)
	code, _ := call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code, "two failures stay below the default threshold")

	runN(h, Liveness, 1)
	code, b := call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, checkBody{Healthy: false, Error: "connection refused"}, b.Checks["db"])
}

func TestLive_CustomThresholds(t *testing.T) {
	h := New()
	var fail bool
	h.Register(Liveness, Check{
		Name:             "flappy",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Fn: func(context.Context) error {
			if fail {
				return errors.New("down")
			}
			return nil
		},
	})

	fail = true
	runN(h, Liveness, 1)
	code, _ := call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	fail = false
	runN(h, Liveness, 1)
	code, _ = call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code, "one success is below the success threshold")

	runN(h, Liveness, 1)
	code, _ = call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusOK, code)
}

func TestReady_RequiresSetReady(t *testing.T) {
	h := New()
	h.Register(Readiness, Check{Name: "postgres", Fn: passing})

	code, b := call(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, b.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, b = call(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", b.Status)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	code, _ = call(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReady_OneFailingCheck(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Readiness, Check{Name: "postgres", Fn: passing})
	h.Register(Readiness, Check{Name: "redis", Fn: failing("timeout")})
	runN(h, Readiness, 3)

	code, b := call(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Len(t, b.Checks, 1)
	assert.Equal(t, "timeout", b.Checks["redis"].Error)
	assert.False(t, h.IsReady())
}

func TestReady_LivenessChecksDoNotAffectReadiness(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Liveness, Check{Name: "goroutines", FailureThreshold: 1, Fn: failing("leak")})
	runN(h, Liveness, 1)

	code, _ := call(t, h.ReadyEndpoint, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Register(Liveness, Check{
		Name:             "slow",
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	runN(h, Liveness, 1)

	_, b := call(t, h.LiveEndpoint, "/livez")
	assert.Equal(t, context.DeadlineExceeded.Error(), b.Checks["slow"].Error)
}

func TestStartAndStop(t *testing.T) {
	h := New()
	var (
		mu    sync.Mutex
		calls int
	)
	h.Register(Readiness, Check{Name: "count", Fn: func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	stopped := calls
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, stopped, calls)
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestGCMaxPauseCheck(t *testing.T) {
	require.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPing(t *testing.T) {
	err := errors.New("down")
	assert.ErrorIs(t, Ping(pingerFunc(func(context.Context) error { return err }))(context.Background()), err)
}
