package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(5000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func twoEndpointPool(t *testing.T) (*Pool, *fakeClock) {
	t.Helper()
	metrics.Init()
	clock := newFakeClock()
	pool := NewPool(Config{
		Alpha:               0.2,
		QuarantineThreshold: 3,
		BaseCooldown:        time.Minute,
		MaxCooldown:         time.Hour,
	}, []engine.ProxyEndpoint{
		{Address: "10.0.0.1:8080", Protocol: "http"},
		{Address: "10.0.0.2:8080", Protocol: "http"},
	}, clock, zap.NewNop())
	return pool, clock
}

func TestPool_QuarantineAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	pool, _ := twoEndpointPool(t)

	for i := 0; i < 3; i++ {
		pool.Release("10.0.0.1:8080", OutcomeTimeout)
	}

	// Only the healthy endpoint is ever handed out now.
	for i := 0; i < 20; i++ {
		ep, err := pool.Acquire("example.com")
		require.NoError(t, err)
		require.Equal(t, "10.0.0.2:8080", ep.Address)
	}
}

func TestPool_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	pool, _ := twoEndpointPool(t)

	pool.Release("10.0.0.1:8080", OutcomeError)
	pool.Release("10.0.0.1:8080", OutcomeError)
	pool.Release("10.0.0.1:8080", OutcomeSuccess)
	pool.Release("10.0.0.1:8080", OutcomeError)
	pool.Release("10.0.0.1:8080", OutcomeError)

	for _, ep := range pool.Snapshot() {
		require.NotEqual(t, engine.ProxyStatusQuarantined, ep.Status)
	}
}

func TestPool_ProbeRecoversQuarantinedEndpoint(t *testing.T) {
	t.Parallel()

	pool, clock := twoEndpointPool(t)

	for i := 0; i < 3; i++ {
		pool.Release("10.0.0.1:8080", OutcomeBlocked)
	}
	require.Empty(t, pool.DueForProbe())

	clock.Advance(time.Minute)
	due := pool.DueForProbe()
	require.Len(t, due, 1)
	require.Equal(t, "10.0.0.1:8080", due[0].Address)

	pool.MarkProbe("10.0.0.1:8080", true)

	var recovered engine.ProxyEndpoint
	for _, ep := range pool.Snapshot() {
		if ep.Address == "10.0.0.1:8080" {
			recovered = ep
		}
	}
	require.Equal(t, engine.ProxyStatusActive, recovered.Status)
	require.Equal(t, 0, recovered.ConsecutiveFailures)
}

func TestPool_CooldownBacksOffExponentially(t *testing.T) {
	t.Parallel()

	pool, clock := twoEndpointPool(t)

	quarantine := func() engine.ProxyEndpoint {
		for i := 0; i < 3; i++ {
			pool.Release("10.0.0.1:8080", OutcomeError)
		}
		for _, ep := range pool.Snapshot() {
			if ep.Address == "10.0.0.1:8080" {
				return ep
			}
		}
		t.Fatal("endpoint missing from snapshot")
		return engine.ProxyEndpoint{}
	}

	first := quarantine()
	require.Equal(t, clock.Now().Add(time.Minute), first.QuarantinedUntil)

	clock.Advance(time.Minute)
	pool.MarkProbe("10.0.0.1:8080", true)

	second := quarantine()
	require.Equal(t, clock.Now().Add(2*time.Minute), second.QuarantinedUntil)
}

func TestPool_NoneAvailableIsTerminalPerAttempt(t *testing.T) {
	t.Parallel()

	metrics.Init()
	clock := newFakeClock()
	pool := NewPool(Config{QuarantineThreshold: 1}, []engine.ProxyEndpoint{
		{Address: "10.0.0.1:8080"},
	}, clock, zap.NewNop())

	pool.Release("10.0.0.1:8080", OutcomeTimeout)

	_, err := pool.Acquire("example.com")
	require.ErrorIs(t, err, ErrNoneAvailable)
	require.True(t, pool.Exhausted())
}

func TestProber_SweepProbesOnlyDueEndpoints(t *testing.T) {
	t.Parallel()

	pool, clock := twoEndpointPool(t)
	for i := 0; i < 3; i++ {
		pool.Release("10.0.0.1:8080", OutcomeTimeout)
	}

	var mu sync.Mutex
	probed := map[string]int{}
	probe := func(_ context.Context, ep engine.ProxyEndpoint) error {
		mu.Lock()
		defer mu.Unlock()
		probed[ep.Address]++
		if probed[ep.Address] == 1 {
			return errors.New("still unreachable")
		}
		return nil
	}
	prober := NewProber(pool, probe, time.Minute, time.Second, zap.NewNop())

	prober.Sweep(context.Background())
	require.Empty(t, probed, "cooldown has not expired yet")

	clock.Advance(time.Minute)
	prober.Sweep(context.Background())
	require.Equal(t, 1, probed["10.0.0.1:8080"])
	require.False(t, pool.Exhausted())

	// Failed probe extends the cooldown; next sweep inside it is a no-op.
	prober.Sweep(context.Background())
	require.Equal(t, 1, probed["10.0.0.1:8080"])

	clock.Advance(2 * time.Minute)
	prober.Sweep(context.Background())
	require.Equal(t, 2, probed["10.0.0.1:8080"])

	for _, ep := range pool.Snapshot() {
		if ep.Address == "10.0.0.1:8080" {
			require.Equal(t, engine.ProxyStatusActive, ep.Status)
		}
	}
}

func TestPool_AcquirePrefersActiveOverDegraded(t *testing.T) {
	t.Parallel()

	metrics.Init()
	clock := newFakeClock()
	pool := NewPool(Config{Alpha: 0.5, DegradedBelow: 0.6}, []engine.ProxyEndpoint{
		{Address: "degraded:1", Status: engine.ProxyStatusDegraded, QualityScore: 0.4},
		{Address: "active:1", Status: engine.ProxyStatusActive, QualityScore: 0.1},
	}, clock, zap.NewNop())

	// Even with a lower score, the active endpoint wins while one exists.
	for i := 0; i < 20; i++ {
		ep, err := pool.Acquire("example.com")
		require.NoError(t, err)
		require.Equal(t, "active:1", ep.Address)
	}

	// With no actives left the degraded endpoint is the fallback.
	pool.Release("active:1", OutcomeError)
	pool.Release("active:1", OutcomeError)
	pool.Release("active:1", OutcomeError)
	ep, err := pool.Acquire("example.com")
	require.NoError(t, err)
	require.Equal(t, "degraded:1", ep.Address)
}
