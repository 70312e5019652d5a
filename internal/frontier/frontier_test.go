package frontier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
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

func newTestFrontier(cfg Config) (*Frontier, *fakeClock) {
	clock := newFakeClock()
	return New(cfg, clock, zap.NewNop()), clock
}

func TestFrontier_PushDeduplicates(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{MaxDepth: 2, MaxRetries: 1})

	res, err := f.Push("https://example.com/list", 0, 10)
	require.NoError(t, err)
	require.Equal(t, PushAccepted, res)

	// Same URL modulo normalization noise.
	res, err = f.Push("HTTPS://EXAMPLE.COM/list/?utm_source=mail#top", 0, 10)
	require.NoError(t, err)
	require.Equal(t, PushDuplicate, res)

	require.Equal(t, 1, f.Len())
	require.Equal(t, 1, f.Stats().Duplicates)
}

func TestFrontier_DepthLimit(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{MaxDepth: 1, MaxRetries: 1})

	res, err := f.Push("https://example.com/deep", 2, 10)
	require.NoError(t, err)
	require.Equal(t, PushDepthExceeded, res)
	require.Equal(t, 0, f.Len())
	require.Equal(t, 1, f.Stats().DepthExceeded)
}

func TestFrontier_PriorityThenFIFO(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{MaxDepth: 2, MaxRetries: 1})

	_, err := f.Push("https://a.test/low", 0, 1)
	require.NoError(t, err)
	_, err = f.Push("https://b.test/high", 0, 5)
	require.NoError(t, err)
	_, err = f.Push("https://c.test/high-later", 0, 5)
	require.NoError(t, err)

	first, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "https://b.test/high", first.URL)

	second, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "https://c.test/high-later", second.URL)

	third, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "https://a.test/low", third.URL)

	_, status = f.PopNext()
	require.Equal(t, PopEmpty, status)
}

func TestFrontier_PolitenessHoldsBackSameDomain(t *testing.T) {
	t.Parallel()

	f, clock := newTestFrontier(Config{
		MaxDepth:     2,
		MaxRetries:   1,
		DefaultDelay: 10 * time.Second,
	})

	_, err := f.Push("https://example.com/one", 0, 10)
	require.NoError(t, err)
	_, err = f.Push("https://example.com/two", 0, 10)
	require.NoError(t, err)

	_, status := f.PopNext()
	require.Equal(t, PopOK, status)

	// Second entry for the same domain is refused inside the window.
	_, status = f.PopNext()
	require.Equal(t, PopNotReady, status)
	require.Equal(t, 1, f.Len())

	clock.Advance(10 * time.Second)
	e, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "https://example.com/two", e.URL)
}

func TestFrontier_PolitenessSkipsToOtherDomain(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{
		MaxDepth:     2,
		MaxRetries:   1,
		DefaultDelay: time.Minute,
	})

	_, err := f.Push("https://a.test/1", 0, 10)
	require.NoError(t, err)
	_, err = f.Push("https://a.test/2", 0, 10)
	require.NoError(t, err)
	_, err = f.Push("https://b.test/1", 0, 1)
	require.NoError(t, err)

	e, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "a.test", e.Domain)

	// a.test is throttled, so the lower-priority b.test entry is eligible.
	e, status = f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, "b.test", e.Domain)
}

func TestFrontier_RequeueBoundsRetries(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{MaxDepth: 2, MaxRetries: 2})

	_, err := f.Push("https://example.com/flaky", 0, 10)
	require.NoError(t, err)

	e, status := f.PopNext()
	require.Equal(t, PopOK, status)

	require.True(t, f.Requeue(e))
	e2, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, 1, e2.AttemptCount)
	require.Equal(t, 9, e2.Priority)

	require.True(t, f.Requeue(e2))
	e3, status := f.PopNext()
	require.Equal(t, PopOK, status)
	require.Equal(t, 2, e3.AttemptCount)

	require.False(t, f.Requeue(e3))
	require.Equal(t, 1, f.Stats().PermanentlyFailed)
	require.Equal(t, 0, f.Len())
}

func TestFrontier_ConcurrentPushSingleEntry(t *testing.T) {
	t.Parallel()

	f, _ := newTestFrontier(Config{MaxDepth: 2, MaxRetries: 1})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Push("https://example.com/same", 0, 10)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, f.Len())
	require.Equal(t, 15, f.Stats().Duplicates)
}
