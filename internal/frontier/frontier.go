// Package frontier implements the per-run URL queue with priority ordering,
// per-domain politeness, deduplication, and bounded retries.
package frontier

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sparkling-owl/spin/internal/engine"
)

// PushResult reports how the frontier handled a pushed URL.
type PushResult string

// Push outcomes.
const (
	PushAccepted      PushResult = "accepted"
	PushDuplicate     PushResult = "duplicate"
	PushDepthExceeded PushResult = "depth_exceeded"
)

// PopStatus reports why PopNext did or did not return an entry.
type PopStatus int

// Pop outcomes. PopNotReady means entries exist but every eligible domain
// is still inside its politeness window.
const (
	PopOK PopStatus = iota
	PopEmpty
	PopNotReady
)

// Config bounds frontier behavior for one run.
type Config struct {
	MaxDepth       int
	MaxRetries     int
	DefaultDelay   time.Duration
	DomainDelays   map[string]time.Duration
	TrackingParams []string
}

// Stats counts dropped and failed entries for run accounting.
type Stats struct {
	Pushed            int
	Duplicates        int
	DepthExceeded     int
	PermanentlyFailed int
}

type entry struct {
	engine.FrontierEntry
	seq   uint64
	index int
}

// entryHeap orders by priority descending, then discovery order (FIFO).
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Frontier is the queue of not-yet-visited URLs for a run. All mutation goes
// through Push/PopNext/Requeue under a single mutex; workers never touch
// domain dispatch state directly.
type Frontier struct {
	mu       sync.Mutex
	cfg      Config
	clock    engine.Clock
	logger   *zap.Logger
	queue    entryHeap
	visited  map[string]struct{}
	limiters map[string]*rate.Limiter
	seq      uint64
	stats    Stats
}

// New constructs a Frontier for one run.
func New(cfg Config, clock engine.Clock, logger *zap.Logger) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TrackingParams == nil {
		cfg.TrackingParams = engine.DefaultTrackingParams
	}
	return &Frontier{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		visited:  make(map[string]struct{}),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Push enqueues a URL if it is new and within the depth limit. Duplicates
// are dropped silently and counted.
func (f *Frontier) Push(rawURL string, depth, priority int) (PushResult, error) {
	normalized, err := engine.NormalizeURL(rawURL, f.cfg.TrackingParams)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if depth > f.cfg.MaxDepth {
		f.stats.DepthExceeded++
		return PushDepthExceeded, nil
	}
	if _, seen := f.visited[normalized]; seen {
		f.stats.Duplicates++
		return PushDuplicate, nil
	}
	f.visited[normalized] = struct{}{}

	f.seq++
	heap.Push(&f.queue, &entry{
		FrontierEntry: engine.FrontierEntry{
			URL:          normalized,
			Domain:       engine.DomainOf(normalized),
			Depth:        depth,
			Priority:     priority,
			DiscoveredAt: f.clock.Now(),
		},
		seq: f.seq,
	})
	f.stats.Pushed++
	return PushAccepted, nil
}

// PopNext returns the highest-priority entry whose domain is outside its
// politeness window. Entries for throttled domains stay queued.
func (f *Frontier) PopNext() (engine.FrontierEntry, PopStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.queue.Len() == 0 {
		return engine.FrontierEntry{}, PopEmpty
	}

	now := f.clock.Now()
	var skipped []*entry
	for f.queue.Len() > 0 {
		e := heap.Pop(&f.queue).(*entry)
		if f.limiterFor(e.Domain).AllowN(now, 1) {
			f.restore(skipped)
			return e.FrontierEntry, PopOK
		}
		skipped = append(skipped, e)
	}
	f.restore(skipped)
	return engine.FrontierEntry{}, PopNotReady
}

// Requeue re-enqueues a dispatched entry after a failed fetch with reduced
// priority. It returns false once retries are exhausted; the entry is then
// counted as permanently failed and never retried.
func (f *Frontier) Requeue(e engine.FrontierEntry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e.AttemptCount++
	if e.AttemptCount > f.cfg.MaxRetries {
		f.stats.PermanentlyFailed++
		f.logger.Debug("frontier entry permanently failed",
			zap.String("url", e.URL),
			zap.Int("attempts", e.AttemptCount),
		)
		return false
	}

	e.Priority--
	f.seq++
	heap.Push(&f.queue, &entry{FrontierEntry: e, seq: f.seq})
	return true
}

// Len reports the number of queued entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len()
}

// Stats returns a copy of the drop/failure counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Frontier) restore(skipped []*entry) {
	for _, e := range skipped {
		heap.Push(&f.queue, e)
	}
}

func (f *Frontier) limiterFor(domain string) *rate.Limiter {
	limiter, ok := f.limiters[domain]
	if ok {
		return limiter
	}
	delay := f.cfg.DefaultDelay
	if d, ok := f.cfg.DomainDelays[domain]; ok {
		delay = d
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter = rate.NewLimiter(limit, 1)
	f.limiters[domain] = limiter
	return limiter
}
