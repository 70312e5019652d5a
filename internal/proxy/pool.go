// Package proxy maintains the pool of upstream proxy endpoints with
// health scoring, quarantine, and background probing.
package proxy

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/metrics"
)

// Outcome classifies a released fetch for endpoint accounting.
type Outcome string

// Release outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
)

// ErrNoneAvailable is returned when every endpoint is quarantined. Callers
// must back off and retry the whole pool, not spin.
var ErrNoneAvailable = errors.New("no proxy endpoints available")

// Config tunes scoring and quarantine behavior.
type Config struct {
	// Alpha is the EMA weight for new outcomes; recent outcomes dominate.
	Alpha float64
	// QuarantineThreshold is the consecutive-failure count that quarantines.
	QuarantineThreshold int
	// BaseCooldown is the first quarantine duration; it doubles per repeat.
	BaseCooldown time.Duration
	// MaxCooldown caps the quarantine backoff.
	MaxCooldown time.Duration
	// DegradedBelow marks endpoints under this score as degraded.
	DegradedBelow float64
}

func (c *Config) applyDefaults() {
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = 0.2
	}
	if c.QuarantineThreshold <= 0 {
		c.QuarantineThreshold = 3
	}
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 30 * time.Minute
	}
	if c.DegradedBelow <= 0 {
		c.DegradedBelow = 0.5
	}
}

// Pool hands out proxy endpoints for fetches and folds outcomes back into
// per-endpoint quality scores. All state changes go through one mutex so
// concurrent Release calls never lose updates.
type Pool struct {
	mu        sync.Mutex
	cfg       Config
	endpoints map[string]*engine.ProxyEndpoint
	clock     engine.Clock
	logger    *zap.Logger
	rng       *rand.Rand
}

// NewPool constructs a Pool from the configured endpoints.
func NewPool(cfg Config, endpoints []engine.ProxyEndpoint, clock engine.Clock, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:       cfg,
		endpoints: make(map[string]*engine.ProxyEndpoint, len(endpoints)),
		clock:     clock,
		logger:    logger,
		rng:       rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
	for i := range endpoints {
		ep := endpoints[i]
		if ep.Status == "" {
			ep.Status = engine.ProxyStatusActive
		}
		if ep.QualityScore == 0 {
			ep.QualityScore = 1
		}
		p.endpoints[ep.Address] = &ep
	}
	p.publishGauges()
	return p
}

// Acquire selects an endpoint by weighted random choice among active
// endpoints, weight = quality score. Degraded endpoints are used only when
// no active endpoint exists. Endpoints whose cooldown has expired are left
// to the health prober; they stay excluded until a probe succeeds.
func (p *Pool) Acquire(_ string) (engine.ProxyEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates, degraded []*engine.ProxyEndpoint
	total, degradedTotal := 0.0, 0.0
	for _, ep := range p.endpoints {
		switch ep.Status {
		case engine.ProxyStatusQuarantined:
		case engine.ProxyStatusDegraded:
			degraded = append(degraded, ep)
			degradedTotal += ep.QualityScore
		default:
			candidates = append(candidates, ep)
			total += ep.QualityScore
		}
	}
	if len(candidates) == 0 {
		candidates, total = degraded, degradedTotal
	}
	if len(candidates) == 0 {
		return engine.ProxyEndpoint{}, ErrNoneAvailable
	}
	if total <= 0 {
		return *candidates[p.rng.Intn(len(candidates))], nil
	}

	target := p.rng.Float64() * total
	for _, ep := range candidates {
		target -= ep.QualityScore
		if target <= 0 {
			return *ep, nil
		}
	}
	return *candidates[len(candidates)-1], nil
}

// Release folds a fetch outcome into the endpoint's score and state.
func (p *Pool) Release(address string, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.endpoints[address]
	if !ok {
		return
	}

	sample := 0.0
	if outcome == OutcomeSuccess {
		sample = 1.0
		ep.SuccessCount++
		ep.ConsecutiveFailures = 0
	} else {
		ep.FailureCount++
		ep.ConsecutiveFailures++
	}
	ep.QualityScore = p.cfg.Alpha*sample + (1-p.cfg.Alpha)*ep.QualityScore

	switch {
	case ep.ConsecutiveFailures >= p.cfg.QuarantineThreshold:
		p.quarantineLocked(ep)
	case ep.Status != engine.ProxyStatusQuarantined && ep.QualityScore < p.cfg.DegradedBelow:
		ep.Status = engine.ProxyStatusDegraded
	case ep.Status == engine.ProxyStatusDegraded && ep.QualityScore >= p.cfg.DegradedBelow:
		ep.Status = engine.ProxyStatusActive
	}
	p.publishGauges()
}

// MarkProbe records the result of a health probe against an endpoint.
// A successful probe resets consecutive failures and reactivates it.
func (p *Pool) MarkProbe(address string, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ep, ok := p.endpoints[address]
	if !ok {
		return
	}
	ep.LastCheckedAt = p.clock.Now()
	if healthy {
		ep.ConsecutiveFailures = 0
		ep.Status = engine.ProxyStatusActive
		ep.QuarantinedUntil = time.Time{}
		p.logger.Info("proxy endpoint recovered", zap.String("address", address))
	} else if ep.Status == engine.ProxyStatusQuarantined {
		// Failed probe: extend the cooldown with the next backoff step.
		p.quarantineLocked(ep)
	}
	p.publishGauges()
}

// DueForProbe lists quarantined endpoints whose cooldown has expired.
func (p *Pool) DueForProbe() []engine.ProxyEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	var due []engine.ProxyEndpoint
	for _, ep := range p.endpoints {
		if ep.Status == engine.ProxyStatusQuarantined && !now.Before(ep.QuarantinedUntil) {
			due = append(due, *ep)
		}
	}
	return due
}

// Snapshot returns a copy of every endpoint for persistence and the API.
func (p *Pool) Snapshot() []engine.ProxyEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]engine.ProxyEndpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, *ep)
	}
	return out
}

// Exhausted reports whether no endpoint can currently be acquired.
func (p *Pool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		if ep.Status != engine.ProxyStatusQuarantined {
			return false
		}
	}
	return len(p.endpoints) > 0
}

// Persist writes the current endpoint state through the given store.
func (p *Pool) Persist(ctx context.Context, store engine.ProxyStore) error {
	for _, ep := range p.Snapshot() {
		if err := store.SaveEndpoint(ctx, ep); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) quarantineLocked(ep *engine.ProxyEndpoint) {
	cooldown := p.cfg.BaseCooldown << ep.QuarantineCount
	if cooldown > p.cfg.MaxCooldown || cooldown <= 0 {
		cooldown = p.cfg.MaxCooldown
	}
	ep.Status = engine.ProxyStatusQuarantined
	ep.QuarantineCount++
	ep.QuarantinedUntil = p.clock.Now().Add(cooldown)
	metrics.ObserveQuarantine()
	p.logger.Warn("proxy endpoint quarantined",
		zap.String("address", ep.Address),
		zap.Int("consecutive_failures", ep.ConsecutiveFailures),
		zap.Duration("cooldown", cooldown),
	)
}

func (p *Pool) publishGauges() {
	counts := map[engine.ProxyStatus]int{}
	for _, ep := range p.endpoints {
		counts[ep.Status]++
	}
	for _, status := range []engine.ProxyStatus{
		engine.ProxyStatusActive,
		engine.ProxyStatusDegraded,
		engine.ProxyStatusQuarantined,
	} {
		metrics.SetProxyEndpoints(string(status), counts[status])
	}
}
