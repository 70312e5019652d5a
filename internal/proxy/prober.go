package proxy

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sparkling-owl/spin/internal/engine"
)

// ProbeFunc performs one lightweight health check against an endpoint.
type ProbeFunc func(ctx context.Context, endpoint engine.ProxyEndpoint) error

// Prober periodically re-tests quarantined endpoints whose cooldown expired
// and returns healthy ones to active rotation.
type Prober struct {
	pool     *Pool
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber constructs a Prober. A nil probe falls back to an HTTP probe
// against the configured probe URL.
func NewProber(pool *Pool, probe ProbeFunc, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		pool:     pool,
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run blocks, probing due endpoints on each tick until the context ends.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep probes every endpoint whose quarantine cooldown has expired.
func (p *Prober) Sweep(ctx context.Context) {
	for _, ep := range p.pool.DueForProbe() {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.probe(probeCtx, ep)
		cancel()

		if err != nil {
			p.logger.Debug("proxy probe failed",
				zap.String("address", ep.Address),
				zap.Error(err),
			)
		}
		p.pool.MarkProbe(ep.Address, err == nil)
	}
}

// HTTPProbe returns a ProbeFunc that issues a HEAD request through the
// endpoint to the given target URL.
func HTTPProbe(target string) ProbeFunc {
	return func(ctx context.Context, endpoint engine.ProxyEndpoint) error {
		proxyURL, err := url.Parse(endpoint.URL())
		if err != nil {
			return err
		}
		client := &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}
