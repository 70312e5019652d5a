// Package plainhttp implements the HTTP fetch strategy using gocolly.
package plainhttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/sparkling-owl/spin/internal/engine"
	"github.com/sparkling-owl/spin/internal/fetch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements engine.FetchStrategy using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Name identifies the strategy in job policies.
func (f *Fetcher) Name() string {
	return "http"
}

// Fetch executes a single HTTP GET, optionally through the request's proxy.
func (f *Fetcher) Fetch(ctx context.Context, request engine.FetchRequest) (engine.FetchResult, error) {
	var (
		result   engine.FetchResult
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	if request.Proxy != nil {
		if err := collector.SetProxy(request.Proxy.URL()); err != nil {
			return engine.FetchResult{}, fmt.Errorf("set proxy: %w", err)
		}
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = engine.FetchResult{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      r.Headers.Clone(),
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			LastModified: parseLastModified(r.Headers),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = classify(request.URL, status, err)
	})

	if err := f.runCollector(ctx, collector, request.URL); err != nil {
		return engine.FetchResult{}, err
	}
	if fetchErr != nil {
		return engine.FetchResult{}, fetchErr
	}
	if fetch.BlockedBody(result.Body) {
		return engine.FetchResult{}, &engine.FetchError{
			Kind:       engine.FetchErrBlocked,
			URL:        request.URL,
			StatusCode: result.StatusCode,
			Err:        errors.New("anti-bot challenge in body"),
		}
	}
	return result, nil
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return &engine.FetchError{
			Kind: engine.FetchErrTimeout,
			URL:  url,
			Err:  ctx.Err(),
		}
	case err := <-done:
		if err != nil {
			return classify(url, 0, err)
		}
		return nil
	}
}

func classify(url string, status int, err error) error {
	var fe *engine.FetchError
	if errors.As(err, &fe) {
		return err
	}

	kind := engine.FetchErrNetwork
	switch {
	case fetch.BlockedStatus(status):
		kind = engine.FetchErrBlocked
	case status >= 400:
		kind = engine.FetchErrHTTP
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = engine.FetchErrTimeout
		} else if errors.Is(err, context.DeadlineExceeded) {
			kind = engine.FetchErrTimeout
		}
	}
	return &engine.FetchError{
		Kind:       kind,
		URL:        url,
		StatusCode: status,
		Err:        err,
	}
}

func parseLastModified(headers *http.Header) time.Time {
	if headers == nil {
		return time.Time{}
	}
	lm := headers.Get("Last-Modified")
	if lm == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}
	}
	return t
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
