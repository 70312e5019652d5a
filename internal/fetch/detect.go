// Package fetch holds the strategy-agnostic helpers shared by the concrete
// fetch implementations: blocked-response detection and the heuristic that
// promotes a plain HTTP fetch to the stealth browser.
package fetch

import (
	"bytes"
	"net/http"

	"github.com/sparkling-owl/spin/internal/engine"
)

var blockedMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("cf-challenge"),
	[]byte("challenge-platform"),
	[]byte("access denied"),
	[]byte("unusual traffic"),
}

// BlockedBody reports whether a response body carries an anti-bot challenge
// marker. Such responses count as blocked even with a 200 status.
func BlockedBody(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, marker := range blockedMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// BlockedStatus reports whether a status code signals anti-bot blocking
// rather than a plain HTTP error.
func BlockedStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests
}

// Heuristic decides when a fetched page needs the stealth browser.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a promotion detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the body looks like an unrendered SPA shell
// that only the stealth strategy can materialize.
func (h *Heuristic) ShouldPromote(result engine.FetchResult) bool {
	if result.StatusCode != http.StatusOK {
		return false
	}
	body := result.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold {
		for _, marker := range spaMarkers {
			if bytes.Contains(body, marker) {
				return true
			}
		}
	}
	return false
}
