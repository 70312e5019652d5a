package fetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sparkling-owl/spin/internal/engine"
)

func TestBlockedBody(t *testing.T) {
	t.Parallel()

	require.True(t, BlockedBody([]byte("<html>Please solve the CAPTCHA</html>")))
	require.True(t, BlockedBody([]byte("cf-challenge detected")))
	require.False(t, BlockedBody([]byte("<html><h1>Widget</h1></html>")))
}

func TestBlockedStatus(t *testing.T) {
	t.Parallel()

	require.True(t, BlockedStatus(http.StatusForbidden))
	require.True(t, BlockedStatus(http.StatusTooManyRequests))
	require.False(t, BlockedStatus(http.StatusNotFound))
	require.False(t, BlockedStatus(http.StatusInternalServerError))
}

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(2048)

	require.True(t, h.ShouldPromote(engine.FetchResult{
		StatusCode: http.StatusOK,
		Body:       nil,
	}), "empty body promotes")

	require.True(t, h.ShouldPromote(engine.FetchResult{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><div id="root"></div></html>`),
	}), "small SPA shell promotes")

	require.False(t, h.ShouldPromote(engine.FetchResult{
		StatusCode: http.StatusOK,
		Body:       []byte("<html><h1>Rendered content</h1></html>"),
	}), "rendered content does not promote")

	require.False(t, h.ShouldPromote(engine.FetchResult{
		StatusCode: http.StatusNotFound,
		Body:       nil,
	}), "non-200 never promotes")
}
