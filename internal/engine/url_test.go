package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/List", "https://example.com/List"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"drops fragment", "https://example.com/a#section", "https://example.com/a"},
		{"drops trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"sorts query", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"strips tracking params", "https://example.com/a?utm_source=x&id=7", "https://example.com/a?id=7"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in, DefaultTrackingParams)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURL_Rejects(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("not a url", nil)
	require.Error(t, err)

	_, err = NormalizeURL("/relative/path", nil)
	require.Error(t, err)
}

func TestDomainOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", DomainOf("https://Example.com/x"))
	require.Equal(t, "unknown", DomainOf("::bad::"))
}
