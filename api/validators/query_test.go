package validators

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30", nil)
	got, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 30, got)

	req = httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err = ParseQueryInt(req, "limit", 25, 1, 100)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err = ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, got)
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2024-01-02T03:04:05Z", nil)
	got, err := ParseQueryTime(req, "from")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 2024, got.Year())

	req = httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	_, err = ParseQueryTime(req, "from")
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err = ParseQueryTime(req, "from")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestParseQueryList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?kind=purchase,,usage%20", nil)
	require.Equal(t, []string{"purchase", "usage"}, ParseQueryList(req, "kind"))
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	token, err = BearerToken("abc")
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = BearerToken("Bearer ")
	require.Error(t, err)
}
