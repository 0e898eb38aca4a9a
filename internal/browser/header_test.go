package browser

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderFromPairs(t *testing.T) {
	t.Parallel()

	type entry struct{ name, value string }
	h := HeaderFromPairs([]entry{
		{"content-disposition", "attachment"},
		{"Set-Cookie", "a=1"},
		{"set-cookie", "b=2"},
	}, func(e entry) (string, string) { return e.name, e.value })

	require.Equal(t, http.Header{
		"Content-Disposition": {"attachment"},
		"Set-Cookie":          {"a=1", "b=2"},
	}, h)
}

func TestWithToken(t *testing.T) {
	t.Parallel()

	got, err := WithToken("wss://chrome.example.com/?launch=1", "secret")
	require.NoError(t, err)
	require.Equal(t, "wss://chrome.example.com/?launch=1&token=secret", got)

	got, err = WithToken("ws://localhost:9222/devtools/browser/abc", "")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:9222/devtools/browser/abc", got)

	_, err = WithToken("not a url", "x")
	require.Error(t, err)
}
