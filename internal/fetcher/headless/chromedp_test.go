package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	d, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.Equal(t, 2, cap(d.limiter))
	require.Equal(t, defaultNavTimeout, d.navTimeout())
}

func TestNavTimeoutOverride(t *testing.T) {
	t.Parallel()

	d := &Downloader{}
	require.Equal(t, defaultNavTimeout, d.navTimeout())
	d.cfg.NavigationTimeout = time.Second
	require.Equal(t, time.Second, d.navTimeout())
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	d := &Downloader{limiter: make(chan struct{}, 1)}
	require.NoError(t, d.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.acquire(ctx), context.Canceled)

	d.release()
	require.NoError(t, d.acquire(context.Background()))
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	h := toNetworkHeaders(http.Header{
		"X-One":   {"a"},
		"X-Many":  {"a", "b"},
		"X-Empty": {},
	})
	require.Equal(t, "a", h["X-One"])
	require.Equal(t, []string{"a", "b"}, h["X-Many"])
	require.NotContains(t, h, "X-Empty")
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc", "X-Multi": []any{"1", 2}},
		},
	})
	// a later iframe document does not replace the main response
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example/frame"},
	})
	// non-document responses are ignored
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://example.com/app.js"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, []string{"1", "2"}, headers.Values("X-Multi"))
	require.Equal(t, "https://example.com/rendered", url)

	status, headers, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://req", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, "https://final", url)
}
