package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "pages/a.example/abc.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/a.example/abc.html", uri)

	payload[0] = 'C'
	data, contentType, ok := store.Get("pages/a.example/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(data))
	require.Equal(t, "text/html", contentType)
	require.Equal(t, []string{"pages/a.example/abc.html"}, store.Paths())

	_, _, ok = store.Get("missing")
	require.False(t, ok)
}

func TestBlobStoreReadError(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "x", "", failingReader{})
	require.ErrorContains(t, err, "read object data")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }
