package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisitedSetMarksOnce(t *testing.T) {
	t.Parallel()

	var v visitedSet
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.markIfNew("https://a.example/") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
	require.True(t, v.contains("https://a.example/"))
	require.False(t, v.contains("https://b.example/"))
}

func TestResultsConcurrentInsertAndSnapshot(t *testing.T) {
	t.Parallel()

	r := newResults()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.addDownloaded(fmt.Sprintf("https://a.example/%d", i))
			r.addDownloaded(fmt.Sprintf("https://a.example/%d", i))
			r.addError(fmt.Sprintf("https://b.example/%d", i), errors.New("boom"))
		}()
	}
	wg.Wait()

	snap := r.snapshot()
	require.Len(t, snap.Downloaded, 100)
	require.Len(t, snap.Errors, 100)

	// later writes must not leak into an earlier snapshot
	r.addDownloaded("https://a.example/late")
	r.addError("https://b.example/late", errors.New("late"))
	require.Len(t, snap.Downloaded, 100)
	require.Len(t, snap.Errors, 100)
}

func TestResultsPreserveInsertionOrder(t *testing.T) {
	t.Parallel()

	r := newResults()
	r.addDownloaded("c")
	r.addDownloaded("a")
	r.addDownloaded("c")
	r.addDownloaded("b")
	require.Equal(t, []string{"c", "a", "b"}, r.snapshot().Downloaded)
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	res := Result{
		Downloaded: []string{"https://a.example/"},
		Errors: map[string]error{
			"https://a.example/b": &FetchError{Identifier: "https://a.example/b", Err: errors.New("404")},
		},
	}
	b, err := json.Marshal(res)
	require.NoError(t, err)
	require.JSONEq(t, `{"downloaded":["https://a.example/"],"errors":{"https://a.example/b":"fetch https://a.example/b: 404"}}`, string(b))

	var back Result
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, res.Downloaded, back.Downloaded)
	require.EqualError(t, back.Errors["https://a.example/b"], "fetch https://a.example/b: 404")

	empty, err := json.Marshal(Result{})
	require.NoError(t, err)
	require.JSONEq(t, `{"downloaded":[],"errors":{}}`, string(empty))
}

func TestTypedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	var fe *FetchError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", &FetchError{Identifier: "x", Err: cause}), &fe))
	require.ErrorIs(t, fe, cause)

	var ee *ExtractError
	require.True(t, errors.As(&ExtractError{Identifier: "p", Err: cause}, &ee))
	require.Equal(t, "p", ee.Identifier)
	require.ErrorIs(t, ee, cause)
}

func TestCanceledUnitsAreReleasedNotRecorded(t *testing.T) {
	t.Parallel()

	state := newCrawlState()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.True(t, state.visited.markIfNew(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, state.results.recordDownloaded(ctx, "a"))
	require.True(t, state.results.recordError(ctx, "b", errors.New("status 500")))
	cancel()
	require.False(t, state.results.recordDownloaded(ctx, "c"))
	require.False(t, state.results.recordError(ctx, "c", errors.New("late")))

	require.Equal(t, 2, state.results.releaseUnrecorded(state.visited, []string{"a", "b", "c", "d"}))
	require.True(t, state.visited.contains("a"))
	require.True(t, state.visited.contains("b"))
	require.False(t, state.visited.contains("c"))
	require.False(t, state.visited.contains("d"))

	snap := state.results.snapshot()
	require.Equal(t, []string{"a"}, snap.Downloaded)
	require.Len(t, snap.Errors, 1)
}

func TestAbandonedLayerForgetsDiscoveredLinks(t *testing.T) {
	t.Parallel()

	state := newCrawlState()
	require.True(t, state.visited.markIfNew("seen"))
	l := newLayer(1, state)

	n, ok := l.admitLinks([]string{"x", "seen", "skip/admin", "y", "x"}, []string{"/admin"})
	require.True(t, ok)
	require.Equal(t, 2, n)

	require.Equal(t, 2, l.abandon())
	require.False(t, state.visited.contains("x"))
	require.False(t, state.visited.contains("y"))
	require.True(t, state.visited.contains("seen"))
	require.Empty(t, l.takeDiscovered())

	n, ok = l.admitLinks([]string{"z"}, nil)
	require.False(t, ok)
	require.Zero(t, n)
	require.False(t, state.visited.contains("z"))
}
