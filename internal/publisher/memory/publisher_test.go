package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "crawl-runs", crawler.RunSummary{RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "crawl-runs", msgs[0].Topic)
	require.Equal(t, "run-1", msgs[0].Payload.(crawler.RunSummary).RunID)

	msgs[0].Topic = "modified"
	require.Equal(t, "crawl-runs", pub.Messages()[0].Topic)
}

func TestPublishHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "crawl-runs", "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, New().Messages())
}
