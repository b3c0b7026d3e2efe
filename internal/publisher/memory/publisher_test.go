package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "site-changes", map[string]string{"domain": "a.org"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "site-changes", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "payload", msgs[1].Payload)

	msgs[0].Topic = "modified"
	require.Equal(t, "site-changes", pub.Messages()[0].Topic)
}

func TestPublisherErr(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.Err = errors.New("topic gone")
	_, err := pub.Publish(context.Background(), "t", "x")
	require.EqualError(t, err, "topic gone")
	require.Empty(t, pub.Messages())
}
