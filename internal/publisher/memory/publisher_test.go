package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type runBatch struct{ run string }

func (b runBatch) Attributes() map[string]string { return map[string]string{"run": b.run} }

func TestPublisherNumbersPerTopic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	pub := New()
	for _, topic := range []string{"scalars", "runs", "scalars"} {
		_, err := pub.Publish(ctx, topic, "payload")
		require.NoError(t, err)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "scalars-1", msgs[0].ID)
	require.Equal(t, "runs-1", msgs[1].ID)
	require.Equal(t, "scalars-2", msgs[2].ID)
	require.Len(t, pub.Topic("scalars"), 2)
	require.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	require.Equal(t, "scalars", pub.Messages()[0].Topic)
}

func TestPublisherCapturesAttributes(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "scalars", runBatch{run: "abc"})
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "scalars", 42)
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Equal(t, map[string]string{"run": "abc"}, msgs[0].Attributes)
	require.Nil(t, msgs[1].Attributes)
}

func TestPublisherFailNext(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("injected failure")
	pub := New()
	pub.FailNext(errBoom)
	_, err := pub.Publish(context.Background(), "scalars", 1)
	require.ErrorIs(t, err, errBoom)
	id, err := pub.Publish(context.Background(), "scalars", 1)
	require.NoError(t, err)
	require.Equal(t, "scalars-1", id)
	require.Len(t, pub.Messages(), 1)
}
