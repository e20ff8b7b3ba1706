package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "run/events.out.tfevents.1", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://run/events.out.tfevents.1", uri)

	payload[0] = 'C'
	stored, ok := store.Object("run/events.out.tfevents.1")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, []string{"run/events.out.tfevents.1"}, store.Paths())
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
