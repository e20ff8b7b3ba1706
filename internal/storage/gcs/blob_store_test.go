package gcs

import (
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Config{}.Validate())
	require.Error(t, Config{Bucket: "b", ChunkSize: -1}.Validate())
	require.NoError(t, Config{Bucket: "tb-archive"}.Validate())
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "tb-archive"})
	require.Error(t, err)

	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestURI(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "tb-archive"})
	require.NoError(t, err)
	require.Equal(t, "gs://tb-archive/run/events.out.tfevents.1", s.URI("run/events.out.tfevents.1"))
}
