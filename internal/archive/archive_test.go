package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tbprogress/internal/hash/sha256"
	"github.com/JakeFAU/tbprogress/internal/storage/memory"
)

func TestArchiveUploadsUnderRunPrefix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	local := filepath.Join(dir, "events.out.tfevents.1700000000.host")
	require.NoError(t, os.WriteFile(local, []byte("records"), 0o600))

	blobs := memory.NewBlobStore()
	a := New(blobs, "/tensorboard/", nil)
	run := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	receipt, err := a.Archive(context.Background(), run, local)
	require.NoError(t, err)
	key := "tensorboard/00000000-0000-0000-0000-000000000001/events.out.tfevents.1700000000.host"
	require.Equal(t, "memory://"+key, receipt.URI)
	require.Equal(t, sha256.Hash([]byte("records")), receipt.Digest)
	require.EqualValues(t, len("records"), receipt.Size)

	data, ok := blobs.Object(key)
	require.True(t, ok)
	require.Equal(t, "records", string(data))
}

func TestArchiveMissingFile(t *testing.T) {
	t.Parallel()

	a := New(memory.NewBlobStore(), "", nil)
	_, err := a.Archive(context.Background(), uuid.New(), filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestArchiveWrapsUploadErrors(t *testing.T) {
	t.Parallel()

	local := filepath.Join(t.TempDir(), "events")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o600))
	_, err := New(failingBlobs{}, "p", nil).Archive(context.Background(), uuid.New(), local)
	require.ErrorContains(t, err, "bucket gone")
}

func TestNilArchiverIsNoop(t *testing.T) {
	t.Parallel()

	a := New(nil, "p", nil)
	require.Nil(t, a)
	receipt, err := a.Archive(context.Background(), uuid.New(), "/does/not/matter")
	require.NoError(t, err)
	require.Zero(t, receipt)
}
