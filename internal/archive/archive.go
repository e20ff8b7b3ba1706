// Package archive copies closed event files to a blob store so runs outlive
// the machine that trained them.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/hash/sha256"
	"github.com/JakeFAU/tbprogress/internal/storage"
)

const contentType = "application/octet-stream"

var tracer = otel.Tracer("github.com/JakeFAU/tbprogress/internal/archive")

// Receipt describes an uploaded event file.
type Receipt struct {
	URI    string
	Digest string
	Size   int64
}

// Archiver uploads event files under <prefix>/<run>/<file name>.
type Archiver struct {
	blobs  storage.BlobStore
	prefix string
	logger *zap.Logger
}

// New builds an Archiver. A nil blob store yields a nil Archiver, which
// callers may use as "archiving disabled".
func New(blobs storage.BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if blobs == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("archive"),
	}
}

// ObjectPath returns the object key used for localPath within run.
func (a *Archiver) ObjectPath(run uuid.UUID, localPath string) string {
	return path.Join(a.prefix, run.String(), filepath.Base(localPath))
}

// Archive uploads localPath and returns where it landed along with the
// SHA-256 of the uploaded bytes. A nil Archiver is a no-op returning a zero
// Receipt.
func (a *Archiver) Archive(ctx context.Context, run uuid.UUID, localPath string) (Receipt, error) {
	if a == nil {
		return Receipt{}, nil
	}
	ctx, span := tracer.Start(ctx, "archive.Archive")
	defer span.End()
	key := a.ObjectPath(run, localPath)
	span.SetAttributes(attribute.String("tbprogress.run", run.String()), attribute.String("tbprogress.object", key))

	// #nosec G304 -- localPath is an event file this process wrote.
	f, err := os.Open(localPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("close event file failed", zap.String("path", localPath), zap.Error(cerr))
		}
	}()

	body, digest := sha256.TeeReader(f)
	uri, err := a.blobs.PutObject(ctx, key, contentType, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, fmt.Errorf("upload %s: %w", key, err)
	}
	receipt := Receipt{URI: uri, Digest: digest.Sum(), Size: digest.Size()}
	span.SetAttributes(attribute.String("tbprogress.sha256", receipt.Digest), attribute.Int64("tbprogress.bytes", receipt.Size))
	a.logger.Info("event file archived",
		zap.String("path", localPath),
		zap.String("uri", uri),
		zap.String("sha256", receipt.Digest),
		zap.Int64("bytes", receipt.Size),
	)
	return receipt, nil
}
