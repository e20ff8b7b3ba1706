// Package sha256 computes the hex digests recorded for archived event files.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest accumulates a SHA-256 sum and byte count over everything written
// to it.
type Digest struct {
	h hash.Hash
	n int64
}

// New returns an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// Write implements io.Writer. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	n, _ := d.h.Write(p)
	d.n += int64(n)
	return n, nil
}

// Sum returns the hex digest of the bytes written so far.
func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (d *Digest) Size() int64 {
	return d.n
}

// TeeReader returns a reader that hashes everything read from r into the
// returned Digest.
func TeeReader(r io.Reader) (io.Reader, *Digest) {
	d := New()
	return io.TeeReader(r, d), d
}

// Hash returns the hex digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
