package tfevents

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorrupt reports a frame whose checksum or length does not verify.
var ErrCorrupt = errors.New("corrupt event record")

const (
	headerSize = 12
	footerSize = 4
	crcMask    = 0xa282ead8
	// maxRecordSize bounds allocations when reading damaged files.
	maxRecordSize = 256 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMask
}

// writeRecord frames data and writes it to w, returning the bytes written.
func writeRecord(w io.Writer, data []byte) (int, error) {
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	total := 0
	for _, part := range [][]byte{header[:], data, footer[:]} {
		n, err := w.Write(part)
		total += n
		if err != nil {
			return total, fmt.Errorf("write record: %w", err)
		}
	}
	return total, nil
}

// readRecord reads one frame. It returns io.EOF only on a clean boundary.
func readRecord(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated header: %v", ErrCorrupt, err)
	}
	if got, want := binary.LittleEndian.Uint32(header[8:]), maskedCRC(header[:8]); got != want {
		return nil, fmt.Errorf("%w: length checksum %08x != %08x", ErrCorrupt, got, want)
	}
	length := binary.LittleEndian.Uint64(header[:8])
	if length > maxRecordSize {
		return nil, fmt.Errorf("%w: record length %d exceeds limit", ErrCorrupt, length)
	}
	buf := make([]byte, int(length)+footerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated body: %v", ErrCorrupt, err)
	}
	data := buf[:length]
	if got, want := binary.LittleEndian.Uint32(buf[length:]), maskedCRC(data); got != want {
		return nil, fmt.Errorf("%w: data checksum %08x != %08x", ErrCorrupt, got, want)
	}
	return data, nil
}
