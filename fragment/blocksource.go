package fragment

import (
	"io"

	"github.com/t9t/gontfs/ntfserr"
)

// BlockSource is the abstract seekable byte stream the rest of gontfs reads
// a volume image through: a single random-access read of length bytes
// starting at offset. Implementations must report a short read as
// ntfserr.ErrIo rather than returning a truncated, silently-short slice.
//
// This is the only contract the core has with the actual volume (file,
// block device, in-memory buffer); everything above it is built in terms
// of BlockSource alone.
type BlockSource interface {
	ReadBufferAtOffset(offset uint64, length int) ([]byte, error)
}

// ReaderAtBlockSource adapts an io.ReaderAt into a BlockSource.
type ReaderAtBlockSource struct {
	R io.ReaderAt
}

// ReadBufferAtOffset reads exactly length bytes starting at offset from the
// wrapped io.ReaderAt. A short read (including hitting EOF early) is
// reported as ntfserr.ErrIo.
func (s ReaderAtBlockSource) ReadBufferAtOffset(offset uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, ntfserr.Wrapf(ntfserr.ErrInvalidArgument, "negative read length %d", length)
	}
	buf := make([]byte, length)
	n, err := s.R.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, ntfserr.Wrapf(ntfserr.ErrIo, "read %d bytes at offset %d: %v", length, offset, err)
	}
	if n != length {
		return nil, ntfserr.Wrapf(ntfserr.ErrIo, "short read at offset %d: wanted %d bytes, got %d", offset, length, n)
	}
	return buf, nil
}
