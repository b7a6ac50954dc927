// Package ntfserr defines the sentinel error taxonomy shared by every
// gontfs package. Leaf errors are one of the sentinels below; callers
// identify a failure class with errors.Is, and every propagation boundary
// adds context with Wrap/Wrapf rather than swallowing or re-typing the
// error.
package ntfserr

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument marks a caller-supplied argument outside its valid
	// range (e.g. a nil handle, an index the caller controls).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfBounds marks an on-disk field pointing outside its record or
	// stream (e.g. an MFT entry index beyond the table, a read past an
	// attribute's allocated size).
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrCorruptRecord marks a structural failure in an MFT or index
	// record: bad signature, failed fixup, non-monotonic attribute types.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrCorruptRun marks an impossible data run: zero length mid-list, or
	// a running LCN cursor going negative.
	ErrCorruptRun = errors.New("corrupt data run")

	// ErrCorruptSds marks a $SDS entry whose header id does not match the
	// id that was queried.
	ErrCorruptSds = errors.New("corrupt security descriptor stream entry")

	// ErrInvalidEncoding marks malformed UTF-16 (an unpaired surrogate).
	ErrInvalidEncoding = errors.New("invalid UTF-16 encoding")

	// ErrIo marks a short read or other failure from the underlying block
	// source.
	ErrIo = errors.New("io error")

	// ErrUnsupported marks a feature the decoder does not implement: an
	// unrecognized compression unit, or (when running strict) an unknown
	// attribute type.
	ErrUnsupported = errors.New("unsupported")
)

// Wrap annotates err with message while preserving errors.Is/As matching
// against the original sentinel. A nil err returns nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message while preserving
// errors.Is/As matching against the original sentinel. A nil err returns
// nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
