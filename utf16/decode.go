// Package utf16 decodes the UTF-16 byte strings NTFS stores for file names,
// attribute names, and other text fields into Go strings.
package utf16

import (
	"encoding/binary"

	"github.com/t9t/gontfs/ntfserr"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	surrogateHighStart = 0xD800
	surrogateHighEnd   = 0xDBFF
	surrogateLowStart  = 0xDC00
	surrogateLowEnd    = 0xDFFF
)

// DecodeString decodes b, a UTF-16 byte string in the byte order bo, into a
// UTF-8 Go string. An odd-length input, or an unpaired surrogate code unit,
// is reported as ntfserr.ErrInvalidEncoding; the underlying transform is
// never given a chance to silently substitute a replacement character for
// either.
func DecodeString(b []byte, bo binary.ByteOrder) (string, error) {
	if len(b)%2 != 0 {
		return "", ntfserr.Wrapf(ntfserr.ErrInvalidEncoding, "input data must have even number of bytes, got %d", len(b))
	}

	if err := checkSurrogatePairing(b, bo); err != nil {
		return "", err
	}

	enc := unicode.UTF16(endianness(bo), unicode.IgnoreBOM)
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return "", ntfserr.Wrapf(ntfserr.ErrInvalidEncoding, "unable to transcode UTF-16: %v", err)
	}
	return string(out), nil
}

func endianness(bo binary.ByteOrder) unicode.Endianness {
	if bo == binary.BigEndian {
		return unicode.BigEndian
	}
	return unicode.LittleEndian
}

func checkSurrogatePairing(b []byte, bo binary.ByteOrder) error {
	units := len(b) / 2
	for i := 0; i < units; i++ {
		u := bo.Uint16(b[i*2 : i*2+2])
		switch {
		case u >= surrogateHighStart && u <= surrogateHighEnd:
			if i+1 >= units {
				return ntfserr.Wrapf(ntfserr.ErrInvalidEncoding, "unpaired high surrogate at code unit %d", i)
			}
			next := bo.Uint16(b[(i+1)*2 : (i+1)*2+2])
			if next < surrogateLowStart || next > surrogateLowEnd {
				return ntfserr.Wrapf(ntfserr.ErrInvalidEncoding, "unpaired high surrogate at code unit %d", i)
			}
			i++ // consumed the low surrogate as part of the pair
		case u >= surrogateLowStart && u <= surrogateLowEnd:
			return ntfserr.Wrapf(ntfserr.ErrInvalidEncoding, "unpaired low surrogate at code unit %d", i)
		}
	}
	return nil
}
