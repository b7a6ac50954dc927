package mft

import (
	"bytes"
	"encoding/binary"
	"unicode"

	"github.com/t9t/gontfs/binutil"
	"github.com/t9t/gontfs/ntfserr"
)

// CollationType identifies the ordering rule an Index's entries are sorted by.
type CollationType uint32

// Known CollationType values. CollationTypeFileName governs the $I30 directory index; CollationTypeNtofsULong
// and CollationTypeNtofsSecurityHash govern $Secure's $SII and $SDH indexes respectively.
const (
	CollationTypeBinary            CollationType = 0x00000000
	CollationTypeFileName          CollationType = 0x00000001
	CollationTypeUnicodeString     CollationType = 0x00000002
	CollationTypeNtofsULong        CollationType = 0x00000010
	CollationTypeNtofsSid          CollationType = 0x00000011
	CollationTypeNtofsSecurityHash CollationType = 0x00000012
	CollationTypeNtofsUlongs       CollationType = 0x00000013
)

// IndexRootHeader is the typed attribute value of a resident $INDEX_ROOT attribute: the collation rule and index
// record geometry that apply to both the inline root entries and any $INDEX_ALLOCATION sub-nodes.
type IndexRootHeader struct {
	AttributeType     AttributeType
	CollationType     CollationType
	BytesPerRecord    uint32
	ClustersPerRecord uint32
	Flags             uint32
}

// ParseIndexRootHeader parses the fixed 32-byte $INDEX_ROOT header (16 bytes of index-wide fields, followed by the
// 16-byte header of the entries region that starts at offset 0x20). The caller is responsible for locating and
// parsing the entries that follow (see parseIndexEntries), since that requires knowing the containing record's
// total size.
func ParseIndexRootHeader(b []byte) (IndexRootHeader, error) {
	if len(b) < 32 {
		return IndexRootHeader{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 32 bytes but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	return IndexRootHeader{
		AttributeType:     AttributeType(r.Uint32(0x00)),
		CollationType:     CollationType(r.Uint32(0x04)),
		BytesPerRecord:    r.Uint32(0x08),
		ClustersPerRecord: r.Uint32(0x0C),
		Flags:             r.Uint32(0x1C),
	}, nil
}

// IndexEntry is one B+-tree entry: either a leaf entry carrying a FileReference (and, for $I30, an embedded
// FileName), an internal-node entry additionally pointing at a SubNodeVCN, or both.
type IndexEntry struct {
	FileReference FileReference
	Flags         uint32
	Key           []byte // raw collation key bytes (the $FILE_NAME record for CollationTypeFileName, or a raw byte key otherwise)
	Value         []byte // the index payload for non-$I30 indexes (e.g. a $SII SECURITY_ID_INDEX_DATA record)
	FileName      FileName
	HasFileName   bool
	HasKey        bool
	SubNodeVCN    uint64
	PointsToNode  bool
}

const (
	indexEntryFlagPointsToSubNode uint32 = 0x1
	indexEntryFlagLastEntryInNode uint32 = 0x2
)

// parseIndexEntries parses a run of INDEX_ENTRY records (as found inlined after an $INDEX_ROOT header, or as the
// body of an $INDEX_ALLOCATION index record after its own 24-byte node header).
func parseIndexEntries(b []byte, collation CollationType) ([]IndexEntry, error) {
	entries := make([]IndexEntry, 0)
	for len(b) > 0 {
		if len(b) < 16 {
			return entries, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 16 bytes for index entry but got %d", len(b))
		}
		r := binutil.NewLittleEndianReader(b)
		entryLength := int(r.Uint16(0x08))
		if entryLength < 16 || entryLength > len(b) {
			return entries, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "index entry length %d is out of bounds (have %d bytes)", entryLength, len(b))
		}

		flags := r.Uint32(0x0C)
		isLast := flags&indexEntryFlagLastEntryInNode != 0
		pointsToNode := flags&indexEntryFlagPointsToSubNode != 0
		contentLength := int(r.Uint16(0x0A))

		entry := IndexEntry{Flags: flags, PointsToNode: pointsToNode, HasKey: !isLast}
		if !isLast {
			if collation == CollationTypeFileName {
				fileRef, err := ParseFileReference(r.Read(0x00, 8))
				if err != nil {
					return entries, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unable to parse index entry file reference: %v", err)
				}
				entry.FileReference = fileRef
				if contentLength > 0 {
					key := binutil.Duplicate(r.Read(0x10, contentLength))
					entry.Key = key
					fileName, err := ParseFileName(key)
					if err == nil {
						entry.FileName = fileName
						entry.HasFileName = true
					}
				}
			} else {
				// Non-$I30 indexes (e.g. $SII/$SDH) reuse the leading 8 bytes as {DataOffset, DataLength,
				// Reserved} instead of a FileReference: the index payload sits inline after the key.
				dataOffset := int(r.Uint16(0x00))
				dataLength := int(r.Uint16(0x02))
				if contentLength > 0 {
					entry.Key = binutil.Duplicate(r.Read(0x10, contentLength))
				}
				if dataLength > 0 && dataOffset+dataLength <= entryLength {
					entry.Value = binutil.Duplicate(r.Read(dataOffset, dataLength))
				}
			}
		}
		if pointsToNode {
			entry.SubNodeVCN = r.Uint64(entryLength - 8)
		}

		entries = append(entries, entry)
		b = r.ReadFrom(entryLength)
	}
	return entries, nil
}

// indexAllocationNodeHeaderSize is the size of the 24-byte "INDX" record header of an $INDEX_ALLOCATION node; the
// 16-byte node header (entries-offset, total-size, allocated-size, has-children) starts at this offset.
const indexAllocationNodeHeaderSize = 0x18

var indxSignature = []byte{0x49, 0x4e, 0x44, 0x58} // "INDX"

// Index is a navigable B+-tree index over a directory ($I30) or a $Secure lookup table ($SII/$SDH): the root
// entries live inline in $INDEX_ROOT, and (when the index is large enough) further entries live in 4KB-aligned
// index records inside $INDEX_ALLOCATION, read through a ClusterBlockVector.
type Index struct {
	header     IndexRootHeader
	rootEntries []IndexEntry
	allocation *ClusterBlockVector // nil if there is no $INDEX_ALLOCATION (small index, fits entirely in the root)
	compare    func(key []byte, entry IndexEntry) int
}

// NewIndex builds an Index from a parsed $INDEX_ROOT attribute's raw value and, optionally, a ClusterBlockVector
// over the record's $INDEX_ALLOCATION attribute (pass nil when the record has none).
func NewIndex(indexRootValue []byte, allocation *ClusterBlockVector) (*Index, error) {
	if len(indexRootValue) < 32 {
		return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 32 bytes but got %d", len(indexRootValue))
	}
	header, err := ParseIndexRootHeader(indexRootValue)
	if err != nil {
		return nil, err
	}

	r := binutil.NewLittleEndianReader(indexRootValue)
	totalSize := int(r.Uint32(0x14))
	expectedSize := totalSize + 16
	if len(indexRootValue) < expectedSize {
		return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected %d bytes in $INDEX_ROOT but got %d", expectedSize, len(indexRootValue))
	}

	entries := []IndexEntry{}
	if totalSize >= 16 {
		parsed, err := parseIndexEntries(r.Read(0x20, totalSize-16), header.CollationType)
		if err != nil {
			return nil, ntfserr.Wrapf(err, "unable to parse $INDEX_ROOT entries")
		}
		entries = parsed
	}

	idx := &Index{header: header, rootEntries: entries, allocation: allocation}
	idx.compare = collationCompare(header.CollationType)
	return idx, nil
}

func collationCompare(c CollationType) func(key []byte, entry IndexEntry) int {
	switch c {
	case CollationTypeFileName:
		return func(key []byte, entry IndexEntry) int {
			if !entry.HasFileName {
				return -1
			}
			return compareFoldedUTF16ByName(string(key), entry.FileName.Name)
		}
	case CollationTypeNtofsULong, CollationTypeNtofsSecurityHash:
		return func(key []byte, entry IndexEntry) int {
			return compareULongKey(key, entry.Key)
		}
	default:
		return func(key []byte, entry IndexEntry) int {
			return bytes.Compare(key, entry.Key)
		}
	}
}

// compareULongKey numerically compares the leading little-endian uint32 of each key, matching NTFS's
// COLLATION_NTOFS_ULONG rule used by $SII (keyed by security id) and, as its leading field, $SDH (keyed by hash
// then security id).
func compareULongKey(a, b []byte) int {
	if len(a) < 4 || len(b) < 4 {
		return bytes.Compare(a, b)
	}
	av := binary.LittleEndian.Uint32(a[:4])
	bv := binary.LittleEndian.Uint32(b[:4])
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// compareFoldedUTF16ByName approximates NTFS's upcase-table collation for file names: rather than the volume's own
// $UpCase table (the canonical source of truth, and what a byte-exact implementation would consult), it upper-cases
// each rune via unicode.ToUpper and compares code point by code point. This diverges from NTFS for the handful of
// characters whose Unicode uppercasing disagrees with NT's upcase table, but unlike an ASCII-only fold it collates
// accented Latin, Cyrillic, Greek, and other non-ASCII scripts case-insensitively instead of treating them as
// already-equal byte sequences.
func compareFoldedUTF16ByName(a, b string) int {
	ar, br := []rune(a), []rune(b)
	for i := 0; i < len(ar) && i < len(br); i++ {
		ac, bc := unicode.ToUpper(ar[i]), unicode.ToUpper(br[i])
		if ac != bc {
			if ac < bc {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ar) < len(br):
		return -1
	case len(ar) > len(br):
		return 1
	default:
		return 0
	}
}

// Find descends the B+-tree looking for an entry whose collation key exactly matches key, returning (entry, true,
// nil) on a hit, (zero, false, nil) on a clean miss, and a non-nil error only on corrupt index structure.
func (idx *Index) Find(key []byte) (IndexEntry, bool, error) {
	return idx.find(key, idx.rootEntries)
}

func (idx *Index) find(key []byte, entries []IndexEntry) (IndexEntry, bool, error) {
	for _, entry := range entries {
		if !entry.HasKey {
			// The terminator entry: everything still unmatched is in its sub-node, if any.
			return idx.descend(entry, key)
		}
		cmp := idx.compare(key, entry)
		if cmp == 0 {
			return entry, true, nil
		}
		if cmp < 0 {
			return idx.descend(entry, key)
		}
	}
	return IndexEntry{}, false, nil
}

func (idx *Index) descend(entry IndexEntry, key []byte) (IndexEntry, bool, error) {
	if !entry.PointsToNode || idx.allocation == nil {
		return IndexEntry{}, false, nil
	}
	children, err := idx.readNode(entry.SubNodeVCN)
	if err != nil {
		return IndexEntry{}, false, err
	}
	return idx.find(key, children)
}

// Iterate returns every leaf entry in the index, in collation order, by walking the full tree (root entries plus
// every $INDEX_ALLOCATION node reachable from them). Used for directory listing.
func (idx *Index) Iterate() ([]IndexEntry, error) {
	var out []IndexEntry
	if err := idx.iterate(idx.rootEntries, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (idx *Index) iterate(entries []IndexEntry, out *[]IndexEntry) error {
	for _, entry := range entries {
		if entry.PointsToNode && idx.allocation != nil {
			children, err := idx.readNode(entry.SubNodeVCN)
			if err != nil {
				return err
			}
			if err := idx.iterate(children, out); err != nil {
				return err
			}
		}
		if entry.HasKey {
			*out = append(*out, entry)
		}
	}
	return nil
}

// readNode reads and parses the $INDEX_ALLOCATION index record at the given VCN. The VCN is taken in clusters of
// the $INDEX_ALLOCATION stream, so the record starts at vcn*clusterSize, and header.BytesPerRecord bytes are read
// from there; VCNs counted in units smaller than a cluster are not handled.
func (idx *Index) readNode(vcn uint64) ([]IndexEntry, error) {
	recordSize := int(idx.header.BytesPerRecord)
	offset := vcn * idx.allocation.clusterBlockSize()
	raw, err := idx.allocation.ReadAt(int64(offset), recordSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read index allocation record at vcn %d", vcn)
	}

	if err := applyIndexRecordFixUp(raw); err != nil {
		return nil, err
	}

	r := binutil.NewLittleEndianReader(raw)
	if !bytes.Equal(raw[:4], indxSignature) {
		return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unknown index record signature: %# x", raw[:4])
	}
	entriesOffset := int(r.Uint32(0x18)) + 0x18
	indexLength := int(r.Uint32(0x1C)) + 0x18
	if indexLength > len(raw) || entriesOffset > len(raw) {
		return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "index record bounds out of range (entriesOffset=%d indexLength=%d len=%d)", entriesOffset, indexLength, len(raw))
	}

	return parseIndexEntries(raw[entriesOffset:indexLength], idx.header.CollationType)
}

// applyIndexRecordFixUp applies the Update Sequence Array fixup to a raw $INDEX_ALLOCATION record in place,
// following the same scheme as an MFT record's fixup (see record.go's applyFixUp) but reading offset/length from
// the INDX record header instead of a FILE record header.
func applyIndexRecordFixUp(b []byte) error {
	if len(b) < 8 {
		return ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "index record too short for fixup header: %d bytes", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	offset := int(r.Uint16(0x04))
	length := int(r.Uint16(0x06))
	if length == 0 {
		return nil
	}

	updateSequence := r.Read(offset, length*2)
	updateSequenceNumber := updateSequence[:2]
	updateSequenceArray := updateSequence[2:]

	sectorCount := len(updateSequenceArray) / 2
	if sectorCount == 0 {
		return nil
	}

	for i := 1; i <= sectorCount; i++ {
		pos := sectorSize*i - 2
		if pos+2 > len(b) {
			return ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "index record fixup sub-block %d is out of bounds", i)
		}
		if !bytes.Equal(updateSequenceNumber, b[pos:pos+2]) {
			return ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "index record update sequence mismatch at pos %d", pos)
		}
	}
	for i := 0; i < sectorCount; i++ {
		pos := sectorSize*(i+1) - 2
		num := i * 2
		copy(b[pos:pos+2], updateSequenceArray[num:num+2])
	}
	return nil
}

// encodeUint32Key encodes a uint32 ($SII lookup key, the $Secure security id) into the little-endian 4-byte form
// stored on disk, for use with Index.Find against a CollationTypeNtofsULong index.
func encodeUint32Key(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
