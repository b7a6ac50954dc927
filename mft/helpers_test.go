package mft_test

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t9t/gontfs/mft"
)

// fakeBlockSource is an in-memory fragment.BlockSource backing the synthetic volume images the tests in this
// package build by hand, one field at a time, rather than shipping a captured disk image.
type fakeBlockSource struct {
	data []byte
}

func (f fakeBlockSource) ReadBufferAtOffset(offset uint64, length int) ([]byte, error) {
	end := offset + uint64(length)
	if end > uint64(len(f.data)) {
		return nil, errShortRead(offset, length, len(f.data))
	}
	out := make([]byte, length)
	copy(out, f.data[offset:end])
	return out, nil
}

type shortReadError struct {
	offset, length, dataLength int
}

func (e shortReadError) Error() string {
	return "short read"
}

func errShortRead(offset uint64, length int, dataLength int) error {
	return shortReadError{int(offset), length, dataLength}
}

func decodeHex(t *testing.T, s string) []byte {
	input, err := hex.DecodeString(s)
	require.Nilf(t, err, "unable to convert input hex to []byte: %v", err)
	return input
}

func roundUp8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

func asciiUTF16LE(s string) []byte {
	b := make([]byte, len(s)*2)
	for i := 0; i < len(s); i++ {
		b[i*2] = s[i]
	}
	return b
}

func encodeFileReference(fr mft.FileReference) []byte {
	b := make([]byte, 8)
	rn := fr.RecordNumber
	for i := 0; i < 6; i++ {
		b[i] = byte(rn >> (8 * uint(i)))
	}
	binary.LittleEndian.PutUint16(b[6:8], fr.SequenceNumber)
	return b
}

// buildDataRun encodes a single, generously-sized (8-byte length, 8-byte offset) NTFS data run, terminated, mapping
// to a run whose LCN advances by lcnDelta clusters from wherever the cursor (zero, for these tests' single-run
// attributes) currently sits.
func buildDataRun(length uint64, lcnDelta int64) []byte {
	b := make([]byte, 18)
	b[0] = 0x88 // offsetSize=8, lengthSize=8
	binary.LittleEndian.PutUint64(b[1:9], length)
	binary.LittleEndian.PutUint64(b[9:17], uint64(lcnDelta))
	b[17] = 0x00 // terminator
	return b
}

// buildResidentAttribute builds a complete resident attribute header plus value, matching mft.ParseAttribute's
// expected layout.
func buildResidentAttribute(attrType uint32, attrId uint16, name string, data []byte) []byte {
	nameBytes := asciiUTF16LE(name)
	nameOffset := 0x18
	dataOffset := nameOffset + len(nameBytes)
	total := roundUp8(dataOffset + len(data))

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0x00:], attrType)
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(total))
	buf[0x08] = 0x00 // resident
	buf[0x09] = byte(len(name))
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(nameOffset))
	binary.LittleEndian.PutUint16(buf[0x0E:], attrId)
	binary.LittleEndian.PutUint32(buf[0x10:], uint32(len(data)))
	binary.LittleEndian.PutUint16(buf[0x14:], uint16(dataOffset))
	copy(buf[nameOffset:], nameBytes)
	copy(buf[dataOffset:], data)
	return buf
}

// buildNonResidentAttribute builds a complete non-resident attribute header plus data run list, matching
// mft.ParseAttribute's expected layout. The fixed header always extends to 0x40 so ValidDataSize is always present.
func buildNonResidentAttribute(attrType uint32, attrId uint16, name string, firstVCN, lastVCN, allocatedSize, dataSize, validDataSize uint64, dataRuns []byte) []byte {
	nameBytes := asciiUTF16LE(name)
	nameOffset := 0x40
	dataRunsOffset := nameOffset + len(nameBytes)
	total := roundUp8(dataRunsOffset + len(dataRuns))

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0x00:], attrType)
	binary.LittleEndian.PutUint32(buf[0x04:], uint32(total))
	buf[0x08] = 0x01 // non-resident
	buf[0x09] = byte(len(name))
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(nameOffset))
	binary.LittleEndian.PutUint16(buf[0x0E:], attrId)
	binary.LittleEndian.PutUint64(buf[0x10:], firstVCN)
	binary.LittleEndian.PutUint64(buf[0x18:], lastVCN)
	binary.LittleEndian.PutUint16(buf[0x20:], uint16(dataRunsOffset))
	binary.LittleEndian.PutUint64(buf[0x28:], allocatedSize)
	binary.LittleEndian.PutUint64(buf[0x30:], dataSize)
	binary.LittleEndian.PutUint64(buf[0x38:], validDataSize)
	copy(buf[nameOffset:], nameBytes)
	copy(buf[dataRunsOffset:], dataRuns)
	return buf
}

// buildRecordBytes lays out a complete MFT FILE record of the given size with a zero-length update sequence array
// (so applyFixUp is a no-op), recordNumber and flags in their header fields, and attrs (already-encoded attribute
// headers, ascending by type) followed by the 0xFFFFFFFF terminator.
func buildRecordBytes(size int, recordNumber uint32, flags uint16, attrs []byte) []byte {
	const firstAttributeOffset = 0x38
	buf := make([]byte, size)
	copy(buf[0x00:], "FILE")
	binary.LittleEndian.PutUint16(buf[0x14:], firstAttributeOffset)
	binary.LittleEndian.PutUint16(buf[0x16:], flags)
	binary.LittleEndian.PutUint16(buf[0x10:], 1) // sequence number
	binary.LittleEndian.PutUint16(buf[0x12:], 1) // hard link count
	binary.LittleEndian.PutUint32(buf[0x18:], uint32(size))
	binary.LittleEndian.PutUint32(buf[0x1C:], uint32(size))
	binary.LittleEndian.PutUint32(buf[0x2C:], recordNumber)
	copy(buf[firstAttributeOffset:], attrs)
	binary.LittleEndian.PutUint32(buf[firstAttributeOffset+len(attrs):], 0xFFFFFFFF)
	return buf
}

func buildFileNameValue(parent mft.FileReference, allocatedSize, realSize uint64, flags uint32, namespace byte, name string) []byte {
	nameBytes := asciiUTF16LE(name)
	buf := make([]byte, 66+len(nameBytes))
	copy(buf[0x00:], encodeFileReference(parent))
	binary.LittleEndian.PutUint64(buf[0x28:], allocatedSize)
	binary.LittleEndian.PutUint64(buf[0x30:], realSize)
	binary.LittleEndian.PutUint32(buf[0x38:], flags)
	buf[0x40] = byte(len(name))
	buf[0x41] = namespace
	copy(buf[0x42:], nameBytes)
	return buf
}

// buildFileNameIndexEntry builds one non-terminator $I30-style INDEX_ENTRY carrying key (a $FILE_NAME value).
func buildFileNameIndexEntry(fileRef mft.FileReference, key []byte) []byte {
	entryLen := 0x10 + len(key)
	buf := make([]byte, entryLen)
	copy(buf[0x00:], encodeFileReference(fileRef))
	binary.LittleEndian.PutUint16(buf[0x08:], uint16(entryLen))
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(len(key)))
	copy(buf[0x10:], key)
	return buf
}

// buildUlongIndexEntry builds one non-terminator $SII/$SDH-style INDEX_ENTRY: a {DataOffset,DataLength} pair at
// 0x00, a raw binary key at 0x10, and value immediately following the key.
func buildUlongIndexEntry(key []byte, value []byte) []byte {
	dataOffset := 0x10 + len(key)
	entryLen := dataOffset + len(value)
	buf := make([]byte, entryLen)
	binary.LittleEndian.PutUint16(buf[0x00:], uint16(dataOffset))
	binary.LittleEndian.PutUint16(buf[0x02:], uint16(len(value)))
	binary.LittleEndian.PutUint16(buf[0x08:], uint16(entryLen))
	binary.LittleEndian.PutUint16(buf[0x0A:], uint16(len(key)))
	copy(buf[0x10:], key)
	copy(buf[dataOffset:], value)
	return buf
}

func buildTerminatorIndexEntry() []byte {
	buf := make([]byte, 0x10)
	binary.LittleEndian.PutUint16(buf[0x08:], 0x10)
	binary.LittleEndian.PutUint32(buf[0x0C:], 0x2) // last-entry-in-node
	return buf
}

// buildIndexRootValue assembles a complete (root-only, no $INDEX_ALLOCATION) $INDEX_ROOT attribute value from
// already-encoded entries (non-terminator entries plus the mandatory terminator).
func buildIndexRootValue(attributeType uint32, collationType uint32, entries []byte) []byte {
	totalSize := len(entries) + 16
	buf := make([]byte, 0x20+len(entries))
	binary.LittleEndian.PutUint32(buf[0x00:], attributeType)
	binary.LittleEndian.PutUint32(buf[0x04:], collationType)
	binary.LittleEndian.PutUint32(buf[0x08:], 4096)
	binary.LittleEndian.PutUint32(buf[0x0C:], 1)
	binary.LittleEndian.PutUint32(buf[0x14:], uint32(totalSize))
	copy(buf[0x20:], entries)
	return buf
}

// buildAttributeListEntry builds one unnamed $ATTRIBUTE_LIST entry (fixed 26-byte layout, no name) matching
// mft.ParseAttributeList's expected layout.
func buildAttributeListEntry(attrType uint32, startingVCN uint64, baseRef mft.FileReference, attributeId uint16) []byte {
	const entryLength = 0x1A
	buf := make([]byte, entryLength)
	binary.LittleEndian.PutUint32(buf[0x00:], attrType)
	binary.LittleEndian.PutUint16(buf[0x04:], entryLength)
	binary.LittleEndian.PutUint64(buf[0x08:], startingVCN)
	copy(buf[0x10:], encodeFileReference(baseRef))
	binary.LittleEndian.PutUint16(buf[0x18:], attributeId)
	return buf
}

func buildBootSectorBytes(bytesPerSector uint16, sectorsPerCluster byte, mftCluster uint64, fileRecordSegmentByte byte) []byte {
	buf := make([]byte, 512)
	copy(buf[0x03:0x0B], []byte("NTFS    "))
	binary.LittleEndian.PutUint16(buf[0x0B:], bytesPerSector)
	buf[0x0D] = sectorsPerCluster
	buf[0x40] = fileRecordSegmentByte
	binary.LittleEndian.PutUint64(buf[0x30:], mftCluster)
	return buf
}

const (
	testClusterSize = 1024
	testEntrySize   = 1024
	testEntryCount  = 10
)

// buildTestVolume assembles a minimal but fully valid NTFS volume image in memory: a boot sector, a 10-entry MFT
// (entries 0, 3, 5, 6 and 9 populated; 1, 2, 4, 7, 8 left as unused zeroed slots), and a $Secure store with one
// security id. Clusters 1-10 hold the MFT; cluster 11 holds the raw $SDS payload for security id 5.
func buildTestVolume(t *testing.T) *mft.FileSystem {
	t.Helper()

	sdsPayload := make([]byte, 16) // opaque "security descriptor" bytes; content is never interpreted by Get
	for i := range sdsPayload {
		sdsPayload[i] = 0xab
	}

	sdsHeader := make([]byte, 20)
	binary.LittleEndian.PutUint32(sdsHeader[0x04:], 5) // SecurityId
	binary.LittleEndian.PutUint64(sdsHeader[0x08:], 0) // OffsetInSds
	binary.LittleEndian.PutUint32(sdsHeader[0x10:], uint32(20+len(sdsPayload)))
	sdsEntry := append(sdsHeader, sdsPayload...)

	image := make([]byte, testClusterSize*12)
	copy(image[11*testClusterSize:], sdsEntry)

	// entry 0: $MFT itself, $DATA spanning clusters 1-10 (10 clusters)
	dataAttr := buildNonResidentAttribute(0x80, 0, "", 0, 9, 10*testClusterSize, 10*testClusterSize, 10*testClusterSize, buildDataRun(10, 1))
	entry0 := buildRecordBytes(testEntrySize, 0, 0x0001, dataAttr)
	copy(image[1*testClusterSize:], entry0)

	// entry 3: $Volume, NTFS 3.1, not dirty
	volInfo := make([]byte, 12)
	volInfo[0x08] = 3
	volInfo[0x09] = 1
	volInfoAttr := buildResidentAttribute(0x70, 0, "", volInfo)
	entry3 := buildRecordBytes(testEntrySize, 3, 0x0001, volInfoAttr)
	copy(image[(1+3)*testClusterSize:], entry3)

	// entry 5: root directory, $I30 index root with one file "hello.txt" -> entry 12
	helloKey := buildFileNameValue(mft.FileReference{RecordNumber: 5, SequenceNumber: 1}, 4096, 100, 0x20, 1, "hello.txt")
	i30Entries := append(buildFileNameIndexEntry(mft.FileReference{RecordNumber: 12, SequenceNumber: 1}, helloKey), buildTerminatorIndexEntry()...)
	i30Root := buildIndexRootValue(0x30, 1, i30Entries)
	i30Attr := buildResidentAttribute(0x90, 0, "$I30", i30Root)
	entry5 := buildRecordBytes(testEntrySize, 5, 0x0003, i30Attr)
	copy(image[(1+5)*testClusterSize:], entry5)

	// entry 6: $Bitmap, clusters {0,1,2} and {22,23} allocated
	bitmap := []byte{0b00000111, 0b00000000, 0b11000000, 0b00000000}
	bitmapAttr := buildResidentAttribute(0xB0, 0, "", bitmap)
	entry6 := buildRecordBytes(testEntrySize, 6, 0x0001, bitmapAttr)
	copy(image[(1+6)*testClusterSize:], entry6)

	// entry 9: $Secure, $FILE_NAME "$Secure" (so OpenSecurityDescriptorIndex's name check passes) + $SII index root
	// (ULong collation, one entry for id 5) + $SDS $DATA pointing at cluster 11
	secureName := buildFileNameValue(mft.FileReference{RecordNumber: 5, SequenceNumber: 1}, 0, 0, 0x06, byte(mft.FileNameNamespaceWin32), "$Secure")
	secureNameAttr := buildResidentAttribute(0x30, 2, "", secureName)
	siiValue := siiIndexDataBytes(5, 0, uint32(len(sdsEntry)))
	siiEntries := append(buildUlongIndexEntry(encodeUint32Key(5), siiValue), buildTerminatorIndexEntry()...)
	siiRoot := buildIndexRootValue(0, 0x10, siiEntries)
	siiAttr := buildResidentAttribute(0x90, 1, "$SII", siiRoot)
	sdsAttr := buildNonResidentAttribute(0x80, 0, "$SDS", 0, 0, testClusterSize, testClusterSize, testClusterSize, buildDataRun(1, 11))
	entry9attrs := append(append(secureNameAttr, sdsAttr...), siiAttr...)
	entry9 := buildRecordBytes(testEntrySize, 9, 0x0001, entry9attrs)
	copy(image[(1+9)*testClusterSize:], entry9)

	boot := buildBootSectorBytes(testClusterSize, 1, 1, 1)
	copy(image[:512], boot)

	fs, err := mft.Open(fakeBlockSource{data: image})
	require.Nilf(t, err, "unable to open test volume: %v", err)
	return fs
}

func encodeUint32Key(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func siiIndexDataBytes(securityId uint32, offset uint64, length uint32) []byte {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint32(b[0x04:], securityId)
	binary.LittleEndian.PutUint64(b[0x08:], offset)
	binary.LittleEndian.PutUint32(b[0x10:], length)
	return b
}
