/*
Package mft provides functions to parse records and their attributes in an NTFS Master File Table ("MFT" for short).

Basic usage

First parse a record's raw bytes using mft.ParseRecord(), which applies fixup and parses the record header and the
attribute headers/values. Then look up attributes by type, or use the derived indices (FileNameAttributeIndex,
DataAttributeIndex) the record computes for you.
		// Error handling left out for brevity
		record, err := mft.ParseRecord(buf)
		attrs := record.FindAttributes(mft.AttributeTypeFileName)
		fileName, err := mft.ParseFileName(attrs[0].Data)
*/
package mft

import (
	"bytes"
	"encoding/binary"

	"github.com/t9t/gontfs/binutil"
	"github.com/t9t/gontfs/ntfserr"
)

var (
	fileSignature = []byte{0x46, 0x49, 0x4c, 0x45} // "FILE"
	baadSignature = []byte{0x42, 0x41, 0x41, 0x44} // "BAAD"
)

const maxInt = int64(^uint(0) >> 1)

const sectorSize = 512

// A Record represents a single FILE record exactly as decoded from its own bytes: header fields plus the attribute
// chain found within that one record. ParseRecord has no access to the rest of the table, so a Record it returns may
// still carry an unresolved $ATTRIBUTE_LIST attribute pointing at attributes living in other (extension) MFT
// entries; MFT.Entry and MFT.EntryNoCache resolve that by following the list and splicing in the referenced
// attributes (see mergeAttributeList in mft.go) before handing back the Record. When this is a base record,
// BaseRecordReference is zero. When it is an extension record, BaseRecordReference points to the record's base
// record.
type Record struct {
	Signature             []byte
	FileReference          FileReference
	BaseRecordReference    FileReference
	LogFileSequenceNumber  uint64
	SequenceNumber         uint16
	HardLinkCount          int
	Flags                  RecordFlag
	ActualSize             uint32
	AllocatedSize          uint32
	NextAttributeId        int
	Attributes             []Attribute

	// FileNameAttributeIndex is the index into Attributes of the preferred $FILE_NAME attribute (Win32 or
	// Win32&DOS namespace preferred over a pure DOS or POSIX name), or -1 if the record has none.
	FileNameAttributeIndex int
	// DataAttributeIndex is the index into Attributes of the primary unnamed $DATA attribute, or -1 if the record
	// has none (e.g. it is a directory).
	DataAttributeIndex int
	// HasObjectId is true when the record carries an $OBJECT_ID attribute.
	HasObjectId bool
}

// ParseRecord parses b into a Record after applying fixup. The data is assumed to be Little Endian. b is not
// modified; fixup is applied to a copy.
func ParseRecord(b []byte) (Record, error) {
	if len(b) < 42 {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "record data length should be at least 42 but is %d", len(b))
	}
	sig := b[:4]
	if bytes.Equal(sig, baadSignature) {
		return Record{}, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "record signature is BAAD")
	}
	if !bytes.Equal(sig, fileSignature) {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unknown record signature: %# x", sig)
	}

	b = binutil.Duplicate(b)
	r := binutil.NewLittleEndianReader(b)

	baseRecordRef, err := ParseFileReference(r.Read(0x20, 8))
	if err != nil {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unable to parse base record reference: %v", err)
	}

	firstAttributeOffset := int(r.Uint16(0x14))
	if firstAttributeOffset < 0 || firstAttributeOffset >= len(b) {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "invalid first attribute offset %d (data length: %d)", firstAttributeOffset, len(b))
	}

	updateSequenceOffset := int(r.Uint16(0x04))
	updateSequenceSize := int(r.Uint16(0x06))
	b, err = applyFixUp(b, updateSequenceOffset, updateSequenceSize)
	if err != nil {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unable to apply fixup: %v", err)
	}
	r = binutil.NewLittleEndianReader(b)

	attributes, err := ParseAttributes(b[firstAttributeOffset:])
	if err != nil {
		return Record{}, err
	}
	if err := checkMonotonic(attributes); err != nil {
		return Record{}, err
	}

	rec := Record{
		Signature:             binutil.Duplicate(sig),
		FileReference:         FileReference{RecordNumber: uint64(r.Uint32(0x2C)), SequenceNumber: r.Uint16(0x10)},
		BaseRecordReference:   baseRecordRef,
		LogFileSequenceNumber: r.Uint64(0x08),
		SequenceNumber:        r.Uint16(0x10),
		HardLinkCount:         int(r.Uint16(0x12)),
		Flags:                 RecordFlag(r.Uint16(0x16)),
		ActualSize:            r.Uint32(0x18),
		AllocatedSize:         r.Uint32(0x1C),
		NextAttributeId:       int(r.Uint16(0x28)),
		Attributes:            attributes,
	}
	rec.indexAttributes()
	return rec, nil
}

func (r *Record) indexAttributes() {
	r.FileNameAttributeIndex = -1
	r.DataAttributeIndex = -1
	bestNamespace := FileNameNamespace(255)
	for i, a := range r.Attributes {
		switch a.Type {
		case AttributeTypeFileName:
			fn, err := ParseFileName(a.Data)
			if err != nil {
				continue
			}
			if r.FileNameAttributeIndex == -1 || namespacePriority(fn.Namespace) < namespacePriority(bestNamespace) {
				r.FileNameAttributeIndex = i
				bestNamespace = fn.Namespace
			}
		case AttributeTypeData:
			if a.Name == "" && r.DataAttributeIndex == -1 {
				r.DataAttributeIndex = i
			}
		case AttributeTypeObjectId:
			r.HasObjectId = true
		}
	}
}

// namespacePriority ranks FileNameNamespaceWin32 and FileNameNamespaceWin32AndDos above the others, matching
// spec.md's "first $FILE_NAME (Win32 or Win32&DOS namespace preferred)".
func namespacePriority(ns FileNameNamespace) int {
	switch ns {
	case FileNameNamespaceWin32, FileNameNamespaceWin32AndDos:
		return 0
	default:
		return 1
	}
}

func checkMonotonic(attributes []Attribute) error {
	last := AttributeType(0)
	for _, a := range attributes {
		if a.Type < last {
			return ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute types are not in ascending order: %d after %d", a.Type, last)
		}
		last = a.Type
	}
	return nil
}

// FindAttributes returns all attributes of the specified type contained in this record. When no matches are found an
// empty slice is returned.
func (r *Record) FindAttributes(attrType AttributeType) []Attribute {
	ret := make([]Attribute, 0)
	for _, a := range r.Attributes {
		if a.Type == attrType {
			ret = append(ret, a)
		}
	}
	return ret
}

// FindAttributeByName returns the first attribute of the given type and name (use "" for unnamed), and true, or a
// zero Attribute and false when no such attribute exists. An empty name query intentionally matches an attribute
// with an empty name.
func (r *Record) FindAttributeByName(attrType AttributeType, name string) (Attribute, bool) {
	for _, a := range r.Attributes {
		if a.Type == attrType && a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// A FileReference represents a reference to an MFT record. Since the FileReference in a Record is only 6 bytes, the
// RecordNumber will probably not exceed 48 bits.
type FileReference struct {
	RecordNumber   uint64
	SequenceNumber uint16
}

// ParseFileReference parses a Little Endian ordered 8-byte slice into a FileReference. The first 6 bytes indicate the
// record number, while the final 2 bytes indicate the sequence number.
func ParseFileReference(b []byte) (FileReference, error) {
	if len(b) != 8 {
		return FileReference{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected 8 bytes but got %d", len(b))
	}

	return FileReference{
		RecordNumber:   binary.LittleEndian.Uint64(padTo(b[:6], 8)),
		SequenceNumber: binary.LittleEndian.Uint16(b[6:]),
	}, nil
}

// RecordFlag represents a bit mask flag indicating the status of the MFT record.
type RecordFlag uint16

// Bit values for the RecordFlag. For example, an in-use directory has value 0x0003.
const (
	RecordFlagInUse       RecordFlag = 0x0001 // spec.md's "in-use"
	RecordFlagIsDirectory RecordFlag = 0x0002 // spec.md's "is-directory"
	RecordFlagInExtend    RecordFlag = 0x0004 // spec.md's "is-special"
	RecordFlagIsIndex     RecordFlag = 0x0008 // spec.md's "is-index-view"
)

// Is checks if this RecordFlag's bit mask contains the specified flag.
func (f RecordFlag) Is(c RecordFlag) bool {
	return f&c == c
}

// applyFixUp verifies and applies the Update Sequence Array (fixup) starting at offset, with length update-sequence
// pairs (the first being the update sequence number itself). It operates on, and returns, a new copy so the caller's
// buffer is never mutated in place by a failed or successful fixup.
func applyFixUp(b []byte, offset int, length int) ([]byte, error) {
	b = binutil.Duplicate(b)
	r := binutil.NewLittleEndianReader(b)
	if length == 0 {
		return b, nil
	}

	updateSequence := r.Read(offset, length*2) // length is in pairs, not bytes
	updateSequenceNumber := updateSequence[:2]
	updateSequenceArray := updateSequence[2:]

	sectorCount := len(updateSequenceArray) / 2
	if sectorCount == 0 {
		return b, nil
	}

	for i := 1; i <= sectorCount; i++ {
		pos := sectorSize*i - 2
		if pos+2 > len(b) {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "fixup sub-block %d is out of bounds", i)
		}
		if !bytes.Equal(updateSequenceNumber, b[pos:pos+2]) {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "update sequence mismatch at pos %d", pos)
		}
	}

	for i := 0; i < sectorCount; i++ {
		pos := sectorSize*(i+1) - 2
		num := i * 2
		copy(b[pos:pos+2], updateSequenceArray[num:num+2])
	}

	return b, nil
}

func padTo(data []byte, length int) []byte {
	if len(data) >= length {
		return data
	}
	result := make([]byte, length)
	copy(result, data)
	return result
}
