package mft

import (
	"encoding/binary"

	"github.com/t9t/gontfs/binutil"
	"github.com/t9t/gontfs/ntfserr"
	"github.com/t9t/gontfs/utf16"
)

// Attribute represents an MFT record attribute header and its corresponding raw attribute Data. When the attribute
// is Resident, Data is the actual attribute value. When the attribute is non-resident, Data is empty and Runs holds
// the decoded, resolved data run list; use a ClusterBlockVector to materialise the actual bytes.
type Attribute struct {
	Type        AttributeType
	Resident    bool
	Name        string
	Flags       AttributeFlags
	AttributeId int
	Data        []byte

	// Non-resident fields; zero/empty when Resident is true.
	FirstVCN              uint64
	LastVCN               uint64
	AllocatedSize         uint64
	DataSize              uint64
	ValidDataSize         uint64
	CompressionUnitSizeLog2 uint16
	TotalSize             uint64
	Runs                  []Run
}

// AttributeType represents the type of an Attribute. Use Name() to get the attribute type's name.
type AttributeType uint32

// Known values for AttributeType. Note that other values might occur too.
const (
	AttributeTypeStandardInformation AttributeType = 0x10       // $STANDARD_INFORMATION; always resident
	AttributeTypeAttributeList       AttributeType = 0x20       // $ATTRIBUTE_LIST; mixed residency
	AttributeTypeFileName            AttributeType = 0x30       // $FILE_NAME; always resident
	AttributeTypeObjectId            AttributeType = 0x40       // $OBJECT_ID; always resident
	AttributeTypeSecurityDescriptor  AttributeType = 0x50       // $SECURITY_DESCRIPTOR; always resident?
	AttributeTypeVolumeName          AttributeType = 0x60       // $VOLUME_NAME; always resident?
	AttributeTypeVolumeInformation   AttributeType = 0x70       // $VOLUME_INFORMATION; never resident?
	AttributeTypeData                AttributeType = 0x80       // $DATA; mixed residency
	AttributeTypeIndexRoot           AttributeType = 0x90       // $INDEX_ROOT; always resident
	AttributeTypeIndexAllocation     AttributeType = 0xa0       // $INDEX_ALLOCATION; never resident?
	AttributeTypeBitmap              AttributeType = 0xb0       // $BITMAP; nearly always resident?
	AttributeTypeReparsePoint        AttributeType = 0xc0       // $REPARSE_POINT; always resident?
	AttributeTypeEAInformation       AttributeType = 0xd0       // $EA_INFORMATION; always resident
	AttributeTypeEA                  AttributeType = 0xe0       // $EA; nearly always resident?
	AttributeTypePropertySet         AttributeType = 0xf0       // $PROPERTY_SET
	AttributeTypeLoggedUtilityStream AttributeType = 0x100      // $LOGGED_UTILITY_STREAM; always resident
	AttributeTypeTerminator          AttributeType = 0xFFFFFFFF // Indicates the last attribute in a list; will not actually be returned by ParseAttributes
)

// AttributeFlags represents a bit mask flag indicating various properties of an attribute's data.
type AttributeFlags uint16

// Bit values for the AttributeFlags. For example, an encrypted, compressed attribute has value 0x4001.
const (
	AttributeFlagsCompressed AttributeFlags = 0x0001
	AttributeFlagsEncrypted  AttributeFlags = 0x4000
	AttributeFlagsSparse     AttributeFlags = 0x8000
)

// Is checks if this AttributeFlags's bit mask contains the specified flag.
func (f AttributeFlags) Is(c AttributeFlags) bool {
	return f&c == c
}

// Name returns a human-readable name for the attribute type, e.g. "$STANDARD_INFORMATION" or "$FILE_NAME". Unknown
// attribute types return "unknown".
func (at AttributeType) Name() string {
	switch at {
	case AttributeTypeStandardInformation:
		return "$STANDARD_INFORMATION"
	case AttributeTypeAttributeList:
		return "$ATTRIBUTE_LIST"
	case AttributeTypeFileName:
		return "$FILE_NAME"
	case AttributeTypeObjectId:
		return "$OBJECT_ID"
	case AttributeTypeSecurityDescriptor:
		return "$SECURITY_DESCRIPTOR"
	case AttributeTypeVolumeName:
		return "$VOLUME_NAME"
	case AttributeTypeVolumeInformation:
		return "$VOLUME_INFORMATION"
	case AttributeTypeData:
		return "$DATA"
	case AttributeTypeIndexRoot:
		return "$INDEX_ROOT"
	case AttributeTypeIndexAllocation:
		return "$INDEX_ALLOCATION"
	case AttributeTypeBitmap:
		return "$BITMAP"
	case AttributeTypeReparsePoint:
		return "$REPARSE_POINT"
	case AttributeTypeEAInformation:
		return "$EA_INFORMATION"
	case AttributeTypeEA:
		return "$EA"
	case AttributeTypePropertySet:
		return "$PROPERTY_SET"
	case AttributeTypeLoggedUtilityStream:
		return "$LOGGED_UTILITY_STREAM"
	}
	return "unknown"
}

// ParseAttributes parses bytes into Attributes, stopping at the 0xFFFFFFFF terminator type code or when the data
// runs out. The data is assumed to be Little Endian.
func ParseAttributes(b []byte) ([]Attribute, error) {
	if len(b) == 0 {
		return []Attribute{}, nil
	}
	attributes := make([]Attribute, 0)
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute header data should be at least 4 bytes but is %d", len(b))
		}

		r := binutil.NewLittleEndianReader(b)
		attrType := r.Uint32(0)
		if attrType == uint32(AttributeTypeTerminator) {
			break
		}

		if len(b) < 8 {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "cannot read attribute header record length, data should be at least 8 bytes but is %d", len(b))
		}

		uRecordLength := r.Uint32(0x04)
		if int64(uRecordLength) > maxInt {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "record length %d overflows maximum int value %d", uRecordLength, maxInt)
		}
		recordLength := int(uRecordLength)
		if recordLength <= 0 {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "cannot handle attribute with zero or negative record length %d", recordLength)
		}
		if recordLength%8 != 0 {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute record length %d is not 8-byte aligned", recordLength)
		}
		if recordLength > len(b) {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute record length %d exceeds data length %d", recordLength, len(b))
		}

		recordData := r.Read(0, recordLength)
		attribute, err := ParseAttribute(recordData)
		if err != nil {
			return nil, err
		}
		attributes = append(attributes, attribute)
		b = r.ReadFrom(recordLength)
	}
	return attributes, nil
}

// ParseAttribute parses bytes into a single Attribute, including its value (resident) or decoded data run list
// (non-resident). The data is assumed to be Little Endian.
func ParseAttribute(b []byte) (Attribute, error) {
	if len(b) < 22 {
		return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute data should be at least 22 bytes but is %d", len(b))
	}

	r := binutil.NewLittleEndianReader(b)

	nameLength := r.Byte(0x09)
	nameOffset := r.Uint16(0x0A)

	name := ""
	if nameLength != 0 {
		nameBytes := r.Read(int(nameOffset), int(nameLength)*2)
		decoded, err := utf16.DecodeString(nameBytes, binary.LittleEndian)
		if err != nil {
			return Attribute{}, ntfserr.Wrapf(err, "unable to decode attribute name")
		}
		name = decoded
	}

	resident := r.Byte(0x08) == 0x00
	attribute := Attribute{
		Type:        AttributeType(r.Uint32(0)),
		Resident:    resident,
		Name:        name,
		Flags:       AttributeFlags(r.Uint16(0x0C)),
		AttributeId: int(r.Uint16(0x0E)),
	}

	if resident {
		dataOffset := int(r.Uint16(0x14))
		uDataLength := r.Uint32(0x10)
		if int64(uDataLength) > maxInt {
			return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "attribute data length %d overflows maximum int value %d", uDataLength, maxInt)
		}
		dataLength := int(uDataLength)
		expectedDataLength := dataOffset + dataLength
		if len(b) < expectedDataLength {
			return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected attribute data length to be at least %d but is %d", expectedDataLength, len(b))
		}
		attribute.Data = binutil.Duplicate(r.Read(dataOffset, dataLength))
		return attribute, nil
	}

	if len(b) < 0x38 {
		return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "non-resident attribute header should be at least %d bytes but is %d", 0x38, len(b))
	}
	dataRunsOffset := int(r.Uint16(0x20))
	if len(b) < dataRunsOffset {
		return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected attribute data length to be at least %d but is %d", dataRunsOffset, len(b))
	}

	attribute.FirstVCN = r.Uint64(0x10)
	attribute.LastVCN = r.Uint64(0x18)
	attribute.CompressionUnitSizeLog2 = r.Uint16(0x22)
	attribute.AllocatedSize = r.Uint64(0x28)
	attribute.DataSize = r.Uint64(0x30)
	if len(b) >= 0x40 {
		attribute.ValidDataSize = r.Uint64(0x38)
	}
	if attribute.Flags.Is(AttributeFlagsCompressed) && len(b) >= 0x48 {
		attribute.TotalSize = r.Uint64(0x40)
	}

	runs, err := DecodeDataRuns(r.ReadFrom(dataRunsOffset))
	if err != nil {
		return Attribute{}, ntfserr.Wrapf(err, "unable to decode data runs")
	}
	attribute.Runs = runs

	var runLengthSum uint64
	for _, run := range runs {
		runLengthSum += run.Length
	}
	if attribute.LastVCN >= attribute.FirstVCN {
		expected := attribute.LastVCN - attribute.FirstVCN + 1
		if runLengthSum != expected {
			return Attribute{}, ntfserr.Wrapf(ntfserr.ErrCorruptRun, "data run lengths sum to %d clusters, expected %d", runLengthSum, expected)
		}
	}

	return attribute, nil
}

// Run represents one resolved, contiguous fragment of a non-resident attribute's data: VCNStart clusters into the
// attribute map to LCNStart clusters on the volume (unless IsSparse, in which case there is no physical backing and
// the logical bytes are all zero), for Length clusters.
type Run struct {
	VCNStart uint64
	LCNStart uint64
	Length   uint64
	IsSparse bool
}

// DecodeDataRuns decodes a packed NTFS data run list into a resolved, absolute Run list: each run's VCNStart and
// LCNStart are running totals, not the raw per-run deltas the on-disk format stores. Parsing stops at the first
// 0x00 header byte (or the end of b).
func DecodeDataRuns(b []byte) ([]Run, error) {
	runs := make([]Run, 0)
	var cursorVCN uint64
	var cursorLCN int64

	for len(b) > 0 {
		header := b[0]
		if header == 0 {
			break
		}

		lengthSize := int(header & 0x0F)
		offsetSize := int((header >> 4) & 0x0F)
		dataLen := 1 + lengthSize + offsetSize
		if len(b) < dataLen {
			return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRun, "expected at least %d bytes of data run data but got %d", dataLen, len(b))
		}

		length := readUintLE(b[1 : 1+lengthSize])
		if length == 0 {
			return nil, ntfserr.Wrap(ntfserr.ErrCorruptRun, "zero-length data run before terminator")
		}

		isSparse := offsetSize == 0
		var lcnStart uint64
		if !isSparse {
			delta := readIntLE(b[1+lengthSize : 1+lengthSize+offsetSize])
			cursorLCN += delta
			if cursorLCN < 0 {
				return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRun, "running LCN cursor went negative (%d)", cursorLCN)
			}
			lcnStart = uint64(cursorLCN)
		}

		runs = append(runs, Run{VCNStart: cursorVCN, LCNStart: lcnStart, Length: length, IsSparse: isSparse})
		cursorVCN += length
		b = b[dataLen:]
	}

	return runs, nil
}

func readUintLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func readIntLE(b []byte) int64 {
	if len(b) == 0 {
		return 0
	}
	v := readUintLE(b)
	// sign-extend from the top bit of the highest byte read
	if b[len(b)-1]&0x80 != 0 {
		for i := len(b); i < 8; i++ {
			v |= uint64(0xFF) << (8 * i)
		}
	}
	return int64(v)
}
