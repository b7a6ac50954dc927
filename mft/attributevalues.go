package mft

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/t9t/gontfs/binutil"
	"github.com/t9t/gontfs/ntfserr"
	"github.com/t9t/gontfs/ntfstime"
	"github.com/t9t/gontfs/utf16"
)

// FileAttribute mirrors the Win32 FILE_ATTRIBUTE_* flags stored in $STANDARD_INFORMATION and $FILE_NAME.
type FileAttribute uint32

const (
	FileAttributeReadOnly          FileAttribute = 0x0001
	FileAttributeHidden            FileAttribute = 0x0002
	FileAttributeSystem            FileAttribute = 0x0004
	FileAttributeArchive           FileAttribute = 0x0020
	FileAttributeDevice            FileAttribute = 0x0040
	FileAttributeNormal            FileAttribute = 0x0080
	FileAttributeTemporary         FileAttribute = 0x0100
	FileAttributeSparseFile        FileAttribute = 0x0200
	FileAttributeReparsePoint      FileAttribute = 0x0400
	FileAttributeCompressed        FileAttribute = 0x0800
	FileAttributeOffline           FileAttribute = 0x1000
	FileAttributeNotContentIndexed FileAttribute = 0x2000
	FileAttributeEncrypted         FileAttribute = 0x4000
)

// Is checks if this FileAttribute's bit mask contains the specified flag.
func (a FileAttribute) Is(c FileAttribute) bool {
	return a&c == c
}

// StandardInformation is the decoded payload of a $STANDARD_INFORMATION attribute (always resident).
type StandardInformation struct {
	Creation                time.Time
	FileLastModified        time.Time
	MftLastModified         time.Time
	LastAccess              time.Time
	FileAttributes          FileAttribute
	MaximumNumberOfVersions uint32
	VersionNumber           uint32
	ClassId                 uint32
	OwnerId                 uint32
	SecurityId              uint32
	QuotaCharged            uint64
	UpdateSequenceNumber    uint64
}

// ParseStandardInformation parses a $STANDARD_INFORMATION attribute's value. Older volumes may have a short
// (pre-NTFS 3.0) value that omits OwnerId/SecurityId/QuotaCharged/UpdateSequenceNumber; those fields are zero when
// absent.
func ParseStandardInformation(b []byte) (StandardInformation, error) {
	if len(b) < 48 {
		return StandardInformation{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes but got %d", 48, len(b))
	}

	r := binutil.NewLittleEndianReader(b)
	ownerId := uint32(0)
	securityId := uint32(0)
	quotaCharged := uint64(0)
	updateSequenceNumber := uint64(0)
	if len(b) >= 0x34 {
		ownerId = r.Uint32(0x30)
	}
	if len(b) >= 0x38 {
		securityId = r.Uint32(0x34)
	}
	if len(b) >= 0x40 {
		quotaCharged = r.Uint64(0x38)
	}
	if len(b) >= 0x48 {
		updateSequenceNumber = r.Uint64(0x40)
	}
	return StandardInformation{
		Creation:                ntfstime.Convert(r.Uint64(0x00)),
		FileLastModified:        ntfstime.Convert(r.Uint64(0x08)),
		MftLastModified:         ntfstime.Convert(r.Uint64(0x10)),
		LastAccess:              ntfstime.Convert(r.Uint64(0x18)),
		FileAttributes:          FileAttribute(r.Uint32(0x20)),
		MaximumNumberOfVersions: r.Uint32(0x24),
		VersionNumber:           r.Uint32(0x28),
		ClassId:                 r.Uint32(0x2C),
		OwnerId:                 ownerId,
		SecurityId:              securityId,
		QuotaCharged:            quotaCharged,
		UpdateSequenceNumber:    updateSequenceNumber,
	}, nil
}

// FileNameNamespace indicates which of the (up to four) $FILE_NAME namespaces a name belongs to.
type FileNameNamespace byte

const (
	FileNameNamespacePosix       FileNameNamespace = 0
	FileNameNamespaceWin32       FileNameNamespace = 1
	FileNameNamespaceDos         FileNameNamespace = 2
	FileNameNamespaceWin32AndDos FileNameNamespace = 3
)

// FileName is the decoded payload of a $FILE_NAME attribute (always resident).
type FileName struct {
	ParentFileReference FileReference
	Creation            time.Time
	FileLastModified    time.Time
	MftLastModified     time.Time
	LastAccess          time.Time
	AllocatedSize       uint64
	RealSize            uint64
	Flags               FileAttribute
	ExtendedData        uint32
	Namespace           FileNameNamespace
	Name                string
}

// ParseFileName parses a $FILE_NAME attribute's value.
func ParseFileName(b []byte) (FileName, error) {
	if len(b) < 66 {
		return FileName{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes but got %d", 66, len(b))
	}

	fileNameLength := int(b[0x40]) * 2
	minExpectedSize := 66 + fileNameLength
	if len(b) < minExpectedSize {
		return FileName{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes but got %d", minExpectedSize, len(b))
	}

	r := binutil.NewLittleEndianReader(b)
	name, err := utf16.DecodeString(r.Read(0x42, fileNameLength), binary.LittleEndian)
	if err != nil {
		return FileName{}, ntfserr.Wrapf(err, "unable to decode file name")
	}
	parentRef, err := ParseFileReference(r.Read(0x00, 8))
	if err != nil {
		return FileName{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unable to parse parent file reference: %v", err)
	}
	return FileName{
		ParentFileReference: parentRef,
		Creation:            ntfstime.Convert(r.Uint64(0x08)),
		FileLastModified:    ntfstime.Convert(r.Uint64(0x10)),
		MftLastModified:     ntfstime.Convert(r.Uint64(0x18)),
		LastAccess:          ntfstime.Convert(r.Uint64(0x20)),
		AllocatedSize:       r.Uint64(0x28),
		RealSize:            r.Uint64(0x30),
		Flags:               FileAttribute(r.Uint32(0x38)),
		ExtendedData:        r.Uint32(0x3c),
		Namespace:           FileNameNamespace(r.Byte(0x41)),
		Name:                name,
	}, nil
}

// AttributeListEntry is one entry of a decoded $ATTRIBUTE_LIST attribute, pointing to an attribute (possibly) living
// in a different ("extension") MFT entry than the one the list itself lives in.
type AttributeListEntry struct {
	Type                AttributeType
	Name                string
	StartingVCN         uint64
	BaseRecordReference FileReference
	AttributeId         uint16
}

// ParseAttributeList parses a $ATTRIBUTE_LIST attribute's value into its entries.
func ParseAttributeList(b []byte) ([]AttributeListEntry, error) {
	if len(b) < 26 {
		return []AttributeListEntry{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes but got %d", 26, len(b))
	}

	entries := make([]AttributeListEntry, 0)

	for len(b) > 0 {
		r := binutil.NewLittleEndianReader(b)
		entryLength := int(r.Uint16(0x04))
		if entryLength <= 0 || len(b) < entryLength {
			return entries, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes remaining for ATTRIBUTE_LIST entry but is %d", entryLength, len(b))
		}
		nameLength := int(r.Byte(0x06))
		name := ""
		if nameLength != 0 {
			nameOffset := int(r.Byte(0x07))
			decoded, err := utf16.DecodeString(r.Read(nameOffset, nameLength*2), binary.LittleEndian)
			if err != nil {
				return entries, ntfserr.Wrapf(err, "unable to decode ATTRIBUTE_LIST entry name")
			}
			name = decoded
		}
		baseRef, err := ParseFileReference(r.Read(0x10, 8))
		if err != nil {
			return entries, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "unable to parse base record reference: %v", err)
		}
		entry := AttributeListEntry{
			Type:                AttributeType(r.Uint32(0)),
			Name:                name,
			StartingVCN:         r.Uint64(0x08),
			BaseRecordReference: baseRef,
			AttributeId:         r.Uint16(0x18),
		}
		entries = append(entries, entry)
		b = r.ReadFrom(entryLength)
	}
	return entries, nil
}

// ObjectId is the decoded payload of an $OBJECT_ID attribute.
type ObjectId struct {
	ObjectId       uuid.UUID
	BirthVolumeId  uuid.UUID
	BirthObjectId  uuid.UUID
	BirthDomainId  uuid.UUID
}

// ParseObjectId parses an $OBJECT_ID attribute's value. Only ObjectId is guaranteed present; the Birth* fields are
// zero-valued UUIDs when the attribute is shorter than 64 bytes.
func ParseObjectId(b []byte) (ObjectId, error) {
	if len(b) < 16 {
		return ObjectId{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 16 bytes but got %d", len(b))
	}
	oid := ObjectId{ObjectId: guidBytesToUUID(b[0:16])}
	if len(b) >= 64 {
		oid.BirthVolumeId = guidBytesToUUID(b[16:32])
		oid.BirthObjectId = guidBytesToUUID(b[32:48])
		oid.BirthDomainId = guidBytesToUUID(b[48:64])
	}
	return oid, nil
}

// guidBytesToUUID converts a 16-byte Microsoft GUID (mixed-endian: the first three fields are little-endian, the
// last two are big-endian/opaque) into a google/uuid.UUID (big-endian throughout), so that .String() produces the
// canonical "XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX" form Windows tools display.
func guidBytesToUUID(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

// VolumeName is the decoded payload of a $VOLUME_NAME attribute.
type VolumeName struct {
	Name string
}

// ParseVolumeName parses a $VOLUME_NAME attribute's value.
func ParseVolumeName(b []byte) (VolumeName, error) {
	name, err := utf16.DecodeString(b, binary.LittleEndian)
	if err != nil {
		return VolumeName{}, ntfserr.Wrapf(err, "unable to decode volume name")
	}
	return VolumeName{Name: name}, nil
}

// VolumeInformation is the decoded payload of a $VOLUME_INFORMATION attribute.
type VolumeInformation struct {
	MajorVersion byte
	MinorVersion byte
	Dirty        bool
}

// ParseVolumeInformation parses a $VOLUME_INFORMATION attribute's value.
func ParseVolumeInformation(b []byte) (VolumeInformation, error) {
	if len(b) < 12 {
		return VolumeInformation{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 12 bytes but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	return VolumeInformation{
		MajorVersion: r.Byte(0x08),
		MinorVersion: r.Byte(0x09),
		Dirty:        r.Uint16(0x0A)&0x0001 != 0,
	}, nil
}

// ReparsePoint is the decoded payload of a $REPARSE_POINT attribute. The reparse-specific payload (symlink target,
// junction target, third-party tag data) is left as raw bytes: spec.md does not require decoding a specific reparse
// tag's sub-format, only exposing the tag and the raw bytes.
type ReparsePoint struct {
	ReparseTag  uint32
	DataLength  uint16
	Data        []byte
}

// ParseReparsePoint parses a $REPARSE_POINT attribute's value.
func ParseReparsePoint(b []byte) (ReparsePoint, error) {
	if len(b) < 8 {
		return ReparsePoint{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 8 bytes but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	dataLength := r.Uint16(0x04)
	expected := 8 + int(dataLength)
	if len(b) < expected {
		return ReparsePoint{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least %d bytes but got %d", expected, len(b))
	}
	return ReparsePoint{
		ReparseTag: r.Uint32(0x00),
		DataLength: dataLength,
		Data:       binutil.Duplicate(r.Read(0x08, int(dataLength))),
	}, nil
}

// SecurityDescriptor is the decoded self-relative SECURITY_DESCRIPTOR header carried by a resident
// $SECURITY_DESCRIPTOR attribute. This is distinct from the Security Descriptor Index (keyed by id via $SII/$SDS,
// see security.go): some file records carry their security descriptor directly instead of (or in addition to)
// pointing at the shared $Secure store.
type SecurityDescriptor struct {
	Revision byte
	Control  uint16
	Owner    string
	Group    string
}

// ParseSecurityDescriptor parses a self-relative SECURITY_DESCRIPTOR header, decoding the owner and group SIDs.
// DACL/SACL are left undecoded: spec.md does not require ACL semantics, only the Security Descriptor Store's
// byte-for-byte retrieval.
func ParseSecurityDescriptor(b []byte) (SecurityDescriptor, error) {
	if len(b) < 20 {
		return SecurityDescriptor{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 20 bytes but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)

	ownerOffset := int(r.Uint32(0x04))
	groupOffset := int(r.Uint32(0x08))

	owner, err := decodeSID(b, ownerOffset)
	if err != nil {
		return SecurityDescriptor{}, ntfserr.Wrapf(err, "unable to decode owner SID")
	}
	group, err := decodeSID(b, groupOffset)
	if err != nil {
		return SecurityDescriptor{}, ntfserr.Wrapf(err, "unable to decode group SID")
	}

	return SecurityDescriptor{
		Revision: r.Byte(0x00),
		Control:  r.Uint16(0x02),
		Owner:    owner,
		Group:    group,
	}, nil
}

// decodeSID decodes a Windows SID (revision byte, sub-authority count, 6-byte big-endian identifier authority,
// then that many little-endian uint32 sub-authorities) starting at offset in b, into its canonical "S-1-..."
// string form.
func decodeSID(b []byte, offset int) (string, error) {
	if offset == 0 {
		return "", nil
	}
	if offset < 0 || offset+8 > len(b) {
		return "", ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "SID offset %d out of bounds (data length %d)", offset, len(b))
	}

	revision := b[offset]
	subAuthorityCount := int(b[offset+1])
	authority := uint64(0)
	for _, c := range b[offset+2 : offset+8] {
		authority = authority<<8 | uint64(c)
	}

	expectedLength := 8 + subAuthorityCount*4
	if offset+expectedLength > len(b) {
		return "", ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "SID declares %d sub-authorities but data only has room for %d", subAuthorityCount, (len(b)-offset-8)/4)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "S-%d-%d", revision, authority)
	for i := 0; i < subAuthorityCount; i++ {
		start := offset + 8 + i*4
		subAuthority := binary.LittleEndian.Uint32(b[start : start+4])
		fmt.Fprintf(&sb, "-%d", subAuthority)
	}
	return sb.String(), nil
}
