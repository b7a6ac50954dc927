package mft

import (
	"github.com/t9t/gontfs/binutil"
	"github.com/t9t/gontfs/ntfserr"
)

// sdsHeaderSize is the size of the SECURITY_DESCRIPTOR_HEADER prefix of every $SDS stream entry: Hash(4) +
// SecurityId(4) + OffsetInSds(8) + LengthInSds(4).
const sdsHeaderSize = 20

// SecurityDescriptorIndex is the Security Descriptor Store (spec.md §4.8): the $Secure system file's $SII id index
// bound to its $SDS stream, giving id-keyed lookup of raw self-relative security descriptor bytes.
type SecurityDescriptorIndex struct {
	sii *Index
	sds *ClusterBlockVector
}

// OpenSecurityDescriptorIndex opens the Security Descriptor Store from entry 9 of m, after verifying that entry 9's
// $FILE_NAME actually reads "$Secure". Older volumes may not have a dedicated $Secure system file at that index at
// all; when the name is absent or doesn't match, this is a no-op: it returns (nil, nil), and callers (see
// FileSystem.SecurityDescriptorByID) are expected to treat a nil index as "every id lookup reports not-found"
// rather than as an error.
func OpenSecurityDescriptorIndex(m *MFT) (*SecurityDescriptorIndex, error) {
	secure, err := m.Entry(EntryIndexSecure)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read $Secure entry")
	}

	if secure.FileNameAttributeIndex == -1 {
		return nil, nil
	}
	fileName, err := ParseFileName(secure.Attributes[secure.FileNameAttributeIndex].Data)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to parse entry %d's $FILE_NAME", EntryIndexSecure)
	}
	if fileName.Name != "$Secure" {
		return nil, nil
	}

	siiRoot, ok := secure.FindAttributeByName(AttributeTypeIndexRoot, "$SII")
	if !ok {
		return nil, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "$Secure entry has no $SII $INDEX_ROOT attribute")
	}
	sdsAttr, ok := secure.FindAttributeByName(AttributeTypeData, "$SDS")
	if !ok {
		return nil, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "$Secure entry has no $SDS $DATA attribute")
	}
	if sdsAttr.Resident {
		return nil, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "$SDS attribute must be non-resident")
	}

	clusterSize := m.vector.clusterBlockSize()

	var allocation *ClusterBlockVector
	if siiAlloc, ok := secure.FindAttributeByName(AttributeTypeIndexAllocation, "$SII"); ok {
		allocation, err = NewClusterBlockVector(m.vector.source, clusterSize, siiAlloc.Runs, siiAlloc.DataSize, siiAlloc.DataSize)
		if err != nil {
			return nil, ntfserr.Wrapf(err, "unable to build cluster block vector for $SII $INDEX_ALLOCATION")
		}
	}

	sii, err := NewIndex(siiRoot.Data, allocation)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to parse $SII index root")
	}

	sds, err := NewClusterBlockVector(m.vector.source, clusterSize, sdsAttr.Runs, sdsAttr.DataSize, sdsAttr.ValidDataSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to build cluster block vector for $SDS")
	}

	return &SecurityDescriptorIndex{sii: sii, sds: sds}, nil
}

// siiIndexData is the decoded SII_INDEX_DATA payload of a $SII index entry: Hash(4) + SecurityId(4) + Offset(8) +
// Length(4) bytes into $SDS.
type siiIndexData struct {
	SecurityId uint32
	Offset     uint64
	Length     uint32
}

func parseSiiIndexData(b []byte) (siiIndexData, error) {
	if len(b) < 20 {
		return siiIndexData{}, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "expected at least 20 bytes of $SII index data but got %d", len(b))
	}
	r := binutil.NewLittleEndianReader(b)
	return siiIndexData{
		SecurityId: r.Uint32(0x04),
		Offset:     r.Uint64(0x08),
		Length:     r.Uint32(0x10),
	}, nil
}

// Get returns the raw self-relative security descriptor bytes for id, or (nil, false, nil) if id is not present in
// the store. It verifies the $SDS entry's own header id against id, returning ntfserr.ErrCorruptSds on a mismatch
// (the $SII index pointed somewhere that does not actually describe this id).
func (s *SecurityDescriptorIndex) Get(id uint32) ([]byte, bool, error) {
	entry, found, err := s.sii.Find(encodeUint32Key(id))
	if err != nil {
		return nil, false, ntfserr.Wrapf(err, "unable to search $SII index for id %d", id)
	}
	if !found {
		return nil, false, nil
	}

	idxData, err := parseSiiIndexData(entry.Value)
	if err != nil {
		return nil, false, ntfserr.Wrapf(err, "unable to decode $SII index data for id %d", id)
	}

	raw, err := s.sds.ReadAt(int64(idxData.Offset), int(idxData.Length))
	if err != nil {
		return nil, false, ntfserr.Wrapf(err, "unable to read $SDS entry for id %d at offset %d", id, idxData.Offset)
	}
	if len(raw) < sdsHeaderSize {
		return nil, false, ntfserr.Wrapf(ntfserr.ErrCorruptSds, "$SDS entry for id %d is shorter than its header (%d bytes)", id, len(raw))
	}

	r := binutil.NewLittleEndianReader(raw)
	headerId := r.Uint32(0x04)
	if headerId != id {
		return nil, false, ntfserr.Wrapf(ntfserr.ErrCorruptSds, "$SDS entry header id %d does not match queried id %d", headerId, id)
	}

	return binutil.Duplicate(raw[sdsHeaderSize:]), true, nil
}
