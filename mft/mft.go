package mft

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/t9t/gontfs/bootsect"
	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/ntfserr"
)

// defaultEntryCacheSize bounds how many parsed Records an MFT keeps warm. Entry 9 ($Secure) and entry 0 ($MFT
// itself) are re-read constantly by the orchestrator; a small cache avoids re-parsing them on every lookup.
const defaultEntryCacheSize = 128

// MFT is the NTFS Master File Table: a self-describing, entry-indexed store of Records. "Self-describing" means
// the table's own size and layout are found by reading entry 0 ($MFT), whose $DATA attribute's data runs describe
// where the rest of the table lives on the volume.
type MFT struct {
	vector    *ClusterBlockVector
	entrySize uint64
	count     uint64
	cache     *lru.Cache[uint64, Record]
	mftOnly   bool
}

// OpenMFT builds an MFT by bootstrapping off the volume's boot sector: it reads entry 0 directly through source at
// boot.MftOffset(), parses its $DATA runs, and builds a ClusterBlockVector spanning the full table.
func OpenMFT(source fragment.BlockSource, boot bootsect.BootSector) (*MFT, error) {
	entrySize := uint64(boot.FileRecordSegmentSizeInBytes)
	clusterSize := uint64(boot.ClusterBlockSize())

	rawEntry0, err := source.ReadBufferAtOffset(boot.MftOffset(), int(entrySize))
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read MFT entry 0 at offset %d", boot.MftOffset())
	}
	entry0, err := ParseRecord(rawEntry0)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to parse MFT entry 0")
	}

	dataAttr, ok := entry0.FindAttributeByName(AttributeTypeData, "")
	if !ok {
		return nil, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "MFT entry 0 has no unnamed $DATA attribute")
	}
	if dataAttr.Resident {
		return nil, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "MFT entry 0's $DATA attribute must be non-resident")
	}

	vector, err := NewClusterBlockVector(source, clusterSize, dataAttr.Runs, dataAttr.DataSize, dataAttr.ValidDataSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to build cluster block vector for MFT")
	}

	return newMFT(vector, entrySize, dataAttr.DataSize/entrySize, false)
}

// OpenMftOnly builds an MFT directly over raw, already-extracted $MFT bytes (for example a forensic $MFT file
// export with no accompanying volume image to resolve other files' data against). The whole file is treated as one
// contiguous, non-sparse run; reads against any other attribute's data runs elsewhere in the codebase will still
// fail since this mode has no BlockSource for the rest of the volume. This mirrors the MFT-only workflow common to
// NTFS forensics tools: the table is still fully parseable without clusterBlockSize or the volume being available.
func OpenMftOnly(source fragment.BlockSource, rawMftDataSize uint64, entrySize uint64) (*MFT, error) {
	runs := []Run{{VCNStart: 0, LCNStart: 0, Length: 1, IsSparse: false}}
	// clusterSize is irrelevant in this mode since there is exactly one run covering the entire data: treat the
	// whole blob as a single "cluster" so byte offsets map 1:1 onto the source.
	vector, err := NewClusterBlockVector(source, rawMftDataSize, runs, rawMftDataSize, rawMftDataSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to build cluster block vector for MFT-only mode")
	}
	return newMFT(vector, entrySize, rawMftDataSize/entrySize, true)
}

func newMFT(vector *ClusterBlockVector, entrySize uint64, count uint64, mftOnly bool) (*MFT, error) {
	if entrySize == 0 {
		return nil, ntfserr.Wrap(ntfserr.ErrInvalidArgument, "entry size must be greater than zero")
	}
	cache, err := lru.New[uint64, Record](defaultEntryCacheSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to create MFT entry cache")
	}
	return &MFT{vector: vector, entrySize: entrySize, count: count, cache: cache, mftOnly: mftOnly}, nil
}

// Count returns the number of entry slots in the table (including unused/deleted ones).
func (m *MFT) Count() uint64 {
	return m.count
}

// MftOnly reports whether this MFT was opened via OpenMftOnly (no access to the rest of the volume).
func (m *MFT) MftOnly() bool {
	return m.mftOnly
}

// Entry returns the parsed, fully merged Record at index, using (and populating) the entry cache. Any
// $ATTRIBUTE_LIST attribute the record carries is resolved first (see mergeAttributeList), so the cached Record's
// Attributes chain is always complete.
func (m *MFT) Entry(index uint64) (Record, error) {
	if record, ok := m.cache.Get(index); ok {
		return record, nil
	}
	record, err := m.EntryNoCache(index)
	if err != nil {
		return Record{}, err
	}
	m.cache.Add(index, record)
	return record, nil
}

// EntryNoCache returns the parsed, fully merged Record at index without consulting or populating the entry cache.
// Useful for one-off scans (e.g. walking the whole table) that would otherwise evict useful cache entries.
func (m *MFT) EntryNoCache(index uint64) (Record, error) {
	record, err := m.readRecord(index)
	if err != nil {
		return Record{}, err
	}
	return m.mergeAttributeList(record, map[uint64]bool{index: true})
}

// readRecord reads and parses the raw Record at index, without resolving any $ATTRIBUTE_LIST attribute it may carry.
func (m *MFT) readRecord(index uint64) (Record, error) {
	if index >= m.count {
		return Record{}, ntfserr.Wrapf(ntfserr.ErrOutOfBounds, "entry index %d exceeds entry count %d", index, m.count)
	}
	raw, err := m.vector.ReadAt(int64(index*m.entrySize), int(m.entrySize))
	if err != nil {
		return Record{}, ntfserr.Wrapf(err, "unable to read entry %d", index)
	}
	record, err := ParseRecord(raw)
	if err != nil {
		return Record{}, ntfserr.Wrapf(err, "unable to parse entry %d", index)
	}
	return record, nil
}

// mergeAttributeList resolves rec's $ATTRIBUTE_LIST attribute, if any, by following each entry's base record
// reference to its extension MFT entry and splicing the referenced attribute into rec's own attribute chain,
// producing one flat chain ordered by (type, name, first VCN). This is the only recursive cross-entry dependency in
// the table: an extension entry can itself carry an $ATTRIBUTE_LIST (pointing back at the base record, or at a
// further extension), so visited tracks every record number already being merged along this chain and a reference
// back into it is silently skipped rather than re-followed.
func (m *MFT) mergeAttributeList(rec Record, visited map[uint64]bool) (Record, error) {
	listAttr, ok := rec.FindAttributeByName(AttributeTypeAttributeList, "")
	if !ok {
		return rec, nil
	}

	listData, err := m.attributeValue(listAttr)
	if err != nil {
		return Record{}, ntfserr.Wrapf(err, "unable to read $ATTRIBUTE_LIST data")
	}
	entries, err := ParseAttributeList(listData)
	if err != nil {
		return Record{}, ntfserr.Wrapf(err, "unable to parse $ATTRIBUTE_LIST")
	}

	merged := make([]Attribute, len(rec.Attributes))
	copy(merged, rec.Attributes)
	present := map[attributeKey]bool{}
	for _, a := range merged {
		present[attributeKeyOf(a)] = true
	}

	for _, entry := range entries {
		extRecordNumber := entry.BaseRecordReference.RecordNumber
		if extRecordNumber == rec.FileReference.RecordNumber || visited[extRecordNumber] {
			continue
		}
		visited[extRecordNumber] = true

		extRaw, err := m.readRecord(extRecordNumber)
		if err != nil {
			return Record{}, ntfserr.Wrapf(err, "unable to read extension entry %d referenced by $ATTRIBUTE_LIST", extRecordNumber)
		}
		extRec, err := m.mergeAttributeList(extRaw, visited)
		if err != nil {
			return Record{}, err
		}

		for _, a := range extRec.Attributes {
			if a.Type != entry.Type || a.AttributeId != int(entry.AttributeId) {
				continue
			}
			key := attributeKeyOf(a)
			if present[key] {
				continue
			}
			present[key] = true
			merged = append(merged, a)
		}
	}

	sortAttributesByTypeNameVCN(merged)
	rec.Attributes = merged
	rec.indexAttributes()
	return rec, nil
}

// attributeValue returns an attribute's value bytes regardless of residency, materialising non-resident data through
// a one-off ClusterBlockVector scoped to that attribute's own runs.
func (m *MFT) attributeValue(a Attribute) ([]byte, error) {
	if a.Resident {
		return a.Data, nil
	}
	vector, err := NewClusterBlockVector(m.vector.source, m.vector.clusterBlockSize(), a.Runs, a.DataSize, a.ValidDataSize)
	if err != nil {
		return nil, err
	}
	return vector.ReadAt(0, int(a.DataSize))
}

// attributeKey identifies one attribute instance for merge deduplication: (type, name, first VCN) matches spec.md's
// ordering rule for a merged chain and is also specific enough to tell apart same-type, same-name non-resident
// attribute fragments split across multiple $ATTRIBUTE_LIST entries (e.g. a heavily fragmented $DATA stream).
type attributeKey struct {
	Type     AttributeType
	Name     string
	FirstVCN uint64
}

func attributeKeyOf(a Attribute) attributeKey {
	return attributeKey{Type: a.Type, Name: a.Name, FirstVCN: a.FirstVCN}
}

func sortAttributesByTypeNameVCN(attrs []Attribute) {
	sort.Slice(attrs, func(i, j int) bool {
		a, b := attrs[i], attrs[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.FirstVCN < b.FirstVCN
	})
}

// Well-known MFT entry indices, per spec.md §3.
const (
	EntryIndexMft          uint64 = 0
	EntryIndexMftMirr      uint64 = 1
	EntryIndexLogFile      uint64 = 2
	EntryIndexVolume       uint64 = 3
	EntryIndexAttrDef      uint64 = 4
	EntryIndexRoot         uint64 = 5
	EntryIndexBitmap       uint64 = 6
	EntryIndexBoot         uint64 = 7
	EntryIndexBadClus      uint64 = 8
	EntryIndexSecure       uint64 = 9
	EntryIndexUpCase       uint64 = 10
	EntryIndexExtend       uint64 = 11
)
