package mft

import (
	"github.com/t9t/gontfs/bootsect"
	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/ntfserr"
)

// FileSystem is the top-level File System Orchestrator (spec.md §4.9): it binds the boot sector, the Master File
// Table, and the Security Descriptor Store into one read-only view of an NTFS volume. It holds no process-wide
// state and no lock; concurrent use is the caller's responsibility (see spec.md §5).
type FileSystem struct {
	boot     bootsect.BootSector
	mft      *MFT
	security *SecurityDescriptorIndex
}

// bootSectorSize is the fixed size of the region read to parse the boot sector; bootsect.Parse only looks at the
// first 80 bytes but NTFS reserves a full sector for it.
const bootSectorSize = 512

// Open parses the boot sector at the start of source, bootstraps the Master File Table from it, and opens the
// Security Descriptor Store from $Secure (MFT entry 9).
func Open(source fragment.BlockSource) (*FileSystem, error) {
	rawBoot, err := source.ReadBufferAtOffset(0, bootSectorSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read boot sector")
	}
	boot, err := bootsect.Parse(rawBoot)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to parse boot sector")
	}

	table, err := OpenMFT(source, boot)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to open MFT")
	}

	security, err := OpenSecurityDescriptorIndex(table)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to open security descriptor store")
	}

	return &FileSystem{boot: boot, mft: table, security: security}, nil
}

// BootSector returns the volume's parsed boot sector.
func (fs *FileSystem) BootSector() bootsect.BootSector {
	return fs.boot
}

// NumberOfMftEntries returns the number of entry slots in the Master File Table.
func (fs *FileSystem) NumberOfMftEntries() uint64 {
	return fs.mft.Count()
}

// MftEntryByIndex returns the parsed Record at index, using the MFT's entry cache.
func (fs *FileSystem) MftEntryByIndex(index uint64) (Record, error) {
	return fs.mft.Entry(index)
}

// MftEntryByIndexNoCache returns the parsed Record at index without touching the MFT's entry cache.
func (fs *FileSystem) MftEntryByIndexNoCache(index uint64) (Record, error) {
	return fs.mft.EntryNoCache(index)
}

// SecurityDescriptorByID looks up the raw self-relative security descriptor bytes for a $Secure security id, as
// recorded in a $STANDARD_INFORMATION attribute's SecurityId field. On a volume whose entry 9 isn't actually
// $Secure (see OpenSecurityDescriptorIndex), every id reports not-found rather than erroring.
func (fs *FileSystem) SecurityDescriptorByID(id uint32) ([]byte, bool, error) {
	if fs.security == nil {
		return nil, false, nil
	}
	return fs.security.Get(id)
}

// DirectoryIndex opens the $I30 B+-tree index of the directory at entryIndex, ready for Find/Iterate.
func (fs *FileSystem) DirectoryIndex(entryIndex uint64) (*Index, error) {
	record, err := fs.mft.Entry(entryIndex)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read entry %d", entryIndex)
	}
	if !record.Flags.Is(RecordFlagIsDirectory) {
		return nil, ntfserr.Wrapf(ntfserr.ErrInvalidArgument, "entry %d is not a directory", entryIndex)
	}

	root, ok := record.FindAttributeByName(AttributeTypeIndexRoot, "$I30")
	if !ok {
		return nil, ntfserr.Wrapf(ntfserr.ErrCorruptRecord, "entry %d has no $I30 $INDEX_ROOT attribute", entryIndex)
	}

	var allocation *ClusterBlockVector
	if allocAttr, ok := record.FindAttributeByName(AttributeTypeIndexAllocation, "$I30"); ok {
		allocation, err = NewClusterBlockVector(fs.mft.vector.source, fs.mft.vector.clusterBlockSize(), allocAttr.Runs, allocAttr.DataSize, allocAttr.DataSize)
		if err != nil {
			return nil, ntfserr.Wrapf(err, "unable to build cluster block vector for entry %d's $I30 $INDEX_ALLOCATION", entryIndex)
		}
	}

	return NewIndex(root.Data, allocation)
}

// VolumeVersion returns the NTFS version (major, minor) reported by the $VOLUME_INFORMATION attribute on MFT
// entry 3 ($Volume).
func (fs *FileSystem) VolumeVersion() (major byte, minor byte, err error) {
	volume, err := fs.mft.Entry(EntryIndexVolume)
	if err != nil {
		return 0, 0, ntfserr.Wrapf(err, "unable to read $Volume entry")
	}
	attr, ok := volume.FindAttributeByName(AttributeTypeVolumeInformation, "")
	if !ok {
		return 0, 0, ntfserr.Wrap(ntfserr.ErrCorruptRecord, "$Volume entry has no $VOLUME_INFORMATION attribute")
	}
	info, err := ParseVolumeInformation(attr.Data)
	if err != nil {
		return 0, 0, ntfserr.Wrapf(err, "unable to parse $VOLUME_INFORMATION")
	}
	return info.MajorVersion, info.MinorVersion, nil
}

// AllocatedClusterRanges scans the volume's $Bitmap (MFT entry 6) and invokes onRange once per maximal run of
// contiguously-allocated clusters, in ascending order. It materialises the full bitmap into memory (one bit per
// cluster; for example a 32GB volume at 4KB clusters has an ~1MB bitmap).
func (fs *FileSystem) AllocatedClusterRanges(onRange func(fragment.AllocatedRange)) error {
	bitmapEntry, err := fs.mft.Entry(EntryIndexBitmap)
	if err != nil {
		return ntfserr.Wrapf(err, "unable to read $Bitmap entry")
	}
	attr, ok := bitmapEntry.FindAttributeByName(AttributeTypeBitmap, "")
	if !ok {
		return ntfserr.Wrap(ntfserr.ErrCorruptRecord, "$Bitmap entry has no $BITMAP attribute")
	}

	var data []byte
	if attr.Resident {
		data = attr.Data
	} else {
		vector, err := NewClusterBlockVector(fs.mft.vector.source, fs.mft.vector.clusterBlockSize(), attr.Runs, attr.DataSize, attr.ValidDataSize)
		if err != nil {
			return ntfserr.Wrapf(err, "unable to build cluster block vector for $BITMAP")
		}
		data, err = vector.ReadAt(0, int(attr.DataSize))
		if err != nil {
			return ntfserr.Wrapf(err, "unable to read $BITMAP data")
		}
	}

	fragment.ScanAllocatedRanges(data, onRange)
	return nil
}
