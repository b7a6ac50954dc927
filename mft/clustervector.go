package mft

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/ntfserr"
)

// defaultClusterCacheSize bounds how many decoded cluster blocks a ClusterBlockVector keeps warm. Chosen generously
// enough to cover a directory listing's worth of $I30 index records without resizing per call.
const defaultClusterCacheSize = 256

// ClusterBlockVector presents a non-resident attribute's Runs as a flat, randomly-addressable byte stream: VCN-space
// reads are resolved against the run list, sparse runs are zero-filled without touching the underlying BlockSource,
// and materialised cluster blocks are kept in an LRU cache so repeated reads of the same cluster (e.g. revisiting an
// index node) don't re-read the volume.
type ClusterBlockVector struct {
	source        fragment.BlockSource
	clusterSize   uint64
	runs          []Run
	dataSize      uint64
	validDataSize uint64
	cache         *lru.Cache[uint64, []byte]
}

// NewClusterBlockVector builds a ClusterBlockVector over runs (as decoded by DecodeDataRuns), reading clusters of
// clusterSize bytes through source. dataSize and validDataSize come from the owning Attribute; pass dataSize for
// both when the caller doesn't need the valid-data-size zero-fill distinction (e.g. $INDEX_ALLOCATION).
func NewClusterBlockVector(source fragment.BlockSource, clusterSize uint64, runs []Run, dataSize uint64, validDataSize uint64) (*ClusterBlockVector, error) {
	if clusterSize == 0 {
		return nil, ntfserr.Wrap(ntfserr.ErrInvalidArgument, "cluster size must be greater than zero")
	}
	cache, err := lru.New[uint64, []byte](defaultClusterCacheSize)
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to create cluster block cache")
	}
	return &ClusterBlockVector{
		source:        source,
		clusterSize:   clusterSize,
		runs:          runs,
		dataSize:      dataSize,
		validDataSize: validDataSize,
		cache:         cache,
	}, nil
}

func (v *ClusterBlockVector) clusterBlockSize() uint64 {
	return v.clusterSize
}

// Get returns the decoded bytes of the clusterIndex'th cluster (VCN) in this vector's address space. Sparse runs
// return a zero-filled block without reading the BlockSource. Returns ntfserr.ErrOutOfBounds if clusterIndex is not
// covered by any run.
func (v *ClusterBlockVector) Get(clusterIndex uint64) ([]byte, error) {
	if block, ok := v.cache.Get(clusterIndex); ok {
		return block, nil
	}

	run, ok := v.findRun(clusterIndex)
	if !ok {
		return nil, ntfserr.Wrapf(ntfserr.ErrOutOfBounds, "cluster %d is not covered by any data run", clusterIndex)
	}

	if run.IsSparse {
		block := make([]byte, v.clusterSize)
		v.cache.Add(clusterIndex, block)
		return block, nil
	}

	lcn := run.LCNStart + (clusterIndex - run.VCNStart)
	block, err := v.source.ReadBufferAtOffset(lcn*v.clusterSize, int(v.clusterSize))
	if err != nil {
		return nil, ntfserr.Wrapf(err, "unable to read cluster %d (lcn %d)", clusterIndex, lcn)
	}
	v.cache.Add(clusterIndex, block)
	return block, nil
}

func (v *ClusterBlockVector) findRun(clusterIndex uint64) (Run, bool) {
	for _, run := range v.runs {
		if clusterIndex >= run.VCNStart && clusterIndex < run.VCNStart+run.Length {
			return run, true
		}
	}
	return Run{}, false
}

// ReadAt reads length bytes of logical attribute data starting at byte offset, spanning as many clusters as
// necessary. Bytes at or beyond ValidDataSize (but within DataSize) are zero-filled without touching the
// BlockSource, matching spec.md's valid-data-size semantics. A read that extends beyond DataSize returns
// ntfserr.ErrOutOfBounds.
func (v *ClusterBlockVector) ReadAt(offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, ntfserr.Wrapf(ntfserr.ErrInvalidArgument, "negative offset (%d) or length (%d)", offset, length)
	}
	start := uint64(offset)
	end := start + uint64(length)
	if end > v.dataSize {
		return nil, ntfserr.Wrapf(ntfserr.ErrOutOfBounds, "read [%d, %d) exceeds data size %d", start, end, v.dataSize)
	}

	out := make([]byte, length)
	if start >= v.validDataSize {
		return out, nil // entirely in the zero-filled tail
	}

	validEnd := end
	if validEnd > v.validDataSize {
		validEnd = v.validDataSize
	}

	firstCluster := start / v.clusterSize
	lastCluster := (validEnd - 1) / v.clusterSize
	for ci := firstCluster; ci <= lastCluster; ci++ {
		block, err := v.Get(ci)
		if err != nil {
			return nil, err
		}
		clusterStart := ci * v.clusterSize
		copyStart := uint64(0)
		if clusterStart < start {
			copyStart = start - clusterStart
		}
		copyEnd := v.clusterSize
		if clusterStart+copyEnd > validEnd {
			copyEnd = validEnd - clusterStart
		}
		if copyStart >= copyEnd {
			continue
		}
		destOffset := clusterStart + copyStart - start
		copy(out[destOffset:], block[copyStart:copyEnd])
	}
	return out, nil
}
