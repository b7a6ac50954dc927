package mft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t9t/gontfs/mft"
)

func repeatingClusterData(clusterCount int, clusterSize int) []byte {
	data := make([]byte, clusterCount*clusterSize)
	for i := range data {
		data[i] = byte(i / clusterSize)
	}
	return data
}

func TestClusterBlockVectorGetAndReadAt(t *testing.T) {
	const clusterSize = 64
	source := fakeBlockSource{data: repeatingClusterData(4, clusterSize)}
	runs := []mft.Run{{VCNStart: 0, LCNStart: 0, Length: 4, IsSparse: false}}

	vector, err := mft.NewClusterBlockVector(source, clusterSize, runs, 4*clusterSize, 4*clusterSize)
	require.Nilf(t, err, "unable to build vector: %v", err)

	block, err := vector.Get(2)
	require.Nilf(t, err, "unable to get cluster: %v", err)
	assert.Equal(t, byte(2), block[0])

	data, err := vector.ReadAt(clusterSize+10, 20)
	require.Nilf(t, err, "unable to read: %v", err)
	assert.Equal(t, byte(1), data[0])
}

func TestClusterBlockVectorSparseRun(t *testing.T) {
	const clusterSize = 32
	runs := []mft.Run{
		{VCNStart: 0, LCNStart: 0, Length: 1, IsSparse: false},
		{VCNStart: 1, LCNStart: 0, Length: 1, IsSparse: true},
	}
	source := fakeBlockSource{data: repeatingClusterData(1, clusterSize)}

	vector, err := mft.NewClusterBlockVector(source, clusterSize, runs, 2*clusterSize, 2*clusterSize)
	require.Nilf(t, err, "unable to build vector: %v", err)

	block, err := vector.Get(1)
	require.Nilf(t, err, "unable to get sparse cluster: %v", err)
	for _, b := range block {
		assert.Equal(t, byte(0), b)
	}
}

func TestClusterBlockVectorValidDataSizeZeroFill(t *testing.T) {
	const clusterSize = 16
	runs := []mft.Run{{VCNStart: 0, LCNStart: 0, Length: 2, IsSparse: false}}
	raw := make([]byte, 2*clusterSize)
	for i := range raw {
		raw[i] = 0xAB // would be returned verbatim if valid-data-size zero-fill didn't apply
	}
	source := fakeBlockSource{data: raw}

	vector, err := mft.NewClusterBlockVector(source, clusterSize, runs, 2*clusterSize, clusterSize)
	require.Nilf(t, err, "unable to build vector: %v", err)

	data, err := vector.ReadAt(0, 2*clusterSize)
	require.Nilf(t, err, "unable to read: %v", err)
	assert.Equal(t, byte(0xAB), data[0])
	for i := clusterSize; i < 2*clusterSize; i++ {
		assert.Equal(t, byte(0), data[i])
	}
}

func TestClusterBlockVectorReadAtBeyondDataSize(t *testing.T) {
	const clusterSize = 16
	runs := []mft.Run{{VCNStart: 0, LCNStart: 0, Length: 1, IsSparse: false}}
	source := fakeBlockSource{data: repeatingClusterData(1, clusterSize)}

	vector, err := mft.NewClusterBlockVector(source, clusterSize, runs, clusterSize, clusterSize)
	require.Nilf(t, err, "unable to build vector: %v", err)

	_, err = vector.ReadAt(0, clusterSize+1)
	assert.NotNil(t, err)
}

func TestClusterBlockVectorGetUncoveredCluster(t *testing.T) {
	const clusterSize = 16
	runs := []mft.Run{{VCNStart: 0, LCNStart: 0, Length: 1, IsSparse: false}}
	source := fakeBlockSource{data: repeatingClusterData(1, clusterSize)}

	vector, err := mft.NewClusterBlockVector(source, clusterSize, runs, clusterSize, clusterSize)
	require.Nilf(t, err, "unable to build vector: %v", err)

	_, err = vector.Get(5)
	assert.NotNil(t, err)
}

func TestNewClusterBlockVectorZeroClusterSize(t *testing.T) {
	_, err := mft.NewClusterBlockVector(fakeBlockSource{}, 0, nil, 0, 0)
	assert.NotNil(t, err)
}
