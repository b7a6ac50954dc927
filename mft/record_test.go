package mft_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t9t/gontfs/mft"
)

func TestParseFileReference(t *testing.T) {
	ref, err := mft.ParseFileReference([]byte{26, 179, 6, 0, 0, 0, 45, 0})
	require.Nilf(t, err, "error parsing reference: %v", err)
	expected := mft.FileReference{RecordNumber: 439066, SequenceNumber: 45}
	assert.Equal(t, expected, ref)
}

func TestParseFileReferenceWrongLength(t *testing.T) {
	_, err := mft.ParseFileReference([]byte{1, 2, 3})
	assert.NotNil(t, err)
}

func TestRecordFlag(t *testing.T) {
	f := mft.RecordFlag(0)
	assert.False(t, f.Is(mft.RecordFlagInUse))
	assert.False(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(1)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.False(t, f.Is(mft.RecordFlagIsDirectory))

	f = mft.RecordFlag(3)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.True(t, f.Is(mft.RecordFlagIsDirectory))
	assert.False(t, f.Is(mft.RecordFlagInExtend))
	assert.False(t, f.Is(mft.RecordFlagIsIndex))

	f = mft.RecordFlag(15)
	assert.True(t, f.Is(mft.RecordFlagInUse))
	assert.True(t, f.Is(mft.RecordFlagIsDirectory))
	assert.True(t, f.Is(mft.RecordFlagInExtend))
	assert.True(t, f.Is(mft.RecordFlagIsIndex))
}

func TestParseRecordUnknownSignature(t *testing.T) {
	b := make([]byte, 64)
	copy(b, "XXXX")
	_, err := mft.ParseRecord(b)
	assert.NotNil(t, err)
}

func TestParseRecordBaadSignature(t *testing.T) {
	b := make([]byte, 64)
	copy(b, "BAAD")
	_, err := mft.ParseRecord(b)
	assert.NotNil(t, err)
}

func TestParseRecordTooShort(t *testing.T) {
	_, err := mft.ParseRecord(make([]byte, 10))
	assert.NotNil(t, err)
}

func TestParseRecordResolvesFileNameAndDataIndices(t *testing.T) {
	parent := mft.FileReference{RecordNumber: 5, SequenceNumber: 1}
	dosName := buildFileNameValue(parent, 0, 0, 0x02, byte(mft.FileNameNamespaceDos), "HELLO~1.TXT")
	win32Name := buildFileNameValue(parent, 4096, 11, 0x20, byte(mft.FileNameNamespaceWin32), "hello.txt")

	attrs := append(buildResidentAttribute(uint32(mft.AttributeTypeFileName), 4, "", dosName),
		buildResidentAttribute(uint32(mft.AttributeTypeFileName), 5, "", win32Name)...)
	attrs = append(attrs, buildResidentAttribute(uint32(mft.AttributeTypeData), 6, "", []byte("hello, world"))...)

	b := buildRecordBytes(1024, 12, 0x0001, attrs)
	record, err := mft.ParseRecord(b)
	require.Nilf(t, err, "error parsing record: %v", err)

	assert.Equal(t, uint64(12), record.FileReference.RecordNumber)
	assert.True(t, record.Flags.Is(mft.RecordFlagInUse))
	assert.False(t, record.Flags.Is(mft.RecordFlagIsDirectory))

	require.NotEqual(t, -1, record.FileNameAttributeIndex)
	preferred, err := mft.ParseFileName(record.Attributes[record.FileNameAttributeIndex].Data)
	require.Nilf(t, err, "error parsing file name: %v", err)
	assert.Equal(t, "hello.txt", preferred.Name)

	require.NotEqual(t, -1, record.DataAttributeIndex)
	assert.Equal(t, []byte("hello, world"), record.Attributes[record.DataAttributeIndex].Data)
}

func TestParseRecordRejectsAttributesOutOfOrder(t *testing.T) {
	attrs := append(buildResidentAttribute(uint32(mft.AttributeTypeData), 4, "", []byte("x")),
		buildResidentAttribute(uint32(mft.AttributeTypeStandardInformation), 5, "", make([]byte, 48))...)
	b := buildRecordBytes(1024, 1, 0x0001, attrs)
	_, err := mft.ParseRecord(b)
	assert.NotNil(t, err)
}

func TestRecordFindAttributeByName(t *testing.T) {
	attrs := buildResidentAttribute(uint32(mft.AttributeTypeData), 0, "foo", []byte("bar"))
	b := buildRecordBytes(1024, 2, 0x0001, attrs)
	record, err := mft.ParseRecord(b)
	require.Nilf(t, err, "error parsing record: %v", err)

	attr, ok := record.FindAttributeByName(mft.AttributeTypeData, "foo")
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), attr.Data)

	_, ok = record.FindAttributeByName(mft.AttributeTypeData, "")
	assert.False(t, ok)
}
