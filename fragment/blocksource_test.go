package fragment_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/t9t/gontfs/fragment"
	"github.com/t9t/gontfs/ntfserr"
)

func TestReaderAtBlockSource_Read(t *testing.T) {
	src := fragment.ReaderAtBlockSource{R: bytes.NewReader([]byte("hello, world"))}
	got, err := src.ReadBufferAtOffset(7, 5)
	assert.NoError(t, err)
	assert.Equal(t, []byte("world"), got)
}

func TestReaderAtBlockSource_ShortRead(t *testing.T) {
	src := fragment.ReaderAtBlockSource{R: bytes.NewReader([]byte("short"))}
	_, err := src.ReadBufferAtOffset(0, 100)
	assert.ErrorIs(t, err, ntfserr.ErrIo)
}
