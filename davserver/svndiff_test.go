package davserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSvndiff0SmallWindow(t *testing.T) {
	data := []byte("hello")
	got := svndiff0(data)

	want := []byte{'S', 'V', 'N', 0,
		0,          // source view offset
		0,          // source view length
		5,          // target view length
		1,          // instruction length
		5,          // new data length
		0x80 | 5,   // copy 5 bytes from new data
		'h', 'e', 'l', 'l', 'o'}
	assert.Equal(t, want, got)
}

func TestSvndiff0Empty(t *testing.T) {
	assert.Equal(t, []byte{'S', 'V', 'N', 0}, svndiff0(nil))
}

func TestSvndiff0LargeLength(t *testing.T) {
	data := bytes.Repeat([]byte{'x'}, 200)
	got := svndiff0(data)
	assert.True(t, bytes.HasPrefix(got, []byte{'S', 'V', 'N', 0}))
	// 200 = 0b11001000 -> varint 0x81 0x48
	assert.Equal(t, []byte{0x81, 0x48}, svndiffInt(200))
	// The instruction carries the length out of line when it exceeds six
	// bits.
	i := bytes.Index(got, []byte{0x80, 0x81, 0x48})
	assert.GreaterOrEqual(t, i, 4)
	assert.True(t, bytes.HasSuffix(got, data))
}

func TestSvndiffInt(t *testing.T) {
	assert.Equal(t, []byte{0}, svndiffInt(0))
	assert.Equal(t, []byte{0x7f}, svndiffInt(127))
	assert.Equal(t, []byte{0x81, 0x00}, svndiffInt(128))
}
