package ook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{FormatCU8, FormatCS8, FormatCS16} {
		var got, err = ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	var got, err = ParseFormat("CS16")
	require.NoError(t, err)
	assert.Equal(t, FormatCS16, got)

	_, err = ParseFormat("f32")
	assert.Error(t, err)
}

func TestDecodeCU8(t *testing.T) {
	var dst [3]IQ
	var n = FormatCU8.Decode(dst[:], []byte{0x80, 0x80, 0xFF, 0x00, 0x81, 0x7F, 0x42})

	assert.Equal(t, 3, n, "trailing odd byte is not a sample")
	assert.Equal(t, IQ{0, 0}, dst[0])
	assert.Equal(t, IQ{127 << 8, -128 << 8}, dst[1])
	assert.Equal(t, IQ{1 << 8, -1 << 8}, dst[2])
}

func TestDecodeCS8(t *testing.T) {
	var dst [2]IQ
	var n = FormatCS8.Decode(dst[:], []byte{0x80, 0x7F, 0xFF, 0x01})

	assert.Equal(t, 2, n)
	assert.Equal(t, IQ{-32768, 127 << 8}, dst[0])
	assert.Equal(t, IQ{-256, 256}, dst[1])
}

func TestDecodeCS16(t *testing.T) {
	var dst [4]IQ
	var n = FormatCS16.Decode(dst[:], []byte{0x34, 0x12, 0xFF, 0xFF})

	assert.Equal(t, 1, n)
	assert.Equal(t, IQ{0x1234, -1}, dst[0])
}

func TestDecodeStopsAtDst(t *testing.T) {
	var dst [1]IQ
	assert.Equal(t, 1, FormatCU8.Decode(dst[:], make([]byte, 10)))
}

func TestEncodeDecode(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var f = rapid.SampledFrom([]Format{FormatCU8, FormatCS8, FormatCS16}).Draw(t, "format")
		var raw = rapid.SliceOf(rapid.Byte()).Draw(t, "raw")
		raw = raw[:len(raw)/f.BytesPerSample()*f.BytesPerSample()]

		var iq = make([]IQ, len(raw)/f.BytesPerSample())
		var n = f.Decode(iq, raw)
		require.Equal(t, len(iq), n)

		assert.Equal(t, raw, f.Encode(make([]byte, 0, len(raw)), iq))
	})
}
