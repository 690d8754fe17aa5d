package ook

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// IQ is one complex baseband sample in fixed point
type IQ struct {
	I int16
	Q int16
}

// Format is the on-the-wire layout of raw IQ samples
type Format uint8

const (
	// FormatCU8 is unsigned 8-bit interleaved, as produced by rtl-sdr
	FormatCU8 Format = iota
	// FormatCS8 is signed 8-bit interleaved, as produced by hackrf
	FormatCS8
	// FormatCS16 is signed 16-bit little-endian interleaved
	FormatCS16
)

var formatNames = map[Format]string{
	FormatCU8:  "cu8",
	FormatCS8:  "cs8",
	FormatCS16: "cs16",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat accepts cu8, cs8 and cs16 in any case
func ParseFormat(s string) (Format, error) {
	for f, name := range formatNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown IQ format %q (want cu8, cs8 or cs16)", s)
}

// BytesPerSample is the size of one complex sample
func (f Format) BytesPerSample() int {
	if f == FormatCS16 {
		return 4
	}
	return 2
}

// Decode converts as many whole samples from src as fit in dst and
// returns how many were written. 8-bit formats are scaled to the int16
// range.
func (f Format) Decode(dst []IQ, src []byte) int {
	n := len(src) / f.BytesPerSample()
	if n > len(dst) {
		n = len(dst)
	}
	switch f {
	case FormatCU8:
		for i := 0; i < n; i++ {
			dst[i] = IQ{
				I: (int16(src[2*i]) - 128) << 8,
				Q: (int16(src[2*i+1]) - 128) << 8,
			}
		}
	case FormatCS8:
		for i := 0; i < n; i++ {
			dst[i] = IQ{
				I: int16(int8(src[2*i])) << 8,
				Q: int16(int8(src[2*i+1])) << 8,
			}
		}
	case FormatCS16:
		for i := 0; i < n; i++ {
			dst[i] = IQ{
				I: int16(binary.LittleEndian.Uint16(src[4*i:])),
				Q: int16(binary.LittleEndian.Uint16(src[4*i+2:])),
			}
		}
	default:
		return 0
	}
	return n
}

// Encode writes samples in this format, appending to dst. It is the
// inverse of Decode up to the 8-bit quantization.
func (f Format) Encode(dst []byte, src []IQ) []byte {
	switch f {
	case FormatCU8:
		for _, s := range src {
			dst = append(dst, byte(s.I>>8)+128, byte(s.Q>>8)+128)
		}
	case FormatCS8:
		for _, s := range src {
			dst = append(dst, byte(s.I>>8), byte(s.Q>>8))
		}
	case FormatCS16:
		for _, s := range src {
			dst = binary.LittleEndian.AppendUint16(dst, uint16(s.I))
			dst = binary.LittleEndian.AppendUint16(dst, uint16(s.Q))
		}
	}
	return dst
}
