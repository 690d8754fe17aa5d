package subcartest

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

// ErrUnencodable is returned for packets no transmitter of the protocol
// could have sent, such as a Suzuki key without the 0xF maker nibble.
var ErrUnencodable = errors.New("packet cannot be encoded")

func unencodable(p subcar.Packet, why string) error {
	return fmt.Errorf("%s %016X/%016X: %s: %w", p.Protocol, p.Data, p.Data2, why, ErrUnencodable)
}

// Encode builds the canonical pulse train that decodes to p
func Encode(p subcar.Packet) (Train, error) {
	switch p.Protocol {
	case subcar.ProtoSuzuki:
		if p.Data>>60 != 0xF {
			return nil, unencodable(p, "maker nibble must be 0xF")
		}
		return Suzuki(p.Data), nil
	case subcar.ProtoVW:
		if p.Data2>>15&1 == 0 || p.Data2 > 0xFFFF {
			return nil, unencodable(p, "type byte must have its top bit set")
		}
		return VW(byte(p.Data2>>8), p.Data, byte(p.Data2)), nil
	case subcar.ProtoSubaru:
		return Subaru(p.Data), nil
	case subcar.ProtoKiaV5:
		return KiaV5(p.Data), nil
	case subcar.ProtoKiaV3V4:
		if p.Data2 > 1 {
			return nil, unencodable(p, "variant must be 0 (V4) or 1 (V3)")
		}
		return KiaV3V4(p.Data, p.Data2 == 1), nil
	case subcar.ProtoKiaV2:
		n := int(p.BitCount)
		if n < 51 || n > 53 || p.Data>>uint(n-1) != 1 {
			return nil, unencodable(p, "need 51-53 bits with the first bit set")
		}
		return KiaV2(p.Data, n), nil
	case subcar.ProtoKiaV1:
		if p.Data>>55 != 1 {
			return nil, unencodable(p, "need 56 bits with the first bit set")
		}
		return KiaV1(p.Data), nil
	case subcar.ProtoKiaV0:
		if p.Data>>60 != 1 {
			return nil, unencodable(p, "need 61 bits with the first bit set")
		}
		return KiaV0(p.Data), nil
	case subcar.ProtoFordV0:
		if p.Data>>62 != 1 || p.Data2 > 0xFFFF {
			return nil, unencodable(p, "key must start with bits 01")
		}
		return FordV0(p.Data, uint16(p.Data2)), nil
	case subcar.ProtoFiatV0:
		if p.Data>>63 != 0 || p.Data2 > 0x7F {
			return nil, unencodable(p, "key must start with 0 and end field fit 7 bits")
		}
		return FiatV0(p.Data, byte(p.Data2)), nil
	case subcar.ProtoBMWV0:
		n := int(p.BitCount)
		if n < 61 || n > 64 || (n < 64 && p.Data>>uint(n) != 0) || p.Data2 != 0 {
			return nil, unencodable(p, "need 61-64 bits")
		}
		return BMWV0(p.Data, n), nil
	}
	return nil, unencodable(p, "unknown protocol")
}

// Suzuki: 257+ short pulses, then the key as long(1)/short(0) highs
// separated by short lows, closed by a 2 ms low. The key's first bit must
// be 1.
func Suzuki(key uint64) Train {
	b := &builder{}
	b.high(250)
	for i := 0; i < 260; i++ {
		b.low(250)
		if i < 259 {
			b.high(250)
		}
	}
	for i := 63; i >= 0; i-- {
		if bit(key, i) {
			b.high(500)
		} else {
			b.high(250)
		}
		if i > 0 {
			b.low(250)
		}
	}
	return b.low(2000).train()
}

// VW: 43 short sync pairs, the long/short/medium start pattern, then
// type, key and check byte Manchester coded at 500 µs. The type byte's
// top bit must be set.
func VW(typ byte, key uint64, check byte) Train {
	b := &builder{}
	for i := 0; i < 43; i++ {
		b.high(500).low(500)
	}
	b.high(1000).low(500).high(750).low(750)
	b.manchester(uint64(typ), 8, 500, false)
	b.manchester(key, 64, 500, false)
	b.manchester(uint64(check), 8, 500, false)
	return b.low(6000).train()
}

// Subaru: long preamble, 2.5 ms gap and sync, then the key as short(1)/
// long(0) highs separated by short lows, closed by a 4 ms low.
func Subaru(key uint64) Train {
	b := &builder{}
	b.high(1600).pairs(11, 1600, 1600)
	b.low(2500).high(2500).low(1600)
	for i := 63; i >= 0; i-- {
		if bit(key, i) {
			b.high(800)
		} else {
			b.high(1600)
		}
		if i > 0 {
			b.low(800)
		}
	}
	return b.low(4000).train()
}

// pulsePairs: short pairs for the preamble, one long sync pair, then one
// high/low pair per bit and a long closing high.
func pulsePairs(v uint64, n int, short, long, endHigh uint32) Train {
	b := &builder{}
	b.high(short).pairs(15, short, short)
	b.low(short).high(long).low(long)
	for i := n - 1; i >= 0; i-- {
		d := short
		if bit(v, i) {
			d = long
		}
		b.high(d).low(d)
	}
	return b.high(endHigh).train()
}

// KiaV0: 61-bit frame whose first bit, always 1, is the sync pair
func KiaV0(v uint64) Train {
	return pulsePairs(v, 60, 250, 500, 1000)
}

// BMWV0: n-bit pulse-pair frame
func BMWV0(v uint64, n int) Train {
	return pulsePairs(v, n, 350, 700, 1000)
}

// KiaV1: long preamble, short low sync, then 56 Manchester bits at
// 800 µs. The first bit must be 1; its high half is the sync high.
func KiaV1(key uint64) Train {
	b := &builder{}
	b.high(1600).pairs(8, 1600, 1600).low(800)
	b.manchester(key, 56, 800, false)
	// the decoder wants one half-symbol past the payload
	if b.t[len(b.t)-1].Level {
		b.low(800)
	}
	return b.end(800, 4000)
}

// KiaV2: long preamble, short high/low sync, then n Manchester bits at
// 500 µs. The first bit must be 1.
func KiaV2(key uint64, n int) Train {
	b := &builder{}
	b.high(1000).pairs(5, 1000, 1000).low(1000).high(500).low(500)
	b.manchester(key, n, 500, false)
	return b.end(500, 2000)
}

// KiaV5: short preamble, long low sync, two filler half-symbols, then the
// key least significant bit first, coded 01=1 10=0 at 400 µs.
func KiaV5(key uint64) Train {
	b := &builder{}
	b.high(400).pairs(41, 400, 400).low(800)
	b.high(400).low(400)
	b.manchester(bits.Reverse64(key), 64, 400, true)
	return b.end(400, 2000)
}

// KiaV3V4: short preamble, a 1.2 ms sync (high for V4, low for V3), then
// the key as short(0)/long(1) highs. V3 sends the key inverted.
func KiaV3V4(key uint64, v3 bool) Train {
	b := &builder{}
	b.high(400).pairs(8, 400, 400)
	if v3 {
		b.low(1200)
		key = ^key
	} else {
		b.low(400).high(1200).low(400)
	}
	for i := 63; i >= 0; i-- {
		if bit(key, i) {
			b.high(800)
		} else {
			b.high(400)
		}
		if i > 0 {
			b.low(400)
		}
	}
	return b.low(2000).train()
}

// FordV0: long preamble, 3.5 ms gap, then the inverted 64-bit key1 and
// 16-bit key2 Manchester coded at 250 µs with swapped polarity. The first
// frame bit is implied by the gap, so ^key1 must start with bits 10.
func FordV0(key1 uint64, key2 uint16) Train {
	b := &builder{}
	b.high(250).pairs(4, 500, 500).low(500).high(250).low(3500)
	b.manchester(^key1, 63, 250, true)
	b.manchester(uint64(^key2), 16, 250, true)
	return b.end(250, 5000)
}

// FiatV0: 150 short preamble pulses, an 800 µs low, then the key and a
// 7-bit end field Manchester coded at 200 µs with swapped polarity. The
// key's first bit must be 0.
func FiatV0(key uint64, end byte) Train {
	b := &builder{}
	b.high(200).pairs(75, 200, 200).low(800)
	b.manchester(key, 64, 200, true)
	b.manchester(uint64(end), 7, 200, true)
	return b.end(200, 2000)
}
