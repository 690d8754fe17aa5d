package subcartest

import "github.com/cwsl/ubersdr_subcar/subcar"

// Sample is a reference packet together with its canonical train
type Sample struct {
	Packet subcar.Packet
	Train  Train
}

// BMWFrame returns a 61-bit BMW payload built from seven data bytes whose
// eighth byte is their CRC-8. The top three bits of the first byte are
// dropped.
func BMWFrame(data [7]byte) uint64 {
	data[0] &= 0x1F
	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	crc := subcar.CRC8(data[:], 0x31, 0x00)
	return v<<8 | uint64(crc)
}

// Packets returns one valid reference packet per protocol, in protocol order
func Packets() []subcar.Packet {
	return []subcar.Packet{
		{Protocol: subcar.ProtoSuzuki, BitCount: 64, Data: 0xF123456789ABCDE0},
		{Protocol: subcar.ProtoVW, BitCount: 80, Data: 0x0123456789ABCDEF, Data2: 0x9A5C},
		{Protocol: subcar.ProtoSubaru, BitCount: 64, Data: 0x5A3C96E1D2B4870F},
		{Protocol: subcar.ProtoKiaV5, BitCount: 64, Data: 0x0123456789ABCDEF},
		{Protocol: subcar.ProtoKiaV3V4, BitCount: 64, Data: 0x8E5A3C1F00FF7766},
		{Protocol: subcar.ProtoKiaV2, BitCount: 51, Data: 0x6D5A3C96E1D2B},
		{Protocol: subcar.ProtoKiaV1, BitCount: 56, Data: 0xA1B2C3D4E5F607},
		{Protocol: subcar.ProtoKiaV0, BitCount: 61, Data: 0x1A2B3C4D5E6F7081},
		{Protocol: subcar.ProtoFordV0, BitCount: 64, Data: 0x4A5B6C7D8E9FA0B1, Data2: 0xBEEF},
		{Protocol: subcar.ProtoFiatV0, BitCount: 64, Data: 0x3C5A96E10F1E2D4B, Data2: 0x55},
		{Protocol: subcar.ProtoBMWV0, BitCount: 61, Data: BMWFrame([7]byte{0x1A, 0x2B, 0x3C, 0x4D, 0x5E, 0x6F, 0x70})},
	}
}

// Samples returns Packets with their trains. It panics if a reference
// packet cannot be encoded, which would be a bug in this package.
func Samples() []Sample {
	pkts := Packets()
	out := make([]Sample, 0, len(pkts))
	for _, p := range pkts {
		t, err := Encode(p)
		if err != nil {
			panic(err)
		}
		out = append(out, Sample{Packet: p, Train: t})
	}
	return out
}
