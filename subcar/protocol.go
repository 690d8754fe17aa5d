package subcar

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolID identifies the decoder that produced a packet.
// The values are part of the binary record and must not be renumbered.
type ProtocolID uint8

const (
	ProtoInvalid ProtocolID = iota
	ProtoSuzuki
	ProtoVW
	ProtoSubaru
	ProtoKiaV5
	ProtoKiaV3V4
	ProtoKiaV2
	ProtoKiaV1
	ProtoKiaV0
	ProtoFordV0
	ProtoFiatV0
	ProtoBMWV0

	protoCount
)

var protocolNames = [protoCount]string{
	ProtoInvalid: "Unknown",
	ProtoSuzuki:  "Suzuki",
	ProtoVW:      "VW",
	ProtoSubaru:  "Subaru",
	ProtoKiaV5:   "Kia V5",
	ProtoKiaV3V4: "Kia V3/V4",
	ProtoKiaV2:   "Kia V2",
	ProtoKiaV1:   "Kia V1",
	ProtoKiaV0:   "Kia V0",
	ProtoFordV0:  "Ford V0",
	ProtoFiatV0:  "Fiat V0",
	ProtoBMWV0:   "BMW V0",
}

// String returns the display name used in logs and CSV output
func (p ProtocolID) String() string {
	if p >= protoCount {
		return protocolNames[ProtoInvalid]
	}
	return protocolNames[p]
}

// Valid reports whether p names a real decoder
func (p ProtocolID) Valid() bool {
	return p > ProtoInvalid && p < protoCount
}

// Protocols returns every valid protocol ID in numeric order
func Protocols() []ProtocolID {
	out := make([]ProtocolID, 0, protoCount-1)
	for p := ProtoSuzuki; p < protoCount; p++ {
		out = append(out, p)
	}
	return out
}

// ParseProtocol looks a protocol up by display name. Case, spaces and
// slashes are ignored, so "kiav3v4" and "Kia V3/V4" are the same.
func ParseProtocol(name string) (ProtocolID, error) {
	key := protocolKey(name)
	for _, p := range Protocols() {
		if protocolKey(p.String()) == key {
			return p, nil
		}
	}
	return ProtoInvalid, fmt.Errorf("unknown protocol %q", name)
}

func protocolKey(s string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "/", "", "_", "", "-", "").Replace(s))
}

// PacketSize is the length of the fixed binary record
const PacketSize = 1 + 2 + 8 + 8

// Packet is one validated decode.
// Data and Data2 partition payloads longer than 64 bits; the split is per protocol.
type Packet struct {
	Protocol ProtocolID `json:"protocol"`
	BitCount uint16     `json:"bit_count"`
	Data     uint64     `json:"data"`
	Data2    uint64     `json:"data2"`
}

// MarshalBinary encodes the packet as the 19-byte record
// {u8 protocol, u16 bit_count, u64 data, u64 data2}, little-endian.
func (p Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PacketSize)
	p.PutBinary(buf)
	return buf, nil
}

// PutBinary writes the record into buf, which must hold PacketSize bytes
func (p Packet) PutBinary(buf []byte) {
	_ = buf[PacketSize-1]
	buf[0] = byte(p.Protocol)
	binary.LittleEndian.PutUint16(buf[1:3], p.BitCount)
	binary.LittleEndian.PutUint64(buf[3:11], p.Data)
	binary.LittleEndian.PutUint64(buf[11:19], p.Data2)
}

// UnmarshalBinary decodes a record written by MarshalBinary
func (p *Packet) UnmarshalBinary(buf []byte) error {
	if len(buf) != PacketSize {
		return fmt.Errorf("packet record must be %d bytes, got %d", PacketSize, len(buf))
	}
	p.Protocol = ProtocolID(buf[0])
	p.BitCount = binary.LittleEndian.Uint16(buf[1:3])
	p.Data = binary.LittleEndian.Uint64(buf[3:11])
	p.Data2 = binary.LittleEndian.Uint64(buf[11:19])
	return nil
}

// CSVHeader is the first line of a packet log file
const CSVHeader = ";Type; Bits; Data;"

// CSV formats the packet as a log line: ;<Name>;<bits>;<data>;<data2>
func (p Packet) CSV() string {
	return fmt.Sprintf(";%s;%d;%016X;%016X", p.Protocol, p.BitCount, p.Data, p.Data2)
}

// MarshalJSON adds the protocol name and hex strings next to the raw fields
func (p Packet) MarshalJSON() ([]byte, error) {
	type alias Packet
	return json.Marshal(struct {
		alias
		Name     string `json:"name"`
		DataHex  string `json:"data_hex"`
		Data2Hex string `json:"data2_hex"`
	}{
		alias:    alias(p),
		Name:     p.Protocol.String(),
		DataHex:  fmt.Sprintf("%016X", p.Data),
		Data2Hex: fmt.Sprintf("%016X", p.Data2),
	})
}
