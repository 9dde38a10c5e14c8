package sfp

import "fmt"

// Wire constants, per the §6 external interface.
const (
	flagByte = 0x7E // FLAG — delimits frames
	escByte  = 0x7D // ESC — escapes the following byte
	escXor   = 0x20 // ESC_XOR — inverse-bit XOR applied on escape
)

// Frame type tag, encoded in the top 2 bits of the header byte.
type frameType byte

const (
	typeUSR frameType = 0
	typeRTX frameType = 1
	typeNAK frameType = 2
	typeSYN frameType = 3
)

func (t frameType) String() string {
	switch t {
	case typeUSR:
		return "USR"
	case typeRTX:
		return "RTX"
	case typeNAK:
		return "NAK"
	case typeSYN:
		return "SYN"
	default:
		return fmt.Sprintf("frameType(%d)", byte(t))
	}
}

// SYN sequence namespace (spec.md §3, §6).
const (
	SeqSYN0 byte = 0
	SeqSYN1 byte = 1
	SeqSYN2 byte = 2
	SeqDIS  byte = 3
)

// Packet is the tagged variant decoded from, or encoded to, the wire.
// Type and Seq are always set; Payload is meaningful only for USR and
// RTX. Within the package, Packets are built with usrPacket, rtxPacket,
// nakPacket and synPacket.
type Packet struct {
	Type    frameType
	Seq     byte // valid for USR, RTX, NAK; for SYN this is the SYN/DIS code
	Payload []byte
}

func usrPacket(seq byte, payload []byte) Packet {
	return Packet{Type: typeUSR, Seq: seq, Payload: payload}
}

func rtxPacket(seq byte, payload []byte) Packet {
	return Packet{Type: typeRTX, Seq: seq, Payload: payload}
}

func nakPacket(seq byte) Packet {
	return Packet{Type: typeNAK, Seq: seq}
}

func synPacket(seq byte) Packet {
	return Packet{Type: typeSYN, Seq: seq}
}

func (p Packet) String() string {
	switch p.Type {
	case typeUSR, typeRTX:
		return fmt.Sprintf("%s{seq=%d len=%d}", p.Type, p.Seq, len(p.Payload))
	default:
		return fmt.Sprintf("%s{seq=%d}", p.Type, p.Seq)
	}
}

// header packs a frame type and sequence number into the single header
// byte: tt ssssss.
func header(t frameType, seq byte) byte {
	return (byte(t) << 6) | (seq & 0x3F)
}

// nextSeq advances a 6-bit sequence number modulo 64.
func nextSeq(seq byte) byte {
	return (seq + 1) & 0x3F
}
