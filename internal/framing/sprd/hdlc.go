// Package sprd implements the SPRD HDLC-like frame codec (C2): start/end
// delimiter 0x7E, a big-endian {type, length} header, byte-stuffed payload,
// and a trailing CRC16-CCITT (or plain 16-bit sum, depending on the
// device-declared checksum mode), per spec §4.2.
package sprd

import (
	"encoding/binary"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	delimiter  byte = 0x7E
	escapeByte byte = 0x7D
	escapeXor  byte = 0x20
)

// ChecksumMode selects which trailer the framer computes: CRC16-CCITT
// (the default) or a plain 16-bit sum, which some devices switch to partway
// through FDL2 (spec §4.2).
type ChecksumMode int

const (
	ChecksumCRC16 ChecksumMode = iota
	ChecksumSum16
)

// Type is the HDLC frame's 16-bit command/type field.
type Type uint16

// Frame is one decoded SPRD HDLC record: its type and unescaped payload.
type Frame struct {
	Type    Type
	Payload []byte
}

// crc16Table is the CRC16-CCITT (poly 0x1021, init 0, no xorout) table,
// computed once at package init and read-only thereafter — the pack's
// global-mutable-state idiom collapsed to a one-time guard per spec §9.
var crc16Table [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes CRC16-CCITT (poly 0x1021, init 0, no xorout) over data.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// Sum16 computes the plain 16-bit sum checksum some devices substitute for
// CRC16 during FDL2, per spec §4.2.
func Sum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}

// escape byte-stuffs p: 0x7E -> 0x7D 0x5E, 0x7D -> 0x7D 0x5D.
func escape(p []byte) []byte {
	out := make([]byte, 0, len(p)+2)
	for _, b := range p {
		if b == delimiter || b == escapeByte {
			out = append(out, escapeByte, b^escapeXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescape is escape's inverse, validating that every escapeByte is
// followed by a stuffed byte.
func unescape(p []byte) ([]byte, error) {
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == escapeByte {
			if i+1 >= len(p) {
				return nil, ferr.New("sprd.unescape", ferr.KindEscape, "dangling escape at end of frame")
			}
			out = append(out, p[i+1]^escapeXor)
			i++
			continue
		}
		out = append(out, p[i])
	}
	return out, nil
}

// Encode frames payload under typ with the given checksum mode: big-endian
// type, big-endian length, payload, big-endian checksum over
// type||length||payload, all byte-stuffed between the two 0x7E delimiters.
func Encode(typ Type, payload []byte, mode ChecksumMode) []byte {
	body := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint16(body[0:2], uint16(typ))
	binary.BigEndian.PutUint16(body[2:4], uint16(len(payload)))
	copy(body[4:], payload)

	var sum uint16
	if mode == ChecksumSum16 {
		sum = Sum16(body)
	} else {
		sum = CRC16(body)
	}
	trailer := make([]byte, 2)
	binary.BigEndian.PutUint16(trailer, sum)

	frame := append(body, trailer...)
	stuffed := escape(frame)

	out := make([]byte, 0, len(stuffed)+2)
	out = append(out, delimiter)
	out = append(out, stuffed...)
	out = append(out, delimiter)
	return out
}

// Probe is the single unframed 0x7E byte the engine sends to a cold BROM as
// its first hello (spec §4.2: "the first BROM hello is sent unframed").
func Probe() []byte { return []byte{delimiter} }

// Decode parses a complete HDLC frame (including both 0x7E delimiters) and
// validates its checksum under mode.
func Decode(raw []byte, mode ChecksumMode) (Frame, error) {
	if len(raw) < 2 || raw[0] != delimiter || raw[len(raw)-1] != delimiter {
		return Frame{}, ferr.New("sprd.Decode", ferr.KindBadMagic, "missing 0x7E delimiter")
	}
	stuffed := raw[1 : len(raw)-1]
	body, err := unescape(stuffed)
	if err != nil {
		return Frame{}, err
	}
	if len(body) < 6 {
		return Frame{}, ferr.New("sprd.Decode", ferr.KindBadLength, "frame too short")
	}

	payloadAndHdr := body[:len(body)-2]
	trailer := body[len(body)-2:]
	declared := binary.BigEndian.Uint16(trailer)

	var got uint16
	if mode == ChecksumSum16 {
		got = Sum16(payloadAndHdr)
	} else {
		got = CRC16(payloadAndHdr)
	}
	if got != declared {
		return Frame{}, ferr.New("sprd.Decode", ferr.KindBadChecksum, "HDLC checksum mismatch")
	}

	typ := Type(binary.BigEndian.Uint16(payloadAndHdr[0:2]))
	length := binary.BigEndian.Uint16(payloadAndHdr[2:4])
	if int(length) != len(payloadAndHdr)-4 {
		return Frame{}, ferr.New("sprd.Decode", ferr.KindBadLength, "declared length does not match payload")
	}
	payload := make([]byte, length)
	copy(payload, payloadAndHdr[4:])
	return Frame{Type: typ, Payload: payload}, nil
}
