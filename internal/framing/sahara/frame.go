// Package sahara implements the Sahara frame codec (C2): an 8-byte
// little-endian {command, length} header followed by length-8 payload
// bytes, no byte-stuffing.
package sahara

import (
	"encoding/binary"

	"github.com/flashkit/flashkit/internal/ferr"
)

// Command IDs per spec §4.2.
type Command uint32

const (
	CmdHello               Command = 0x01
	CmdHelloResponse       Command = 0x02
	CmdReadData32          Command = 0x03
	CmdEndImageTransfer    Command = 0x04
	CmdDone                Command = 0x05
	CmdDoneResponse        Command = 0x06
	CmdReset               Command = 0x07
	CmdResetResponse       Command = 0x08
	CmdCommandReady        Command = 0x0B
	CmdSwitchMode          Command = 0x0C
	CmdExecute             Command = 0x0D
	CmdExecuteResponse     Command = 0x0E
	CmdExecuteData         Command = 0x0F
	CmdReadData64          Command = 0x12
	CmdResetStateMachine   Command = 0x13
)

const headerLen = 8

// Frame is a decoded Sahara record: the 4-byte command ID and its payload
// (length already validated against the wire length field).
type Frame struct {
	Command Command
	Payload []byte
}

// Encode serializes a Frame back to wire bytes.
func Encode(f Frame) []byte {
	total := headerLen + len(f.Payload)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(f.Command))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(total))
	copy(buf[8:], f.Payload)
	return buf
}

// Decode parses exactly one frame from data, requiring data to contain the
// complete frame (no partial reads — the caller's transport layer is
// responsible for reading `length` bytes before calling Decode).
func Decode(data []byte) (Frame, error) {
	if len(data) < headerLen {
		return Frame{}, ferr.New("sahara.Decode", ferr.KindBadLength, "short header")
	}
	cmd := Command(binary.LittleEndian.Uint32(data[0:4]))
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) != len(data) {
		return Frame{}, ferr.New("sahara.Decode", ferr.KindBadLength, "declared length does not match buffer")
	}
	payload := make([]byte, length-headerLen)
	copy(payload, data[headerLen:])
	return Frame{Command: cmd, Payload: payload}, nil
}

// PeekLength reads just the 8-byte header to learn how many more bytes the
// caller must read before calling Decode, without requiring the whole frame
// up front — mirrors how the transport only ever reads fixed-size chunks.
func PeekLength(header []byte) (uint32, error) {
	if len(header) < headerLen {
		return 0, ferr.New("sahara.PeekLength", ferr.KindBadLength, "short header")
	}
	return binary.LittleEndian.Uint32(header[4:8]), nil
}
