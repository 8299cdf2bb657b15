package sahara

import (
	"encoding/binary"

	"github.com/flashkit/flashkit/internal/ferr"
)

// Mode values carried in Hello/HelloResponse.
type Mode uint32

const (
	ModeImageTxPending Mode = 0x00
	ModeImageTxComplete Mode = 0x01
	ModeMemoryDebug     Mode = 0x02
	ModeCommand         Mode = 0x03
)

// Hello is the device-originated handshake frame (payload of CmdHello).
type Hello struct {
	Version          uint32
	VersionCompat    uint32
	MaxPacketSize    uint32
	Mode             Mode
	Reserved         [6]uint32
}

func DecodeHello(payload []byte) (Hello, error) {
	if len(payload) < 4*10 {
		return Hello{}, ferr.New("sahara.DecodeHello", ferr.KindBadLength, "")
	}
	var h Hello
	h.Version = binary.LittleEndian.Uint32(payload[0:4])
	h.VersionCompat = binary.LittleEndian.Uint32(payload[4:8])
	h.MaxPacketSize = binary.LittleEndian.Uint32(payload[8:12])
	h.Mode = Mode(binary.LittleEndian.Uint32(payload[12:16]))
	for i := 0; i < 6; i++ {
		h.Reserved[i] = binary.LittleEndian.Uint32(payload[16+i*4 : 20+i*4])
	}
	return h, nil
}

// HelloResponse is the host reply accepting a (possibly downgraded)
// version, per spec §4.7: "version>3 accepted by advertising compatible=2".
type HelloResponse struct {
	Version       uint32
	VersionCompat uint32
	Status        uint32
	Mode          Mode
	Reserved      [6]uint32
}

func EncodeHelloResponse(r HelloResponse) []byte {
	buf := make([]byte, 4*10)
	binary.LittleEndian.PutUint32(buf[0:4], r.Version)
	binary.LittleEndian.PutUint32(buf[4:8], r.VersionCompat)
	binary.LittleEndian.PutUint32(buf[8:12], r.Status)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Mode))
	for i := 0; i < 6; i++ {
		binary.LittleEndian.PutUint32(buf[16+i*4:20+i*4], r.Reserved[i])
	}
	return buf
}

// NegotiateHelloResponse implements invariant 5 (§8): versions above 3 are
// accepted by advertising compatible version 2; versions below 1 are
// rejected outright.
func NegotiateHelloResponse(h Hello) (HelloResponse, error) {
	if h.Version < 1 {
		return HelloResponse{}, ferr.New("sahara.Negotiate", ferr.KindUnsupportedVersion, "version below 1")
	}
	compat := h.VersionCompat
	if h.Version > 3 {
		compat = 2
	}
	return HelloResponse{
		Version:       h.Version,
		VersionCompat: compat,
		Status:        0,
		Mode:          h.Mode,
	}, nil
}

// ReadData32 requests `Length` bytes from the loader file starting at
// `Offset` (32-bit fields).
type ReadData32 struct {
	ImageID uint32
	Offset  uint32
	Length  uint32
}

func DecodeReadData32(payload []byte) (ReadData32, error) {
	if len(payload) < 12 {
		return ReadData32{}, ferr.New("sahara.DecodeReadData32", ferr.KindBadLength, "")
	}
	return ReadData32{
		ImageID: binary.LittleEndian.Uint32(payload[0:4]),
		Offset:  binary.LittleEndian.Uint32(payload[4:8]),
		Length:  binary.LittleEndian.Uint32(payload[8:12]),
	}, nil
}

// ReadData64 is ReadData32 widened to 64-bit offset/length.
type ReadData64 struct {
	ImageID uint64
	Offset  uint64
	Length  uint64
}

func DecodeReadData64(payload []byte) (ReadData64, error) {
	if len(payload) < 24 {
		return ReadData64{}, ferr.New("sahara.DecodeReadData64", ferr.KindBadLength, "")
	}
	return ReadData64{
		ImageID: binary.LittleEndian.Uint64(payload[0:8]),
		Offset:  binary.LittleEndian.Uint64(payload[8:16]),
		Length:  binary.LittleEndian.Uint64(payload[16:24]),
	}, nil
}

// EndImageTransfer reports transfer completion; Status==0 is success.
type EndImageTransfer struct {
	ImageID uint32
	Status  uint32
}

func DecodeEndImageTransfer(payload []byte) (EndImageTransfer, error) {
	if len(payload) < 8 {
		return EndImageTransfer{}, ferr.New("sahara.DecodeEndImageTransfer", ferr.KindBadLength, "")
	}
	return EndImageTransfer{
		ImageID: binary.LittleEndian.Uint32(payload[0:4]),
		Status:  binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// ExecuteCommand IDs used in COMMAND mode (spec §4.7).
type ExecuteCommand uint32

const (
	ExecSerialNumber ExecuteCommand = 0x01
	ExecHWID         ExecuteCommand = 0x02
	ExecOEMPKHash    ExecuteCommand = 0x03
)

// Execute requests the device run a COMMAND-mode operation.
type Execute struct {
	Command ExecuteCommand
}

func EncodeExecute(e Execute) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(e.Command))
	return buf
}

// ExecuteResponse carries the byte length of the response the device will
// subsequently stream via ExecuteData.
type ExecuteResponse struct {
	Command ExecuteCommand
	Length  uint32
}

func DecodeExecuteResponse(payload []byte) (ExecuteResponse, error) {
	if len(payload) < 8 {
		return ExecuteResponse{}, ferr.New("sahara.DecodeExecuteResponse", ferr.KindBadLength, "")
	}
	return ExecuteResponse{
		Command: ExecuteCommand(binary.LittleEndian.Uint32(payload[0:4])),
		Length:  binary.LittleEndian.Uint32(payload[4:8]),
	}, nil
}

// EncodeExecuteData is sent by the host to request the ExecuteResponse's
// payload bytes, echoing back the command ID.
func EncodeExecuteData(cmd ExecuteCommand) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(cmd))
	return buf
}

// SwitchMode requests a mode transition (e.g. into COMMAND mode).
func EncodeSwitchMode(m Mode) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(m))
	return buf
}
