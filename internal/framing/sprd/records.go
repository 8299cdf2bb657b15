package sprd

import "encoding/binary"

// BROM/FDL1/FDL2 frame types (spec §4.10). The same type space is reused
// across all three stages; which types are legal depends on CurrentStage.
const (
	TypeVersion   Type = 0x00 // BROM: read BootROM version, confirms BROM is alive
	TypeStartData Type = 0x01 // load address + size + checksum-mode flag
	TypeMidData   Type = 0x02 // sequential upload chunk
	TypeEndData   Type = 0x03 // closes the transfer
	TypeExec      Type = 0x04 // jump to the uploaded image

	TypeAck Type = 0x80
	TypeNak Type = 0x81

	TypeSetBaud        Type = 0x05
	TypeReadChipType   Type = 0x06
	TypeReadFlashInfo  Type = 0x07
	TypeReadPartition  Type = 0x08
	TypeWritePartition Type = 0x09
	TypeErasePartition Type = 0x0A
	TypeReadNV         Type = 0x0B
	TypeWriteNV        Type = 0x0C
	TypeReadEfuse      Type = 0x0D
	TypeReboot         Type = 0x0E
	TypePowerOff       Type = 0x0F
	TypeRepartition    Type = 0x10
)

// StartData is the TypeStartData payload: load address, byte size, and a
// flag selecting CRC16 (0) vs. Sum16 (1) checksum mode for the mid-data
// chunks that follow.
type StartData struct {
	LoadAddress uint32
	Size        uint32
	ChecksumSum bool
}

func EncodeStartData(s StartData) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint32(buf[0:4], s.LoadAddress)
	binary.BigEndian.PutUint32(buf[4:8], s.Size)
	if s.ChecksumSum {
		buf[8] = 1
	}
	return buf
}

// MaxPartitionNameLen is the spec's 32-ASCII-char cap on FDL2 partition
// names (spec §4.10: "Names exceeding 32 ASCII chars fail with
// PartitionNameTooLong").
const MaxPartitionNameLen = 32

// EncodePartitionName pads/truncates name to a fixed 32-byte ASCII field;
// callers must validate length with ValidatePartitionName first.
func EncodePartitionName(name string) [MaxPartitionNameLen]byte {
	var out [MaxPartitionNameLen]byte
	copy(out[:], name)
	return out
}
