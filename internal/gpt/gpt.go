// Package gpt parses and serializes UEFI GUID Partition Tables (C5):
// protective MBR → primary header at LBA 1 → entries at LBA 2, validating
// header/entry CRC32 and falling back to the backup header on primary
// failure.
package gpt

import (
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	headerSignature = "EFI PART"
	headerLen       = 92
	entryLen        = 128
	nameUTF16Chars  = 36
)

// Header is the parsed GPT header (primary or backup).
type Header struct {
	Revision              uint32
	HeaderSize            uint32
	HeaderCRC32           uint32
	CurrentLBA            uint64
	BackupLBA             uint64
	FirstUsableLBA        uint64
	LastUsableLBA         uint64
	DiskGUID              uuid.UUID
	PartitionEntryLBA     uint64
	NumPartitionEntries   uint32
	PartitionEntrySize    uint32
	PartitionArrayCRC32   uint32
}

// Partition is one GPT entry resolved to the data-model shape of spec §3
// (minus lun/sector-size, which the caller supplies from outside GPT since
// GPT itself does not encode them).
type Partition struct {
	Name         string
	StartSector  uint64
	NumSectors   uint64
	TypeGUID     uuid.UUID
	UniqueGUID   uuid.UUID
	Attributes   uint64
	EntryIndex   int32
}

// Table is a fully-parsed GPT: the header used (primary unless it failed
// validation) plus the ordered partition entries.
type Table struct {
	Header     Header
	Partitions []Partition
	SectorSize uint32
	usedBackup bool
}

// UsedBackupHeader reports whether the primary header failed CRC validation
// and the backup mirror had to be used instead.
func (t Table) UsedBackupHeader() bool { return t.usedBackup }

// Parse reads a GPT from a full LUN image (or a reader over just the
// relevant LBAs), given the externally-supplied sector size (spec §4.5:
// "GPT itself does not encode it"). lastLBA is the LUN's final sector
// index, needed to locate the backup header.
func Parse(disk []byte, sectorSize uint32, lastLBA uint64) (Table, error) {
	if uint64(len(disk)) < uint64(sectorSize)*2 {
		return Table{}, ferr.New("gpt.Parse", ferr.KindBadGpt, "image too short for protective MBR + header")
	}

	primaryOff := uint64(sectorSize) * 1
	header, entries, err := tryParseAt(disk, sectorSize, primaryOff)
	usedBackup := false
	if err != nil {
		backupOff := uint64(sectorSize) * lastLBA
		if uint64(len(disk)) < backupOff+uint64(sectorSize) {
			return Table{}, ferr.New("gpt.Parse", ferr.KindBadGpt, "primary invalid and backup out of range")
		}
		header, entries, err = tryParseAt(disk, sectorSize, backupOff)
		if err != nil {
			return Table{}, err
		}
		usedBackup = true
	}

	return Table{Header: header, Partitions: entries, SectorSize: sectorSize, usedBackup: usedBackup}, nil
}

func tryParseAt(disk []byte, sectorSize uint32, headerOff uint64) (Header, []Partition, error) {
	if headerOff+headerLen > uint64(len(disk)) {
		return Header{}, nil, ferr.New("gpt.tryParseAt", ferr.KindBadGpt, "header out of range")
	}
	raw := disk[headerOff : headerOff+uint64(sectorSize)]
	if string(raw[0:8]) != headerSignature {
		return Header{}, nil, ferr.New("gpt.tryParseAt", ferr.KindBadMagic, "")
	}

	declaredCRC := binary.LittleEndian.Uint32(raw[16:20])
	check := make([]byte, headerLen)
	copy(check, raw[:headerLen])
	binary.LittleEndian.PutUint32(check[16:20], 0)
	if crc32.ChecksumIEEE(check) != declaredCRC {
		return Header{}, nil, ferr.New("gpt.tryParseAt", ferr.KindBadChecksum, "header CRC32 mismatch")
	}

	diskGUID, _ := uuid.FromBytes(mixedEndianToBytes(raw[56:72]))

	h := Header{
		Revision:            binary.LittleEndian.Uint32(raw[8:12]),
		HeaderSize:          binary.LittleEndian.Uint32(raw[12:16]),
		HeaderCRC32:         declaredCRC,
		CurrentLBA:          binary.LittleEndian.Uint64(raw[24:32]),
		BackupLBA:           binary.LittleEndian.Uint64(raw[32:40]),
		FirstUsableLBA:      binary.LittleEndian.Uint64(raw[40:48]),
		LastUsableLBA:       binary.LittleEndian.Uint64(raw[48:56]),
		DiskGUID:            diskGUID,
		PartitionEntryLBA:   binary.LittleEndian.Uint64(raw[72:80]),
		NumPartitionEntries: binary.LittleEndian.Uint32(raw[80:84]),
		PartitionEntrySize:  binary.LittleEndian.Uint32(raw[84:88]),
		PartitionArrayCRC32: binary.LittleEndian.Uint32(raw[88:92]),
	}

	entriesOff := h.PartitionEntryLBA * uint64(sectorSize)
	entriesLen := uint64(h.NumPartitionEntries) * uint64(h.PartitionEntrySize)
	if entriesOff+entriesLen > uint64(len(disk)) {
		return Header{}, nil, ferr.New("gpt.tryParseAt", ferr.KindBadGpt, "entry array out of range")
	}
	entryBytes := disk[entriesOff : entriesOff+entriesLen]
	if crc32.ChecksumIEEE(entryBytes) != h.PartitionArrayCRC32 {
		return Header{}, nil, ferr.New("gpt.tryParseAt", ferr.KindBadChecksum, "entry array CRC32 mismatch")
	}

	partitions := make([]Partition, 0, h.NumPartitionEntries)
	for i := uint32(0); i < h.NumPartitionEntries; i++ {
		rec := entryBytes[uint64(i)*uint64(h.PartitionEntrySize) : uint64(i)*uint64(h.PartitionEntrySize)+entryLen]
		typeGUID, _ := uuid.FromBytes(mixedEndianToBytes(rec[0:16]))
		if isZeroGUID(rec[0:16]) {
			continue
		}
		uniqueGUID, _ := uuid.FromBytes(mixedEndianToBytes(rec[16:32]))
		partitions = append(partitions, Partition{
			TypeGUID:    typeGUID,
			UniqueGUID:  uniqueGUID,
			StartSector: binary.LittleEndian.Uint64(rec[32:40]),
			NumSectors:  binary.LittleEndian.Uint64(rec[40:48]) - binary.LittleEndian.Uint64(rec[32:40]) + 1,
			Attributes:  binary.LittleEndian.Uint64(rec[48:56]),
			Name:        decodeNameUTF16(rec[56:56+nameUTF16Chars*2]),
			EntryIndex:  int32(i),
		})
	}

	return h, partitions, nil
}

func isZeroGUID(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func decodeNameUTF16(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	for i, v := range u16 {
		if v == 0 {
			u16 = u16[:i]
			break
		}
	}
	return string(utf16.Decode(u16))
}

// mixedEndianToBytes converts a GPT wire-format GUID (first three fields
// little-endian, last two big-endian) into the big-endian byte order
// uuid.FromBytes expects.
func mixedEndianToBytes(wire []byte) []byte {
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = wire[3], wire[2], wire[1], wire[0]
	out[4], out[5] = wire[5], wire[4]
	out[6], out[7] = wire[7], wire[6]
	copy(out[8:], wire[8:16])
	return out
}

// bytesToMixedEndian is the inverse of mixedEndianToBytes, used by
// encodeHeader and encodeEntries.
func bytesToMixedEndian(u uuid.UUID) []byte {
	b := u[:]
	out := make([]byte, 16)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:16])
	return out
}
