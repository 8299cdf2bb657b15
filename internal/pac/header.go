// Package pac parses Spreadtrum/Unisoc firmware packages (C4): both header
// variants (BP_R1.0.0, BP_R2.0.1) into a file table with offsets and types.
package pac

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	versionFieldLen = 44 // UTF-16LE
	productNameLen  = 512
	firmwareNameLen = 512
	productAliasLen = 996

	VersionR1 = "BP_R1.0.0"
	VersionR2 = "BP_R2.0.1"
)

// Header is the fixed-layout portion of a PAC file preceding the entry
// table (spec §4.4).
type Header struct {
	Version            string
	Size               uint64
	ProductName        string
	FirmwareName       string
	PartitionCount     uint32
	PartitionListOffset uint32
	ProductAlias       string
	Magic              uint32
	CRC1, CRC2         uint16
}

// assembleSize64 implements the PAC 64-bit size quirk verbatim, per spec §4.4
// and §9's explicit instruction not to "fix" it: if either half exceeds 2,
// the larger half is taken whole rather than the two being concatenated.
// Preserved exactly as specified; whether this reflects an intentional v2
// encoding or a source-side workaround is not determinable (§9 Open
// Questions) and is not guessed at here.
func assembleSize64(hi, lo uint32) uint64 {
	if hi > 2 || lo > 2 {
		if hi > lo {
			return uint64(hi)
		}
		return uint64(lo)
	}
	return uint64(hi)<<32 | uint64(lo)
}

// ParseHeader decodes the fixed header at the start of data. Both R1 and R2
// share this same fixed-layout prefix; the entry table that follows differs
// (see entries.go).
func ParseHeader(data []byte) (Header, error) {
	const minLen = versionFieldLen + 8 + productNameLen + firmwareNameLen + 4 + 4 + productAliasLen + 4 + 2 + 2
	if len(data) < minLen {
		return Header{}, ferr.New("pac.ParseHeader", ferr.KindBadPac, "header truncated")
	}

	off := 0
	version := decodeUTF16(data[off : off+versionFieldLen])
	off += versionFieldLen

	if version != VersionR1 && version != VersionR2 {
		return Header{}, ferr.New("pac.ParseHeader", ferr.KindBadPac, "unrecognised version string: "+version)
	}

	lo := binary.LittleEndian.Uint32(data[off : off+4])
	hi := binary.LittleEndian.Uint32(data[off+4 : off+8])
	off += 8
	size := assembleSize64(hi, lo)

	productName := decodeUTF16(data[off : off+productNameLen])
	off += productNameLen
	firmwareName := decodeUTF16(data[off : off+firmwareNameLen])
	off += firmwareNameLen

	partitionCount := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	partitionListOffset := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4

	productAlias := decodeUTF16(data[off : off+productAliasLen])
	off += productAliasLen

	magic := binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	crc1 := binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	crc2 := binary.LittleEndian.Uint16(data[off : off+2])

	return Header{
		Version:             version,
		Size:                size,
		ProductName:         productName,
		FirmwareName:        firmwareName,
		PartitionCount:      partitionCount,
		PartitionListOffset: partitionListOffset,
		ProductAlias:        productAlias,
		Magic:               magic,
		CRC1:                crc1,
		CRC2:                crc2,
	}, nil
}

func decodeUTF16(b []byte) string {
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	// trim at first NUL
	for i, v := range u16 {
		if v == 0 {
			u16 = u16[:i]
			break
		}
	}
	return string(utf16.Decode(u16))
}
