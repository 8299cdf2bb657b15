package pac

import (
	"encoding/binary"
	"strings"

	"github.com/flashkit/flashkit/internal/ferr"
)

// FileType classifies a PAC entry by partition/file name, per spec §4.4.
type FileType string

const (
	TypeFDL1     FileType = "FDL1"
	TypeFDL2     FileType = "FDL2"
	TypeXML      FileType = "XML"
	TypeNV       FileType = "NV"
	TypeBoot     FileType = "Boot"
	TypeSystem   FileType = "System"
	TypeUserData FileType = "UserData"
	TypePartition FileType = "Partition"
)

// Entry is one PAC file-table record, resolved to a common shape regardless
// of whether it came from an R1 variable-length record or an R2 24-byte
// reversed-integer block.
type Entry struct {
	PartitionName string
	FileName      string
	OriginalName  string
	DataOffset    uint64
	Size          uint64
	FileFlag      uint32
	CheckFlag     uint32
	LoadAddress   uint32
	Type          FileType
	IsSparse      bool
}

// classify maps a partition/file name pair to a FileType, per spec §4.4:
// "FDL1 if name == FDL or filename contains fdl1; similar for FDL2/XML/NV/
// Boot/System/UserData".
func classify(partitionName, fileName string) FileType {
	name := strings.ToLower(partitionName)
	file := strings.ToLower(fileName)

	switch {
	case name == "fdl" || strings.Contains(file, "fdl1"):
		return TypeFDL1
	case strings.Contains(file, "fdl2"):
		return TypeFDL2
	case strings.HasSuffix(file, ".xml"):
		return TypeXML
	case strings.Contains(name, "nv") || strings.Contains(file, "nv"):
		return TypeNV
	case strings.Contains(name, "boot"):
		return TypeBoot
	case strings.Contains(name, "system"):
		return TypeSystem
	case strings.Contains(name, "userdata"):
		return TypeUserData
	default:
		return TypePartition
	}
}

// entryR2Len is the fixed size of an R2 reversed-integer file entry block.
const entryR2Len = 24

// ParseEntriesR2 decodes the BP_R2.0.1 fixed 24-byte-per-entry table.
// Layout (all little-endian u32): data-size lo/hi and data-offset lo/hi,
// each pair assembled per the same quirk as the header, then load address
// and flags. Partition and file names come from nameTable and fileNames.
func ParseEntriesR2(data []byte, count uint32, nameTable [][]byte, fileNames []string) ([]Entry, error) {
	entries := make([]Entry, 0, count)
	off := 0
	for i := uint32(0); i < count; i++ {
		if off+entryR2Len > len(data) {
			return nil, ferr.New("pac.ParseEntriesR2", ferr.KindBadPac, "entry table truncated")
		}
		rec := data[off : off+entryR2Len]
		off += entryR2Len

		sizeLo := binary.LittleEndian.Uint32(rec[0:4])
		sizeHi := binary.LittleEndian.Uint32(rec[4:8])
		dataOffLo := binary.LittleEndian.Uint32(rec[8:12])
		dataOffHi := binary.LittleEndian.Uint32(rec[12:16])
		loadAddr := binary.LittleEndian.Uint32(rec[16:20])
		flags := binary.LittleEndian.Uint32(rec[20:24])

		var partName string
		if int(i) < len(nameTable) {
			partName = decodeUTF16(nameTable[i])
		}
		var fileName string
		if int(i) < len(fileNames) {
			fileName = fileNames[i]
		}

		entries = append(entries, Entry{
			PartitionName: partName,
			FileName:      fileName,
			OriginalName:  fileName,
			DataOffset:    assembleSize64(dataOffHi, dataOffLo),
			Size:          assembleSize64(sizeHi, sizeLo),
			LoadAddress:   loadAddr,
			FileFlag:      flags,
			Type:          classify(partName, fileName),
			IsSparse:      strings.Contains(strings.ToLower(fileName), "sparsechunk"),
		})
	}
	return entries, nil
}

// r1RawEntry is the variable-length BP_R1.0.0 on-disk record shape, parsed by
// ParseEntriesR1 into the common Entry type.
type r1RawEntry struct {
	partitionName string
	fileName      string
	dataOffset    uint64
	size          uint64
	flag          uint32
	checkFlag     uint32
	loadAddr      uint32
}

// ParseEntriesR1 decodes a slice of already-split raw R1 entry records
// (each variable-length; the caller is responsible for locating entry
// boundaries via the partition-list offset table, since the BP_R1 format's
// per-entry length is self-describing only once the first few fixed fields
// are read — see splitR1Records).
func ParseEntriesR1(raw []r1RawEntry) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		entries = append(entries, Entry{
			PartitionName: r.partitionName,
			FileName:      r.fileName,
			OriginalName:  r.fileName,
			DataOffset:    r.dataOffset,
			Size:          r.size,
			FileFlag:      r.flag,
			CheckFlag:     r.checkFlag,
			LoadAddress:   r.loadAddr,
			Type:          classify(r.partitionName, r.fileName),
			IsSparse:      strings.Contains(strings.ToLower(r.fileName), "sparsechunk"),
		})
	}
	return entries
}

// splitR1Records walks the BP_R1.0.0 variable-length entry table: each
// record is {entry_len u32}{partition_name 256B UTF16}{file_name 256B
// UTF16}{file_path 256B UTF16}{size lo/hi}{addr lo/hi}{data_offset lo/hi}
// {...flags}; entry_len lets the walker skip unknown trailing fields
// without modelling every historical variant.
func splitR1Records(data []byte, count uint32) ([]r1RawEntry, error) {
	const nameFieldLen = 256
	out := make([]r1RawEntry, 0, count)
	off := 0
	for i := uint32(0); i < count; i++ {
		if off+4 > len(data) {
			return nil, ferr.New("pac.splitR1Records", ferr.KindBadPac, "truncated entry length")
		}
		entryLen := binary.LittleEndian.Uint32(data[off : off+4])
		if off+int(entryLen) > len(data) || entryLen < 4+nameFieldLen*3+24 {
			return nil, ferr.New("pac.splitR1Records", ferr.KindBadPac, "malformed entry length")
		}
		rec := data[off : off+int(entryLen)]
		p := 4

		partName := decodeUTF16(rec[p : p+nameFieldLen])
		p += nameFieldLen
		fileName := decodeUTF16(rec[p : p+nameFieldLen])
		p += nameFieldLen
		p += nameFieldLen // file_path, not surfaced separately

		sizeLo := binary.LittleEndian.Uint32(rec[p : p+4])
		sizeHi := binary.LittleEndian.Uint32(rec[p+4 : p+8])
		p += 8
		addrLo := binary.LittleEndian.Uint32(rec[p : p+4])
		p += 8 // addr hi unused: load addresses are 32-bit in practice
		dataOffLo := binary.LittleEndian.Uint32(rec[p : p+4])
		dataOffHi := binary.LittleEndian.Uint32(rec[p+4 : p+8])

		out = append(out, r1RawEntry{
			partitionName: partName,
			fileName:      fileName,
			dataOffset:    assembleSize64(dataOffHi, dataOffLo),
			size:          assembleSize64(sizeHi, sizeLo),
			loadAddr:      addrLo,
		})
		off += int(entryLen)
	}
	return out, nil
}
