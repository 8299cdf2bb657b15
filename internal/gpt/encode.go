package gpt

import (
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"
)

// Serialize renders t back into primary header+entries and a mirrored
// backup header, recomputing both CRC32 fields from t.Partitions so a
// parse→Serialize round trip reproduces the original bytes exactly
// (invariant 1) and so a caller that just patched one field (a `patch`
// command, a backup-header rewrite after repartitioning) gets a
// consistent pair back.
//
// lastLBA is the LUN's final sector index, used for the backup header's
// CurrentLBA/BackupLBA swap; it must match the lastLBA originally passed
// to Parse.
func Serialize(t Table, lastLBA uint64) (primaryHeader, entries, backupHeader []byte) {
	entries = encodeEntries(t.Partitions, t.Header.PartitionEntrySize)
	if want := int(t.Header.NumPartitionEntries) * int(t.Header.PartitionEntrySize); len(entries) < want {
		entries = append(entries, make([]byte, want-len(entries))...)
	}
	entriesCRC := crc32.ChecksumIEEE(entries)

	primary := t.Header
	primary.CurrentLBA = 1
	primary.BackupLBA = lastLBA
	primary.PartitionArrayCRC32 = entriesCRC
	primaryHeader = encodeHeader(primary)

	backup := t.Header
	backup.CurrentLBA = lastLBA
	backup.BackupLBA = 1
	backup.PartitionArrayCRC32 = entriesCRC
	backupHeader = encodeHeader(backup)

	return primaryHeader, entries, backupHeader
}

// encodeHeader renders h into the 92-byte on-disk layout and computes its
// own HeaderCRC32 over the header with that field zeroed, mirroring the
// validation Parse performs.
func encodeHeader(h Header) []byte {
	raw := make([]byte, headerLen)
	copy(raw[0:8], headerSignature)
	binary.LittleEndian.PutUint32(raw[8:12], h.Revision)
	binary.LittleEndian.PutUint32(raw[12:16], h.HeaderSize)
	// raw[16:20] (HeaderCRC32) left zero until computed below
	binary.LittleEndian.PutUint64(raw[24:32], h.CurrentLBA)
	binary.LittleEndian.PutUint64(raw[32:40], h.BackupLBA)
	binary.LittleEndian.PutUint64(raw[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(raw[48:56], h.LastUsableLBA)
	copy(raw[56:72], bytesToMixedEndian(h.DiskGUID))
	binary.LittleEndian.PutUint64(raw[72:80], h.PartitionEntryLBA)
	binary.LittleEndian.PutUint32(raw[80:84], h.NumPartitionEntries)
	binary.LittleEndian.PutUint32(raw[84:88], h.PartitionEntrySize)
	binary.LittleEndian.PutUint32(raw[88:92], h.PartitionArrayCRC32)

	crc := crc32.ChecksumIEEE(raw)
	binary.LittleEndian.PutUint32(raw[16:20], crc)
	return raw
}

func encodeEntries(partitions []Partition, entrySize uint32) []byte {
	if entrySize == 0 {
		entrySize = entryLen
	}
	maxIndex := int32(-1)
	for _, p := range partitions {
		if p.EntryIndex > maxIndex {
			maxIndex = p.EntryIndex
		}
	}
	count := int(maxIndex) + 1
	out := make([]byte, count*int(entrySize))
	for _, p := range partitions {
		rec := out[int(p.EntryIndex)*int(entrySize) : int(p.EntryIndex)*int(entrySize)+entryLen]
		copy(rec[0:16], bytesToMixedEndian(p.TypeGUID))
		copy(rec[16:32], bytesToMixedEndian(p.UniqueGUID))
		binary.LittleEndian.PutUint64(rec[32:40], p.StartSector)
		binary.LittleEndian.PutUint64(rec[40:48], p.StartSector+p.NumSectors-1)
		binary.LittleEndian.PutUint64(rec[48:56], p.Attributes)
		copy(rec[56:56+nameUTF16Chars*2], encodeNameUTF16(p.Name))
	}
	return out
}

func encodeNameUTF16(name string) []byte {
	u16 := utf16.Encode([]rune(name))
	if len(u16) > nameUTF16Chars {
		u16 = u16[:nameUTF16Chars]
	}
	out := make([]byte, nameUTF16Chars*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], v)
	}
	return out
}
