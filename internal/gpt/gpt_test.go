package gpt

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func buildDisk(t *testing.T, sectorSize uint32, lastLBA uint64, hdr Header, parts []Partition) []byte {
	t.Helper()
	table := Table{Header: hdr, Partitions: parts, SectorSize: sectorSize}
	primary, entries, backup := Serialize(table, lastLBA)

	disk := make([]byte, (lastLBA+1)*uint64(sectorSize))
	copy(disk[sectorSize:], primary)
	copy(disk[uint64(sectorSize)*2:], entries)
	copy(disk[uint64(sectorSize)*lastLBA:], backup)
	return disk
}

func sampleHeaderAndPartitions() (Header, []Partition) {
	diskGUID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	hdr := Header{
		Revision:            0x00010000,
		HeaderSize:          92,
		FirstUsableLBA:      3,
		LastUsableLBA:       9,
		DiskGUID:            diskGUID,
		PartitionEntryLBA:   2,
		NumPartitionEntries: 2,
		PartitionEntrySize:  128,
	}
	parts := []Partition{
		{
			Name:        "boot_a",
			StartSector: 3,
			NumSectors:  2,
			TypeGUID:    uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
			UniqueGUID:  uuid.MustParse("00000000-0000-0000-0000-000000000001"),
			EntryIndex:  0,
		},
		{
			Name:        "system_a",
			StartSector: 5,
			NumSectors:  3,
			TypeGUID:    uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
			UniqueGUID:  uuid.MustParse("00000000-0000-0000-0000-000000000002"),
			EntryIndex:  1,
		},
	}
	return hdr, parts
}

func TestSerializeParse_RoundTrip(t *testing.T) {
	hdr, parts := sampleHeaderAndPartitions()
	const sectorSize = 512
	const lastLBA = 10

	disk := buildDisk(t, sectorSize, lastLBA, hdr, parts)

	table, err := Parse(disk, sectorSize, lastLBA)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if table.UsedBackupHeader() {
		t.Error("expected primary header to validate, not fall back to backup")
	}
	if len(table.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(table.Partitions))
	}
	if table.Partitions[0].Name != "boot_a" || table.Partitions[1].Name != "system_a" {
		t.Errorf("unexpected partition names: %+v", table.Partitions)
	}
	if !reflect.DeepEqual(table.Partitions[0].TypeGUID, parts[0].TypeGUID) {
		t.Errorf("TypeGUID mismatch: got %v want %v", table.Partitions[0].TypeGUID, parts[0].TypeGUID)
	}
	if table.Header.DiskGUID != hdr.DiskGUID {
		t.Errorf("DiskGUID mismatch: got %v want %v", table.Header.DiskGUID, hdr.DiskGUID)
	}
}

func TestParse_FallsBackToBackupHeaderOnCorruptPrimary(t *testing.T) {
	hdr, parts := sampleHeaderAndPartitions()
	const sectorSize = 512
	const lastLBA = 10

	disk := buildDisk(t, sectorSize, lastLBA, hdr, parts)
	// Corrupt the primary header's signature so it fails validation.
	copy(disk[sectorSize:sectorSize+8], "XXXXXXXX")

	table, err := Parse(disk, sectorSize, lastLBA)
	if err != nil {
		t.Fatalf("Parse should recover from backup header: %v", err)
	}
	if !table.UsedBackupHeader() {
		t.Error("expected fallback to backup header")
	}
	if len(table.Partitions) != 2 {
		t.Fatalf("expected 2 partitions from backup-recovered table, got %d", len(table.Partitions))
	}
}

func TestParse_RejectsTruncatedImage(t *testing.T) {
	if _, err := Parse(make([]byte, 100), 512, 10); err == nil {
		t.Error("expected error for image shorter than two sectors")
	}
}
