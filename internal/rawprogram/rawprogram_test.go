package rawprogram

import (
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0" ?>
<data>
<program SECTOR_SIZE_IN_BYTES="4096" file_sector_offset="0" filename="xbl.elf"
  label="xbl_a" num_partition_sectors="256" physical_partition_number="0"
  start_sector="100"/>
<program SECTOR_SIZE_IN_BYTES="4096" filename="" label="misc"
  num_partition_sectors="16" physical_partition_number="0" start_sector="NUM_DISK_SECTORS-16"/>
<patch SizeInBytes="4" byte_offset="200" filename="DISK" physical_partition_number="0" value="0"/>
</data>
`

func TestParse_ResolvesLiteralAndDeferredSectors(t *testing.T) {
	tasks, patches, err := Parse(strings.NewReader(sampleXML), "/loaders/sample")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}

	xbl := tasks[0]
	if xbl.Label != "xbl_a" || xbl.StartSector != 100 || xbl.NumSectors != 256 {
		t.Errorf("unexpected xbl task: %+v", xbl)
	}
	if xbl.FilePath != "/loaders/sample/xbl.elf" {
		t.Errorf("expected resolved path, got %q", xbl.FilePath)
	}
	if !xbl.IsSensitive {
		t.Error("expected xbl_a to be sensitive")
	}

	misc := tasks[1]
	if misc.StartSector != 0 {
		t.Errorf("deferred NUM_DISK_SECTORS expression should resolve to 0 until ResolveDiskRelative runs, got %d", misc.StartSector)
	}
	if misc.FilePath != "" {
		t.Errorf("empty filename should mean skip, got %q", misc.FilePath)
	}

	if len(patches) != 1 || patches[0].ByteOffset != 200 {
		t.Fatalf("unexpected patches: %+v", patches)
	}
}

func TestIsSensitive(t *testing.T) {
	cases := map[string]bool{
		"xbl_a":      true,
		"ABL":        true,
		"modemst1":   true,
		"persist":    true,
		"userdata":   false,
		"boot_a":     false,
		"TZ":         true,
	}
	for name, want := range cases {
		if got := IsSensitive(name); got != want {
			t.Errorf("IsSensitive(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestResolveDiskRelative(t *testing.T) {
	n, err := ResolveDiskRelative("NUM_DISK_SECTORS-16", 1000)
	if err != nil {
		t.Fatalf("ResolveDiskRelative: %v", err)
	}
	if n != 984 {
		t.Errorf("expected 984, got %d", n)
	}

	if _, err := ResolveDiskRelative("NUM_DISK_SECTORS-5000", 1000); err == nil {
		t.Error("expected error when offset exceeds disk size")
	}

	n, err = ResolveDiskRelative("42", 1000)
	if err != nil || n != 42 {
		t.Errorf("literal passthrough failed: n=%d err=%v", n, err)
	}
}
