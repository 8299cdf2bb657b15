package pac

import "testing"

// TestAssembleSize64Quirk locks in the legacy reversed-assembly rule
// verbatim per spec §4.4/§9: preserved exactly, not "fixed".
func TestAssembleSize64Quirk(t *testing.T) {
	cases := []struct {
		hi, lo uint32
		want   uint64
	}{
		{hi: 5, lo: 1, want: 5},             // hi>2: take hi whole
		{hi: 1, lo: 9, want: 9},             // hi<=2, lo>2: take lo whole
		{hi: 1, lo: 2, want: uint64(1)<<32 | 2}, // both <=2: concatenate
		{hi: 0, lo: 0, want: 0},
	}
	for _, c := range cases {
		got := assembleSize64(c.hi, c.lo)
		if got != c.want {
			t.Errorf("assembleSize64(%d,%d) = %d, want %d", c.hi, c.lo, got, c.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		part, file string
		want       FileType
	}{
		{"FDL", "target_fdl1.bin", TypeFDL1},
		{"fdl2", "target_fdl2.bin", TypeFDL2},
		{"config", "config.xml", TypeXML},
		{"boot", "boot.img", TypeBoot},
		{"system", "system.img", TypeSystem},
		{"userdata", "userdata.img", TypeUserData},
		{"splloader", "splloader.bin", TypePartition},
	}
	for _, c := range cases {
		if got := classify(c.part, c.file); got != c.want {
			t.Errorf("classify(%q,%q) = %s, want %s", c.part, c.file, got, c.want)
		}
	}
}
