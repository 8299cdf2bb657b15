package chipdb

import "testing"

func TestMemoryDB_LookupBuiltin(t *testing.T) {
	db := NewMemoryDB()
	e, err := db.Lookup(0x9863)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Name != "SC9863A" || e.Fdl1Address != 0x00005000 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestMemoryDB_LookupUnknown(t *testing.T) {
	db := NewMemoryDB()
	if _, err := db.Lookup(0xffffffff); err == nil {
		t.Error("expected error for unknown chip id")
	}
}

func TestMemoryDB_AddOverridesBuiltin(t *testing.T) {
	db := NewMemoryDB()
	db.Add(ChipEntry{ChipID: 0x9863, Name: "custom", Fdl1Address: 0x1000})
	e, err := db.Lookup(0x9863)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Name != "custom" || e.Fdl1Address != 0x1000 {
		t.Errorf("Add should override builtin entry, got %+v", e)
	}
}
