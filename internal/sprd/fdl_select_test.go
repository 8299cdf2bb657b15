package sprd

import "testing"

func TestResolveFdl_UserOverridesEverything(t *testing.T) {
	user := FdlCandidate{Path: "/user/fdl1.bin", Address: 0x1000}
	pacXML := FdlCandidate{Path: "/pac/fdl1.bin", Address: 0x2000}
	pacEmbedded := FdlCandidate{Path: "/embed/fdl1.bin", Address: 0x3000}
	chipDB := FdlCandidate{Path: "/chipdb/fdl1.bin", Address: 0x4000}

	sel := ResolveFdl(user, pacXML, pacEmbedded, chipDB)
	if sel.Path != user.Path || sel.Address != user.Address || sel.Source != SourceUser {
		t.Errorf("expected user tier to win outright, got %+v", sel)
	}
}

func TestResolveFdl_PathAndAddressResolveIndependently(t *testing.T) {
	// User overrides only the address; path should fall through to PAC-XML.
	user := FdlCandidate{Address: 0x9000}
	pacXML := FdlCandidate{Path: "/pac/fdl1.bin"}

	sel := ResolveFdl(user, pacXML, FdlCandidate{}, FdlCandidate{})
	if sel.Path != "/pac/fdl1.bin" {
		t.Errorf("expected path from pac-xml tier, got %q", sel.Path)
	}
	if sel.Address != 0x9000 {
		t.Errorf("expected address from user tier, got %#x", sel.Address)
	}
	if sel.Source != SourceUser {
		t.Errorf("expected overall source to report user (address override), got %v", sel.Source)
	}
}

func TestResolveFdl_FallsBackToChipDatabase(t *testing.T) {
	chipDB := FdlCandidate{Path: "/chipdb/fdl2.bin", Address: 0x65000000}
	sel := ResolveFdl(FdlCandidate{}, FdlCandidate{}, FdlCandidate{}, chipDB)
	if sel.Path != chipDB.Path || sel.Address != chipDB.Address || sel.Source != SourceChipDB {
		t.Errorf("expected chip-database fallback, got %+v", sel)
	}
}

func TestValidatePartitionName(t *testing.T) {
	if err := ValidatePartitionName("fdl2"); err != nil {
		t.Errorf("expected short name to validate, got %v", err)
	}
	long := make([]byte, 33)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidatePartitionName(string(long)); err == nil {
		t.Error("expected error for name over 32 ASCII characters")
	}
}
