// Package chipdb defines the chip/device database and cloud loader-match
// lookup as a consumed-only interface (spec §1: "Chip / device FDL
// databases and cloud loader-match HTTP client (consumed as a lookup
// interface)"), plus an in-memory implementation seeded from a small
// built-in table so the SPRD address-resolution precedence (spec §4.10)
// and Sahara/Firehose loader-directory lookup can be exercised end-to-end
// without a network dependency (spec §C.5).
package chipdb

import "github.com/flashkit/flashkit/internal/ferr"

// ChipEntry is one chip/device database record: default FDL load
// addresses and a known-good loader directory hint.
type ChipEntry struct {
	ChipID        uint32
	Name          string
	Fdl1Address   uint32
	Fdl2Address   uint32
	LoaderDir     string // hint for Sahara/Firehose loader-file lookup
}

// DB is the consumed interface a SPRD/Sahara engine queries for chip
// defaults; the cloud loader-match service (out of scope per spec §1)
// would implement the same shape over HTTP.
type DB interface {
	Lookup(chipID uint32) (ChipEntry, error)
}

// MemoryDB is an in-memory DB seeded at construction, for tests and for
// environments without network access to a cloud loader-match service.
type MemoryDB struct {
	entries map[uint32]ChipEntry
}

// NewMemoryDB builds a MemoryDB from a small built-in table of common
// Spreadtrum/Unisoc chip IDs. Callers may Add further entries (e.g. loaded
// from a SPAK pack) before first Lookup.
func NewMemoryDB() *MemoryDB {
	db := &MemoryDB{entries: make(map[uint32]ChipEntry)}
	for _, e := range builtinTable {
		db.entries[e.ChipID] = e
	}
	return db
}

// Add inserts or overwrites an entry.
func (db *MemoryDB) Add(e ChipEntry) { db.entries[e.ChipID] = e }

// Lookup implements DB.
func (db *MemoryDB) Lookup(chipID uint32) (ChipEntry, error) {
	e, ok := db.entries[chipID]
	if !ok {
		return ChipEntry{}, ferr.New("chipdb.Lookup", ferr.KindMissingLoader, "unknown chip id")
	}
	return e, nil
}

// builtinTable holds a handful of well-documented SPRD chip IDs and their
// conventional FDL load addresses. Whether a given device still accepts
// these addresses depends on its FDL build, same caveat as the MiAuth
// blobs (spec §9 Open Questions) — this table is a starting point a
// caller is expected to extend, not an exhaustive database.
var builtinTable = []ChipEntry{
	{ChipID: 0x9863, Name: "SC9863A", Fdl1Address: 0x00005000, Fdl2Address: 0x65000000},
	{ChipID: 0x8541, Name: "SC8541E", Fdl1Address: 0x00005000, Fdl2Address: 0x9EFFFE00},
	{ChipID: 0x9832, Name: "SC9832E", Fdl1Address: 0x00000800, Fdl2Address: 0x40000000},
}
