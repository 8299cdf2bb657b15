package pac

import (
	"io"

	"github.com/flashkit/flashkit/internal/ferr"
)

// Package is a fully-parsed PAC firmware container: its header plus the
// resolved file-entry table.
type Package struct {
	Header  Header
	Entries []Entry
	size    int64
}

// Parse reads a complete PAC file from r (the whole file is needed because
// R1's entry table length is only discoverable by walking from the start,
// and invariant 3 (§8) requires knowing the total file size up front).
// Parse is idempotent: calling it twice on the same bytes yields identical
// Package values.
func Parse(r io.ReaderAt, size int64) (Package, error) {
	const headerReadLen = versionFieldLen + 8 + productNameLen + firmwareNameLen + 4 + 4 + productAliasLen + 4 + 2 + 2
	headerBuf := make([]byte, headerReadLen)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return Package{}, ferr.Wrap("pac.Parse", ferr.KindBadPac, err)
	}
	header, err := ParseHeader(headerBuf)
	if err != nil {
		return Package{}, err
	}

	if int64(header.PartitionListOffset) > size {
		return Package{}, ferr.New("pac.Parse", ferr.KindBadPac, "partition list offset beyond file size")
	}
	tableBuf := make([]byte, size-int64(header.PartitionListOffset))
	if _, err := r.ReadAt(tableBuf, int64(header.PartitionListOffset)); err != nil && err != io.EOF {
		return Package{}, ferr.Wrap("pac.Parse", ferr.KindBadPac, err)
	}

	var entries []Entry
	switch header.Version {
	case VersionR2:
		nameTable, fileNames := splitR2NameTable(tableBuf, header.PartitionCount)
		entryData := tableBuf[nameTableLen(header.PartitionCount):]
		entries, err = ParseEntriesR2(entryData, header.PartitionCount, nameTable, fileNames)
	case VersionR1:
		raw, rerr := splitR1Records(tableBuf, header.PartitionCount)
		err = rerr
		if err == nil {
			entries = ParseEntriesR1(raw)
		}
	default:
		err = ferr.New("pac.Parse", ferr.KindBadPac, "unrecognised version")
	}
	if err != nil {
		return Package{}, err
	}

	pkg := Package{Header: header, Entries: entries, size: size}
	if err := pkg.validateSize(); err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// validateSize enforces invariant 3 (§8): Σ(file-entry sizes) +
// data-area-start ≤ PAC file size.
func (p Package) validateSize() error {
	var sum uint64
	for _, e := range p.Entries {
		sum += e.Size
	}
	if int64(sum)+int64(p.Header.PartitionListOffset) > p.size {
		return ferr.New("pac.validateSize", ferr.KindBadPac, "entry sizes exceed file size")
	}
	return nil
}

// ExtractByID returns an io.SectionReader over the named partition's bytes
// within the backing PAC, or ferr.KindPartitionNotFound.
func (p Package) ExtractByID(r io.ReaderAt, partitionName string) (*io.SectionReader, error) {
	for _, e := range p.Entries {
		if e.PartitionName == partitionName {
			return io.NewSectionReader(r, int64(e.DataOffset), int64(e.Size)), nil
		}
	}
	return nil, ferr.New("pac.ExtractByID", ferr.KindPartitionNotFound, partitionName)
}

// FindByType returns the first entry classified as typ (e.g. TypeFDL1, the
// embedded XML config), or ok=false if the package carries none.
func (p Package) FindByType(typ FileType) (Entry, bool) {
	for _, e := range p.Entries {
		if e.Type == typ {
			return e, true
		}
	}
	return Entry{}, false
}

// ExtractByType extracts e's bytes given r (the same ReaderAt passed to
// Parse), for one-shot load-and-decode callers like the embedded XML
// config or an FDL image that the caller needs in memory rather than as a
// lazy SectionReader.
func (p Package) ExtractByType(r io.ReaderAt, typ FileType) ([]byte, error) {
	e, ok := p.FindByType(typ)
	if !ok {
		return nil, ferr.New("pac.ExtractByType", ferr.KindPartitionNotFound, string(typ))
	}
	buf := make([]byte, e.Size)
	if _, err := r.ReadAt(buf, int64(e.DataOffset)); err != nil {
		return nil, ferr.Wrap("pac.ExtractByType", ferr.KindBadPac, err)
	}
	return buf, nil
}

// nameTableLen is R2's fixed 16-UTF16-char (32-byte) partition-name slot
// width times count, matching ParseEntriesR2's nameTable indexing.
func nameTableLen(count uint32) int { return int(count) * 32 }

// splitR2NameTable slices tableBuf's leading fixed-width name region into
// per-entry name byte slices, and recovers file names from the same slot
// (R2 stores file name immediately after partition name per entry).
func splitR2NameTable(tableBuf []byte, count uint32) ([][]byte, []string) {
	names := make([][]byte, 0, count)
	fileNames := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		start := int(i) * 32
		if start+32 > len(tableBuf) {
			names = append(names, nil)
			fileNames = append(fileNames, "")
			continue
		}
		names = append(names, tableBuf[start:start+32])
		fileNames = append(fileNames, "") // R2 file names are embedded XML-resolved, see xml.go
	}
	return names, fileNames
}
