// Package rawprogram parses vendor rawprogram*.xml / patch*.xml
// descriptors (the second half of C5), the flash-task source the Firehose
// engine's Program/Patch calls are driven from.
package rawprogram

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flashkit/flashkit/internal/ferr"
)

// Task is one `program` element resolved to the data-model "Flash task"
// shape of spec §3.
type Task struct {
	Label         string
	LUN           int
	StartSector   uint64
	NumSectors    uint64
	SectorSize    uint32
	FilePath      string // resolved relative to the XML's directory; "" means "skip"
	FileOffset    uint64
	Sparse        bool
	IsSensitive   bool
}

// Patch is one `patch` element: a byte-level fixup applied after program
// tasks (typically GPT attribute patches).
type Patch struct {
	LUN          int
	ByteOffset   uint64
	SizeInBytes  uint32
	Value        string
	Filename     string
}

// sensitiveNames identifies bootloader/modem/persist/RPMB-class partitions
// that must never be auto-checked for flashing (spec §4.5 is_sensitive).
var sensitiveNames = []string{
	"xbl", "xbl_config", "abl", "aboot", "sbl1", "tz", "hyp", "pmic",
	"modem", "nvdata", "nvitem", "persist", "rpmb", "devcfg", "keymaster",
	"cmnlib", "dsp", "bluetooth", "fsg", "mdm", "rawdump",
}

// IsSensitive implements spec §4.5's predicate: a substring match against
// the known sensitive-partition families (case-insensitive).
func IsSensitive(label string) bool {
	l := strings.ToLower(label)
	for _, n := range sensitiveNames {
		if strings.Contains(l, n) {
			return true
		}
	}
	return false
}

// xmlProgram mirrors the raw `program` element's attributes before
// resolution (start_sector may be a literal integer or an expression,
// per spec §4.5).
type xmlProgram struct {
	Label              string `xml:"label,attr"`
	PhysicalPartition  string `xml:"physical_partition_number,attr"`
	StartSector        string `xml:"start_sector,attr"`
	NumPartitionSectors string `xml:"num_partition_sectors,attr"`
	Filename           string `xml:"filename,attr"`
	FileSectorOffset   string `xml:"file_sector_offset,attr"`
	SectorSizeInBytes  string `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	Sparse             string `xml:"sparse,attr"`
}

type xmlPatch struct {
	PhysicalPartition string `xml:"physical_partition_number,attr"`
	ByteOffset        string `xml:"byte_offset,attr"`
	SizeInBytes       string `xml:"size_in_bytes,attr"`
	Value             string `xml:"value,attr"`
	Filename          string `xml:"filename,attr"`
}

type xmlRoot struct {
	XMLName  xml.Name     `xml:"data"`
	Programs []xmlProgram `xml:"program"`
	Patches  []xmlPatch   `xml:"patch"`
}

// Parse reads a rawprogram/patch XML document. dir is the directory the
// XML file lives in; `filename` attributes are resolved relative to it
// (spec §4.5). An empty filename means "skip" — the range is still
// reserved in the returned Task.
func Parse(r io.Reader, dir string) ([]Task, []Patch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, ferr.Wrap("rawprogram.Parse", ferr.KindIoFault, err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var root xmlRoot
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, ferr.Wrap("rawprogram.Parse", ferr.KindBadXml, err)
	}

	tasks := make([]Task, 0, len(root.Programs))
	for _, p := range root.Programs {
		lun, err := strconv.Atoi(strings.TrimSpace(p.PhysicalPartition))
		if err != nil {
			return nil, nil, ferr.New("rawprogram.Parse", ferr.KindBadXml, "bad physical_partition_number: "+p.PhysicalPartition)
		}
		startSector, err := parseSectorExpr(p.StartSector)
		if err != nil {
			return nil, nil, err
		}
		numSectors, err := strconv.ParseUint(strings.TrimSpace(p.NumPartitionSectors), 10, 64)
		if err != nil {
			return nil, nil, ferr.New("rawprogram.Parse", ferr.KindBadXml, "bad num_partition_sectors: "+p.NumPartitionSectors)
		}
		sectorSize := uint64(512)
		if p.SectorSizeInBytes != "" {
			sectorSize, err = strconv.ParseUint(strings.TrimSpace(p.SectorSizeInBytes), 10, 32)
			if err != nil {
				return nil, nil, ferr.New("rawprogram.Parse", ferr.KindBadXml, "bad SECTOR_SIZE_IN_BYTES")
			}
		}
		fileOffset := uint64(0)
		if p.FileSectorOffset != "" {
			fileOffset, _ = strconv.ParseUint(strings.TrimSpace(p.FileSectorOffset), 10, 64)
		}

		path := ""
		if p.Filename != "" {
			path = filepath.Join(dir, p.Filename)
		}

		tasks = append(tasks, Task{
			Label:       p.Label,
			LUN:         lun,
			StartSector: startSector,
			NumSectors:  numSectors,
			SectorSize:  uint32(sectorSize),
			FilePath:    path,
			FileOffset:  fileOffset,
			Sparse:      strings.EqualFold(strings.TrimSpace(p.Sparse), "true"),
			IsSensitive: IsSensitive(p.Label),
		})
	}

	patches := make([]Patch, 0, len(root.Patches))
	for _, p := range root.Patches {
		lun, _ := strconv.Atoi(strings.TrimSpace(p.PhysicalPartition))
		byteOffset, _ := strconv.ParseUint(strings.TrimSpace(p.ByteOffset), 0, 64)
		size, _ := strconv.ParseUint(strings.TrimSpace(p.SizeInBytes), 10, 32)
		patches = append(patches, Patch{
			LUN:         lun,
			ByteOffset:  byteOffset,
			SizeInBytes: uint32(size),
			Value:       p.Value,
			Filename:    p.Filename,
		})
	}

	return tasks, patches, nil
}

// parseSectorExpr accepts either a literal integer or a simple
// "NUM_DISK_SECTORS-N" style expression some rawprogram generators emit
// for the final partition; a NUM_DISK_SECTORS expression parses as 0 and is
// resolved later by ResolveDiskRelative.
func parseSectorExpr(raw string) (uint64, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	if strings.HasPrefix(s, "NUM_DISK_SECTORS") {
		// Deferred: caller resolves via ResolveDiskRelative once LUN
		// capacity is known (e.g. from GPT or getstorageinfo).
		return 0, nil
	}
	return 0, ferr.New("rawprogram.parseSectorExpr", ferr.KindBadXml, "unrecognised start_sector expression: "+raw)
}

// ResolveDiskRelative re-evaluates a "NUM_DISK_SECTORS-N" expression now
// that the LUN's total sector count is known, returning the literal
// sector index.
func ResolveDiskRelative(raw string, totalSectors uint64) (uint64, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	rest, ok := strings.CutPrefix(s, "NUM_DISK_SECTORS")
	if !ok {
		return 0, ferr.New("rawprogram.ResolveDiskRelative", ferr.KindBadXml, "not a NUM_DISK_SECTORS expression: "+raw)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return totalSectors, nil
	}
	if strings.HasPrefix(rest, "-") {
		n, err := strconv.ParseUint(strings.TrimPrefix(rest, "-"), 10, 64)
		if err != nil {
			return 0, ferr.New("rawprogram.ResolveDiskRelative", ferr.KindBadXml, "bad offset in: "+raw)
		}
		if n > totalSectors {
			return 0, ferr.New("rawprogram.ResolveDiskRelative", ferr.KindBadXml, "offset exceeds disk size")
		}
		return totalSectors - n, nil
	}
	return 0, ferr.New("rawprogram.ResolveDiskRelative", ferr.KindBadXml, "unrecognised expression: "+raw)
}
