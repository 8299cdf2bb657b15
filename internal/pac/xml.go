package pac

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/flashkit/flashkit/internal/ferr"
)

// xmlFileOverride is one <File .../> element inside a PAC's embedded
// configuration XML (spec §4.4: "Embedded XML configuration inside the PAC
// is parsed to override load addresses and file ordering").
type xmlFileOverride struct {
	ID      string `xml:"ID,attr"`
	Addr    string `xml:"Addr,attr"`
}

type xmlFileList struct {
	Files []xmlFileOverride `xml:"File"`
}

// Override is a resolved load-address/order override for one partition.
type Override struct {
	PartitionID string
	LoadAddress uint32
	Order       int
}

// ParseEmbeddedXML decodes a PAC's embedded XML configuration blob (itself
// a PAC entry of Type XML) into an ordered override list.
func ParseEmbeddedXML(data []byte) ([]Override, error) {
	var list xmlFileList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, ferr.New("pac.ParseEmbeddedXML", ferr.KindBadXml, err.Error())
	}
	overrides := make([]Override, 0, len(list.Files))
	for i, f := range list.Files {
		var addr uint32
		if f.Addr != "" {
			addr = parseHexOrDec(f.Addr)
		}
		overrides = append(overrides, Override{PartitionID: f.ID, LoadAddress: addr, Order: i})
	}
	return overrides, nil
}

// ApplyOverrides rewrites entries' LoadAddress where an override names the
// same partition, and reorders entries to match the override list's order
// (entries absent from overrides keep their original relative order,
// appended after the ones that matched).
func ApplyOverrides(entries []Entry, overrides []Override) []Entry {
	order := make(map[string]int, len(overrides))
	addr := make(map[string]uint32, len(overrides))
	for _, o := range overrides {
		order[o.PartitionID] = o.Order
		if o.LoadAddress != 0 {
			addr[o.PartitionID] = o.LoadAddress
		}
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	for i, e := range out {
		if a, ok := addr[e.PartitionName]; ok {
			out[i].LoadAddress = a
		}
	}

	unmatched := len(overrides)
	pos := make(map[string]int, len(out))
	for _, e := range out {
		if o, ok := order[e.PartitionName]; ok {
			pos[e.PartitionName] = o
		} else {
			pos[e.PartitionName] = unmatched
			unmatched++
		}
	}
	sortEntriesByPos(out, pos)
	return out
}

func sortEntriesByPos(entries []Entry, pos map[string]int) {
	// insertion sort: entry tables are small (tens of entries), clarity over asymptotic cleverness
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && pos[entries[j-1].PartitionName] > pos[entries[j].PartitionName] {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
}

func parseHexOrDec(s string) uint32 {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0
		}
		return uint32(v)
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
