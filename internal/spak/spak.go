// Package spak implements a read-only reader for the SPAK resource
// container (spec §6): a keyed blob store the core consumes to pull a
// Qualcomm programmer, a rawprogram.xml, or a Unisoc PAC out of a single
// packaged file without the caller knowing the on-disk layout (spec §C.4's
// supplemented Category/Subcategory routing).
package spak

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	magic         = "SPAK"
	version0200   = 0x0200
	headerLen     = 32
	entryLen      = 128
	flagGzip      = 1 << 0
)

// Header is the 32-byte SPAK container header.
type Header struct {
	Version    uint16
	EntryCount uint32
	Flags      uint32
	Checksum   uint32
	DataOffset uint32
}

// Entry is one 128-byte SPAK directory record.
type Entry struct {
	Name             string
	Category         string
	Subcategory      string
	DataOffset       uint32
	CompressedSize   uint32
	OriginalSize     uint32
	CRC32            uint32
	Type             uint32
	Flags            uint32
	Address          uint32
}

// Gzipped reports whether this entry's body is gzip-compressed (flag bit
// 0), per spec §6.
func (e Entry) Gzipped() bool { return e.Flags&flagGzip != 0 }

// Pack is a fully-indexed, read-only SPAK container. Once loaded, it may be
// queried by many callers concurrently (spec §5: "read-only after load";
// Pack itself performs no internal locking beyond what reading an
// already-populated slice/map provides for free).
type Pack struct {
	data    []byte
	header  Header
	entries []Entry
}

// Open parses data's header and directory into a Pack. The blob bodies
// themselves are not read until Extract/ExtractByName is called.
func Open(data []byte) (*Pack, error) {
	if len(data) < headerLen {
		return nil, ferr.New("spak.Open", ferr.KindBadLength, "container shorter than header")
	}
	if string(data[0:4]) != magic {
		return nil, ferr.New("spak.Open", ferr.KindBadMagic, "")
	}
	h := Header{
		Version:    binary.LittleEndian.Uint16(data[4:6]),
		EntryCount: binary.LittleEndian.Uint32(data[8:12]),
		Flags:      binary.LittleEndian.Uint32(data[12:16]),
		Checksum:   binary.LittleEndian.Uint32(data[16:20]),
		DataOffset: binary.LittleEndian.Uint32(data[20:24]),
	}
	if h.Version != version0200 {
		return nil, ferr.New("spak.Open", ferr.KindBadMagic, "unrecognised SPAK version")
	}

	dirStart := headerLen
	dirLen := int(h.EntryCount) * entryLen
	if dirStart+dirLen > len(data) {
		return nil, ferr.New("spak.Open", ferr.KindBadLength, "directory exceeds container length")
	}

	entries := make([]Entry, 0, h.EntryCount)
	for i := 0; i < int(h.EntryCount); i++ {
		rec := data[dirStart+i*entryLen : dirStart+(i+1)*entryLen]
		entries = append(entries, Entry{
			Name:           cString(rec[0:32]),
			Category:       cString(rec[32:48]),
			Subcategory:    cString(rec[48:64]),
			DataOffset:     binary.LittleEndian.Uint32(rec[64:68]),
			CompressedSize: binary.LittleEndian.Uint32(rec[68:72]),
			OriginalSize:   binary.LittleEndian.Uint32(rec[72:76]),
			CRC32:          binary.LittleEndian.Uint32(rec[76:80]),
			Type:           binary.LittleEndian.Uint32(rec[80:84]),
			Flags:          binary.LittleEndian.Uint32(rec[84:88]),
			Address:        binary.LittleEndian.Uint32(rec[88:92]),
		})
	}

	return &Pack{data: data, header: h, entries: entries}, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Entries returns the directory, in on-disk order.
func (p *Pack) Entries() []Entry { return p.entries }

// Lookup finds entries matching category/subcategory (either may be ""
// to mean "any"), the routing the facade uses to fetch a vendor's
// loader/rawprogram/PAC without knowing file names (spec §C.4).
func (p *Pack) Lookup(category, subcategory string) []Entry {
	var out []Entry
	for _, e := range p.entries {
		if category != "" && e.Category != category {
			continue
		}
		if subcategory != "" && e.Subcategory != subcategory {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ExtractByName decompresses (if needed) and returns the named entry's
// body, validating its CRC32 against the original (decompressed) bytes.
func (p *Pack) ExtractByName(name string) ([]byte, error) {
	for _, e := range p.entries {
		if e.Name == name {
			return p.Extract(e)
		}
	}
	return nil, ferr.New("spak.ExtractByName", ferr.KindPartitionNotFound, name)
}

// Extract decompresses e's body (gzip, when Gzipped()) and validates its
// CRC32.
func (p *Pack) Extract(e Entry) ([]byte, error) {
	base := int(p.header.DataOffset) + int(e.DataOffset)
	if base+int(e.CompressedSize) > len(p.data) {
		return nil, ferr.New("spak.Extract", ferr.KindBadLength, "entry body exceeds container length")
	}
	body := p.data[base : base+int(e.CompressedSize)]

	var out []byte
	if e.Gzipped() {
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, ferr.Wrap("spak.Extract", ferr.KindIoFault, err)
		}
		defer gr.Close()
		out, err = io.ReadAll(gr)
		if err != nil {
			return nil, ferr.Wrap("spak.Extract", ferr.KindIoFault, err)
		}
	} else {
		out = append([]byte(nil), body...)
	}

	if uint32(len(out)) != e.OriginalSize {
		return nil, ferr.New("spak.Extract", ferr.KindBadLength, "decompressed size mismatch")
	}
	if crc32.ChecksumIEEE(out) != e.CRC32 {
		return nil, ferr.New("spak.Extract", ferr.KindBadChecksum, "entry CRC32 mismatch")
	}
	return out, nil
}
