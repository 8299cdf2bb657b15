// Package sparse implements C3: the Android sparse image codec. Decode
// produces a lazy sequence of (device-offset, data-source) chunk records;
// Encode does the inverse for the rare loader that cannot accept sparse
// images directly.
package sparse

import (
	"encoding/binary"
	"io"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	magic        = 0xED26FF3A
	headerLen    = 28
	chunkHdrLen  = 12
	majorVersion = 1
)

// ChunkType enumerates the four sparse chunk kinds (spec §4.3).
type ChunkType uint16

const (
	ChunkRaw      ChunkType = 0xCAC1
	ChunkFill     ChunkType = 0xCAC2
	ChunkDontCare ChunkType = 0xCAC3
	ChunkCRC32    ChunkType = 0xCAC4
)

// Header is the 28-byte sparse image header.
type Header struct {
	Major, Minor   uint16
	BlockSize      uint32
	TotalBlocks    uint32
	TotalChunks    uint32
	ImageChecksum  uint32
}

// Chunk is a single decoded record: Offset/Length describe where it lands
// in the reconstructed device image. RAW chunks carry Data inline; FILL
// chunks carry a 4-byte repeating Pattern; DONT_CARE chunks carry neither
// and simply advance the offset.
type Chunk struct {
	Type    ChunkType
	Offset  uint64 // byte offset into the reconstructed image
	Length  uint64 // byte length this chunk contributes to the image
	Data    []byte // RAW only
	Pattern uint32 // FILL only
}

// Reader decodes a sparse image from r lazily: Next() returns one Chunk at
// a time without materializing the whole image in memory.
type Reader struct {
	r      io.Reader
	header Header
	offset uint64
	remain uint32 // chunks left to read
}

// NewReader parses the sparse header and returns a Reader positioned at the
// first chunk.
func NewReader(r io.Reader) (*Reader, error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ferr.Wrap("sparse.NewReader", ferr.KindBadSparse, err)
	}
	m := binary.LittleEndian.Uint32(buf[0:4])
	if m != magic {
		return nil, ferr.New("sparse.NewReader", ferr.KindBadMagic, "")
	}
	h := Header{
		Major:         binary.LittleEndian.Uint16(buf[4:6]),
		Minor:         binary.LittleEndian.Uint16(buf[6:8]),
		BlockSize:     binary.LittleEndian.Uint32(buf[16:20]),
		TotalBlocks:   binary.LittleEndian.Uint32(buf[20:24]),
		TotalChunks:   binary.LittleEndian.Uint32(buf[24:28]),
	}
	if h.Major != majorVersion {
		return nil, ferr.New("sparse.NewReader", ferr.KindBadSparse, "unsupported major version")
	}
	return &Reader{r: r, header: h, remain: h.TotalChunks}, nil
}

// Header returns the parsed sparse header.
func (rd *Reader) Header() Header { return rd.header }

// Next returns the next chunk, or io.EOF once all TotalChunks have been
// consumed. It rejects chunks whose declared size disagrees with the
// on-wire bytes, per spec §4.3.
func (rd *Reader) Next() (Chunk, error) {
	if rd.remain == 0 {
		return Chunk{}, io.EOF
	}
	rd.remain--

	hdr := make([]byte, chunkHdrLen)
	if _, err := io.ReadFull(rd.r, hdr); err != nil {
		return Chunk{}, ferr.Wrap("sparse.Next", ferr.KindBadSparse, err)
	}
	ctype := ChunkType(binary.LittleEndian.Uint16(hdr[0:2]))
	chunkBlocks := binary.LittleEndian.Uint32(hdr[4:8])
	totalSz := binary.LittleEndian.Uint32(hdr[8:12])

	length := uint64(chunkBlocks) * uint64(rd.header.BlockSize)
	c := Chunk{Type: ctype, Offset: rd.offset, Length: length}

	switch ctype {
	case ChunkRaw:
		bodyLen := totalSz - chunkHdrLen
		if uint64(bodyLen) != length {
			return Chunk{}, ferr.New("sparse.Next", ferr.KindBadSparse, "raw chunk size mismatch")
		}
		data := make([]byte, bodyLen)
		if _, err := io.ReadFull(rd.r, data); err != nil {
			return Chunk{}, ferr.Wrap("sparse.Next", ferr.KindBadSparse, err)
		}
		c.Data = data

	case ChunkFill:
		if totalSz-chunkHdrLen != 4 {
			return Chunk{}, ferr.New("sparse.Next", ferr.KindBadSparse, "fill chunk must carry a 4-byte pattern")
		}
		pat := make([]byte, 4)
		if _, err := io.ReadFull(rd.r, pat); err != nil {
			return Chunk{}, ferr.Wrap("sparse.Next", ferr.KindBadSparse, err)
		}
		c.Pattern = binary.LittleEndian.Uint32(pat)

	case ChunkDontCare:
		if totalSz != chunkHdrLen {
			return Chunk{}, ferr.New("sparse.Next", ferr.KindBadSparse, "dont-care chunk must carry no body")
		}

	case ChunkCRC32:
		body := make([]byte, totalSz-chunkHdrLen)
		if _, err := io.ReadFull(rd.r, body); err != nil {
			return Chunk{}, ferr.Wrap("sparse.Next", ferr.KindBadSparse, err)
		}
		c.Data = body

	default:
		return Chunk{}, ferr.New("sparse.Next", ferr.KindBadSparse, "unknown chunk type")
	}

	rd.offset += length
	return c, nil
}

// Expand writes the fully-materialized chunk body to w: inline bytes for
// RAW, a repeated pattern for FILL, nothing for DONT_CARE/CRC32.
func (c Chunk) Expand(w io.Writer) error {
	switch c.Type {
	case ChunkRaw:
		_, err := w.Write(c.Data)
		return err
	case ChunkFill:
		pat := make([]byte, 4)
		binary.LittleEndian.PutUint32(pat, c.Pattern)
		remaining := c.Length
		for remaining > 0 {
			n := uint64(len(pat))
			if n > remaining {
				n = remaining
			}
			if _, err := w.Write(pat[:n]); err != nil {
				return err
			}
			remaining -= n
		}
		return nil
	default:
		return nil
	}
}
