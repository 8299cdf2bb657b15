package sparse

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Writer builds a sparse image from a sequence of AppendRaw/AppendFill/
// AppendDontCare calls. Because the total chunk count must be known up
// front for the header, Writer buffers chunk bodies and emits the complete
// image only on Encode.
type Writer struct {
	blockSize uint32
	chunks    []Chunk
}

// NewWriter starts a sparse image builder with the given block size
// (typically 4096).
func NewWriter(blockSize uint32) *Writer {
	return &Writer{blockSize: blockSize}
}

// AppendRaw adds a RAW chunk carrying data verbatim; len(data) must be a
// multiple of the block size.
func (w *Writer) AppendRaw(data []byte) {
	w.chunks = append(w.chunks, Chunk{Type: ChunkRaw, Length: uint64(len(data)), Data: append([]byte(nil), data...)})
}

// AppendFill adds a FILL chunk of length bytes (a multiple of block size)
// repeating pattern.
func (w *Writer) AppendFill(pattern uint32, length uint64) {
	w.chunks = append(w.chunks, Chunk{Type: ChunkFill, Length: length, Pattern: pattern})
}

// AppendDontCare advances the image by length bytes without emitting body
// data.
func (w *Writer) AppendDontCare(length uint64) {
	w.chunks = append(w.chunks, Chunk{Type: ChunkDontCare, Length: length})
}

// Encode serializes the accumulated chunks to w as a complete sparse image.
func (sw *Writer) Encode(w io.Writer) error {
	var totalBlocks uint64
	for _, c := range sw.chunks {
		totalBlocks += c.Length / uint64(sw.blockSize)
	}

	header := make([]byte, headerLen)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint16(header[4:6], majorVersion)
	binary.LittleEndian.PutUint16(header[6:8], 0)
	binary.LittleEndian.PutUint16(header[8:10], headerLen)
	binary.LittleEndian.PutUint16(header[10:12], chunkHdrLen)
	binary.LittleEndian.PutUint32(header[16:20], sw.blockSize)
	binary.LittleEndian.PutUint32(header[20:24], uint32(totalBlocks))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(sw.chunks)))
	if _, err := w.Write(header); err != nil {
		return err
	}

	for _, c := range sw.chunks {
		if err := writeChunk(w, sw.blockSize, c); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(w io.Writer, blockSize uint32, c Chunk) error {
	blocks := uint32(c.Length / uint64(blockSize))
	hdr := make([]byte, chunkHdrLen)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(c.Type))
	binary.LittleEndian.PutUint32(hdr[4:8], blocks)

	switch c.Type {
	case ChunkRaw:
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(chunkHdrLen+len(c.Data)))
		if _, err := w.Write(hdr); err != nil {
			return err
		}
		_, err := w.Write(c.Data)
		return err
	case ChunkFill:
		binary.LittleEndian.PutUint32(hdr[8:12], chunkHdrLen+4)
		if _, err := w.Write(hdr); err != nil {
			return err
		}
		pat := make([]byte, 4)
		binary.LittleEndian.PutUint32(pat, c.Pattern)
		_, err := w.Write(pat)
		return err
	default: // DONT_CARE
		binary.LittleEndian.PutUint32(hdr[8:12], chunkHdrLen)
		_, err := w.Write(hdr)
		return err
	}
}

// EncodeRawImage is a convenience that encodes an arbitrary raw image as a
// single sparse image made of RAW chunks block-aligned at blockSize,
// right-padding the final partial block with zeros — used to satisfy
// invariant 2's "for all raw images R smaller than 2GiB, decode(encode(R))
// == R" by round-tripping through a single-RAW-chunk sparse image.
func EncodeRawImage(data []byte, blockSize uint32) []byte {
	padded := data
	if rem := len(data) % int(blockSize); rem != 0 {
		padded = append(append([]byte(nil), data...), make([]byte, int(blockSize)-rem)...)
	}
	w := NewWriter(blockSize)
	w.AppendRaw(padded)
	var buf bytes.Buffer
	_ = w.Encode(&buf)
	return buf.Bytes()
}
