package sparse

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTripRawFillDontCare(t *testing.T) {
	const blockSize = 4096

	w := NewWriter(blockSize)
	raw := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, blockSize/4*2) // 2 blocks
	w.AppendRaw(raw)
	w.AppendFill(0xDEADBEEF, blockSize*3)
	w.AppendDontCare(blockSize * 5)

	var buf bytes.Buffer
	if err := w.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if rd.Header().TotalBlocks != 2+3+5 {
		t.Fatalf("unexpected total blocks: %d", rd.Header().TotalBlocks)
	}

	var chunks []Chunk
	for {
		c, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkRaw || !bytes.Equal(chunks[0].Data, raw) {
		t.Fatalf("raw chunk mismatch")
	}
	if chunks[1].Type != ChunkFill || chunks[1].Pattern != 0xDEADBEEF {
		t.Fatalf("fill chunk mismatch")
	}
	if chunks[2].Type != ChunkDontCare || chunks[2].Length != blockSize*5 {
		t.Fatalf("dont-care chunk mismatch")
	}
}

func TestRawImageRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 4096*3+100) // not block-aligned

	encoded := EncodeRawImage(data, 4096)
	rd, err := NewReader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	c, err := rd.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	var out bytes.Buffer
	if err := c.Expand(&out); err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !bytes.Equal(out.Bytes()[:len(data)], data) {
		t.Fatalf("decoded prefix does not match original data")
	}
}

func TestRejectsDeclaredSizeMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(4096)
	w.AppendRaw(bytes.Repeat([]byte{0}, 4096))
	if err := w.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	corrupted := buf.Bytes()
	// Flip the chunk's total_sz field (offset headerLen+8) to disagree with the body length.
	corrupted[headerLen+8] ^= 0xFF

	rd, err := NewReader(bytes.NewReader(corrupted))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := rd.Next(); err == nil {
		t.Fatal("expected size-mismatch error, got nil")
	}
}
