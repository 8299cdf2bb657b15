package payload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendTag(b []byte, num protowire.Number, typ protowire.Type) []byte {
	return protowire.AppendTag(b, num, typ)
}

func buildExtent(start, count uint64) []byte {
	var b []byte
	b = appendTag(b, fieldExtentStartBlock, protowire.VarintType)
	b = protowire.AppendVarint(b, start)
	b = appendTag(b, fieldExtentNumBlocks, protowire.VarintType)
	b = protowire.AppendVarint(b, count)
	return b
}

func buildOperation(typ uint64, dstStart, dstCount uint64) []byte {
	var b []byte
	b = appendTag(b, fieldOpType, protowire.VarintType)
	b = protowire.AppendVarint(b, typ)
	dst := buildExtent(dstStart, dstCount)
	b = appendTag(b, fieldOpDstExtents, protowire.BytesType)
	b = protowire.AppendBytes(b, dst)
	return b
}

func buildPartitionInfo(size uint64) []byte {
	var b []byte
	b = appendTag(b, fieldInfoSize, protowire.VarintType)
	b = protowire.AppendVarint(b, size)
	return b
}

func buildPartition(name string, size uint64, ops [][]byte) []byte {
	var b []byte
	b = appendTag(b, fieldPartitionName, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(name))
	info := buildPartitionInfo(size)
	b = appendTag(b, fieldPartitionNewInfo, protowire.BytesType)
	b = protowire.AppendBytes(b, info)
	for _, op := range ops {
		b = appendTag(b, fieldPartitionOperations, protowire.BytesType)
		b = protowire.AppendBytes(b, op)
	}
	return b
}

func buildManifest(blockSize uint32, partitions [][]byte) []byte {
	var b []byte
	b = appendTag(b, fieldManifestBlockSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(blockSize))
	for _, p := range partitions {
		b = appendTag(b, fieldManifestPartitions, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	return b
}

func TestParseHeader_V2(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	var versionBuf, sizeBuf [8]byte
	binary.BigEndian.PutUint64(versionBuf[:], 2)
	binary.BigEndian.PutUint64(sizeBuf[:], 1234)
	buf.Write(versionBuf[:])
	buf.Write(sizeBuf[:])
	var sigBuf [4]byte
	binary.BigEndian.PutUint32(sigBuf[:], 56)
	buf.Write(sigBuf[:])

	h, err := ParseHeader(&buf)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 2 || h.ManifestSize != 1234 || h.MetadataSignatureSize != 56 {
		t.Errorf("unexpected header: %+v", h)
	}
	if HeaderLen(2) != int64(len(magic)+8+8+4) {
		t.Errorf("unexpected HeaderLen(2): %d", HeaderLen(2))
	}
}

func TestParseHeader_RejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX0000000000000000")
	if _, err := ParseHeader(buf); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestParseManifest_PartitionWithReplaceOp(t *testing.T) {
	op := buildOperation(0 /* REPLACE */, 10, 3)
	part := buildPartition("boot", 4096*3, [][]byte{op})
	manifest := buildManifest(4096, [][]byte{part})

	m, err := ParseManifest(manifest)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.BlockSize != 4096 {
		t.Errorf("expected block size 4096, got %d", m.BlockSize)
	}
	if len(m.Partitions) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(m.Partitions))
	}
	p := m.Partitions[0]
	if p.Name != "boot" || p.NewPartitionSize != 4096*3 {
		t.Errorf("unexpected partition: %+v", p)
	}
	if len(p.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(p.Operations))
	}
	o := p.Operations[0]
	if o.Type != OpReplace {
		t.Errorf("expected OpReplace, got %v", o.Type)
	}
	if len(o.DstExtents) != 1 || o.DstExtents[0].StartBlock != 10 || o.DstExtents[0].NumBlocks != 3 {
		t.Errorf("unexpected dst extents: %+v", o.DstExtents)
	}
}

func TestParseManifest_DefaultsBlockSize(t *testing.T) {
	manifest := buildManifest(0, nil)
	m, err := ParseManifest(manifest)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.BlockSize != 4096 {
		t.Errorf("expected default block size 4096 when unset, got %d", m.BlockSize)
	}
}
