// Package payload implements C6: the Android A/B OTA payload.bin parser.
// It decodes the {magic, version, manifest_size, metadata_signature_size}
// header, then walks the delta-archive manifest with protowire field-level
// decoding (no generated .pb.go — the manifest schema is Android-internal
// and not shipped anywhere in this module's dependency surface), producing
// per-partition operation streams an applier turns into raw partition
// bytes.
package payload

import (
	"bytes"
	"compress/bzip2"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flashkit/flashkit/internal/ferr"
)

const magic = "CrAU"

// OpType enumerates the operation kinds spec §3 names. Diff-based kinds
// (BSDIFF/PUFFDIFF and friends) are recognised but not applyable by this
// package — OperationReader reports BadPayload for them, since producing
// their output requires the full bspatch/puffin algorithms this module
// does not implement (documented in DESIGN.md).
type OpType int

const (
	OpReplace OpType = iota
	OpReplaceBZ
	OpMove // COPY within the same partition, no payload bytes
	OpBsdiff
	OpSourceCopy
	OpSourceBsdiff
	OpZero
	OpDiscard
	OpReplaceXZ
	OpUnsupported
)

func (t OpType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBZ:
		return "REPLACE_BZ"
	case OpMove:
		return "COPY"
	case OpSourceCopy:
		return "SOURCE_COPY"
	case OpSourceBsdiff:
		return "SOURCE_BSDIFF"
	case OpZero:
		return "ZERO"
	case OpDiscard:
		return "DISCARD"
	case OpReplaceXZ:
		return "REPLACE_XZ"
	default:
		return "UNSUPPORTED"
	}
}

// Extent is a contiguous run of blocks, per the manifest's Extent message.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// Operation is one InstallOperation resolved from the manifest.
type Operation struct {
	Type        OpType
	SrcExtents  []Extent
	DstExtents  []Extent
	DataOffset  uint64
	DataLength  uint64
	DataSha256  []byte // empty when the manifest carried none
}

// Partition is one PartitionUpdate: its name, declared size, and ordered
// operations (spec §3's Payload descriptor).
type Partition struct {
	Name             string
	NewPartitionSize uint64
	Operations       []Operation
}

// Manifest is the decoded delta-archive manifest.
type Manifest struct {
	BlockSize  uint32
	Partitions []Partition
}

// Header is the parsed payload.bin preamble (spec §6).
type Header struct {
	Version              uint64
	ManifestSize         uint64
	MetadataSignatureSize uint32
}

// ParseHeader reads and validates the "CrAU" preamble, returning the
// manifest's byte range so the caller can read exactly ManifestSize bytes
// next.
func ParseHeader(r io.Reader) (Header, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return Header{}, ferr.Wrap("payload.ParseHeader", ferr.KindBadPayload, err)
	}
	if string(m[:]) != magic {
		return Header{}, ferr.New("payload.ParseHeader", ferr.KindBadMagic, "")
	}
	var h Header
	var versionBuf, manifestSizeBuf [8]byte
	var metaSigBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return Header{}, ferr.Wrap("payload.ParseHeader", ferr.KindBadPayload, err)
	}
	h.Version = binary.BigEndian.Uint64(versionBuf[:])
	if _, err := io.ReadFull(r, manifestSizeBuf[:]); err != nil {
		return Header{}, ferr.Wrap("payload.ParseHeader", ferr.KindBadPayload, err)
	}
	h.ManifestSize = binary.BigEndian.Uint64(manifestSizeBuf[:])
	if h.Version >= 2 {
		if _, err := io.ReadFull(r, metaSigBuf[:]); err != nil {
			return Header{}, ferr.Wrap("payload.ParseHeader", ferr.KindBadPayload, err)
		}
		h.MetadataSignatureSize = binary.BigEndian.Uint32(metaSigBuf[:])
	}
	return h, nil
}

// HeaderLen returns the number of bytes ParseHeader consumes for the given
// version, needed to compute the data blob's absolute file offset.
func HeaderLen(version uint64) int64 {
	if version >= 2 {
		return int64(len(magic) + 8 + 8 + 4)
	}
	return int64(len(magic) + 8 + 8)
}

// Manifest protobuf field numbers, matching the upstream
// chromeos_update_engine.DeltaArchiveManifest layout this format derives
// from.
const (
	fieldManifestBlockSize = 3
	fieldManifestPartitions = 13

	fieldPartitionName       = 1
	fieldPartitionOldInfo    = 6
	fieldPartitionNewInfo    = 7
	fieldPartitionOperations = 8

	fieldInfoSize = 1

	fieldOpType       = 1
	fieldOpDataOffset = 2
	fieldOpDataLength = 3
	fieldOpSrcExtents = 4
	fieldOpDstExtents = 6
	fieldOpDataSha256 = 8

	fieldExtentStartBlock = 1
	fieldExtentNumBlocks  = 2
)

// ParseManifest decodes manifestBytes (exactly Header.ManifestSize bytes)
// into a Manifest.
func ParseManifest(manifestBytes []byte) (Manifest, error) {
	var m Manifest
	err := walkFields(manifestBytes, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldManifestBlockSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, ferr.New("payload.ParseManifest", ferr.KindBadPayload, "bad block_size")
			}
			m.BlockSize = uint32(v)
			return n, nil
		case num == fieldManifestPartitions && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, ferr.New("payload.ParseManifest", ferr.KindBadPayload, "bad partitions entry")
			}
			part, err := parsePartition(v)
			if err != nil {
				return 0, err
			}
			m.Partitions = append(m.Partitions, part)
			return n, nil
		default:
			return skipField(typ, b)
		}
	})
	if err != nil {
		return Manifest{}, err
	}
	if m.BlockSize == 0 {
		m.BlockSize = 4096
	}
	return m, nil
}

func parsePartition(b []byte) (Partition, error) {
	var p Partition
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch {
		case num == fieldPartitionName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parsePartition", ferr.KindBadPayload, "bad partition_name")
			}
			p.Name = string(v)
			return n, nil
		case num == fieldPartitionNewInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parsePartition", ferr.KindBadPayload, "bad new_partition_info")
			}
			size, err := parsePartitionInfoSize(v)
			if err != nil {
				return 0, err
			}
			p.NewPartitionSize = size
			return n, nil
		case num == fieldPartitionOperations && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parsePartition", ferr.KindBadPayload, "bad operation entry")
			}
			op, err := parseOperation(v)
			if err != nil {
				return 0, err
			}
			p.Operations = append(p.Operations, op)
			return n, nil
		default:
			return skipField(typ, rest)
		}
	})
	return p, err
}

func parsePartitionInfoSize(b []byte) (uint64, error) {
	var size uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		if num == fieldInfoSize && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parsePartitionInfoSize", ferr.KindBadPayload, "")
			}
			size = v
			return n, nil
		}
		return skipField(typ, rest)
	})
	return size, err
}

func parseOperation(b []byte) (Operation, error) {
	var op Operation
	var rawType uint64
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch {
		case num == fieldOpType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad type")
			}
			rawType = v
			return n, nil
		case num == fieldOpDataOffset && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad data_offset")
			}
			op.DataOffset = v
			return n, nil
		case num == fieldOpDataLength && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad data_length")
			}
			op.DataLength = v
			return n, nil
		case num == fieldOpSrcExtents && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad src_extents")
			}
			ext, err := parseExtent(v)
			if err != nil {
				return 0, err
			}
			op.SrcExtents = append(op.SrcExtents, ext)
			return n, nil
		case num == fieldOpDstExtents && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad dst_extents")
			}
			ext, err := parseExtent(v)
			if err != nil {
				return 0, err
			}
			op.DstExtents = append(op.DstExtents, ext)
			return n, nil
		case num == fieldOpDataSha256 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseOperation", ferr.KindBadPayload, "bad data_sha256_hash")
			}
			op.DataSha256 = append([]byte(nil), v...)
			return n, nil
		default:
			return skipField(typ, rest)
		}
	})
	if err != nil {
		return Operation{}, err
	}
	op.Type = decodeOpType(rawType)
	return op, nil
}

func decodeOpType(raw uint64) OpType {
	switch raw {
	case 0:
		return OpReplace
	case 1:
		return OpReplaceBZ
	case 2:
		return OpMove
	case 3:
		return OpBsdiff
	case 4:
		return OpSourceCopy
	case 5:
		return OpSourceBsdiff
	case 6:
		return OpZero
	case 7:
		return OpDiscard
	case 8:
		return OpReplaceXZ
	default:
		return OpUnsupported
	}
}

func parseExtent(b []byte) (Extent, error) {
	var e Extent
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, rest []byte) (int, error) {
		switch {
		case num == fieldExtentStartBlock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseExtent", ferr.KindBadPayload, "")
			}
			e.StartBlock = v
			return n, nil
		case num == fieldExtentNumBlocks && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(rest)
			if n < 0 {
				return 0, ferr.New("payload.parseExtent", ferr.KindBadPayload, "")
			}
			e.NumBlocks = v
			return n, nil
		default:
			return skipField(typ, rest)
		}
	})
	return e, err
}

// walkFields iterates the top-level fields of a protobuf message, handing
// each (number, wire type, remaining-bytes-after-tag) to fn, which must
// return how many bytes of its own field value it consumed.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, rest []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ferr.New("payload.walkFields", ferr.KindBadPayload, "malformed tag")
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed <= 0 || consumed > len(b) {
			return ferr.New("payload.walkFields", ferr.KindBadPayload, "malformed field")
		}
		b = b[consumed:]
	}
	return nil
}

func skipField(typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, ferr.New("payload.skipField", ferr.KindBadPayload, "cannot skip field")
	}
	return n, nil
}

// OperationReader returns a reader over op's decompressed bytes, reading
// the raw operation data from src at [DataOffset, DataOffset+DataLength)
// relative to dataBase (the file offset where the payload's data blob
// begins). ZERO ops need no src access; their length is the sum of
// DstExtents*blockSize.
func OperationReader(op Operation, src io.ReaderAt, dataBase int64, blockSize uint32) (io.Reader, error) {
	switch op.Type {
	case OpZero, OpDiscard:
		return io.LimitReader(zeroReader{}, int64(dstBytes(op, blockSize))), nil
	case OpMove, OpSourceCopy:
		return nil, ferr.New("payload.OperationReader", ferr.KindBadPayload, "copy-type operations have no payload stream; apply via ApplyCopy")
	case OpBsdiff, OpSourceBsdiff, OpUnsupported:
		return nil, ferr.New("payload.OperationReader", ferr.KindBadPayload, "unsupported operation type: "+op.Type.String())
	}

	section := io.NewSectionReader(src, dataBase+int64(op.DataOffset), int64(op.DataLength))

	var raw io.Reader = section
	if len(op.DataSha256) > 0 {
		buf := make([]byte, op.DataLength)
		if _, err := io.ReadFull(section, buf); err != nil {
			return nil, ferr.Wrap("payload.OperationReader", ferr.KindBadPayload, err)
		}
		raw = bytes.NewReader(buf)
	}

	switch op.Type {
	case OpReplace:
		return decompressAndVerify(raw, op, nil)
	case OpReplaceBZ:
		return decompressAndVerify(raw, op, func(r io.Reader) io.Reader { return bzip2.NewReader(r) })
	case OpReplaceXZ:
		return decompressAndVerify(raw, op, func(r io.Reader) io.Reader {
			xr, err := xz.NewReader(r)
			if err != nil {
				return errReader{err}
			}
			return xr
		})
	default:
		return nil, ferr.New("payload.OperationReader", ferr.KindBadPayload, "unsupported operation type: "+op.Type.String())
	}
}

// decompressAndVerify applies decompress (nil for REPLACE's identity case)
// then, if the manifest declared a hash, verifies SHA-256 over the fully
// decoded bytes before handing them to the caller — spec §4.6/§8 S5: "if
// SHA-256 mismatches, BadPayload is raised before any bytes reach the
// device."
func decompressAndVerify(raw io.Reader, op Operation, decompress func(io.Reader) io.Reader) (io.Reader, error) {
	r := raw
	if decompress != nil {
		r = decompress(raw)
	}
	if len(op.DataSha256) == 0 {
		return r, nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return nil, ferr.Wrap("payload.decompressAndVerify", ferr.KindBadPayload, err)
	}
	sum := sha256.Sum256(decoded)
	if !bytes.Equal(sum[:], op.DataSha256) {
		return nil, ferr.New("payload.decompressAndVerify", ferr.KindBadPayload, "data_sha256_hash mismatch")
	}
	return bytes.NewReader(decoded), nil
}

func dstBytes(op Operation, blockSize uint32) uint64 {
	var n uint64
	for _, e := range op.DstExtents {
		n += e.NumBlocks * uint64(blockSize)
	}
	return n
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
