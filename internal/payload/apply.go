package payload

import (
	"archive/zip"
	"bufio"
	"io"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
)

// OpenEnvelope accepts either a raw payload.bin or a ZIP/OTA envelope,
// returning a reader positioned at the start of the "CrAU" magic either
// way. For a ZIP envelope it streams the embedded "payload.bin" member
// without extracting the archive to disk (spec §4.6).
func OpenEnvelope(path string) (io.ReaderAt, io.Closer, int64, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		f, ferr2 := openPlainFile(path)
		if ferr2 != nil {
			return nil, nil, 0, ferr2
		}
		size, sizeErr := fileSize(f)
		if sizeErr != nil {
			f.Close()
			return nil, nil, 0, sizeErr
		}
		return f, f, size, nil
	}

	for _, member := range zr.File {
		if member.Name == "payload.bin" {
			rc, err := member.Open()
			if err != nil {
				zr.Close()
				return nil, nil, 0, ferr.Wrap("payload.OpenEnvelope", ferr.KindBadPayload, err)
			}
			buf := make([]byte, member.UncompressedSize64)
			if _, err := io.ReadFull(rc, buf); err != nil {
				rc.Close()
				zr.Close()
				return nil, nil, 0, ferr.Wrap("payload.OpenEnvelope", ferr.KindBadPayload, err)
			}
			rc.Close()
			zr.Close()
			return &byteReaderAt{buf}, nopCloser{}, int64(len(buf)), nil
		}
	}
	zr.Close()
	return nil, nil, 0, ferr.New("payload.OpenEnvelope", ferr.KindBadPayload, "no payload.bin member in envelope")
}

type byteReaderAt struct{ b []byte }

func (r *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Extractor applies a Partition's operations sequentially to target,
// producing the reconstructed image (spec §3: "applied sequentially to
// produce the target image").
type Extractor struct {
	src       io.ReaderAt
	dataBase  int64
	blockSize uint32
	bus       *events.Bus
}

// NewExtractor builds an Extractor reading operation data from src's data
// blob starting at dataBase.
func NewExtractor(src io.ReaderAt, dataBase int64, blockSize uint32, bus *events.Bus) *Extractor {
	return &Extractor{src: src, dataBase: dataBase, blockSize: blockSize, bus: bus}
}

// Apply writes part's operations to target (an io.WriterAt; for COPY/
// SOURCE_COPY ops target must also implement io.ReaderAt, since those ops
// move bytes already written earlier in the same partition).
func (e *Extractor) Apply(part Partition, target io.WriterAt) error {
	var done, total uint64
	for _, op := range part.Operations {
		total += dstBytes(op, e.blockSize)
	}

	for _, op := range part.Operations {
		switch op.Type {
		case OpMove, OpSourceCopy:
			srcAt, ok := target.(io.ReaderAt)
			if !ok {
				return ferr.New("payload.Extractor.Apply", ferr.KindBadPayload, "copy op requires a readable target")
			}
			if err := applyCopy(op, srcAt, target, e.blockSize); err != nil {
				return err
			}
		default:
			r, err := OperationReader(op, e.src, e.dataBase, e.blockSize)
			if err != nil {
				return err
			}
			if err := writeExtents(target, r, op.DstExtents, e.blockSize); err != nil {
				return err
			}
		}
		done += dstBytes(op, e.blockSize)
		if e.bus != nil {
			e.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "apply " + part.Name, Done: int64(done), Total: int64(total)})
		}
	}
	return nil
}

// writeExtents copies r's bytes into target at each DstExtent's byte
// range in order.
func writeExtents(target io.WriterAt, r io.Reader, extents []Extent, blockSize uint32) error {
	br := bufio.NewReaderSize(r, 1<<20)
	for _, ext := range extents {
		length := int64(ext.NumBlocks) * int64(blockSize)
		offset := int64(ext.StartBlock) * int64(blockSize)
		buf := make([]byte, length)
		if _, err := io.ReadFull(br, buf); err != nil {
			return ferr.Wrap("payload.writeExtents", ferr.KindBadPayload, err)
		}
		if _, err := target.WriteAt(buf, offset); err != nil {
			return ferr.Wrap("payload.writeExtents", ferr.KindIoFault, err)
		}
	}
	return nil
}

// applyCopy moves each SrcExtent's bytes to the corresponding DstExtent
// (matched positionally), used for OpMove/OpSourceCopy which carry no
// payload-blob bytes at all.
func applyCopy(op Operation, src io.ReaderAt, dst io.WriterAt, blockSize uint32) error {
	if len(op.SrcExtents) != len(op.DstExtents) {
		return ferr.New("payload.applyCopy", ferr.KindBadPayload, "mismatched src/dst extent count")
	}
	for i, s := range op.SrcExtents {
		d := op.DstExtents[i]
		length := int64(s.NumBlocks) * int64(blockSize)
		buf := make([]byte, length)
		if _, err := src.ReadAt(buf, int64(s.StartBlock)*int64(blockSize)); err != nil {
			return ferr.Wrap("payload.applyCopy", ferr.KindIoFault, err)
		}
		if _, err := dst.WriteAt(buf, int64(d.StartBlock)*int64(blockSize)); err != nil {
			return ferr.Wrap("payload.applyCopy", ferr.KindIoFault, err)
		}
	}
	return nil
}
