package fastboot

import (
	"context"
	"io"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/payload"
)

// FlashFromPayload reconstructs part's image from man's operations via C6
// and streams it to the device in download/flash rounds, honouring
// MaxDownloadSize without ever materialising the whole partition image on
// disk (spec §4.11's "payload-driven flash"). Reconstruction happens into
// an in-memory random-access buffer sized to the partition, since several
// operation kinds (COPY/SOURCE_COPY) address bytes an earlier operation in
// the same partition already produced.
func (s *Session) FlashFromPayload(ctx context.Context, partitionName string, part payload.Partition, src io.ReaderAt, dataBase int64, blockSize uint32) error {
	buf := newRandomAccessBuffer(int64(part.NewPartitionSize))
	extractor := payload.NewExtractor(src, dataBase, blockSize, s.bus)
	if err := extractor.Apply(part, buf); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ferr.New("fastboot.FlashFromPayload", ferr.KindCancelled, "")
	default:
	}

	s.bus.Publish(events.Event{Kind: events.StageChanged, Stage: "flash " + partitionName})
	return s.FlashStreaming(ctx, partitionName, buf.reader(), buf.size())
}

// randomAccessBuffer is a fixed-size in-memory buffer implementing
// io.WriterAt/io.ReaderAt for payload.Extractor.Apply, plus a sequential
// io.Reader view for handing the reconstructed image to FlashStreaming.
type randomAccessBuffer struct {
	b []byte
}

func newRandomAccessBuffer(size int64) *randomAccessBuffer {
	return &randomAccessBuffer{b: make([]byte, size)}
}

func (r *randomAccessBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(r.b)) {
		return 0, ferr.New("fastboot.randomAccessBuffer.WriteAt", ferr.KindBadPayload, "write out of partition bounds")
	}
	return copy(r.b[off:], p), nil
}

func (r *randomAccessBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *randomAccessBuffer) size() int64 { return int64(len(r.b)) }

func (r *randomAccessBuffer) reader() io.Reader { return &bufferReader{buf: r} }

// bufferReader adapts randomAccessBuffer's ReadAt to a sequential Reader
// without copying the whole buffer again.
type bufferReader struct {
	buf *randomAccessBuffer
	pos int64
}

func (r *bufferReader) Read(p []byte) (int, error) {
	n, err := r.buf.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}
