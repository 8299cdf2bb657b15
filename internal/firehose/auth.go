package firehose

import (
	"context"
	"strconv"

	"github.com/flashkit/flashkit/internal/ferr"
	fh "github.com/flashkit/flashkit/internal/framing/firehose"
)

// Sig issues a `<sig .../>` command (the vendor-auth challenge/response
// envelope of spec §4.9) and returns the terminal response value plus the
// full element list, so a vendor-auth strategy can pull a challenge token
// out of whatever attribute the loader chose to carry it in.
func (s *Session) Sig(ctx context.Context, attrs [][2]string) (fh.ResponseValue, []fh.Element, error) {
	if _, err := s.transport.Send(ctx, fh.EncodeCommand("sig", attrs)); err != nil {
		return "", nil, ferr.Wrap("firehose.Sig", ferr.KindIoFault, err)
	}

	rctx, cancel := context.WithTimeout(ctx, roundTimeout)
	defer cancel()
	for {
		blob, err := s.readBlob(rctx)
		if err != nil {
			return "", nil, err
		}
		elements, err := fh.ParseElements(blob)
		if err != nil {
			return "", nil, err
		}
		s.log = append(s.log, fh.LogLines(elements)...)
		if value, _, ok := fh.FindResponse(elements); ok {
			return value, elements, nil
		}
	}
}

// SendRawBytes pushes raw signature/digest bytes on the data endpoint,
// used after a Sig ACK to stream the actual signature material (spec
// §4.9).
func (s *Session) SendRawBytes(ctx context.Context, data []byte) error {
	if _, err := s.transport.Send(ctx, data); err != nil {
		return ferr.Wrap("firehose.SendRawBytes", ferr.KindIoFault, err)
	}
	return nil
}

// AwaitAck reads frames until a terminal ACK/NAK, for use after
// SendRawBytes.
func (s *Session) AwaitAck(ctx context.Context) (fh.ResponseValue, error) {
	return s.awaitFinalResponse(ctx)
}

// Patch issues a `<patch .../>` command to fix up a single GPT field
// in-place (spec §4.8), using the same attribute set rawprogram's patch*.xml
// descriptors carry.
func (s *Session) Patch(ctx context.Context, lun int, byteOffset uint64, sizeInBytes uint32, value string) error {
	cmd := fh.EncodeCommand("patch", [][2]string{
		{"physical_partition_number", strconv.Itoa(lun)},
		{"byte_offset", strconv.FormatUint(byteOffset, 10)},
		{"size_in_bytes", strconv.FormatUint(uint64(sizeInBytes), 10)},
		{"value", value},
	})
	v, err := s.roundTrip(ctx, cmd)
	if err != nil {
		return err
	}
	if v == fh.ResponseNAK {
		return ferr.New("firehose.Patch", ferr.KindProtocolNak, "")
	}
	return nil
}
