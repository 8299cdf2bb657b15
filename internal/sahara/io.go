package sahara

import (
	"context"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	fr "github.com/flashkit/flashkit/internal/framing/sahara"
)

// serveRead answers a ReadData/ReadData64 request: seek the loader source
// to offset, read exactly length bytes, and reply in raw form with no
// extra framing (spec §4.7).
func (s *Session) serveRead(ctx context.Context, offset, length uint64) error {
	buf := make([]byte, length)
	if _, err := s.loader.ReadAt(buf, int64(offset)); err != nil {
		return ferr.Wrap("sahara.serveRead", ferr.KindIoFault, err)
	}
	_, err := s.transport.Send(ctx, buf)
	if err != nil {
		return ferr.Wrap("sahara.serveRead", ferr.KindIoFault, err)
	}
	return nil
}

// readFrame reads one Sahara record: the fixed 8-byte header, then the
// remaining length-8 bytes it declares. Buffer policy (§4.7): during Hello
// the input is never flushed beforehand; this function does not flush.
func (s *Session) readFrame(ctx context.Context) (fr.Frame, error) {
	header := make([]byte, 8)
	if err := s.readExact(ctx, header); err != nil {
		return fr.Frame{}, err
	}
	length, err := fr.PeekLength(header)
	if err != nil {
		return fr.Frame{}, err
	}
	if length < 8 {
		return fr.Frame{}, ferr.New("sahara.readFrame", ferr.KindBadLength, "")
	}
	rest := make([]byte, length)
	copy(rest, header)
	if length > 8 {
		if err := s.readExact(ctx, rest[8:]); err != nil {
			return fr.Frame{}, err
		}
	}
	return fr.Decode(rest)
}

func (s *Session) readExact(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := s.transport.Receive(ctx, buf[read:])
		if err != nil {
			return err
		}
		read += n
	}
	return nil
}

func (s *Session) writeFrame(ctx context.Context, f fr.Frame) error {
	_, err := s.transport.Send(ctx, fr.Encode(f))
	return err
}

func (s *Session) fail(err error) {
	s.LastError = err
	s.Stage = StageFault
	kind := "Unknown"
	if fe, ok := err.(*ferr.Error); ok {
		kind = string(fe.Kind)
	}
	s.bus.Publish(events.Event{Kind: events.ErrorOccurred, ErrKind: kind, Message: err.Error(), Recoverable: ferr.Recoverable(ferr.Kind(kind))})
}

// ExecuteCommandMode runs one COMMAND-mode round: Execute(cmd), read
// ExecuteResponse for the reply length, send ExecuteData, read the payload.
// Valid only once the session is in StageCommand.
func (s *Session) ExecuteCommandMode(ctx context.Context, cmd fr.ExecuteCommand) ([]byte, error) {
	if s.Stage != StageCommand {
		return nil, ferr.New("sahara.ExecuteCommandMode", ferr.KindStageMismatch, string(s.Stage))
	}

	if err := s.writeFrame(ctx, fr.Frame{Command: fr.CmdExecute, Payload: fr.EncodeExecute(fr.Execute{Command: cmd})}); err != nil {
		return nil, err
	}
	respFrame, err := s.readFrame(ctx)
	if err != nil {
		return nil, err
	}
	if respFrame.Command != fr.CmdExecuteResponse {
		return nil, ferr.New("sahara.ExecuteCommandMode", ferr.KindUnexpectedCommand, "")
	}
	execResp, err := fr.DecodeExecuteResponse(respFrame.Payload)
	if err != nil {
		return nil, err
	}

	if err := s.writeFrame(ctx, fr.Frame{Command: fr.CmdExecuteData, Payload: fr.EncodeExecuteData(cmd)}); err != nil {
		return nil, err
	}

	data := make([]byte, execResp.Length)
	if err := s.readExact(ctx, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Reset issues CmdReset and waits for ResetResponse, returning the session
// to state INIT per the "any → Reset → INIT" transition.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.writeFrame(ctx, fr.Frame{Command: fr.CmdReset}); err != nil {
		return err
	}
	f, err := s.readFrame(ctx)
	if err != nil {
		return err
	}
	if f.Command != fr.CmdResetResponse {
		return ferr.New("sahara.Reset", ferr.KindUnexpectedCommand, "")
	}
	s.Stage = StageInit
	return nil
}
