// Package sahara implements C7: the Qualcomm boot-ROM handshake and loader
// upload state machine described in spec §4.7.
//
// The fixed hello/negotiate/respond prefix every handshake runs through
// before branching into either COMMAND mode or the ReadData-serving loop is
// built as an internal/engine.StageList, the same "ordered named steps a
// caller could Append/Remove before Run" shape the engine package
// generalizes from the teacher's firecracker handler-list construction.
package sahara

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/flashkit/flashkit/internal/engine"
	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	fr "github.com/flashkit/flashkit/internal/framing/sahara"
	"github.com/flashkit/flashkit/internal/transport"
)

// Stage is the session's position in the state machine of spec §4.7.
type Stage string

const (
	StageInit    Stage = "INIT"
	StageNegotiated Stage = "NEGOTIATED"
	StageLoading Stage = "LOADING"
	StageCommand Stage = "COMMAND"
	StageDone    Stage = "DONE"
	StageFault   Stage = "FAULT"
)

const (
	helloTimeout  = 10 * time.Second
	frameTimeout  = 30 * time.Second
	readHeaderLen = 8
)

// LoaderSource supplies bytes for ReadData/ReadData64 requests: typically
// an *os.File seeked per request, but kept as an interface so tests can
// substitute a bytes.Reader.
type LoaderSource interface {
	io.ReaderAt
}

// Session carries the Sahara-specific state of spec §3: negotiated
// version, max packet, mode, current stage, last error.
type Session struct {
	transport *transport.Handle
	bus       *events.Bus

	Version       uint32
	VersionCompat uint32
	MaxPacket     uint32
	Mode          fr.Mode
	Stage         Stage
	LastError     error

	loader LoaderSource
}

// New constructs a Session in state INIT over the given transport handle,
// publishing StageChanged/ProgressChanged/ErrorOccurred to bus.
func New(h *transport.Handle, bus *events.Bus, loader LoaderSource) *Session {
	return &Session{transport: h, bus: bus, Stage: StageInit, loader: loader}
}

func (s *Session) setStage(stage Stage) {
	s.Stage = stage
	s.bus.Publish(events.Event{Kind: events.StageChanged, Stage: string(stage)})
}

// Run drives the handshake through negotiation and then services
// ReadData/ReadData64 requests until EndImageTransfer, per the state
// diagram in spec §4.7. totalLen is the loader file size, used for
// ProgressChanged accounting.
func (s *Session) Run(ctx context.Context, totalLen int64) error {
	var hello fr.Hello
	stages := engine.NewStageList(
		engine.Stage{Name: "hello", Run: func(ctx context.Context) error {
			helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
			defer cancel()
			f, err := s.readFrame(helloCtx)
			if err != nil {
				return err
			}
			if f.Command != fr.CmdHello {
				return ferr.New("sahara.Run", ferr.KindUnexpectedCommand, "expected Hello")
			}
			hello, err = fr.DecodeHello(f.Payload)
			return err
		}},
		engine.Stage{Name: "negotiate-respond", Run: func(ctx context.Context) error {
			resp, err := fr.NegotiateHelloResponse(hello)
			if err != nil {
				return err
			}
			s.Version, s.VersionCompat, s.MaxPacket, s.Mode = resp.Version, resp.VersionCompat, hello.MaxPacketSize, hello.Mode
			return s.writeFrame(ctx, fr.Frame{Command: fr.CmdHelloResponse, Payload: fr.EncodeHelloResponse(resp)})
		}},
	)
	if err := stages.Run(ctx); err != nil {
		s.fail(err)
		return err
	}
	s.setStage(StageNegotiated)

	if hello.Mode == fr.ModeCommand {
		s.setStage(StageCommand)
		return nil
	}

	var sent int64
	for {
		fctx, fcancel := context.WithTimeout(ctx, frameTimeout)
		f, err := s.readFrame(fctx)
		fcancel()
		if err != nil {
			s.fail(err)
			return err
		}

		switch f.Command {
		case fr.CmdReadData32:
			req, err := fr.DecodeReadData32(f.Payload)
			if err != nil {
				s.fail(err)
				return err
			}
			s.setStage(StageLoading)
			if err := s.serveRead(ctx, uint64(req.Offset), uint64(req.Length)); err != nil {
				s.fail(err)
				return err
			}
			sent += int64(req.Length)
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "sahara loader upload", Done: sent, Total: totalLen})

		case fr.CmdReadData64:
			req, err := fr.DecodeReadData64(f.Payload)
			if err != nil {
				s.fail(err)
				return err
			}
			s.setStage(StageLoading)
			if err := s.serveRead(ctx, req.Offset, req.Length); err != nil {
				s.fail(err)
				return err
			}
			sent += int64(req.Length)
			s.bus.Publish(events.Event{Kind: events.ProgressChanged, Stage: "sahara loader upload", Done: sent, Total: totalLen})

		case fr.CmdEndImageTransfer:
			end, err := fr.DecodeEndImageTransfer(f.Payload)
			if err != nil {
				s.fail(err)
				return err
			}
			if end.Status != 0 {
				err := ferr.New("sahara.Run", ferr.KindProtocolNak, "end image transfer reported failure")
				s.fail(err)
				return err
			}
			s.setStage(StageDone)
			return nil

		default:
			err := ferr.New("sahara.Run", ferr.KindUnexpectedCommand, fmt.Sprintf("0x%02x", uint32(f.Command)))
			s.fail(err)
			return err
		}
	}
}
