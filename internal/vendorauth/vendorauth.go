// Package vendorauth implements C9: the pluggable Firehose authentication
// strategies of spec §4.9 (OEM digest+signature, MiAuth, Demacia/token),
// attempted lazily on the first NAK the engine classifies as an
// "unauthorised/signature" failure.
package vendorauth

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/flashkit/flashkit/internal/events"
	"github.com/flashkit/flashkit/internal/ferr"
	"github.com/flashkit/flashkit/internal/firehose"
	fh "github.com/flashkit/flashkit/internal/framing/firehose"
)

// Strategy is the pluggable authentication capability spec §4.9 names:
// {name, authenticate(session, programmer_dir, cancel) -> bool}.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, s *firehose.Session, programmerDir string) (bool, error)
}

// DigestSignature implements the OEM-family digest+signature strategy:
// read digest.bin/signature.bin from the loader directory, send a <sig/>
// envelope, stream the signature bytes, await ACK, confirm with a nop.
type DigestSignature struct{}

func (DigestSignature) Name() string { return "digest-signature" }

func (DigestSignature) Authenticate(ctx context.Context, s *firehose.Session, programmerDir string) (bool, error) {
	digest, err := os.ReadFile(filepath.Join(programmerDir, "digest.bin"))
	if err != nil {
		return false, ferr.Wrap("vendorauth.DigestSignature", ferr.KindMissingAuthMaterial, err)
	}
	sig, err := os.ReadFile(filepath.Join(programmerDir, "signature.bin"))
	if err != nil {
		return false, ferr.Wrap("vendorauth.DigestSignature", ferr.KindMissingAuthMaterial, err)
	}
	_ = digest // the digest is read to confirm its presence; the signature is what the device wants

	value, _, err := s.Sig(ctx, [][2]string{
		{"TargetName", "sig"},
		{"size_in_bytes", strconv.Itoa(len(sig))},
	})
	if err != nil {
		return false, err
	}
	if value == fh.ResponseNAK {
		return false, nil
	}
	if err := s.SendRawBytes(ctx, sig); err != nil {
		return false, err
	}
	if value, err = s.AwaitAck(ctx); err != nil {
		return false, err
	}
	if value != fh.ResponseACK {
		return false, nil
	}
	return s.Nop(ctx) == nil, nil
}

// miAuthBlobs holds the built-in precomputed signature blobs MiAuth tries
// in order. Kept as an opaque, replaceable table per spec §9 Open
// Questions: whether current bootloaders still accept any of these is
// unknown, and no claim is made either way.
var miAuthBlobs = builtinMiAuthBlobs()

// SetMiAuthBlobs lets a caller override the built-in table (e.g. loaded
// from a SPAK pack or updated externally) before the first Authenticate.
func SetMiAuthBlobs(blobs [][]byte) { miAuthBlobs = blobs }

// MiAuth implements the Xiaomi-family strategy: try each built-in blob in
// turn; on exhaustion, request a challenge token via <sig TargetName="req">
// and surface it through the event bus for an external signer.
type MiAuth struct {
	Bus *events.Bus
}

func (MiAuth) Name() string { return "miauth" }

func (m MiAuth) Authenticate(ctx context.Context, s *firehose.Session, _ string) (bool, error) {
	for _, blob := range miAuthBlobs {
		value, _, err := s.Sig(ctx, [][2]string{
			{"TargetName", "sig"},
			{"size_in_bytes", strconv.Itoa(len(blob))},
		})
		if err != nil {
			return false, err
		}
		if value == fh.ResponseNAK {
			continue
		}
		if err := s.SendRawBytes(ctx, blob); err != nil {
			return false, err
		}
		value, err = s.AwaitAck(ctx)
		if err != nil {
			return false, err
		}
		if value == fh.ResponseACK && s.Nop(ctx) == nil {
			return true, nil
		}
	}

	// Exhausted the built-in table: request a challenge token and surface
	// it for an external signer via AuthenticateWithSignature.
	_, elements, err := s.Sig(ctx, [][2]string{{"TargetName", "req"}})
	if err != nil {
		return false, err
	}
	token := challengeToken(elements)
	if m.Bus != nil {
		m.Bus.Publish(events.Event{Kind: events.ErrorOccurred, ErrKind: "MiAuthChallenge", Message: token, Recoverable: true})
	}
	return false, nil
}

// AuthenticateWithSignature completes a MiAuth challenge/response started
// by Authenticate's fallback path, once the caller has obtained a signed
// response to the surfaced challenge token externally (spec §4.9).
func (MiAuth) AuthenticateWithSignature(ctx context.Context, s *firehose.Session, signed []byte) (bool, error) {
	value, _, err := s.Sig(ctx, [][2]string{
		{"TargetName", "sig"},
		{"size_in_bytes", strconv.Itoa(len(signed))},
	})
	if err != nil {
		return false, err
	}
	if value == fh.ResponseNAK {
		return false, nil
	}
	if err := s.SendRawBytes(ctx, signed); err != nil {
		return false, err
	}
	if value, err = s.AwaitAck(ctx); err != nil {
		return false, err
	}
	return value == fh.ResponseACK && s.Nop(ctx) == nil, nil
}

func challengeToken(elements []fh.Element) string {
	for _, e := range elements {
		if e.Name == "response" {
			if v := e.Attr("value"); v != "" {
				return v
			}
		}
		if e.Name == "log" {
			if v := e.Attr("value"); v != "" {
				return v
			}
		}
	}
	return ""
}

// Demacia implements the OnePlus-family pre-authentication that writes a
// per-device token to a scratch partition before normal Firehose
// operations are permitted (spec §4.9).
type Demacia struct {
	Token []byte
}

func (Demacia) Name() string { return "demacia" }

func (d Demacia) Authenticate(ctx context.Context, s *firehose.Session, _ string) (bool, error) {
	if len(d.Token) == 0 {
		return false, ferr.New("vendorauth.Demacia", ferr.KindMissingAuthMaterial, "no token configured")
	}
	sectors := (uint64(len(d.Token)) + uint64(s.SectorSize) - 1) / uint64(s.SectorSize)
	if err := s.Program(ctx, 0, 0, sectors, bytes.NewReader(d.Token), false); err != nil {
		return false, err
	}
	return s.Nop(ctx) == nil, nil
}
