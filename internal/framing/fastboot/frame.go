// Package fastboot implements the fastboot command/response frame codec
// (C2): ASCII command lines capped at 64 bytes on the bulk-out endpoint,
// and responses capped at 256 bytes on bulk-in beginning with one of
// OKAY/FAIL/INFO/DATA, per spec §4.2.
package fastboot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flashkit/flashkit/internal/ferr"
)

const (
	MaxCommandLen  = 64
	MaxResponseLen = 256
)

// ResponseKind is the four-letter prefix every fastboot response begins
// with.
type ResponseKind string

const (
	RespOkay ResponseKind = "OKAY"
	RespFail ResponseKind = "FAIL"
	RespInfo ResponseKind = "INFO"
	RespData ResponseKind = "DATA"
)

// Response is one decoded reply frame.
type Response struct {
	Kind ResponseKind
	Body string // text after the 4-byte prefix (info message, fail reason, or 8 hex digits for DATA)
}

// Terminal reports whether this response ends the wait for a command's
// reply: only OKAY/FAIL terminate; INFO may repeat any number of times and
// DATA is a mid-exchange signal, neither of which ends the wait on its own
// (spec §8 invariant 8).
func (r Response) Terminal() bool {
	return r.Kind == RespOkay || r.Kind == RespFail
}

// EncodeCommand renders cmd as a bulk-out frame, erroring if it exceeds the
// 64-byte limit.
func EncodeCommand(cmd string) ([]byte, error) {
	if len(cmd) > MaxCommandLen {
		return nil, ferr.New("fastboot.EncodeCommand", ferr.KindBadLength, "command exceeds 64 bytes: "+cmd)
	}
	return []byte(cmd), nil
}

// DecodeResponse parses one bulk-in frame.
func DecodeResponse(raw []byte) (Response, error) {
	if len(raw) > MaxResponseLen {
		return Response{}, ferr.New("fastboot.DecodeResponse", ferr.KindBadLength, "response exceeds 256 bytes")
	}
	if len(raw) < 4 {
		return Response{}, ferr.New("fastboot.DecodeResponse", ferr.KindBadLength, "short response")
	}
	prefix := ResponseKind(raw[0:4])
	switch prefix {
	case RespOkay, RespFail, RespInfo, RespData:
		return Response{Kind: prefix, Body: string(raw[4:])}, nil
	default:
		return Response{}, ferr.New("fastboot.DecodeResponse", ferr.KindUnexpectedCommand, string(raw))
	}
}

// DataLength parses the 8 hex digits a DATA response carries, giving the
// byte count the host must next send or receive (spec §4.2).
func (r Response) DataLength() (int, error) {
	if r.Kind != RespData {
		return 0, ferr.New("fastboot.DataLength", ferr.KindUnexpectedCommand, string(r.Kind))
	}
	body := strings.TrimSpace(r.Body)
	if len(body) != 8 {
		return 0, ferr.New("fastboot.DataLength", ferr.KindBadLength, "expected 8 hex digits")
	}
	n, err := strconv.ParseUint(body, 16, 32)
	if err != nil {
		return 0, ferr.New("fastboot.DataLength", ferr.KindBadLength, err.Error())
	}
	return int(n), nil
}

// GetVar formats a `getvar:<name>` command line.
func GetVar(name string) string { return fmt.Sprintf("getvar:%s", name) }

// Download formats a `download:<hex8>` command line for an N-byte payload.
func Download(n int) string { return fmt.Sprintf("download:%08x", n) }

// Flash formats a `flash:<partition>` command line.
func Flash(partition string) string { return fmt.Sprintf("flash:%s", partition) }

// Erase formats an `erase:<partition>` command line.
func Erase(partition string) string { return fmt.Sprintf("erase:%s", partition) }

// Format formats a `format:<partition>` command line.
func Format(partition string) string { return fmt.Sprintf("format:%s", partition) }

// SetActive formats a `set_active:<slot>` command line.
func SetActive(slot string) string { return fmt.Sprintf("set_active:%s", slot) }

// Boot formats the `boot` command line.
func Boot() string { return "boot" }

// Reboot variants (spec §4.11).
func Reboot() string           { return "reboot" }
func RebootBootloader() string { return "reboot-bootloader" }
func RebootFastboot() string   { return "reboot-fastboot" }
func RebootRecovery() string   { return "reboot-recovery" }

// OemUnlock, OemEdl, FlashingUnlock, FlashingLock format their respective
// lock/unlock/EDL-entry command lines.
func OemUnlock() string     { return "oem unlock" }
func OemEdl() string        { return "oem edl" }
func FlashingUnlock() string { return "flashing unlock" }
func FlashingLock() string   { return "flashing lock" }
