// Package ferr defines the vendor-neutral error-kind taxonomy shared by every
// transport, framing, and protocol-engine package. Engines never use bare
// exceptions/panics for expected failure modes; they return a *Error whose
// Kind a caller can switch on.
package ferr

import "fmt"

// Kind classifies an error into one of the families a caller needs to
// branch on: whether to retry, reset the transport, or surface to the user.
type Kind string

const (
	// Transport kinds.
	KindPortBusy Kind = "PortBusy"
	KindPortGone Kind = "PortGone"
	KindTimeout  Kind = "Timeout"
	KindIoFault  Kind = "IoFault"

	// Framing kinds.
	KindBadMagic          Kind = "BadMagic"
	KindBadChecksum       Kind = "BadChecksum"
	KindBadLength         Kind = "BadLength"
	KindEscape            Kind = "Escape"
	KindUnexpectedCommand Kind = "UnexpectedCommand"

	// Protocol kinds.
	KindProtocolNak       Kind = "ProtocolNak"
	KindUnauthenticated   Kind = "Unauthenticated"
	KindUnsupportedVersion Kind = "UnsupportedVersion"
	KindStageMismatch     Kind = "StageMismatch"

	// Resource kinds.
	KindMissingLoader           Kind = "MissingLoader"
	KindMissingAuthMaterial     Kind = "MissingAuthMaterial"
	KindPartitionNotFound       Kind = "PartitionNotFound"
	KindPartitionTooSmall       Kind = "PartitionTooSmall"
	KindImageTooLarge           Kind = "ImageTooLarge"
	KindSensitivePartitionBlocked Kind = "SensitivePartitionBlocked"

	// Logical kinds.
	KindCancelled       Kind = "Cancelled"
	KindAlreadyConnected Kind = "AlreadyConnected"
	KindNotConnected    Kind = "NotConnected"
	KindDeviceBusy      Kind = "DeviceBusy"

	// Format kinds.
	KindBadGpt     Kind = "BadGpt"
	KindBadSparse  Kind = "BadSparse"
	KindBadPayload Kind = "BadPayload"
	KindBadPac     Kind = "BadPac"
	KindBadXml     Kind = "BadXml"
)

// Error is the concrete error type every package in this module returns for
// expected failure modes. Detail carries protocol-specific context (a NAK
// reason string, a partition name, ...); it is free-form, not a sub-kind.
type Error struct {
	Kind    Kind
	Detail  string
	Op      string // component/operation that raised it, e.g. "sahara.readData"
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s", e.Op, e.Kind)
		}
		return string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New constructs an *Error with no wrapped cause.
func New(op string, kind Kind, detail string) *Error {
	return &Error{Op: op, Kind: kind, Detail: detail}
}

// Wrap constructs an *Error that records an underlying cause (an io.Error,
// a context.DeadlineExceeded, ...).
func Wrap(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Wrapped: cause, Detail: cause.Error()}
}

// Is reports whether err is a *Error of the given kind. It follows the
// standard unwrap chain so a wrapped *Error still matches.
func Is(err error, kind Kind) bool {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			if fe.Kind == kind {
				return true
			}
			err = fe.Wrapped
			continue
		}
		return false
	}
	return false
}

// Recoverable reports whether the caller may retry the same session after
// this error without a full reconnect, per the propagation policy: protocol
// NAKs and cancellation are recoverable, transport/framing faults are not.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindProtocolNak, KindUnauthenticated, KindCancelled, KindTimeout,
		KindPartitionNotFound, KindSensitivePartitionBlocked:
		return true
	default:
		return false
	}
}
