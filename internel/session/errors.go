package session

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies every failure the core surfaces so callers can pick a
// remediation without parsing message text.
type Kind int

const (
	KindConnectivity Kind = iota + 1
	KindProtocol
	KindAuthentication
	KindPermissionLocal
	KindPermissionRemote
	KindServer
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindPermissionLocal:
		return "permission denied (local)"
	case KindPermissionRemote:
		return "permission denied (remote)"
	case KindServer:
		return "server"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the failure kind anywhere in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return 0
}
