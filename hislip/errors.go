package hislip

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Error kinds. Every typed error of this package matches exactly one of these through errors.Is.
var (
	// ErrConnection indicates a transport level failure, including any use of a session after it
	// was closed or became fatal.
	ErrConnection = errors.New("hislip: connection error")

	// ErrProtocol indicates a protocol violation: bad prologue, unexpected message type, oversize
	// payload or message id desynchronization. Protocol errors are always fatal to the session.
	ErrProtocol = errors.New("hislip: protocol error")

	// ErrTimeout indicates that no terminal response arrived within the deadline.
	// Timeouts are recoverable, the session remains usable.
	ErrTimeout = errors.New("hislip: timeout")

	// ErrFatalSession indicates that the server signaled a FatalError. The session is permanently
	// unusable and must be closed and reopened.
	ErrFatalSession = errors.New("hislip: fatal session error")

	// ErrLock indicates that a lock request was denied, timed out, or was invalid.
	ErrLock = errors.New("hislip: lock error")

	// ErrServer indicates a non-fatal Error message sent by the server.
	ErrServer = errors.New("hislip: server error")
)

var (
	// ErrSessionClosed indicates that the session has been closed by the caller.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionFatal indicates that the session entered the fatal state.
	ErrSessionFatal = errors.New("session is in fatal state")

	// ErrSessionNotReady indicates an operation attempted before the session reached the ready state.
	ErrSessionNotReady = errors.New("session is not ready")

	// ErrQueryPending indicates that a query was sent while the response of a previous query is
	// still outstanding in synchronized mode.
	ErrQueryPending = errors.New("previous query response not yet read")

	// ErrInterrupted indicates that the server discarded the pending response because a new
	// message arrived before the response was read.
	ErrInterrupted = errors.New("response interrupted by server")

	// ErrInvalidTransition is returned when an attempt is made to transition the session
	// state to an invalid state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("connection config is nil")
)

// ConnectionError reports a socket level failure of an operation.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return "hislip: connection error: " + e.Err.Error()
	}

	return "hislip: " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// ProtocolError reports a violation of the HiSLIP protocol.
type ProtocolError struct {
	Reason  string
	MsgType MsgType
}

func (e *ProtocolError) Error() string {
	return "hislip: protocol error: " + e.Reason
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// UnexpectedMsgError returns a *ProtocolError describing the reception of msg where a message
// of type expected was required.
func UnexpectedMsgError(expected MsgType, msg *Message) *ProtocolError {
	return &ProtocolError{
		Reason:  fmt.Sprintf("expected %s, received %s", expected, msg.Type()),
		MsgType: msg.Type(),
	}
}

// TimeoutError reports that an operation did not complete within its deadline.
type TimeoutError struct {
	Op       string
	Duration time.Duration
}

func (e *TimeoutError) Error() string {
	return "hislip: " + e.Op + ": timeout after " + e.Duration.String()
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Timeout reports true, so TimeoutError satisfies the net.Error timeout convention.
func (e *TimeoutError) Timeout() bool { return true }

// FatalErrorCode is the control code of a FatalError message.
type FatalErrorCode uint8

// Fatal error codes defined by the protocol. Codes 128-255 are device defined.
const (
	FatalUnidentified        FatalErrorCode = 0
	FatalPoorlyFormedHeader  FatalErrorCode = 1
	FatalChannelsNotReady    FatalErrorCode = 2
	FatalInvalidInitSequence FatalErrorCode = 3
	FatalMaxClientsExceeded  FatalErrorCode = 4
)

func (c FatalErrorCode) String() string {
	switch c {
	case FatalUnidentified:
		return "unidentified error"
	case FatalPoorlyFormedHeader:
		return "poorly formed message header"
	case FatalChannelsNotReady:
		return "attempt to use connection without both channels established"
	case FatalInvalidInitSequence:
		return "invalid initialization sequence"
	case FatalMaxClientsExceeded:
		return "maximum number of clients exceeded"
	}

	if c >= 128 {
		return "device defined error " + strconv.Itoa(int(c))
	}

	return "reserved error " + strconv.Itoa(int(c))
}

// FatalSessionError reports a FatalError message received from the server.
type FatalSessionError struct {
	Code FatalErrorCode
	Text string
}

// NewFatalSessionError creates a FatalSessionError from a FatalError message.
func NewFatalSessionError(msg *Message) *FatalSessionError {
	return &FatalSessionError{Code: FatalErrorCode(msg.Control()), Text: string(msg.Payload())}
}

func (e *FatalSessionError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("hislip: server fatal error %d (%s)", e.Code, e.Code)
	}

	return fmt.Sprintf("hislip: server fatal error %d (%s): %s", e.Code, e.Code, e.Text)
}

func (e *FatalSessionError) Is(target error) bool { return target == ErrFatalSession }

// ErrorCode is the control code of a non-fatal Error message.
type ErrorCode uint8

// Non-fatal error codes defined by the protocol. Codes 128-255 are device defined.
const (
	ErrorUnidentified          ErrorCode = 0
	ErrorUnrecognizedMsgType   ErrorCode = 1
	ErrorUnrecognizedControl   ErrorCode = 2
	ErrorUnrecognizedVendorMsg ErrorCode = 3
	ErrorMessageTooLarge       ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorUnidentified:
		return "unidentified error"
	case ErrorUnrecognizedMsgType:
		return "unrecognized message type"
	case ErrorUnrecognizedControl:
		return "unrecognized control code"
	case ErrorUnrecognizedVendorMsg:
		return "unrecognized vendor defined message"
	case ErrorMessageTooLarge:
		return "message too large"
	}

	if c >= 128 {
		return "device defined error " + strconv.Itoa(int(c))
	}

	return "reserved error " + strconv.Itoa(int(c))
}

// ServerError reports a non-fatal Error message received from the server.
type ServerError struct {
	Code ErrorCode
	Text string
}

// NewServerError creates a ServerError from an Error message.
func NewServerError(msg *Message) *ServerError {
	return &ServerError{Code: ErrorCode(msg.Control()), Text: string(msg.Payload())}
}

func (e *ServerError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("hislip: server error %d (%s)", e.Code, e.Code)
	}

	return fmt.Sprintf("hislip: server error %d (%s): %s", e.Code, e.Code, e.Text)
}

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// LockError reports a failed lock or unlock request.
type LockError struct {
	// Control is the control code of the AsyncLockResponse.
	Control uint8
	Reason  string
}

func (e *LockError) Error() string {
	return "hislip: lock error: " + e.Reason
}

func (e *LockError) Is(target error) bool { return target == ErrLock }
