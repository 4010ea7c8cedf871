package protocol

import (
	"errors"
	"time"
)

// Core protocol errors
var (
	// Connection errors

	ErrConnectionClosed      = errors.New("connection is closed")
	ErrConnectionRefused     = errors.New("connection refused")
	ErrMaxConnectionsReached = errors.New("maximum connections reached")
	ErrPeerNotFound          = errors.New("peer not found")

	// Handshake errors

	ErrProtocolMismatch  = errors.New("protocol version mismatch")
	ErrConnectRejected   = errors.New("connection rejected")
	ErrConnectTimeout    = errors.New("connect timeout")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrAuthorizationFail = errors.New("authorization failed")

	// Message errors

	ErrMessageQueueFull      = errors.New("message queue is full")
	ErrMessageTooLarge       = errors.New("message too large")
	ErrUnknownMessageType    = errors.New("unknown message type")
	ErrUnregisteredType      = errors.New("message type not registered")
	ErrDuplicateMessageType  = errors.New("message type already registered")
	ErrSerializationFailed   = errors.New("message serialization failed")
	ErrDeserializationFailed = errors.New("message deserialization failed")

	// Frame errors

	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidHeader = errors.New("invalid header")

	// Provider errors

	ErrProviderInstalled = errors.New("transport provider already installed")
	ErrNoProvider        = errors.New("no transport provider installed")
	ErrUnknownProvider   = errors.New("unknown transport provider")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrAddressInUse      = errors.New("address already in use")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed      ErrorCode = 1001
	ErrorCodeConnectionRefused     ErrorCode = 1003
	ErrorCodeMaxConnectionsReached ErrorCode = 1006
	ErrorCodeProtocolViolation     ErrorCode = 1007
	ErrorCodePeerNotFound          ErrorCode = 1009

	// Handshake error codes (2000-2999)

	ErrorCodeProtocolMismatch    ErrorCode = 2001
	ErrorCodeConnectRejected     ErrorCode = 2002
	ErrorCodeConnectTimeout      ErrorCode = 2003
	ErrorCodeHandshakeTimeout    ErrorCode = 2004
	ErrorCodeAuthorizationFailed ErrorCode = 2006

	// Message error codes (3000-3999)

	ErrorCodeMessageQueueFull      ErrorCode = 3004
	ErrorCodeSerializationFailed   ErrorCode = 3005
	ErrorCodeDeserializationFailed ErrorCode = 3006
	ErrorCodeUnknownMessageType    ErrorCode = 3007
	ErrorCodeUnregisteredType      ErrorCode = 3008
	ErrorCodeMessageTooLarge       ErrorCode = 3009

	// Transport error codes (7000-7999)

	ErrorCodeTransportClosed  ErrorCode = 7002
	ErrorCodeProviderMissing  ErrorCode = 7008
	ErrorCodeProviderConflict ErrorCode = 7009
	ErrorCodeAddressInUse     ErrorCode = 7010

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error represents a protocol-specific error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsTemporary reports whether retrying the operation can succeed.
func (e *Error) IsTemporary() bool {
	switch e.Code {
	case ErrorCodeMessageQueueFull, ErrorCodeConnectTimeout:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the connection should be torn down.
func (e *Error) IsFatal() bool {
	switch e.Code {
	case ErrorCodeConnectionClosed,
		ErrorCodeConnectionRefused,
		ErrorCodeProtocolViolation,
		ErrorCodeProtocolMismatch,
		ErrorCodeConnectRejected,
		ErrorCodeAuthorizationFailed:
		return true
	default:
		return false
	}
}

var errorCodeMap = map[error]ErrorCode{
	ErrConnectionClosed:      ErrorCodeConnectionClosed,
	ErrConnectionRefused:     ErrorCodeConnectionRefused,
	ErrMaxConnectionsReached: ErrorCodeMaxConnectionsReached,
	ErrPeerNotFound:          ErrorCodePeerNotFound,

	ErrProtocolMismatch:  ErrorCodeProtocolMismatch,
	ErrConnectRejected:   ErrorCodeConnectRejected,
	ErrConnectTimeout:    ErrorCodeConnectTimeout,
	ErrHandshakeTimeout:  ErrorCodeHandshakeTimeout,
	ErrAuthorizationFail: ErrorCodeAuthorizationFailed,

	ErrMessageQueueFull:      ErrorCodeMessageQueueFull,
	ErrMessageTooLarge:       ErrorCodeMessageTooLarge,
	ErrUnknownMessageType:    ErrorCodeUnknownMessageType,
	ErrUnregisteredType:      ErrorCodeUnregisteredType,
	ErrSerializationFailed:   ErrorCodeSerializationFailed,
	ErrDeserializationFailed: ErrorCodeDeserializationFailed,
	ErrInvalidFrame:          ErrorCodeProtocolViolation,
	ErrInvalidHeader:         ErrorCodeProtocolViolation,

	ErrProviderInstalled: ErrorCodeProviderConflict,
	ErrNoProvider:        ErrorCodeProviderMissing,
	ErrUnknownProvider:   ErrorCodeProviderMissing,
	ErrTransportClosed:   ErrorCodeTransportClosed,
	ErrAddressInUse:      ErrorCodeAddressInUse,
}

// GetErrorCode returns the error code for a given error
func GetErrorCode(err error) ErrorCode {
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return ErrorCodeUnknownError
}

// WrapError wraps a standard error into a ProtocolError
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}
