package rpc

import "fmt"

// ErrorCode is a stable string token identifying an RPCError's family.
type ErrorCode string

const (
	// Transport family.
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrMethodNotFound    ErrorCode = "METHOD_NOT_FOUND"
	ErrInvalidParams     ErrorCode = "INVALID_PARAMS"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrConnectionClosed  ErrorCode = "CONNECTION_CLOSED"
	ErrSerializationError ErrorCode = "SERIALIZATION_ERROR"

	// VM family.
	ErrVMNotFound       ErrorCode = "VM_NOT_FOUND"
	ErrVMAlreadyExists  ErrorCode = "VM_ALREADY_EXISTS"
	ErrVMOperationFailed ErrorCode = "VM_OPERATION_FAILED"
	ErrVMCreateFailed   ErrorCode = "VM_CREATE_FAILED"
	ErrVMStartFailed    ErrorCode = "VM_START_FAILED"
	ErrVMStopFailed     ErrorCode = "VM_STOP_FAILED"
	ErrVMDeleteFailed   ErrorCode = "VM_DELETE_FAILED"

	// Storage family.
	ErrStorageError        ErrorCode = "STORAGE_ERROR"
	ErrVolumeNotFound      ErrorCode = "VOLUME_NOT_FOUND"
	ErrVolumeAlreadyExists ErrorCode = "VOLUME_ALREADY_EXISTS"
	ErrVolumeCreateFailed  ErrorCode = "VOLUME_CREATE_FAILED"
	ErrVolumeDeleteFailed  ErrorCode = "VOLUME_DELETE_FAILED"

	// Network family.
	ErrNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrNetworkCreateFailed ErrorCode = "NETWORK_CREATE_FAILED"
	ErrNetworkDeleteFailed ErrorCode = "NETWORK_DELETE_FAILED"

	// Node family.
	ErrNodeNotFound ErrorCode = "NODE_NOT_FOUND"
	ErrNodeOffline  ErrorCode = "NODE_OFFLINE"
)

// RPCError is the envelope's "error" field: a stable code plus a
// human-readable message and optional structured details.
type RPCError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewError constructs an RPCError with no details.
func NewError(code ErrorCode, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewErrorf constructs an RPCError with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorWithDetails constructs an RPCError carrying structured details.
func ErrorWithDetails(code ErrorCode, message string, details any) *RPCError {
	return &RPCError{Code: code, Message: message, Details: details}
}

func MethodNotFound(method string) *RPCError {
	return NewErrorf(ErrMethodNotFound, "method not found: %s", method)
}

func InvalidParams(message string) *RPCError {
	return NewError(ErrInvalidParams, message)
}

func InternalError(err error) *RPCError {
	return NewErrorf(ErrInternalError, "internal error: %v", err)
}

func TimeoutError(method string) *RPCError {
	return NewErrorf(ErrTimeout, "request timed out: %s", method)
}

func ConnectionClosed() *RPCError {
	return NewError(ErrConnectionClosed, "connection closed")
}

func SerializationError(err error) *RPCError {
	return NewErrorf(ErrSerializationError, "serialization error: %v", err)
}

func VMNotFound(vmID string) *RPCError {
	return NewErrorf(ErrVMNotFound, "vm not found: %s", vmID)
}

func NodeNotFound(nodeID string) *RPCError {
	return NewErrorf(ErrNodeNotFound, "node not found: %s", nodeID)
}

func NodeOffline(nodeID string) *RPCError {
	return NewErrorf(ErrNodeOffline, "node offline: %s", nodeID)
}
