// Package rpc implements the bidirectional WebSocket RPC fabric between the
// Controller and every Agent: envelope framing, request/response
// correlation, notification fan-out, and heartbeat-driven liveness.
package rpc

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType is the envelope's "type" field.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeStream       MessageType = "stream"
)

// Envelope is the single JSON shape carried by every WebSocket text frame.
type Envelope struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewRequest builds a request envelope with a fresh "req-<uuid>" id.
func NewRequest(method string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      "req-" + uuid.NewString(),
		Type:    TypeRequest,
		Method:  method,
		Payload: raw,
	}, nil
}

// NewNotification builds a notification envelope with a fresh "notif-<uuid>" id.
func NewNotification(method string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      "notif-" + uuid.NewString(),
		Type:    TypeNotification,
		Method:  method,
		Payload: raw,
	}, nil
}

// NewResponse builds a success response carrying the request's id verbatim.
func NewResponse(requestID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      requestID,
		Type:    TypeResponse,
		Payload: raw,
	}, nil
}

// NewErrorResponse builds an error response carrying the request's id verbatim.
func NewErrorResponse(requestID string, rpcErr *RPCError) Envelope {
	return Envelope{
		ID:    requestID,
		Type:  TypeResponse,
		Error: rpcErr,
	}
}

// IsSuccess reports whether e is a response envelope without an error.
func (e Envelope) IsSuccess() bool {
	return e.Type == TypeResponse && e.Error == nil
}

// IsError reports whether e is a response envelope carrying an error.
func (e Envelope) IsError() bool {
	return e.Type == TypeResponse && e.Error != nil
}

// UnmarshalResult decodes a successful response's payload into out.
func (e Envelope) UnmarshalResult(out any) error {
	return json.Unmarshal(e.Payload, out)
}
