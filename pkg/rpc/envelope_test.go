package rpc

import (
	"strings"
	"testing"
)

func TestNewRequestHasPrefixedID(t *testing.T) {
	env, err := NewRequest("get_node_info", map[string]string{"node_id": "n1"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if !strings.HasPrefix(env.ID, "req-") {
		t.Errorf("ID = %q, want req- prefix", env.ID)
	}
	if env.Type != TypeRequest || env.Method != "get_node_info" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestNewNotificationHasPrefixedID(t *testing.T) {
	env, err := NewNotification("heartbeat", map[string]int64{"timestamp": 1})
	if err != nil {
		t.Fatalf("NewNotification() error = %v", err)
	}
	if !strings.HasPrefix(env.ID, "notif-") {
		t.Errorf("ID = %q, want notif- prefix", env.ID)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	req, _ := NewRequest("ping", nil)
	resp, err := NewResponse(req.ID, map[string]string{"status": "ok"})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	if resp.ID != req.ID {
		t.Errorf("resp.ID = %q, want %q", resp.ID, req.ID)
	}
	if !resp.IsSuccess() || resp.IsError() {
		t.Error("expected IsSuccess()=true, IsError()=false")
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := resp.UnmarshalResult(&out); err != nil {
		t.Fatalf("UnmarshalResult() error = %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("out.Status = %q, want ok", out.Status)
	}
}

func TestErrorResponse(t *testing.T) {
	req, _ := NewRequest("create_volume", nil)
	resp := NewErrorResponse(req.ID, MethodNotFound("create_volume"))
	if !resp.IsError() || resp.IsSuccess() {
		t.Error("expected IsError()=true, IsSuccess()=false")
	}
	if resp.Error.Code != ErrMethodNotFound {
		t.Errorf("resp.Error.Code = %q, want %q", resp.Error.Code, ErrMethodNotFound)
	}
}
