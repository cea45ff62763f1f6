package push

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/hyperctl/pkg/queue"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func recvOrTimeout(t *testing.T, out <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func expectNoMessage(t *testing.T, out <-chan Message) {
	t.Helper()
	select {
	case msg := <-out:
		t.Errorf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubRegisterAndBroadcast(t *testing.T) {
	h := newTestHub()
	conn := &Conn{ID: "c1", outbound: queue.NewUnbounded[Message]()}
	h.Register(conn)

	count := h.Broadcast(Message{Type: TypeVMStatusUpdate, VMID: "vm1", Status: "running"})
	if count != 1 {
		t.Fatalf("Broadcast() = %d, want 1", count)
	}

	msg := recvOrTimeout(t, conn.outbound.Out())
	if msg.VMID != "vm1" || msg.Status != "running" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestHubUnregisterClosesOutbound(t *testing.T) {
	h := newTestHub()
	conn := &Conn{ID: "c1", outbound: queue.NewUnbounded[Message]()}
	h.Register(conn)
	h.Unregister("c1")

	if h.Broadcast(Message{Type: TypeSystemNotification}) != 0 {
		t.Error("expected 0 recipients after unregister")
	}

	if conn.outbound.Push(Message{Type: TypeSystemNotification}) {
		t.Error("expected Push on an unregistered connection's queue to fail")
	}
}

func TestHubSendToUserFiltersByUserID(t *testing.T) {
	h := newTestHub()
	alice := "alice"
	bob := "bob"
	c1 := &Conn{ID: "c1", UserID: &alice, outbound: queue.NewUnbounded[Message]()}
	c2 := &Conn{ID: "c2", UserID: &bob, outbound: queue.NewUnbounded[Message]()}
	c3 := &Conn{ID: "c3", outbound: queue.NewUnbounded[Message]()}
	h.Register(c1)
	h.Register(c2)
	h.Register(c3)

	count := h.SendToUser("alice", Message{Type: TypeTaskStatusUpdate, TaskID: "t1"})
	if count != 1 {
		t.Fatalf("SendToUser() = %d, want 1", count)
	}

	msg := recvOrTimeout(t, c1.outbound.Out())
	if msg.TaskID != "t1" {
		t.Errorf("c1 received wrong message: %+v", msg)
	}
	expectNoMessage(t, c2.outbound.Out())
	expectNoMessage(t, c3.outbound.Out())
}

// TestHubBroadcastNeverDropsUnderBurst backs the unbounded-queue guarantee:
// a connection whose writer goroutine never drains still accepts every
// broadcast instead of losing messages past a fixed buffer size.
func TestHubBroadcastNeverDropsUnderBurst(t *testing.T) {
	h := newTestHub()
	conn := &Conn{ID: "c1", outbound: queue.NewUnbounded[Message]()}
	h.Register(conn)

	const n = 100
	for i := 0; i < n; i++ {
		if count := h.Broadcast(Message{Type: TypeSystemNotification}); count != 1 {
			t.Fatalf("Broadcast() = %d, want 1", count)
		}
	}

	for i := 0; i < n; i++ {
		recvOrTimeout(t, conn.outbound.Out())
	}
}

func TestHubBroadcastSkipsClosedConnection(t *testing.T) {
	h := newTestHub()
	conn := &Conn{ID: "c1", outbound: queue.NewUnbounded[Message]()}
	h.Register(conn)
	conn.outbound.Close()

	count := h.Broadcast(Message{Type: TypeSystemNotification})
	if count != 0 {
		t.Errorf("Broadcast() to a closed connection = %d, want 0", count)
	}
}
