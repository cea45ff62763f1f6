package queue

import (
	"testing"
	"time"
)

func TestUnboundedPreservesOrder(t *testing.T) {
	q := NewUnbounded[int]()
	defer q.Close()

	for i := 0; i < 1000; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false, want true", i)
		}
	}

	for i := 0; i < 1000; i++ {
		select {
		case got := <-q.Out():
			if got != i {
				t.Fatalf("Out() = %d, want %d", got, i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for item %d", i)
		}
	}
}

// TestUnboundedNeverBlocksOnPush backs the exact guarantee an outbound
// socket writer needs: a producer filling the buffer far past any fixed
// channel capacity must never block waiting on the consumer.
func TestUnboundedNeverBlocksOnPush(t *testing.T) {
	q := NewUnbounded[int]()
	defer q.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked with no consumer draining Out()")
	}
}

func TestUnboundedPushAfterCloseFails(t *testing.T) {
	q := NewUnbounded[int]()
	q.Close()

	if q.Push(1) {
		t.Error("Push() after Close() = true, want false")
	}
}

func TestUnboundedOutClosesAfterClose(t *testing.T) {
	q := NewUnbounded[int]()
	q.Push(1)
	q.Close()

	select {
	case v, ok := <-q.Out():
		if !ok {
			t.Fatal("Out() closed before draining the buffered value")
		}
		if v != 1 {
			t.Fatalf("Out() = %d, want 1", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out draining buffered value")
	}

	select {
	case _, ok := <-q.Out():
		if ok {
			t.Fatal("Out() produced a value after drain, want closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Out() never closed after Close()")
	}
}
