package approval

import (
	"context"
	"testing"
	"time"

	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

func TestYOLOApprovesImmediately(t *testing.T) {
	g := New(true, nil)
	d := g.Request(context.Background(), KindShell, "rm file", "delete a file")
	if d != Approve {
		t.Fatalf("got %v, want Approve in YOLO mode", d)
	}
}

func TestRequestBlocksUntilResolved(t *testing.T) {
	bus := wire.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()
	g := New(false, bus)

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- g.Request(context.Background(), KindShell, "ls", "list files")
	}()

	var reqID string
	select {
	case m := <-sub.Events():
		if m.Type != wire.ApprovalRequest {
			t.Fatalf("got event type %v, want approval_request", m.Type)
		}
		reqID = m.ApprovalID
	case <-time.After(time.Second):
		t.Fatal("no approval_request event published")
	}

	g.Resolve(reqID, Approve)

	select {
	case d := <-resultCh:
		if d != Approve {
			t.Fatalf("got %v, want Approve", d)
		}
	case <-time.After(time.Second):
		t.Fatal("request never resolved")
	}

	select {
	case m := <-sub.Events():
		if m.Type != wire.ApprovalResponse {
			t.Fatalf("got event type %v, want approval_response", m.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no approval_response event published")
	}
}

func TestCancellationResolvesToReject(t *testing.T) {
	g := New(false, nil)

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- g.Request(context.Background(), KindShell, "ls", "list files")
	}()

	time.Sleep(10 * time.Millisecond)
	g.Cancel()

	select {
	case d := <-resultCh:
		if d != Reject {
			t.Fatalf("got %v, want Reject after cancellation", d)
		}
	case <-time.After(time.Second):
		t.Fatal("request never resolved after cancellation")
	}
}

func TestApproveForSessionCachesByFingerprint(t *testing.T) {
	g := New(false, nil)

	resultCh := make(chan Decision, 1)
	go func() {
		resultCh <- g.Request(context.Background(), KindShell, "cat a.txt", "read a file")
	}()
	time.Sleep(10 * time.Millisecond)
	g.mu.Lock()
	var reqID string
	for id := range g.pending {
		reqID = id
	}
	g.mu.Unlock()
	g.Resolve(reqID, ApproveForSession)
	<-resultCh

	// A second, slightly different but canonically-equal shell command
	// should now be auto-approved without blocking.
	d := g.Request(context.Background(), KindShell, "cat  a.txt", "read a file again")
	if d != Approve {
		t.Fatalf("got %v, want Approve from session cache", d)
	}
}

func TestContextCancellationResolvesToReject(t *testing.T) {
	g := New(false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := g.Request(ctx, KindShell, "ls", "list files")
	if d != Reject {
		t.Fatalf("got %v, want Reject for cancelled context", d)
	}
}
