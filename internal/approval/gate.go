// Package approval implements the human-in-the-loop approval gate: before a
// tool call that mutates external state or spends significant resources,
// execution blocks until a human (or a YOLO policy) decides.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ghlggc/Jimi-sub000/internal/wire"
)

// Decision is the human (or policy) response to a Request.
type Decision string

const (
	Approve           Decision = "approve"
	ApproveForSession Decision = "approve_for_session"
	Reject            Decision = "reject"
)

// Kind categorizes what is being approved, used together with a
// canonicalized action string to key the approve-for-session cache.
type Kind string

const (
	KindFileWrite  Kind = "file_write"
	KindFileDelete Kind = "file_delete"
	KindShell      Kind = "shell"
	KindNetwork    Kind = "network"
	KindOther      Kind = "other"
)

// Responder answers a pending Request. In production this is backed by a
// UI subscribed to Wire; in tests or YOLO mode it can be satisfied
// synchronously.
type Responder interface {
	// Respond is called once per Request with the human's decision. The
	// Gate itself does not call this: a Responder instead delivers
	// decisions via Gate.Resolve, keyed by request ID. Responder exists so
	// callers have a documented shape to implement against; it is not
	// invoked internally by Gate.
	Respond(ctx context.Context, requestID string, decision Decision)
}

// Request is a pending human-in-the-loop approval request.
type Request struct {
	ID          string
	Kind        Kind
	Action      string
	Description string
	CreatedAt   time.Time
}

// Gate mediates approval for sensitive operations. One Gate is shared by an
// engine and all of its sub-agent children.
type Gate struct {
	mu sync.Mutex

	yolo bool
	bus  *wire.Bus

	// sessionApproved caches ApproveForSession decisions, keyed by a
	// fingerprint of (kind, canonicalized action).
	sessionApproved map[string]bool

	pending map[string]chan Decision

	cancelled bool
}

// New creates a Gate. If yolo is true, every Request resolves to Approve
// immediately without blocking. bus may be nil, in which case approval
// events are simply not published.
func New(yolo bool, bus *wire.Bus) *Gate {
	return &Gate{
		yolo:            yolo,
		bus:             bus,
		sessionApproved: make(map[string]bool),
		pending:         make(map[string]chan Decision),
	}
}

// Cancel marks the session cancelled: any currently-waiting or future
// Request resolves immediately to Reject.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	for _, ch := range g.pending {
		select {
		case ch <- Reject:
		default:
		}
	}
}

// fingerprint canonicalizes an action string for approve-for-session
// caching. Shell commands are reduced to their first bare token; file paths
// are cleaned. This means "cat a.txt" and "cat  a.txt" share one cached
// approval, matching the product's existing behavior for repeated
// near-identical tool calls.
func fingerprint(kind Kind, action string) string {
	canon := strings.TrimSpace(action)
	switch kind {
	case KindShell:
		fields := strings.Fields(canon)
		if len(fields) > 0 {
			canon = fields[0]
		}
	case KindFileWrite, KindFileDelete:
		canon = filepath.Clean(canon)
	}
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + canon))
	return hex.EncodeToString(sum[:])
}

// Request blocks until a decision is reached: Approve, ApproveForSession (in
// which case the decision is cached and future Requests with the same Kind
// and a matching action fingerprint resolve to Approve automatically until
// the gate is disposed), or Reject. If YOLO mode is configured, Request
// returns Approve synchronously without publishing a UI-facing event. If
// ctx is cancelled or the gate's session is cancelled while waiting, Request
// resolves to Reject.
func (g *Gate) Request(ctx context.Context, kind Kind, action, description string) Decision {
	fp := fingerprint(kind, action)

	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return Reject
	}
	if g.yolo {
		g.mu.Unlock()
		return Approve
	}
	if g.sessionApproved[fp] {
		g.mu.Unlock()
		return Approve
	}
	g.mu.Unlock()

	req := Request{
		ID:          uuid.NewString(),
		Kind:        kind,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now(),
	}

	resultCh := make(chan Decision, 1)
	g.mu.Lock()
	g.pending[req.ID] = resultCh
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if g.bus != nil {
		g.bus.Send(wire.Message{
			Type:        wire.ApprovalRequest,
			Time:        req.CreatedAt,
			ApprovalID:  req.ID,
			Kind:        string(kind),
			Action:      action,
			Description: description,
		})
	}

	var decision Decision
	select {
	case decision = <-resultCh:
	case <-ctx.Done():
		decision = Reject
	}

	if decision == ApproveForSession {
		g.mu.Lock()
		g.sessionApproved[fp] = true
		g.mu.Unlock()
	}

	if g.bus != nil {
		g.bus.Send(wire.Message{
			Type:       wire.ApprovalResponse,
			Time:       time.Now(),
			ApprovalID: req.ID,
			Decision:   string(decision),
		})
	}

	if decision == ApproveForSession {
		return Approve
	}
	return decision
}

// Resolve delivers a human decision for a pending request identified by
// requestID. Resolving an unknown or already-resolved request is a no-op.
func (g *Gate) Resolve(requestID string, decision Decision) {
	g.mu.Lock()
	ch, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- decision:
	default:
	}
}
