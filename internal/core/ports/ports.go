// Package ports declares the interfaces through which the transfer
// coordinator consumes its external collaborators.
package ports

import (
	"context"
	"time"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

// DiffStore durably stores transferred zone content. A transfer is first
// appended as a raw wire payload and then committed under its new serial;
// the serving engine picks committed transfers up on reload.
type DiffStore interface {
	AppendTransfer(ctx context.Context, zone string, serial uint32, transferID string, payload []byte) error
	Commit(ctx context.Context, zone string, serial uint32, transferID string, note string) error
}

// Notifier propagates zone events to interested parties: downstream
// secondaries (NOTIFY fan-out) and the serving engine (expiry flagging).
type Notifier interface {
	ZoneUpdated(ctx context.Context, zone string, serial uint32) error
	ZoneExpired(ctx context.Context, zone string, expired bool) error
}

// ServingEngine exposes what the serving side currently has loaded. It is
// consulted once, at startup, to seed the in-memory SOA snapshots.
type ServingEngine interface {
	// CurrentSOA returns the SOA the serving engine has loaded for the
	// zone, or (nil, nil) when the zone is empty or unknown.
	CurrentSOA(ctx context.Context, zone string) (*domain.SOA, error)
}

// EventType is a bitmask of reactor readiness conditions.
type EventType uint8

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventTimeout
)

// EventHandler registers interest in file-descriptor readiness and/or a
// deadline. The reactor re-reads Fd, Events and Timeout before every wait,
// so handlers may mutate their own registration from inside Handle.
type EventHandler struct {
	// Fd is the watched descriptor, -1 when only the timeout is armed.
	Fd int
	// Timeout is an absolute deadline, nil when no timer is armed.
	Timeout *time.Time
	// Events selects which readiness conditions to watch.
	Events EventType
	// Handle is invoked with the conditions that fired. It must run to
	// completion without blocking; partial I/O is resumed on the next
	// readiness notification.
	Handle func(EventType)
}

// Reactor multiplexes all handler descriptors and deadlines in a single
// blocking wait. Handlers are registered once; the set never shrinks.
type Reactor interface {
	AddHandler(h *EventHandler)
	// Dispatch blocks until at least one handler is ready or due, invokes
	// the ready handlers, and returns. An interrupted wait returns nil
	// with no handlers invoked.
	Dispatch() error
}
