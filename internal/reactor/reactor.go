// Package reactor implements the single-threaded event multiplexer that
// drives the transfer coordinator: one blocking poll(2) across every
// registered descriptor and deadline, then one round of handler dispatch.
package reactor

import (
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/poyrazK/xfrd/internal/core/ports"
)

// Poll is a poll(2)-backed ports.Reactor. The pollfd set is rebuilt from the
// handler registrations on every Dispatch call, so handlers are free to
// change their descriptor, event mask or deadline between (and during)
// dispatches without any registration bookkeeping.
type Poll struct {
	handlers []*ports.EventHandler
	logger   *slog.Logger

	// scratch buffers reused across dispatches
	pfds  []unix.PollFd
	owner []*ports.EventHandler
}

// New returns an empty reactor.
func New(logger *slog.Logger) *Poll {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poll{logger: logger}
}

// AddHandler registers a handler. Handlers are never removed; an idle
// handler parks itself with Fd -1 and a nil Timeout.
func (r *Poll) AddHandler(h *ports.EventHandler) {
	r.handlers = append(r.handlers, h)
}

// Dispatch blocks until a descriptor is ready or a deadline passes, then
// invokes every ready handler exactly once. EINTR is not an error: the call
// returns with nothing dispatched.
func (r *Poll) Dispatch() error {
	now := time.Now()
	timeoutMs := -1
	for _, h := range r.handlers {
		if h.Timeout == nil || h.Events&ports.EventTimeout == 0 {
			continue
		}
		ms := int(h.Timeout.Sub(now).Milliseconds())
		if ms < 0 {
			ms = 0
		}
		if timeoutMs < 0 || ms < timeoutMs {
			timeoutMs = ms
		}
	}

	r.pfds = r.pfds[:0]
	r.owner = r.owner[:0]
	for _, h := range r.handlers {
		if h.Fd < 0 || h.Events&(ports.EventRead|ports.EventWrite) == 0 {
			continue
		}
		var ev int16
		if h.Events&ports.EventRead != 0 {
			ev |= unix.POLLIN
		}
		if h.Events&ports.EventWrite != 0 {
			ev |= unix.POLLOUT
		}
		r.pfds = append(r.pfds, unix.PollFd{Fd: int32(h.Fd), Events: ev})
		r.owner = append(r.owner, h)
	}

	if _, err := unix.Poll(r.pfds, timeoutMs); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}

	now = time.Now()
	j := 0
	for _, h := range r.handlers {
		var fired ports.EventType
		if j < len(r.owner) && r.owner[j] == h {
			re := r.pfds[j].Revents
			if h.Fd == int(r.pfds[j].Fd) {
				if h.Events&ports.EventRead != 0 && re&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
					fired |= ports.EventRead
				}
				if h.Events&ports.EventWrite != 0 && re&(unix.POLLOUT|unix.POLLHUP|unix.POLLERR) != 0 {
					fired |= ports.EventWrite
				}
			}
			j++
		}
		if h.Timeout != nil && h.Events&ports.EventTimeout != 0 && !now.Before(*h.Timeout) {
			fired |= ports.EventTimeout
		}
		if fired != 0 {
			h.Handle(fired)
		}
	}
	return nil
}
