// Package xfrd coordinates zone transfers for every configured secondary
// zone: it tracks SOA state, schedules probes against the masters, runs
// AXFR/IXFR exchanges over UDP and TCP, and persists its state across
// restarts.
package xfrd

import (
	"sort"
	"time"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/core/ports"
)

// Zone is the transfer-coordination state for one secondary zone. Zones are
// created once at startup and live for the process lifetime; all fields are
// owned by the single reactor goroutine.
type Zone struct {
	apex    string   // canonical apex name, lowercase, trailing dot
	masters []string // candidate masters as "ip:port", tried round-robin

	masterNum int // index of the master currently being tried

	// Three SOA snapshots: what the serving engine has loaded, what was
	// last written to the diff store (may be ahead until a reload), and
	// what an unresolved notification claimed. A zero acquisition time
	// means "never acquired".
	soaNSD      domain.SOA
	soaDisk     domain.SOA
	soaNotified domain.SOA

	soaNSDAcquired      time.Time
	soaDiskAcquired     time.Time
	soaNotifiedAcquired time.Time

	state   domain.ZoneState
	queryID uint16 // transaction id of the outstanding query

	// handler is this zone's reactor registration; handler.Fd carries the
	// zone's UDP probe socket or, during a TCP transfer, the slot socket.
	handler ports.EventHandler
	timeout time.Time // backing store for handler.Timeout

	// A zone holds at most one outstanding network operation: either
	// tcpConn != -1 (it owns pool slot tcpConn) or tcpWaiting (it is
	// queued for a slot), never both.
	tcpConn    int
	tcpWaiting bool
}

// Apex returns the zone's canonical apex name.
func (z *Zone) Apex() string { return z.apex }

// State returns the zone's current trust state.
func (z *Zone) State() domain.ZoneState { return z.state }

// DiskSerial returns the serial last committed to the diff store and
// whether any serial was ever committed.
func (z *Zone) DiskSerial() (uint32, bool) {
	return z.soaDisk.Serial, !z.soaDiskAcquired.IsZero()
}

func (z *Zone) master() string {
	return z.masters[z.masterNum]
}

// rotateMaster advances to the next configured master, wrapping to the
// first when the list is exhausted.
func (z *Zone) rotateMaster() {
	if z.masterNum+1 < len(z.masters) {
		z.masterNum++
	} else {
		z.masterNum = 0
	}
}

// setTimer arms the zone's next wake at an absolute time.
func (z *Zone) setTimer(t time.Time) {
	z.timeout = t
	z.handler.Timeout = &z.timeout
}

// setRefreshNow puts the zone in the given state and wakes it immediately.
func (z *Zone) setRefreshNow(state domain.ZoneState, now time.Time) {
	z.state = state
	z.setTimer(now)
}

// registry holds every configured zone: a map for exact lookup and a slice
// in canonical domain-name order for the persistence dump. Built once at
// startup, never resized.
type registry struct {
	byName map[string]*Zone
	sorted []*Zone
}

func newRegistry(zones []*Zone) *registry {
	r := &registry{byName: make(map[string]*Zone, len(zones))}
	for _, z := range zones {
		r.byName[z.apex] = z
	}
	r.sorted = append(r.sorted, zones...)
	sort.Slice(r.sorted, func(i, j int) bool {
		return domain.CompareNames(r.sorted[i].apex, r.sorted[j].apex) < 0
	})
	return r
}

func (r *registry) find(apex string) *Zone {
	return r.byName[apex]
}

func (r *registry) count() int {
	return len(r.sorted)
}
