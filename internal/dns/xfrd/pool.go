package xfrd

import (
	"golang.org/x/sys/unix"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/core/ports"
	"github.com/poyrazK/xfrd/internal/dns/packet"
	"github.com/poyrazK/xfrd/internal/dns/xfr"
	"github.com/poyrazK/xfrd/internal/infrastructure/metrics"
)

// tcpSlot is one reusable TCP transfer channel. The message buffer holds
// the largest possible framed payload so a slot never reallocates.
type tcpSlot struct {
	fd int

	isReading  bool
	totalBytes int // bytes of the current framed message moved so far, prefix included
	msglen     int
	lenbuf     [2]byte
	query      []byte // outgoing query, unframed
	buf        []byte // incoming message body
}

func newTCPSlot() *tcpSlot {
	return &tcpSlot{fd: -1, buf: make([]byte, packet.MaxPacketSize)}
}

func (c *tcpSlot) reset() {
	c.isReading = false
	c.totalBytes = 0
	c.msglen = 0
	c.query = nil
}

// tcpObtain gives the zone a TCP slot, or queues it FIFO when all slots are
// busy. A zone that already holds or awaits a slot is left alone.
func (d *Daemon) tcpObtain(z *Zone) {
	if z.tcpConn != -1 || z.tcpWaiting {
		d.logger.Error("zone asked for a tcp channel it already has", "zone", z.apex)
		return
	}
	if d.tcpCount < len(d.tcpState) {
		d.tcpCount++
		for i := range d.tcpState {
			if d.tcpState[i].fd == -1 {
				z.tcpConn = i
				break
			}
		}
		if z.tcpConn == -1 {
			// Accounting and slot fds disagree; should not happen.
			d.tcpCount--
			d.logger.Error("tcp slot accounting out of sync", "zone", z.apex)
			return
		}
		metrics.TCPSlotsInUse.Set(float64(d.tcpCount))
		if !d.tcpOpen(z) {
			return
		}
		d.tcpStartXfr(z)
		return
	}
	z.tcpWaiting = true
	d.tcpQueue = append(d.tcpQueue, z)
	metrics.TCPWaitQueue.Set(float64(len(d.tcpQueue)))
}

// tcpOpen connects the zone's slot to its current master without blocking
// the reactor. Reports false after releasing the slot when setup fails.
func (d *Daemon) tcpOpen(z *Zone) bool {
	slot := d.tcpState[z.tcpConn]
	slot.reset()

	sa, family, err := masterSockaddr(z.master())
	if err != nil {
		d.logger.Error("bad master address", "zone", z.apex, "master", z.master(), "error", err)
		d.tcpRelease(z)
		return false
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		d.logger.Error("cannot create tcp socket", "zone", z.apex, "error", err)
		d.tcpRelease(z)
		return false
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		d.logger.Error("cannot connect to master",
			"zone", z.apex, "master", z.master(), "error", err)
		unix.Close(fd)
		d.tcpRelease(z)
		return false
	}
	slot.fd = fd
	z.handler.Fd = fd
	z.handler.Events = ports.EventWrite | ports.EventTimeout
	z.setTimer(d.time().Add(d.tcpLimit))
	return true
}

// tcpStartXfr builds the transfer query for the zone: AXFR when nothing was
// ever committed for it, IXFR from the committed serial otherwise. The
// first write is attempted immediately; the connect may still be pending,
// in which case the reactor finishes it on writability.
func (d *Daemon) tcpStartXfr(z *Zone) {
	slot := d.tcpState[z.tcpConn]
	qtype := packet.AXFR
	var disk *domain.SOA
	if !z.soaDiskAcquired.IsZero() {
		qtype = packet.IXFR
		disk = &z.soaDisk
	}
	id := uint16(d.rng.Intn(1 << 16))
	query, err := xfr.BuildQuery(id, z.apex, qtype, disk)
	if err != nil {
		d.logger.Error("cannot build transfer query", "zone", z.apex, "error", err)
		d.tcpRelease(z)
		return
	}
	z.queryID = id
	slot.query = query
	slot.msglen = len(query)
	slot.totalBytes = 0
	slot.isReading = false
	metrics.ProbesTotal.WithLabelValues("tcp").Inc()
	d.logger.Debug("tcp transfer started",
		"zone", z.apex, "master", z.master(), "qtype", int(qtype))
	d.tcpWrite(z)
}

// tcpRelease returns the zone's slot to the pool. When the pool was full
// and zones are queued, the freed slot goes to the head of the queue in
// the same call, so waiters are served strictly in arrival order.
func (d *Daemon) tcpRelease(z *Zone) {
	if z.tcpConn == -1 {
		return
	}
	slot := d.tcpState[z.tcpConn]
	z.tcpConn = -1
	z.tcpWaiting = false
	z.handler.Fd = -1
	z.handler.Events = ports.EventRead | ports.EventTimeout
	if slot.fd != -1 {
		unix.Close(slot.fd)
		slot.fd = -1
	}
	slot.reset()

	if d.tcpCount == len(d.tcpState) && len(d.tcpQueue) > 0 {
		next := d.tcpQueue[0]
		d.tcpQueue = d.tcpQueue[1:]
		metrics.TCPWaitQueue.Set(float64(len(d.tcpQueue)))
		next.tcpWaiting = false
		for i := range d.tcpState {
			if d.tcpState[i].fd == -1 {
				next.tcpConn = i
				break
			}
		}
		if !d.tcpOpen(next) {
			return
		}
		d.tcpStartXfr(next)
		return
	}
	d.tcpCount--
	metrics.TCPSlotsInUse.Set(float64(d.tcpCount))
}
