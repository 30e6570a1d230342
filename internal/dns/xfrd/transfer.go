package xfrd

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/core/ports"
	"github.com/poyrazK/xfrd/internal/dns/packet"
	"github.com/poyrazK/xfrd/internal/dns/xfr"
	"github.com/poyrazK/xfrd/internal/infrastructure/metrics"
)

// handleZone is the per-zone reactor callback. A zone holding a TCP slot is
// driven by the slot's read/write phase; otherwise readability means a UDP
// probe answer and a timeout means the current attempt is given up on and
// the next master is tried.
func (d *Daemon) handleZone(z *Zone, ev ports.EventType) {
	if z.tcpConn != -1 {
		slot := d.tcpState[z.tcpConn]
		switch {
		case slot.isReading && ev&ports.EventRead != 0:
			z.setTimer(d.time().Add(d.tcpLimit))
			d.tcpRead(z)
		case !slot.isReading && ev&ports.EventWrite != 0:
			z.setTimer(d.time().Add(d.tcpLimit))
			d.tcpWrite(z)
		case ev&ports.EventTimeout != 0:
			d.logger.Warn("tcp transfer timed out", "zone", z.apex, "master", z.master())
			metrics.TransfersTotal.WithLabelValues("timeout").Inc()
			d.setTimerRetry(z)
			d.tcpRelease(z)
		}
		return
	}

	if ev&ports.EventRead != 0 {
		d.udpRead(z)
		return
	}
	if ev&ports.EventTimeout == 0 {
		return
	}

	// The refresh or retry timer fired. Whatever probe socket is still
	// open belongs to an attempt that got no answer.
	if z.handler.Fd != -1 {
		unix.Close(z.handler.Fd)
		z.handler.Fd = -1
	}
	d.setTimerRetry(z)
	if z.tcpWaiting {
		d.logger.Debug("zone still waiting for tcp slot", "zone", z.apex)
		return
	}
	z.rotateMaster()

	if z.soaDiskAcquired.IsZero() {
		// Nothing was ever transferred; only a full transfer makes sense.
		d.tcpObtain(z)
		return
	}

	fd, err := d.sendProbe(z)
	if err != nil {
		d.logger.Error("cannot send udp probe",
			"zone", z.apex, "master", z.master(), "error", err)
	} else {
		z.handler.Fd = fd
	}

	expireAt := z.soaDiskAcquired.Add(z.soaDisk.ExpireInterval())
	if !d.time().Before(expireAt) {
		if z.state != domain.StateExpired {
			d.logger.Warn("zone expired", "zone", z.apex, "serial", z.soaDisk.Serial)
		}
		z.state = domain.StateExpired
		d.sendExpiryNotification(z)
		d.setTimerRetry(z)
	}
}

// setTimerRetry schedules the next attempt for a zone whose current one
// failed. A zone with no data yet retries quickly with jitter so a fleet
// of fresh zones does not thunder at one master; a zone in danger retries
// at the SOA retry interval; a healthy zone need not wake before it would
// actually expire.
func (d *Daemon) setTimerRetry(z *Zone) {
	now := d.time()
	switch {
	case z.soaDiskAcquired.IsZero():
		jitter := time.Duration(d.rng.Int63n(int64(d.probeWait)))
		z.setTimer(now.Add(d.probeWait + jitter))
	case z.state == domain.StateExpired ||
		now.Add(z.soaDisk.RetryInterval()).Before(z.soaDiskAcquired.Add(z.soaDisk.ExpireInterval())):
		z.setTimer(now.Add(z.soaDisk.RetryInterval()))
	default:
		z.setTimer(z.soaDiskAcquired.Add(z.soaDisk.ExpireInterval()))
	}
	metrics.RetriesTotal.Inc()
}

// sendProbe sends a single-shot UDP IXFR query to the zone's current
// master and returns the socket to watch for the answer.
func (d *Daemon) sendProbe(z *Zone) (int, error) {
	sa, family, err := masterSockaddr(z.master())
	if err != nil {
		return -1, err
	}
	id := uint16(d.rng.Intn(1 << 16))
	query, err := xfr.BuildQuery(id, z.apex, packet.IXFR, &z.soaDisk)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Sendto(fd, query, 0, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sendto %s: %w", z.master(), err)
	}
	z.queryID = id
	metrics.ProbesTotal.WithLabelValues("udp").Inc()
	d.logger.Debug("udp probe sent", "zone", z.apex, "master", z.master(), "id", id)
	return fd, nil
}

// udpRead collects one datagram from the probe socket, closes it, and
// feeds the payload to the acceptance engine.
func (d *Daemon) udpRead(z *Zone) {
	fd := z.handler.Fd
	buf := make([]byte, packet.MaxPacketSize)
	n, _, err := unix.Recvfrom(fd, buf, 0)
	unix.Close(fd)
	z.handler.Fd = -1
	if err != nil {
		d.logger.Warn("udp receive failed", "zone", z.apex, "error", err)
		return
	}
	d.processXfrPacket(z, buf[:n])
}

// tcpWrite moves the framed query out: the two-byte length prefix first,
// then the message body, tolerating partial writes at any point. When the
// last byte is out the slot flips to the read phase.
func (d *Daemon) tcpWrite(z *Zone) {
	slot := d.tcpState[z.tcpConn]
	if slot.totalBytes < 2 {
		prefix := [2]byte{byte(slot.msglen >> 8), byte(slot.msglen)}
		n, err := unix.Write(slot.fd, prefix[slot.totalBytes:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			d.logger.Error("tcp write failed", "zone", z.apex, "master", z.master(), "error", err)
			d.setTimerRetry(z)
			d.tcpRelease(z)
			return
		}
		slot.totalBytes += n
		if slot.totalBytes < 2 {
			return
		}
	}
	n, err := unix.Write(slot.fd, slot.query[slot.totalBytes-2:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		d.logger.Error("tcp write failed", "zone", z.apex, "master", z.master(), "error", err)
		d.setTimerRetry(z)
		d.tcpRelease(z)
		return
	}
	slot.totalBytes += n
	if slot.totalBytes < slot.msglen+2 {
		return
	}

	slot.isReading = true
	slot.totalBytes = 0
	slot.msglen = 0
	z.handler.Events = ports.EventRead | ports.EventTimeout
	d.tcpRead(z)
}

// tcpRead assembles one framed response: the two-byte length prefix, then
// exactly that many payload bytes, tolerating partial reads. A complete
// message goes to the acceptance engine and the slot is released.
func (d *Daemon) tcpRead(z *Zone) {
	slot := d.tcpState[z.tcpConn]
	if slot.totalBytes < 2 {
		n, err := unix.Read(slot.fd, slot.lenbuf[slot.totalBytes:2])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			d.logger.Error("tcp read failed", "zone", z.apex, "master", z.master(), "error", err)
			d.setTimerRetry(z)
			d.tcpRelease(z)
			return
		}
		if n == 0 {
			d.logger.Warn("master closed connection", "zone", z.apex, "master", z.master())
			d.setTimerRetry(z)
			d.tcpRelease(z)
			return
		}
		slot.totalBytes += n
		if slot.totalBytes < 2 {
			return
		}
		slot.msglen = int(slot.lenbuf[0])<<8 | int(slot.lenbuf[1])
		if slot.msglen > len(slot.buf) {
			d.logger.Error("tcp message too large",
				"zone", z.apex, "master", z.master(), "length", slot.msglen)
			d.setTimerRetry(z)
			d.tcpRelease(z)
			return
		}
		if slot.msglen == 0 {
			d.logger.Warn("empty tcp message", "zone", z.apex, "master", z.master())
			d.setTimerRetry(z)
			d.tcpRelease(z)
			return
		}
	}
	n, err := unix.Read(slot.fd, slot.buf[slot.totalBytes-2:slot.msglen])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		d.logger.Error("tcp read failed", "zone", z.apex, "master", z.master(), "error", err)
		d.setTimerRetry(z)
		d.tcpRelease(z)
		return
	}
	if n == 0 {
		d.logger.Warn("master closed connection mid-message",
			"zone", z.apex, "master", z.master())
		d.setTimerRetry(z)
		d.tcpRelease(z)
		return
	}
	slot.totalBytes += n
	if slot.totalBytes < slot.msglen+2 {
		return
	}

	data := make([]byte, slot.msglen)
	copy(data, slot.buf[:slot.msglen])
	d.processXfrPacket(z, data)
	d.tcpRelease(z)
}

// sendExpiryNotification tells the serving side whether this zone's data
// may still be used for answering.
func (d *Daemon) sendExpiryNotification(z *Zone) {
	expired := z.state == domain.StateExpired
	if err := d.notifier.ZoneExpired(context.Background(), z.apex, expired); err != nil {
		d.logger.Error("cannot publish expiry change", "zone", z.apex, "error", err)
	}
}

// masterSockaddr parses a configured "ip:port" master endpoint into the
// socket address and family for the raw socket calls.
func masterSockaddr(master string) (unix.Sockaddr, int, error) {
	ap, err := netip.ParseAddrPort(master)
	if err != nil {
		return nil, 0, err
	}
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		a4 := ap.Addr().Unmap().As4()
		copy(sa.Addr[:], a4[:])
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port())}
	a16 := ap.Addr().As16()
	copy(sa.Addr[:], a16[:])
	return sa, unix.AF_INET6, nil
}
