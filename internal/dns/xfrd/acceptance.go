package xfrd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/dns/xfr"
	"github.com/poyrazK/xfrd/internal/infrastructure/metrics"
)

// processXfrPacket runs one transfer reply through validation and acceptance.
// The checks happen in a fixed order; the first one that fails drops the
// packet without touching zone state, so a hostile or confused master can
// never move a zone backwards.
func (d *Daemon) processXfrPacket(z *Zone, data []byte) {
	resp, err := xfr.ParseResponse(data, z.queryID)
	if err != nil {
		var rcode *xfr.RcodeError
		switch {
		case errors.Is(err, xfr.ErrStray):
			d.logger.Debug("dropping stray response", "zone", z.apex)
			metrics.TransfersTotal.WithLabelValues("stray").Inc()
		case errors.As(err, &rcode):
			d.logger.Warn("master refused transfer",
				"zone", z.apex, "master", z.master(), "rcode", rcode.Rcode)
			metrics.TransfersTotal.WithLabelValues("refused").Inc()
		default:
			d.logger.Warn("dropping malformed response",
				"zone", z.apex, "master", z.master(), "error", err)
			metrics.TransfersTotal.WithLabelValues("malformed").Inc()
		}
		return
	}

	hasDisk := !z.soaDiskAcquired.IsZero()
	if hasDisk && domain.CompareSerial(z.soaDisk.Serial, resp.Serial) > 0 {
		d.logger.Debug("dropping old serial",
			"zone", z.apex, "got", resp.Serial, "have", z.soaDisk.Serial)
		metrics.TransfersTotal.WithLabelValues("stale").Inc()
		return
	}
	if hasDisk && z.soaDisk.Serial == resp.Serial {
		// The master confirms what we already hold. Unless a notification
		// promised something newer, renew the lease on the current data.
		if z.soaNotifiedAcquired.IsZero() {
			now := d.time()
			z.soaDiskAcquired = now
			if z.soaNSD.Serial == resp.Serial {
				z.soaNSDAcquired = now
			}
			z.state = domain.StateOK
			z.setTimer(z.soaDiskAcquired.Add(z.soaDisk.RefreshInterval()))
			d.logger.Debug("serial confirmed, lease renewed",
				"zone", z.apex, "serial", resp.Serial)
			metrics.TransfersTotal.WithLabelValues("confirmed").Inc()
		}
		return
	}

	if resp.AnswerCount == 1 {
		// A bare SOA with a newer serial is a notify-style hint, not a
		// transfer. Recognized here; acting on it as an implicit NOTIFY
		// is left to the notification intake.
		d.logger.Debug("bare soa reply with newer serial",
			"zone", z.apex, "serial", resp.Serial)
	}
	if resp.Truncated {
		if z.tcpConn == -1 {
			d.logger.Debug("response truncated, retrying over tcp", "zone", z.apex)
			d.tcpObtain(z)
		}
		return
	}
	if resp.AnswerCount < 2 {
		d.logger.Debug("response too short to be a transfer",
			"zone", z.apex, "answers", resp.AnswerCount)
		metrics.TransfersTotal.WithLabelValues("short").Inc()
		return
	}

	d.commitTransfer(z, resp, data)
}

// commitTransfer hands the accepted payload to the diff store and advances
// the on-disk view of the zone. Store failures leave the zone untouched;
// the already-armed retry timer will try again.
func (d *Daemon) commitTransfer(z *Zone, resp *xfr.Response, data []byte) {
	ctx := context.Background()
	transferID := uuid.NewString()
	if err := d.store.AppendTransfer(ctx, z.apex, resp.Serial, transferID, data); err != nil {
		d.logger.Error("cannot store transfer",
			"zone", z.apex, "serial", resp.Serial, "error", err)
		metrics.TransfersTotal.WithLabelValues("store_error").Inc()
		return
	}
	now := d.time()
	note := fmt.Sprintf("received update to serial %d at %d from %s",
		resp.Serial, now.Unix(), z.master())
	if err := d.store.Commit(ctx, z.apex, resp.Serial, transferID, note); err != nil {
		d.logger.Error("cannot commit transfer",
			"zone", z.apex, "serial", resp.Serial, "error", err)
		metrics.TransfersTotal.WithLabelValues("store_error").Inc()
		return
	}

	z.soaDisk = resp.SOA
	z.soaDiskAcquired = now
	z.state = domain.StateOK
	z.setTimer(z.soaDiskAcquired.Add(z.soaDisk.RefreshInterval()))
	metrics.TransfersTotal.WithLabelValues("committed").Inc()
	d.logger.Info("zone transfer committed",
		"zone", z.apex, "serial", resp.Serial, "master", z.master(),
		"transfer_id", transferID, "answers", resp.AnswerCount)
}

// handleIncomingSOA reconciles a SOA the serving engine reports after a
// reload. Feeding the same observation twice is harmless: the first
// application makes the second a no-op.
func (d *Daemon) handleIncomingSOA(z *Zone, soa *domain.SOA, acquired time.Time) {
	now := d.time()
	if soa == nil {
		// The serving engine no longer has the zone loaded.
		z.soaNSD = domain.SOA{}
		z.soaNSDAcquired = time.Time{}
		z.setRefreshNow(domain.StateRefreshing, now)
		return
	}
	if soa.Serial == z.soaNSD.Serial {
		return
	}
	if soa.Serial == z.soaDisk.Serial {
		// The serving engine caught up with the stored data.
		z.soaNSD = z.soaDisk
		z.soaNSDAcquired = z.soaDiskAcquired
		if err := d.notifier.ZoneUpdated(context.Background(), z.apex, z.soaDisk.Serial); err != nil {
			d.logger.Error("cannot publish zone update", "zone", z.apex, "error", err)
		}
		age := now.Sub(z.soaDiskAcquired)
		switch {
		case age < z.soaDisk.RefreshInterval():
			z.state = domain.StateOK
			z.setTimer(z.soaDiskAcquired.Add(z.soaDisk.RefreshInterval()))
		case age < z.soaDisk.ExpireInterval():
			z.setRefreshNow(domain.StateRefreshing, now)
		default:
			z.setRefreshNow(domain.StateExpired, now)
		}
		d.sendExpiryNotification(z)
		if !z.soaNotifiedAcquired.IsZero() &&
			domain.CompareSerial(z.soaDisk.Serial, z.soaNotified.Serial) > 0 {
			// The pending notification is satisfied by what we now hold.
			z.soaNotifiedAcquired = time.Time{}
		}
		return
	}
	// The serving engine holds data this coordinator never transferred,
	// from an operator import or an out-of-band sync. Adopt it wholesale.
	d.logger.Info("adopting out-of-band zone data",
		"zone", z.apex, "serial", soa.Serial)
	z.soaNSD = *soa
	z.soaDisk = *soa
	z.soaNSDAcquired = acquired
	z.soaDiskAcquired = acquired
	z.soaNotifiedAcquired = time.Time{}
	z.setRefreshNow(domain.StateRefreshing, now)
}
