package xfrd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/core/ports"
)

const (
	defaultTransferTimeout = 10 * time.Second
	defaultTCPTimeout      = 120 * time.Second
	defaultTCPSlots        = 10
)

// ZoneConfig names one secondary zone and the masters to fetch it from.
type ZoneConfig struct {
	Name    string
	Masters []string
}

// Options configures a Daemon. Reactor, Store and Serving are required;
// Notifier and Logger fall back to no-op and slog.Default.
type Options struct {
	Zones     []ZoneConfig
	StateFile string

	TCPSlots        int
	TransferTimeout time.Duration // UDP probe timeout, also the retry base
	TCPTimeout      time.Duration // per-operation TCP inactivity timeout

	Reactor  ports.Reactor
	Store    ports.DiffStore
	Notifier ports.Notifier
	Serving  ports.ServingEngine

	Logger *slog.Logger
	Rand   *rand.Rand // deterministic source for tests; nil means seeded
}

// Daemon is the transfer coordinator. It is single-threaded: all zone and
// pool state is touched only from Run's reactor dispatch loop.
type Daemon struct {
	logger   *slog.Logger
	reactor  ports.Reactor
	store    ports.DiffStore
	notifier ports.Notifier
	serving  ports.ServingEngine

	zones     *registry
	stateFile string

	tcpState  []*tcpSlot
	tcpCount  int
	tcpQueue  []*Zone // FIFO of zones waiting for a slot
	tcpLimit  time.Duration
	probeWait time.Duration

	rng *rand.Rand

	now      time.Time
	gotTime  bool
	shutdown bool

	ipcFd      int
	ipcHandler ports.EventHandler
}

// NewDaemon builds the coordinator: it normalizes and registers the zones,
// seeds each zone's in-memory SOA from the serving engine, loads the state
// file if present, and registers every handler with the reactor.
func NewDaemon(opts Options) (*Daemon, error) {
	if opts.Reactor == nil || opts.Store == nil || opts.Serving == nil {
		return nil, errors.New("xfrd: reactor, store and serving engine are required")
	}
	if len(opts.Zones) == 0 {
		return nil, errors.New("xfrd: no zones configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	slots := opts.TCPSlots
	if slots <= 0 {
		slots = defaultTCPSlots
	}
	probeWait := opts.TransferTimeout
	if probeWait <= 0 {
		probeWait = defaultTransferTimeout
	}
	tcpLimit := opts.TCPTimeout
	if tcpLimit <= 0 {
		tcpLimit = defaultTCPTimeout
	}

	d := &Daemon{
		logger:    logger,
		reactor:   opts.Reactor,
		store:     opts.Store,
		notifier:  notifier,
		serving:   opts.Serving,
		stateFile: opts.StateFile,
		tcpLimit:  tcpLimit,
		probeWait: probeWait,
		rng:       rng,
		ipcFd:     -1,
	}
	d.tcpState = make([]*tcpSlot, slots)
	for i := range d.tcpState {
		d.tcpState[i] = newTCPSlot()
	}

	zones := make([]*Zone, 0, len(opts.Zones))
	seen := make(map[string]bool, len(opts.Zones))
	for _, zc := range opts.Zones {
		apex, err := domain.NormalizeName(zc.Name)
		if err != nil {
			return nil, fmt.Errorf("xfrd: zone %q: %w", zc.Name, err)
		}
		if seen[apex] {
			return nil, fmt.Errorf("xfrd: zone %q configured twice", apex)
		}
		seen[apex] = true
		if len(zc.Masters) == 0 {
			return nil, fmt.Errorf("xfrd: zone %q has no masters", apex)
		}
		for _, m := range zc.Masters {
			if _, _, err := masterSockaddr(m); err != nil {
				return nil, fmt.Errorf("xfrd: zone %q master %q: %w", apex, m, err)
			}
		}
		z := &Zone{
			apex:    apex,
			masters: append([]string(nil), zc.Masters...),
			tcpConn: -1,
		}
		z.handler.Fd = -1
		z.handler.Events = ports.EventRead | ports.EventTimeout
		z.handler.Handle = func(ev ports.EventType) { d.handleZone(z, ev) }
		zones = append(zones, z)
	}
	d.zones = newRegistry(zones)

	for _, z := range d.zones.sorted {
		d.seedZone(z)
		d.reactor.AddHandler(&z.handler)
	}
	d.logger.Info("zones registered", "count", d.zones.count())

	if d.stateFile != "" {
		if err := d.ReadState(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// seedZone fills the zone's in-memory SOA from the serving engine. Served
// data may predate a long downtime, so even a seeded zone starts out
// refreshing and verifies against a master right away; only state-file
// reconciliation can restore a fresh lease.
func (d *Daemon) seedZone(z *Zone) {
	soa, err := d.serving.CurrentSOA(context.Background(), z.apex)
	if err != nil {
		d.logger.Error("cannot read served soa", "zone", z.apex, "error", err)
	}
	now := d.time()
	if soa != nil {
		z.soaNSD = *soa
		z.soaDisk = *soa
		z.soaNSDAcquired = now
		z.soaDiskAcquired = now
	}
	z.setRefreshNow(domain.StateRefreshing, now)
}

// RegisterControl attaches a parent control descriptor. A one-word "quit"
// or "shutdown" command, or the peer closing the channel, stops the run
// loop after the next dispatch.
func (d *Daemon) RegisterControl(fd int) {
	unix.SetNonblock(fd, true)
	d.ipcFd = fd
	d.ipcHandler.Fd = fd
	d.ipcHandler.Events = ports.EventRead
	d.ipcHandler.Handle = func(ev ports.EventType) { d.handleIPC(ev) }
	d.reactor.AddHandler(&d.ipcHandler)
}

func (d *Daemon) handleIPC(ev ports.EventType) {
	if ev&ports.EventRead == 0 {
		return
	}
	buf := make([]byte, 64)
	n, err := unix.Read(d.ipcFd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		d.logger.Error("control channel read failed", "error", err)
		d.shutdown = true
		return
	}
	if n == 0 {
		// Peer closed the channel; treat as shutdown.
		d.shutdown = true
		return
	}
	cmd := strings.TrimSpace(string(buf[:n]))
	switch cmd {
	case "quit", "shutdown":
		d.logger.Info("shutdown requested", "command", cmd)
		d.shutdown = true
	default:
		d.logger.Warn("unknown control command", "command", cmd)
	}
}

// Run drives the reactor until a shutdown command arrives, then writes the
// state file and closes all descriptors.
func (d *Daemon) Run() error {
	d.logger.Info("transfer coordinator running",
		"zones", d.zones.count(), "tcp_slots", len(d.tcpState))
	for !d.shutdown {
		d.gotTime = false
		if err := d.reactor.Dispatch(); err != nil {
			d.logger.Error("dispatch failed", "error", err)
			return err
		}
	}
	return d.stop()
}

func (d *Daemon) stop() error {
	var err error
	if d.stateFile != "" {
		err = d.WriteState()
		if err != nil {
			d.logger.Error("cannot write state file", "file", d.stateFile, "error", err)
		}
	}
	for _, z := range d.zones.sorted {
		if z.tcpConn != -1 {
			d.tcpRelease(z)
		}
		if z.handler.Fd != -1 {
			unix.Close(z.handler.Fd)
			z.handler.Fd = -1
		}
	}
	if d.ipcFd != -1 {
		unix.Close(d.ipcFd)
		d.ipcFd = -1
		d.ipcHandler.Fd = -1
	}
	d.logger.Info("transfer coordinator stopped")
	return err
}

// time returns the wall clock, read at most once per reactor wake so every
// decision made while handling one batch of events sees the same instant.
func (d *Daemon) time() time.Time {
	if !d.gotTime {
		d.now = time.Now()
		d.gotTime = true
	}
	return d.now
}

type nopNotifier struct{}

func (nopNotifier) ZoneUpdated(context.Context, string, uint32) error { return nil }
func (nopNotifier) ZoneExpired(context.Context, string, bool) error { return nil }
