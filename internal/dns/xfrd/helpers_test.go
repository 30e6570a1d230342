package xfrd

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/dns/packet"
	"github.com/poyrazK/xfrd/internal/reactor"
	"github.com/poyrazK/xfrd/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSOA(serial uint32) *domain.SOA {
	soa := domain.NewSOA(serial, 3600, 600, 86400, 300)
	soa.TTL = 3600
	soa.PrimaryNS = "ns1.example.com."
	soa.Mailbox = "hostmaster.example.com."
	return soa
}

// recordingNotifier captures events without a message bus.
type recordingNotifier struct {
	mu      sync.Mutex
	updates []uint32
	expiry  []expiryEvent
}

type expiryEvent struct {
	zone    string
	expired bool
}

func (n *recordingNotifier) ZoneUpdated(_ context.Context, _ string, serial uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, serial)
	return nil
}

func (n *recordingNotifier) ZoneExpired(_ context.Context, zone string, expired bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expiry = append(n.expiry, expiryEvent{zone: zone, expired: expired})
	return nil
}

// lastExpiry returns the most recent expiry flag published for the zone.
func (n *recordingNotifier) lastExpiry(zone string) (bool, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.expiry) - 1; i >= 0; i-- {
		if n.expiry[i].zone == zone {
			return n.expiry[i].expired, true
		}
	}
	return false, false
}

type testEnv struct {
	daemon   *Daemon
	store    *testutil.RecordingStore
	notifier *recordingNotifier
}

// newTestEnv builds a daemon around in-memory collaborators. served maps
// zone names to what the serving engine pretends to have loaded.
func newTestEnv(t *testing.T, opts Options, served map[string]*domain.SOA) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    &testutil.RecordingStore{},
		notifier: &recordingNotifier{},
	}
	opts.Reactor = reactor.New(testLogger())
	opts.Store = env.store
	opts.Notifier = env.notifier
	opts.Serving = &testutil.StaticServing{SOAs: served}
	opts.Logger = testLogger()
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(1))
	}
	if len(opts.Zones) == 0 {
		opts.Zones = []ZoneConfig{{Name: "example.com.", Masters: []string{"127.0.0.1:5300"}}}
	}
	d, err := NewDaemon(opts)
	if err != nil {
		t.Fatalf("NewDaemon failed: %v", err)
	}
	env.daemon = d
	t.Cleanup(func() {
		for _, z := range d.zones.sorted {
			if z.tcpConn != -1 {
				d.tcpRelease(z)
			}
		}
	})
	return env
}

func (e *testEnv) zone(t *testing.T, apex string) *Zone {
	t.Helper()
	z := e.daemon.zones.find(apex)
	if z == nil {
		t.Fatalf("zone %q not registered", apex)
	}
	return z
}

// buildResponse assembles a transfer reply whose answers are all copies of
// the same SOA record.
func buildResponse(t *testing.T, id uint16, apex string, soa *domain.SOA, answers int, truncated bool) []byte {
	t.Helper()
	buf := packet.NewBytePacketBuffer()
	header := packet.NewDnsHeader()
	header.ID = id
	header.Response = true
	header.TruncatedMessage = truncated
	header.Questions = 1
	header.Answers = uint16(answers)
	if err := header.Write(buf); err != nil {
		t.Fatalf("write header: %v", err)
	}
	q := packet.NewDnsQuestion(apex, packet.IXFR)
	if err := q.Write(buf); err != nil {
		t.Fatalf("write question: %v", err)
	}
	for i := 0; i < answers; i++ {
		writeTestSOARecord(t, buf, apex, soa)
	}
	return buf.Bytes()
}

func writeTestSOARecord(t *testing.T, buf *packet.BytePacketBuffer, owner string, soa *domain.SOA) {
	t.Helper()
	if err := buf.WriteName(owner); err != nil {
		t.Fatalf("write owner: %v", err)
	}
	buf.Writeu16(soa.Type)
	buf.Writeu16(soa.Class)
	buf.Writeu32(soa.TTL)
	rdlenPos := buf.Position()
	buf.Writeu16(0)
	if err := buf.WriteName(soa.PrimaryNS); err != nil {
		t.Fatalf("write primary: %v", err)
	}
	if err := buf.WriteName(soa.Mailbox); err != nil {
		t.Fatalf("write mailbox: %v", err)
	}
	for _, v := range []uint32{soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minimum} {
		buf.Writeu32(v)
	}
	if err := buf.Setu16(rdlenPos, uint16(buf.Position()-rdlenPos-2)); err != nil {
		t.Fatalf("patch rdlength: %v", err)
	}
}

// dispatchUntil drives the reactor until the condition holds or the
// deadline passes.
func dispatchUntil(t *testing.T, d *Daemon, deadline time.Duration, cond func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for !cond() {
		if time.Now().After(end) {
			t.Fatalf("condition not reached within %v", deadline)
		}
		d.gotTime = false
		if err := d.reactor.Dispatch(); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
}
