package xfrd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

// stateMagic opens and closes the state file. A file without both markers
// is treated as corrupt and ignored in full.
const stateMagic = "XFRDSTATE1"

// clockSkewGrace is how far into the future a stored timestamp may point
// before it is considered bogus.
const clockSkewGrace = 15 * time.Second

// WriteState dumps all zone state to the configured file, zones in
// canonical name order. The file is written aside and renamed so a crash
// mid-write never leaves a half-written file behind.
func (d *Daemon) WriteState() error {
	tmp := d.stateFile + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	w := bufio.NewWriter(f)
	now := d.time()

	fmt.Fprintf(w, "%s\n", stateMagic)
	fmt.Fprintf(w, "# transfer coordinator state, do not edit while running\n")
	fmt.Fprintf(w, "filetime: %d\t# %s\n", now.Unix(), now.Format(time.UnixDate))
	fmt.Fprintf(w, "numzones: %d\n\n", d.zones.count())

	for _, z := range d.zones.sorted {
		fmt.Fprintf(w, "zone: \tname: %s\n", z.apex)
		fmt.Fprintf(w, "\tstate: %d\t# %s\n", int(z.state), z.state)
		fmt.Fprintf(w, "\tmaster: %d\n", z.masterNum)
		if z.handler.Timeout != nil && z.timeout.After(now) {
			fmt.Fprintf(w, "\tnext_timeout: %d\t# in %s\n",
				z.timeout.Unix(), neatDuration(z.timeout.Sub(now)))
		} else {
			fmt.Fprintf(w, "\tnext_timeout: 0\n")
		}
		writeStateSOA(w, "soa_nsd", &z.soaNSD, z.soaNSDAcquired, z.apex, now)
		writeStateSOA(w, "soa_disk", &z.soaDisk, z.soaDiskAcquired, z.apex, now)
		writeStateSOA(w, "soa_notify", &z.soaNotified, z.soaNotifiedAcquired, z.apex, now)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%s\n", stateMagic)

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, d.stateFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	d.logger.Info("state written", "file", d.stateFile, "zones", d.zones.count())
	return nil
}

func writeStateSOA(w io.Writer, id string, soa *domain.SOA, acquired time.Time, apex string, now time.Time) {
	if acquired.IsZero() {
		fmt.Fprintf(w, "\t%s_acquired: 0\n", id)
		return
	}
	fmt.Fprintf(w, "\t%s_acquired: %d\t# was %s ago\n",
		id, acquired.Unix(), neatDuration(now.Sub(acquired)))
	fmt.Fprintf(w, "\t%s: %d %d %d %d %s %s %d %d %d %d %d\n",
		id, soa.Type, soa.Class, soa.TTL, soa.RdataCount,
		domain.RelativeName(soa.PrimaryNS, apex),
		domain.RelativeName(soa.Mailbox, apex),
		soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minimum)
	fmt.Fprintf(w, "\t#\trefresh %s retry %s expire %s\n",
		neatDuration(time.Duration(soa.Refresh)*time.Second),
		neatDuration(time.Duration(soa.Retry)*time.Second),
		neatDuration(time.Duration(soa.Expire)*time.Second))
}

// neatDuration renders a duration in whole days/hours/minutes/seconds.
func neatDuration(dur time.Duration) string {
	secs := int64(dur / time.Second)
	if secs <= 0 {
		return "0s"
	}
	var b strings.Builder
	if dd := secs / 86400; dd > 0 {
		fmt.Fprintf(&b, "%dd ", dd)
		secs %= 86400
	}
	if hh := secs / 3600; hh > 0 {
		fmt.Fprintf(&b, "%dh ", hh)
		secs %= 3600
	}
	if mm := secs / 60; mm > 0 {
		fmt.Fprintf(&b, "%dm ", mm)
		secs %= 60
	}
	if secs > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", secs)
	}
	return strings.TrimSpace(b.String())
}

// soaRecord is one parsed SOA group from the state file.
type soaRecord struct {
	acquired int64
	soa      domain.SOA
}

// zoneRecord is one fully parsed zone block, held in memory until the
// whole file is known to be valid.
type zoneRecord struct {
	name        string
	state       int
	masterNum   int
	nextTimeout int64
	nsd         soaRecord
	disk        soaRecord
	notified    soaRecord
}

// ReadState loads the state file, if any. The file is parsed completely
// before any zone is touched; a file that fails validation anywhere is
// logged and ignored, leaving every zone with its fresh-start defaults.
// I/O errors other than absence are returned.
func (d *Daemon) ReadState() error {
	f, err := os.Open(d.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Info("no state file, starting fresh", "file", d.stateFile)
			return nil
		}
		return fmt.Errorf("read state: %w", err)
	}
	defer f.Close()

	records, err := parseStateFile(f, d.time())
	if err != nil {
		d.logger.Error("state file corrupt, ignoring it",
			"file", d.stateFile, "error", err)
		return nil
	}

	loaded := 0
	for i := range records {
		if d.applyZoneRecord(&records[i]) {
			loaded++
		}
	}
	d.logger.Info("state loaded", "file", d.stateFile,
		"zones", loaded, "records", len(records))
	return nil
}

// tokenReader walks the whitespace-separated tokens of the state file.
// Everything from '#' to end of line is comment.
type tokenReader struct {
	toks []string
	pos  int
}

func newTokenReader(r io.Reader) (*tokenReader, error) {
	var toks []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		toks = append(toks, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &tokenReader{toks: toks}, nil
}

func (t *tokenReader) next() (string, error) {
	if t.pos >= len(t.toks) {
		return "", io.ErrUnexpectedEOF
	}
	tok := t.toks[t.pos]
	t.pos++
	return tok, nil
}

func (t *tokenReader) expect(want string) error {
	tok, err := t.next()
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf("expected %q, got %q", want, tok)
	}
	return nil
}

func (t *tokenReader) nextInt() (int64, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", tok)
	}
	return v, nil
}

func (t *tokenReader) nextUint32() (uint32, error) {
	tok, err := t.next()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("expected number, got %q", tok)
	}
	return uint32(v), nil
}

func parseStateFile(r io.Reader, now time.Time) ([]zoneRecord, error) {
	tk, err := newTokenReader(r)
	if err != nil {
		return nil, err
	}
	if err := tk.expect(stateMagic); err != nil {
		return nil, fmt.Errorf("missing magic header: %w", err)
	}
	if err := tk.expect("filetime:"); err != nil {
		return nil, err
	}
	filetime, err := tk.nextInt()
	if err != nil {
		return nil, err
	}
	if time.Unix(filetime, 0).After(now.Add(clockSkewGrace)) {
		return nil, fmt.Errorf("filetime %d is in the future", filetime)
	}
	if err := tk.expect("numzones:"); err != nil {
		return nil, err
	}
	numZones, err := tk.nextInt()
	if err != nil {
		return nil, err
	}
	if numZones < 0 {
		return nil, fmt.Errorf("bad zone count %d", numZones)
	}

	records := make([]zoneRecord, 0, numZones)
	for i := int64(0); i < numZones; i++ {
		rec, err := parseZoneRecord(tk, now)
		if err != nil {
			return nil, fmt.Errorf("zone block %d: %w", i, err)
		}
		records = append(records, *rec)
	}
	if err := tk.expect(stateMagic); err != nil {
		return nil, fmt.Errorf("missing magic footer: %w", err)
	}
	return records, nil
}

func parseZoneRecord(tk *tokenReader, now time.Time) (*zoneRecord, error) {
	rec := &zoneRecord{}
	if err := tk.expect("zone:"); err != nil {
		return nil, err
	}
	if err := tk.expect("name:"); err != nil {
		return nil, err
	}
	name, err := tk.next()
	if err != nil {
		return nil, err
	}
	rec.name, err = domain.NormalizeName(name)
	if err != nil {
		return nil, fmt.Errorf("zone name %q: %w", name, err)
	}
	if err := tk.expect("state:"); err != nil {
		return nil, err
	}
	state, err := tk.nextInt()
	if err != nil {
		return nil, err
	}
	if !domain.ValidZoneState(int(state)) {
		return nil, fmt.Errorf("bad state %d", state)
	}
	rec.state = int(state)
	if err := tk.expect("master:"); err != nil {
		return nil, err
	}
	master, err := tk.nextInt()
	if err != nil {
		return nil, err
	}
	rec.masterNum = int(master)
	if err := tk.expect("next_timeout:"); err != nil {
		return nil, err
	}
	rec.nextTimeout, err = tk.nextInt()
	if err != nil {
		return nil, err
	}
	if err := parseStateSOA(tk, "soa_nsd", rec.name, &rec.nsd); err != nil {
		return nil, err
	}
	if err := parseStateSOA(tk, "soa_disk", rec.name, &rec.disk); err != nil {
		return nil, err
	}
	if err := parseStateSOA(tk, "soa_notify", rec.name, &rec.notified); err != nil {
		return nil, err
	}
	return rec, nil
}

func parseStateSOA(tk *tokenReader, id, apex string, out *soaRecord) error {
	if err := tk.expect(id + "_acquired:"); err != nil {
		return err
	}
	acquired, err := tk.nextInt()
	if err != nil {
		return err
	}
	out.acquired = acquired
	if acquired == 0 {
		return nil
	}
	if err := tk.expect(id + ":"); err != nil {
		return err
	}
	u16 := func() (uint16, error) {
		v, err := tk.nextUint32()
		if err != nil {
			return 0, err
		}
		if v > 0xffff {
			return 0, fmt.Errorf("%s: field out of range", id)
		}
		return uint16(v), nil
	}
	if out.soa.Type, err = u16(); err != nil {
		return err
	}
	if out.soa.Class, err = u16(); err != nil {
		return err
	}
	if out.soa.TTL, err = tk.nextUint32(); err != nil {
		return err
	}
	if out.soa.RdataCount, err = u16(); err != nil {
		return err
	}
	prim, err := tk.next()
	if err != nil {
		return err
	}
	out.soa.PrimaryNS = domain.AbsoluteName(prim, apex)
	mail, err := tk.next()
	if err != nil {
		return err
	}
	out.soa.Mailbox = domain.AbsoluteName(mail, apex)
	if out.soa.Serial, err = tk.nextUint32(); err != nil {
		return err
	}
	if out.soa.Refresh, err = tk.nextUint32(); err != nil {
		return err
	}
	if out.soa.Retry, err = tk.nextUint32(); err != nil {
		return err
	}
	if out.soa.Expire, err = tk.nextUint32(); err != nil {
		return err
	}
	if out.soa.Minimum, err = tk.nextUint32(); err != nil {
		return err
	}
	return nil
}

// applyZoneRecord installs one validated record onto the matching
// configured zone. Records for unknown zones and records with timestamps
// from the future are skipped; the zone keeps its fresh-start defaults.
func (d *Daemon) applyZoneRecord(rec *zoneRecord) bool {
	z := d.zones.find(rec.name)
	if z == nil {
		d.logger.Warn("state file names an unconfigured zone, skipping",
			"zone", rec.name)
		return false
	}
	now := d.time()
	horizon := now.Add(clockSkewGrace).Unix()
	for _, t := range []int64{rec.nsd.acquired, rec.disk.acquired, rec.notified.acquired} {
		if t > horizon {
			d.logger.Warn("state record has a future timestamp, skipping",
				"zone", rec.name)
			return false
		}
	}

	// The zone was seeded from the serving engine before the state file
	// was read; that view becomes the "incoming" observation re-applied
	// after the stored snapshots are installed.
	incomingSOA := z.soaNSD
	incomingAcquired := z.soaNSDAcquired

	z.state = domain.ZoneState(rec.state)
	z.masterNum = rec.masterNum
	if z.masterNum < 0 || z.masterNum >= len(z.masters) {
		d.logger.Warn("stored master index out of range, using first master",
			"zone", z.apex, "index", rec.masterNum)
		z.masterNum = 0
	}

	installStateSOA(&rec.nsd, &z.soaNSD, &z.soaNSDAcquired)
	installStateSOA(&rec.disk, &z.soaDisk, &z.soaDiskAcquired)
	installStateSOA(&rec.notified, &z.soaNotified, &z.soaNotifiedAcquired)

	if rec.nextTimeout != 0 {
		z.setTimer(time.Unix(rec.nextTimeout, 0))
	}
	refresh := int64(z.soaDisk.Refresh)
	if rec.nextTimeout == 0 ||
		rec.nextTimeout-rec.disk.acquired > refresh ||
		!z.soaNotifiedAcquired.IsZero() {
		// Stale or pending work; do not wait the stored interval out.
		z.setRefreshNow(domain.StateRefreshing, now)
	}
	if !z.soaDiskAcquired.IsZero() &&
		!now.Before(z.soaDiskAcquired.Add(z.soaDisk.ExpireInterval())) {
		z.setRefreshNow(domain.StateExpired, now)
	}

	if !incomingAcquired.IsZero() {
		d.handleIncomingSOA(z, &incomingSOA, incomingAcquired)
	}
	d.sendExpiryNotification(z)
	return true
}

func installStateSOA(rec *soaRecord, soa *domain.SOA, acquired *time.Time) {
	if rec.acquired == 0 {
		*soa = domain.SOA{}
		*acquired = time.Time{}
		return
	}
	*soa = rec.soa
	*acquired = time.Unix(rec.acquired, 0)
}
