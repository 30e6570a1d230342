package xfr

import (
	"errors"
	"testing"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/dns/packet"
)

func testSOA(serial uint32) *domain.SOA {
	soa := domain.NewSOA(serial, 7200, 900, 604800, 300)
	soa.TTL = 3600
	soa.PrimaryNS = "ns1.example.com."
	soa.Mailbox = "hostmaster.example.com."
	return soa
}

// buildResponse assembles a transfer reply with the given number of SOA
// answer records, all carrying the same SOA. Real transfers interleave
// other record types; for the acceptance logic only the first answer and
// the counts matter.
func buildResponse(t *testing.T, id uint16, apex string, soa *domain.SOA, answers int, truncated bool, rcode uint8) []byte {
	t.Helper()
	buf := packet.NewBytePacketBuffer()
	header := packet.NewDnsHeader()
	header.ID = id
	header.Response = true
	header.TruncatedMessage = truncated
	header.ResCode = rcode
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
		if err := writeSOARecord(buf, apex, soa); err != nil {
			t.Fatalf("write soa: %v", err)
		}
	}
	return buf.Bytes()
}

func TestBuildQueryAXFR(t *testing.T) {
	data, err := BuildQuery(0x1234, "example.com.", packet.AXFR, nil)
	if err != nil {
		t.Fatalf("BuildQuery failed: %v", err)
	}
	buf := packet.NewBytePacketBuffer()
	buf.Load(data)
	header := packet.NewDnsHeader()
	if err := header.Read(buf); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.ID != 0x1234 || header.Questions != 1 || header.AuthoritativeEntries != 0 {
		t.Errorf("Unexpected header: %+v", header)
	}
	q := &packet.DnsQuestion{}
	if err := q.Read(buf); err != nil {
		t.Fatalf("read question: %v", err)
	}
	if q.Name != "example.com." || q.QType != packet.AXFR {
		t.Errorf("Unexpected question: %+v", q)
	}
}

func TestBuildQueryIXFRCarriesCurrentSOA(t *testing.T) {
	soa := testSOA(41)
	data, err := BuildQuery(7, "example.com.", packet.IXFR, soa)
	if err != nil {
		t.Fatalf("BuildQuery failed: %v", err)
	}
	buf := packet.NewBytePacketBuffer()
	buf.Load(data)
	header := packet.NewDnsHeader()
	if err := header.Read(buf); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.AuthoritativeEntries != 1 {
		t.Fatalf("Expected one authority record, got %d", header.AuthoritativeEntries)
	}
	q := &packet.DnsQuestion{}
	if err := q.Read(buf); err != nil {
		t.Fatalf("read question: %v", err)
	}
	if q.QType != packet.IXFR {
		t.Errorf("Unexpected qtype %d", q.QType)
	}
	// Authority record: owner, type, class, ttl, rdlength, then SOA rdata.
	name, err := buf.ReadName()
	if err != nil || name != "example.com." {
		t.Fatalf("Bad authority owner %q: %v", name, err)
	}
	rtype, _ := buf.Readu16()
	if rtype != uint16(packet.SOA) {
		t.Errorf("Expected SOA authority, got type %d", rtype)
	}
	buf.Readu16() // class
	buf.Readu32() // ttl
	rdlen, _ := buf.Readu16()
	if int(rdlen) != buf.Remaining() {
		t.Errorf("RDLENGTH %d does not cover the remaining %d bytes", rdlen, buf.Remaining())
	}
	buf.ReadName()
	buf.ReadName()
	serial, _ := buf.Readu32()
	if serial != 41 {
		t.Errorf("Expected serial 41 in authority soa, got %d", serial)
	}
}

func TestParseResponseRoundTrip(t *testing.T) {
	soa := testSOA(42)
	data := buildResponse(t, 99, "example.com.", soa, 2, false, 0)

	resp, err := ParseResponse(data, 99)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if resp.Serial != 42 || resp.AnswerCount != 2 || resp.Truncated {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.SOA.Refresh != 7200 || resp.SOA.Expire != 604800 {
		t.Errorf("SOA counters not decoded: %+v", resp.SOA)
	}
	if resp.SOA.PrimaryNS != "ns1.example.com." {
		t.Errorf("Primary ns not decoded: %q", resp.SOA.PrimaryNS)
	}
}

func TestParseResponseStrayID(t *testing.T) {
	data := buildResponse(t, 99, "example.com.", testSOA(42), 2, false, 0)
	if _, err := ParseResponse(data, 100); !errors.Is(err, ErrStray) {
		t.Errorf("Expected ErrStray, got %v", err)
	}
}

func TestParseResponseRcode(t *testing.T) {
	data := buildResponse(t, 99, "example.com.", testSOA(42), 2, false, 5)
	_, err := ParseResponse(data, 99)
	var rcode *RcodeError
	if !errors.As(err, &rcode) || rcode.Rcode != 5 {
		t.Errorf("Expected RcodeError 5, got %v", err)
	}
}

func TestParseResponseTruncated(t *testing.T) {
	data := buildResponse(t, 99, "example.com.", testSOA(42), 1, true, 0)
	resp, err := ParseResponse(data, 99)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if !resp.Truncated {
		t.Errorf("Expected truncated flag")
	}
}

func TestParseResponseMalformed(t *testing.T) {
	soa := testSOA(42)
	good := buildResponse(t, 99, "example.com.", soa, 2, false, 0)

	t.Run("short header", func(t *testing.T) {
		if _, err := ParseResponse(good[:8], 99); !errors.Is(err, ErrMalformed) {
			t.Errorf("Expected ErrMalformed, got %v", err)
		}
	})
	t.Run("no answers", func(t *testing.T) {
		data := buildResponse(t, 99, "example.com.", soa, 0, false, 0)
		if _, err := ParseResponse(data, 99); !errors.Is(err, ErrMalformed) {
			t.Errorf("Expected ErrMalformed, got %v", err)
		}
	})
	t.Run("truncated answer", func(t *testing.T) {
		// 12-byte header plus the question leaves only a fragment of the
		// first answer record.
		if _, err := ParseResponse(good[:40], 99); !errors.Is(err, ErrMalformed) {
			t.Errorf("Expected ErrMalformed, got %v", err)
		}
	})
	t.Run("first answer not soa", func(t *testing.T) {
		data := append([]byte(nil), good...)
		// Patch the type of the first answer record. The answer starts
		// right after the 12-byte header and the question.
		buf := packet.NewBytePacketBuffer()
		buf.Load(data)
		header := packet.NewDnsHeader()
		if err := header.Read(buf); err != nil {
			t.Fatal(err)
		}
		q := &packet.DnsQuestion{}
		if err := q.Read(buf); err != nil {
			t.Fatal(err)
		}
		if err := buf.SkipName(); err != nil {
			t.Fatal(err)
		}
		data[buf.Position()] = 0
		data[buf.Position()+1] = byte(packet.A)
		if _, err := ParseResponse(data, 99); !errors.Is(err, ErrMalformed) {
			t.Errorf("Expected ErrMalformed, got %v", err)
		}
	})
}

func FuzzParseResponse(f *testing.F) {
	soa := domain.NewSOA(42, 7200, 900, 604800, 300)
	soa.PrimaryNS = "ns1.example.com."
	soa.Mailbox = "hostmaster.example.com."
	seed, err := BuildQuery(1, "example.com.", packet.IXFR, soa)
	if err == nil {
		f.Add(seed)
	}
	f.Add([]byte{})
	f.Add([]byte{0, 1, 0x80, 0, 0, 0, 0, 1, 0, 0, 0, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic on arbitrary input; errors are fine.
		resp, err := ParseResponse(data, 1)
		if err == nil && resp == nil {
			t.Errorf("nil response without error")
		}
	})
}
