// Package xfr builds AXFR/IXFR query packets and validates transfer
// responses. Responses come from configured masters but are still treated
// as hostile input: every read is bounds-checked and a malformed packet is
// rejected without touching zone state.
package xfr

import (
	"errors"
	"fmt"

	"github.com/poyrazK/xfrd/internal/core/domain"
	"github.com/poyrazK/xfrd/internal/dns/packet"
)

var (
	// ErrStray marks a response whose transaction id does not match the
	// pending query. Strays are dropped without surfacing an error to the
	// retry logic.
	ErrStray = errors.New("transaction id mismatch")
	// ErrMalformed marks a response that failed structural validation.
	ErrMalformed = errors.New("malformed xfr response")
)

// RcodeError is a well-formed response carrying a non-success RCODE.
type RcodeError struct {
	Rcode uint8
}

func (e *RcodeError) Error() string {
	return fmt.Sprintf("response code %d", e.Rcode)
}

// Response is the validated view of a transfer reply: enough to drive the
// acceptance logic without parsing every record.
type Response struct {
	// Serial from the first answer SOA.
	Serial uint32
	// SOA is the fully decoded first answer record, in host order.
	SOA domain.SOA
	// AnswerCount is the raw ANCOUNT. 1 means a notify-style bare SOA
	// reply; fewer than 2 answers is never a real transfer.
	AnswerCount int
	// Truncated is the TC header flag; the exchange must be redone over
	// TCP with no data applied.
	Truncated bool
}

// BuildQuery assembles an AXFR or IXFR query for the zone apex. For IXFR
// the caller passes its current on-disk SOA, which is appended as an
// uncompressed authority record per RFC 1995; disk is ignored for AXFR.
func BuildQuery(id uint16, apex string, qtype packet.QueryType, disk *domain.SOA) ([]byte, error) {
	buf := packet.NewBytePacketBuffer()

	header := packet.NewDnsHeader()
	header.ID = id
	header.Questions = 1
	ixfr := qtype == packet.IXFR && disk != nil
	if ixfr {
		header.AuthoritativeEntries = 1
	}
	if err := header.Write(buf); err != nil {
		return nil, err
	}

	q := packet.NewDnsQuestion(apex, qtype)
	if err := q.Write(buf); err != nil {
		return nil, err
	}

	if ixfr {
		if err := writeSOARecord(buf, apex, disk); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// writeSOARecord writes one uncompressed SOA resource record with a
// back-patched RDLENGTH.
func writeSOARecord(buf *packet.BytePacketBuffer, name string, soa *domain.SOA) error {
	if err := buf.WriteName(name); err != nil {
		return err
	}
	if err := buf.Writeu16(soa.Type); err != nil {
		return err
	}
	if err := buf.Writeu16(soa.Class); err != nil {
		return err
	}
	if err := buf.Writeu32(soa.TTL); err != nil {
		return err
	}
	rdlenPos := buf.Position()
	if err := buf.Writeu16(0); err != nil {
		return err
	}
	if err := writeNameOrRoot(buf, soa.PrimaryNS); err != nil {
		return err
	}
	if err := writeNameOrRoot(buf, soa.Mailbox); err != nil {
		return err
	}
	for _, v := range []uint32{soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minimum} {
		if err := buf.Writeu32(v); err != nil {
			return err
		}
	}
	return buf.Setu16(rdlenPos, uint16(buf.Position()-rdlenPos-2))
}

func writeNameOrRoot(buf *packet.BytePacketBuffer, name string) error {
	if name == "" {
		return buf.Write(0)
	}
	return buf.WriteName(name)
}

// ParseResponse validates a transfer reply against the pending query id and
// decodes the first answer's SOA. The question section is skipped
// generically; the first answer must be a SOA of class IN and its RDLENGTH
// must fit the remaining message. Any violation rejects the whole packet.
func ParseResponse(data []byte, wantID uint16) (*Response, error) {
	buf := packet.NewBytePacketBuffer()
	buf.Load(data)

	header := packet.NewDnsHeader()
	if err := header.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrMalformed)
	}
	if header.ID != wantID {
		return nil, ErrStray
	}
	if header.ResCode != 0 {
		return nil, &RcodeError{Rcode: header.ResCode}
	}

	for i := 0; i < int(header.Questions); i++ {
		if err := buf.SkipRR(false); err != nil {
			return nil, fmt.Errorf("%w: bad question section", ErrMalformed)
		}
	}

	if header.Answers == 0 {
		return nil, fmt.Errorf("%w: no answer", ErrMalformed)
	}

	if err := buf.SkipName(); err != nil {
		return nil, fmt.Errorf("%w: bad answer owner", ErrMalformed)
	}
	rtype, err := buf.Readu16()
	if err != nil {
		return nil, fmt.Errorf("%w: short answer", ErrMalformed)
	}
	rclass, err := buf.Readu16()
	if err != nil {
		return nil, fmt.Errorf("%w: short answer", ErrMalformed)
	}
	if rtype != uint16(packet.SOA) || rclass != packet.ClassIN {
		return nil, fmt.Errorf("%w: answer does not begin with a SOA record", ErrMalformed)
	}
	ttl, err := buf.Readu32()
	if err != nil {
		return nil, fmt.Errorf("%w: short answer", ErrMalformed)
	}
	rdlen, err := buf.Readu16()
	if err != nil {
		return nil, fmt.Errorf("%w: short answer", ErrMalformed)
	}
	if int(rdlen) > buf.Remaining() {
		return nil, fmt.Errorf("%w: rdlength exceeds message", ErrMalformed)
	}
	rdataEnd := buf.Position() + int(rdlen)
	primary, err := buf.ReadName()
	if err != nil {
		return nil, fmt.Errorf("%w: bad soa rdata", ErrMalformed)
	}
	mailbox, err := buf.ReadName()
	if err != nil {
		return nil, fmt.Errorf("%w: bad soa rdata", ErrMalformed)
	}
	if buf.Position()+20 > rdataEnd {
		return nil, fmt.Errorf("%w: soa rdata too short", ErrMalformed)
	}
	var counters [5]uint32
	for i := range counters {
		counters[i], err = buf.Readu32()
		if err != nil {
			return nil, fmt.Errorf("%w: bad soa rdata", ErrMalformed)
		}
	}

	soa := domain.NewSOA(counters[0], counters[1], counters[2], counters[3], counters[4])
	soa.TTL = ttl
	soa.PrimaryNS = primary
	soa.Mailbox = mailbox
	return &Response{
		Serial:      soa.Serial,
		SOA:         *soa,
		AnswerCount: int(header.Answers),
		Truncated:   header.TruncatedMessage,
	}, nil
}
