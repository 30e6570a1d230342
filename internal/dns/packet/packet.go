package packet

type QueryType uint16

const (
	UNKNOWN QueryType = 0
	A       QueryType = 1
	NS      QueryType = 2
	CNAME   QueryType = 5
	SOA     QueryType = 6
	PTR     QueryType = 12
	MX      QueryType = 15
	TXT     QueryType = 16
	AAAA    QueryType = 28
	IXFR    QueryType = 251
	AXFR    QueryType = 252
	ANY     QueryType = 255
)

// ClassIN is the only class the transfer coordinator speaks.
const ClassIN uint16 = 1

// HeaderSize is the fixed DNS header length.
const HeaderSize = 12

type DnsHeader struct {
	ID                  uint16
	RecursionDesired    bool
	TruncatedMessage    bool
	AuthoritativeAnswer bool
	Opcode              uint8
	Response            bool
	ResCode             uint8 // RCODE
	CheckingDisabled    bool
	AuthedData          bool
	Z                   bool
	RecursionAvailable  bool

	Questions            uint16
	Answers              uint16
	AuthoritativeEntries uint16
	ResourceEntries      uint16
}

func NewDnsHeader() *DnsHeader {
	return &DnsHeader{}
}

func (h *DnsHeader) Read(buffer *BytePacketBuffer) error {
	var err error
	h.ID, err = buffer.Readu16()
	if err != nil {
		return err
	}

	flags, err := buffer.Readu16()
	if err != nil {
		return err
	}

	a := uint8(flags >> 8)
	b := uint8(flags & 0xFF)

	h.RecursionDesired = (a & (1 << 0)) > 0
	h.TruncatedMessage = (a & (1 << 1)) > 0
	h.AuthoritativeAnswer = (a & (1 << 2)) > 0
	h.Opcode = (a >> 3) & 0x0F
	h.Response = (a & (1 << 7)) > 0

	h.ResCode = b & 0x0F
	h.CheckingDisabled = (b & (1 << 4)) > 0
	h.AuthedData = (b & (1 << 5)) > 0
	h.Z = (b & (1 << 6)) > 0
	h.RecursionAvailable = (b & (1 << 7)) > 0

	h.Questions, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.Answers, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.AuthoritativeEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}
	h.ResourceEntries, err = buffer.Readu16()
	if err != nil {
		return err
	}

	return nil
}

func (h *DnsHeader) Write(buffer *BytePacketBuffer) error {
	if err := buffer.Writeu16(h.ID); err != nil {
		return err
	}

	var flags uint16 = 0
	if h.Response {
		flags |= (1 << 15)
	}
	flags |= (uint16(h.Opcode) << 11)
	if h.AuthoritativeAnswer {
		flags |= (1 << 10)
	}
	if h.TruncatedMessage {
		flags |= (1 << 9)
	}
	if h.RecursionDesired {
		flags |= (1 << 8)
	}
	if h.RecursionAvailable {
		flags |= (1 << 7)
	}
	if h.Z {
		flags |= (1 << 6)
	}
	if h.AuthedData {
		flags |= (1 << 5)
	}
	if h.CheckingDisabled {
		flags |= (1 << 4)
	}
	flags |= uint16(h.ResCode)

	if err := buffer.Writeu16(flags); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Questions); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.Answers); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.AuthoritativeEntries); err != nil {
		return err
	}
	if err := buffer.Writeu16(h.ResourceEntries); err != nil {
		return err
	}

	return nil
}

type DnsQuestion struct {
	Name  string
	QType QueryType
}

func NewDnsQuestion(name string, qtype QueryType) *DnsQuestion {
	return &DnsQuestion{
		Name:  name,
		QType: qtype,
	}
}

func (q *DnsQuestion) Read(buffer *BytePacketBuffer) error {
	var err error
	q.Name, err = buffer.ReadName()
	if err != nil {
		return err
	}

	qtype, err := buffer.Readu16()
	if err != nil {
		return err
	}
	q.QType = QueryType(qtype)

	_, err = buffer.Readu16() // QCLASS
	if err != nil {
		return err
	}

	return nil
}

func (q *DnsQuestion) Write(buffer *BytePacketBuffer) error {
	if err := buffer.WriteName(q.Name); err != nil {
		return err
	}
	if err := buffer.Writeu16(uint16(q.QType)); err != nil {
		return err
	}
	if err := buffer.Writeu16(ClassIN); err != nil {
		return err
	}
	return nil
}
