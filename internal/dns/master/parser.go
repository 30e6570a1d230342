// Package master extracts zone metadata from DNS master files (RFC 1035).
// The transfer coordinator does not serve from master files; it only needs
// the SOA to seed the serving view when a zone is imported by hand.
package master

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/poyrazK/xfrd/internal/core/domain"
)

// Parser reads master files line by line, folding parenthesized record
// continuations the way RFC 1035 allows.
type Parser struct {
	Origin     string
	DefaultTTL uint32
}

// NewParser creates and returns a new Parser instance.
func NewParser() *Parser {
	return &Parser{
		DefaultTTL: 3600,
	}
}

// ZoneInfo holds what the coordinator cares about in a master file: the
// apex, the SOA, and how many records the file carried.
type ZoneInfo struct {
	Apex        string
	SOA         *domain.SOA
	RecordCount int
}

// Parse reads a master zone file from the provided reader. The first SOA
// record wins; a file without any SOA is an error.
func (p *Parser) Parse(r io.Reader) (*ZoneInfo, error) {
	scanner := bufio.NewScanner(r)
	// Use 1MB buffer for long records like DNSKEY/RRSIG
	buf := make([]byte, 1024*1024)
	scanner.Buffer(buf, 1024*1024)
	info := &ZoneInfo{}

	var lastName string
	var inParen bool
	var parenLines []string
	var firstLineLeadingWS bool

	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.IndexByte(line, ';'); idx >= 0 {
			line = line[:idx]
		}

		if !inParen {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}

			firstLineLeadingWS = len(line) > 0 && (line[0] == ' ' || line[0] == '\t')

			if strings.Contains(line, "(") {
				inParen = true
				parenLines = append(parenLines, strings.Replace(line, "(", " ", 1))
				if !strings.Contains(line, ")") {
					continue
				}
			}
		} else {
			parenLines = append(parenLines, line)
			if !strings.Contains(line, ")") {
				continue
			}
			inParen = false
		}

		var fullLine string
		if len(parenLines) > 0 {
			fullLine = strings.Join(parenLines, " ")
			fullLine = strings.ReplaceAll(fullLine, ")", " ")
			parenLines = nil
		} else {
			fullLine = line
		}

		trimmedFull := strings.TrimSpace(fullLine)
		if trimmedFull == "" {
			continue
		}

		if strings.HasPrefix(trimmedFull, "$") {
			parts := strings.Fields(trimmedFull)
			if len(parts) < 2 {
				continue
			}
			switch strings.ToUpper(parts[0]) {
			case "$ORIGIN":
				p.Origin = parts[1]
				if !strings.HasSuffix(p.Origin, ".") {
					p.Origin += "."
				}
			case "$TTL":
				ttl, _ := strconv.ParseUint(parts[1], 10, 32)
				p.DefaultTTL = uint32(ttl)
			}
			continue
		}

		fields := strings.Fields(trimmedFull)
		if len(fields) == 0 {
			continue
		}

		var name string
		if firstLineLeadingWS {
			name = lastName
		} else {
			name = fields[0]
			fields = fields[1:]
			if name == "@" {
				name = p.Origin
			} else if !strings.HasSuffix(name, ".") && p.Origin != "" {
				name = name + "." + p.Origin
			}
			lastName = name
		}

		ttl := p.DefaultTTL
		var rtype string
		var rdata []string

		for i := 0; i < len(fields); i++ {
			f := fields[i]
			upper := strings.ToUpper(f)
			if val, err := strconv.ParseUint(f, 10, 32); err == nil {
				ttl = uint32(val)
				continue
			}
			if upper == "IN" || upper == "CS" || upper == "CH" || upper == "HS" {
				continue
			}
			rtype = upper
			rdata = fields[i+1:]
			break
		}

		if rtype == "" || name == "" {
			continue
		}
		info.RecordCount++

		if rtype == "SOA" && info.SOA == nil {
			soa, err := p.parseSOA(name, ttl, rdata)
			if err != nil {
				return nil, err
			}
			info.SOA = soa
			info.Apex, err = domain.NormalizeName(name)
			if err != nil {
				return nil, fmt.Errorf("soa owner %q: %w", name, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if info.SOA == nil {
		return nil, fmt.Errorf("no SOA record in master file")
	}
	return info, nil
}

func (p *Parser) parseSOA(owner string, ttl uint32, rdata []string) (*domain.SOA, error) {
	if len(rdata) < 7 {
		return nil, fmt.Errorf("soa for %s has %d of 7 fields", owner, len(rdata))
	}
	var counters [5]uint32
	for i := range counters {
		v, err := strconv.ParseUint(rdata[2+i], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("soa for %s: bad counter %q", owner, rdata[2+i])
		}
		counters[i] = uint32(v)
	}
	soa := domain.NewSOA(counters[0], counters[1], counters[2], counters[3], counters[4])
	soa.TTL = ttl
	var err error
	if soa.PrimaryNS, err = domain.NormalizeName(p.absolute(rdata[0])); err != nil {
		return nil, fmt.Errorf("soa for %s: bad primary ns %q", owner, rdata[0])
	}
	if soa.Mailbox, err = domain.NormalizeName(p.absolute(rdata[1])); err != nil {
		return nil, fmt.Errorf("soa for %s: bad mailbox %q", owner, rdata[1])
	}
	return soa, nil
}

func (p *Parser) absolute(name string) string {
	if name == "@" {
		return p.Origin
	}
	if strings.HasSuffix(name, ".") || p.Origin == "" {
		return name
	}
	return name + "." + p.Origin
}
