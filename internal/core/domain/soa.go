// Package domain contains the core entities of the zone-transfer coordinator.
package domain

import (
	"fmt"
	"time"
)

// DNS wire constants used across the codec and the coordinator.
const (
	ClassIN = 1

	TypeSOA  = 6
	TypeIXFR = 251
	TypeAXFR = 252
)

// SOA is a start-of-authority record. All numeric fields are kept in host
// order; conversion to network order happens only at the wire codec and the
// state-file boundary.
type SOA struct {
	Type       uint16
	Class      uint16
	TTL        uint32
	RdataCount uint16

	// PrimaryNS and Mailbox are absolute lowercase domain names with a
	// trailing dot. Empty means "not present" (written as "." on disk).
	PrimaryNS string
	Mailbox   string

	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// NewSOA returns a SOA with the fixed type/class/rdata-count fields filled in.
func NewSOA(serial, refresh, retry, expire, minimum uint32) *SOA {
	return &SOA{
		Type:       TypeSOA,
		Class:      ClassIN,
		RdataCount: 7,
		Serial:     serial,
		Refresh:    refresh,
		Retry:      retry,
		Expire:     expire,
		Minimum:    minimum,
	}
}

// RefreshInterval returns the refresh field as a duration.
func (s *SOA) RefreshInterval() time.Duration { return time.Duration(s.Refresh) * time.Second }

// RetryInterval returns the retry field as a duration.
func (s *SOA) RetryInterval() time.Duration { return time.Duration(s.Retry) * time.Second }

// ExpireInterval returns the expire field as a duration.
func (s *SOA) ExpireInterval() time.Duration { return time.Duration(s.Expire) * time.Second }

func (s *SOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		s.PrimaryNS, s.Mailbox, s.Serial, s.Refresh, s.Retry, s.Expire, s.Minimum)
}

// ZoneState tracks how much a secondary zone's data can be trusted.
type ZoneState int

const (
	// StateOK means the zone data is fresh; wait out the refresh interval.
	StateOK ZoneState = iota
	// StateRefreshing means no trusted data yet, or data that needs
	// re-checking now; the coordinator probes aggressively.
	StateRefreshing
	// StateExpired means the data aged past the expire interval; transfers
	// continue but the served data is flagged stale.
	StateExpired
)

func (z ZoneState) String() string {
	switch z {
	case StateOK:
		return "OK"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// ValidZoneState reports whether a numeric state read from disk is in range.
func ValidZoneState(v int) bool { return v >= int(StateOK) && v <= int(StateExpired) }
