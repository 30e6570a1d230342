package domain

// CompareSerial compares two zone serials using RFC 1982 serial-number
// arithmetic, so wraparound serials are ordered correctly (4294967295
// precedes 1). It returns a negative value when a is older than b, zero when
// equal, and a positive value when a is newer than b.
//
// The RFC leaves the comparison of two serials exactly 2^31 apart undefined;
// this implementation treats a as older in that case, which is the safe
// choice for a secondary (it will accept the transfer).
func CompareSerial(a, b uint32) int {
	if a == b {
		return 0
	}
	if (a < b && b-a < 0x80000000) || (a > b && a-b > 0x80000000) {
		return -1
	}
	return 1
}

// SerialNewer reports whether candidate is strictly newer than current.
func SerialNewer(current, candidate uint32) bool {
	return CompareSerial(candidate, current) > 0
}
