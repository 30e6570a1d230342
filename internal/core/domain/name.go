package domain

import (
	"errors"
	"strings"
)

var errBadName = errors.New("invalid domain name")

// NormalizeName lowercases a domain name and makes it absolute (trailing
// dot). RFC 1034: domain name comparisons are case-insensitive.
func NormalizeName(name string) (string, error) {
	if name == "" {
		return "", errBadName
	}
	name = strings.ToLower(name)
	if name == "." {
		return name, nil
	}
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if label == "" || len(label) > 63 {
			return "", errBadName
		}
	}
	return name, nil
}

// labels splits an absolute name into its labels, most significant first
// ("www.example.com." -> ["com", "example", "www"]).
func labels(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}
	parts := strings.Split(name, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

// CompareNames orders two absolute domain names canonically: label by label
// starting at the root, case-insensitively. This is the registry ordering,
// not plain string ordering.
func CompareNames(a, b string) int {
	la, lb := labels(strings.ToLower(a)), labels(strings.ToLower(b))
	n := len(la)
	if len(lb) < n {
		n = len(lb)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(la[i], lb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(la) < len(lb):
		return -1
	case len(la) > len(lb):
		return 1
	}
	return 0
}

// RelativeName renders name relative to the zone apex for the state file:
// "@" for the apex itself, the bare prefix for names under the apex, "." for
// an empty name, and the absolute form otherwise.
func RelativeName(name, apex string) string {
	if name == "" {
		return "."
	}
	if name == apex {
		return "@"
	}
	if apex != "." && strings.HasSuffix(name, "."+apex) {
		return strings.TrimSuffix(name, "."+apex)
	}
	return name
}

// AbsoluteName resolves a state-file name token back to an absolute name.
// It is the inverse of RelativeName.
func AbsoluteName(token, apex string) string {
	switch token {
	case ".":
		return ""
	case "@":
		return apex
	}
	if strings.HasSuffix(token, ".") {
		return token
	}
	if apex == "." {
		return token + "."
	}
	return token + "." + apex
}
