package inventory

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reSize = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*([A-Za-z]+)$`)

// CanonicalSize converts a size string like "1,5 GB" or "1000000 bytes" to
// megabytes using the given base (1000 or 1024; memory callers pass 1024).
// Unknown units are rejected.
func CanonicalSize(value string, base float64) (float64, bool) {
	match := reSize.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return 0, false
	}
	number, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(match[2]) {
	case "b", "bytes":
		return number / (base * base), true
	case "kb", "kib":
		return number / base, true
	case "mb", "mib":
		return number, true
	case "gb", "gib":
		return number * base, true
	case "tb", "tib":
		return number * base * base, true
	}
	return 0, false
}

// CanonicalMemory converts a memory size string to megabytes, always using
// base 1024.
func CanonicalMemory(value string) (float64, bool) {
	return CanonicalSize(value, 1024)
}

// NumericMac converts a colon-separated MAC address to its 48-bit value.
func NumericMac(mac string) (uint64, bool) {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return 0, false
	}
	var n uint64
	for _, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return 0, false
		}
		n = n<<8 | b
	}
	return n, true
}

// PrimaryMac picks the preferred primary MAC among candidates. NICs exposing
// consecutive addresses get the lower of the two adjacent values; otherwise
// the first valid candidate wins.
func PrimaryMac(macs []string) string {
	type numbered struct {
		mac string
		n   uint64
	}
	var valid []numbered
	for _, mac := range macs {
		if n, ok := NumericMac(mac); ok {
			valid = append(valid, numbered{mac, n})
		}
	}
	if len(valid) == 0 {
		return ""
	}

	ordered := make([]numbered, len(valid))
	copy(ordered, valid)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].n < ordered[b].n })
	for i := 0; i+1 < len(ordered); i++ {
		if ordered[i+1].n == ordered[i].n+1 {
			return ordered[i].mac
		}
	}
	return valid[0].mac
}
