package inventory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Normalize builds the JSON-ready content map: lowercase section and field
// names, required fields enforced, typed coercions applied, legacy fields
// renamed, server-rejected fields stripped, and server-version adjustments
// applied. The receiver is not mutated except for the ACCOUNTINFO tag hoist.
func (i *Inventory) Normalize(serverVersion string) map[string]any {
	out := make(map[string]any)

	for section, records := range i.content {
		spec := sections[section]
		if spec == nil || spec.omit {
			continue
		}

		outName := section
		if spec.rename != "" {
			outName = spec.rename
		}
		outName = strings.ToLower(outName)

		if section == "ACCOUNTINFO" {
			var kept []map[string]any
			for _, record := range records {
				if hoistTag(i, record) {
					continue
				}
				if normalized, ok := i.normalizeRecord(section, spec, record, serverVersion); ok {
					kept = append(kept, normalized)
				}
			}
			if len(kept) > 0 {
				out[outName] = kept
			}
			continue
		}

		if spec.singleton {
			if len(records) == 0 {
				continue
			}
			if normalized, ok := i.normalizeRecord(section, spec, records[0], serverVersion); ok {
				out[outName] = normalized
			}
			continue
		}

		var kept []map[string]any
		for _, record := range records {
			if normalized, ok := i.normalizeRecord(section, spec, record, serverVersion); ok {
				kept = append(kept, normalized)
			}
		}
		if len(kept) > 0 {
			out[outName] = kept
		}
	}

	return out
}

// normalizeRecord validates and coerces one record. It returns false when a
// required field is missing, in which case the entry is dropped.
func (i *Inventory) normalizeRecord(section string, spec *sectionSpec, record Record, serverVersion string) (map[string]any, bool) {
	for _, required := range spec.required {
		if _, ok := record[required]; !ok {
			i.logger.Debug().Str("section", section).Str("field", required).
				Msg("dropping entry missing required field")
			return nil, false
		}
	}

	out := make(map[string]any, len(record))
	for field, value := range record {
		// Nested child list: normalize with the child section's spec.
		if spec.child != "" && field == spec.child {
			childSpec := sections[spec.child]
			children, err := asRecords(value)
			if err != nil || childSpec == nil {
				continue
			}
			var kept []map[string]any
			for _, child := range children {
				if normalized, ok := i.normalizeRecord(spec.child, childSpec, child, serverVersion); ok {
					kept = append(kept, normalized)
				}
			}
			if len(kept) > 0 {
				out[strings.ToLower(spec.child)] = kept
			}
			continue
		}

		fs, known := spec.fields[field]
		if !known || fs.omit {
			continue
		}
		if dropForVersion(serverVersion, section, field) {
			continue
		}

		normalized, ok := i.normalizeValue(section, field, fs, value)
		if !ok {
			continue
		}

		name := field
		if fs.rename != "" {
			if _, conflict := record[fs.rename]; conflict {
				i.logger.Debug().Str("section", section).Str("field", field).
					Str("into", fs.rename).Msg("legacy field conflicts with its replacement")
				continue
			}
			name = fs.rename
		}
		out[strings.ToLower(name)] = normalized
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func (i *Inventory) normalizeValue(section, field string, fs fieldSpec, value any) (any, bool) {
	switch fs.kind {
	case kindInteger:
		n, ok := toInteger(value)
		if !ok {
			i.logger.Debug().Str("section", section).Str("field", field).
				Msg("dropping malformed integer value")
			return nil, false
		}
		return n, true
	case kindBoolean:
		b, ok := toBoolean(value)
		if !ok {
			i.logger.Debug().Str("section", section).Str("field", field).
				Msg("dropping malformed boolean value")
			return nil, false
		}
		return b, true
	case kindDate:
		// BIOS.BDATE tolerates month/day inversion from vendor firmware.
		s, ok := toDate(toString(value), section == "BIOS" && field == "BDATE")
		if !ok {
			return nil, false
		}
		return s, true
	case kindDatetime:
		s, ok := toDatetime(toString(value))
		if !ok {
			return nil, false
		}
		return s, true
	case kindDateOrDatetime:
		if s, ok := toDatetime(toString(value)); ok {
			return s, true
		}
		s, ok := toDate(toString(value), false)
		if !ok {
			return nil, false
		}
		return s, true
	}

	s := toString(value)
	if s == "" {
		return nil, false
	}
	if fs.pattern != nil && !fs.pattern.MatchString(s) {
		i.logger.Debug().Str("section", section).Str("field", field).
			Msg("dropping value not matching field pattern")
		return nil, false
	}
	if fs.lowercase {
		s = strings.ToLower(s)
	}
	if fs.uppercase {
		s = strings.ToUpper(s)
	}
	return s, true
}

// dropForVersion strips fields the targeted server release cannot accept.
// Pre-10 servers lack some boolean columns.
func dropForVersion(serverVersion, section, field string) bool {
	if serverVersion == "" || !versionBefore(serverVersion, 10) {
		return false
	}
	switch section + "." + field {
	case "NETWORKS.MANAGEMENT", "DRIVES.SYSTEMDRIVE":
		return true
	}
	return false
}

// versionBefore reports whether a dotted version string is below a major.
func versionBefore(version string, major int) bool {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return false
	}
	return n < major
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func toInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toBoolean(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true, true
		case "0", "false", "no", "":
			return false, true
		}
	}
	return false, false
}

// toDate coerces tolerated input formats to YYYY-MM-DD. With inversion, a
// date that only parses as MM/DD/YYYY is accepted too.
func toDate(s string, inversion bool) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	if inversion {
		if t, err := time.Parse("01/02/2006", s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

var reDatetimeSuffix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}([+-]\d{2}:\d{2}(:\d{2})?|Z)$`)

// toDatetime coerces tolerated input formats to YYYY-MM-DD HH:MM:SS, padding
// missing seconds and keeping an explicit timezone suffix untouched.
func toDatetime(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if reDatetimeSuffix.MatchString(s) {
		return s, true
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "02/01/2006 15:04:05", "02/01/2006 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04:05"), true
		}
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02 15:04:05"), true
	}
	return "", false
}
