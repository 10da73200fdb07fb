package inventory

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// Record is one entry of a section, field name → value. Values are kept as
// collected; typed coercion happens during normalization.
type Record map[string]any

// Format selects the serialization used by Save.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatHTML Format = "html"
)

// Inventory is the in-memory inventory document: a mapping from section
// name to records. Singleton sections (BIOS, HARDWARE, OPERATINGSYSTEM,
// ACCESSLOG) hold exactly one record; list sections hold a sequence.
//
// The document is owned by the task that produced it and handed by value to
// the submission client, so it carries no locking.
type Inventory struct {
	logger zerolog.Logger

	deviceID    string
	itemType    string
	tag         string
	glpiVersion string
	required    map[string]bool

	content map[string][]Record
	partial bool
}

// Params configures a new document.
type Params struct {
	DeviceID           string
	ItemType           string
	Tag                string
	GlpiVersion        string
	RequiredCategories []string
	Logger             zerolog.Logger
}

// New creates an empty inventory document.
func New(params Params) *Inventory {
	itemType := params.ItemType
	if itemType == "" {
		itemType = "Computer"
	}
	required := make(map[string]bool)
	for _, category := range params.RequiredCategories {
		for _, section := range categories[category] {
			required[section] = true
		}
	}
	return &Inventory{
		logger:   params.Logger.With().Str("component", "inventory").Logger(),
		deviceID: params.DeviceID,
		itemType: itemType,
		tag:      params.Tag,
		glpiVersion: params.GlpiVersion,
		required: required,
		content:  make(map[string][]Record),
	}
}

// DeviceID returns the document's device id.
func (i *Inventory) DeviceID() string { return i.deviceID }

// ItemType returns the asset item type (default Computer).
func (i *Inventory) ItemType() string { return i.itemType }

// Tag returns the configured tag, possibly hoisted from ACCOUNTINFO.
func (i *Inventory) Tag() string { return i.tag }

// SetTag overrides the document tag.
func (i *Inventory) SetTag(tag string) { i.tag = tag }

// IsPartial reports whether sections were stripped from this document.
func (i *Inventory) IsPartial() bool { return i.partial }

// SetPartial marks the document as a partial submission.
func (i *Inventory) SetPartial(v bool) { i.partial = v }

// SetHardware upserts fields into the HARDWARE singleton.
func (i *Inventory) SetHardware(kv Record) { i.setSingleton("HARDWARE", kv) }

// SetBios upserts fields into the BIOS singleton.
func (i *Inventory) SetBios(kv Record) { i.setSingleton("BIOS", kv) }

// SetOperatingSystem upserts fields into the OPERATINGSYSTEM singleton.
func (i *Inventory) SetOperatingSystem(kv Record) { i.setSingleton("OPERATINGSYSTEM", kv) }

// SetAccessLog upserts fields into the ACCESSLOG singleton.
func (i *Inventory) SetAccessLog(kv Record) { i.setSingleton("ACCESSLOG", kv) }

func (i *Inventory) setSingleton(section string, kv Record) {
	spec := sections[section]
	current := i.getSingleton(section)
	for field, value := range kv {
		field = strings.ToUpper(field)
		if _, known := spec.fields[field]; !known {
			i.logger.Debug().Str("section", section).Str("field", field).
				Msg("rejecting unknown field")
			continue
		}
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			s = sanitizeString(s)
			if s == "" {
				continue
			}
			value = s
		}
		current[field] = value
	}
	i.content[section] = []Record{current}
}

func (i *Inventory) getSingleton(section string) Record {
	if records := i.content[section]; len(records) > 0 {
		return records[0]
	}
	return make(Record)
}

// AddEntry appends a record to a list section. Unknown fields are dropped,
// string values sanitized, and the STORAGES serial fallback applied.
func (i *Inventory) AddEntry(section string, record Record) error {
	section = strings.ToUpper(section)
	spec, ok := sections[section]
	if !ok {
		return fmt.Errorf("unknown inventory section %q", section)
	}
	if spec.singleton {
		i.setSingleton(section, record)
		return nil
	}

	clean := make(Record, len(record))
	for field, value := range record {
		field = strings.ToUpper(field)
		if _, known := spec.fields[field]; !known {
			// Nested child lists pass through for DATABASES_SERVICES.
			if spec.child != "" && field == spec.child {
				clean[field] = value
				continue
			}
			i.logger.Debug().Str("section", section).Str("field", field).
				Msg("dropping unknown field")
			continue
		}
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			s = sanitizeString(s)
			if s == "" {
				continue
			}
			value = s
		}
		clean[field] = value
	}

	if section == "STORAGES" {
		if _, ok := clean["SERIALNUMBER"]; !ok {
			if serial, ok := clean["SERIAL"]; ok {
				clean["SERIALNUMBER"] = serial
			}
		}
	}

	if len(clean) == 0 {
		return nil
	}
	i.content[section] = append(i.content[section], clean)
	return nil
}

// GetSection returns the records stored under a section.
func (i *Inventory) GetSection(section string) []Record {
	return i.content[section]
}

// HasSection reports whether a section holds any record.
func (i *Inventory) HasSection(section string) bool {
	return len(i.content[section]) > 0
}

// RemoveSection drops a section from the document.
func (i *Inventory) RemoveSection(section string) {
	delete(i.content, section)
}

// Empty reports whether the document holds no content at all.
func (i *Inventory) Empty() bool {
	return len(i.content) == 0
}

// SectionNames returns the populated sections in sorted order.
func (i *Inventory) SectionNames() []string {
	names := make([]string, 0, len(i.content))
	for name := range i.content {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MergeContent deep-merges another document fragment: list sections
// concatenate, singleton sections update field-wise. The fragment maps
// section name to either a record or a list of records, as produced by
// parsing an additional-content file. A top-level ACCOUNTINFO TAG entry is
// hoisted into the document tag.
func (i *Inventory) MergeContent(doc map[string]any) error {
	for section, raw := range doc {
		section = strings.ToUpper(section)
		spec, ok := sections[section]
		if !ok {
			i.logger.Debug().Str("section", section).Msg("ignoring unknown merged section")
			continue
		}

		records, err := asRecords(raw)
		if err != nil {
			return fmt.Errorf("section %s: %w", section, err)
		}

		if section == "ACCOUNTINFO" {
			for _, record := range records {
				if hoistTag(i, record) {
					continue
				}
				if err := i.AddEntry(section, record); err != nil {
					return err
				}
			}
			continue
		}

		if spec.singleton {
			for _, record := range records {
				i.setSingleton(section, record)
			}
			continue
		}
		for _, record := range records {
			if err := i.AddEntry(section, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func hoistTag(i *Inventory, record Record) bool {
	name, _ := record["KEYNAME"].(string)
	if name == "" {
		name, _ = record["keyname"].(string)
	}
	if !strings.EqualFold(name, "TAG") {
		return false
	}
	if value, ok := record["KEYVALUE"].(string); ok && value != "" {
		i.tag = value
	} else if value, ok := record["keyvalue"].(string); ok && value != "" {
		i.tag = value
	}
	return true
}

func asRecords(raw any) ([]Record, error) {
	switch v := raw.(type) {
	case map[string]any:
		return []Record{Record(v)}, nil
	case Record:
		return []Record{v}, nil
	case []any:
		var out []Record
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("unexpected entry type %T", item)
			}
			out = append(out, Record(m))
		}
		return out, nil
	case []Record:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected section type %T", raw)
	}
}

// sanitizeString strips control characters and guarantees valid UTF-8.
func sanitizeString(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
