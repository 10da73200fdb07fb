package task

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/inventory"
)

// mergeAdditionalContent merges a user-provided content file into the
// document. The format follows the file extension: XML uses the legacy
// envelope (or a bare CONTENT element), JSON and YAML use a section map,
// optionally nested under a "content" key.
func mergeAdditionalContent(doc *inventory.Inventory, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var content map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		content, err = parseXMLContent(data)
	case ".json":
		content, err = parseKeyedContent(data, json.Unmarshal)
	case ".yaml", ".yml":
		content, err = parseKeyedContent(data, yaml.Unmarshal)
	default:
		return fmt.Errorf("unsupported additional content format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return doc.MergeContent(content)
}

func parseKeyedContent(data []byte, unmarshal func([]byte, any) error) (map[string]any, error) {
	var raw map[string]any
	if err := unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for key, value := range raw {
		if strings.EqualFold(key, "content") {
			content, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("content key does not hold a section map")
			}
			return content, nil
		}
	}
	return raw, nil
}

// parseXMLContent walks a legacy XML document and rebuilds the section map:
// children of CONTENT are sections, their children are fields.
func parseXMLContent(data []byte) (map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	content := make(map[string]any)
	inContent := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed XML content: %w", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToUpper(start.Name.Local)
		switch {
		case name == "REQUEST":
			// Envelope wrapper, descend.
		case name == "CONTENT":
			inContent = true
		case inContent:
			record, err := parseXMLRecord(decoder, start)
			if err != nil {
				return nil, err
			}
			existing, _ := content[name].([]any)
			content[name] = append(existing, any(record))
		default:
			// DEVICEID, QUERY and friends outside CONTENT.
			if err := decoder.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return content, nil
}

// parseXMLRecord reads one section element into a field map.
func parseXMLRecord(decoder *xml.Decoder, start xml.StartElement) (map[string]any, error) {
	record := make(map[string]any)
	var field string
	var text strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, fmt.Errorf("malformed XML section %s: %w", start.Name.Local, err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			field = strings.ToUpper(t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return record, nil
			}
			if field != "" {
				if value := strings.TrimSpace(text.String()); value != "" {
					record[field] = value
				}
				field = ""
			}
		}
	}
}
