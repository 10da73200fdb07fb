package inventory

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/burrow/pkg/proto"
)

// Envelope assembles the protocol inventory message: normalized content,
// partial flag and tag hoisted from the document.
func (i *Inventory) Envelope(serverVersion string) *proto.Inventory {
	content := i.Normalize(serverVersion)
	return &proto.Inventory{
		Action:   proto.ActionInventory,
		DeviceID: i.deviceID,
		ItemType: i.itemType,
		Partial:  i.partial,
		Tag:      i.tag,
		Content:  content,
	}
}

// Save writes the document to path in the requested format. A path of "-"
// writes to stdout; a directory is auto-named {deviceid}.{ext}.
func (i *Inventory) Save(path string, format Format) (string, error) {
	var out io.Writer
	if path == "-" {
		out = os.Stdout
	} else {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, i.deviceID+"."+string(format))
		}
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("failed to create inventory file: %w", err)
		}
		defer f.Close()
		out = f
	}

	var err error
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		err = encoder.Encode(i.Envelope(""))
	case FormatXML:
		err = i.writeXML(out)
	case FormatHTML:
		err = i.writeHTML(out)
	default:
		err = fmt.Errorf("unsupported inventory format %q", format)
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// XML returns the serialized legacy envelope, used for listener handoff and
// legacy server submission.
func (i *Inventory) XML() ([]byte, error) {
	var buf bytes.Buffer
	if err := i.writeXML(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeXML emits the legacy OCS envelope with uppercase section and field
// names, sections and fields in sorted order for stable output.
func (i *Inventory) writeXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	request := xml.StartElement{Name: xml.Name{Local: "REQUEST"}}
	if err := enc.EncodeToken(request); err != nil {
		return err
	}
	if err := encodeXMLValue(enc, "DEVICEID", i.deviceID); err != nil {
		return err
	}
	if err := encodeXMLValue(enc, "QUERY", "INVENTORY"); err != nil {
		return err
	}

	content := xml.StartElement{Name: xml.Name{Local: "CONTENT"}}
	if err := enc.EncodeToken(content); err != nil {
		return err
	}
	for _, section := range i.SectionNames() {
		spec := sections[section]
		for _, record := range i.content[section] {
			start := xml.StartElement{Name: xml.Name{Local: section}}
			if err := enc.EncodeToken(start); err != nil {
				return err
			}
			fields := make([]string, 0, len(record))
			for field := range record {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				if spec != nil && spec.child != "" && field == spec.child {
					continue
				}
				if err := encodeXMLValue(enc, field, toString(record[field])); err != nil {
					return err
				}
			}
			if err := enc.EncodeToken(start.End()); err != nil {
				return err
			}
		}
	}
	if err := enc.EncodeToken(content.End()); err != nil {
		return err
	}
	if err := enc.EncodeToken(request.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func encodeXMLValue(enc *xml.Encoder, name, value string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	return enc.EncodeElement(value, start)
}

var htmlTemplate = template.Must(template.New("inventory").Parse(`<!DOCTYPE html>
<html>
<head><title>Inventory for {{.DeviceID}}</title></head>
<body>
<h1>Inventory for {{.DeviceID}}</h1>
{{range .Sections}}
<h2>{{.Name}}</h2>
<table border="1">
{{range .Records}}
<tr>{{range .}}<td><b>{{.Field}}</b></td><td>{{.Value}}</td>{{end}}</tr>
{{end}}
</table>
{{end}}
</body>
</html>
`))

type htmlField struct {
	Field string
	Value string
}

type htmlSection struct {
	Name    string
	Records [][]htmlField
}

func (i *Inventory) writeHTML(w io.Writer) error {
	data := struct {
		DeviceID string
		Sections []htmlSection
	}{DeviceID: i.deviceID}

	for _, name := range i.SectionNames() {
		section := htmlSection{Name: name}
		for _, record := range i.content[name] {
			fields := make([]string, 0, len(record))
			for field := range record {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			var row []htmlField
			for _, field := range fields {
				row = append(row, htmlField{Field: field, Value: toString(record[field])})
			}
			section.Records = append(section.Records, row)
		}
		data.Sections = append(data.Sections, section)
	}

	return htmlTemplate.Execute(w, data)
}
