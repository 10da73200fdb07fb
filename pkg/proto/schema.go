package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// inventorySchema constrains the inventory envelope before it leaves the
// agent, catching normalization bugs locally instead of as opaque server
// rejections.
const inventorySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["action", "deviceid", "content"],
	"properties": {
		"action": {"const": "inventory"},
		"deviceid": {"type": "string", "minLength": 1},
		"itemtype": {"type": "string"},
		"partial": {"type": "boolean"},
		"tag": {"type": "string"},
		"content": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": {
				"anyOf": [
					{"type": "object"},
					{"type": "array", "items": {"type": "object"}}
				]
			}
		}
	}
}`

var compiledInventorySchema = mustCompile("inventory.schema.json", inventorySchema)

func mustCompile(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to register schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// ValidateInventory checks an inventory envelope against the embedded
// schema.
func ValidateInventory(msg *Inventory) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if err := compiledInventorySchema.Validate(doc); err != nil {
		return fmt.Errorf("inventory message rejected by schema: %w", err)
	}
	return nil
}
