package probes

import (
	"context"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:     "bios",
		Category: "bios",
		Collect:  collectBios,
	})
}

// dmiFields maps BIOS fields onto their sysfs dmi entries.
var dmiFields = map[string]string{
	"BDATE":         "bios_date",
	"BMANUFACTURER": "bios_vendor",
	"BVERSION":      "bios_version",
	"MMANUFACTURER": "board_vendor",
	"MMODEL":        "board_name",
	"MSN":           "board_serial",
	"SMANUFACTURER": "sys_vendor",
	"SMODEL":        "product_name",
	"SSN":           "product_serial",
	"SKUNUMBER":     "product_sku",
	"ASSETTAG":      "chassis_asset_tag",
}

func collectBios(_ context.Context, params *module.Params) error {
	record := inventory.Record{}
	for field, entry := range dmiFields {
		if value := sysValue("/sys/class/dmi/id/" + entry); value != "" {
			record[field] = value
		}
	}
	if len(record) > 0 {
		params.Inventory.SetBios(record)
	}
	return nil
}
