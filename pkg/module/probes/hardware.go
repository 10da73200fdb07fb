package probes

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:     "hardware",
		Category: "hardware",
		Collect:  collectHardware,
	})
}

func collectHardware(_ context.Context, params *module.Params) error {
	record := inventory.Record{}

	if hostname, err := os.Hostname(); err == nil {
		name := hostname
		if params.AssetnameSupport != 2 {
			// Short asset name unless fqdn support was requested.
			name, _, _ = strings.Cut(hostname, ".")
		}
		record["NAME"] = name
	}
	if uuid := sysValue("/sys/class/dmi/id/product_uuid"); uuid != "" {
		record["UUID"] = uuid
	}
	if memory, ok := meminfoMB("MemTotal"); ok {
		record["MEMORY"] = memory
	}
	if swap, ok := meminfoMB("SwapTotal"); ok {
		record["SWAP"] = swap
	}
	if chassis := sysValue("/sys/class/dmi/id/chassis_type"); chassis != "" {
		record["CHASSIS_TYPE"] = chassis
	}

	params.Inventory.SetHardware(record)
	return nil
}

// meminfoMB extracts one kB-valued field of /proc/meminfo, converted to MB.
func meminfoMB(field string) (int64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, field+":") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb / 1024, true
	}
	return 0, false
}
