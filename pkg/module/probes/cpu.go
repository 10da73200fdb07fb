package probes

import (
	"context"
	"os"
	"runtime"
	"strings"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:     "cpu",
		Category: "cpu",
		Collect:  collectCPU,
	})
}

func collectCPU(_ context.Context, params *module.Params) error {
	record := inventory.Record{
		"ARCH":   runtime.GOARCH,
		"THREAD": runtime.NumCPU(),
	}

	// Best-effort enrichment from /proc/cpuinfo; absent on non-Linux hosts.
	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			switch key {
			case "model name":
				record["NAME"] = value
			case "vendor_id":
				record["MANUFACTURER"] = value
			case "cpu family":
				record["FAMILYNUMBER"] = value
			case "stepping":
				record["STEPPING"] = value
			}
		}
	}

	return params.Inventory.AddEntry("CPUS", record)
}
