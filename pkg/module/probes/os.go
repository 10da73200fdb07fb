package probes

import (
	"context"
	"os"
	"runtime"

	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/module"
)

func init() {
	module.Register(module.Module{
		Name:              "os",
		Category:          "os",
		RunAfterIfEnabled: []string{"bios", "hardware"},
		Collect:           collectOS,
	})
}

func collectOS(_ context.Context, params *module.Params) error {
	record := inventory.Record{
		"KERNEL_NAME": runtime.GOOS,
		"ARCH":        runtime.GOARCH,
	}
	if version := sysValue("/proc/sys/kernel/osrelease"); version != "" {
		record["KERNEL_VERSION"] = version
	}
	if hostname, err := os.Hostname(); err == nil {
		record["FQDN"] = hostname
	}

	release := osRelease("/etc/os-release")
	if name := release["NAME"]; name != "" {
		record["NAME"] = name
	}
	if version := release["VERSION_ID"]; version != "" {
		record["VERSION"] = version
	}
	if full := release["PRETTY_NAME"]; full != "" {
		record["FULL_NAME"] = full
	}

	params.Inventory.SetOperatingSystem(record)
	return nil
}
