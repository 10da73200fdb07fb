// Package probes holds the built-in inventory probes. Importing the package
// registers every probe in the module registry.
package probes

import (
	"os"
	"strings"
)

// sysValue reads a one-line value file, typically under /sys/class/dmi/id.
// Missing or unreadable files yield an empty string; probes stay best-effort.
func sysValue(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// osRelease parses /etc/os-release style key=value lines.
func osRelease(path string) map[string]string {
	out := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || key == "" {
			continue
		}
		out[key] = strings.Trim(value, `"'`)
	}
	return out
}
