package module

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/inventory"
)

// Params is the execution context handed to every probe: the shared document,
// the per-run flags, and whatever credentials or server parameters apply.
type Params struct {
	Logger             zerolog.Logger
	Inventory          *inventory.Inventory
	AgentID            string
	Tag                string
	DisabledCategories map[string]bool
	ScanHomedirs       bool
	ScanProfiles       bool
	AssetnameSupport   int
	Credentials        []string
	Extra              map[string]string
}

// CategoryDisabled reports whether a probe category was disabled for this run.
func (p *Params) CategoryDisabled(category string) bool {
	return p.DisabledCategories[category]
}

// Module is one registered probe. Enabled and Collect both run under the
// collect timeout and must honor their context.
type Module struct {
	// Name is unique across the registry, lowercase by convention.
	Name string
	// Category ties the probe to an inventory category for category-based
	// narrowing and disabling.
	Category string

	// RunAfter names hard predecessors: the module is disabled when any of
	// them is missing or disabled.
	RunAfter []string
	// RunAfterIfEnabled names soft predecessors: ordering applies only when
	// the named module is enabled.
	RunAfterIfEnabled []string
	// FallbackFor makes this module a fallback: it is enabled only when none
	// of the listed modules is.
	FallbackFor []string

	Enabled func(ctx context.Context, params *Params) bool
	Collect func(ctx context.Context, params *Params) error
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Module)
)

// Register adds a probe to the process-wide registry. Probes register from
// their package init, so a duplicate name is a programming error.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if m.Name == "" {
		panic("module: registered probe without a name")
	}
	if _, dup := registry[m.Name]; dup {
		panic(fmt.Sprintf("module: duplicate probe %q", m.Name))
	}
	registry[m.Name] = m
}

// All returns the registered probes sorted by name.
func All() []Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Module, 0, len(registry))
	for _, m := range registry {
		out = append(out, m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Lookup returns a registered probe by name.
func Lookup(name string) (Module, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	m, ok := registry[name]
	return m, ok
}
