package task

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/datastore"
	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/proto"
	"github.com/cuemby/burrow/pkg/target"
)

// Task is one unit of work run against a target.
type Task interface {
	Name() string
	// IsEnabled decides from the contact response whether the task should
	// run against this target.
	IsEnabled(resp *proto.Response) bool
	Run(ctx context.Context) error
	Abort()
	// NewEvent returns a follow-up event to queue on the target, or nil.
	NewEvent() *event.Event
}

// Params carries everything a task needs for one run.
type Params struct {
	Logger   zerolog.Logger
	Config   *config.Config
	Target   target.Target
	AgentID  string
	DeviceID string
	Version  string
	// Event is the triggering event when the run came from the queue.
	Event *event.Event
	// Datastore is the deploy filepart store of the target, when present.
	Datastore *datastore.Datastore
}

// Factory builds a fresh task instance for one run.
type Factory func(params Params) Task

type registration struct {
	name    string
	version string
	factory Factory
}

var (
	registryMu sync.Mutex
	// registrations keeps declaration order: the "..." expansion of a task
	// plan depends on it.
	registrations []registration
)

// Register declares a task. Tasks register from their package init.
func Register(name, version string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name = strings.ToLower(name)
	for _, reg := range registrations {
		if reg.name == name {
			panic("task: duplicate registration of " + name)
		}
	}
	registrations = append(registrations, registration{name, version, factory})
}

// Available returns the declared task names in declaration order, excluding
// those listed in noTask.
func Available(noTask []string) []string {
	excluded := make(map[string]bool, len(noTask))
	for _, name := range noTask {
		excluded[strings.ToLower(name)] = true
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	var out []string
	for _, reg := range registrations {
		if !excluded[reg.name] {
			out = append(out, reg.name)
		}
	}
	return out
}

// Versions maps every declared task to its version, as advertised during the
// contact handshake.
func Versions() map[string]string {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make(map[string]string, len(registrations))
	for _, reg := range registrations {
		out[reg.name] = reg.version
	}
	return out
}

// New instantiates a declared task.
func New(name string, params Params) (Task, bool) {
	name = strings.ToLower(name)
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, reg := range registrations {
		if reg.name == name {
			return reg.factory(params), true
		}
	}
	return nil, false
}

// SortedNames returns the declared task names alphabetically, for display.
func SortedNames() []string {
	names := Available(nil)
	sort.Strings(names)
	return names
}
