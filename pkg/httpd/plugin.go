package httpd

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Plugin extends the embedded server with extra routes. Plugins are tried in
// descending priority before the built-in routes; a plugin advertising a
// non-default port gets its own listener.
type Plugin interface {
	Name() string
	Priority() int
	// Port returns the dedicated listener port, or 0 to share the main one.
	Port() int
	Init(logger zerolog.Logger) error
	Disabled() bool
	// Handle serves the request and reports whether it did.
	Handle(w http.ResponseWriter, r *http.Request, trusted bool) bool
	// TimerEvent performs the plugin's periodic duty and returns the delay
	// until the next tick; zero or negative disables the timer.
	TimerEvent() time.Duration
}

var (
	pluginsMu sync.Mutex
	plugins   []Plugin
)

// RegisterPlugin adds a plugin to the process-wide set picked up by every new
// server.
func RegisterPlugin(p Plugin) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	plugins = append(plugins, p)
}

// registeredPlugins returns the registry sorted by descending priority, name
// as tie-breaker.
func registeredPlugins() []Plugin {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	out := make([]Plugin, len(plugins))
	copy(out, plugins)
	sortPlugins(out)
	return out
}

func sortPlugins(list []Plugin) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].Priority() != list[b].Priority() {
			return list[a].Priority() > list[b].Priority()
		}
		return list[a].Name() < list[b].Name()
	})
}
