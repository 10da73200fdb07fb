package config

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/target"
)

// TargetSpec describes one configured destination before materialization.
type TargetSpec struct {
	ID     string
	Kind   target.Kind
	URL    string        // server targets
	Path   string        // local targets
	Format target.Format // local targets
}

// TargetSpecs materializes the typed target list: locals first, then
// servers, then — only when nothing else is configured and the embedded
// HTTP server is enabled — the singleton listener.
func (c *Config) TargetSpecs() []TargetSpec {
	var specs []TargetSpec

	format := target.FormatXML
	if c.JSON {
		format = target.FormatJSON
	} else if c.HTML {
		format = target.FormatHTML
	}

	for i, path := range c.Local {
		specs = append(specs, TargetSpec{
			ID:     fmt.Sprintf("local%d", i),
			Kind:   target.KindLocal,
			Path:   path,
			Format: format,
		})
	}
	for i, url := range c.Server {
		specs = append(specs, TargetSpec{
			ID:   fmt.Sprintf("server%d", i),
			Kind: target.KindServer,
			URL:  url,
		})
	}

	if len(specs) == 0 && !c.NoHTTPD && c.Listen {
		specs = append(specs, TargetSpec{
			ID:   "listener",
			Kind: target.KindListener,
		})
	}
	return specs
}
