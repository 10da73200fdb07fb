package module

import (
	"context"
	"fmt"
	"sort"
)

// resolveEnabled runs every probe's Enabled check under the collect timeout
// and applies fallback and hard-dependency rules. The returned set only holds
// probes that will actually run.
func (r *Runner) resolveEnabled(ctx context.Context, modules []Module, params *Params) map[string]Module {
	enabled := make(map[string]Module, len(modules))

	// Regular probes first: fallbacks depend on this outcome.
	var fallbacks []Module
	for _, m := range modules {
		if len(m.FallbackFor) > 0 {
			fallbacks = append(fallbacks, m)
			continue
		}
		if r.moduleEnabled(ctx, m, params) {
			enabled[m.Name] = m
		}
	}

	for _, m := range fallbacks {
		covered := false
		for _, name := range m.FallbackFor {
			if _, ok := enabled[name]; ok {
				covered = true
				break
			}
		}
		if covered {
			r.logger.Debug().Str("module", m.Name).Msg("fallback probe not needed")
			continue
		}
		if r.moduleEnabled(ctx, m, params) {
			enabled[m.Name] = m
		}
	}

	// Hard dependencies: a probe whose predecessor dropped out drops out too,
	// cascading until stable.
	for changed := true; changed; {
		changed = false
		for name, m := range enabled {
			for _, dep := range m.RunAfter {
				if _, ok := enabled[dep]; !ok {
					r.logger.Debug().Str("module", name).Str("after", dep).
						Msg("disabling probe, hard predecessor unavailable")
					delete(enabled, name)
					changed = true
					break
				}
			}
		}
	}

	return enabled
}

func (r *Runner) moduleEnabled(ctx context.Context, m Module, params *Params) bool {
	if m.Category != "" && params.CategoryDisabled(m.Category) {
		r.logger.Debug().Str("module", m.Name).Str("category", m.Category).
			Msg("probe category disabled")
		return false
	}
	if m.Enabled == nil {
		return true
	}

	var ok bool
	err := r.bounded(ctx, m.Name, "check", func(ctx context.Context) error {
		ok = m.Enabled(ctx, params)
		return nil
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("module", m.Name).Msg("probe check failed")
		return false
	}
	if !ok {
		r.logger.Debug().Str("module", m.Name).Msg("probe not enabled on this host")
	}
	return ok
}

// planOrder topologically sorts the enabled probes, alphabetical among peers
// for deterministic runs. A dependency cycle is fatal to the caller.
func planOrder(enabled map[string]Module) ([]Module, error) {
	indegree := make(map[string]int, len(enabled))
	successors := make(map[string][]string, len(enabled))
	for name := range enabled {
		indegree[name] = 0
	}
	addEdge := func(from, to string) {
		if _, ok := enabled[from]; !ok {
			return
		}
		successors[from] = append(successors[from], to)
		indegree[to]++
	}
	for name, m := range enabled {
		for _, dep := range m.RunAfter {
			addEdge(dep, name)
		}
		for _, dep := range m.RunAfterIfEnabled {
			addEdge(dep, name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]Module, 0, len(enabled))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, enabled[name])
		released := false
		for _, succ := range successors[name] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(enabled) {
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("probe dependency cycle involving %v", stuck)
	}
	return order, nil
}
