package task

import "strings"

// ExecutionPlan orders the tasks to run. An empty request runs every
// available task in declared order. A literal "..." in the request expands to
// the available tasks not named elsewhere in the request, keeping their
// declared order. Unknown task names are silently dropped.
func ExecutionPlan(requested, available []string) []string {
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}

	if len(requested) == 0 {
		out := make([]string, len(available))
		copy(out, available)
		return out
	}

	named := make(map[string]bool, len(requested))
	for _, name := range requested {
		named[strings.ToLower(name)] = true
	}

	var plan []string
	seen := make(map[string]bool, len(requested))
	for _, name := range requested {
		if name == "..." {
			for _, remaining := range available {
				if !named[remaining] && !seen[remaining] {
					plan = append(plan, remaining)
					seen[remaining] = true
				}
			}
			continue
		}
		name = strings.ToLower(name)
		if !known[name] || seen[name] {
			continue
		}
		plan = append(plan, name)
		seen[name] = true
	}
	return plan
}
