// Package module implements the probe registry and its execution planner.
//
// Probes are small units that each discover one category of facts (cpu,
// network, users, ...) and write them into the shared inventory document.
// Each probe package registers itself in the process-wide registry from its
// init function; the planner never opens files at runtime.
//
// Execution order is a topological sort over the declared predecessors, with
// alphabetical order among peers so runs are deterministic. Every probe call
// is bounded by the collect timeout and runs with panic recovery: a broken
// probe is skipped with a log line, never failing the whole run.
package module
