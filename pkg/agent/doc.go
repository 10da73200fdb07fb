// Package agent wires the pieces together: it materializes targets from the
// configuration, keeps the persistent agent identity, schedules target
// rounds, and hosts the embedded HTTP server in daemon mode.
package agent
