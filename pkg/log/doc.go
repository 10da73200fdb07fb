/*
Package log provides structured logging for the agent using zerolog.

The log package wraps the zerolog library to provide level-filtered logging
across multiple sinks: stderr (human console output, optional color), a file
with size-based rotation, and syslog. All sinks receive the same stream and
serialize their own writes.

# Debug levels

The agent exposes three verbosity steps rather than named levels. They map
onto zerolog levels so that disabled calls are near-free:

	debug 0  →  info and above
	debug 1  →  debug and above
	debug 2  →  trace and above (wire dumps, per-module traces)

# Usage

	log.Init(log.Config{
		Backends: []string{"stderr", "file"},
		Debug:    1,
		LogFile:  "/var/log/burrow-agent.log",
	})

	httpLog := log.WithComponent("httpd")
	httpLog.Debug().Str("addr", addr).Msg("listener started")

Component loggers (WithComponent, WithTarget, WithTask) attach context fields
once so call sites stay terse.
*/
package log
