/*
Package target models the destinations the agent delivers to.

A target is a destination with its own schedule, event queue, and persistent
state. Three subtypes exist:

  - Server: a remote inventory server reached over HTTP(S). Keeps the
    canonicalized URL and the per-task support table learned from contact
    responses, which decides whether the legacy PROLOG handshake is needed.
  - Local: a directory (or "-" for stdout) receiving inventory files in
    XML, JSON or HTML. Only inventory-family tasks are planned against it.
  - Listener: the singleton target backing the embedded HTTP listener. It
    produces nothing; it owns the session table for inbound exchanges,
    restored lazily from storage and debounced back to disk.

# Scheduling

Each target carries a base run date and a jittered next run date:

	next = timeref + maxDelay - rand(0, maxRandom)

where maxRandom is maxDelay/6 below six hours, maxDelay/24 above a day, and
one hour in between. Drift beyond maxDelay recomputes from now. Consecutive
failures back off exponentially, capped by min(maxDelay, errMaxDelay).
Pausing a target freezes all of this without losing state.

Schedule state is persisted under the "target" key of the target's private
store, so restarts resume where the previous process stopped.
*/
package target
