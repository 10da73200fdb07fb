/*
Package storage provides the agent's on-disk state persistence.

Every piece of durable agent state (agent identity, per-target schedules,
last-state checksums, listener sessions) is a named blob in a directory of
.dump files. The store guarantees that a successful Save is durable against a
crash mid-write: data is written to a temporary file, fsynced, then renamed
over the destination.

# Layout

	<vardir>/
	    burrow-agent.dump        agent state (deviceid, agentid, forcerun)
	    <target-subdir>/
	        target.dump          per-target schedule and learned capabilities
	        last_state.json      per-section checksums (server targets)
	    __LISTENER__/
	        Sessions.dump        listener session table

Each target owns a private sub-store, so no key is ever written from two
targets concurrently.

# Change detection

Modified(name) compares the on-disk mtime against the last mtime this
instance observed, letting the agent notice out-of-band edits (for example a
forcerun flag set by another process). A failed Save records the attempted
time so a persistent write error does not turn into a retry storm.

# Migration

New(Params{OldDirectory: ...}) performs a one-time move of an older vardir
into the current one. Symlinks found in the old tree are removed, never
followed, and directories emptied by the move are pruned.
*/
package storage
