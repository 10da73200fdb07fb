// Package task declares the units of work the agent runs against its
// targets. Tasks register from their package init, keeping declaration
// order: the order matters, both for the default execution plan and for
// the "..." placeholder in explicit plans.
//
// A task instance lives for exactly one run. IsEnabled is consulted with
// the latest contact response before Run, and NewEvent lets a finished
// task queue a follow-up on its target.
package task
