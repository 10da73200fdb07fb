package event

import (
	"fmt"
	"time"
)

// Type tags an event with the directive it carries.
type Type string

const (
	// Init fires once per planned task to let it initialize.
	Init Type = "init"
	// TaskRun runs a single task outside the normal plan.
	TaskRun Type = "taskrun"
	// Partial requests an inventory restricted to a category set.
	Partial Type = "partial"
	// Maintenance triggers housekeeping (e.g. datastore GC) on a target.
	Maintenance Type = "maintenance"
	// Job schedules an externally submitted job at a specific time.
	Job Type = "job"
)

// Event is a scheduled directive attached to a target. RunDate is absolute
// wall time; events become ready once RunDate is in the past.
type Event struct {
	Type       Type
	Name       string // identity used for cool-down and replacement
	Task       string
	Target     string // maintenance events carry the target id
	Categories string // partial events: comma-separated category list
	Full       bool
	Partial    bool
	Reschedule bool
	RunDate    time.Time
	Params     map[string]string
}

// String renders a short identity for logs.
func (e *Event) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s[%s]", e.Type, e.Task)
}

// key identifies an event for cool-down purposes.
func (e *Event) key() string {
	if e.Name != "" {
		return e.Name
	}
	return string(e.Type) + "/" + e.Task
}
