package proto

import (
	"encoding/json"
	"fmt"
)

// Statuses a server response may carry.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusPending = "pending"
)

// Actions the agent sends.
const (
	ActionContact      = "contact"
	ActionProlog       = "prolog"
	ActionInventory    = "inventory"
	ActionSetStatus    = "setStatus"
	ActionSetUserEvent = "setUserEvent"
	ActionGetJobs      = "getJobs"
	ActionGetFile      = "getFile"
	ActionJobsDone     = "jobsDone"
)

// Contact is the GLPI handshake request: it announces the agent and its
// enabled tasks, and learns the per-task server support in return.
type Contact struct {
	Action       string            `json:"action"`
	Name         string            `json:"name"`
	DeviceID     string            `json:"deviceid"`
	Tag          string            `json:"tag,omitempty"`
	EnabledTasks map[string]string `json:"enabled-tasks"`
	HTTPDPort    int               `json:"httpd-port,omitempty"`
	HTTPDPlugins []string          `json:"httpd-plugins,omitempty"`
}

// Inventory is the inventory submission envelope. Content is the normalized
// section map; Partial is hoisted from the document.
type Inventory struct {
	Action   string         `json:"action"`
	DeviceID string         `json:"deviceid"`
	ItemType string         `json:"itemtype,omitempty"`
	Partial  bool           `json:"partial,omitempty"`
	Tag      string         `json:"tag,omitempty"`
	Content  map[string]any `json:"content"`
}

// StatusUpdate reports deployment progress back to the server.
type StatusUpdate struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceid"`
	Part     string `json:"part,omitempty"`
	UUID     string `json:"uuid,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"msg,omitempty"`
}

// UserEvent reports an interactive deployment decision.
type UserEvent struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceid"`
	UUID     string `json:"uuid,omitempty"`
	Type     string `json:"type"`
	User     string `json:"user,omitempty"`
}

// JobsRequest asks the server for pending jobs.
type JobsRequest struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceid"`
	Task     string `json:"task,omitempty"`
}

// FileRequest asks the server for a deploy filepart.
type FileRequest struct {
	Action   string `json:"action"`
	DeviceID string `json:"deviceid"`
	SHA512   string `json:"sha512"`
}

// JobsDone acknowledges finished jobs.
type JobsDone struct {
	Action   string   `json:"action"`
	DeviceID string   `json:"deviceid"`
	Jobs     []string `json:"jobs"`
}

// TaskSupport is the server-side support advertised for one task in a
// contact response.
type TaskSupport struct {
	Version string      `json:"version"`
	Server  string      `json:"server,omitempty"`
	Params  []TaskParam `json:"params,omitempty"`
}

// TaskParam is one probe parameter block attached to a task. The odd
// "use[<params_id>]" keys of the wire format are kept in Extra.
type TaskParam struct {
	Category string `json:"category,omitempty"`
	Use      string `json:"use,omitempty"`
	ParamsID string `json:"params_id,omitempty"`
	Extra    map[string]string
}

// UnmarshalJSON keeps unknown "use[...]" keys available to the task.
func (p *TaskParam) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		s, _ := value.(string)
		switch key {
		case "category":
			p.Category = s
		case "use":
			p.Use = s
		case "params_id":
			p.ParamsID = s
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[key] = s
		}
	}
	return nil
}

// Response is a parsed server answer. Expiration is in seconds for pending
// answers and scheduling hints.
type Response struct {
	Status     string                 `json:"status"`
	Expiration int                    `json:"expiration,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Tasks      map[string]TaskSupport `json:"tasks,omitempty"`
	Jobs       []json.RawMessage      `json:"jobs,omitempty"`
	RequestID  string                 `json:"requestid,omitempty"`
}

// Validate rejects responses with an unexpected status.
func (r *Response) Validate() error {
	switch r.Status {
	case StatusOK, StatusError, StatusPending:
		return nil
	case "":
		return fmt.Errorf("server response without status")
	default:
		return fmt.Errorf("unexpected server response status %q", r.Status)
	}
}

// IsGlpiContact reports whether a response elevates the server to a GLPI
// server: only a valid contact answer carrying a tasks map does.
func (r *Response) IsGlpiContact() bool {
	if r.Status != StatusOK && r.Status != StatusPending {
		return false
	}
	return len(r.Tasks) > 0
}
