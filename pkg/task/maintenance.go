package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/proto"
	"github.com/cuemby/burrow/pkg/target"
)

func init() {
	Register("maintenance", "1.0", func(params Params) Task {
		return &MaintenanceTask{
			params: params,
			logger: params.Logger.With().Str("task", "maintenance").Logger(),
		}
	})
}

// MaintenanceTask runs housekeeping against a target: expired deploy
// fileparts, stale remote inventory states, and listener session scrubbing.
// It is queued by maintenance events, never part of the regular plan.
type MaintenanceTask struct {
	params Params
	logger zerolog.Logger
	abort  atomic.Bool
}

func (t *MaintenanceTask) Name() string { return "maintenance" }

func (t *MaintenanceTask) IsEnabled(*proto.Response) bool { return true }

func (t *MaintenanceTask) Abort() { t.abort.Store(true) }

// maintenancePeriod is the delay before a consumed maintenance event is
// queued again.
const maintenancePeriod = time.Hour

// NewEvent re-queues the maintenance for its next period.
func (t *MaintenanceTask) NewEvent() *event.Event {
	if t.params.Event == nil {
		return nil
	}
	return &event.Event{
		Type:    event.Maintenance,
		Name:    t.params.Event.Name,
		Task:    "maintenance",
		Target:  t.params.Target.ID(),
		RunDate: time.Now().Add(maintenancePeriod),
	}
}

func (t *MaintenanceTask) Run(_ context.Context) error {
	if t.params.Datastore != nil {
		removed, err := t.params.Datastore.GC(false)
		if err != nil {
			t.logger.Error().Err(err).Msg("filepart maintenance failed")
		} else if removed > 0 {
			t.logger.Debug().Int("removed", removed).Msg("expired fileparts removed")
		}
	}

	if store := t.params.Target.Storage(); store != nil {
		inventory.GCRemoteStates(store.Directory())
	}

	if listener, ok := t.params.Target.(*target.Listener); ok {
		if removed := listener.ScrubSessions(); removed > 0 {
			t.logger.Debug().Int("removed", removed).Msg("expired listener sessions scrubbed")
		}
	}
	return nil
}
