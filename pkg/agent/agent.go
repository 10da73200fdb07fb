package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/datastore"
	"github.com/cuemby/burrow/pkg/httpd"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/task"
)

// identity is the persisted agent identity blob, created on first start and
// kept stable across restarts.
type identity struct {
	DeviceID string `json:"deviceid"`
	AgentID  string `json:"agentid"`
}

// Agent owns the target arena, the embedded HTTP server and the scheduling
// loop. One Agent instance lives for the whole process.
type Agent struct {
	logger  zerolog.Logger
	cfg     *config.Config
	version string

	store    *storage.Storage
	deviceID string
	agentID  string

	targets []target.Target
	stores  map[string]*datastore.Datastore // deploy datastores keyed by target id
	httpd   *httpd.Server

	mu       sync.Mutex
	status   string
	current  task.Task
	aborted  bool
	forceRun bool

	// reload re-runs the configuration layering; set by the CLI so daemon
	// reloads see the same backend and overrides the process started with.
	reload func() (*config.Config, error)
}

// New prepares the agent: identity, per-target storage and the planned task
// list. It does not start anything.
func New(cfg *config.Config, version string, logger zerolog.Logger) (*Agent, error) {
	store, err := storage.New(storage.Params{
		Directory: cfg.VarDir,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	a := &Agent{
		logger:  logger.With().Str("component", "agent").Logger(),
		cfg:     cfg,
		version: version,
		store:   store,
		stores:  make(map[string]*datastore.Datastore),
		status:  "waiting",
	}

	if err := a.loadIdentity(); err != nil {
		return nil, err
	}

	// A forcerun marker left by --set-forcerun makes the first round
	// immediate, then disappears.
	if store.Has("forcerun") {
		a.forceRun = true
		if err := store.Remove("forcerun"); err != nil {
			a.logger.Warn().Err(err).Msg("failed to clear forcerun marker")
		}
	}

	if err := a.createTargets(); err != nil {
		return nil, err
	}

	plan := task.ExecutionPlan(cfg.Tasks, task.Available(cfg.NoTask))
	if len(plan) == 0 {
		return nil, fmt.Errorf("no task to run")
	}
	for _, t := range a.targets {
		t.SetPlannedTasks(plan)
	}

	a.logger.Info().
		Str("deviceid", a.deviceID).
		Str("agentid", a.agentID).
		Strs("tasks", plan).
		Int("targets", len(a.targets)).
		Msg("agent ready")
	return a, nil
}

// SetForceRun drops the marker consumed by the next agent start.
func SetForceRun(cfg *config.Config, logger zerolog.Logger) error {
	store, err := storage.New(storage.Params{Directory: cfg.VarDir, Logger: logger})
	if err != nil {
		return err
	}
	return store.Save("forcerun", time.Now().Unix())
}

// SetReloader installs the function used for periodic configuration reloads
// in daemon mode.
func (a *Agent) SetReloader(fn func() (*config.Config, error)) {
	a.reload = fn
}

// config returns the current configuration. The pointer is swapped whole on
// reload, never mutated.
func (a *Agent) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// DeviceID returns the stable inventory identity.
func (a *Agent) DeviceID() string { return a.deviceID }

// AgentID returns the stable protocol UUID.
func (a *Agent) AgentID() string { return a.agentID }

// Targets returns the target arena.
func (a *Agent) Targets() []target.Target { return a.targets }

func (a *Agent) loadIdentity() error {
	var id identity
	ok, err := a.store.Restore("agent", &id)
	if err != nil {
		a.logger.Warn().Err(err).Msg("agent identity unreadable, regenerating")
	}
	if !ok || id.DeviceID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "localhost"
		}
		id.DeviceID = hostname + time.Now().Format("-2006-01-02-15-04-05")
	}
	if id.AgentID == "" {
		id.AgentID = uuid.New().String()
	}
	a.deviceID = id.DeviceID
	a.agentID = id.AgentID
	return a.store.Save("agent", id)
}

// createTargets materializes the configured target specs, each with its own
// storage subdirectory and deploy datastore.
func (a *Agent) createTargets() error {
	cfg := a.cfg
	maxDelay := time.Duration(cfg.DelayTime) * time.Second
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}

	for _, spec := range cfg.TargetSpecs() {
		identifier := spec.URL
		if identifier == "" {
			identifier = spec.Path
		}
		if identifier == "" {
			identifier = spec.ID
		}

		store, err := storage.New(storage.Params{
			Directory: filepath.Join(cfg.VarDir, target.StorageSubdir(identifier)),
			Logger:    a.logger,
		})
		if err != nil {
			return err
		}

		params := target.Params{
			ID:          spec.ID,
			Logger:      a.logger,
			Storage:     store,
			MaxDelay:    maxDelay,
			ErrMaxDelay: maxDelay,
		}
		if cfg.Daemon && !cfg.Force && !a.forceRun {
			params.InitialDelay = maxDelay
		}

		var tgt target.Target
		switch spec.Kind {
		case target.KindServer:
			srv, err := target.NewServer(spec.URL, params)
			if err != nil {
				return err
			}
			ds, err := datastore.Open(store.Directory(), a.logger)
			if err != nil {
				return err
			}
			a.stores[spec.ID] = ds
			tgt = srv
		case target.KindLocal:
			tgt = target.NewLocal(spec.Path, spec.Format, params)
		case target.KindListener:
			if !cfg.Daemon {
				a.logger.Warn().Msg("listener target without --daemon: " +
					"the embedded server never starts, so the inventory is unreachable")
			}
			tgt = target.NewListener(params)
		default:
			return fmt.Errorf("unknown target kind %q", spec.Kind)
		}
		a.targets = append(a.targets, tgt)
	}

	if len(a.targets) == 0 {
		return fmt.Errorf("no target configured, use --server, --local or --listen")
	}
	return nil
}

// Run executes the agent until the context is canceled or, outside daemon
// mode, until every target ran once.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.Wait > 0 {
		delay := time.Duration(rand.Intn(a.cfg.Wait+1)) * time.Second
		a.logger.Debug().Dur("delay", delay).Msg("startup wait")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var group run.Group

	loopCtx, cancelLoop := context.WithCancel(ctx)
	group.Add(func() error {
		return a.loop(loopCtx)
	}, func(error) {
		a.Shutdown()
		cancelLoop()
	})

	if !a.cfg.NoHTTPD && a.cfg.Daemon {
		server := httpd.New(a.httpdParams(a.cfg))
		a.httpd = server
		stopCh := make(chan struct{})
		group.Add(func() error {
			if err := server.Init(); err != nil {
				a.logger.Error().Err(err).Msg("embedded http server disabled")
				// An unbindable port is not fatal to the agent.
			}
			<-stopCh
			return nil
		}, func(error) {
			// Reloads may have swapped the server instance.
			if s := a.currentHTTPD(); s != nil {
				s.Stop()
			}
			close(stopCh)
		})
	}

	if a.cfg.Daemon {
		group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err := group.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		a.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown aborts the running task and freezes scheduling. Safe to call more
// than once.
func (a *Agent) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.aborted {
		return
	}
	a.aborted = true
	if a.current != nil {
		a.current.Abort()
	}
	for _, t := range a.targets {
		t.Pause()
	}
}

// Status reports the agent state string served on /status.
func (a *Agent) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) setStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

func (a *Agent) setCurrent(t task.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = t
}

func (a *Agent) isAborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborted
}

func (a *Agent) currentHTTPD() *httpd.Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpd
}

// datastores flattens the per-target deploy stores for the HTTP server.
func (a *Agent) datastores() []*datastore.Datastore {
	out := make([]*datastore.Datastore, 0, len(a.stores))
	for _, ds := range a.stores {
		out = append(out, ds)
	}
	return out
}

// interruptible sleep used by the daemon loop.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
