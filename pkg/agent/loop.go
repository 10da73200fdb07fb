package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/metrics"
	_ "github.com/cuemby/burrow/pkg/module/probes"
	"github.com/cuemby/burrow/pkg/proto"
	"github.com/cuemby/burrow/pkg/target"
	"github.com/cuemby/burrow/pkg/task"
)

// loop is the scheduler. Daemon mode polls the arena once a second, serving
// due events before due run dates. One-shot mode runs every target once and
// returns, honoring --lazy.
func (a *Agent) loop(ctx context.Context) error {
	if !a.config().Daemon {
		return a.runOnce(ctx)
	}

	for _, t := range a.targets {
		t.TriggerTaskInitEvents()
	}

	force := a.forceRun || a.config().Force
	lastReload := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, t := range a.targets {
			if a.isAborted() {
				return nil
			}
			for ev := t.NextEvent(); ev != nil; ev = t.NextEvent() {
				a.handleEvent(ctx, t, ev)
				if a.isAborted() {
					return nil
				}
			}
			if t.Paused() {
				continue
			}
			next := t.GetNextRunDate()
			switch {
			case force || (!next.IsZero() && !time.Now().Before(next)):
				a.runTarget(ctx, t)
			case next.IsZero():
				t.ResetNextRunDate()
				metrics.TargetNextRun.WithLabelValues(t.ID()).
					Set(float64(t.GetNextRunDate().Unix()))
				a.logger.Info().Str("target", t.ID()).
					Time("next", t.GetNextRunDate()).Msg("first run scheduled")
			}
		}
		force = false

		if a.reload != nil {
			interval := time.Duration(a.config().ConfReloadInterval) * time.Second
			if interval > 0 && time.Since(lastReload) >= interval {
				lastReload = time.Now()
				a.reloadConfig()
			}
		}

		if !sleepCtx(ctx, time.Second) {
			return ctx.Err()
		}
	}
}

// runOnce serves one-shot invocations: each target runs exactly one round.
func (a *Agent) runOnce(ctx context.Context) error {
	cfg := a.config()
	var firstErr error
	for _, t := range a.targets {
		if a.isAborted() {
			break
		}
		next := t.GetNextRunDate()
		if cfg.Lazy && !cfg.Force && !a.forceRun && time.Now().Before(next) {
			a.logger.Info().Str("target", t.ID()).Time("next", next).
				Msg("not due yet, lazy skip")
			continue
		}
		if err := a.runTarget(ctx, t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runTarget performs one full round against a target: contact handshake for
// servers, then every planned task. A panic in a task run is contained to the
// round.
func (a *Agent) runTarget(ctx context.Context, t target.Target) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Any("panic", r).Str("target", t.ID()).
				Msg("target run panicked")
			err = fmt.Errorf("target %s run panicked: %v", t.ID(), r)
		}
		if err != nil {
			metrics.TargetRuns.WithLabelValues(t.ID(), "error").Inc()
			t.SetNextRunDateFromNow(0)
		} else {
			metrics.TargetRuns.WithLabelValues(t.ID(), "ok").Inc()
			t.ResetNextRunDate()
		}
		metrics.TargetNextRun.WithLabelValues(t.ID()).
			Set(float64(t.GetNextRunDate().Unix()))
		a.setStatus("waiting")
	}()

	a.logger.Info().Str("target", t.ID()).Msg("target run starting")

	var resp *proto.Response
	if srv, ok := t.(*target.Server); ok {
		resp, err = a.contact(ctx, srv)
		if err != nil {
			return fmt.Errorf("failed to contact %s: %w", srv.URL(), err)
		}
	}

	for _, name := range t.PlannedTasks() {
		if a.isAborted() {
			return nil
		}
		if err := a.runTask(ctx, t, name, resp, nil); err != nil {
			a.logger.Error().Err(err).Str("task", name).Str("target", t.ID()).
				Msg("task failed")
		}
	}
	return nil
}

// contact performs the handshake with a server target. A GLPI answer
// elevates the target and records per-task support; anything else falls back
// to the legacy PROLOG exchange.
func (a *Agent) contact(ctx context.Context, srv *target.Server) (*proto.Response, error) {
	opts := a.clientOptions()
	serverURL := srv.URL().String()

	glpi, err := client.NewGLPI(opts, a.agentID)
	if err != nil {
		return nil, err
	}

	httpdPort := 0
	if a.currentHTTPD() != nil {
		httpdPort = a.config().HTTPDPort
	}
	msg := &proto.Contact{
		Action:       proto.ActionContact,
		Name:         "Burrow-Agent",
		DeviceID:     a.deviceID,
		Tag:          a.config().Tag,
		EnabledTasks: plannedVersions(srv),
		HTTPDPort:    httpdPort,
	}

	resp, sendErr := glpi.Send(ctx, serverURL, msg, nil)
	if sendErr == nil && resp.IsGlpiContact() {
		srv.SetIsGlpiServer(true)
		for name, support := range resp.Tasks {
			srv.SetServerTaskSupport(name, target.TaskSupport{
				Server:  support.Server,
				Version: support.Version,
			})
		}
		if resp.Expiration > 0 {
			srv.SetMaxDelay(time.Duration(resp.Expiration) * time.Second)
		}
		if srv.DoProlog() {
			// Some advertised tasks still live on a legacy server.
			a.prolog(ctx, srv, opts)
		}
		return resp, nil
	}

	// Legacy servers answer the contact with an error page or garbage; the
	// PROLOG handshake decides whether anyone is home.
	srv.SetIsGlpiServer(false)
	if sendErr != nil {
		if errors.Is(sendErr, client.ErrAuthRequired) {
			// The legacy handshake would hit the same 401.
			return nil, sendErr
		}
		a.logger.Debug().Err(sendErr).Str("server", serverURL).
			Msg("contact rejected, trying legacy prolog")
	}
	if err := a.prolog(ctx, srv, opts); err != nil {
		if sendErr != nil {
			return nil, sendErr
		}
		return nil, err
	}
	return nil, nil
}

// prolog runs the legacy handshake and applies PROLOG_FREQ (hours) to the
// target schedule.
func (a *Agent) prolog(ctx context.Context, srv *target.Server, opts client.Options) error {
	ocs, err := client.NewOCS(opts, a.deviceID)
	if err != nil {
		return err
	}
	reply, err := ocs.Prolog(ctx, srv.URL().String())
	if err != nil {
		return err
	}
	if reply.PrologFreq > 0 {
		srv.SetMaxDelay(time.Duration(reply.PrologFreq) * time.Hour)
	}
	return nil
}

// handleEvent consumes one due event from a target queue.
func (a *Agent) handleEvent(ctx context.Context, t target.Target, ev *event.Event) {
	a.logger.Debug().Str("event", ev.String()).Str("target", t.ID()).
		Msg("processing event")
	metrics.Events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case event.TaskRun:
		if ev.Task == "all" {
			t.TriggerRunTasksNow(ev)
			return
		}
		if err := a.runTask(ctx, t, ev.Task, nil, ev); err != nil {
			a.logger.Error().Err(err).Str("task", ev.Task).Msg("event task failed")
		}
		if ev.Reschedule {
			t.ResetNextRunDate()
		}
	case event.Partial:
		if err := a.runTask(ctx, t, "inventory", nil, ev); err != nil {
			a.logger.Error().Err(err).Msg("partial inventory failed")
		}
	case event.Maintenance:
		if err := a.runTask(ctx, t, "maintenance", nil, ev); err != nil {
			a.logger.Error().Err(err).Msg("maintenance failed")
		}
	case event.Job:
		if err := a.runTask(ctx, t, ev.Task, nil, ev); err != nil {
			a.logger.Error().Err(err).Str("task", ev.Task).Msg("job failed")
		}
	case event.Init:
		// Tasks with no init hook consume these silently.
	}
}

// runTask instantiates and runs one task against a target.
func (a *Agent) runTask(ctx context.Context, t target.Target, name string, resp *proto.Response, ev *event.Event) error {
	tk, ok := task.New(name, task.Params{
		Logger:    a.logger,
		Config:    a.config(),
		Target:    t,
		AgentID:   a.agentID,
		DeviceID:  a.deviceID,
		Version:   a.version,
		Event:     ev,
		Datastore: a.stores[t.ID()],
	})
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if !tk.IsEnabled(resp) {
		a.logger.Debug().Str("task", name).Str("target", t.ID()).
			Msg("task not enabled for this target")
		return nil
	}

	a.setCurrent(tk)
	a.setStatus("running task " + name)
	defer func() {
		a.setCurrent(nil)
		a.setStatus("waiting")
	}()

	err := tk.Run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TaskRuns.WithLabelValues(name, result).Inc()
	if err != nil {
		return err
	}
	if next := tk.NewEvent(); next != nil {
		t.AddEvent(next, true)
	}
	return nil
}

// plannedVersions advertises the planned tasks and their versions during the
// contact handshake.
func plannedVersions(t target.Target) map[string]string {
	versions := task.Versions()
	out := make(map[string]string, len(versions))
	for _, name := range t.PlannedTasks() {
		if v, ok := versions[name]; ok {
			out[name] = v
		}
	}
	return out
}

// clientOptions maps the frozen configuration onto transport options.
func (a *Agent) clientOptions() client.Options {
	cfg := a.config()
	return client.Options{
		Logger:            a.logger,
		UserAgent:         "Burrow-Agent/" + a.version,
		Timeout:           time.Duration(cfg.Timeout) * time.Second,
		Proxy:             cfg.Proxy,
		User:              cfg.User,
		Password:          cfg.Password,
		OAuthClientID:     cfg.OAuthClientID,
		OAuthClientSecret: cfg.OAuthClientSecret,
		NoCompression:     cfg.NoCompression,
		NoSSLCheck:        cfg.NoSSLCheck,
		CACertFile:        cfg.CACertFile,
		CACertDir:         cfg.CACertDir,
		SSLCertFile:       cfg.SSLCertFile,
		SSLKeyFile:        cfg.SSLKeyFile,
		SSLFingerprints:   cfg.SSLFingerprint,
	}
}
