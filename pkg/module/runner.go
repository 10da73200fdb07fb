package module

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCollectTimeout bounds each probe call when no explicit timeout is
// configured.
const DefaultCollectTimeout = 180 * time.Second

// Runner executes a set of probes in dependency order, each check and collect
// call bounded by the collect timeout. A timed-out or panicking probe is
// skipped; only a dependency cycle fails the whole run.
type Runner struct {
	logger  zerolog.Logger
	timeout time.Duration
	abort   *atomic.Bool
}

// RunnerParams configures a Runner.
type RunnerParams struct {
	Logger  zerolog.Logger
	Timeout time.Duration
	// Abort is the shared termination flag, checked between probes.
	Abort *atomic.Bool
}

// NewRunner creates a probe runner.
func NewRunner(params RunnerParams) *Runner {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = DefaultCollectTimeout
	}
	abort := params.Abort
	if abort == nil {
		abort = new(atomic.Bool)
	}
	return &Runner{
		logger:  params.Logger.With().Str("component", "module").Logger(),
		timeout: timeout,
		abort:   abort,
	}
}

// Run resolves the enabled probes among modules and executes them in
// dependency order against params.
func (r *Runner) Run(ctx context.Context, modules []Module, params *Params) error {
	enabled := r.resolveEnabled(ctx, modules, params)
	order, err := planOrder(enabled)
	if err != nil {
		return err
	}

	for _, m := range order {
		if r.abort.Load() {
			r.logger.Info().Msg("aborting probe run")
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Debug().Str("module", m.Name).Msg("running probe")
		start := time.Now()
		err := r.bounded(ctx, m.Name, "collect", func(ctx context.Context) error {
			return m.Collect(ctx, params)
		})
		if err != nil {
			r.logger.Info().Err(err).Str("module", m.Name).Msg("probe failed, skipping")
			continue
		}
		r.logger.Debug().Str("module", m.Name).
			Dur("elapsed", time.Since(start)).Msg("probe done")
	}
	return nil
}

// bounded runs fn under the collect timeout, recovering panics. On timeout
// the probe goroutine is left to finish on its own; probes are expected to
// honor their context promptly.
func (r *Runner) bounded(ctx context.Context, name, phase string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- fmt.Errorf("probe panic: %v", v)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("probe %s %s timed out after %s", name, phase, r.timeout)
	}
}
