package module

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectInto(order *[]string, name string) func(context.Context, *Params) error {
	return func(context.Context, *Params) error {
		*order = append(*order, name)
		return nil
	}
}

func newTestRunner(timeout time.Duration) *Runner {
	return NewRunner(RunnerParams{Logger: zerolog.Nop(), Timeout: timeout})
}

func TestRunAlphabeticalAmongPeers(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "zeta", Collect: collectInto(&order, "zeta")},
		{Name: "alpha", Collect: collectInto(&order, "alpha")},
		{Name: "mike", Collect: collectInto(&order, "mike")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mike", "zeta"}, order)
}

func TestRunHonorsRunAfter(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "alpha", RunAfter: []string{"zeta"}, Collect: collectInto(&order, "alpha")},
		{Name: "zeta", Collect: collectInto(&order, "zeta")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, order)
}

func TestRunAfterMissingDisablesModule(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "alpha", RunAfter: []string{"ghost"}, Collect: collectInto(&order, "alpha")},
		{Name: "beta", RunAfter: []string{"alpha"}, Collect: collectInto(&order, "beta")},
		{Name: "zeta", Collect: collectInto(&order, "zeta")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	// alpha drops out, beta cascades out with it.
	assert.Equal(t, []string{"zeta"}, order)
}

func TestRunAfterIfEnabledOnlyOrders(t *testing.T) {
	var order []string
	disabled := func(context.Context, *Params) bool { return false }
	modules := []Module{
		{Name: "alpha", RunAfterIfEnabled: []string{"zeta"}, Collect: collectInto(&order, "alpha")},
		{Name: "zeta", Enabled: disabled, Collect: collectInto(&order, "zeta")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, order, "soft predecessor being disabled must not disable the module")
}

func TestFallbackModule(t *testing.T) {
	tests := []struct {
		name           string
		primaryEnabled bool
		want           []string
	}{
		{"primary enabled", true, []string{"primary"}},
		{"primary disabled", false, []string{"fallback"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			modules := []Module{
				{
					Name:    "primary",
					Enabled: func(context.Context, *Params) bool { return tt.primaryEnabled },
					Collect: collectInto(&order, "primary"),
				},
				{
					Name:        "fallback",
					FallbackFor: []string{"primary"},
					Collect:     collectInto(&order, "fallback"),
				},
			}
			err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)
		})
	}
}

func TestDisabledCategorySkipsModule(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "cpu", Category: "cpu", Collect: collectInto(&order, "cpu")},
		{Name: "users", Category: "user", Collect: collectInto(&order, "users")},
	}
	params := &Params{DisabledCategories: map[string]bool{"cpu": true}}

	err := newTestRunner(time.Second).Run(context.Background(), modules, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, order)
}

func TestDependencyCycleIsFatal(t *testing.T) {
	modules := []Module{
		{Name: "alpha", RunAfter: []string{"beta"}, Collect: collectInto(new([]string), "alpha")},
		{Name: "beta", RunAfter: []string{"alpha"}, Collect: collectInto(new([]string), "beta")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestTimedOutModuleIsSkipped(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "slow", Collect: func(ctx context.Context, _ *Params) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "zippy", Collect: collectInto(&order, "zippy")},
	}

	err := newTestRunner(50 * time.Millisecond).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"zippy"}, order)
}

func TestPanickingModuleIsSkipped(t *testing.T) {
	var order []string
	modules := []Module{
		{Name: "broken", Collect: func(context.Context, *Params) error { panic("boom") }},
		{Name: "fine", Collect: collectInto(&order, "fine")},
	}

	err := newTestRunner(time.Second).Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fine"}, order)
}

func TestAbortStopsBetweenModules(t *testing.T) {
	var abort atomic.Bool
	var order []string
	runner := NewRunner(RunnerParams{Logger: zerolog.Nop(), Timeout: time.Second, Abort: &abort})

	modules := []Module{
		{Name: "first", Collect: func(context.Context, *Params) error {
			order = append(order, "first")
			abort.Store(true)
			return nil
		}},
		{Name: "second", Collect: collectInto(&order, "second")},
	}

	err := runner.Run(context.Background(), modules, &Params{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, order)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	Register(Module{Name: "dup-test-probe"})
	assert.Panics(t, func() { Register(Module{Name: "dup-test-probe"}) })

	m, ok := Lookup("dup-test-probe")
	require.True(t, ok)
	assert.Equal(t, "dup-test-probe", m.Name)
}
