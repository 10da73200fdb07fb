package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/storage"
)

func loadConfig(t *testing.T, cli map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.Options{Backend: "none", CLI: cli})
	require.NoError(t, err)
	return cfg
}

func TestOneShotLocalJSON(t *testing.T) {
	outDir := t.TempDir()
	cfg := loadConfig(t, map[string]string{
		"local":    outDir,
		"json":     "true",
		"vardir":   t.TempDir(),
		"no-httpd": "true",
	})

	a, err := New(cfg, "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.Equal(t, a.DeviceID()+".json", name)
	assert.True(t, strings.HasSuffix(name, ".json"))

	data, err := os.ReadFile(filepath.Join(outDir, name))
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, a.DeviceID(), msg["deviceid"])

	content, ok := msg["content"].(map[string]any)
	require.True(t, ok)
	hardware, ok := content["hardware"].(map[string]any)
	require.True(t, ok, "hardware section missing")
	assert.NotEmpty(t, hardware["name"])
}

func TestIdentityStableAcrossRestarts(t *testing.T) {
	varDir := t.TempDir()
	cli := map[string]string{
		"local":    t.TempDir(),
		"vardir":   varDir,
		"no-httpd": "true",
	}

	a1, err := New(loadConfig(t, cli), "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)
	a2, err := New(loadConfig(t, cli), "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, a1.DeviceID(), a2.DeviceID())
	assert.Equal(t, a1.AgentID(), a2.AgentID())
	assert.NotEmpty(t, a1.AgentID())
}

func TestForceRunMarkerConsumed(t *testing.T) {
	varDir := t.TempDir()
	cfg := loadConfig(t, map[string]string{
		"local":    t.TempDir(),
		"vardir":   varDir,
		"no-httpd": "true",
	})

	require.NoError(t, SetForceRun(cfg, zerolog.Nop()))

	store, err := storage.New(storage.Params{Directory: varDir, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.True(t, store.Has("forcerun"))

	_, err = New(cfg, "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, store.Has("forcerun"))
}

func TestListenerWithoutDaemonWarns(t *testing.T) {
	var buf bytes.Buffer
	cfg := loadConfig(t, map[string]string{
		"listen": "true",
		"vardir": t.TempDir(),
	})

	a, err := New(cfg, "1.0.0-test", zerolog.New(&buf))
	require.NoError(t, err)
	require.Len(t, a.Targets(), 1)
	assert.Contains(t, buf.String(), "listener target without --daemon")
}

func TestNoTargetConfigured(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"vardir":   t.TempDir(),
		"no-httpd": "true",
	})
	_, err := New(cfg, "1.0.0-test", zerolog.Nop())
	assert.ErrorContains(t, err, "no target configured")
}

func TestPlannedTasks(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"local":    t.TempDir(),
		"vardir":   t.TempDir(),
		"no-httpd": "true",
		"no-task":  "maintenance",
	})
	a, err := New(cfg, "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, a.Targets(), 1)
	assert.Equal(t, []string{"inventory"}, a.Targets()[0].PlannedTasks())
	assert.Equal(t, "waiting", a.Status())
}

func TestReloadSwapsConfigKeepsTargets(t *testing.T) {
	varDir := t.TempDir()
	outDir := t.TempDir()
	cli := map[string]string{
		"local":    outDir,
		"vardir":   varDir,
		"no-httpd": "true",
	}
	a, err := New(loadConfig(t, cli), "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)

	cli["tag"] = "dc-9"
	a.SetReloader(func() (*config.Config, error) {
		return config.Load(config.Options{Backend: "none", CLI: cli})
	})
	a.reloadConfig()

	assert.Equal(t, "dc-9", a.config().Tag)
	require.Len(t, a.Targets(), 1)
}

func TestOneShotServerContactAndSubmit(t *testing.T) {
	var contacts, inventories int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.Header().Set("Content-Type", "application/json")
		switch msg["action"] {
		case "contact":
			contacts++
			w.Write([]byte(`{"status":"ok","tasks":{"inventory":{"version":"1.0","server":"glpi"}},"expiration":3600}`))
		case "inventory":
			inventories++
			w.Write([]byte(`{"status":"ok"}`))
		default:
			t.Errorf("unexpected action %v", msg["action"])
			w.Write([]byte(`{"status":"error"}`))
		}
	}))
	defer ts.Close()

	cfg := loadConfig(t, map[string]string{
		"server":         ts.URL,
		"vardir":         t.TempDir(),
		"no-httpd":       "true",
		"no-compression": "true",
		"no-task":        "maintenance",
	})

	a, err := New(cfg, "1.0.0-test", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, 1, contacts)
	assert.Equal(t, 1, inventories)
}
