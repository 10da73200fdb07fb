package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/target"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(Options{Backend: "none"})
	require.NoError(t, err)

	assert.Equal(t, []string{"stderr"}, cfg.Logger)
	assert.Equal(t, 62354, cfg.HTTPDPort)
	assert.Equal(t, 180, cfg.Timeout)
	assert.Equal(t, 180, cfg.BackendCollectTimeout)
	assert.Equal(t, 14, cfg.FullInventoryPostpone)
	assert.Equal(t, "Computer", cfg.ItemType)
}

func TestFileParser(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.cfg", `
# main configuration
server = https://glpi.example.com/
tag = "production"
logger = stderr,file
logfile = 'agent.log'
debug = 2
httpd-trust = 192.168.0.0/24, 10.0.0.1
no-ssl-check = 1
`)

	cfg, err := Load(Options{ConfFile: path})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://glpi.example.com/"}, cfg.Server)
	assert.Equal(t, "production", cfg.Tag)
	assert.Equal(t, []string{"stderr", "file"}, cfg.Logger)
	assert.Equal(t, 2, cfg.Debug)
	assert.Equal(t, []string{"192.168.0.0/24", "10.0.0.1"}, cfg.HTTPDTrust)
	assert.True(t, cfg.NoSSLCheck)
	// Paths resolve to absolute.
	assert.True(t, filepath.IsAbs(cfg.LogFile))
}

func TestIncludeFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	confD := filepath.Join(dir, "conf.d")
	require.NoError(t, os.MkdirAll(confD, 0o755))

	writeFile(t, confD, "10-server.cfg", "server = http://first/\n")
	writeFile(t, confD, "20-tag.cfg", "tag = from-confd\n")
	writeFile(t, dir, "extra.cfg", "timeout = 60\n")
	main := writeFile(t, dir, "agent.cfg", `
include conf.d
include extra.cfg
include missing.cfg
`)

	cfg, err := Load(Options{ConfFile: main})
	require.NoError(t, err)

	assert.Equal(t, []string{"http://first/"}, cfg.Server)
	assert.Equal(t, "from-confd", cfg.Tag)
	assert.Equal(t, 60, cfg.Timeout)
}

func TestReloadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.cfg", "tag = once\n")

	cfg := New()
	require.NoError(t, cfg.LoadFromFile(path))
	first := cfg.Tag

	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, first, cfg.Tag)
	// The second load reports the file as already loaded.
	assert.Contains(t, cfg.InfoMessages()[len(cfg.InfoMessages())-1], "already loaded")
}

func TestIncludeDeduplication(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "loop.cfg", "include agent.cfg\ncredentials = login:admin\n")
	main := writeFile(t, dir, "agent.cfg", "include loop.cfg\n")

	cfg, err := Load(Options{ConfFile: main})
	require.NoError(t, err)
	// The re-include of agent.cfg is skipped, credentials applied once.
	assert.Equal(t, []string{"login:admin"}, cfg.Credentials)
}

func TestMutuallyExclusiveOptions(t *testing.T) {
	tests := []struct {
		name string
		cli  map[string]string
	}{
		{"ca-cert-file vs ca-cert-dir", map[string]string{"ca-cert-file": "/a", "ca-cert-dir": "/b"}},
		{"partial vs daemon", map[string]string{"partial": "cpu", "daemon": "1"}},
		{"credentials vs daemon", map[string]string{"credentials": "a:b", "daemon": "1"}},
		{"file logger without logfile", map[string]string{"logger": "file"}},
		{"html vs json", map[string]string{"html": "1", "json": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{Backend: "none", CLI: tt.cli})
			assert.Error(t, err)
		})
	}
}

func TestConfReloadIntervalClamping(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"0", 0},
		{"-5", 0},
		{"30", 60},
		{"60", 60},
		{"3600", 3600},
	}

	for _, tt := range tests {
		cfg, err := Load(Options{Backend: "none", CLI: map[string]string{"conf-reload-interval": tt.in}})
		require.NoError(t, err)
		assert.Equal(t, tt.want, cfg.ConfReloadInterval, "input %s", tt.in)
	}
}

func TestUnknownOptionRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.cfg", "no-such-option = 1\n")
	_, err := Load(Options{ConfFile: path})
	assert.Error(t, err)
}

func TestTargetSpecsOrdering(t *testing.T) {
	cfg, err := Load(Options{Backend: "none", CLI: map[string]string{
		"local":  "/out,-",
		"server": "http://a/,http://b/",
		"json":   "1",
	}})
	require.NoError(t, err)

	specs := cfg.TargetSpecs()
	require.Len(t, specs, 4)
	assert.Equal(t, "local0", specs[0].ID)
	assert.Equal(t, target.FormatJSON, specs[0].Format)
	assert.Equal(t, "local1", specs[1].ID)
	assert.Equal(t, "-", specs[1].Path)
	assert.Equal(t, "server0", specs[2].ID)
	assert.Equal(t, "http://a/", specs[2].URL)
	assert.Equal(t, "server1", specs[3].ID)
}

func TestListenerOnlyWhenNothingElse(t *testing.T) {
	cfg, err := Load(Options{Backend: "none", CLI: map[string]string{"listen": "1"}})
	require.NoError(t, err)
	specs := cfg.TargetSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, target.KindListener, specs[0].Kind)

	// A configured server suppresses the implicit listener.
	cfg, err = Load(Options{Backend: "none", CLI: map[string]string{"listen": "1", "server": "http://a/"}})
	require.NoError(t, err)
	specs = cfg.TargetSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, target.KindServer, specs[0].Kind)

	// Disabling the HTTP server suppresses it too.
	cfg, err = Load(Options{Backend: "none", CLI: map[string]string{"listen": "1", "no-httpd": "1"}})
	require.NoError(t, err)
	assert.Empty(t, cfg.TargetSpecs())
}
