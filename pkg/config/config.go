package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Default locations, overridable at build time via ldflags.
var (
	DefaultConfDir = "/etc/burrow-agent"
	DefaultVarDir  = "/var/lib/burrow-agent"
)

// Config is the agent configuration after layering: defaults, then the
// configuration backend (file or registry), then CLI overrides. Once Load
// returns, the struct is treated as frozen.
type Config struct {
	// Targets
	Server []string
	Local  []string

	// Logging
	Logger         []string
	LogFile        string
	LogFileMaxSize int
	LogFacility    string
	Color          bool
	Debug          int

	// Scheduling
	DelayTime          int // initial delay ceiling, seconds
	Lazy               bool
	Force              bool
	Wait               int
	Daemon             bool
	NoFork             bool
	PidFile            string
	ConfReloadInterval int

	// Tasks
	Tasks                 []string
	NoTask                []string
	NoCategory            []string
	RequiredCategory      []string
	Partial               []string
	Full                  bool
	FullInventoryPostpone int
	ScanHomedirs          bool
	ScanProfiles          bool
	HTML                  bool
	JSON                  bool
	BackendCollectTimeout int
	AdditionalContent     string
	AssetnameSupport      int
	ItemType              string
	Credentials           []string
	Tag                   string
	GlpiVersion           string

	// Transport
	Proxy             string
	User              string
	Password          string
	CACertDir         string
	CACertFile        string
	SSLCertFile       string
	SSLKeyFile        string
	SSLFingerprint    []string
	NoSSLCheck        bool
	NoCompression     bool
	Timeout           int
	OAuthClientID     string
	OAuthClientSecret string

	// Embedded HTTP server
	NoHTTPD    bool
	HTTPDIP    string
	HTTPDPort  int
	HTTPDTrust []string
	Listen     bool

	// Paths
	VarDir   string
	ConfFile string

	// One-shot flags
	SetForceRun bool

	// loadedFiles tracks config files already parsed so re-includes are
	// deduplicated and reloads are idempotent.
	loadedFiles map[string]bool
	// infoLog collects messages emitted before the logger exists.
	infoLog []string
}

// New returns a Config populated with every option's default.
func New() *Config {
	return &Config{
		Logger:                []string{"stderr"},
		LogFacility:           "LOG_USER",
		DelayTime:             3600,
		FullInventoryPostpone: 14,
		BackendCollectTimeout: 180,
		AssetnameSupport:      1,
		ItemType:              "Computer",
		Timeout:               180,
		HTTPDPort:             62354,
		VarDir:                DefaultVarDir,
		loadedFiles:           make(map[string]bool),
	}
}

// Options drives Load.
type Options struct {
	// Backend is "file", "registry" or "none"; empty picks the platform
	// default (file everywhere, registry is Windows-only).
	Backend string
	// ConfFile forces the file backend and names the file to read.
	ConfFile string
	// CLI holds parsed command-line overrides, keyed by long option name.
	CLI map[string]string
}

// Load builds the frozen configuration: defaults, backend, CLI overrides,
// then validation.
func Load(opts Options) (*Config, error) {
	cfg := New()

	backend := opts.Backend
	if opts.ConfFile != "" {
		backend = "file"
	}
	if backend == "" {
		backend = "file"
	}

	switch backend {
	case "file":
		file := opts.ConfFile
		if file == "" {
			file = filepath.Join(DefaultConfDir, "agent.cfg")
		}
		if _, err := os.Stat(file); err == nil {
			if err := cfg.LoadFromFile(file); err != nil {
				return nil, err
			}
		} else if opts.ConfFile != "" {
			return nil, fmt.Errorf("config file %s: %w", file, err)
		}
		cfg.ConfFile = file
	case "registry":
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("registry configuration backend is only supported on windows")
		}
		return nil, fmt.Errorf("registry configuration backend not implemented")
	case "none":
	default:
		return nil, fmt.Errorf("unknown configuration backend %q", backend)
	}

	for key, value := range opts.CLI {
		if err := cfg.set(key, value); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InfoMessages returns messages accumulated before logger initialization.
func (c *Config) InfoMessages() []string {
	return c.infoLog
}

func (c *Config) logf(format string, args ...any) {
	c.infoLog = append(c.infoLog, fmt.Sprintf(format, args...))
}
