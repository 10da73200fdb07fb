package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// set applies one option by its long name. Both the file parser and the CLI
// overlay funnel through here so layering stays uniform.
func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "server":
		c.Server = splitList(value)
	case "local":
		c.Local = splitList(value)
	case "logger":
		c.Logger = splitList(value)
	case "logfile":
		c.LogFile = value
	case "logfile-maxsize":
		c.LogFileMaxSize, err = atoi(key, value)
	case "logfacility":
		c.LogFacility = value
	case "color":
		c.Color, err = parseBool(key, value)
	case "debug":
		c.Debug, err = atoi(key, value)
	case "tag":
		c.Tag = value
	case "delaytime":
		c.DelayTime, err = atoi(key, value)
	case "lazy":
		c.Lazy, err = parseBool(key, value)
	case "force":
		c.Force, err = parseBool(key, value)
	case "wait":
		c.Wait, err = atoi(key, value)
	case "daemon":
		c.Daemon, err = parseBool(key, value)
	case "no-fork":
		c.NoFork, err = parseBool(key, value)
	case "pidfile":
		c.PidFile = value
	case "tasks":
		c.Tasks = splitList(value)
	case "no-task":
		c.NoTask = splitList(value)
	case "no-category":
		c.NoCategory = splitList(value)
	case "required-category":
		c.RequiredCategory = splitList(value)
	case "partial":
		c.Partial = splitList(value)
	case "full":
		c.Full, err = parseBool(key, value)
	case "full-inventory-postpone":
		c.FullInventoryPostpone, err = atoi(key, value)
	case "scan-homedirs":
		c.ScanHomedirs, err = parseBool(key, value)
	case "scan-profiles":
		c.ScanProfiles, err = parseBool(key, value)
	case "html":
		c.HTML, err = parseBool(key, value)
	case "json":
		c.JSON, err = parseBool(key, value)
	case "backend-collect-timeout":
		c.BackendCollectTimeout, err = atoi(key, value)
	case "additional-content":
		c.AdditionalContent = value
	case "assetname-support":
		c.AssetnameSupport, err = atoi(key, value)
	case "itemtype":
		c.ItemType = value
	case "credentials":
		c.Credentials = append(c.Credentials, splitList(value)...)
	case "glpi-version":
		c.GlpiVersion = value
	case "proxy":
		c.Proxy = value
	case "user":
		c.User = value
	case "password":
		c.Password = value
	case "ca-cert-dir":
		c.CACertDir = value
	case "ca-cert-file":
		c.CACertFile = value
	case "ssl-cert-file":
		c.SSLCertFile = value
	case "ssl-key-file":
		c.SSLKeyFile = value
	case "ssl-fingerprint":
		c.SSLFingerprint = splitList(value)
	case "no-ssl-check":
		c.NoSSLCheck, err = parseBool(key, value)
	case "no-compression":
		c.NoCompression, err = parseBool(key, value)
	case "timeout":
		c.Timeout, err = atoi(key, value)
	case "oauth-client-id":
		c.OAuthClientID = value
	case "oauth-client-secret":
		c.OAuthClientSecret = value
	case "no-httpd":
		c.NoHTTPD, err = parseBool(key, value)
	case "httpd-ip":
		c.HTTPDIP = value
	case "httpd-port":
		c.HTTPDPort, err = atoi(key, value)
	case "httpd-trust":
		c.HTTPDTrust = splitList(value)
	case "listen":
		c.Listen, err = parseBool(key, value)
	case "conf-reload-interval":
		c.ConfReloadInterval, err = atoi(key, value)
	case "vardir":
		c.VarDir = value
	case "set-forcerun":
		c.SetForceRun, err = parseBool(key, value)
	default:
		return fmt.Errorf("unknown configuration option %q", key)
	}
	return err
}

// validate applies post-layering rewrites and rejects invalid combinations.
func (c *Config) validate() error {
	// Mutually exclusive options are hard errors.
	if c.CACertFile != "" && c.CACertDir != "" {
		return fmt.Errorf("ca-cert-file and ca-cert-dir are mutually exclusive")
	}
	if len(c.Partial) > 0 && c.Daemon {
		return fmt.Errorf("partial and daemon options are mutually exclusive")
	}
	if len(c.Credentials) > 0 && c.Daemon {
		return fmt.Errorf("credentials and daemon options are mutually exclusive")
	}
	for _, backend := range c.Logger {
		if backend == "file" && c.LogFile == "" {
			return fmt.Errorf("file logger backend requires a logfile")
		}
	}
	if c.HTML && c.JSON {
		return fmt.Errorf("html and json options are mutually exclusive")
	}

	// Path options resolve to absolute.
	for _, path := range []*string{
		&c.VarDir, &c.LogFile, &c.CACertFile, &c.CACertDir,
		&c.SSLCertFile, &c.SSLKeyFile, &c.AdditionalContent, &c.PidFile,
	} {
		if *path == "" {
			continue
		}
		abs, err := filepath.Abs(*path)
		if err == nil {
			*path = abs
		}
	}

	// conf-reload-interval clamps to {0} ∪ [60, ∞).
	switch {
	case c.ConfReloadInterval < 0:
		c.ConfReloadInterval = 0
	case c.ConfReloadInterval > 0 && c.ConfReloadInterval < 60:
		c.ConfReloadInterval = 60
	}

	if c.Timeout <= 0 {
		c.Timeout = 180
	}
	if c.BackendCollectTimeout <= 0 {
		c.BackendCollectTimeout = 180
	}
	if c.AssetnameSupport != 1 && c.AssetnameSupport != 2 {
		return fmt.Errorf("assetname-support must be 1 or 2")
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "", "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q for option %s", value, key)
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q for option %s", value, key)
	}
	return n, nil
}
