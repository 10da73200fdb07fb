package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/task"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Some init systems start services with an empty environment.
	if os.Getenv("PATH") == "" {
		os.Setenv("PATH", "/sbin:/usr/sbin:/usr/local/sbin:/bin:/usr/bin:/usr/local/bin")
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow-agent",
	Short: "Burrow - inventory and fleet management agent",
	Long: `Burrow collects hardware, software and network inventory from the
machine it runs on and submits it to GLPI-compatible servers, legacy
XML inventory servers, local files, or its own embedded HTTP endpoint.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow Agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	f := rootCmd.Flags()

	// Targets
	f.StringP("server", "s", "", "comma-separated server URLs to report to")
	f.StringP("local", "l", "", "comma-separated directories or files to write inventories to")

	// Scheduling
	f.Int("delaytime", 3600, "maximum delay between target runs, in seconds")
	f.Bool("lazy", false, "respect the persisted schedule, skip targets not due yet")
	f.BoolP("force", "f", false, "run now regardless of the persisted schedule")
	f.Bool("set-forcerun", false, "mark the next agent start to run immediately, then exit")
	f.IntP("wait", "w", 0, "random delay before the first run, up to N seconds")
	f.BoolP("daemon", "d", false, "run continuously as a daemon")
	f.Bool("no-fork", false, "stay in the foreground in daemon mode")
	f.String("pidfile", "", "write the daemon pid to this file")
	f.Int("conf-reload-interval", 0, "reload the configuration every N seconds (minimum 60)")

	// Tasks
	f.String("tasks", "", "comma-separated task plan, \"...\" expands to the remaining tasks")
	f.String("no-task", "", "comma-separated tasks to disable")
	f.Bool("list-tasks", false, "list available tasks and exit")
	f.String("no-category", "", "comma-separated inventory categories to skip")
	f.String("required-category", "", "comma-separated categories always submitted in full")
	f.Bool("list-categories", false, "list inventory categories and exit")
	f.String("partial", "", "submit a partial inventory restricted to these categories")
	f.Bool("full", false, "force a full inventory submission")
	f.Int("full-inventory-postpone", 14, "partial submissions allowed before a forced full one")
	f.Bool("scan-homedirs", false, "let probes scan user home directories")
	f.Bool("scan-profiles", false, "let probes scan user profiles")
	f.Bool("html", false, "write local inventories as HTML")
	f.Bool("json", false, "write local inventories as JSON")
	f.Int("backend-collect-timeout", 180, "per-probe timeout in seconds")
	f.String("additional-content", "", "XML, JSON or YAML file merged into the inventory")
	f.Int("assetname-support", 1, "1 = short hostname, 2 = fully qualified hostname")
	f.String("itemtype", "", "GLPI item type of the generated inventory")
	f.String("credentials", "", "extra credentials handed to probes")
	f.String("glpi-version", "", "assume this GLPI server version")
	f.StringP("tag", "t", "", "tag attached to every submission")

	// Transport
	f.StringP("proxy", "P", "", "proxy URL for server connections")
	f.StringP("user", "u", "", "basic authentication user")
	f.StringP("password", "p", "", "basic authentication password")
	f.String("oauth-client-id", "", "OAuth2 client id for GLPI token authentication")
	f.String("oauth-client-secret", "", "OAuth2 client secret")
	f.String("ca-cert-dir", "", "directory of CA certificates")
	f.String("ca-cert-file", "", "CA certificate bundle file")
	f.String("ssl-cert-file", "", "client TLS certificate")
	f.String("ssl-key-file", "", "client TLS key")
	f.String("ssl-fingerprint", "", "pinned server certificate sha256 fingerprints")
	f.Bool("no-ssl-check", false, "skip server certificate verification")
	f.BoolP("no-compression", "C", false, "disable request compression")
	f.Int("timeout", 180, "HTTP timeout in seconds")

	// Embedded HTTP server
	f.Bool("no-httpd", false, "disable the embedded HTTP server")
	f.String("httpd-ip", "", "IP the embedded HTTP server binds to")
	f.Int("httpd-port", 62354, "port of the embedded HTTP server")
	f.String("httpd-trust", "", "comma-separated IPs and networks trusted without question")
	f.Bool("listen", false, "keep the last inventory available on the embedded server")

	// Logging
	f.String("logger", "", "comma-separated log sinks: stderr, file, syslog")
	f.String("logfile", "", "log file path for the file sink")
	f.Int("logfile-maxsize", 0, "log file rotation size in megabytes")
	f.String("logfacility", "LOG_USER", "syslog facility")
	f.Bool("color", false, "colorize stderr logging")
	f.Count("debug", "raise verbosity, repeatable")

	// Paths and configuration
	f.String("config", "", "configuration backend: file, registry or none")
	f.String("conf-file", "", "configuration file to read")
	f.String("vardir", "", "writable state directory")
	f.Bool("setup", false, "print the agent directories and exit")
}

// passthrough names flags consumed before config layering.
var passthrough = map[string]bool{
	"config":          true,
	"conf-file":       true,
	"list-tasks":      true,
	"list-categories": true,
	"setup":           true,
}

func runAgent(cmd *cobra.Command, _ []string) error {
	if list, _ := cmd.Flags().GetBool("list-tasks"); list {
		for _, name := range task.SortedNames() {
			fmt.Println(name)
		}
		return nil
	}
	if list, _ := cmd.Flags().GetBool("list-categories"); list {
		for _, category := range inventory.Categories() {
			fmt.Println(category)
		}
		return nil
	}

	cli := make(map[string]string)
	var backend, confFile string
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "config":
			backend = flag.Value.String()
		case "conf-file":
			confFile = flag.Value.String()
		default:
			if !passthrough[flag.Name] {
				cli[flag.Name] = flag.Value.String()
			}
		}
	})

	loadOptions := config.Options{
		Backend:  backend,
		ConfFile: confFile,
		CLI:      cli,
	}
	cfg, err := config.Load(loadOptions)
	if err != nil {
		return err
	}

	if setup, _ := cmd.Flags().GetBool("setup"); setup {
		fmt.Printf("Configuration directory: %s\n", config.DefaultConfDir)
		fmt.Printf("Configuration file: %s\n", cfg.ConfFile)
		fmt.Printf("State directory: %s\n", cfg.VarDir)
		return nil
	}

	if err := log.Init(log.Config{
		Backends:       cfg.Logger,
		Debug:          cfg.Debug,
		Color:          cfg.Color,
		LogFile:        cfg.LogFile,
		LogFileMaxSize: cfg.LogFileMaxSize,
		LogFacility:    cfg.LogFacility,
	}); err != nil {
		return err
	}
	for _, msg := range cfg.InfoMessages() {
		log.Info(msg)
	}

	if cfg.SetForceRun {
		if err := agent.SetForceRun(cfg, log.Logger); err != nil {
			return err
		}
		log.Info("next agent run will start immediately")
		return nil
	}

	if cfg.Daemon && cfg.PidFile != "" {
		pid := strconv.Itoa(os.Getpid())
		if err := os.WriteFile(cfg.PidFile, []byte(pid+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write pidfile: %w", err)
		}
		defer os.Remove(cfg.PidFile)
	}

	a, err := agent.New(cfg, Version, log.Logger)
	if err != nil {
		return err
	}
	a.SetReloader(func() (*config.Config, error) {
		return config.Load(loadOptions)
	})
	return a.Run(context.Background())
}
