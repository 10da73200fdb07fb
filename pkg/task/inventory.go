package task

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/event"
	"github.com/cuemby/burrow/pkg/inventory"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/module"
	"github.com/cuemby/burrow/pkg/proto"
	"github.com/cuemby/burrow/pkg/target"
)

func init() {
	Register("inventory", "1.0", func(params Params) Task {
		return &InventoryTask{
			params: params,
			logger: params.Logger.With().Str("task", "inventory").Logger(),
		}
	})
}

// partialCache keeps the BIOS and HARDWARE records of the last full probe run
// per target, so partial runs can skip recomputing them.
var partialCache = struct {
	sync.Mutex
	entries map[string]cachedSections
}{entries: make(map[string]cachedSections)}

type cachedSections struct {
	bios     inventory.Record
	hardware inventory.Record
}

// InventoryTask drives the probes and submits the resulting document to its
// target.
type InventoryTask struct {
	params Params
	logger zerolog.Logger
	abort  atomic.Bool
}

func (t *InventoryTask) Name() string { return "inventory" }

// IsEnabled is true for local and listener targets unconditionally; against a
// GLPI server the contact response must advertise inventory support.
func (t *InventoryTask) IsEnabled(resp *proto.Response) bool {
	srv, ok := t.params.Target.(*target.Server)
	if !ok {
		return true
	}
	if resp == nil || !srv.IsGlpiServer() {
		return true
	}
	support, ok := resp.Tasks["inventory"]
	if ok {
		srv.SetServerTaskSupport("inventory", target.TaskSupport{
			Server:  support.Server,
			Version: support.Version,
		})
	}
	return ok
}

func (t *InventoryTask) Abort() { t.abort.Store(true) }

// NewEvent never queues a follow-up for plain inventory runs.
func (t *InventoryTask) NewEvent() *event.Event { return nil }

// Run implements the inventory pipeline: decide full versus partial, run the
// probes, merge additional content, apply change suppression, and submit.
func (t *InventoryTask) Run(ctx context.Context) error {
	cfg := t.params.Config

	full, partial, partialCategories := t.runMode()

	disabled := make(map[string]bool)
	for _, category := range cfg.NoCategory {
		disabled[category] = true
	}
	if partial && len(partialCategories) > 0 {
		keep, err := narrowCategories(partialCategories)
		if err != nil {
			return err
		}
		for _, category := range inventory.Categories() {
			if !keep[category] {
				disabled[category] = true
			}
		}
	}

	serverVersion := t.serverVersion()

	doc := inventory.New(inventory.Params{
		DeviceID:           t.params.DeviceID,
		ItemType:           cfg.ItemType,
		Tag:                cfg.Tag,
		GlpiVersion:        serverVersion,
		RequiredCategories: cfg.RequiredCategory,
		Logger:             t.logger,
	})

	cacheUsed := false
	if partial {
		if cached, ok := loadPartialCache(t.params.Target.ID()); ok {
			doc.SetBios(cached.bios)
			doc.SetHardware(cached.hardware)
			disabled["bios"] = true
			disabled["hardware"] = true
			cacheUsed = true
		}
	}

	timeout := time.Duration(cfg.BackendCollectTimeout) * time.Second
	runner := module.NewRunner(module.RunnerParams{
		Logger:  t.logger,
		Timeout: timeout,
		Abort:   &t.abort,
	})
	err := runner.Run(ctx, module.All(), &module.Params{
		Logger:             t.logger,
		Inventory:          doc,
		AgentID:            t.params.AgentID,
		Tag:                cfg.Tag,
		DisabledCategories: disabled,
		ScanHomedirs:       cfg.ScanHomedirs,
		ScanProfiles:       cfg.ScanProfiles,
		AssetnameSupport:   cfg.AssetnameSupport,
		Credentials:        cfg.Credentials,
	})
	if err != nil {
		return err
	}

	if !cacheUsed {
		storePartialCache(t.params.Target.ID(), doc)
	}

	if cfg.AdditionalContent != "" {
		if err := mergeAdditionalContent(doc, cfg.AdditionalContent); err != nil {
			return fmt.Errorf("failed to merge additional content: %w", err)
		}
	}

	if doc.Empty() {
		return fmt.Errorf("refusing to submit an empty inventory")
	}

	if srv, ok := t.params.Target.(*target.Server); ok {
		stateFile := filepath.Join(srv.Storage().Directory(), "last_state.json")
		err := doc.ComputeChecksum(inventory.ChecksumOptions{
			StateFile: stateFile,
			Postpone:  cfg.FullInventoryPostpone,
			Full:      full,
			Partial:   partial,
		})
		if err != nil {
			return fmt.Errorf("failed to compute inventory checksum: %w", err)
		}
	} else if partial {
		doc.SetPartial(true)
	}

	if err := t.submit(ctx, doc, serverVersion); err != nil {
		return err
	}

	kind := "full"
	if doc.IsPartial() {
		kind = "partial"
	}
	metrics.Submissions.WithLabelValues(kind).Inc()
	return nil
}

// runMode folds the triggering event and the configuration into the
// full/partial decision.
func (t *InventoryTask) runMode() (full, partial bool, categories []string) {
	cfg := t.params.Config
	full = cfg.Full

	if ev := t.params.Event; ev != nil {
		switch ev.Type {
		case event.TaskRun:
			full = full || ev.Full
			partial = ev.Partial
		case event.Partial:
			partial = true
			categories = strings.Split(ev.Categories, ",")
		}
		return full, partial, categories
	}

	if len(cfg.Partial) > 0 {
		partial = true
		categories = cfg.Partial
	}
	return full, partial, categories
}

// narrowCategories validates a partial category request against the known
// category map. Software implies the OS category so the server can rebind
// software entries.
func narrowCategories(requested []string) (map[string]bool, error) {
	keep := make(map[string]bool)
	for _, category := range requested {
		if inventory.SectionsForCategory(category) == nil {
			continue
		}
		keep[category] = true
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("no valid category in partial inventory request: %v", requested)
	}
	if keep["software"] {
		keep["os"] = true
	}
	return keep, nil
}

func (t *InventoryTask) serverVersion() string {
	if v := t.params.Config.GlpiVersion; v != "" {
		return v
	}
	if srv, ok := t.params.Target.(*target.Server); ok {
		if support, ok := srv.GetTaskSupport("inventory"); ok {
			return support.Version
		}
	}
	return ""
}

// submit hands the document to the target: file write for local targets,
// in-memory handoff for the listener, JSON or legacy XML for servers.
func (t *InventoryTask) submit(ctx context.Context, doc *inventory.Inventory, serverVersion string) error {
	switch tgt := t.params.Target.(type) {
	case *target.Local:
		path, err := doc.Save(tgt.Path(), inventory.Format(tgt.Format()))
		if err != nil {
			return err
		}
		t.logger.Info().Str("path", path).Msg("inventory saved")
		return nil

	case *target.Listener:
		data, err := doc.XML()
		if err != nil {
			return err
		}
		tgt.SetLastInventory(data)
		t.logger.Info().Msg("inventory handed to listener")
		return nil

	case *target.Server:
		opts := clientOptions(t.params.Config, t.logger, t.params.Version)
		serverURL := tgt.URL().String()
		if tgt.IsGlpiServer() {
			msg := doc.Envelope(serverVersion)
			if err := proto.ValidateInventory(msg); err != nil {
				return err
			}
			glpi, err := client.NewGLPI(opts, t.params.AgentID)
			if err != nil {
				return err
			}
			if _, err := glpi.Send(ctx, serverURL, msg, nil); err != nil {
				return err
			}
			t.logger.Info().Str("server", serverURL).Msg("inventory submitted")
			return nil
		}

		data, err := doc.XML()
		if err != nil {
			return err
		}
		ocs, err := client.NewOCS(opts, t.params.DeviceID)
		if err != nil {
			return err
		}
		if err := ocs.SendInventory(ctx, serverURL, data); err != nil {
			return err
		}
		t.logger.Info().Str("server", serverURL).Msg("inventory submitted over legacy protocol")
		return nil

	default:
		return fmt.Errorf("unsupported target kind %s", t.params.Target.Kind())
	}
}

// clientOptions maps the agent configuration onto transport options.
func clientOptions(cfg *config.Config, logger zerolog.Logger, version string) client.Options {
	return client.Options{
		Logger:            logger,
		UserAgent:         "Burrow-Agent/" + version,
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

func loadPartialCache(targetID string) (cachedSections, bool) {
	partialCache.Lock()
	defer partialCache.Unlock()
	cached, ok := partialCache.entries[targetID]
	return cached, ok
}

func storePartialCache(targetID string, doc *inventory.Inventory) {
	var cached cachedSections
	if records := doc.GetSection("BIOS"); len(records) > 0 {
		cached.bios = copyRecord(records[0])
	}
	if records := doc.GetSection("HARDWARE"); len(records) > 0 {
		cached.hardware = copyRecord(records[0])
	}
	if cached.bios == nil && cached.hardware == nil {
		return
	}
	partialCache.Lock()
	defer partialCache.Unlock()
	partialCache.entries[targetID] = cached
}

func copyRecord(record inventory.Record) inventory.Record {
	out := make(inventory.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}
