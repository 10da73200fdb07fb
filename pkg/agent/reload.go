package agent

import (
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/httpd"
)

// reloadConfig re-runs the configuration layering and applies what can change
// without a restart: everything except the target list and the daemon flags.
func (a *Agent) reloadConfig() {
	newCfg, err := a.reload()
	if err != nil {
		a.logger.Warn().Err(err).Msg("config reload failed, keeping previous configuration")
		return
	}

	old := a.config()
	if !equalSpecs(old.TargetSpecs(), newCfg.TargetSpecs()) {
		a.logger.Warn().Msg("target changes require an agent restart, keeping previous targets")
	}

	a.mu.Lock()
	a.cfg = newCfg
	a.mu.Unlock()

	if newCfg.DelayTime != old.DelayTime && newCfg.DelayTime > 0 {
		maxDelay := time.Duration(newCfg.DelayTime) * time.Second
		for _, t := range a.targets {
			t.SetMaxDelay(maxDelay)
		}
	}

	if server := a.currentHTTPD(); server != nil {
		params := a.httpdParams(newCfg)
		if server.NeedToRestart(params) {
			server.Stop()
			server = httpd.New(params)
			a.mu.Lock()
			a.httpd = server
			a.mu.Unlock()
			if err := server.Init(); err != nil {
				a.logger.Error().Err(err).Msg("embedded http server disabled after reload")
			}
		}
	}

	a.logger.Info().Msg("configuration reloaded")
}

func (a *Agent) httpdParams(cfg *config.Config) httpd.Params {
	return httpd.Params{
		Logger:       a.logger,
		IP:           cfg.HTTPDIP,
		Port:         cfg.HTTPDPort,
		TrustEntries: cfg.HTTPDTrust,
		Targets:      a.targets,
		Datastores:   a.datastores(),
		AgentID:      a.agentID,
		Version:      a.version,
		Status:       a.Status,
	}
}

func equalSpecs(a, b []config.TargetSpec) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
