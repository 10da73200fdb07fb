package httpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/datastore"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/target"
)

// maxKeepAliveRequests bounds how many requests one connection may pipeline
// before the server asks it to close.
const maxKeepAliveRequests = 8

// DefaultPort is the main listener port.
const DefaultPort = 62354

var reSHA512 = regexp.MustCompile(`^[0-9a-f]{128}$`)

// Params configures the embedded HTTP server.
type Params struct {
	Logger zerolog.Logger
	IP     string
	Port   int

	// TrustEntries are the configured httpd-trust IPs and networks.
	TrustEntries []string
	// Targets is the shared target arena; server targets extend the trusted
	// set with their resolved addresses.
	Targets []target.Target
	// Datastores are searched by the deploy filepart route.
	Datastores []*datastore.Datastore

	AgentID string
	Version string
	// Status returns the agent status string served on /status.
	Status func() string

	// Plugins overrides the registered plugin set, mainly for tests.
	Plugins []Plugin
	// TLSConfig wraps the main listener when set.
	TLSConfig *tls.Config
}

// Server is the embedded HTTP endpoint: one main listener plus one per plugin
// advertising its own port.
type Server struct {
	logger  zerolog.Logger
	trust   *Trust
	plugins []Plugin

	mu      sync.Mutex
	params  Params
	servers []*http.Server
	stopCh  chan struct{}
	running bool
}

// New builds a server; Init binds the listeners.
func New(params Params) *Server {
	if params.Port == 0 {
		params.Port = DefaultPort
	}
	plugins := params.Plugins
	if plugins == nil {
		plugins = registeredPlugins()
	} else {
		sortPlugins(plugins)
	}
	return &Server{
		logger:  params.Logger.With().Str("component", "httpd").Logger(),
		trust:   NewTrust(params.TrustEntries, params.Logger),
		plugins: plugins,
		params:  params,
	}
}

// Init binds every listener and starts serving. A bind failure is fatal to
// the HTTP server only; the caller decides whether to continue without it.
func (s *Server) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.stopCh = make(chan struct{})

	ports := map[int]bool{s.params.Port: true}
	for _, p := range s.plugins {
		if p.Disabled() {
			continue
		}
		if err := p.Init(s.logger); err != nil {
			s.logger.Error().Err(err).Str("plugin", p.Name()).Msg("plugin init failed")
			continue
		}
		if port := p.Port(); port > 0 && port != s.params.Port {
			ports[port] = true
		}
	}

	for port := range ports {
		addr := net.JoinHostPort(s.params.IP, strconv.Itoa(port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("failed to bind %s: %w", addr, err)
		}
		if s.params.TLSConfig != nil {
			listener = tls.NewListener(listener, s.params.TLSConfig)
		}

		srv := &http.Server{
			Handler:     s.handlerFor(port),
			ReadTimeout: 60 * time.Second,
			ConnContext: newConnContext,
		}
		s.servers = append(s.servers, srv)
		s.logger.Info().Str("addr", addr).Msg("listening")
		go func() {
			if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
				s.logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	s.startTimersLocked()
	s.running = true
	return nil
}

// Stop closes every listener and drains in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.closeLocked()
	s.running = false
}

func (s *Server) closeLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range s.servers {
		srv.Shutdown(ctx)
	}
	s.servers = nil
}

// NeedToRestart reports whether the new parameters require rebinding. When
// they do not, the trust set and target arena are updated in place.
func (s *Server) NeedToRestart(params Params) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Port == 0 {
		params.Port = DefaultPort
	}
	if params.IP != s.params.IP || params.Port != s.params.Port {
		return true
	}
	newPlugins := params.Plugins
	if newPlugins == nil {
		newPlugins = registeredPlugins()
	}
	if len(newPlugins) != len(s.plugins) {
		return true
	}
	for i, p := range newPlugins {
		if p.Disabled() != s.plugins[i].Disabled() || p.Port() != s.plugins[i].Port() {
			return true
		}
	}

	s.trust = NewTrust(params.TrustEntries, params.Logger)
	s.params.Targets = params.Targets
	s.params.TrustEntries = params.TrustEntries
	return false
}

// startTimersLocked runs every plugin's timer loop until Stop.
func (s *Server) startTimersLocked() {
	stop := s.stopCh
	for _, p := range s.plugins {
		if p.Disabled() {
			continue
		}
		plugin := p
		go func() {
			for {
				next := plugin.TimerEvent()
				if next <= 0 {
					return
				}
				select {
				case <-time.After(next):
				case <-stop:
					return
				}
			}
		}()
	}
}

// connRequests counts requests per connection for the keep-alive cap.
type connRequestsKey struct{}

func newConnContext(ctx context.Context, _ net.Conn) context.Context {
	return context.WithValue(ctx, connRequestsKey{}, new(atomic.Int32))
}

func (s *Server) handlerFor(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if counter, ok := r.Context().Value(connRequestsKey{}).(*atomic.Int32); ok {
			if counter.Add(1) >= maxKeepAliveRequests {
				w.Header().Set("Connection", "close")
			}
		}

		addr := peerIP(r.RemoteAddr)
		trusted := addr != nil && s.trust.Trusted(addr, s.serverHosts())

		for _, p := range s.plugins {
			if p.Disabled() {
				continue
			}
			pluginPort := p.Port()
			if pluginPort == 0 {
				pluginPort = s.mainPort()
			}
			if pluginPort != port {
				continue
			}
			if p.Handle(w, r, trusted) {
				return
			}
		}

		if port != s.mainPort() {
			http.NotFound(w, r)
			return
		}
		s.serveBuiltin(w, r, addr, trusted)
	})
}

func (s *Server) mainPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Port
}

func (s *Server) targets() []target.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Targets
}

// serverHosts lists the hostnames of every server target, fed to the trust
// union.
func (s *Server) serverHosts() []string {
	var hosts []string
	for _, t := range s.targets() {
		if srv, ok := t.(*target.Server); ok {
			hosts = append(hosts, srv.URL().Hostname())
		}
	}
	return hosts
}

func (s *Server) serveBuiltin(w http.ResponseWriter, r *http.Request, addr net.IP, trusted bool) {
	switch {
	case r.URL.Path == "/":
		s.serveIndex(w, r, trusted)
	case r.URL.Path == "/status":
		s.serveStatus(w, r)
	case r.URL.Path == "/now":
		s.serveNow(w, r, addr, trusted)
	case r.URL.Path == "/inventory":
		s.serveInventory(w, r, trusted)
	case r.URL.Path == "/metrics":
		promhttp.Handler().ServeHTTP(w, r)
	case len(r.URL.Path) > len("/deploy/getFile/") && r.URL.Path[:len("/deploy/getFile/")] == "/deploy/getFile/":
		s.serveFilePart(w, r)
	default:
		metrics.HTTPRequests.WithLabelValues("other", "404").Inc()
		http.NotFound(w, r)
	}
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Inventory Agent</title></head>
<body>
<h1>This is an inventory agent {{.Version}}</h1>
{{if .Targets}}
<p>Configured targets:</p>
<ul>
{{range .Targets}}<li>{{.}}</li>
{{end}}
</ul>
{{end}}
</body>
</html>
`))

// serveIndex renders the landing page; target details are only disclosed to
// trusted peers.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request, trusted bool) {
	data := struct {
		Version string
		Targets []string
	}{Version: s.params.Version}
	if trusted {
		for _, t := range s.targets() {
			switch v := t.(type) {
			case *target.Server:
				data.Targets = append(data.Targets, v.URL().String())
			case *target.Local:
				data.Targets = append(data.Targets, v.Path())
			default:
				data.Targets = append(data.Targets, t.ID())
			}
		}
	}
	metrics.HTTPRequests.WithLabelValues("index", "200").Inc()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	indexTemplate.Execute(w, data)
}

func (s *Server) serveStatus(w http.ResponseWriter, _ *http.Request) {
	status := "unknown"
	if s.params.Status != nil {
		status = s.params.Status()
	}
	metrics.HTTPRequests.WithLabelValues("status", "200").Inc()
	fmt.Fprintf(w, "status: %s\n", status)
}

// serveNow advances target schedules: a peer trusted by a specific server
// target advances that target, a globally trusted peer advances all of them.
func (s *Server) serveNow(w http.ResponseWriter, r *http.Request, addr net.IP, _ bool) {
	if addr == nil {
		metrics.HTTPRequests.WithLabelValues("now", "403").Inc()
		metrics.TrustDenials.WithLabelValues("now").Inc()
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	if s.trust.TrustedGlobally(addr) {
		for _, t := range s.targets() {
			t.SetNextRunOnExpiration(0)
		}
		s.logger.Info().Str("from", addr.String()).Msg("all targets advanced to now")
		metrics.HTTPRequests.WithLabelValues("now", "200").Inc()
		fmt.Fprintln(w, "OK")
		return
	}

	advanced := false
	for _, t := range s.targets() {
		srv, ok := t.(*target.Server)
		if !ok {
			continue
		}
		if s.trust.TrustedByServer(addr, srv.URL().Hostname()) {
			srv.SetNextRunOnExpiration(0)
			advanced = true
		}
	}
	if !advanced {
		metrics.HTTPRequests.WithLabelValues("now", "403").Inc()
		metrics.TrustDenials.WithLabelValues("now").Inc()
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}
	s.logger.Info().Str("from", addr.String()).Msg("matching target advanced to now")
	metrics.HTTPRequests.WithLabelValues("now", "200").Inc()
	fmt.Fprintln(w, "OK")
}

// serveInventory returns the last inventory handed to the listener target.
func (s *Server) serveInventory(w http.ResponseWriter, r *http.Request, trusted bool) {
	if !trusted {
		metrics.HTTPRequests.WithLabelValues("inventory", "403").Inc()
		metrics.TrustDenials.WithLabelValues("inventory").Inc()
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}
	for _, t := range s.targets() {
		listener, ok := t.(*target.Listener)
		if !ok {
			continue
		}
		if data := listener.LastInventory(); data != nil {
			metrics.HTTPRequests.WithLabelValues("inventory", "200").Inc()
			w.Header().Set("Content-Type", "application/xml")
			w.Write(data)
			return
		}
	}
	metrics.HTTPRequests.WithLabelValues("inventory", "404").Inc()
	http.NotFound(w, r)
}

// serveFilePart streams a deploy filepart matching the requested digest.
func (s *Server) serveFilePart(w http.ResponseWriter, r *http.Request) {
	sha := r.URL.Path[len("/deploy/getFile/"):]
	if !reSHA512.MatchString(sha) {
		metrics.HTTPRequests.WithLabelValues("getFile", "400").Inc()
		http.Error(w, "invalid digest", http.StatusBadRequest)
		return
	}
	for _, ds := range s.params.Datastores {
		if path, ok := ds.FindShared(sha); ok {
			metrics.HTTPRequests.WithLabelValues("getFile", "200").Inc()
			w.Header().Set("Content-Type", "application/octet-stream")
			http.ServeFile(w, r, path)
			return
		}
	}
	metrics.HTTPRequests.WithLabelValues("getFile", "404").Inc()
	http.NotFound(w, r)
}
