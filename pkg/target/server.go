package target

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"sync"
)

// TaskSupport records what a server advertised for one task during the
// contact handshake.
type TaskSupport struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// Server is a remote inventory server target.
type Server struct {
	*Base

	url *url.URL

	mu           sync.Mutex
	isGlpiServer bool
	taskSupport  map[string]TaskSupport
}

// NewServer creates a server target from a raw URL. The scheme defaults to
// http and the path to /.
func NewServer(rawURL string, params Params) (*Server, error) {
	u, err := canonicalURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Server{
		Base:        newBase(KindServer, params),
		url:         u,
		taskSupport: make(map[string]TaskSupport),
	}, nil
}

func canonicalURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty server URL")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// URL returns the canonicalized server URL.
func (s *Server) URL() *url.URL {
	copied := *s.url
	return &copied
}

// IsGlpiServer reports whether the server answered a GLPI contact handshake.
func (s *Server) IsGlpiServer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isGlpiServer
}

// SetIsGlpiServer records the handshake outcome.
func (s *Server) SetIsGlpiServer(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isGlpiServer = v
}

// SetServerTaskSupport records what the server advertised for a task.
func (s *Server) SetServerTaskSupport(task string, support TaskSupport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskSupport[strings.ToLower(task)] = support
}

// GetTaskSupport returns the advertised support for a task, if any.
func (s *Server) GetTaskSupport(task string) (TaskSupport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	support, ok := s.taskSupport[strings.ToLower(task)]
	return support, ok
}

// DoProlog reports whether any advertised task is served by a legacy
// inventory server that still requires the PROLOG handshake.
func (s *Server) DoProlog() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, support := range s.taskSupport {
		if support.Server != "" && support.Server != "glpi" {
			return true
		}
	}
	return false
}

// StorageSubdir derives the per-target storage directory name from a server
// URL or local path: slashes become underscores, and on Windows colons
// become "..".
func StorageSubdir(identifier string) string {
	sub := strings.ReplaceAll(identifier, "/", "_")
	if runtime.GOOS == "windows" {
		sub = strings.ReplaceAll(sub, ":", "..")
	}
	return sub
}
