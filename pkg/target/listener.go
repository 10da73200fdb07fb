package target

import (
	"sync"
	"time"
)

const (
	// sessionsKey is the storage key for the persisted session table.
	sessionsKey = "Sessions"
	// sessionSaveDebounce batches session writes to disk.
	sessionSaveDebounce = 10 * time.Second
)

// Session is one authenticated remote exchange with the embedded listener.
type Session struct {
	RemoteID string    `json:"remoteid"`
	Nonce    string    `json:"nonce"`
	Expires  time.Time `json:"expires"`
}

// Expired reports whether the session is past its lifetime.
func (s *Session) Expired(now time.Time) bool {
	return !s.Expires.IsZero() && s.Expires.Before(now)
}

// Listener is the singleton target receiving inventories over HTTP instead
// of producing them. It owns the in-memory session table, lazily restored
// from storage and debounced back to disk when touched.
type Listener struct {
	*Base

	mu        sync.Mutex
	sessions  map[string]*Session
	restored  bool
	dirty     bool
	lastSaved time.Time

	inventoryMu   sync.Mutex
	lastInventory []byte
}

// NewListener creates the listener target.
func NewListener(params Params) *Listener {
	return &Listener{
		Base: newBase(KindListener, params),
	}
}

// Session returns the session for a remote id, creating it when absent.
func (l *Listener) Session(remoteID string, lifetime time.Duration) *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restoreLocked()

	now := time.Now()
	if session, ok := l.sessions[remoteID]; ok && !session.Expired(now) {
		return session
	}
	session := &Session{
		RemoteID: remoteID,
		Expires:  now.Add(lifetime),
	}
	l.sessions[remoteID] = session
	l.touchLocked(now)
	return session
}

// SetSessionNonce records the nonce issued to a remote id.
func (l *Listener) SetSessionNonce(remoteID, nonce string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restoreLocked()
	if session, ok := l.sessions[remoteID]; ok {
		session.Nonce = nonce
		l.touchLocked(time.Now())
	}
}

// DeleteSession drops the session for a remote id.
func (l *Listener) DeleteSession(remoteID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restoreLocked()
	if _, ok := l.sessions[remoteID]; ok {
		delete(l.sessions, remoteID)
		l.touchLocked(time.Now())
	}
}

// ScrubSessions discards expired sessions, returning how many were removed.
func (l *Listener) ScrubSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restoreLocked()

	now := time.Now()
	removed := 0
	for id, session := range l.sessions {
		if session.Expired(now) {
			delete(l.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		l.touchLocked(now)
	}
	return removed
}

// FlushSessions forces a pending save to disk, used at shutdown.
func (l *Listener) FlushSessions() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dirty {
		l.saveLocked()
	}
}

// SetLastInventory stores the most recent inventory handed over by the
// inventory task, served back over the embedded HTTP listener.
func (l *Listener) SetLastInventory(data []byte) {
	l.inventoryMu.Lock()
	defer l.inventoryMu.Unlock()
	l.lastInventory = data
}

// LastInventory returns the most recent inventory, or nil.
func (l *Listener) LastInventory() []byte {
	l.inventoryMu.Lock()
	defer l.inventoryMu.Unlock()
	return l.lastInventory
}

// restoreLocked lazily loads the session table, dropping expired entries.
func (l *Listener) restoreLocked() {
	if l.restored {
		return
	}
	l.restored = true
	l.sessions = make(map[string]*Session)

	var stored map[string]*Session
	if l.store == nil {
		return
	}
	ok, err := l.store.Restore(sessionsKey, &stored)
	if err != nil || !ok {
		return
	}
	now := time.Now()
	for id, session := range stored {
		if !session.Expired(now) {
			l.sessions[id] = session
		}
	}
}

// touchLocked marks the table dirty and saves it if the debounce window has
// elapsed. The save happens while holding the map lock.
func (l *Listener) touchLocked(now time.Time) {
	l.dirty = true
	if now.Sub(l.lastSaved) < sessionSaveDebounce {
		return
	}
	l.saveLocked()
}

func (l *Listener) saveLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(sessionsKey, l.sessions); err != nil {
		l.logger.Error().Err(err).Msg("failed to persist listener sessions")
		return
	}
	l.dirty = false
	l.lastSaved = time.Now()
}
