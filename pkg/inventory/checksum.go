package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// sectionDigest records the canonical serialization of one section in the
// last-state blob.
type sectionDigest struct {
	Len    int    `json:"len"`
	Digest string `json:"digest"`
}

// lastState is the per-target blob persisted between runs.
type lastState struct {
	Sections      map[string]sectionDigest `json:"sections"`
	PostponeCount int                      `json:"_postpone_count"`
}

// ChecksumOptions drives ComputeChecksum.
type ChecksumOptions struct {
	// StateFile is the last-state blob path (last_state.json or
	// last_remote_state-<id>.json).
	StateFile string
	// Postpone is the maximum number of consecutive partial submissions
	// before a full one is forced; 0 disables change suppression.
	Postpone int
	// Full forces a full submission and resets the postpone counter.
	Full bool
	// Partial marks a caller-forced partial: the submission stays partial
	// even past the postpone maximum, pushing the counter beyond it so the
	// next regular run goes full.
	Partial bool
}

// ComputeChecksum compares every checked section against the last-state
// blob, drops unchanged sections from a partial submission, and persists the
// updated blob. Always-kept sections (BIOS, HARDWARE) and sections covered
// by required categories survive regardless.
func (i *Inventory) ComputeChecksum(opts ChecksumOptions) error {
	state, err := loadState(opts.StateFile)
	if err != nil {
		i.logger.Debug().Err(err).Msg("starting from empty last state")
		state = &lastState{}
	}
	if state.Sections == nil {
		state.Sections = make(map[string]sectionDigest)
	}

	forceFull := opts.Full
	if !forceFull && !opts.Partial && opts.Postpone > 0 && state.PostponeCount >= opts.Postpone {
		i.logger.Info().Int("count", state.PostponeCount).
			Msg("postpone limit reached, sending full inventory")
		forceFull = true
	}

	names := i.SectionNames()
	changed := make(map[string]bool, len(names))
	digests := make(map[string]sectionDigest, len(names))
	for _, section := range names {
		digest, err := i.sectionChecksum(section)
		if err != nil {
			return fmt.Errorf("failed to checksum section %s: %w", section, err)
		}
		digests[section] = digest
		prev, ok := state.Sections[section]
		changed[section] = !ok || prev.Len != digest.Len || prev.Digest != digest.Digest
	}

	// Softwares changing implies keeping the OS section so the server can
	// rebind software entries.
	keep := make(map[string]bool)
	if changed["SOFTWARES"] {
		keep["OPERATINGSYSTEM"] = true
	}

	dropped := false
	usersDropped := false
	for _, section := range names {
		if changed[section] {
			state.Sections[section] = digests[section]
			continue
		}
		if forceFull || opts.Postpone <= 0 {
			continue
		}
		if alwaysKeptSections[section] || i.required[section] || keep[section] {
			continue
		}
		i.logger.Debug().Str("section", section).Msg("dropping unchanged section")
		i.RemoveSection(section)
		dropped = true
		if section == "USERS" {
			usersDropped = true
		}
	}

	if usersDropped {
		if hw := i.getSingleton("HARDWARE"); len(hw) > 0 {
			delete(hw, "LASTLOGGEDUSER")
			delete(hw, "DATELASTLOGGEDUSER")
		}
	}

	// A caller-forced partial stays partial even when nothing was dropped:
	// the document is category-narrowed, and a server receiving it without
	// the flag would reconcile away every unreported section.
	switch {
	case forceFull:
		state.PostponeCount = 0
		i.partial = false
	case opts.Partial || dropped:
		state.PostponeCount++
		i.partial = true
	}

	return saveState(opts.StateFile, state)
}

// sectionChecksum hashes the canonical serialization of a section: the
// normalized records marshaled as JSON, map keys sorted by encoding/json.
func (i *Inventory) sectionChecksum(section string) (sectionDigest, error) {
	spec := sections[section]
	records := i.content[section]

	var payload any
	if spec != nil && spec.singleton && len(records) > 0 {
		payload = records[0]
	} else {
		payload = records
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return sectionDigest{}, err
	}
	sum := sha256.Sum256(data)
	return sectionDigest{Len: len(data), Digest: hex.EncodeToString(sum[:])}, nil
}

func loadState(path string) (*lastState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state lastState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func saveState(path string, state *lastState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RemoteStateFile derives the last-state file name for a remote inventory
// identity: UUID first, then serial number, then device id.
func RemoteStateFile(dir, uuid, serial, deviceID string) string {
	id := uuid
	if id == "" {
		id = serial
	}
	if id == "" {
		id = deviceID
	}
	id = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, id)
	return filepath.Join(dir, "last_remote_state-"+id+".json")
}

const remoteStateMaxAge = 30 * 24 * time.Hour

var (
	remoteGCMu   sync.Mutex
	remoteLastGC time.Time
)

// GCRemoteStates removes remote last-state files older than 30 days. It runs
// at most once per hour across the process.
func GCRemoteStates(dir string) {
	remoteGCMu.Lock()
	defer remoteGCMu.Unlock()
	if time.Since(remoteLastGC) < time.Hour {
		return
	}
	remoteLastGC = time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-remoteStateMaxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "last_remote_state-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		os.Remove(filepath.Join(dir, entry.Name()))
	}
}
