package datastore

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var partsBucket = []byte("fileparts")

// Datastore is the content-addressed filepart store under a target's deploy
// directory. Files live at
// deploy/fileparts/{shared,private}/<retention>/<a>/<b>/<cdefgh>/<sha512>
// and a bbolt index maps digests to their location and expiry.
type Datastore struct {
	dir    string
	db     *bolt.DB
	logger zerolog.Logger

	gcMu   sync.Mutex
	lastGC time.Time
}

// partRecord is the indexed location of one filepart.
type partRecord struct {
	Path      string `json:"path"`
	Retention int64  `json:"retention"`
	Private   bool   `json:"private"`
}

// Open creates or opens the datastore rooted at dir.
func Open(dir string, logger zerolog.Logger) (*Datastore, error) {
	deployDir := filepath.Join(dir, "deploy")
	if err := os.MkdirAll(deployDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deploy directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(deployDir, "fileparts.db"), 0o644, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open filepart index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(partsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Datastore{
		dir:    dir,
		db:     db,
		logger: logger.With().Str("component", "datastore").Logger(),
	}, nil
}

// Close releases the index.
func (d *Datastore) Close() error {
	return d.db.Close()
}

// subPath fans a digest out into the nibble-prefixed directory layout.
func subPath(sha string) string {
	return filepath.Join(sha[0:1], sha[1:2], sha[2:8], sha)
}

// StorePart writes a filepart, verifying its digest, and indexes it. The
// returned path is absolute.
func (d *Datastore) StorePart(sha string, r io.Reader, retention time.Time, private bool) (string, error) {
	sha = strings.ToLower(sha)
	if len(sha) != 128 {
		return "", fmt.Errorf("invalid sha512 digest %q", sha)
	}

	visibility := "shared"
	if private {
		visibility = "private"
	}
	path := filepath.Join(d.dir, "deploy", "fileparts", visibility,
		strconv.FormatInt(retention.Unix(), 10), subPath(sha))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".part-*")
	if err != nil {
		return "", err
	}
	digest := sha512.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if got := hex.EncodeToString(digest.Sum(nil)); got != sha {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("filepart digest mismatch: got %s", got)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	record, err := json.Marshal(partRecord{
		Path:      path,
		Retention: retention.Unix(),
		Private:   private,
	})
	if err != nil {
		return "", err
	}
	err = d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(partsBucket).Put([]byte(sha), record)
	})
	if err != nil {
		return "", fmt.Errorf("failed to index filepart: %w", err)
	}
	return path, nil
}

// Part returns the indexed path of a filepart when present on disk.
func (d *Datastore) Part(sha string) (string, bool) {
	sha = strings.ToLower(sha)
	var record partRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(partsBucket).Get([]byte(sha))
		if raw == nil {
			return fmt.Errorf("not indexed")
		}
		return json.Unmarshal(raw, &record)
	})
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(record.Path); err != nil {
		return "", false
	}
	return record.Path, true
}

// FindShared walks the shared filepart directories for a file matching the
// digest, verifying the content before returning it. This also serves parts
// dropped in place without going through StorePart.
func (d *Datastore) FindShared(sha string) (string, bool) {
	sha = strings.ToLower(sha)
	if len(sha) != 128 {
		return "", false
	}
	if path, ok := d.Part(sha); ok {
		return path, true
	}

	shared := filepath.Join(d.dir, "deploy", "fileparts", "shared")
	retentions, err := os.ReadDir(shared)
	if err != nil {
		return "", false
	}
	for _, retention := range retentions {
		if !retention.IsDir() {
			continue
		}
		path := filepath.Join(shared, retention.Name(), subPath(sha))
		if !verifyDigest(path, sha) {
			continue
		}
		return path, true
	}
	return "", false
}

func verifyDigest(path, sha string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	digest := sha512.New()
	if _, err := io.Copy(digest, f); err != nil {
		return false
	}
	return hex.EncodeToString(digest.Sum(nil)) == sha
}

// GC removes fileparts whose retention date passed, pruning the index and
// empty directories. Runs at most once per hour unless force is set.
func (d *Datastore) GC(force bool) (int, error) {
	d.gcMu.Lock()
	if !force && time.Since(d.lastGC) < time.Hour {
		d.gcMu.Unlock()
		return 0, nil
	}
	d.lastGC = time.Now()
	d.gcMu.Unlock()

	now := time.Now().Unix()
	var expired []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(partsBucket).ForEach(func(k, v []byte) error {
			var record partRecord
			if err := json.Unmarshal(v, &record); err != nil || record.Retention < now {
				expired = append(expired, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sha := range expired {
		var record partRecord
		err := d.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(partsBucket)
			if raw := bucket.Get([]byte(sha)); raw != nil {
				json.Unmarshal(raw, &record)
			}
			return bucket.Delete([]byte(sha))
		})
		if err != nil {
			return removed, err
		}
		if record.Path != "" {
			if err := os.Remove(record.Path); err == nil {
				removed++
				pruneEmptyDirs(filepath.Dir(record.Path), filepath.Join(d.dir, "deploy", "fileparts"))
			}
		}
	}
	if removed > 0 {
		d.logger.Info().Int("removed", removed).Msg("expired fileparts removed")
	}
	return removed, nil
}

// pruneEmptyDirs removes empty parents of a removed filepart up to the stop
// directory.
func pruneEmptyDirs(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
