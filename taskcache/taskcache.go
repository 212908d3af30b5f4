// Package taskcache makes long runs resumable with an explicit task cache
// keyed by a content hash of the run parameters and input files, replacing
// ad-hoc "does the output already exist" checks. A cache entry is a gob
// payload carrying a format version and its own key, both validated on
// load, written atomically (temp file, then rename).
package taskcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// cacheVersion is incremented when the on-disk entry format changes.
const cacheVersion = 1

// Cache stores entries under Dir. With Force set, Load always misses, so a
// run recomputes and overwrites instead of resuming.
type Cache struct {
	Dir   string
	Force bool
}

// New creates a cache rooted at dir.
func New(dir string, force bool) *Cache {
	return &Cache{Dir: dir, Force: force}
}

// Key derives a cache key from the canonical JSON of params plus the
// SHA-256 digests of the named input files. Changing any parameter or any
// input byte changes the key.
func Key(params any, inputs ...string) (string, error) {
	h := sha256.New()

	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("marshal cache params: %w", err)
	}
	h.Write(canonical)

	for _, path := range inputs {
		fh, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open cache input %s: %w", path, err)
		}
		fileHash := sha256.New()
		_, err = io.Copy(fileHash, fh)
		fh.Close()
		if err != nil {
			return "", fmt.Errorf("hash cache input %s: %w", path, err)
		}
		h.Write(fileHash.Sum(nil))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// entry is the on-disk representation of a cached result.
type entry struct {
	Version   int
	Key       string
	CreatedAt int64
	Payload   []byte
}

// Load decodes the cached value for key into out. It returns false on a
// miss; a corrupt or mismatched entry is treated as a miss rather than an
// error so a damaged cache never blocks a run.
func (c *Cache) Load(key string, out any) (bool, error) {
	if c.Force {
		return false, nil
	}
	fh, err := os.Open(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("open cache entry: %w", err)
	}
	defer fh.Close()

	var e entry
	if err := gob.NewDecoder(fh).Decode(&e); err != nil {
		return false, nil
	}
	if e.Version != cacheVersion || e.Key != key {
		return false, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(e.Payload)).Decode(out); err != nil {
		return false, nil
	}
	return true, nil
}

// Store writes the value for key atomically.
func (c *Cache) Store(key string, value any) error {
	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return fmt.Errorf("mkdir cache dir %s: %w", c.Dir, err)
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(value); err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}

	tmpFile, err := os.CreateTemp(c.Dir, key+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp cache entry: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	e := entry{
		Version:   cacheVersion,
		Key:       key,
		CreatedAt: time.Now().Unix(),
		Payload:   payload.Bytes(),
	}
	if err := gob.NewEncoder(tmpFile).Encode(&e); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp cache entry: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		return fmt.Errorf("rename temp cache entry: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.Dir, key+".gob")
}
