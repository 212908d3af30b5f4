package forest

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// bundleVersion is incremented when the on-disk model format changes.
const bundleVersion = 1

// Bundle is the serialized model artifact for one training run: the fitted
// classifier/regressor pair plus enough metadata to refuse a stale or
// mismatched load.
type Bundle struct {
	Version    int
	Group      string
	RoundDate  string
	Predictors []string
	Threshold  float64 // mean calibrated presence threshold across folds
	CreatedAt  int64

	Classifier *Classifier
	Regressor  *Regressor
}

// NewBundle assembles a bundle from fitted models.
func NewBundle(group, roundDate string, predictors []string, threshold float64, c *Classifier, r *Regressor) *Bundle {
	return &Bundle{
		Version:    bundleVersion,
		Group:      group,
		RoundDate:  roundDate,
		Predictors: predictors,
		Threshold:  threshold,
		CreatedAt:  time.Now().Unix(),
		Classifier: c,
		Regressor:  r,
	}
}

// Save writes the bundle with encoding/gob using an atomic write (temp
// file, then rename) so a crash mid-write never leaves a truncated model on
// disk.
func (b *Bundle) Save(path string) error {
	if path == "" {
		return fmt.Errorf("empty bundle path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp bundle file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	if err := gob.NewEncoder(tmpFile).Encode(b); err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp bundle file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp bundle file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp bundle to target: %w", err)
	}
	return nil
}

// LoadBundle reads a bundle from disk and validates its format version.
func LoadBundle(path string) (*Bundle, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer fh.Close()

	var b Bundle
	if err := gob.NewDecoder(fh).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	if b.Version != bundleVersion {
		return nil, fmt.Errorf("bundle version mismatch: file=%d expected=%d", b.Version, bundleVersion)
	}
	if b.Classifier == nil || b.Regressor == nil {
		return nil, fmt.Errorf("bundle %s is missing a model component", path)
	}
	return &b, nil
}
