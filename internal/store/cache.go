package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/edvin/mfafarm/internal/model"
)

// CacheFile is the cache mirror's file name inside the cache directory.
const CacheFile = "config.db"

// Cache is the node-local mirror of the last loaded configuration.
type Cache interface {
	Load() (*model.Configuration, error)
	Save(cfg *model.Configuration) error
	Delete() error
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: cbor enc mode: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 32,
	}.DecMode()
	if err != nil {
		panic("store: cbor dec mode: " + err.Error())
	}
}

// Marshal encodes cfg in the cache's deterministic CBOR form.
func Marshal(cfg *model.Configuration) ([]byte, error) {
	return encMode.Marshal(cfg)
}

// Unmarshal decodes a configuration encoded by Marshal.
func Unmarshal(data []byte) (*model.Configuration, error) {
	var cfg model.Configuration
	if err := decMode.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FileCache stores the mirror as a CBOR file.
type FileCache struct {
	path string
}

// NewFileCache creates a cache in dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{path: filepath.Join(dir, CacheFile)}
}

// Path returns the cache file location.
func (c *FileCache) Path() string { return c.path }

func (c *FileCache) Load() (*model.Configuration, error) {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}
	cfg, err := Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return cfg, nil
}

func (c *FileCache) Save(cfg *model.Configuration) error {
	raw, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	return WriteFileAtomic(c.path, raw)
}

func (c *FileCache) Delete() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache: %w", err)
	}
	return nil
}

// WriteFileAtomic writes data next to path and renames it into place.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
