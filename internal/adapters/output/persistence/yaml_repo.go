package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"crestron-home-bridge/internal/domain/model"
	"gopkg.in/yaml.v3"
)

// YAMLOptionsRepository stores the options of one configured hub in a YAML
// file. A missing file yields the default options.
type YAMLOptionsRepository struct {
	path string
	mu   sync.RWMutex
}

func NewYAMLOptionsRepository(path string) *YAMLOptionsRepository {
	return &YAMLOptionsRepository{path: path}
}

func (r *YAMLOptionsRepository) Path() string { return r.path }

func (r *YAMLOptionsRepository) Get(ctx context.Context) (*model.Options, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	opts := model.DefaultOptions()
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &opts, nil
		}
		return nil, err
	}

	// fields absent from the file keep their defaults
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	return &opts, nil
}

// Save writes through a temporary file so a watcher never sees a partial
// document.
func (r *YAMLOptionsRepository) Save(ctx context.Context, opts *model.Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
