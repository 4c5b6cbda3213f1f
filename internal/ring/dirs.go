package ring

import (
	"fmt"
	"path/filepath"

	"github.com/starford/mioring/internal/storage"
)

// Dirs is the path configuration handed to the aggregate. Concrete content
// lives under Data, lazy results under Cache.
type Dirs struct {
	Config string
	Cache  storage.Provider
	Data   storage.Provider
}

// NewDirs creates the three directories when missing.
func NewDirs(config, cache, data string) (Dirs, error) {
	if _, err := storage.EnsureFS(config); err != nil {
		return Dirs{}, fmt.Errorf("ring: config dir: %w", err)
	}
	c, err := storage.EnsureFS(cache)
	if err != nil {
		return Dirs{}, fmt.Errorf("ring: cache dir: %w", err)
	}
	d, err := storage.EnsureFS(data)
	if err != nil {
		return Dirs{}, fmt.Errorf("ring: data dir: %w", err)
	}
	cfg, _ := filepath.Abs(config)
	return Dirs{Config: cfg, Cache: c, Data: d}, nil
}

func (d Dirs) ready() error {
	if d.Cache == nil || d.Data == nil {
		return fmt.Errorf("ring: directories not configured")
	}
	return nil
}
