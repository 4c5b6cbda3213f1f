package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/mioring/internal/catalog"
	"github.com/starford/mioring/internal/mioservice"
	"github.com/starford/mioring/internal/operable"
	"github.com/starford/mioring/internal/persist"
	"github.com/starford/mioring/internal/ring"
	"github.com/starford/mioring/internal/seal"
)

var errConfigRequired = errors.New("config is required")

// NewLogger builds the structured JSON logger used across the application.
// Logs go to stderr so that stdout stays free for MCP and CLI output.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// Runtime is an opened ring with everything it depends on.
type Runtime struct {
	Service  *mioservice.Service
	Catalog  *catalog.DB
	Registry *operable.Registry
	Dirs     ring.Dirs

	closers []io.Closer
}

// Open prepares directories, loads the index through the configured backend
// and codec, opens the catalog and wraps it all in a service. svcOpts are
// applied after the catalog and logger.
func Open(cfg *Config, logger *slog.Logger, svcOpts ...mioservice.Option) (_ *Runtime, err error) {
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Dirs, err = ring.NewDirs(cfg.Dirs.Config, cfg.Dirs.Cache, cfg.Dirs.Data)
	if err != nil {
		return nil, err
	}

	rt.Registry, err = NewRegistry(cfg.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("init operables: %w", err)
	}

	var codec seal.Codec
	if cfg.Security.KeyFile != "" {
		sealed, err := seal.FromKeyFile(cfg.Security.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("init codec: %w", err)
		}
		codec = sealed
	}

	backend, err := openBackend(cfg, rt.Dirs, logger)
	if err != nil {
		if sealed, ok := codec.(*seal.Sealed); ok {
			sealed.Close()
		}
		return nil, err
	}
	// The store owns the backend and the sealed key from here on.
	store := persist.NewStore(backend, codec, logger)

	m, err := store.Load(
		ring.WithDirs(rt.Dirs),
		ring.WithDispatcher(rt.Registry),
		ring.WithLogger(logger),
		ring.WithPoolSize(cfg.Allocator.PoolSize),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	rt.Catalog, err = catalog.Open(cfg.SQLite.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}
	rt.closers = append(rt.closers, rt.Catalog)

	opts := append([]mioservice.Option{
		mioservice.WithCatalog(rt.Catalog),
		mioservice.WithLogger(logger),
	}, svcOpts...)
	rt.Service = mioservice.New(m, store, rt.Registry, opts...)
	// Service closes the store; it must go before the catalog and the key.
	rt.closers = append(rt.closers, rt.Service)

	logger.Info("Ring opened",
		slog.String("data_dir", rt.Dirs.Data.Root()),
		slog.String("cache_dir", rt.Dirs.Cache.Root()),
		slog.String("index_backend", cfg.Index.Backend),
		slog.Bool("sealed", codec != nil),
		slog.Int("entities", len(m.Ring.Entities)),
		slog.Int("specters", len(m.Ring.Specters)),
	)
	return rt, nil
}

// Close releases everything Open acquired, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openBackend(cfg *Config, dirs ring.Dirs, logger *slog.Logger) (persist.Backend, error) {
	switch cfg.Index.Backend {
	case IndexBackendBadger:
		b, err := persist.OpenBadger(persist.BadgerConfig{
			Path:       cfg.Index.BadgerPath,
			SyncWrites: true,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		return b, nil
	default:
		return persist.NewFileBackend(filepath.Join(dirs.Data.Root(), "index.json")), nil
	}
}

// NewRegistry enables the operation backends the capabilities ask for.
func NewRegistry(c CapabilitiesConfig) (*operable.Registry, error) {
	var opts []operable.Option
	if c.Image {
		opts = append(opts, operable.WithImage())
	}
	if c.OCR.Enabled {
		opts = append(opts, operable.WithOCR(c.OCR.TesseractPath, c.OCR.Lang))
	}
	if c.LLM.Enabled {
		opts = append(opts, operable.WithSummarizer(operable.NewOpenAISummarizer(c.LLM.APIKey, c.LLM.BaseURL, c.LLM.Model)))
	}
	return operable.NewRegistry(opts...)
}
