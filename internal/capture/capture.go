// Package capture provides the Persistable backends that feed the ring:
// files on disk, in-memory uploads and the system clipboard.
package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/ring"
)

var (
	_ ring.Persistable = Files{}
	_ ring.Persistable = Blob{}
	_ ring.Persistable = Clipboard{}
)

// Files registers existing files. With Move set, each original is removed
// once it has been admitted; rejected files stay where they are.
type Files struct {
	Paths []string
	Move  bool
}

func (f Files) Persist(context.Context) ([]ring.Captured, error) {
	out := make([]ring.Captured, 0, len(f.Paths))
	for _, p := range f.Paths {
		ext, err := ring.ExtFromPath(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", apperr.ErrInvalid, p)
		}
		c := ring.Captured{Path: p, Ext: ext}
		if f.Move {
			c.Cleanup = func(admitted bool) {
				if admitted {
					_ = os.Remove(p)
				}
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// Blob registers bytes received over the wire.
type Blob struct {
	Data []byte
	Ext  ring.EntityExt
}

func (b Blob) Persist(context.Context) ([]ring.Captured, error) {
	if !b.Ext.Valid() {
		return nil, fmt.Errorf("%w: extension %q", apperr.ErrInvalid, b.Ext)
	}
	path, err := writeTemp(b.Data, b.Ext)
	if err != nil {
		return nil, err
	}
	return []ring.Captured{{Path: path, Ext: b.Ext, Cleanup: func(bool) { _ = os.Remove(path) }}}, nil
}

// Clipboard registers the current clipboard text. A single absolute http(s)
// URL is stored as url, anything else as txt.
type Clipboard struct{}

func (Clipboard) Persist(ctx context.Context) ([]ring.Captured, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("capture: clipboard: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: clipboard is empty", apperr.ErrInvalid)
	}
	return Blob{Data: []byte(text), Ext: TextExt(text)}.Persist(ctx)
}

// TextExt classifies text as a url or plain text.
func TextExt(text string) ring.EntityExt {
	s := strings.TrimSpace(text)
	if strings.ContainsAny(s, " \n\t") {
		return ring.ExtTxt
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ring.ExtTxt
	}
	return ring.ExtURL
}

func writeTemp(data []byte, ext ring.EntityExt) (string, error) {
	path := filepath.Join(os.TempDir(), "mioring-capture-"+uuid.NewString()+"."+string(ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("capture: write temp: %w", err)
	}
	return path, nil
}
