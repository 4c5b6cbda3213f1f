package ring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// echoOperable concatenates its sources behind the operation kind.
type echoOperable struct {
	kind  OperationKind
	calls *int
}

func (o echoOperable) Kind() OperationKind { return o.kind }

func (o echoOperable) Execute(_ context.Context, sources []string) ([]byte, error) {
	*o.calls++
	var buf bytes.Buffer
	buf.WriteString(o.kind.String())
	for _, src := range sources {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

type countingDispatcher struct {
	calls       int
	validateErr error
}

func (d *countingDispatcher) Validate(OperationKind, []EntityKind, json.RawMessage) error {
	return d.validateErr
}

func (d *countingDispatcher) Prepare(op Operation, _ []EntityKind) (Operable, error) {
	return echoOperable{kind: op.Kind, calls: &d.calls}, nil
}

// blobSource captures in-memory items as temp files.
type blobSource struct {
	dir   string
	items []blob
}

type blob struct {
	data string
	ext  EntityExt
}

func (s blobSource) Persist(context.Context) ([]Captured, error) {
	out := make([]Captured, 0, len(s.items))
	for i, it := range s.items {
		path := filepath.Join(s.dir, "capture-"+string(rune('a'+i))+"."+string(it.ext))
		if err := os.WriteFile(path, []byte(it.data), 0o644); err != nil {
			return nil, err
		}
		out = append(out, Captured{Path: path, Ext: it.ext, Cleanup: func(bool) { _ = os.Remove(path) }})
	}
	return out, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testDirs(t *testing.T) Dirs {
	t.Helper()
	root := t.TempDir()
	d, err := NewDirs(filepath.Join(root, "config"), filepath.Join(root, "cache"), filepath.Join(root, "data"))
	require.NoError(t, err)
	return d
}

func testMio(t *testing.T) (*Mio, *countingDispatcher) {
	t.Helper()
	disp := &countingDispatcher{}
	m := New(WithDirs(testDirs(t)), WithDispatcher(disp), WithLogger(quietLogger()))
	return m, disp
}

func register(t *testing.T, m *Mio, items ...blob) []MioID {
	t.Helper()
	ids, err := Interpret(context.Background(), m, Register{Source: blobSource{dir: t.TempDir(), items: items}})
	require.NoError(t, err)
	require.Len(t, ids, len(items))
	return ids
}

func initiate(t *testing.T, m *Mio, kind OperationKind, base ...MioID) (OpID, MioID) {
	t.Helper()
	delta, err := Interpret(context.Background(), m, Initiate{Kind: kind, Base: base})
	require.NoError(t, err)
	require.Len(t, delta.Operations, 1)
	var (
		opID OpID
		op   *Operation
	)
	for id, o := range delta.Operations {
		opID, op = id, o
	}
	require.Contains(t, delta.Specters, op.Specter)

	// the delta carries the new phantom plus every phantom base as it was
	phantoms := make(map[MioID]struct{})
	for _, id := range base {
		if _, ok := m.Ring.Specters[id]; ok {
			phantoms[id] = struct{}{}
		}
	}
	require.Len(t, delta.Specters, 1+len(phantoms))
	return opID, op.Specter
}
