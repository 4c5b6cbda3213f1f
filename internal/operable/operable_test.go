package operable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/ring"
)

var image1 = []ring.EntityKind{ring.KindImage}

// writePNG writes a w×h gradient where pixel (x, y) is (x, y, 0).
func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(t.TempDir(), "src.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func imageRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(WithImage())
	require.NoError(t, err)
	return r
}

func run(t *testing.T, r *Registry, kind ring.OperationKind, inputs []ring.EntityKind, attr string, sources ...string) ([]byte, error) {
	t.Helper()
	impl, err := r.Prepare(ring.Operation{Kind: kind, Attr: json.RawMessage(attr)}, inputs)
	if err != nil {
		return nil, err
	}
	assert.Equal(t, kind, impl.Kind())
	return impl.Execute(context.Background(), sources)
}

func TestOffered(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, []ring.OperationKind{ring.ConvertTo(ring.KindText)}, r.Offered(ring.KindText))
	assert.Empty(t, r.Offered(ring.KindImage))

	r = imageRegistry(t)
	assert.Equal(t, []ring.OperationKind{
		ring.OpCrop, ring.OpAnnotate, ring.OpResize, ring.ConvertTo(ring.KindImage),
	}, r.Offered(ring.KindImage))
}

func TestDisabledCapability(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Prepare(ring.Operation{Kind: ring.OpCrop}, image1)
	assert.True(t, errors.Is(err, apperr.ErrCapabilityDisabled), "%v", err)
	assert.NoError(t, r.Validate(ring.OpCrop, image1, nil), "missing backend is deferred to force")

	err = r.Validate(ring.OpCrop, []ring.EntityKind{ring.KindText}, nil)
	assert.True(t, errors.Is(err, apperr.ErrUnsupported))
}

func TestRegisterRejectsIllegalPair(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	err = r.Register(Backend{Kind: ring.OpCrop, Input: ring.KindAudio, Prepare: prepare[Crop]})
	assert.True(t, errors.Is(err, apperr.ErrUnsupported))
}

func TestValidateAttributes(t *testing.T) {
	r := imageRegistry(t)
	for _, bad := range []string{
		`{"x":0}`,
		`{"width":5,"height":5,"extra":1}`,
		`{"width":"5","height":5}`,
		`{"width":0,"height":5}`,
		`[1,2]`,
	} {
		err := r.Validate(ring.OpCrop, image1, json.RawMessage(bad))
		assert.True(t, errors.Is(err, apperr.ErrInvalid), "%s: %v", bad, err)
	}
	assert.NoError(t, r.Validate(ring.OpCrop, image1, json.RawMessage(`{"x":1,"y":2,"width":3,"height":4}`)))

	err := r.Validate(ring.OpResize, image1, json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, apperr.ErrInvalid), "resize needs a dimension: %v", err)
}

func TestCrop(t *testing.T) {
	r := imageRegistry(t)
	src := writePNG(t, 20, 10)

	out, err := run(t, r, ring.OpCrop, image1, `{"x":2,"y":3,"width":5,"height":4}`, src)
	require.NoError(t, err)
	img := decodePNG(t, out)
	assert.Equal(t, image.Pt(5, 4), img.Bounds().Size())
	rr, gg, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(2), rr>>8)
	assert.Equal(t, uint32(3), gg>>8)

	out, err = run(t, r, ring.OpCrop, image1, `{"x":18,"y":8,"width":10,"height":10}`, src)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 2), decodePNG(t, out).Bounds().Size(), "clipped to bounds")

	_, err = run(t, r, ring.OpCrop, image1, `{"x":50,"y":50,"width":1,"height":1}`, src)
	assert.True(t, errors.Is(err, apperr.ErrInvalid))
}

func TestResizeKeepsAspect(t *testing.T) {
	r := imageRegistry(t)
	out, err := run(t, r, ring.OpResize, image1, `{"width":10}`, writePNG(t, 20, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 5), decodePNG(t, out).Bounds().Size())
}

func TestAnnotate(t *testing.T) {
	r := imageRegistry(t)
	out, err := run(t, r, ring.OpAnnotate, image1,
		`{"boxes":[{"x":2,"y":2,"width":6,"height":6}],"color":"#00ff00","thickness":1}`, writePNG(t, 12, 12))
	require.NoError(t, err)
	img := decodePNG(t, out)

	_, g, b, _ := img.At(2, 5).RGBA()
	assert.Equal(t, uint32(0xffff), g, "left edge painted")
	assert.Equal(t, uint32(0), b)
	rr, _, _, _ := img.At(5, 5).RGBA()
	assert.Equal(t, uint32(5), rr>>8, "interior untouched")
}

func TestReencode(t *testing.T) {
	r := imageRegistry(t)
	out, err := run(t, r, ring.ConvertTo(ring.KindImage), image1, ``, writePNG(t, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 3), decodePNG(t, out).Bounds().Size())
}

func TestPassthrough(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("same bytes"), 0o644))

	out, err := run(t, r, ring.ConvertTo(ring.KindText), []ring.EntityKind{ring.KindText}, `{}`, src)
	require.NoError(t, err)
	assert.Equal(t, "same bytes", string(out))
}

type fakeSummarizer struct {
	gotWords int
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, maxWords int) (string, error) {
	f.gotWords = maxWords
	return "  short: " + text[:4] + " ", nil
}

func TestSummarize(t *testing.T) {
	fake := &fakeSummarizer{}
	r, err := NewRegistry(WithSummarizer(fake))
	require.NoError(t, err)
	assert.Contains(t, r.Offered(ring.KindText), ring.OpSummarize)

	src := filepath.Join(t.TempDir(), "long.txt")
	require.NoError(t, os.WriteFile(src, []byte("a long story about rings"), 0o644))

	out, err := run(t, r, ring.OpSummarize, []ring.EntityKind{ring.KindText}, `{}`, src)
	require.NoError(t, err)
	assert.Equal(t, "short: a lo\n", string(out))
	assert.Equal(t, 100, fake.gotWords, "default word budget")
}

func TestOCRMissingBinary(t *testing.T) {
	_, err := NewRegistry(WithOCR(filepath.Join(t.TempDir(), "no-tesseract"), ""))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	r := imageRegistry(t)
	ds := r.Describe()
	require.Len(t, ds, 5)
	assert.Equal(t, ring.KindImage, ds[0].Input)
	assert.Equal(t, ring.KindText, ds[len(ds)-1].Input)
	for _, d := range ds {
		assert.True(t, json.Valid(d.Schema), d.Kind)
	}
}
