package ring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/mioring/internal/apperr"
)

func TestAnalyzeTable(t *testing.T) {
	tests := []struct {
		kind   OperationKind
		inputs []EntityKind
		want   EntityKind
		cap    Capability
	}{
		{OpCrop, []EntityKind{KindImage}, KindImage, CapImage},
		{OpResize, []EntityKind{KindImage}, KindImage, CapImage},
		{ConvertTo(KindText), []EntityKind{KindImage}, KindText, CapOCR},
		{ConvertTo(KindText), []EntityKind{KindText}, KindText, CapNone},
		{OpSummarize, []EntityKind{KindText}, KindText, CapLLM},
	}
	for _, tt := range tests {
		got, err := tt.kind.Analyze(tt.inputs)
		require.NoError(t, err, "%s on %v", tt.kind, tt.inputs)
		assert.Equal(t, tt.want, got)
		c, err := tt.kind.Requires(tt.inputs)
		require.NoError(t, err)
		assert.Equal(t, tt.cap, c)
	}
}

func TestAnalyzeUnsupported(t *testing.T) {
	cases := []struct {
		kind   OperationKind
		inputs []EntityKind
	}{
		{OpCrop, []EntityKind{KindText}},
		{OpTrim, []EntityKind{KindAudio}},
		{OpCrop, []EntityKind{KindImage, KindImage}},
		{ConvertTo(KindImage), []EntityKind{KindText}},
		{OpSummarize, nil},
	}
	for _, c := range cases {
		_, err := c.kind.Analyze(c.inputs)
		assert.True(t, errors.Is(err, apperr.ErrUnsupported), "%s on %v: %v", c.kind, c.inputs, err)
	}
}

func TestSynthesizeAgreesWithAnalyze(t *testing.T) {
	for _, k := range EntityKinds {
		for _, op := range k.Synthesize() {
			_, err := op.Analyze([]EntityKind{k})
			assert.NoError(t, err, "%s offered on %s", op, k)
		}
	}
	assert.Empty(t, KindVideo.Synthesize())
	assert.Contains(t, KindImage.Synthesize(), ConvertTo(KindText))
}

func TestParseOperationKind(t *testing.T) {
	k, err := ParseOperationKind("convert:text")
	require.NoError(t, err)
	assert.Equal(t, ConvertTo(KindText), k)
	assert.Equal(t, "convert:text", k.String())

	k, err = ParseOperationKind(" Crop ")
	require.NoError(t, err)
	assert.Equal(t, OpCrop, k)

	for _, bad := range []string{"", "crop:image", "convert", "convert:smell", "blur"} {
		_, err := ParseOperationKind(bad)
		assert.True(t, errors.Is(err, apperr.ErrInvalid), "%q: %v", bad, err)
	}
}

func TestExtensions(t *testing.T) {
	ext, err := ExtFromPath("/tmp/Shot.JPEG")
	require.NoError(t, err)
	assert.Equal(t, ExtJpg, ext)
	assert.Equal(t, KindImage, ext.Kind())
	assert.Equal(t, KindText, ExtURL.Kind())
	assert.Equal(t, ExtMp4, ExtHint(KindVideo))

	_, err = ExtFromPath("notes.docx")
	assert.Error(t, err)
}
