package operable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mioring/internal/ring"
)

// WithOCR enables convert:text on images through the tesseract binary.
func WithOCR(tesseractPath, defaultLang string) Option {
	return func(r *Registry) error {
		if tesseractPath == "" {
			tesseractPath = "tesseract"
		}
		bin, err := exec.LookPath(tesseractPath)
		if err != nil {
			return fmt.Errorf("operable: ocr: %w", err)
		}
		if defaultLang == "" {
			defaultLang = "eng"
		}
		return r.Register(Backend{
			Kind:   ring.ConvertTo(ring.KindText),
			Input:  ring.KindImage,
			Schema: ocrSchema,
			Prepare: func(attr json.RawMessage) (ring.Operable, error) {
				v, err := decodeAttr[OCR](attr)
				if err != nil {
					return nil, err
				}
				v.bin = bin
				if v.Lang == "" {
					v.Lang = defaultLang
				}
				return &v, nil
			},
		})
	}
}

const ocrSchema = `{
  "type": "object",
  "properties": {
    "lang": {"type": "string", "pattern": "^[a-z_]{3,}(\\+[a-z_]{3,})*$"}
  },
  "additionalProperties": false
}`

var langPattern = regexp.MustCompile(`^[a-z_]{3,}(\+[a-z_]{3,})*$`)

// OCR extracts text from an image.
type OCR struct {
	Lang string `json:"lang"`

	bin string
}

func (o *OCR) Validate() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Lang, validation.Match(langPattern)),
	)
}

func (o *OCR) Kind() ring.OperationKind { return ring.ConvertTo(ring.KindText) }

func (o *OCR) Execute(ctx context.Context, sources []string) ([]byte, error) {
	if len(sources) != 1 {
		return nil, fmt.Errorf("operable: ocr expects one image, got %d", len(sources))
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.bin, sources[0], "stdout", "-l", o.Lang)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("operable: tesseract: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
