package operable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/image/draw"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/ring"
)

// WithImage enables crop, annotate, resize and convert:image.
func WithImage() Option {
	return func(r *Registry) error {
		for _, b := range []Backend{
			{Kind: ring.OpCrop, Input: ring.KindImage, Schema: cropSchema, Prepare: prepare[Crop]},
			{Kind: ring.OpAnnotate, Input: ring.KindImage, Schema: annotateSchema, Prepare: prepare[Annotate]},
			{Kind: ring.OpResize, Input: ring.KindImage, Schema: resizeSchema, Prepare: prepare[Resize]},
			{Kind: ring.ConvertTo(ring.KindImage), Input: ring.KindImage, Schema: emptySchema, Prepare: prepare[Reencode]},
		} {
			if err := r.Register(b); err != nil {
				return err
			}
		}
		return nil
	}
}

// prepare decodes attr into the operable value itself.
func prepare[T any, PT interface {
	*T
	validation.Validatable
	ring.Operable
}](attr json.RawMessage) (ring.Operable, error) {
	v, err := decodeAttr[T, PT](attr)
	if err != nil {
		return nil, err
	}
	return PT(&v), nil
}

const emptySchema = `{"type":"object","additionalProperties":false}`

const cropSchema = `{
  "type": "object",
  "properties": {
    "x": {"type": "integer", "minimum": 0},
    "y": {"type": "integer", "minimum": 0},
    "width": {"type": "integer", "minimum": 1},
    "height": {"type": "integer", "minimum": 1}
  },
  "required": ["width", "height"],
  "additionalProperties": false
}`

// Crop cuts a rectangle out of the image, clipped to its bounds.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c *Crop) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.X, validation.Min(0)),
		validation.Field(&c.Y, validation.Min(0)),
		validation.Field(&c.Width, validation.Required, validation.Min(1)),
		validation.Field(&c.Height, validation.Required, validation.Min(1)),
	)
}

func (c *Crop) Kind() ring.OperationKind { return ring.OpCrop }

func (c *Crop) Execute(_ context.Context, sources []string) ([]byte, error) {
	src, err := loadImage(sources)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	region := image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height).Add(b.Min).Intersect(b)
	if region.Empty() {
		return nil, fmt.Errorf("%w: crop %dx%d+%d+%d lies outside %v", apperr.ErrInvalid, c.Width, c.Height, c.X, c.Y, b.Size())
	}
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(dst, dst.Bounds(), src, region.Min, draw.Src)
	return encodePNG(dst)
}

const annotateSchema = `{
  "type": "object",
  "properties": {
    "boxes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "x": {"type": "integer"},
          "y": {"type": "integer"},
          "width": {"type": "integer", "minimum": 1},
          "height": {"type": "integer", "minimum": 1}
        },
        "required": ["x", "y", "width", "height"],
        "additionalProperties": false
      }
    },
    "color": {"type": "string", "pattern": "^#[0-9a-fA-F]{6}$"},
    "thickness": {"type": "integer", "minimum": 1, "maximum": 64}
  },
  "required": ["boxes"],
  "additionalProperties": false
}`

// Box is an annotation rectangle in image coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Annotate outlines boxes on the image.
type Annotate struct {
	Boxes     []Box  `json:"boxes"`
	Color     string `json:"color"`
	Thickness int    `json:"thickness"`
}

func (a *Annotate) Validate() error {
	if a.Color == "" {
		a.Color = "#ff0000"
	}
	if a.Thickness == 0 {
		a.Thickness = 2
	}
	return validation.ValidateStruct(a,
		validation.Field(&a.Boxes, validation.Required),
		validation.Field(&a.Thickness, validation.Min(1), validation.Max(64)),
	)
}

func (a *Annotate) Kind() ring.OperationKind { return ring.OpAnnotate }

func (a *Annotate) Execute(_ context.Context, sources []string) ([]byte, error) {
	src, err := loadImage(sources)
	if err != nil {
		return nil, err
	}
	col, err := parseHexColor(a.Color)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	paint := image.NewUniform(col)
	t := a.Thickness
	for _, box := range a.Boxes {
		r := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
		for _, edge := range []image.Rectangle{
			image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
			image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
			image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
			image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
		} {
			draw.Draw(dst, edge.Intersect(dst.Bounds()), paint, image.Point{}, draw.Src)
		}
	}
	return encodePNG(dst)
}

const resizeSchema = `{
  "type": "object",
  "properties": {
    "width": {"type": "integer", "minimum": 0},
    "height": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// Resize scales the image. A zero dimension follows the aspect ratio.
type Resize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r *Resize) Validate() error {
	if r.Width == 0 && r.Height == 0 {
		return fmt.Errorf("width or height is required")
	}
	return validation.ValidateStruct(r,
		validation.Field(&r.Width, validation.Min(0), validation.Max(16384)),
		validation.Field(&r.Height, validation.Min(0), validation.Max(16384)),
	)
}

func (r *Resize) Kind() ring.OperationKind { return ring.OpResize }

func (r *Resize) Execute(_ context.Context, sources []string) ([]byte, error) {
	src, err := loadImage(sources)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := r.Width, r.Height
	switch {
	case w == 0:
		w = max(1, b.Dx()*h/b.Dy())
	case h == 0:
		h = max(1, b.Dy()*w/b.Dx())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return encodePNG(dst)
}

// Reencode normalizes any supported image format to PNG.
type Reencode struct{}

func (*Reencode) Validate() error { return nil }

func (*Reencode) Kind() ring.OperationKind { return ring.ConvertTo(ring.KindImage) }

func (*Reencode) Execute(_ context.Context, sources []string) ([]byte, error) {
	src, err := loadImage(sources)
	if err != nil {
		return nil, err
	}
	return encodePNG(src)
}

func loadImage(sources []string) (image.Image, error) {
	if len(sources) != 1 {
		return nil, fmt.Errorf("%w: expected one image, got %d", apperr.ErrInvalid, len(sources))
	}
	f, err := os.Open(sources[0])
	if err != nil {
		return nil, fmt.Errorf("operable: open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("operable: decode image: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("operable: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func parseHexColor(s string) (color.RGBA, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil || len(s) != 7 {
		return color.RGBA{}, fmt.Errorf("%w: color %q", apperr.ErrInvalid, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
