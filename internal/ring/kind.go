package ring

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/mioring/internal/apperr"
)

// EntityKind is the coarse content type of a specter.
type EntityKind string

const (
	KindText  EntityKind = "text"
	KindImage EntityKind = "image"
	KindAudio EntityKind = "audio"
	KindVideo EntityKind = "video"
)

// EntityKinds lists every kind in a stable order.
var EntityKinds = []EntityKind{KindText, KindImage, KindAudio, KindVideo}

func (k EntityKind) Valid() bool { return slices.Contains(EntityKinds, k) }

// EntityExt is the file extension a specter is stored under.
type EntityExt string

const (
	ExtTxt EntityExt = "txt"
	ExtURL EntityExt = "url"
	ExtPng EntityExt = "png"
	ExtJpg EntityExt = "jpg"
	ExtMp3 EntityExt = "mp3"
	ExtMp4 EntityExt = "mp4"
)

var extKinds = map[EntityExt]EntityKind{
	ExtTxt: KindText,
	ExtURL: KindText,
	ExtPng: KindImage,
	ExtJpg: KindImage,
	ExtMp3: KindAudio,
	ExtMp4: KindVideo,
}

// extAliases maps common spellings onto a canonical extension.
var extAliases = map[string]EntityExt{
	"jpeg": ExtJpg,
	"text": ExtTxt,
}

// ParseExt normalizes s (case, leading dot, aliases) and rejects unknown extensions.
func ParseExt(s string) (EntityExt, error) {
	raw := strings.ToLower(strings.TrimPrefix(s, "."))
	ext := EntityExt(raw)
	if alias, ok := extAliases[raw]; ok {
		ext = alias
	}
	if _, ok := extKinds[ext]; !ok {
		return "", fmt.Errorf("%w: unknown extension %q", apperr.ErrInvalid, s)
	}
	return ext, nil
}

// ExtFromPath derives the extension of a file path.
func ExtFromPath(path string) (EntityExt, error) {
	return ParseExt(filepath.Ext(path))
}

// Kind maps the extension to its entity kind.
func (e EntityExt) Kind() EntityKind { return extKinds[e] }

func (e EntityExt) Valid() bool {
	_, ok := extKinds[e]
	return ok
}

// ExtHint is the canonical extension for a kind.
func ExtHint(k EntityKind) EntityExt {
	switch k {
	case KindImage:
		return ExtPng
	case KindAudio:
		return ExtMp3
	case KindVideo:
		return ExtMp4
	default:
		return ExtTxt
	}
}

// OpTag is the family of an operation kind.
type OpTag string

const (
	TagAnnotate  OpTag = "annotate"
	TagTrim      OpTag = "trim"
	TagCrop      OpTag = "crop"
	TagResize    OpTag = "resize"
	TagConvert   OpTag = "convert"
	TagSummarize OpTag = "summarize"
)

// OperationKind identifies a transformation. Target is set only for convert.
type OperationKind struct {
	Tag    OpTag
	Target EntityKind
}

var (
	OpAnnotate  = OperationKind{Tag: TagAnnotate}
	OpTrim      = OperationKind{Tag: TagTrim}
	OpCrop      = OperationKind{Tag: TagCrop}
	OpResize    = OperationKind{Tag: TagResize}
	OpSummarize = OperationKind{Tag: TagSummarize}
)

// ConvertTo builds the convert kind targeting k.
func ConvertTo(k EntityKind) OperationKind {
	return OperationKind{Tag: TagConvert, Target: k}
}

func (k OperationKind) String() string {
	if k.Tag == TagConvert {
		return string(k.Tag) + ":" + string(k.Target)
	}
	return string(k.Tag)
}

// ParseOperationKind accepts "crop", "convert:text" and the like.
func ParseOperationKind(s string) (OperationKind, error) {
	tag, target, hasTarget := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	k := OperationKind{Tag: OpTag(tag)}
	switch k.Tag {
	case TagAnnotate, TagTrim, TagCrop, TagResize, TagSummarize:
		if hasTarget {
			return OperationKind{}, fmt.Errorf("%w: %q takes no target", apperr.ErrInvalid, s)
		}
	case TagConvert:
		k.Target = EntityKind(target)
		if !k.Target.Valid() {
			return OperationKind{}, fmt.Errorf("%w: convert target %q", apperr.ErrInvalid, target)
		}
	default:
		return OperationKind{}, fmt.Errorf("%w: unknown operation %q", apperr.ErrInvalid, s)
	}
	return k, nil
}

func (k OperationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OperationKind) UnmarshalText(b []byte) error {
	parsed, err := ParseOperationKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Capability is the optional backend family an operation needs.
type Capability string

const (
	CapNone  Capability = ""
	CapImage Capability = "image"
	CapOCR   Capability = "ocr"
	CapLLM   Capability = "llm"
)

type rule struct {
	input      []EntityKind
	kind       OperationKind
	output     EntityKind
	capability Capability
}

// compatibility is the legality table. Trim is reserved and has no rule.
var compatibility = []rule{
	{[]EntityKind{KindImage}, OpCrop, KindImage, CapImage},
	{[]EntityKind{KindImage}, OpAnnotate, KindImage, CapImage},
	{[]EntityKind{KindImage}, OpResize, KindImage, CapImage},
	{[]EntityKind{KindImage}, ConvertTo(KindImage), KindImage, CapImage},
	{[]EntityKind{KindImage}, ConvertTo(KindText), KindText, CapOCR},
	{[]EntityKind{KindText}, ConvertTo(KindText), KindText, CapNone},
	{[]EntityKind{KindText}, OpSummarize, KindText, CapLLM},
}

func lookup(k OperationKind, inputs []EntityKind) (rule, bool) {
	for _, r := range compatibility {
		if r.kind == k && slices.Equal(r.input, inputs) {
			return r, true
		}
	}
	return rule{}, false
}

// Analyze returns the output kind of applying k to inputs.
func (k OperationKind) Analyze(inputs []EntityKind) (EntityKind, error) {
	r, ok := lookup(k, inputs)
	if !ok {
		return "", fmt.Errorf("%w: %s on %v", apperr.ErrUnsupported, k, inputs)
	}
	return r.output, nil
}

// Requires names the capability k needs on inputs.
func (k OperationKind) Requires(inputs []EntityKind) (Capability, error) {
	r, ok := lookup(k, inputs)
	if !ok {
		return CapNone, fmt.Errorf("%w: %s on %v", apperr.ErrUnsupported, k, inputs)
	}
	return r.capability, nil
}

// Synthesize lists the operation kinds legal on a single input of kind k.
func (k EntityKind) Synthesize() []OperationKind {
	var out []OperationKind
	for _, r := range compatibility {
		if len(r.input) == 1 && r.input[0] == k {
			out = append(out, r.kind)
		}
	}
	return out
}
