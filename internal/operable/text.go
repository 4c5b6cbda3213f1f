package operable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sashabaranov/go-openai"

	"github.com/starford/mioring/internal/apperr"
	"github.com/starford/mioring/internal/ring"
)

func passthroughBackend() Backend {
	return Backend{
		Kind:    ring.ConvertTo(ring.KindText),
		Input:   ring.KindText,
		Schema:  emptySchema,
		Prepare: prepare[Passthrough],
	}
}

// Passthrough copies text unchanged, so the result still memoizes on disk.
type Passthrough struct{}

func (*Passthrough) Validate() error { return nil }

func (*Passthrough) Kind() ring.OperationKind { return ring.ConvertTo(ring.KindText) }

func (*Passthrough) Execute(_ context.Context, sources []string) ([]byte, error) {
	return readText(sources)
}

func readText(sources []string) ([]byte, error) {
	if len(sources) != 1 {
		return nil, fmt.Errorf("%w: expected one text, got %d", apperr.ErrInvalid, len(sources))
	}
	data, err := os.ReadFile(sources[0])
	if err != nil {
		return nil, fmt.Errorf("operable: read text: %w", err)
	}
	return data, nil
}

// Summarizer condenses text. OpenAISummarizer is the production implementation.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
}

// WithSummarizer enables summarize on text.
func WithSummarizer(s Summarizer) Option {
	return func(r *Registry) error {
		return r.Register(Backend{
			Kind:   ring.OpSummarize,
			Input:  ring.KindText,
			Schema: summarizeSchema,
			Prepare: func(attr json.RawMessage) (ring.Operable, error) {
				v, err := decodeAttr[Summarize](attr)
				if err != nil {
					return nil, err
				}
				v.backend = s
				return &v, nil
			},
		})
	}
}

const summarizeSchema = `{
  "type": "object",
  "properties": {
    "max_words": {"type": "integer", "minimum": 1, "maximum": 2000}
  },
  "additionalProperties": false
}`

// Summarize asks the configured model for a short summary.
type Summarize struct {
	MaxWords int `json:"max_words"`

	backend Summarizer
}

func (s *Summarize) Validate() error {
	if s.MaxWords == 0 {
		s.MaxWords = 100
	}
	return validation.ValidateStruct(s,
		validation.Field(&s.MaxWords, validation.Min(1), validation.Max(2000)),
	)
}

func (s *Summarize) Kind() ring.OperationKind { return ring.OpSummarize }

func (s *Summarize) Execute(ctx context.Context, sources []string) ([]byte, error) {
	data, err := readText(sources)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return []byte{}, nil
	}
	out, err := s.backend.Summarize(ctx, text, s.MaxWords)
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(out) + "\n"), nil
}

// OpenAISummarizer talks to any OpenAI-compatible chat completion endpoint.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, baseURL, model string) *OpenAISummarizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAISummarizer{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAISummarizer) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	var prompt bytes.Buffer
	fmt.Fprintf(&prompt, "Summarize the following text in at most %d words. Reply with the summary only.\n\n", maxWords)
	prompt.WriteString(text)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You write faithful, concise summaries."},
			{Role: openai.ChatMessageRoleUser, Content: prompt.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("operable: summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("operable: summarize: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
