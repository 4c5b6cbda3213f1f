package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - ring\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) != 2 || r.Tags[0] != "go" || r.Tags[1] != "ring" {
		t.Errorf("tags = %v, want [go ring]", r.Tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_PlainClipping(t *testing.T) {
	r, err := Parse([]byte("\n  meeting notes for tuesday\nsecond line\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "meeting notes for tuesday" {
		t.Errorf("title = %q, want first line", r.Title)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q, want whole input", r.Body)
	}
}

func TestExtractURLs(t *testing.T) {
	body := "See https://example.com/a, and (http://example.org/b).\nAgain https://example.com/a"
	urls := extractURLs(body)
	if len(urls) != 2 {
		t.Fatalf("len(urls) = %d, want 2: %v", len(urls), urls)
	}
	if urls[0] != "https://example.com/a" || urls[1] != "http://example.org/b" {
		t.Errorf("urls = %v", urls)
	}
}

func TestExtractURLs_None(t *testing.T) {
	if urls := extractURLs("ftp://nope and mailto:x@y"); len(urls) != 0 {
		t.Errorf("expected no urls, got %v", urls)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1BeforeFirstLine(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestDeriveTitle_Truncated(t *testing.T) {
	title := deriveTitle(nil, strings.Repeat("x", 200))
	if !strings.HasSuffix(title, "…") {
		t.Errorf("title = %q, want ellipsis", title)
	}
	if n := len([]rune(title)); n != maxTitle+1 {
		t.Errorf("title runes = %d, want %d", n, maxTitle+1)
	}
}
