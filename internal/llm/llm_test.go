package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"letterdesk/internal/config"
	"letterdesk/internal/core"
	"letterdesk/internal/observability"
)

func TestNewClient_NoAPIKey(t *testing.T) {
	_, err := NewClient(context.Background(), config.GeminiConfig{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare object", `{"subject":"Hi"}`, "Hi", false},
		{"fenced", "```json\n{\"subject\":\"Fenced\"}\n```", "Fenced", false},
		{"prose around", `Here you go: {"subject":"Prose","x":{"y":1}} Enjoy!`, "Prose", false},
		{"no braces", "I cannot help with that", "", true},
		{"invalid json", `{"subject": }`, "", true},
		{"reversed braces", `} nothing {`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Fatalf("Expected ErrNoJSON, got %v", err)
				}
				if !strings.HasPrefix(err.Error(), "Failed to parse AI response as JSON") {
					t.Errorf("Unexpected error message: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if got["subject"] != tt.want {
				t.Errorf("Expected subject %q, got %v", tt.want, got["subject"])
			}
		})
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"article_count": "3", "sequence_name": "Weekly"}

	got := Substitute("{{ $json.sequence_name }} has {{$json.article_count}} items, {{ $json.unknown }}", vars)
	want := "Weekly has 3 items, {{ $json.unknown }}"
	if got != want {
		t.Errorf("Substitute() = %q, want %q", got, want)
	}
}

func TestPromptVars(t *testing.T) {
	req := Request{
		Articles: []core.Article{
			{ID: "a1", Title: "First", Link: "https://example.com/1", PublishedDate: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)},
		},
		DayStart:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DayEnd:       time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		SequenceName: "Weekly",
	}

	vars, err := PromptVars(req)
	if err != nil {
		t.Fatalf("PromptVars() error = %v", err)
	}
	if vars["article_count"] != "1" {
		t.Errorf("Expected article_count 1, got %s", vars["article_count"])
	}
	if vars["day_start"] != "2024-03-01" || vars["day_end"] != "2024-03-05" {
		t.Errorf("Unexpected day range %s..%s", vars["day_start"], vars["day_end"])
	}
	if !strings.Contains(vars["articles"], `"source_link": "https://example.com/1"`) {
		t.Errorf("Articles JSON missing source link: %s", vars["articles"])
	}

	rendered := Substitute(DefaultUserPrompt, vars)
	if strings.Contains(rendered, "$json") {
		t.Errorf("Default prompt left placeholders: %s", rendered)
	}
}

func TestResolvePrompt(t *testing.T) {
	if got := ResolvePrompt("seq", "global", "default"); got != "seq" {
		t.Errorf("Expected sequence override, got %s", got)
	}
	if got := ResolvePrompt("", "global", "default"); got != "global" {
		t.Errorf("Expected global setting, got %s", got)
	}
	if got := ResolvePrompt("", "", "default"); got != "default" {
		t.Errorf("Expected default, got %s", got)
	}
}

type stubGenerator struct {
	calls int
	out   map[string]any
	err   error
}

func (s *stubGenerator) GenerateNewsletter(ctx context.Context, req Request) (map[string]any, error) {
	s.calls++
	return s.out, s.err
}

func TestTracedGeneratorPassesThrough(t *testing.T) {
	stub := &stubGenerator{out: map[string]any{"subject": "x"}}
	tg := NewTracedGenerator(stub, DefaultModel, observability.Disabled())

	got, err := tg.GenerateNewsletter(context.Background(), Request{})
	if err != nil {
		t.Fatalf("GenerateNewsletter() error = %v", err)
	}
	if got["subject"] != "x" || stub.calls != 1 {
		t.Errorf("Expected one pass-through call, got %v after %d calls", got, stub.calls)
	}

	stub.err = errors.New("boom")
	if _, err := tg.GenerateNewsletter(context.Background(), Request{}); err == nil {
		t.Error("Expected wrapped generator error")
	}
}
