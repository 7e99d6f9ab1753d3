package casing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeKey(t *testing.T) {
	tests := map[string]string{
		"isDefault":     "is_default",
		"createdAt":     "created_at",
		"featuredStory": "featured_story",
		"whyReadIt":     "why_read_it",
		"top3Stories":   "top3_stories",
		"already_snake": "already_snake",
		"id":            "id",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeKey(in), in)
	}
}

func TestCamelKey(t *testing.T) {
	tests := map[string]string{
		"is_default":     "isDefault",
		"created_at":     "createdAt",
		"top_stories":    "topStories",
		"alreadyCamel":   "alreadyCamel",
		"why_read_it":    "whyReadIt",
		"_private":       "_private",
		"trailing_":      "trailing_",
		"source_link_2x": "sourceLink2x",
	}
	for in, want := range tests {
		assert.Equal(t, want, CamelKey(in), in)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []map[string]any{
		{"isDefault": true, "createdAt": "x"},
		{"includeFooter": false, "templateId": "abc", "dayOfWeek": []any{1, 3}},
		{"imageURL": "https://x", "lastSent": nil},
		{"name": "plain"},
	}

	for _, in := range inputs {
		assert.Equal(t, in, ToCamelCase(ToSnakeCase(in)))
	}
}

func TestToSnakeCaseShallow(t *testing.T) {
	in := map[string]any{
		"featuredStory": map[string]any{"whyReadIt": "because"},
	}
	out := ToSnakeCase(in)

	nested, ok := out["featured_story"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", out["featured_story"])
	}
	assert.Contains(t, nested, "whyReadIt", "shallow conversion must not touch nested keys")
}

func TestToSnakeCaseDeep(t *testing.T) {
	in := map[string]any{
		"featuredStory": map[string]any{"whyReadIt": "because"},
		"topStories": []any{
			map[string]any{"sourceLink": "https://a"},
			"not a map",
		},
	}
	out := ToSnakeCaseDeep(in)

	assert.Equal(t, map[string]any{"why_read_it": "because"}, out["featured_story"])
	stories := out["top_stories"].([]any)
	assert.Equal(t, map[string]any{"source_link": "https://a"}, stories[0])
	assert.Equal(t, "not a map", stories[1])

	assert.Equal(t, in, ToCamelCaseDeep(out))
}

func TestNilMap(t *testing.T) {
	assert.Nil(t, ToSnakeCase(nil))
	assert.Nil(t, ToCamelCase(nil))
}

func TestConvertCollisionsAreDeterministic(t *testing.T) {
	in := map[string]any{"featuredStory": "camel", "featured_story": "snake"}
	for i := 0; i < 50; i++ {
		assert.Equal(t, map[string]any{"featured_story": "snake"}, ToSnakeCase(in))
		assert.Equal(t, map[string]any{"featuredStory": "camel"}, ToCamelCase(in))
	}

	// Neither key is in target form: the first in sorted order wins.
	in = map[string]any{"a_b": 2, "a_B": 3}
	for i := 0; i < 50; i++ {
		assert.Equal(t, map[string]any{"aB": 3}, ToCamelCaseDeep(in))
	}
}
