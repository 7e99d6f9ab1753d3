// Package casing translates map keys between the camelCase used by the admin
// UI and AI output and the snake_case used by the API and storage layer.
package casing

import (
	"sort"
	"strings"
	"unicode"
)

// SnakeKey converts a single camelCase key to snake_case.
// Every upper-case letter becomes "_" followed by its lower-case form, so
// "isDefault" becomes "is_default" and "imageURL" becomes "image_u_r_l".
// The mapping is the exact inverse of CamelKey for camelCase input.
func SnakeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)
	for _, r := range key {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelKey converts a single snake_case key to camelCase.
func CamelKey(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	b.Grow(len(key))
	upper := false
	for i, r := range key {
		if r == '_' && i > 0 {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	if upper {
		b.WriteByte('_')
	}
	return b.String()
}

// ToSnakeCase returns a copy of m with every top-level key converted to snake_case.
func ToSnakeCase(m map[string]any) map[string]any {
	return convert(m, SnakeKey, false)
}

// ToCamelCase returns a copy of m with every top-level key converted to camelCase.
func ToCamelCase(m map[string]any) map[string]any {
	return convert(m, CamelKey, false)
}

// ToSnakeCaseDeep converts keys of m and of every nested map, including maps
// inside slices.
func ToSnakeCaseDeep(m map[string]any) map[string]any {
	return convert(m, SnakeKey, true)
}

// ToCamelCaseDeep is the recursive counterpart of ToCamelCase.
func ToCamelCaseDeep(m map[string]any) map[string]any {
	return convert(m, CamelKey, true)
}

// convert is deterministic when two keys fold to the same result: a key
// already in target form wins, otherwise the first key in sorted order.
func convert(m map[string]any, fn func(string) string, deep bool) map[string]any {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	exact := make(map[string]bool, len(m))
	for _, k := range keys {
		v := m[k]
		if deep {
			v = convertValue(v, fn)
		}
		target := fn(k)
		if _, taken := out[target]; taken && (exact[target] || target != k) {
			continue
		}
		out[target] = v
		exact[target] = target == k
	}
	return out
}

func convertValue(v any, fn func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		return convert(val, fn, true)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = convertValue(item, fn)
		}
		return items
	default:
		return v
	}
}
