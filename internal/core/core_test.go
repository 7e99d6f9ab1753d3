package core

import (
	"testing"
	"time"
)

func TestSequenceIsActive(t *testing.T) {
	tests := []struct {
		name string
		seq  *Sequence
		want bool
	}{
		{"nil", nil, false},
		{"draft", &Sequence{Status: SequenceDraft}, false},
		{"paused", &Sequence{Status: SequencePaused}, false},
		{"active", &Sequence{Status: SequenceActive}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.seq.IsActive(); got != tt.want {
				t.Errorf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSequenceLocation(t *testing.T) {
	seq := &Sequence{Timezone: "America/New_York"}
	if loc := seq.Location(); loc.String() != "America/New_York" {
		t.Errorf("Expected America/New_York, got %s", loc)
	}

	seq.Timezone = "Not/AZone"
	if loc := seq.Location(); loc != time.UTC {
		t.Errorf("Expected UTC fallback for unknown zone, got %s", loc)
	}

	seq.Timezone = ""
	if loc := seq.Location(); loc != time.UTC {
		t.Errorf("Expected UTC for empty zone, got %s", loc)
	}
}

func TestStringPtr(t *testing.T) {
	if StringPtr("") != nil {
		t.Error("Expected nil for empty string")
	}
	p := StringPtr("abc")
	if p == nil || *p != "abc" {
		t.Errorf("Expected pointer to 'abc', got %v", p)
	}
	if Deref(nil) != "" {
		t.Error("Expected empty string for nil pointer")
	}
	if Deref(p) != "abc" {
		t.Errorf("Expected 'abc', got %s", Deref(p))
	}
}
