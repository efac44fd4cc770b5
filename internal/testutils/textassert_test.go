package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).Options()
	assert.True(t, opts.TrimLines, "TrimLines MUST default to true")
	assert.True(t, opts.SkipEmptyLines, "SkipEmptyLines MUST default to true")
	assert.False(t, opts.StripTimestamps, "StripTimestamps MUST default to false")
	assert.False(t, opts.EnableColors, "EnableColors MUST default to false")
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		equal    bool
	}{
		{"identical", nil, "a\nb", "a\nb", true},
		{"indentation ignored", nil, "  a\n\tb  ", "a\nb", true},
		{"blank lines ignored", nil, "a\n\n\nb\n", "a\nb", true},
		{"content differs", nil, "a\nc", "a\nb", false},
		{"strict whitespace", []TextOption{WithTrimLines(false)}, "  a", "a", false},
		{"strict blank lines", []TextOption{WithSkipEmptyLines(false)}, "a\n\nb", "a\nb", false},
		{"timestamps stripped", []TextOption{WithStripTimestamps(true)}, "[12:00:01] Connected", "Connected", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewTextAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.equal, ok, "Assert result MUST reflect normalized equality")
			assert.Equal(t, !tt.equal, len(rec.failures) == 1, "a mismatch MUST be reported exactly once")
		})
	}
}

func TestTextAsserter_DiffShowsBothSides(t *testing.T) {
	// GOAL: A mismatch produces a unified diff naming the removed and the added line
	//
	// TEST SCENARIO: Compare two transcripts differing in one line → diff has -expected and +actual lines

	d := NewTextAsserter(t).Diff("Connected\nBattery Level: 50", "Connected\nBattery Level: 40")
	assert.Contains(t, d, "-Battery Level: 40", "diff MUST show the expected line as removed")
	assert.Contains(t, d, "+Battery Level: 50", "diff MUST show the actual line as added")
}

func TestTextAsserter_ColoredDiffMarksWhitespace(t *testing.T) {
	d := NewTextAsserter(t, WithEnableColors(true), WithTrimLines(false)).Diff("a b", "a  b")
	assert.Contains(t, d, "a·b", "colored diff MUST make spaces visible")
	assert.Contains(t, d, "\x1b[", "colored diff MUST contain ANSI escapes")
}
