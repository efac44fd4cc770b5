package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T used by TextAsserter.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextAssertOptions control how shell transcripts are normalized before comparison.
type TextAssertOptions struct {
	TrimLines       bool `default:"true"`
	SkipEmptyLines  bool `default:"true"`
	StripTimestamps bool `default:"false"`
	EnableColors    bool `default:"false"`
}

type TextOption func(*TextAssertOptions)

func WithTrimLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.TrimLines = v }
}

func WithSkipEmptyLines(v bool) TextOption {
	return func(o *TextAssertOptions) { o.SkipEmptyLines = v }
}

// WithStripTimestamps drops a leading "[...]" block from every line.
func WithStripTimestamps(v bool) TextOption {
	return func(o *TextAssertOptions) { o.StripTimestamps = v }
}

func WithEnableColors(v bool) TextOption {
	return func(o *TextAssertOptions) { o.EnableColors = v }
}

// TextAsserter compares multi-line output and reports a unified diff on mismatch.
type TextAsserter struct {
	t    TestingT
	opts TextAssertOptions
}

func NewTextAsserter(t TestingT, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, opts: o}
}

func (ta *TextAsserter) Options() TextAssertOptions {
	return ta.opts
}

// Assert reports a failure when actual differs from expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) bool {
	if d := ta.Diff(actual, expected); d != "" {
		ta.t.Errorf("Output mismatch:\n%s", d)
		return false
	}
	return true
}

// Diff returns "" when both texts are equal after normalization.
func (ta *TextAsserter) Diff(actual, expected string) string {
	a, e := ta.normalize(actual), ta.normalize(expected)
	if a == e {
		return ""
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.opts.EnableColors {
		return unified
	}
	return colorize(unified)
}

func (ta *TextAsserter) normalize(text string) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if ta.opts.StripTimestamps && strings.HasPrefix(line, "[") {
			if i := strings.Index(line, "]"); i > 0 {
				line = line[i+1:]
			}
		}
		if ta.opts.TrimLines {
			line = strings.TrimSpace(line)
		}
		if ta.opts.SkipEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorize(diff string) string {
	paint := func(attr color.Attribute) *color.Color {
		c := color.New(attr)
		c.EnableColor()
		return c
	}
	header, hunk, del, add := paint(color.FgYellow), paint(color.FgCyan), paint(color.FgRed), paint(color.FgGreen)
	visible := strings.NewReplacer(" ", "·", "\t", "→")

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunk.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = del.Sprint(visible.Replace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = add.Sprint(visible.Replace(line))
		}
	}
	return strings.Join(lines, "\n")
}
