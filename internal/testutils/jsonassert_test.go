package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).Options()
	assert.True(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.True(t, opts.AllowPresencePlaceholder, "AllowPresencePlaceholder MUST default to true")
	assert.False(t, opts.IgnoreArrayOrder, "IgnoreArrayOrder MUST default to false")
}

func TestJSONAsserter_Compare(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		equal    bool
	}{
		{"identical", nil, `{"name":"Thermo"}`, `{"name":"Thermo"}`, true},
		{"key order ignored", nil, `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"value differs", nil, `{"name":"Alpha"}`, `{"name":"Thermo"}`, false},
		{"extra key ignored", nil, `{"name":"Thermo","rssi":-40}`, `{"name":"Thermo"}`, true},
		{"extra key strict", []JSONOption{WithIgnoreExtraKeys(false)}, `{"name":"Thermo","rssi":-40}`, `{"name":"Thermo"}`, false},
		{"missing key", nil, `{}`, `{"name":"Thermo"}`, false},
		{"presence matches any value", nil, `{"address":"00:00:00:00:00:01"}`, `{"address":"<<PRESENCE>>"}`, true},
		{"presence requires the key", nil, `{}`, `{"address":"<<PRESENCE>>"}`, false},
		{"presence disabled", []JSONOption{WithAllowPresencePlaceholder(false)}, `{"address":"x"}`, `{"address":"<<PRESENCE>>"}`, false},
		{"root arrays", nil, `[{"name":"Alpha"},{"name":"Thermo"}]`, `[{"name":"Alpha"},{"name":"Thermo"}]`, true},
		{"array order matters", nil, `[1,2]`, `[2,1]`, false},
		{"array order ignored", []JSONOption{WithIgnoreArrayOrder(true)}, `[1,2]`, `[2,1]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.equal, ok, "Assert result MUST reflect structural equality")
			assert.Equal(t, !tt.equal, len(rec.failures) == 1, "a mismatch MUST be reported exactly once")
		})
	}
}

func TestJSONAsserter_DiffNamesTheChange(t *testing.T) {
	// GOAL: A mismatch produces a readable diff mentioning the differing value
	//
	// TEST SCENARIO: Compare device lists differing in one name → diff mentions both names

	d := NewJSONAsserter(t).Diff(`{"name":"Alpha"}`, `{"name":"Thermo"}`)
	assert.Contains(t, d, "Thermo", "diff MUST show the expected value")
	assert.Contains(t, d, "Alpha", "diff MUST show the actual value")
}

func TestJSONAsserter_InvalidInput(t *testing.T) {
	assert.Contains(t, NewJSONAsserter(t).Diff(`not json`, `{}`), "invalid actual JSON",
		"malformed actual JSON MUST be reported")
	assert.Contains(t, NewJSONAsserter(t).Diff(`{}`, `{`), "invalid expected JSON",
		"malformed expected JSON MUST be reported")
}
