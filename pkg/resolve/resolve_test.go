package resolve

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry string

func (e entry) Name() string { return string(e) }

func entries(names ...string) []entry {
	out := make([]entry, len(names))
	for i, n := range names {
		out[i] = entry(n)
	}
	return out
}

func TestResolve(t *testing.T) {
	catalog := entries("Battery Service", "Device Information")

	tests := []struct {
		name     string
		token    string
		expected string
		wantErr  error
	}{
		{name: "prefix", token: "batt", expected: "Battery Service"},
		{name: "single letter", token: "d", expected: "Device Information"},
		{name: "case-insensitive", token: "DEVICE", expected: "Device Information"},
		{name: "exact", token: "Battery Service", expected: "Battery Service"},
		{name: "display form", token: "#01: Device Information", expected: "Device Information"},
		{name: "display form prefix", token: "#00", expected: "Battery Service"},
		{name: "no match", token: "x", wantErr: ErrNotFound},
		{name: "longer than name", token: "Battery Service 2", wantErr: ErrNotFound},
		{name: "hash alone is ambiguous", token: "#", wantErr: ErrAmbiguous},
		{name: "empty token matches everything", token: "", wantErr: ErrAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := Resolve(catalog, tt.token)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, actual.Name())
		})
	}
}

func TestResolve_AmbiguousListsCandidates(t *testing.T) {
	catalog := entries("Custom Service: 1234", "Custom Service: 5678", "Generic Access")

	_, err := Resolve(catalog, "custom")
	require.ErrorIs(t, err, ErrAmbiguous)

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, []string{"#00: Custom Service: 1234", "#01: Custom Service: 5678"}, rerr.Candidates)
	assert.Contains(t, err.Error(), "ambiguous")

	actual, err := Resolve(catalog, "#01")
	require.NoError(t, err, "index-qualified display form MUST disambiguate")
	assert.Equal(t, "Custom Service: 5678", actual.Name())
}

func TestResolve_SucceedsIffExactlyOnePrefixMatch(t *testing.T) {
	catalog := entries("Battery Service", "Battery Level", "Body Sensor Location", "Device Name", "Appearance", "Heart Rate")

	// every prefix of every name, in several casings
	var tokens []string
	for _, e := range catalog {
		for i := 1; i <= len(e); i++ {
			p := string(e)[:i]
			tokens = append(tokens, p, strings.ToUpper(p), strings.ToLower(p))
		}
	}
	tokens = append(tokens, "zzz", "Heart Rates")

	for _, token := range tokens {
		matches := 0
		for _, e := range catalog {
			if strings.HasPrefix(strings.ToLower(e.Name()), strings.ToLower(token)) {
				matches++
			}
		}

		actual, err := Resolve(catalog, token)
		switch matches {
		case 0:
			assert.ErrorIs(t, err, ErrNotFound, "token %q MUST NOT resolve", token)
		case 1:
			if assert.NoError(t, err, "token %q MUST resolve", token) {
				assert.True(t, strings.HasPrefix(strings.ToLower(actual.Name()), strings.ToLower(token)))
			}
		default:
			assert.ErrorIs(t, err, ErrAmbiguous, "token %q MUST be ambiguous", token)
		}
	}
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(entries("Generic Access", "Generic Attribute")...)
	key := c.Add(entry("Battery Service"))

	assert.Equal(t, "#02: Battery Service", key)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"#00: Generic Access", "#01: Generic Attribute", "#02: Battery Service"}, c.DisplayNames())
	assert.Equal(t, entries("Generic Access", "Generic Attribute", "Battery Service"), c.Items())

	found, ok := c.Lookup("#01: Generic Attribute")
	assert.True(t, ok)
	assert.Equal(t, entry("Generic Attribute"), found)

	_, err := c.Resolve("generic")
	assert.ErrorIs(t, err, ErrAmbiguous)

	resolved, err := c.Resolve("generic att")
	require.NoError(t, err)
	assert.Equal(t, entry("Generic Attribute"), resolved)

	c.Clear()
	assert.Equal(t, 0, c.Len(), "cleared catalog MUST be empty")
	_, err = c.Resolve("generic")
	assert.ErrorIs(t, err, ErrNotFound)
}
