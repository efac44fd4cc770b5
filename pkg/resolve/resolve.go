// Package resolve turns user-typed tokens into catalog entries.
//
// A token matches an entry when it is a case-insensitive prefix of the entry
// name or of the index-qualified display form ("#01: Battery Service").
// The same algorithm serves devices, services and characteristics.
package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// Named is anything that can be looked up by a human-readable name.
type Named interface {
	Name() string
}

// ErrorKind classifies a resolution failure.
type ErrorKind string

const (
	KindNotFound  ErrorKind = "not found"
	KindAmbiguous ErrorKind = "ambiguous"
)

// Error describes a failed resolution.
type Error struct {
	Kind       ErrorKind
	Token      string
	Candidates []string // display names of all matching entries, set for KindAmbiguous
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind == KindAmbiguous {
		return fmt.Sprintf("%q is ambiguous: matches %s", e.Token, strings.Join(e.Candidates, ", "))
	}
	return fmt.Sprintf("%q %s", e.Token, e.Kind)
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrAmbiguous = &Error{Kind: KindAmbiguous}
)

// DisplayName returns the index-qualified form used when listing catalog entries.
func DisplayName(index int, name string) string {
	return fmt.Sprintf("#%02d: %s", index, name)
}

// Resolve finds the single entry matched by token.
// It returns ErrNotFound when nothing matches and ErrAmbiguous when more than one entry does.
func Resolve[T Named](items []T, token string) (T, error) {
	var zero T

	matched := -1
	var candidates []string
	for i, item := range items {
		if !Matches(i, item.Name(), token) {
			continue
		}
		if matched < 0 {
			matched = i
		}
		candidates = append(candidates, DisplayName(i, item.Name()))
	}

	switch {
	case matched < 0:
		return zero, &Error{Kind: KindNotFound, Token: token}
	case len(candidates) > 1:
		return zero, &Error{Kind: KindAmbiguous, Token: token, Candidates: candidates}
	default:
		return items[matched], nil
	}
}

// Matches reports whether token selects the entry with the given index and name.
// Tokens starting with '#' are also compared against the display form.
func Matches(index int, name, token string) bool {
	t := strings.ToLower(token)
	if strings.HasPrefix(strings.ToLower(name), t) {
		return true
	}
	return strings.HasPrefix(t, "#") && strings.HasPrefix(strings.ToLower(DisplayName(index, name)), t)
}

// IsResolutionError reports whether err is a NotFound or Ambiguous failure.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAmbiguous)
}
