package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalid is returned for an empty or malformed symbol or query,
	// before anything is read or written.
	ErrInvalid = errors.New("invalid request")
	// ErrUnavailable means the upstream source answered with an error or a
	// broken payload, or could not be reached.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotFound means every source was exhausted.
	ErrNotFound = errors.New("not found")
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// NormalizeSymbol trims and upper-cases raw and checks it is a ticker.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInvalid)
	}
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: malformed symbol %q", ErrInvalid, raw)
	}
	return s, nil
}
