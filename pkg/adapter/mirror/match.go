package mirror

import "strings"

// MatchMode selects how a source's directory filter is compared against the
// paths it advertises.
type MatchMode int

const (
	// Prefix keeps paths that start with the filter.
	Prefix MatchMode = iota

	// Contains keeps paths that contain the filter anywhere (search mode).
	Contains
)

// Matches reports whether candidate passes filter under m.
func (m MatchMode) Matches(candidate, filter string) bool {
	if m == Contains {
		return strings.Contains(candidate, filter)
	}
	return strings.HasPrefix(candidate, filter)
}

func (m MatchMode) String() string {
	if m == Contains {
		return "contains"
	}
	return "prefix"
}

// MatchRecord is an advertised file queued for download.
type MatchRecord struct {
	Path    string
	Address string
	Port    int

	// RequesterID is the ID the manager announced in its LIST, so the
	// content server applies the same delay to the fetch.
	RequesterID int64

	// DelayMillis is the delay announced with RequesterID. The fetch waits
	// that much longer for the server's first reply.
	DelayMillis int64
}
