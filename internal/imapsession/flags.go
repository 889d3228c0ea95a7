package imapsession

import (
	"sort"
	"strings"
)

// FlagSet holds the per-message booleans derived from IMAP FLAGS.
type FlagSet struct {
	Seen     bool
	Flagged  bool
	Answered bool
	Deleted  bool
	Draft    bool
}

// ParseFlags maps raw FLAGS tokens onto booleans by exact case-insensitive
// match of the system flags.
func ParseFlags(flags []string) FlagSet {
	var fs FlagSet
	for _, f := range flags {
		switch strings.ToUpper(strings.TrimSpace(f)) {
		case `\SEEN`:
			fs.Seen = true
		case `\FLAGGED`:
			fs.Flagged = true
		case `\ANSWERED`:
			fs.Answered = true
		case `\DELETED`:
			fs.Deleted = true
		case `\DRAFT`:
			fs.Draft = true
		}
	}
	return fs
}

// NormalizeFlags renders a FLAGS list in canonical stored form: upper-cased,
// sorted, space-joined.
func NormalizeFlags(flags []string) string {
	normalized := make([]string, 0, len(flags))
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f != "" {
			normalized = append(normalized, f)
		}
	}
	sort.Strings(normalized)
	return strings.Join(normalized, " ")
}
