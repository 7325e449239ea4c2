package common

import "strings"

// FirstKeyword returns the leading keyword of a statement, uppercased. The
// keyword is the initial run of letters, digits, and underscores after
// trimming whitespace, so "select 1", "SELECT(1)", and "from(bucket:..)"
// yield SELECT, SELECT, FROM.
func FirstKeyword(query string) string {
	s := strings.TrimSpace(query)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			end++
			continue
		}
		break
	}
	return strings.ToUpper(s[:end])
}

// CheckSafeMode enforces the safe-mode contract: when safeMode is set, the
// statement's first keyword must be one of the dialect's read verbs or the
// call fails with UnsafeQueryError. Verbs are compared case-insensitively.
func CheckSafeMode(query string, safeMode bool, readVerbs ...string) error {
	if !safeMode {
		return nil
	}
	kw := FirstKeyword(query)
	for _, v := range readVerbs {
		if kw == strings.ToUpper(v) {
			return nil
		}
	}
	return &UnsafeQueryError{Query: query}
}
