package config

// DefaultHiddenSites returns the patterns for browser-internal pages that the
// summary view never lists. A pattern ending in "*" matches by prefix; any
// other pattern matches as a substring.
func DefaultHiddenSites() []string {
	return []string{
		"newtab",
		"chrome*",
		"edge*",
		"brave*",
		"about:*",
		"localhost*",
	}
}
