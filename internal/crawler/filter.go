package crawler

import "strings"

// Admissible reports whether id contains none of the excluded substrings.
func Admissible(id string, excludes []string) bool {
	for _, ex := range excludes {
		if ex != "" && strings.Contains(id, ex) {
			return false
		}
	}
	return true
}
