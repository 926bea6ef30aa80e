// Package normalize provides the canonical forms used before values are
// stored or compared.
package normalize

import "strings"

// Email trims whitespace and lowercases the address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims surrounding whitespace and collapses inner runs of spaces.
// Case is preserved.
func Name(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Username trims whitespace. Case is preserved for display; comparisons use
// the folded form stored alongside it.
func Username(s string) string {
	return strings.TrimSpace(s)
}

// Setting lowercases and trims an enumerated configuration value such as
// "Mandatory" or " username_email ".
func Setting(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
