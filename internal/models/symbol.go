package models

import "strings"

// NormalizeSymbol trims whitespace and upper-cases a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsLegalSymbol reports whether s can be placed in a provider URL path or
// query unescaped. Letters, digits and . - ^ = _ : / are allowed; covers
// share classes (BRK.B), indices (^GSPC), futures (CL=F) and pairs (EUR/USD).
func IsLegalSymbol(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune(".-^=_:/", r):
		default:
			return false
		}
	}
	return true
}
