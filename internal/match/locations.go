package match

import (
	"regexp"
	"strings"
)

var postalToken = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// Locations is a client's parsed preferred_locations.
type Locations struct {
	PostalCodes []string // five-digit codes
	Places      []string // lower-cased, whitespace-collapsed place names
}

// HasAny reports whether any location preference was given.
func (l Locations) HasAny() bool { return len(l.PostalCodes) > 0 || len(l.Places) > 0 }

// ParseLocations splits free text on , ; newline / | and classifies each
// token as a postal code or a place name. Duplicates are dropped.
func ParseLocations(text string) Locations {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', '\n', '\r', '/', '|':
			return true
		}
		return false
	})

	var locs Locations
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tok = normalizePlace(tok)
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true

		if postalToken.MatchString(tok) {
			zip := tok[:5]
			if !seen["zip:"+zip] {
				seen["zip:"+zip] = true
				locs.PostalCodes = append(locs.PostalCodes, zip)
			}
			continue
		}
		locs.Places = append(locs.Places, tok)
	}
	return locs
}

// normalizePlace lower-cases and collapses runs of whitespace.
func normalizePlace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// postalPrefix returns the first five characters of a postal code.
func postalPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		return s[:5]
	}
	return s
}
