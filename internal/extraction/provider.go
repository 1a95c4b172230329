package extraction

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Provider identifies the electricity company whose invoice layout produced
// a text.
type Provider uint8

const (
	Unknown Provider = iota
	Endesa
	Iberdrola
)

// detectionOrder is the priority in which provider names are searched for.
// Every provider except Unknown must appear here and have a rule table.
var detectionOrder = []Provider{Endesa, Iberdrola}

func (p Provider) String() string {
	switch p {
	case Endesa:
		return "endesa"
	case Iberdrola:
		return "iberdrola"
	default:
		return "unknown"
	}
}

// ParseProvider is the inverse of String. Unrecognized names map to Unknown.
func ParseProvider(name string) Provider {
	for _, p := range detectionOrder {
		if p.String() == fold(name) {
			return p
		}
	}
	return Unknown
}

func (p Provider) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(text []byte) error {
	*p = ParseProvider(string(text))
	return nil
}

// rules returns the ordered rule table for p.
func (p Provider) rules() []Rule {
	switch p {
	case Endesa:
		return endesaRules
	case Iberdrola:
		return iberdrolaRules
	default:
		return nil
	}
}

// Detect reports which known provider's name occurs in text, searching in
// priority order. The search ignores case and accents.
func Detect(text string) Provider {
	folded := fold(text)
	for _, p := range detectionOrder {
		if strings.Contains(folded, p.String()) {
			return p
		}
	}
	return Unknown
}

// fold lowercases s and strips combining marks so that "ENDESA ENERGÍA" and
// "endesa energia" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}
