package extraction

import "errors"

// ErrUnrecognizedProvider is returned when text matches no known provider.
var ErrUnrecognizedProvider = errors.New("unrecognized provider")

// Extract classifies raw OCR text and applies that provider's rule table.
// Fields that do not match are left nil; only an unknown provider is an error.
func Extract(raw string) (*Record, error) {
	provider := Detect(raw)
	if provider == Unknown {
		return nil, ErrUnrecognizedProvider
	}
	return ExtractAs(provider, raw), nil
}

// ExtractAs applies p's rule table to raw without detection. When a table has
// several rules for one field, the first that yields a value wins.
func ExtractAs(p Provider, raw string) *Record {
	text := Normalize(raw)
	record := &Record{Provider: p, RawText: raw}
	for _, rule := range p.rules() {
		if record.has(rule.Field) {
			continue
		}
		if v, ok := rule.Apply(text); ok {
			record.set(rule.Field, v)
		}
	}
	return record
}
