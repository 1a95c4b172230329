package extraction

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Value token patterns shared by the provider rule tables.
const (
	amountToken      = `-?\d{1,3}(?:\.\d{3})*,\d{2}`
	quantityToken    = `\d{1,3}(?:\.\d{3})*,\d{2}`
	decimalToken     = `\d+(?:[.,]\d+)*`
	integerToken     = `\d{1,3}(?:[.,]\d{3})+|\d+`
	dateToken        = `\d{2}/\d{2}/\d{4}`
	spelledDateToken = `\d{1,2} de \p{L}+ de \d{4}`
)

var quantity = regexp.MustCompile(quantityToken)

// Occurrence selects one match when an anchor appears more than once.
// Positive positions count from the start of the text (1 is the first match),
// negative positions count from the end (-1 is the last match).
type Occurrence struct {
	position int
}

var (
	First = Occurrence{1}
	Last  = Occurrence{-1}
)

// Nth selects the n-th match, counting from 1.
func Nth(n int) Occurrence {
	return Occurrence{n}
}

func (o Occurrence) index(count int) (int, bool) {
	var i int
	switch {
	case o.position > 0:
		i = o.position - 1
	case o.position < 0:
		i = count + o.position
	default:
		return 0, false
	}
	if i < 0 || i >= count {
		return 0, false
	}
	return i, true
}

// Locator finds the raw token for a rule in normalized text.
type Locator interface {
	locate(text string) (string, bool)
}

// Anchored takes the first capture group of the selected match of Pattern.
type Anchored struct {
	Pattern *regexp.Regexp
	Pick    Occurrence
}

func (a Anchored) locate(text string) (string, bool) {
	matches := a.Pattern.FindAllStringSubmatch(text, -1)
	i, ok := a.Pick.index(len(matches))
	if !ok || len(matches[i]) < 2 {
		return "", false
	}
	return strings.TrimSpace(matches[i][1]), true
}

// Preceding takes a Token match that appears before the selected occurrence
// of Anchor. Back counts tokens backwards from the anchor; 1 is the closest.
// Layouts that print values in a column ahead of their row labels need this.
type Preceding struct {
	Anchor *regexp.Regexp
	Pick   Occurrence
	Token  *regexp.Regexp
	Back   int
}

func (p Preceding) locate(text string) (string, bool) {
	anchors := p.Anchor.FindAllStringIndex(text, -1)
	i, ok := p.Pick.index(len(anchors))
	if !ok {
		return "", false
	}
	tokens := p.Token.FindAllString(text[:anchors[i][0]], -1)
	if p.Back < 1 || p.Back > len(tokens) {
		return "", false
	}
	return tokens[len(tokens)-p.Back], true
}

// Rule extracts one field: where to look, what shape the token has, and an
// optional multiplier applied to numeric results.
type Rule struct {
	Field  Field
	Locate Locator
	Shape  Shape
	Scale  float64
}

// Apply runs the rule against normalized text. A rule that does not match or
// whose token does not parse yields false, never an error.
func (r Rule) Apply(text string) (Value, bool) {
	token, ok := r.Locate.locate(text)
	if !ok {
		return Value{}, false
	}
	v, ok := Convert(token, r.Shape)
	if !ok {
		return Value{}, false
	}
	if r.Scale != 0 && v.Number != nil {
		scaled, _ := decimal.NewFromFloat(*v.Number).Mul(decimal.NewFromFloat(r.Scale)).Float64()
		v.Number = &scaled
	}
	return v, true
}

func anchored(pattern string, pick Occurrence) Anchored {
	return Anchored{Pattern: regexp.MustCompile(pattern), Pick: pick}
}
