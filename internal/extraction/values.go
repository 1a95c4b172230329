package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Shape is the declared form of a matched token.
type Shape uint8

const (
	ShapeText Shape = iota
	ShapeDecimal
	ShapeInteger
	ShapeDate
)

// Value is a token converted under its declared shape. Exactly one field is
// set.
type Value struct {
	Text    *string
	Number  *float64
	Integer *int
	Date    *Date
}

// number returns the value as a float when it is numeric.
func (v Value) number() *float64 {
	if v.Number != nil {
		return v.Number
	}
	if v.Integer != nil {
		f := float64(*v.Integer)
		return &f
	}
	return nil
}

var monthNames = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"setiembre":  time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

var (
	thousandsGrouped = regexp.MustCompile(`^-?[1-9]\d{0,2}(?:\.\d{3})+$`)
	integerPattern   = regexp.MustCompile(`^(?:\d{1,3}(?:[.,]\d{3})+|\d+)$`)
	numericDate      = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	spelledDate      = regexp.MustCompile(`(?i)^(\d{1,2})\s+de\s+(\p{L}+)\s+(?:de\s+|del\s+)?(\d{4})$`)
)

// Convert parses token under shape. The second result is false when the token
// does not fit the shape.
func Convert(token string, shape Shape) (Value, bool) {
	token = strings.TrimSpace(token)
	switch shape {
	case ShapeText:
		if token == "" {
			return Value{}, false
		}
		return Value{Text: &token}, true
	case ShapeDecimal:
		f, ok := ParseDecimal(token)
		if !ok {
			return Value{}, false
		}
		return Value{Number: &f}, true
	case ShapeInteger:
		n, ok := ParseInteger(token)
		if !ok {
			return Value{}, false
		}
		return Value{Integer: &n}, true
	case ShapeDate:
		d, ok := ParseDate(token)
		if !ok {
			return Value{}, false
		}
		return Value{Date: &d}, true
	}
	return Value{}, false
}

// ParseDecimal reads a number written with a comma decimal separator and
// period thousands separators ("1.234,56"). Tokens without a comma are read
// with a period decimal separator unless the periods group thousands.
func ParseDecimal(token string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(token), " ", "")
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case thousandsGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// ParseInteger reads a whole number that may group thousands with periods or
// commas.
func ParseInteger(token string) (int, bool) {
	s := strings.TrimSpace(token)
	if !integerPattern.MatchString(s) {
		return 0, false
	}
	s = strings.NewReplacer(".", "", ",", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseDate reads "DD/MM/YYYY" and Spanish spelled-out dates such as
// "15 de enero de 2024".
func ParseDate(token string) (Date, bool) {
	s := strings.TrimSpace(token)
	var day, year int
	var month time.Month

	if m := numericDate.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[1])
		n, _ := strconv.Atoi(m[2])
		month = time.Month(n)
		year, _ = strconv.Atoi(m[3])
	} else if m := spelledDate.FindStringSubmatch(s); m != nil {
		day, _ = strconv.Atoi(m[1])
		var ok bool
		if month, ok = monthNames[fold(m[2])]; !ok {
			return Date{}, false
		}
		year, _ = strconv.Atoi(m[3])
	} else {
		return Date{}, false
	}

	if month < time.January || month > time.December {
		return Date{}, false
	}
	d := NewDate(year, month, day)
	// time.Date normalizes 31/02 into March
	if d.Day() != day || d.Month() != month {
		return Date{}, false
	}
	return d, true
}
