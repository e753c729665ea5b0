package model

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldType is the declared type of a custom field definition.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
)

var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`), "2006-01-02"},
	{regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`), "02/01/2006"},
	{regexp.MustCompile(`^\d{2}-\d{2}-\d{4}$`), "02-01-2006"},
}

// FieldValue is a custom field value tagged with its type. Storage always uses
// String(); the typed accessors are for callers that need the decoded form.
type FieldValue struct {
	kind FieldType
	raw  string
	num  float64
	b    bool
	date time.Time
}

// InferFieldValue types raw using the cascade boolean, number, date, text.
func InferFieldValue(raw string) FieldValue {
	s := strings.TrimSpace(raw)
	if b, ok := parseBoolLiteral(s); ok {
		return FieldValue{kind: FieldTypeBoolean, raw: s, b: b}
	}
	if n, ok := parseNumber(s); ok {
		return FieldValue{kind: FieldTypeNumber, raw: s, num: n}
	}
	for _, p := range datePatterns {
		if p.re.MatchString(s) {
			// a pattern match with an impossible calendar date still declares a date field
			t, _ := time.Parse(p.layout, s)
			return FieldValue{kind: FieldTypeDate, raw: s, date: t}
		}
	}
	return FieldValue{kind: FieldTypeText, raw: s}
}

// ParseFieldValue decodes a stored string as the given type.
func ParseFieldValue(t FieldType, raw string) (FieldValue, error) {
	s := strings.TrimSpace(raw)
	switch t {
	case FieldTypeText, "":
		return FieldValue{kind: FieldTypeText, raw: s}, nil
	case FieldTypeBoolean:
		b, ok := parseBoolLiteral(s)
		if !ok {
			return FieldValue{}, fmt.Errorf("%q is not a boolean", raw)
		}
		return FieldValue{kind: t, raw: s, b: b}, nil
	case FieldTypeNumber:
		n, ok := parseNumber(s)
		if !ok {
			return FieldValue{}, fmt.Errorf("%q is not a number", raw)
		}
		return FieldValue{kind: t, raw: s, num: n}, nil
	case FieldTypeDate:
		for _, p := range datePatterns {
			if !p.re.MatchString(s) {
				continue
			}
			d, err := time.Parse(p.layout, s)
			if err != nil {
				return FieldValue{}, fmt.Errorf("%q is not a valid date: %w", raw, err)
			}
			return FieldValue{kind: t, raw: s, date: d}, nil
		}
		return FieldValue{}, fmt.Errorf("%q is not a date", raw)
	default:
		return FieldValue{}, fmt.Errorf("unknown field type %q", t)
	}
}

// Type returns the variant tag.
func (v FieldValue) Type() FieldType { return v.kind }

// String returns the uniform storage encoding.
func (v FieldValue) String() string { return v.raw }

func (v FieldValue) Bool() (bool, bool) { return v.b, v.kind == FieldTypeBoolean }

func (v FieldValue) Number() (float64, bool) { return v.num, v.kind == FieldTypeNumber }

func (v FieldValue) Date() (time.Time, bool) {
	return v.date, v.kind == FieldTypeDate && !v.date.IsZero()
}

func parseBoolLiteral(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
