// Package scalar parses and formats single Abaqus data tokens while keeping
// the exact source spelling of every token.
package scalar

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrDecimalOverflow is returned when a decimal token evaluates to an
// infinity. The returned Scalar degrades to a String.
var ErrDecimalOverflow = errors.New("decimal evaluates to infinity")

// Kind identifies the variant held by a Scalar.
type Kind uint8

// Scalar kinds.
const (
	KindString Kind = iota
	KindInt
	KindDecimal
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDecimal:
		return "decimal"
	default:
		return "string"
	}
}

// Hint tells Parse which variant to try.
type Hint uint8

// Parse hints. HintUnknown tries int, then decimal, then string.
const (
	HintUnknown Hint = iota
	HintInt
	HintDecimal
	HintString
)

var (
	_intPattern     = regexp.MustCompile(`^[+-]?[0-9]+$`)
	_decimalPattern = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eEdD][+-]?[0-9]+)?$`)
	_infPattern     = regexp.MustCompile(`(?i)^[+-]?inf(inity)?$`)
)

// Scalar is one immutable data token. The zero value is an empty String.
type Scalar struct {
	kind     Kind
	raw      string
	core     string
	i        int64
	d        decimal.Decimal
	preserve bool
}

// Parse converts src into a Scalar. It never fails hard: tokens that do not
// match the hinted variant become Strings. A decimal that evaluates to an
// infinity returns a String Scalar together with ErrDecimalOverflow.
func Parse(src string, hint Hint) (Scalar, error) {
	s := Scalar{raw: src, core: strings.TrimSpace(src), preserve: true}
	switch hint {
	case HintString:
		return s, nil
	case HintInt:
		if s.parseInt() {
			return s, nil
		}
		return s, nil
	case HintDecimal:
		return s, s.parseDecimal()
	default:
		if s.parseInt() {
			return s, nil
		}
		return s, s.parseDecimal()
	}
}

// MustParse is Parse for inputs known to be valid; it drops ErrDecimalOverflow.
func MustParse(src string) Scalar {
	s, _ := Parse(src, HintUnknown)
	return s
}

// FromInt returns an Int Scalar spelled canonically.
func FromInt(v int64) Scalar {
	raw := strconv.FormatInt(v, 10)
	return Scalar{kind: KindInt, raw: raw, core: raw, i: v, preserve: true}
}

// FromDecimal returns a Decimal Scalar spelled canonically. Integral values
// get a trailing '.' so they stay decimals on re-parse.
func FromDecimal(v decimal.Decimal) Scalar {
	raw := v.String()
	if !strings.ContainsAny(raw, ".eE") {
		raw += "."
	}
	return Scalar{kind: KindDecimal, raw: raw, core: raw, d: v, preserve: true}
}

// FromString returns a String Scalar holding s verbatim.
func FromString(s string) Scalar {
	return Scalar{kind: KindString, raw: s, core: strings.TrimSpace(s), preserve: true}
}

func (s *Scalar) parseInt() bool {
	if !_intPattern.MatchString(s.core) {
		return false
	}
	v, err := strconv.ParseInt(s.core, 10, 64)
	if err != nil {
		// Out of int64 range: keep the value exactly as a decimal.
		return false
	}
	s.kind = KindInt
	s.i = v
	return true
}

func (s *Scalar) parseDecimal() error {
	if _infPattern.MatchString(s.core) {
		return ErrDecimalOverflow
	}
	if !_decimalPattern.MatchString(s.core) {
		return nil
	}
	norm := strings.Map(func(r rune) rune {
		if r == 'd' || r == 'D' {
			return 'E'
		}
		return r
	}, s.core)
	d, err := decimal.NewFromString(norm)
	if err != nil {
		// Exponents beyond the representable range behave like infinities.
		return ErrDecimalOverflow
	}
	s.kind = KindDecimal
	s.d = d
	return nil
}

// Kind reports the variant.
func (s Scalar) Kind() Kind { return s.kind }

// Raw returns the exact source substring, whitespace included.
func (s Scalar) Raw() string { return s.raw }

// Preserve reports whether formatting reproduces Raw.
func (s Scalar) Preserve() bool { return s.preserve }

// WithPreserve returns a copy with the preserve-spacing flag set to p.
func (s Scalar) WithPreserve(p bool) Scalar {
	s.preserve = p
	return s
}

// IsInt reports whether the Scalar is an Int.
func (s Scalar) IsInt() bool { return s.kind == KindInt }

// IsDecimal reports whether the Scalar is a Decimal.
func (s Scalar) IsDecimal() bool { return s.kind == KindDecimal }

// IsString reports whether the Scalar is a String.
func (s Scalar) IsString() bool { return s.kind == KindString }

// IsBlank reports whether the token holds only whitespace.
func (s Scalar) IsBlank() bool { return s.core == "" }

// Int returns the integer value of an Int Scalar.
func (s Scalar) Int() (int64, bool) {
	return s.i, s.kind == KindInt
}

// Decimal returns the numeric value of an Int or Decimal Scalar.
func (s Scalar) Decimal() (decimal.Decimal, bool) {
	switch s.kind {
	case KindDecimal:
		return s.d, true
	case KindInt:
		return decimal.NewFromInt(s.i), true
	default:
		return decimal.Decimal{}, false
	}
}

// Text returns the trimmed token with surrounding double quotes removed.
func (s Scalar) Text() string {
	t := s.core
	if len(t) >= 2 && t[0] == '"' && t[len(t)-1] == '"' {
		return t[1 : len(t)-1]
	}
	return t
}

// Key returns the comparison key: ints in canonical decimal form, everything
// else lowercased with all whitespace removed.
func (s Scalar) Key() string {
	switch s.kind {
	case KindInt:
		return strconv.FormatInt(s.i, 10)
	case KindDecimal:
		return s.d.String()
	default:
		return NormalizeName(s.Text())
	}
}

// Equal reports whether two Scalars denote the same value. Numbers compare
// by value; strings compare case- and whitespace-insensitively.
func (s Scalar) Equal(o Scalar) bool {
	if s.kind == KindString || o.kind == KindString {
		return s.kind == o.kind && s.Key() == o.Key()
	}
	a, _ := s.Decimal()
	b, _ := o.Decimal()
	return a.Equal(b)
}

// String returns the token as Format would render it with default options.
func (s Scalar) String() string {
	return s.Format(FormatOpts{})
}

// NormalizeName lowercases name and removes every whitespace rune.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) {
			continue
		}
		_, _ = b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
