package scalar

import (
	"strconv"
	"strings"
)

// FormatOpts controls canonicalizations applied at write time.
type FormatOpts struct {
	// RemoveTrailingZero rewrites decimals such as "1.0" or "2.500" to "1."
	// and "2.5". Leading and trailing spaces are kept.
	RemoveTrailingZero bool
}

// Format renders the Scalar. With the preserve flag set and no
// canonicalization requested, Format returns Raw unchanged.
func (s Scalar) Format(opts FormatOpts) string {
	if !s.preserve {
		return s.canonical(opts)
	}
	if opts.RemoveTrailingZero && s.kind == KindDecimal {
		lead, core, trail := splitSpace(s.raw)
		return lead + trimZeros(core) + trail
	}
	return s.raw
}

func (s Scalar) canonical(opts FormatOpts) string {
	switch s.kind {
	case KindInt:
		return strconv.FormatInt(s.i, 10)
	case KindDecimal:
		core := s.core
		if !strings.ContainsAny(core, ".eEdD") {
			core += "."
		}
		if opts.RemoveTrailingZero {
			core = trimZeros(core)
		}
		return core
	default:
		return s.core
	}
}

// trimZeros drops zeros after the decimal point of the mantissa, keeping
// the point itself and any exponent.
func trimZeros(core string) string {
	mant, exp := core, ""
	if i := strings.IndexAny(core, "eEdD"); i >= 0 {
		mant, exp = core[:i], core[i:]
	}
	dot := strings.IndexByte(mant, '.')
	if dot < 0 {
		return core
	}
	mant = strings.TrimRight(mant, "0")
	if strings.Trim(mant, "+-.") == "" {
		mant = strings.TrimSuffix(mant, ".") + "0."
	}
	return mant + exp
}

func splitSpace(raw string) (lead, core, trail string) {
	start := len(raw) - len(strings.TrimLeft(raw, " \t"))
	end := len(strings.TrimRight(raw, " \t"))
	if end < start {
		return raw, "", ""
	}
	return raw[:start], raw[start:end], raw[end:]
}
