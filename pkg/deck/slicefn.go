package deck

// mapSlice returns fn applied to every element of s, or nil for a nil s.
func mapSlice[T, R any](s []T, fn func(T) R) []R {
	if s == nil {
		return nil
	}
	out := make([]R, len(s))
	for i, v := range s {
		out[i] = fn(v)
	}
	return out
}

// flatMap concatenates fn(v) for every v in s.
func flatMap[T, R any](s []T, fn func(T) []R) []R {
	var out []R
	for _, v := range s {
		out = append(out, fn(v)...)
	}
	return out
}

// collectUnique returns the distinct non-zero keys fn(v), in first-seen order.
func collectUnique[T any, R comparable](s []T, fn func(T) R) []R {
	seen := make(map[R]struct{}, len(s))
	var (
		zero R
		out  []R
	)
	for _, v := range s {
		r := fn(v)
		if r == zero {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
