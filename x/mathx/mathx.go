// Package mathx holds the integer helpers used for clock and baud arithmetic.
// Nothing here ever rounds silently: callers pick exact, rounded or range
// checked forms explicitly.
package mathx

import "golang.org/x/exp/constraints"

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// DivExact returns a/b and reports whether the division left no remainder.
// b == 0 is never exact.
func DivExact[T unsigned](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	return a / b, a%b == 0
}

// CeilDiv returns a/b rounded up. b == 0 gives 0.
func CeilDiv[T unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// RoundDiv returns a/b rounded half up. b == 0 gives 0.
func RoundDiv[T unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b/2) / b
}

// Between reports lo <= v <= hi, whichever order the bounds come in.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}
