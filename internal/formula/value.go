package formula

import (
	"math"
	"math/bits"
)

// value is either an exact integer or a float. Integer arithmetic stays
// exact until it would overflow, at which point it continues in float64.
type value struct {
	isFloat bool
	i       int64
	f       float64
}

func intValue(n int64) value     { return value{i: n} }
func floatValue(f float64) value { return value{isFloat: true, f: f} }

func (v value) float() float64 {
	if v.isFloat {
		return v.f
	}
	return float64(v.i)
}

func add(a, b value) value {
	if !a.isFloat && !b.isFloat {
		s := a.i + b.i
		if (s > a.i) == (b.i > 0) {
			return intValue(s)
		}
	}
	return floatValue(a.float() + b.float())
}

func sub(a, b value) value {
	if !a.isFloat && !b.isFloat {
		d := a.i - b.i
		if (d < a.i) == (b.i > 0) {
			return intValue(d)
		}
	}
	return floatValue(a.float() - b.float())
}

func mul(a, b value) value {
	if !a.isFloat && !b.isFloat {
		if p, ok := mulInt(a.i, b.i); ok {
			return intValue(p)
		}
	}
	return floatValue(a.float() * b.float())
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(absU(a), absU(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	if neg {
		return -int64(lo), true
	}
	return int64(lo), true
}

func absU(n int64) uint64 {
	if n < 0 {
		return uint64(-n)
	}
	return uint64(n)
}

func div(a, b value) (value, error) {
	if b.float() == 0 {
		return value{}, errDivisionByZero
	}
	return floatValue(a.float() / b.float()), nil
}

func floorDiv(a, b value) (value, error) {
	if b.float() == 0 {
		return value{}, errDivisionByZero
	}
	if !a.isFloat && !b.isFloat {
		if a.i == math.MinInt64 && b.i == -1 {
			return floatValue(-float64(a.i)), nil
		}
		q := a.i / b.i
		if (a.i%b.i != 0) && ((a.i < 0) != (b.i < 0)) {
			q--
		}
		return intValue(q), nil
	}
	return floatValue(math.Floor(a.float() / b.float())), nil
}

func mod(a, b value) (value, error) {
	if b.float() == 0 {
		return value{}, errDivisionByZero
	}
	if !a.isFloat && !b.isFloat {
		if b.i == -1 {
			return intValue(0), nil
		}
		r := a.i % b.i
		if r != 0 && (r < 0) != (b.i < 0) {
			r += b.i
		}
		return intValue(r), nil
	}
	x, y := a.float(), b.float()
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return floatValue(r), nil
}

func power(a, b value) (value, error) {
	if !a.isFloat && !b.isFloat && b.i >= 0 {
		result, base, exp := int64(1), a.i, b.i
		exact := true
		for exp > 0 && exact {
			if exp&1 == 1 {
				result, exact = mulInt(result, base)
			}
			exp >>= 1
			if exp > 0 && exact {
				base, exact = mulInt(base, base)
			}
		}
		if exact {
			return intValue(result), nil
		}
	}
	x, y := a.float(), b.float()
	if x == 0 && y < 0 {
		return value{}, errDivisionByZero
	}
	if x < 0 && y != math.Trunc(y) {
		return value{}, &EvaluationError{Reason: "negative number raised to a fractional power"}
	}
	return floatValue(math.Pow(x, y)), nil
}

func negate(v value) value {
	if !v.isFloat && v.i != math.MinInt64 {
		return intValue(-v.i)
	}
	return floatValue(-v.float())
}

// truncate converts v to an int64 rounding toward zero.
func truncate(v value) (int64, error) {
	if !v.isFloat {
		return v.i, nil
	}
	if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
		return 0, &EvaluationError{Reason: "result is not a finite number"}
	}
	t := math.Trunc(v.f)
	if t >= math.MaxInt64 || t < math.MinInt64 {
		return 0, &EvaluationError{Reason: "result overflows a 64-bit integer"}
	}
	return int64(t), nil
}
