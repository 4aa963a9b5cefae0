package formula

import (
	"fmt"
	"math"
	"strconv"
)

const variableName = "level"

var errDivisionByZero = &EvaluationError{Reason: "division by zero"}

type builtin struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	call             func(args []value) (value, error)
}

func (b *builtin) arity(name string, got int) string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("%s() takes at least %d arguments, got %d", name, b.minArgs, got)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("%s() takes exactly %d argument(s), got %d", name, b.minArgs, got)
	default:
		return fmt.Sprintf("%s() takes %d to %d arguments, got %d", name, b.minArgs, b.maxArgs, got)
	}
}

var builtins = map[string]*builtin{
	"int":   {minArgs: 1, maxArgs: 1, call: callInt},
	"round": {minArgs: 1, maxArgs: 2, call: callRound},
	"pow":   {minArgs: 2, maxArgs: 3, call: callPow},
	"max":   {minArgs: 2, maxArgs: -1, call: callExtreme(func(a, b float64) bool { return a > b })},
	"min":   {minArgs: 2, maxArgs: -1, call: callExtreme(func(a, b float64) bool { return a < b })},
}

func callInt(args []value) (value, error) {
	n, err := truncate(args[0])
	if err != nil {
		return value{}, err
	}
	return intValue(n), nil
}

// callRound rounds half to even. With a digit count the result keeps the
// type of the argument.
func callRound(args []value) (value, error) {
	x := args[0]
	if len(args) == 1 {
		if !x.isFloat {
			return x, nil
		}
		return callInt([]value{floatValue(math.RoundToEven(x.f))})
	}
	digits, err := truncate(args[1])
	if err != nil || args[1].isFloat {
		return value{}, &EvaluationError{Reason: "round() digit count must be an integer"}
	}
	if digits > 15 || digits < -15 {
		return x, nil
	}
	scale := math.Pow(10, float64(digits))
	rounded := math.RoundToEven(x.float()*scale) / scale
	if !x.isFloat {
		return intValue(int64(rounded)), nil
	}
	return floatValue(rounded), nil
}

func callPow(args []value) (value, error) {
	if len(args) == 2 {
		return power(args[0], args[1])
	}
	base, exp, m := args[0], args[1], args[2]
	if base.isFloat || exp.isFloat || m.isFloat {
		return value{}, &EvaluationError{Reason: "pow() with a modulus requires integer arguments"}
	}
	if m.i == 0 {
		return value{}, &EvaluationError{Reason: "pow() modulus cannot be zero"}
	}
	if exp.i < 0 {
		return value{}, &EvaluationError{Reason: "pow() with a modulus requires a non-negative exponent"}
	}
	result := int64(1)
	b, _ := mod(base, m)
	for e := exp.i; e > 0; e >>= 1 {
		if e&1 == 1 {
			p, ok := mulInt(result, b.i)
			if !ok {
				return value{}, &EvaluationError{Reason: "pow() modulus too large"}
			}
			r, _ := mod(intValue(p), m)
			result = r.i
		}
		sq, ok := mulInt(b.i, b.i)
		if !ok {
			return value{}, &EvaluationError{Reason: "pow() modulus too large"}
		}
		b, _ = mod(intValue(sq), m)
	}
	return intValue(result), nil
}

func callExtreme(better func(a, b float64) bool) func(args []value) (value, error) {
	return func(args []value) (value, error) {
		best := args[0]
		for _, v := range args[1:] {
			if better(v.float(), best.float()) {
				best = v
			}
		}
		return best, nil
	}
}

func (n *numberNode) eval(int64) (value, error) { return n.v, nil }

func (levelNode) eval(level int64) (value, error) { return intValue(level), nil }

func (n *unaryNode) eval(level int64) (value, error) {
	v, err := n.operand.eval(level)
	if err != nil {
		return value{}, err
	}
	return negate(v), nil
}

func (n *binaryNode) eval(level int64) (value, error) {
	a, err := n.left.eval(level)
	if err != nil {
		return value{}, err
	}
	b, err := n.right.eval(level)
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case tokPlus:
		return add(a, b), nil
	case tokMinus:
		return sub(a, b), nil
	case tokStar:
		return mul(a, b), nil
	case tokSlash:
		return div(a, b)
	case tokFloorDiv:
		return floorDiv(a, b)
	case tokPercent:
		return mod(a, b)
	case tokPow:
		return power(a, b)
	}
	return value{}, &EvaluationError{Reason: "unknown operator " + strconv.Itoa(int(n.op))}
}

func (n *callNode) eval(level int64) (value, error) {
	args := make([]value, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(level)
		if err != nil {
			return value{}, err
		}
		args[i] = v
	}
	return n.fn.call(args)
}
