// Package safe provides overflow-checked int64 arithmetic for ledger values.
package safe

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when an int64 operation would wrap.
var ErrOverflow = errors.New("int64 overflow")

// Add returns a+b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return a + b, nil
}

// Sub returns a-b or ErrOverflow.
func Sub(a, b int64) (int64, error) {
	if (b < 0 && a > math.MaxInt64+b) || (b > 0 && a < math.MinInt64+b) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return a - b, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return c, nil
}

// SafeAdd panics on overflow. Use only where the operands are already bounded.
func SafeAdd(a, b int64) int64 {
	c, err := Add(a, b)
	if err != nil {
		panic(err.Error())
	}
	return c
}

// SafeSub panics on overflow.
func SafeSub(a, b int64) int64 {
	c, err := Sub(a, b)
	if err != nil {
		panic(err.Error())
	}
	return c
}
