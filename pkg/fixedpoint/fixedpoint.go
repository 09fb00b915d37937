// Package fixedpoint implements the Q17.14 fixed-point arithmetic used by
// the MLFQS scheduler. The kernel never uses floating point: the FPU's
// state is not saved across a context switch, so every recent_cpu, nice,
// and load_avg computation goes through this type instead.
package fixedpoint

// Fixed is a Q17.14 fixed-point number: 17 bits of integer part, 14 bits
// of fractional part, stored in the low 31 bits of an int64 plus sign.
type Fixed int64

// shift is the number of fractional bits (f = 1<<shift).
const shift = 14

// f is the fixed-point scale factor, 2^14.
const f = int64(1) << shift

// FromInt converts an integer to fixed-point representation (n * f).
func FromInt(n int) Fixed {
	return Fixed(int64(n) * f)
}

// ToIntTrunc converts a fixed-point value to an integer, truncating toward
// zero (the C-style integer division the original rounding macros are
// built on top of).
func (x Fixed) ToIntTrunc() int {
	return int(int64(x) / f)
}

// ToIntRound converts a fixed-point value to the nearest integer,
// rounding half away from zero: add f/2 before shifting for non-negative
// values, subtract f/2 for negative ones.
func (x Fixed) ToIntRound() int {
	v := int64(x)
	if v >= 0 {
		return int((v + f/2) / f)
	}
	return int((v - f/2) / f)
}

// Add returns x + y.
func (x Fixed) Add(y Fixed) Fixed {
	return x + y
}

// AddInt returns x + n, with n promoted to fixed-point first.
func (x Fixed) AddInt(n int) Fixed {
	return x + FromInt(n)
}

// Sub returns x - y.
func (x Fixed) Sub(y Fixed) Fixed {
	return x - y
}

// SubInt returns x - n, with n promoted to fixed-point first.
func (x Fixed) SubInt(n int) Fixed {
	return x - FromInt(n)
}

// MulInt returns x * n (plain product; n is not promoted since x already
// carries the scale factor).
func (x Fixed) MulInt(n int) Fixed {
	return x * Fixed(n)
}

// Mul returns x * y, widening to 64 bits to avoid overflow in the
// intermediate product, then shifting back down by the scale factor.
func (x Fixed) Mul(y Fixed) Fixed {
	return Fixed((int64(x) * int64(y)) >> shift)
}

// DivInt returns x / n (plain quotient).
func (x Fixed) DivInt(n int) Fixed {
	return x / Fixed(n)
}

// Div returns x / y, widening the numerator and pre-shifting left by the
// scale factor before dividing so the quotient keeps fixed-point scale.
func (x Fixed) Div(y Fixed) Fixed {
	return Fixed((int64(x) << shift) / int64(y))
}

// Neg returns -x.
func (x Fixed) Neg() Fixed {
	return -x
}
