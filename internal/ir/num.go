package ir

import (
	"fmt"
	"math/big"
)

// Int is an arbitrary-precision integer. It is the only numeric carrier in
// the IR: typed truncation and bounds checks happen where a value crosses a
// typed boundary (encode, cast, arithmetic), never implicitly.
//
// Int is immutable; all operations return fresh values.
type Int struct {
	v *big.Int
}

// NewInt creates an Int from an int64.
func NewInt(n int64) Int {
	return Int{v: big.NewInt(n)}
}

// NewIntUint64 creates an Int from a uint64.
func NewIntUint64(n uint64) Int {
	return Int{v: new(big.Int).SetUint64(n)}
}

// NewIntBig creates an Int from a big.Int. The argument is copied.
func NewIntBig(b *big.Int) Int {
	return Int{v: new(big.Int).Set(b)}
}

func (i Int) big() *big.Int {
	if i.v == nil {
		return new(big.Int)
	}
	return i.v
}

// Add returns i + o.
func (i Int) Add(o Int) Int { return Int{v: new(big.Int).Add(i.big(), o.big())} }

// Sub returns i - o.
func (i Int) Sub(o Int) Int { return Int{v: new(big.Int).Sub(i.big(), o.big())} }

// Mul returns i * o.
func (i Int) Mul(o Int) Int { return Int{v: new(big.Int).Mul(i.big(), o.big())} }

// Div returns i / o truncated toward zero. Division by zero is the caller's
// undefined behavior to detect; Div panics on it.
func (i Int) Div(o Int) Int { return Int{v: new(big.Int).Quo(i.big(), o.big())} }

// Rem returns the remainder of i / o with the sign of i (truncated division).
func (i Int) Rem(o Int) Int { return Int{v: new(big.Int).Rem(i.big(), o.big())} }

// Neg returns -i.
func (i Int) Neg() Int { return Int{v: new(big.Int).Neg(i.big())} }

// Cmp returns -1, 0 or 1 for i < o, i == o, i > o.
func (i Int) Cmp(o Int) int { return i.big().Cmp(o.big()) }

// Eq reports i == o.
func (i Int) Eq(o Int) bool { return i.Cmp(o) == 0 }

// Sign returns -1, 0 or 1.
func (i Int) Sign() int { return i.big().Sign() }

// IsZero reports whether i is zero.
func (i Int) IsZero() bool { return i.big().Sign() == 0 }

// Int64 returns the value as int64. Results are undefined outside the int64
// range; callers must have checked InBounds first.
func (i Int) Int64() int64 { return i.big().Int64() }

// Uint64 returns the value as uint64. Callers must have checked bounds.
func (i Int) Uint64() uint64 { return i.big().Uint64() }

// Big returns a copy of the value as a big.Int.
func (i Int) Big() *big.Int { return new(big.Int).Set(i.big()) }

// Modulo reduces i into the value range of an integer type with the given
// signedness and size, wrapping modulo 2^(8*size). This is two's-complement
// wraparound: the mathematical result is congruent to i.
func (i Int) Modulo(signed Signedness, size Size) Int {
	bits := uint(size.Bytes() * 8)
	mod := new(big.Int).Lsh(big.NewInt(1), bits)
	r := new(big.Int).Mod(i.big(), mod) // always in [0, 2^bits)
	if signed == Signed {
		half := new(big.Int).Lsh(big.NewInt(1), bits-1)
		if r.Cmp(half) >= 0 {
			r.Sub(r, mod)
		}
	}
	return Int{v: r}
}

// InBounds reports whether i is representable in an integer type with the
// given signedness and size.
func (i Int) InBounds(signed Signedness, size Size) bool {
	return i.Eq(i.Modulo(signed, size))
}

// String returns the decimal representation.
func (i Int) String() string { return i.big().String() }

// Signedness distinguishes signed from unsigned integer types.
type Signedness int

const (
	Unsigned Signedness = iota
	Signed
)

// String returns "i" for Signed and "u" for Unsigned, matching the surface
// notation (i32, u8).
func (s Signedness) String() string {
	if s == Signed {
		return "i"
	}
	return "u"
}

// Size is a byte count. Sizes in the IR are non-negative and must fit the
// target pointer width wherever they describe a real memory extent.
type Size uint64

// Bytes returns the size as a uint64 byte count.
func (s Size) Bytes() uint64 { return uint64(s) }

// ToInt returns the size as an Int.
func (s Size) ToInt() Int { return NewIntUint64(uint64(s)) }

// Align is a power-of-two byte alignment.
type Align uint64

// Align1 is the trivial alignment satisfied by every address.
const Align1 Align = 1

// NewAlign validates that n is a power of two and returns it as an Align.
func NewAlign(n uint64) (Align, error) {
	if n == 0 || n&(n-1) != 0 {
		return 0, fmt.Errorf("alignment must be a power of two, got %d", n)
	}
	return Align(n), nil
}

// MustAlign is NewAlign for static alignments; panics on invalid input.
func MustAlign(n uint64) Align {
	a, err := NewAlign(n)
	if err != nil {
		panic(err)
	}
	return a
}

// Bytes returns the alignment as a byte count.
func (a Align) Bytes() uint64 { return uint64(a) }

// Aligned reports whether addr satisfies the alignment.
func (a Align) Aligned(addr uint64) bool {
	if a <= 1 {
		return true
	}
	return addr%uint64(a) == 0
}

// Max returns the larger of two alignments.
func (a Align) Max(b Align) Align {
	if b > a {
		return b
	}
	return a
}
