package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MaxFractionalDigits is the hard ceiling on fractional precision carried
// by Fixed128, and the ceiling a token's own `dec` field may declare.
const MaxFractionalDigits = 18

var pow10Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(MaxFractionalDigits), nil)

// maxUint64 as a big.Int, the ceiling on a Fixed128's integer part.
var maxUint64Big = new(big.Int).SetUint64(^uint64(0))

// DecimalErrorKind classifies why a numeric literal failed strict parsing.
type DecimalErrorKind int

const (
	DecimalUnknown DecimalErrorKind = iota
	DecimalEmpty
	DecimalOverflow
	DecimalPlusMinus
	DecimalDotStartEnd
	DecimalSpaces
	InvalidDigit
)

func (k DecimalErrorKind) String() string {
	switch k {
	case DecimalEmpty:
		return "DecimalEmpty"
	case DecimalOverflow:
		return "DecimalOverflow"
	case DecimalPlusMinus:
		return "DecimalPlusMinus"
	case DecimalDotStartEnd:
		return "DecimalDotStartEnd"
	case DecimalSpaces:
		return "DecimalSpaces"
	case InvalidDigit:
		return "InvalidDigit"
	default:
		return "Unknown"
	}
}

// DecimalError is returned by ParseFixed128Strict; it carries the
// classified kind so callers (the codec layer) can report it verbatim.
type DecimalError struct {
	Kind  DecimalErrorKind
	Input string
}

func (e *DecimalError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Input)
}

// Fixed128 is a signed fixed-point number with up to MaxFractionalDigits
// fractional digits. Unscaled holds the value scaled by 10^18; Scale
// records how many fractional digits the literal that produced this value
// actually carried (not reduced for trailing zeros), since token rules
// (`amt.scale > dec`) key off the literal precision, not the numeric value.
type Fixed128 struct {
	unscaled *big.Int
	scale    uint8
}

// Zero is the additive identity.
var Zero = Fixed128{unscaled: big.NewInt(0)}

func newFixed(unscaled *big.Int, scale uint8) Fixed128 {
	return Fixed128{unscaled: unscaled, scale: scale}
}

// FromUint64 builds a whole-number Fixed128 with scale 0.
func FromUint64(v uint64) Fixed128 {
	u := new(big.Int).SetUint64(v)
	return newFixed(u.Mul(u, pow10Scale), 0)
}

// ParseFixed128Strict parses a BRC-20-style numeric literal under the
// strict rules in §4.1: no leading '+', '-', '.', or space; no trailing
// '.' or space; non-empty; integer part within u64 range; at most
// MaxFractionalDigits fractional digits.
func ParseFixed128Strict(s string) (Fixed128, error) {
	if s == "" {
		return Fixed128{}, &DecimalError{Kind: DecimalEmpty, Input: s}
	}
	if strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		return Fixed128{}, &DecimalError{Kind: DecimalSpaces, Input: s}
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Fixed128{}, &DecimalError{Kind: DecimalPlusMinus, Input: s}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return Fixed128{}, &DecimalError{Kind: DecimalDotStartEnd, Input: s}
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if hasDot && strings.Contains(fracPart, ".") {
		return Fixed128{}, &DecimalError{Kind: InvalidDigit, Input: s}
	}
	if intPart == "" {
		return Fixed128{}, &DecimalError{Kind: DecimalEmpty, Input: s}
	}
	if !isAllDigits(intPart) || (hasDot && !isAllDigits(fracPart)) {
		return Fixed128{}, &DecimalError{Kind: InvalidDigit, Input: s}
	}
	if len(fracPart) > MaxFractionalDigits {
		return Fixed128{}, &DecimalError{Kind: DecimalOverflow, Input: s}
	}

	intVal, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return Fixed128{}, &DecimalError{Kind: InvalidDigit, Input: s}
	}
	if intVal.Cmp(maxUint64Big) > 0 {
		return Fixed128{}, &DecimalError{Kind: DecimalOverflow, Input: s}
	}

	unscaled := new(big.Int).Mul(intVal, pow10Scale)
	scale := uint8(len(fracPart))
	if len(fracPart) > 0 {
		fracVal, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return Fixed128{}, &DecimalError{Kind: InvalidDigit, Input: s}
		}
		pad := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(MaxFractionalDigits-len(fracPart))), nil)
		fracVal.Mul(fracVal, pad)
		unscaled.Add(unscaled, fracVal)
	}

	return newFixed(unscaled, scale), nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Scale returns the number of literal fractional digits this value was
// parsed with.
func (f Fixed128) Scale() uint8 { return f.scale }

// IsZero reports whether the value is exactly zero.
func (f Fixed128) IsZero() bool {
	return f.unscaled == nil || f.unscaled.Sign() == 0
}

// Sign returns -1, 0, or 1.
func (f Fixed128) Sign() int {
	if f.unscaled == nil {
		return 0
	}
	return f.unscaled.Sign()
}

// Cmp compares f to o.
func (f Fixed128) Cmp(o Fixed128) int {
	a, b := f.unscaled, o.unscaled
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		b = big.NewInt(0)
	}
	return a.Cmp(b)
}

// Add returns f+o. The result's scale is the larger of the two operand
// scales, since it is only used for display/bookkeeping, never re-checked
// against a token's dec bound.
func (f Fixed128) Add(o Fixed128) Fixed128 {
	r := new(big.Int).Add(f.bigOrZero(), o.bigOrZero())
	return newFixed(r, maxScale(f.scale, o.scale))
}

// Sub returns f-o.
func (f Fixed128) Sub(o Fixed128) Fixed128 {
	r := new(big.Int).Sub(f.bigOrZero(), o.bigOrZero())
	return newFixed(r, maxScale(f.scale, o.scale))
}

// Min returns the smaller of f and o.
func (f Fixed128) Min(o Fixed128) Fixed128 {
	if f.Cmp(o) <= 0 {
		return f
	}
	return o
}

func (f Fixed128) bigOrZero() *big.Int {
	if f.unscaled == nil {
		return big.NewInt(0)
	}
	return f.unscaled
}

func maxScale(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

// ErrNegativeResult is the error value for a subtraction whose result
// would go negative. No function in this package returns it.
var ErrNegativeResult = errors.New("fixed128: result would be negative")

// String renders the canonical decimal form: integer part, and if the
// scaled fractional remainder is non-zero, a '.' followed by its digits
// with trailing zeros trimmed.
func (f Fixed128) String() string {
	u := f.bigOrZero()
	neg := u.Sign() < 0
	abs := new(big.Int).Abs(u)

	intPart := new(big.Int)
	fracPart := new(big.Int)
	intPart.DivMod(abs, pow10Scale, fracPart)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(intPart.String())

	if fracPart.Sign() != 0 {
		digits := fracPart.String()
		digits = strings.Repeat("0", MaxFractionalDigits-len(digits)) + digits
		digits = strings.TrimRight(digits, "0")
		if digits != "" {
			b.WriteByte('.')
			b.WriteString(digits)
		}
	}
	return b.String()
}

// MarshalJSON encodes the value as a quoted decimal string, matching the
// wire convention for on-chain token amounts.
func (f Fixed128) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a quoted decimal string via ParseFixed128Strict.
func (f *Fixed128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseFixed128Strict(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Bytes16 encodes the magnitude as a big-endian 16-byte value, suitable
// for use inside a length-stable store key or value. The sign is dropped;
// callers only persist non-negative quantities.
func (f Fixed128) Bytes16() [16]byte {
	var out [16]byte
	b := f.bigOrZero().Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	copy(out[16-len(b):], b)
	return out
}

// Fixed128FromBytes16 decodes a value produced by Bytes16. The scale is
// not recoverable from the encoding and is left at 0; scale is only
// meaningful during parsing/validation of a fresh envelope literal.
func Fixed128FromBytes16(b [16]byte) Fixed128 {
	return newFixed(new(big.Int).SetBytes(b[:]), 0)
}
