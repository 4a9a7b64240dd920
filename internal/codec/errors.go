package codec

import (
	"fmt"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// ParseErrorKind classifies why an envelope or its JSON payload was
// rejected. Every kind here is non-fatal: the action carrying it is
// dropped, the block keeps processing.
type ParseErrorKind int

const (
	ErrUnknown ParseErrorKind = iota
	ErrWrongContentType
	ErrWrongProtocol
	ErrInvalidUtf8
	ErrDecimalEmpty
	ErrDecimalOverflow
	ErrDecimalPlusMinus
	ErrDecimalDotStartEnd
	ErrDecimalSpaces
	ErrInvalidDigit
)

func (k ParseErrorKind) String() string {
	switch k {
	case ErrWrongContentType:
		return "WrongContentType"
	case ErrWrongProtocol:
		return "WrongProtocol"
	case ErrInvalidUtf8:
		return "InvalidUtf8"
	case ErrDecimalEmpty:
		return "DecimalEmpty"
	case ErrDecimalOverflow:
		return "DecimalOverflow"
	case ErrDecimalPlusMinus:
		return "DecimalPlusMinus"
	case ErrDecimalDotStartEnd:
		return "DecimalDotStartEnd"
	case ErrDecimalSpaces:
		return "DecimalSpaces"
	case ErrInvalidDigit:
		return "InvalidDigit"
	default:
		return "Unknown"
	}
}

// ParseError is the classified, non-fatal decode failure surfaced by the
// codec layer (§7 ParseError).
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// decimalErrorKind maps a domain.DecimalErrorKind to its ParseErrorKind.
func decimalErrorKind(k domain.DecimalErrorKind) ParseErrorKind {
	switch k {
	case domain.DecimalEmpty:
		return ErrDecimalEmpty
	case domain.DecimalOverflow:
		return ErrDecimalOverflow
	case domain.DecimalPlusMinus:
		return ErrDecimalPlusMinus
	case domain.DecimalDotStartEnd:
		return ErrDecimalDotStartEnd
	case domain.DecimalSpaces:
		return ErrDecimalSpaces
	case domain.InvalidDigit:
		return ErrInvalidDigit
	default:
		return ErrUnknown
	}
}

// asParseError wraps a ParseFixed128Strict failure as a ParseError of the
// matching decimal kind; any other error becomes a ParseError of kind
// ErrUnknown.
func asParseError(field string, err error) error {
	if decErr, ok := err.(*domain.DecimalError); ok {
		return &ParseError{Kind: decimalErrorKind(decErr.Kind), Detail: field + ": " + decErr.Input}
	}
	return &ParseError{Kind: ErrUnknown, Detail: field + ": " + err.Error()}
}
