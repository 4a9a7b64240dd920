package codec

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

const protocolName = "bel-20"

// Payload is the tagged union of the three token operations an envelope
// body can decode to.
type Payload interface{ isPayload() }

// DeployPayload declares a new token.
type DeployPayload struct {
	Tick   domain.TokenTick
	Max    domain.Fixed128
	Lim    domain.Fixed128
	HasLim bool
	Dec    uint8
}

func (DeployPayload) isPayload() {}

// MintPayload credits newly minted supply to the envelope's owner.
type MintPayload struct {
	Tick domain.TokenTick
	Amt  domain.Fixed128
}

func (MintPayload) isPayload() {}

// TransferPayload creates a transferable at the envelope's location.
type TransferPayload struct {
	Tick domain.TokenTick
	Amt  domain.Fixed128
}

func (TransferPayload) isPayload() {}

// wirePayload is the on-chain JSON shape, before any field is validated.
type wirePayload struct {
	P    string  `json:"p"`
	Op   string  `json:"op"`
	Tick string  `json:"tick"`
	Max  string  `json:"max"`
	Lim  *string `json:"lim"`
	Dec  *string `json:"dec"`
	Amt  string  `json:"amt"`
}

// DecodePayload decodes an envelope body into a Payload. contentType must
// start with "text/plain" or "application/json"; the body must be valid
// UTF-8 JSON matching one of the three operation shapes (§4.1).
func DecodePayload(contentType string, body []byte) (Payload, error) {
	if !strings.HasPrefix(contentType, "text/plain") && !strings.HasPrefix(contentType, "application/json") {
		return nil, &ParseError{Kind: ErrWrongContentType, Detail: contentType}
	}
	if !utf8.Valid(body) {
		return nil, &ParseError{Kind: ErrInvalidUtf8}
	}

	var w wirePayload
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &ParseError{Kind: ErrWrongProtocol, Detail: err.Error()}
	}
	if w.P != protocolName {
		return nil, &ParseError{Kind: ErrWrongProtocol, Detail: w.P}
	}

	switch w.Op {
	case "deploy":
		return decodeDeploy(w)
	case "mint":
		return decodeMint(w)
	case "transfer":
		return decodeTransfer(w)
	default:
		return nil, &ParseError{Kind: ErrWrongProtocol, Detail: w.Op}
	}
}

func decodeDeploy(w wirePayload) (Payload, error) {
	if w.Tick == "" {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "deploy: missing tick"}
	}
	max, err := domain.ParseFixed128Strict(w.Max)
	if err != nil {
		return nil, asParseError("max", err)
	}
	if max.Sign() <= 0 {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "deploy: max must be > 0"}
	}

	dec := uint8(domain.MaxFractionalDigits)
	if w.Dec != nil {
		n, err := strconv.Atoi(*w.Dec)
		if err != nil || n < 0 || n > domain.MaxFractionalDigits {
			return nil, &ParseError{Kind: ErrUnknown, Detail: "deploy: dec out of range"}
		}
		dec = uint8(n)
	}

	var lim domain.Fixed128
	hasLim := w.Lim != nil
	if hasLim {
		lim, err = domain.ParseFixed128Strict(*w.Lim)
		if err != nil {
			return nil, asParseError("lim", err)
		}
	} else {
		// Open Question (§9) resolved per this spec's own prescription:
		// an absent lim defaults to max.
		lim = max
	}
	if lim.Sign() <= 0 {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "deploy: lim must be > 0"}
	}

	return DeployPayload{
		Tick:   domain.TokenTick(w.Tick),
		Max:    max,
		Lim:    lim,
		HasLim: hasLim,
		Dec:    dec,
	}, nil
}

func decodeMint(w wirePayload) (Payload, error) {
	if w.Tick == "" {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "mint: missing tick"}
	}
	amt, err := domain.ParseFixed128Strict(w.Amt)
	if err != nil {
		return nil, asParseError("amt", err)
	}
	if amt.Sign() <= 0 {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "mint: amt must be > 0"}
	}
	return MintPayload{Tick: domain.TokenTick(w.Tick), Amt: amt}, nil
}

func decodeTransfer(w wirePayload) (Payload, error) {
	if w.Tick == "" {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "transfer: missing tick"}
	}
	amt, err := domain.ParseFixed128Strict(w.Amt)
	if err != nil {
		return nil, asParseError("amt", err)
	}
	if amt.Sign() <= 0 {
		return nil, &ParseError{Kind: ErrUnknown, Detail: "transfer: amt must be > 0"}
	}
	return TransferPayload{Tick: domain.TokenTick(w.Tick), Amt: amt}, nil
}
