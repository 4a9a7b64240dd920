// Package codec scans transaction inputs for inscription envelopes and
// decodes their JSON payloads into typed BRC-20-style operations.
package codec

import "encoding/binary"

// EnvelopeStatus reports how much of an envelope a script yielded.
type EnvelopeStatus int

const (
	EnvelopeNone EnvelopeStatus = iota
	EnvelopePartial
	EnvelopeComplete
)

// protocolID is the push-data value that opens every envelope.
var protocolID = []byte("ord")

// Inscription is a fully-decoded envelope body, prior to JSON payload
// decoding.
type Inscription struct {
	ContentType string
	Body        []byte
	// Pointer is the 8-byte little-endian offset hint, if the envelope
	// carried one trailing push after its body chunks.
	Pointer *uint64
}

// EnvelopeResult is the outcome of scanning one input for an envelope.
type EnvelopeResult struct {
	Status      EnvelopeStatus
	Inscription Inscription
}

// ScanEnvelope scans a classic scriptSig push sequence or, failing that,
// a taproot witness stack's tapscript leaf, for an inscription envelope
// carrying the "ord" protocol id (§6.2). Both paths funnel through the
// same push-data reader so a taproot envelope identical to a classic one
// decodes to the same Inscription.
func ScanEnvelope(scriptSig []byte, witness [][]byte) EnvelopeResult {
	if res, ok := scanScript(scriptSig); ok {
		return res
	}
	if len(witness) >= 2 {
		// Tapscript leaf conventionally sits second-from-last in the
		// witness stack, ahead of the control block.
		if res, ok := scanScript(witness[len(witness)-2]); ok {
			return res
		}
	}
	return EnvelopeResult{Status: EnvelopeNone}
}

func scanScript(script []byte) (EnvelopeResult, bool) {
	pushes := readPushes(script)
	idx := indexOfProtocolID(pushes)
	if idx < 0 {
		return EnvelopeResult{}, false
	}
	if idx+2 >= len(pushes) {
		return EnvelopeResult{Status: EnvelopePartial}, true
	}

	n := decodeScriptNumber(pushes[idx+1])
	contentType := string(pushes[idx+2])
	chunksStart := idx + 3
	if n < 0 || chunksStart+n > len(pushes) {
		return EnvelopeResult{Status: EnvelopePartial}, true
	}

	var body []byte
	for i := 0; i < n; i++ {
		body = append(body, pushes[chunksStart+i]...)
	}

	var pointer *uint64
	if at := chunksStart + n; at < len(pushes) {
		p := decodePointer(pushes[at])
		pointer = &p
	}

	return EnvelopeResult{
		Status: EnvelopeComplete,
		Inscription: Inscription{
			ContentType: contentType,
			Body:        body,
			Pointer:     pointer,
		},
	}, true
}

func indexOfProtocolID(pushes [][]byte) int {
	for i, p := range pushes {
		if string(p) == string(protocolID) {
			return i
		}
	}
	return -1
}

// decodeScriptNumber interprets a push as a minimal little-endian
// unsigned integer, as used for small counters like the envelope's N.
func decodeScriptNumber(b []byte) int {
	var v int64
	for i, by := range b {
		if i >= 8 {
			break
		}
		v |= int64(by) << (8 * uint(i))
	}
	return int(v)
}

// decodePointer reads the low 8 bytes of a push as a little-endian
// offset, zero-extending shorter pushes and truncating (discarding the
// more-significant trailing bytes) longer ones — the Open Question in
// §9 is resolved this way, see DESIGN.md.
func decodePointer(b []byte) uint64 {
	var buf [8]byte
	n := len(b)
	if n > 8 {
		n = 8
	}
	copy(buf[:n], b[:n])
	return binary.LittleEndian.Uint64(buf[:])
}

// readPushes walks a script's push-data opcodes, stopping at the first
// non-push opcode or truncated push.
func readPushes(script []byte) [][]byte {
	var out [][]byte
	i := 0
	for i < len(script) {
		op := script[i]
		i++
		switch {
		case op == 0x00:
			out = append(out, []byte{})
		case op >= 0x01 && op <= 0x4b:
			n := int(op)
			if i+n > len(script) {
				return out
			}
			out = append(out, script[i:i+n])
			i += n
		case op == 0x4c: // OP_PUSHDATA1
			if i >= len(script) {
				return out
			}
			n := int(script[i])
			i++
			if i+n > len(script) {
				return out
			}
			out = append(out, script[i:i+n])
			i += n
		case op == 0x4d: // OP_PUSHDATA2
			if i+2 > len(script) {
				return out
			}
			n := int(binary.LittleEndian.Uint16(script[i : i+2]))
			i += 2
			if i+n > len(script) {
				return out
			}
			out = append(out, script[i:i+n])
			i += n
		case op == 0x4e: // OP_PUSHDATA4
			if i+4 > len(script) {
				return out
			}
			n := int(binary.LittleEndian.Uint32(script[i : i+4]))
			i += 4
			if i+n > len(script) {
				return out
			}
			out = append(out, script[i:i+n])
			i += n
		default:
			return out
		}
	}
	return out
}
