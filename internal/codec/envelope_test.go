package codec

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// pushScript builds a minimal classic push-data script from chunks.
func pushScript(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		switch {
		case len(c) <= 0x4b:
			out = append(out, byte(len(c)))
			out = append(out, c...)
		default:
			out = append(out, 0x4d)
			out = binary.LittleEndian.AppendUint16(out, uint16(len(c)))
			out = append(out, c...)
		}
	}
	return out
}

func TestScanEnvelope_Complete(t *testing.T) {
	body := []byte(`{"p":"bel-20","op":"mint","tick":"test","amt":"1"}`)
	script := pushScript(protocolID, []byte{1}, []byte("text/plain"), body)

	res := ScanEnvelope(script, nil)
	if res.Status != EnvelopeComplete {
		t.Fatalf("Status = %v, want Complete", res.Status)
	}
	if res.Inscription.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", res.Inscription.ContentType)
	}
	if !bytes.Equal(res.Inscription.Body, body) {
		t.Errorf("Body = %q, want %q", res.Inscription.Body, body)
	}
	if res.Inscription.Pointer != nil {
		t.Errorf("Pointer = %v, want nil", res.Inscription.Pointer)
	}
}

func TestScanEnvelope_WithPointer(t *testing.T) {
	body := []byte("x")
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, 42)
	script := pushScript(protocolID, []byte{1}, []byte("text/plain"), body, ptr)

	res := ScanEnvelope(script, nil)
	if res.Status != EnvelopeComplete {
		t.Fatalf("Status = %v, want Complete", res.Status)
	}
	if res.Inscription.Pointer == nil || *res.Inscription.Pointer != 42 {
		t.Errorf("Pointer = %v, want 42", res.Inscription.Pointer)
	}
}

func TestScanEnvelope_None(t *testing.T) {
	res := ScanEnvelope([]byte{0x51, 0x52}, nil) // OP_1 OP_2, no pushes
	if res.Status != EnvelopeNone {
		t.Fatalf("Status = %v, want None", res.Status)
	}
}

func TestScanEnvelope_Partial(t *testing.T) {
	script := pushScript(protocolID, []byte{1})
	res := ScanEnvelope(script, nil)
	if res.Status != EnvelopePartial {
		t.Fatalf("Status = %v, want Partial", res.Status)
	}
}

func TestScanEnvelope_Taproot(t *testing.T) {
	body := []byte("y")
	script := pushScript(protocolID, []byte{1}, []byte("text/plain"), body)
	witness := [][]byte{{0xAA}, script, {0xBB}} // [sig-ish, tapscript, control block]

	res := ScanEnvelope(nil, witness)
	if res.Status != EnvelopeComplete {
		t.Fatalf("Status = %v, want Complete", res.Status)
	}
	if !bytes.Equal(res.Inscription.Body, body) {
		t.Errorf("Body = %q, want %q", res.Inscription.Body, body)
	}
}

func TestDecodePointer_TruncatesLongPush(t *testing.T) {
	long := make([]byte, 16)
	for i := range long {
		long[i] = byte(i + 1)
	}
	got := decodePointer(long)
	want := binary.LittleEndian.Uint64(long[:8])
	if got != want {
		t.Errorf("decodePointer(long) = %d, want %d", got, want)
	}
}

func TestDecodePointer_ZeroExtendsShortPush(t *testing.T) {
	got := decodePointer([]byte{0x05})
	if got != 5 {
		t.Errorf("decodePointer(short) = %d, want 5", got)
	}
}
