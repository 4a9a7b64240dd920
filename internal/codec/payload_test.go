package codec

import "testing"

func TestDecodePayload_Deploy(t *testing.T) {
	body := []byte(`{"p":"bel-20","op":"deploy","tick":"tEst","max":"1000","lim":"100","dec":"8"}`)
	p, err := DecodePayload("text/plain;charset=utf-8", body)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	d, ok := p.(DeployPayload)
	if !ok {
		t.Fatalf("got %T, want DeployPayload", p)
	}
	if d.Tick != "tEst" || d.Max.String() != "1000" || d.Lim.String() != "100" || d.Dec != 8 {
		t.Errorf("unexpected deploy payload: %+v", d)
	}
}

func TestDecodePayload_DeployLimDefaultsToMax(t *testing.T) {
	body := []byte(`{"p":"bel-20","op":"deploy","tick":"tEst","max":"1000"}`)
	p, err := DecodePayload("application/json", body)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	d := p.(DeployPayload)
	if d.HasLim {
		t.Error("HasLim should be false")
	}
	if d.Lim.Cmp(d.Max) != 0 {
		t.Errorf("lim = %s, want max %s", d.Lim, d.Max)
	}
	if d.Dec != 18 {
		t.Errorf("dec = %d, want default 18", d.Dec)
	}
}

func TestDecodePayload_WrongContentType(t *testing.T) {
	_, err := DecodePayload("image/png", []byte(`{}`))
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrWrongContentType {
		t.Fatalf("err = %v, want WrongContentType", err)
	}
}

func TestDecodePayload_WrongProtocol(t *testing.T) {
	_, err := DecodePayload("text/plain", []byte(`{"p":"other","op":"deploy"}`))
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != ErrWrongProtocol {
		t.Fatalf("err = %v, want WrongProtocol", err)
	}
}

func TestDecodePayload_MintRejectsZero(t *testing.T) {
	_, err := DecodePayload("text/plain", []byte(`{"p":"bel-20","op":"mint","tick":"test","amt":"0"}`))
	if err == nil {
		t.Fatal("expected error for zero amt")
	}
}

func TestDecodePayload_DecimalErrorsClassified(t *testing.T) {
	cases := map[string]ParseErrorKind{
		`{"p":"bel-20","op":"mint","tick":"test","amt":""}`:        ErrDecimalEmpty,
		`{"p":"bel-20","op":"mint","tick":"test","amt":"+5"}`:      ErrDecimalPlusMinus,
		`{"p":"bel-20","op":"mint","tick":"test","amt":"5."}`:      ErrDecimalDotStartEnd,
		`{"p":"bel-20","op":"mint","tick":"test","amt":" 5"}`:      ErrDecimalSpaces,
		`{"p":"bel-20","op":"mint","tick":"test","amt":"5x"}`:      ErrInvalidDigit,
		`{"p":"bel-20","op":"mint","tick":"test","amt":"0.0000000000000000001"}`: ErrDecimalOverflow,
	}
	for body, want := range cases {
		_, err := DecodePayload("text/plain", []byte(body))
		pe, ok := err.(*ParseError)
		if !ok {
			t.Errorf("%s: err = %v, want *ParseError", body, err)
			continue
		}
		if pe.Kind != want {
			t.Errorf("%s: kind = %v, want %v", body, pe.Kind, want)
		}
	}
}

func TestDecodePayload_Transfer(t *testing.T) {
	p, err := DecodePayload("text/plain", []byte(`{"p":"bel-20","op":"transfer","tick":"test","amt":"30"}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	tr, ok := p.(TransferPayload)
	if !ok || tr.Amt.String() != "30" {
		t.Errorf("unexpected transfer payload: %+v", p)
	}
}
