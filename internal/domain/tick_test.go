package domain

import "testing"

func TestTokenTick_Canonical(t *testing.T) {
	tick := TokenTick("tEst")
	if got := tick.Canonical(); got != LowerCaseTick("test") {
		t.Fatalf("Canonical() = %q, want %q", got, "test")
	}
	if tick.String() != "tEst" {
		t.Fatalf("String() = %q, want original casing preserved", tick.String())
	}
}
