package source

import (
	"encoding/json"
	"testing"

	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/interpreter"
	"github.com/choosenname/bel-20-indexer/internal/resolver"
	"github.com/choosenname/bel-20-indexer/internal/storage"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

func txHash(b byte) domain.TxHash {
	var h domain.TxHash
	h[0] = b
	return h
}

func standardScript(b byte) []byte { return []byte{0x76, 0xa9, b, 0x88, 0xac} }

// buildEnvelopeScript builds a classic scriptSig envelope carrying the
// given BRC-20 payload JSON body.
func buildEnvelopeScript(t *testing.T, contentType string, body []byte) []byte {
	t.Helper()
	push := func(b []byte) []byte {
		if len(b) == 0 {
			return []byte{0x00}
		}
		if len(b) > 0x4b {
			t.Fatalf("push too long for this helper: %d", len(b))
		}
		return append([]byte{byte(len(b))}, b...)
	}
	var script []byte
	script = append(script, push([]byte("ord"))...)
	script = append(script, push([]byte{1})...) // N = 1 body chunk
	script = append(script, push([]byte(contentType))...)
	script = append(script, push(body)...)
	return script
}

func deployBody(tick, max string) []byte {
	b, _ := json.Marshal(map[string]string{"p": "bel-20", "op": "deploy", "tick": tick, "max": max})
	return b
}

func transferBody(tick, amt string) []byte {
	b, _ := json.Marshal(map[string]string{"p": "bel-20", "op": "transfer", "tick": tick, "amt": amt})
	return b
}

type fakeTransferLookup struct {
	active map[domain.Location]tokenstore.ActiveTransfer
}

func (f *fakeTransferLookup) GetActiveTransfer(loc domain.Location) (tokenstore.ActiveTransfer, error) {
	at, ok := f.active[loc]
	if !ok {
		return tokenstore.ActiveTransfer{}, tokenstore.ErrNotFound
	}
	return at, nil
}

func newDecoder(t *testing.T, lookup TransferLookup) *Decoder {
	t.Helper()
	return newDecoderWithActivation(t, lookup, 0)
}

func newDecoderWithActivation(t *testing.T, lookup TransferLookup, activationHeight uint32) *Decoder {
	t.Helper()
	store, err := tokenstore.Open(storage.NewMemory())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return NewDecoder(resolver.New(store), lookup, activationHeight)
}

func TestDecodeBlock_DeployEnvelopeBecomesDeployAction(t *testing.T) {
	d := newDecoder(t, &fakeTransferLookup{})

	fundingTx := RawTx{
		TxID: txHash(1),
		Vout: []RawVout{{Value: 1000, Script: standardScript(0xAA)}},
	}

	script := buildEnvelopeScript(t, "text/plain", deployBody("test", "21000000"))
	deployTx := RawTx{
		TxID: txHash(2),
		Vin:  []RawVin{{TxID: fundingTx.TxID, Vout: 0, ScriptSig: script}},
		Vout: []RawVout{{Value: 900, Script: standardScript(0xBB)}},
	}

	blk := RawBlock{Hash: txHash(0xFF), Height: 5, Created: 1700000000, Txs: []RawTx{fundingTx, deployTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(out.Actions))
	}
	deploy, ok := out.Actions[0].(interpreter.Deploy)
	if !ok {
		t.Fatalf("action type = %T, want interpreter.Deploy", out.Actions[0])
	}
	if deploy.Tick != "test" {
		t.Errorf("tick = %q, want test", deploy.Tick)
	}
	if deploy.Owner != domain.HashScript(standardScript(0xBB)) {
		t.Errorf("owner = %x, want hash of output 0's script", deploy.Owner)
	}
	if deploy.Created != 1700000000 {
		t.Errorf("created = %d, want block's timestamp 1700000000", deploy.Created)
	}
}

func TestDecodeBlock_SpendOfLiveTransferEmitsTransferred(t *testing.T) {
	loc := resolver.SpentTransferLocation(domain.Outpoint{TxID: txHash(7), Vout: 0})
	lookup := &fakeTransferLookup{active: map[domain.Location]tokenstore.ActiveTransfer{
		loc: {Owner: domain.HashScript(standardScript(0x01)), Tick: "test", Amt: domain.Zero},
	}}
	d := newDecoder(t, lookup)

	fundingTx := RawTx{
		TxID: txHash(7),
		Vout: []RawVout{{Value: 546, Script: standardScript(0x01)}},
	}
	spendTx := RawTx{
		TxID: txHash(8),
		Vin:  []RawVin{{TxID: fundingTx.TxID, Vout: 0, ScriptSig: []byte{}}},
		Vout: []RawVout{{Value: 500, Script: standardScript(0x02)}},
	}

	blk := RawBlock{Hash: txHash(0xFE), Height: 6, Txs: []RawTx{fundingTx, spendTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(out.Actions))
	}
	xferred, ok := out.Actions[0].(interpreter.Transferred)
	if !ok {
		t.Fatalf("action type = %T, want interpreter.Transferred", out.Actions[0])
	}
	if xferred.TransferLocation != loc {
		t.Errorf("transfer location = %+v, want %+v", xferred.TransferLocation, loc)
	}
	if xferred.Recipient == nil || *xferred.Recipient != domain.HashScript(standardScript(0x02)) {
		t.Errorf("recipient = %v, want hash of output 0's script", xferred.Recipient)
	}
}

func TestDecodeBlock_OrdinaryInputWithNoEnvelopeOrTransferYieldsNoAction(t *testing.T) {
	d := newDecoder(t, &fakeTransferLookup{})

	fundingTx := RawTx{
		TxID: txHash(9),
		Vout: []RawVout{{Value: 1000, Script: standardScript(0x01)}},
	}
	plainTx := RawTx{
		TxID: txHash(10),
		Vin:  []RawVin{{TxID: fundingTx.TxID, Vout: 0, ScriptSig: []byte{}}},
		Vout: []RawVout{{Value: 900, Script: standardScript(0x02)}},
	}

	blk := RawBlock{Hash: txHash(0xFD), Height: 7, Txs: []RawTx{fundingTx, plainTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 0 {
		t.Fatalf("actions = %d, want 0", len(out.Actions))
	}
}

func TestDecodeBlock_TransferEnvelopeTargetsFirstSatOfInput(t *testing.T) {
	d := newDecoder(t, &fakeTransferLookup{})

	fundingTx := RawTx{
		TxID: txHash(11),
		Vout: []RawVout{{Value: 1000, Script: standardScript(0xAA)}},
	}

	script := buildEnvelopeScript(t, "text/plain", transferBody("test", "5"))
	xferTx := RawTx{
		TxID: txHash(12),
		Vin:  []RawVin{{TxID: fundingTx.TxID, Vout: 0, ScriptSig: script}},
		Vout: []RawVout{
			{Value: 500, Script: standardScript(0x01)},
			{Value: 400, Script: standardScript(0x02)},
		},
	}

	blk := RawBlock{Hash: txHash(0xFC), Height: 8, Txs: []RawTx{fundingTx, xferTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(out.Actions))
	}
	xfer, ok := out.Actions[0].(interpreter.Transfer)
	if !ok {
		t.Fatalf("action type = %T, want interpreter.Transfer", out.Actions[0])
	}
	if xfer.Location.Outpoint.Vout != 0 || xfer.Location.Offset != 0 {
		t.Errorf("transfer location = %+v, want vout=0 offset=0", xfer.Location)
	}
}

func TestDecodeBlock_DeployOnNonGenesisInputIgnoredBelowActivationHeight(t *testing.T) {
	d := newDecoderWithActivation(t, &fakeTransferLookup{}, 100)

	fundingA := RawTx{TxID: txHash(13), Vout: []RawVout{{Value: 1000, Script: standardScript(0x01)}}}
	fundingB := RawTx{TxID: txHash(14), Vout: []RawVout{{Value: 1000, Script: standardScript(0x02)}}}

	script := buildEnvelopeScript(t, "text/plain", deployBody("test", "21000000"))
	deployTx := RawTx{
		TxID: txHash(15),
		Vin: []RawVin{
			{TxID: fundingA.TxID, Vout: 0, ScriptSig: []byte{}},
			{TxID: fundingB.TxID, Vout: 0, ScriptSig: script},
		},
		Vout: []RawVout{{Value: 900, Script: standardScript(0xBB)}},
	}

	blk := RawBlock{Hash: txHash(0xFB), Height: 50, Txs: []RawTx{fundingA, fundingB, deployTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 0 {
		t.Fatalf("actions = %d, want 0 (deploy on non-genesis input below activation height is ignored)", len(out.Actions))
	}
}

func TestDecodeBlock_DeployOnNonGenesisInputAllowedAtOrAboveActivationHeight(t *testing.T) {
	d := newDecoderWithActivation(t, &fakeTransferLookup{}, 100)

	fundingA := RawTx{TxID: txHash(16), Vout: []RawVout{{Value: 1000, Script: standardScript(0x01)}}}
	fundingB := RawTx{TxID: txHash(17), Vout: []RawVout{{Value: 1000, Script: standardScript(0x02)}}}

	script := buildEnvelopeScript(t, "text/plain", deployBody("test", "21000000"))
	deployTx := RawTx{
		TxID: txHash(18),
		Vin: []RawVin{
			{TxID: fundingA.TxID, Vout: 0, ScriptSig: []byte{}},
			{TxID: fundingB.TxID, Vout: 0, ScriptSig: script},
		},
		Vout: []RawVout{{Value: 900, Script: standardScript(0xCC)}},
	}

	blk := RawBlock{Hash: txHash(0xFA), Height: 100, Txs: []RawTx{fundingA, fundingB, deployTx}}

	out, err := d.DecodeBlock(blk)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if len(out.Actions) != 1 {
		t.Fatalf("actions = %d, want 1 (deploy on non-genesis input allowed once activation height is reached)", len(out.Actions))
	}
	if _, ok := out.Actions[0].(interpreter.Deploy); !ok {
		t.Fatalf("action type = %T, want interpreter.Deploy", out.Actions[0])
	}
}
