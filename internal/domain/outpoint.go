package domain

import "fmt"

// Outpoint references a specific output in a transaction.
type Outpoint struct {
	TxID TxHash `json:"txid"`
	Vout uint32 `json:"vout"`
}

// IsZero reports whether the outpoint has a zero TxID and zero index.
func (o Outpoint) IsZero() bool {
	return o.TxID.IsZero() && o.Vout == 0
}

// String returns "txid:vout".
func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Vout)
}

// Location uniquely identifies a sat-range as the creation point of a
// transferable: the outpoint it was created on plus its offset in sats
// from the start of that output.
type Location struct {
	Outpoint Outpoint `json:"outpoint"`
	Offset   uint64   `json:"offset"`
}

// String returns "txid:vout:offset".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.Outpoint.String(), l.Offset)
}

// InscriptionID identifies the envelope that produced an action: the
// transaction it was carried in and the input index it was decoded from.
type InscriptionID struct {
	TxID  TxHash `json:"txid"`
	Index uint32 `json:"index"`
}

// String returns "txid:index".
func (i InscriptionID) String() string {
	return fmt.Sprintf("%s:%d", i.TxID.String(), i.Index)
}
