// Package tokenstore persists every entity in §3 of the token-protocol
// data model across a set of column families carved out of one shared
// internal/storage.DB instance, one internal/storage.PrefixDB per table.
package tokenstore

import (
	"errors"

	"github.com/choosenname/bel-20-indexer/internal/domain"
)

// ErrNotFound is returned by a typed get when the key has no entry.
var ErrNotFound = errors.New("tokenstore: not found")

// TokenMeta is the persisted record for a deployed token (§3 TokenMeta).
type TokenMeta struct {
	Genesis        domain.InscriptionID `json:"genesis"`
	Tick           domain.TokenTick     `json:"tick"`
	Max            domain.Fixed128      `json:"max"`
	Lim            domain.Fixed128      `json:"lim"`
	Dec            uint8                `json:"dec"`
	Supply         domain.Fixed128      `json:"supply"`
	MintCount      uint64               `json:"mint_count"`
	TransferCount  uint64               `json:"transfer_count"`
	Transactions   uint64               `json:"transactions"`
	Height         uint32               `json:"height"`
	Created        int64                `json:"created"`
	Deployer       domain.FullHash      `json:"deployer"`
}

// Balance is the persisted per-(owner,tick) accounting record (§3 Balance).
type Balance struct {
	Balance             domain.Fixed128 `json:"balance"`
	TransferableBalance domain.Fixed128 `json:"transferable_balance"`
	TransfersCount      uint64          `json:"transfers_count"`
}

// ActiveTransfer is a not-yet-spent transferable (§3 Active transfer),
// keyed globally by its creation Location: a spend names only the
// location it's consuming, not who currently holds it.
type ActiveTransfer struct {
	Owner  domain.FullHash      `json:"owner"`
	Tick   domain.LowerCaseTick `json:"tick"`
	Amt    domain.Fixed128      `json:"amt"`
	Height uint32               `json:"height"`
}

// HistoryAction is the persisted action variant of a history row.
type HistoryAction string

const (
	ActionDeploy        HistoryAction = "deploy"
	ActionMint          HistoryAction = "mint"
	ActionDeployTransfer HistoryAction = "deploy_transfer"
	ActionSend          HistoryAction = "send"
	ActionReceive       HistoryAction = "receive"
	ActionSendReceive   HistoryAction = "send_receive"
)

// HistoryRow is the canonical "HistoryRest" shape (§6.6): the exact
// struct whose field order and JSON encoding feeds the POH hash.
// Address is resolved to its display string only at commit time; the
// raw owner FullHash is carried separately for store-internal use.
type HistoryRow struct {
	ID      uint64               `json:"id"`
	Address string               `json:"address"`
	Tick    domain.LowerCaseTick `json:"tick"`
	Height  uint32               `json:"height"`
	Type    HistoryAction        `json:"type"`

	Amount    *domain.Fixed128 `json:"amount,omitempty"`
	Sender    string           `json:"sender,omitempty"`
	Recipient string           `json:"recipient,omitempty"`
	TxID      string           `json:"txid,omitempty"`
	Vout      uint32           `json:"vout,omitempty"`

	// Owner is the raw owner FullHash this row is filed under, used to
	// build its AddressTokenId key. It is not part of the POH-hashed
	// JSON shape (unexported).
	owner domain.FullHash
}

// Owner returns the FullHash this row is filed under.
func (h HistoryRow) Owner() domain.FullHash { return h.owner }

// WithOwner returns a copy of h filed under owner.
func (h HistoryRow) WithOwner(owner domain.FullHash) HistoryRow {
	h.owner = owner
	return h
}
