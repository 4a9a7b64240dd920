package interpreter

import (
	"github.com/choosenname/bel-20-indexer/internal/domain"
	"github.com/choosenname/bel-20-indexer/internal/tokenstore"
)

// Emission is one interpreter-produced history-row precursor. Id
// assignment and the Send/Receive split for a non-self Transferred are
// left to the block pipeline, which is the only stage that knows the
// running history id counter.
type Emission struct {
	Type HistoryActionKind
	Tick domain.LowerCaseTick

	// Owner is the account this action is filed under: the deployer for
	// Deploy, the recipient for Mint, the sender for Transfer and
	// Transferred.
	Owner domain.FullHash

	// Recipient is set only for Transferred; it equals Owner when the
	// transferable was spent back to its own sender (no-recipient or
	// burn-address spend).
	Recipient domain.FullHash
	HasRecipient bool

	Amount domain.Fixed128
	TxID   domain.TxHash
	Vout   uint32
}

// HistoryActionKind mirrors tokenstore's persisted action set, keeping
// the interpreter free of a tokenstore import cycle risk while staying a
// simple alias of the same underlying values.
type HistoryActionKind = tokenstore.HistoryAction

const (
	KindDeploy   = tokenstore.ActionDeploy
	KindMint     = tokenstore.ActionMint
	KindTransfer = tokenstore.ActionDeployTransfer
	KindSend     = tokenstore.ActionSend
)

// JournalOp is the tagged union of inverse operations a reorg rollback
// replays in reverse order to undo one interpreted action.
type JournalOp interface{ isJournalOp() }

// RemoveDeployed undoes a Deploy: delete the token's meta entirely.
type RemoveDeployed struct {
	Tick domain.LowerCaseTick
}

func (RemoveDeployed) isJournalOp() {}

// RemoveMint undoes a Mint: debit the credited amount back off supply
// and the recipient's balance.
type RemoveMint struct {
	Owner domain.FullHash
	Tick  domain.LowerCaseTick
	Amt   domain.Fixed128
}

func (RemoveMint) isJournalOp() {}

// RemoveTransfer undoes a Transfer create: delete the active transfer at
// Location and credit Amt back onto Owner's spendable balance.
type RemoveTransfer struct {
	Location domain.Location
	Owner    domain.FullHash
	Tick     domain.LowerCaseTick
	Amt      domain.Fixed128
}

func (RemoveTransfer) isJournalOp() {}

// RestoreTransferred undoes a Transferred: re-insert the active transfer
// it consumed and, if a recipient was credited, debit it back off.
type RestoreTransferred struct {
	Location  domain.Location
	Owner     domain.FullHash
	Tick      domain.LowerCaseTick
	Amt       domain.Fixed128
	Height    uint32
	Recipient domain.FullHash
	HasRecipient bool
}

func (RestoreTransferred) isJournalOp() {}
