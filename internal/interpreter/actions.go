// Package interpreter runs the token-protocol state machine: it consumes
// an ordered sequence of raw actions decoded from one block and turns
// them into balance/meta mutations, holder-index updates, emitted
// history and the inverse operations a reorg rollback would need.
package interpreter

import "github.com/choosenname/bel-20-indexer/internal/domain"

// RawAction is the tagged union of the four operations C1+C2 can emit
// for a block.
type RawAction interface{ isRawAction() }

// Deploy declares a new token. Created is the deploying block's
// timestamp (unix seconds), carried through unchanged into the
// persisted TokenMeta for deploy-time sorting.
type Deploy struct {
	Genesis domain.InscriptionID
	Owner   domain.FullHash
	Tick    domain.TokenTick
	Max     domain.Fixed128
	Lim     domain.Fixed128
	Dec     uint8
	Created int64
}

func (Deploy) isRawAction() {}

// Mint credits newly minted supply to Owner.
type Mint struct {
	Owner domain.FullHash
	Tick  domain.TokenTick
	Amt   domain.Fixed128
	TxID  domain.TxHash
	Vout  uint32
}

func (Mint) isRawAction() {}

// Transfer creates a transferable at Location, debiting Owner's balance.
type Transfer struct {
	Location domain.Location
	Owner    domain.FullHash
	Tick     domain.TokenTick
	Amt      domain.Fixed128
	TxID     domain.TxHash
	Vout     uint32
}

func (Transfer) isRawAction() {}

// Transferred spends a previously created transferable at
// TransferLocation, crediting Recipient if present.
type Transferred struct {
	TransferLocation domain.Location
	Recipient        *domain.FullHash
	TxID             domain.TxHash
	Vout             uint32
}

func (Transferred) isRawAction() {}
