package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// HeaderInfo is the store's view of one block header.
type HeaderInfo struct {
	Hash     chainhash.Hash
	PrevHash chainhash.Hash
	Height   int32
}

// ChainIndex exposes the local chain's header tree. The active branch is the
// one the wallet follows once it is caught up.
type ChainIndex interface {
	// GetHeader looks a header up by hash, on any branch.
	GetHeader(hash chainhash.Hash) (*HeaderInfo, bool)

	// HeaderAtHeight returns the active-branch header at height.
	HeaderAtHeight(height int32) (*HeaderInfo, bool)

	// Tip returns the active-branch tip, nil for an empty chain.
	Tip() *HeaderInfo

	// FindFork returns the highest locator entry on the active branch, nil
	// when the locator has no intersection.
	FindFork(locator []chainhash.Hash) *HeaderInfo
}

// BlockRepository fetches full blocks in batches. A nil entry means the
// block is missing; callers stop at the first nil.
type BlockRepository interface {
	GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error)
}
