package wallet

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainPointer locates a block on the local chain.
type ChainPointer struct {
	Hash   chainhash.Hash `json:"hash"`
	Height int32          `json:"height"`
}

// SpendingDetails records which transaction reserved a coin.
type SpendingDetails struct {
	TransactionID chainhash.Hash `json:"transaction_id"`
	BlockHeight   int32          `json:"block_height"` // 0 until the spend is seen in a block
}

// MultisigCoin is one output locked to the federation multisig.
type MultisigCoin struct {
	OutPoint    wire.OutPoint    `json:"out_point"`
	Amount      int64            `json:"amount"`
	PkScript    []byte           `json:"pk_script"`
	BlockHeight int32            `json:"block_height"` // 0 = mempool only
	Spending    *SpendingDetails `json:"spending,omitempty"`
}

// Snapshot is a point-in-time copy of the multisig output set. The transfer
// store reads it while holding its lock, so the view cannot race with wallet
// mutations.
type Snapshot struct {
	Coins []*MultisigCoin
}

// FederationWallet is the contract the transfer store requires from the
// multisig wallet. All calls are serialized by the store lock.
type FederationWallet interface {
	// TipToChase returns the wallet's last synced block on this chain. The
	// store treats it as authoritative and never advances past it.
	TipToChase() ChainPointer

	// Snapshot returns the multisig output set with spending details.
	Snapshot() *Snapshot

	// ProcessTransaction reserves every input of tx as spent by tx. Returns
	// false when any input is unknown or already reserved by another
	// transaction.
	ProcessTransaction(tx *wire.MsgTx) bool

	// RemoveTransaction undoes a reservation made by ProcessTransaction.
	RemoveTransaction(tx *wire.MsgTx)

	// UpdateSpendingDetails re-points every reservation held under oldTxID
	// to tx (used after a signature merge changes the transaction hash).
	UpdateSpendingDetails(oldTxID chainhash.Hash, tx *wire.MsgTx) error

	// Save persists the wallet.
	Save() error

	// RemoveBlocks rewinds the wallet to fork. A nil fork rewinds to
	// genesis.
	RemoveBlocks(fork *ChainPointer) error

	// BlockLocator returns the wallet's block locator, newest first.
	BlockLocator() []chainhash.Hash

	// MultisigScript is the output script controlling pegged funds; the
	// deterministic builder pays change to it.
	MultisigScript() []byte

	// CanSign reports whether the wallet password has been supplied.
	CanSign() bool

	// SignTransaction adds this member's signatures to tx in place,
	// preserving signatures already present.
	SignTransaction(tx *wire.MsgTx) error

	// CombineSignatures merges the partial signatures carried by partials
	// into base and returns the combined transaction. Duplicate signatures
	// are idempotent.
	CombineSignatures(base *wire.MsgTx, partials []*wire.MsgTx) (*wire.MsgTx, error)
}
