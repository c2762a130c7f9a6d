package store

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// statusTracker is the scratch log every mutating operation writes through.
// It captures the pre-mutation (status, block) of each touched transfer so
// the in-memory indexes can be updated only after the KV commit succeeds; a
// rolled-back commit simply drops the tracker, leaving the indexes
// byte-identical to their pre-operation state.
type statusTracker struct {
	entries []*trackedTransfer
	byID    map[chainhash.Hash]*trackedTransfer
}

type trackedTransfer struct {
	transfer *CrossChainTransfer

	created bool
	deleted bool

	oldStatus    Status
	oldBlockHash *chainhash.Hash
}

func newStatusTracker() *statusTracker {
	return &statusTracker{byID: make(map[chainhash.Hash]*trackedTransfer)}
}

// RecordExisting captures the current state of a persisted transfer before
// it is mutated. Calling it twice for the same transfer keeps the first
// snapshot.
func (st *statusTracker) RecordExisting(t *CrossChainTransfer) {
	if _, ok := st.byID[t.DepositID]; ok {
		return
	}
	entry := &trackedTransfer{
		transfer:  t,
		oldStatus: t.Status,
	}
	if t.BlockHash != nil {
		hash := *t.BlockHash
		entry.oldBlockHash = &hash
	}
	st.entries = append(st.entries, entry)
	st.byID[t.DepositID] = entry
}

// RecordNew registers a transfer that does not yet exist in the store.
func (st *statusTracker) RecordNew(t *CrossChainTransfer) {
	if _, ok := st.byID[t.DepositID]; ok {
		return
	}
	entry := &trackedTransfer{transfer: t, created: true}
	st.entries = append(st.entries, entry)
	st.byID[t.DepositID] = entry
}

// MarkDeleted flags a previously recorded transfer for index removal.
func (st *statusTracker) MarkDeleted(t *CrossChainTransfer) {
	entry, ok := st.byID[t.DepositID]
	if !ok {
		st.RecordExisting(t)
		entry = st.byID[t.DepositID]
	}
	entry.deleted = true
}

// Transfers returns every tracked transfer, in record order.
func (st *statusTracker) Transfers() []*CrossChainTransfer {
	transfers := make([]*CrossChainTransfer, 0, len(st.entries))
	for _, entry := range st.entries {
		transfers = append(transfers, entry.transfer)
	}
	return transfers
}

// Apply folds the tracker into the indexes. Must only run after the KV
// commit that persisted the same mutations.
func (st *statusTracker) Apply(ix *transferIndexes) {
	for _, entry := range st.entries {
		t := entry.transfer
		switch {
		case entry.deleted:
			if !entry.created {
				ix.removeStatus(entry.oldStatus, t.DepositID)
				if entry.oldBlockHash != nil {
					ix.removeBlockRef(*entry.oldBlockHash, t.DepositID)
				}
			}
		case entry.created:
			ix.insert(t)
		default:
			if entry.oldStatus != t.Status {
				ix.removeStatus(entry.oldStatus, t.DepositID)
				ix.addStatus(t.Status, t.DepositID)
			}
			oldHash := entry.oldBlockHash
			newHash := t.BlockHash
			if oldHash != nil && (newHash == nil || *newHash != *oldHash) {
				ix.removeBlockRef(*oldHash, t.DepositID)
			}
			if newHash != nil && (oldHash == nil || *newHash != *oldHash) {
				ix.addBlockRef(*newHash, t.BlockHeight, t.DepositID)
			}
		}
	}
}
