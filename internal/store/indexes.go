package store

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// transferIndexes are the in-memory reverse lookups. They are rebuilt from a
// full table scan on Initialize and afterwards mutated only by a tracker
// applied after a successful KV commit.
type transferIndexes struct {
	depositsByStatus        map[Status]map[chainhash.Hash]struct{}
	depositIdsByBlockHash   map[chainhash.Hash]map[chainhash.Hash]struct{}
	blockHeightsByBlockHash map[chainhash.Hash]int32
}

func newTransferIndexes() *transferIndexes {
	return &transferIndexes{
		depositsByStatus:        make(map[Status]map[chainhash.Hash]struct{}),
		depositIdsByBlockHash:   make(map[chainhash.Hash]map[chainhash.Hash]struct{}),
		blockHeightsByBlockHash: make(map[chainhash.Hash]int32),
	}
}

func (ix *transferIndexes) insert(t *CrossChainTransfer) {
	ix.addStatus(t.Status, t.DepositID)
	if t.BlockHash != nil {
		ix.addBlockRef(*t.BlockHash, t.BlockHeight, t.DepositID)
	}
}

func (ix *transferIndexes) addStatus(status Status, depositID chainhash.Hash) {
	bucket, ok := ix.depositsByStatus[status]
	if !ok {
		bucket = make(map[chainhash.Hash]struct{})
		ix.depositsByStatus[status] = bucket
	}
	bucket[depositID] = struct{}{}
}

func (ix *transferIndexes) removeStatus(status Status, depositID chainhash.Hash) {
	if bucket, ok := ix.depositsByStatus[status]; ok {
		delete(bucket, depositID)
		if len(bucket) == 0 {
			delete(ix.depositsByStatus, status)
		}
	}
}

func (ix *transferIndexes) addBlockRef(blockHash chainhash.Hash, height int32, depositID chainhash.Hash) {
	bucket, ok := ix.depositIdsByBlockHash[blockHash]
	if !ok {
		bucket = make(map[chainhash.Hash]struct{})
		ix.depositIdsByBlockHash[blockHash] = bucket
	}
	bucket[depositID] = struct{}{}
	ix.blockHeightsByBlockHash[blockHash] = height
}

func (ix *transferIndexes) removeBlockRef(blockHash chainhash.Hash, depositID chainhash.Hash) {
	bucket, ok := ix.depositIdsByBlockHash[blockHash]
	if !ok {
		return
	}
	delete(bucket, depositID)
	if len(bucket) == 0 {
		// the height entry lives only while some transfer references the hash
		delete(ix.depositIdsByBlockHash, blockHash)
		delete(ix.blockHeightsByBlockHash, blockHash)
	}
}

func (ix *transferIndexes) statusIDs(status Status) []chainhash.Hash {
	bucket := ix.depositsByStatus[status]
	ids := make([]chainhash.Hash, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	return ids
}

func (ix *transferIndexes) hasStatus(status Status) bool {
	return len(ix.depositsByStatus[status]) > 0
}
