package store

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/db"
	"github.com/fedstack/pegbridge/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// Synchronize brings the store tip up to the wallet's tip-to-chase,
// executing reorgs as they are detected. Cancellation is observed between
// batches only.
func (s *CrossChainTransferStore) Synchronize(ctx context.Context) error {
	s.lock()
	defer s.unlock()
	return s.synchronizeLocked(ctx)
}

func (s *CrossChainTransferStore) synchronizeLocked(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rewound, err := s.rewindIfRequiredLocked()
		if err != nil {
			return err
		}
		if rewound {
			continue
		}

		caughtUp, err := s.synchronizeBatchLocked()
		if err != nil {
			return err
		}
		if caughtUp {
			return nil
		}
	}
}

// rewindIfRequiredLocked returns true when it changed something and the
// synchronize loop should re-evaluate from scratch.
func (s *CrossChainTransferStore) rewindIfRequiredLocked() (bool, error) {
	walletTip := s.wallet.TipToChase()
	if walletTip == (wallet.ChainPointer{}) {
		// the wallet has not synced anything yet
		return false, nil
	}
	if s.tip != nil && s.tip.Hash == walletTip.Hash {
		return false, nil
	}

	// The wallet is ahead on a branch the chain index no longer knows:
	// ask the wallet to rewind via its locator, then chase the new tip.
	if _, ok := s.chainIndex.GetHeader(walletTip.Hash); !ok {
		var forkPtr *wallet.ChainPointer
		if fork := s.chainIndex.FindFork(s.wallet.BlockLocator()); fork != nil {
			forkPtr = &wallet.ChainPointer{Hash: fork.Hash, Height: fork.Height}
		}
		// no locator intersection rewinds the wallet to genesis
		log.Warnf("TransferStore wallet tip %s unknown to chain index, rewinding wallet to %v", walletTip.Hash, forkPtr)
		if err := s.wallet.RemoveBlocks(forkPtr); err != nil {
			return false, err
		}
		if err := s.wallet.Save(); err != nil {
			return false, err
		}
		return true, nil
	}

	if s.tip == nil {
		return false, nil
	}

	onActiveBranch := false
	if hdr, ok := s.chainIndex.HeaderAtHeight(s.tip.Height); ok && hdr.Hash == s.tip.Hash {
		onActiveBranch = true
	}
	if s.tip.Height <= walletTip.Height && onActiveBranch {
		return false, nil
	}

	fork := s.highestTrackedForkLocked(walletTip.Height)
	log.Infof("TransferStore reorg detected, tip %v, wallet tip (%s, %d), fork %v",
		s.tip, walletTip.Hash, walletTip.Height, fork)
	if err := s.rewindToForkLocked(fork); err != nil {
		return false, err
	}
	return true, nil
}

// highestTrackedForkLocked picks the highest block the store references that
// is still on the active branch at or below maxHeight. Nil means no common
// ancestor is tracked and the store rewinds to genesis.
func (s *CrossChainTransferStore) highestTrackedForkLocked(maxHeight int32) *wallet.ChainPointer {
	var fork *wallet.ChainPointer
	for blockHash, height := range s.ix.blockHeightsByBlockHash {
		if height > maxHeight {
			continue
		}
		hdr, ok := s.chainIndex.HeaderAtHeight(height)
		if !ok || hdr.Hash != blockHash {
			continue
		}
		if fork == nil || height > fork.Height {
			fork = &wallet.ChainPointer{Hash: blockHash, Height: height}
		}
	}
	return fork
}

// rewindToForkLocked undoes every SeenInBlock observation above the fork:
// transfers we built ourselves fall back to FullySigned, seen-only transfers
// (no deposit height) are deleted. Sanity validation then re-checks the
// remaining live transfers against the wallet.
func (s *CrossChainTransferStore) rewindToForkLocked(fork *wallet.ChainPointer) error {
	forkHeight := int32(0)
	if fork != nil {
		forkHeight = fork.Height
	}

	var ids []chainhash.Hash
	for blockHash, height := range s.ix.blockHeightsByBlockHash {
		if height <= forkHeight {
			continue
		}
		for id := range s.ix.depositIdsByBlockHash[blockHash] {
			ids = append(ids, id)
		}
	}
	transfers, err := s.getTransfersLocked(ids)
	if err != nil {
		return err
	}

	tracker := newStatusTracker()
	checkSet := make([]*CrossChainTransfer, 0, len(transfers))
	for _, t := range transfers {
		if t == nil {
			continue
		}
		if t.DepositHeight == nil {
			// seen-only entry, nothing to fall back to
			tracker.MarkDeleted(t)
			continue
		}
		tracker.RecordExisting(t)
		t.Status = StatusFullySigned
		t.BlockHash = nil
		t.BlockHeight = 0
		checkSet = append(checkSet, t)
	}

	liveIDs := append(s.ix.statusIDs(StatusPartial), s.ix.statusIDs(StatusFullySigned)...)
	live, err := s.getTransfersLocked(liveIDs)
	if err != nil {
		return err
	}
	checkSet = append(checkSet, live...)

	prevTip := s.tip
	prevNextMature := s.nextMatureDepositHeight
	removed := s.validateTransfersLocked(tracker, checkSet)
	s.tip = fork

	err = s.commitTracker(tracker, func(tx *db.Tx) error {
		if err := putRepositoryTip(tx, s.tip); err != nil {
			return err
		}
		return putNextMatureHeight(tx, s.nextMatureDepositHeight)
	})
	if err != nil {
		s.tip = prevTip
		s.nextMatureDepositHeight = prevNextMature
		return err
	}

	// index removals and wallet cleanup happen only after the commit
	for _, tx := range removed {
		s.wallet.RemoveTransaction(tx)
	}
	log.Infof("TransferStore rewound to height %d, transfers touched: %d", forkHeight, len(tracker.entries))
	return nil
}

// synchronizeBatchLocked advances the tip by at most one batch of blocks.
// Returns true once the store tip equals the wallet tip (or no further
// progress is possible this pass).
func (s *CrossChainTransferStore) synchronizeBatchLocked() (bool, error) {
	walletTip := s.wallet.TipToChase()
	if walletTip == (wallet.ChainPointer{}) {
		return true, nil
	}
	if s.tip != nil && s.tip.Hash == walletTip.Hash {
		return true, nil
	}

	start := int32(1)
	if s.tip != nil {
		start = s.tip.Height + 1
	}

	hashes := make([]chainhash.Hash, 0, s.batchSize)
	for height := start; height <= walletTip.Height && len(hashes) < s.batchSize; height++ {
		hdr, ok := s.chainIndex.HeaderAtHeight(height)
		if !ok {
			break
		}
		hashes = append(hashes, hdr.Hash)
	}
	if len(hashes) == 0 {
		return true, nil
	}

	blocks, err := s.blockRepo.GetBlocks(hashes)
	if err != nil {
		return false, err
	}
	available := 0
	for available < len(blocks) && blocks[available] != nil {
		available++
	}
	if available == 0 {
		// repository does not have these blocks yet, retry next pass
		log.Debugf("TransferStore block repository missing block %s", hashes[0])
		return true, nil
	}

	if err := s.putBlocksLocked(blocks[:available], start); err != nil {
		return false, err
	}
	return s.tip != nil && s.tip.Hash == walletTip.Hash, nil
}

// putBlocksLocked records the withdrawals of each block in ascending order,
// advancing the tip block by block so a crash never skips observations.
func (s *CrossChainTransferStore) putBlocksLocked(blocks []*wire.MsgBlock, startHeight int32) error {
	for i, block := range blocks {
		height := startHeight + int32(i)
		blockHash := block.BlockHash()
		withdrawals := s.withdrawEx.ExtractFromBlock(block, height)

		ids := make([]chainhash.Hash, len(withdrawals))
		for j, withdrawal := range withdrawals {
			ids[j] = withdrawal.DepositID
		}
		existing, err := s.getTransfersLocked(ids)
		if err != nil {
			return err
		}

		tracker := newStatusTracker()
		for j, withdrawal := range withdrawals {
			hash := blockHash
			t := existing[j]
			if t == nil {
				// first sight of this deposit, observed via our own chain
				t = &CrossChainTransfer{
					DepositID:    withdrawal.DepositID,
					TargetScript: withdrawal.TargetScript,
					Amount:       withdrawal.Amount,
					Status:       StatusSeenInBlock,
					BlockHash:    &hash,
					BlockHeight:  height,
				}
				tracker.RecordNew(t)
				log.Infof("TransferStore seen unknown withdrawal %s for deposit %s at height %d",
					withdrawal.ID, withdrawal.DepositID, height)
				continue
			}
			tracker.RecordExisting(t)
			t.Status = StatusSeenInBlock
			t.BlockHash = &hash
			t.BlockHeight = height
		}

		prevTip := s.tip
		s.tip = &wallet.ChainPointer{Hash: blockHash, Height: height}
		err = s.commitTracker(tracker, func(tx *db.Tx) error {
			return putRepositoryTip(tx, s.tip)
		})
		if err != nil {
			s.tip = prevTip
			return err
		}
	}
	return nil
}
