package store

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/db"
	log "github.com/sirupsen/logrus"
)

// MergeTransactionSignatures folds the partial signatures received from
// sibling federation members into the transfer's withdrawal transaction and
// promotes it to FullySigned once every input verifies. Protocol-level
// surprises (unknown deposit, wrong status, unusable partials) are not
// errors: the current state is returned unchanged.
func (s *CrossChainTransferStore) MergeTransactionSignatures(ctx context.Context, depositID chainhash.Hash, partials []*wire.MsgTx) (*wire.MsgTx, error) {
	s.lock()
	defer s.unlock()

	if err := s.synchronizeLocked(ctx); err != nil {
		return nil, err
	}

	transfers, err := s.getTransfersLocked([]chainhash.Hash{depositID})
	if err != nil {
		return nil, err
	}
	t := transfers[0]
	if t == nil {
		log.Debugf("TransferStore merge for unknown deposit %s", depositID)
		return nil, nil
	}

	// sanity-check this transfer first; a lost reservation suspends it and
	// the merge becomes a no-op
	sanity := newStatusTracker()
	removed := s.validateTransfersLocked(sanity, []*CrossChainTransfer{t})
	if len(sanity.entries) > 0 {
		err = s.commitTracker(sanity, func(tx *db.Tx) error {
			return putNextMatureHeight(tx, s.nextMatureDepositHeight)
		})
		if err != nil {
			return nil, err
		}
		for _, removedTx := range removed {
			s.wallet.RemoveTransaction(removedTx)
		}
	}

	if t.Status != StatusPartial {
		log.Debugf("TransferStore merge for deposit %s ignored, status %s", depositID, t.Status)
		return t.PartialTransaction, nil
	}

	oldTx := t.PartialTransaction
	oldHash := oldTx.TxHash()

	merged, err := s.wallet.CombineSignatures(oldTx, partials)
	if err != nil {
		log.Warnf("TransferStore merge for deposit %s could not combine signatures: %v", depositID, err)
		return oldTx, nil
	}
	if merged.TxHash() == oldHash {
		// nothing new arrived, commit nothing
		return oldTx, nil
	}

	if err := s.wallet.UpdateSpendingDetails(oldHash, merged); err != nil {
		return nil, err
	}
	t.PartialTransaction = merged

	tracker := newStatusTracker()
	tracker.RecordExisting(t)
	if s.validateFullySignedLocked(merged) {
		t.Status = StatusFullySigned
		log.Infof("TransferStore deposit %s fully signed as %s", depositID, merged.TxHash())
	}

	if err := s.commitTracker(tracker, nil); err != nil {
		// restore the draft and the wallet's reservation mapping
		t.PartialTransaction = oldTx
		if revertErr := s.wallet.UpdateSpendingDetails(merged.TxHash(), oldTx); revertErr != nil {
			log.Errorf("TransferStore merge revert spending details err %v", revertErr)
		}
		return nil, err
	}
	return merged, nil
}
