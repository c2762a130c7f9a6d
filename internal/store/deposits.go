package store

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/db"
	"github.com/fedstack/pegbridge/internal/extractor"
	log "github.com/sirupsen/logrus"
)

// RecordLatestMatureDeposits creates or updates the transfers for the mature
// deposits of exactly one counter-chain height. Deposits are processed
// strictly in the supplied order; the first build failure suspends the rest
// of the batch and keeps the height counter in place so the caller retries.
func (s *CrossChainTransferStore) RecordLatestMatureDeposits(ctx context.Context, deposits []*extractor.Deposit) error {
	s.lock()
	defer s.unlock()

	for _, deposit := range deposits {
		if deposit.BlockNumber != s.nextMatureDepositHeight {
			return fmt.Errorf("deposit %s height %d does not match expected mature height %d",
				deposit.ID, deposit.BlockNumber, s.nextMatureDepositHeight)
		}
	}

	if len(deposits) == 0 {
		s.nextMatureDepositHeight++
		log.Debugf("TransferStore empty mature batch, next mature height now %d", s.nextMatureDepositHeight)
		return nil
	}

	if err := s.synchronizeLocked(ctx); err != nil {
		return err
	}

	prevNextMature := s.nextMatureDepositHeight

	ids := make([]chainhash.Hash, len(deposits))
	for i, deposit := range deposits {
		ids[i] = deposit.ID
	}
	existing, err := s.getTransfersLocked(ids)
	if err != nil {
		return err
	}

	tracker := newStatusTracker()
	removed := s.validateTransfersLocked(tracker, existing)

	haveSuspended := false
	var reserved []*wire.MsgTx
	for i, deposit := range deposits {
		t := existing[i]
		if t != nil && t.Status != StatusSuspended {
			// already handled
			continue
		}
		if t == nil {
			depositHeight := deposit.BlockNumber
			t = &CrossChainTransfer{
				DepositID:     deposit.ID,
				DepositHeight: &depositHeight,
				TargetScript:  deposit.TargetScript,
				Amount:        deposit.Amount,
				Status:        StatusSuspended,
			}
			tracker.RecordNew(t)
		} else {
			tracker.RecordExisting(t)
		}

		// strict in-order processing: after one failure everything later in
		// the batch stays suspended
		if haveSuspended {
			t.Status = StatusSuspended
			t.PartialTransaction = nil
			continue
		}

		builtTx := s.txBuilder.BuildDeterministicTransaction(deposit.ID, deposit.TargetScript, deposit.Amount)
		if builtTx == nil || !s.wallet.ProcessTransaction(builtTx) {
			log.Warnf("TransferStore suspend deposit %s at height %d, withdrawal could not be funded",
				deposit.ID, deposit.BlockNumber)
			t.Status = StatusSuspended
			t.PartialTransaction = nil
			haveSuspended = true
			continue
		}
		reserved = append(reserved, builtTx)
		t.Status = StatusPartial
		t.PartialTransaction = builtTx
	}

	if !haveSuspended {
		s.nextMatureDepositHeight++
	}

	err = s.commitTracker(tracker, func(tx *db.Tx) error {
		return putNextMatureHeight(tx, s.nextMatureDepositHeight)
	})
	if err != nil {
		// undo the reservations this batch made and retry from scratch
		for _, reservedTx := range reserved {
			s.wallet.RemoveTransaction(reservedTx)
		}
		s.nextMatureDepositHeight = prevNextMature
		return err
	}

	for _, removedTx := range removed {
		s.wallet.RemoveTransaction(removedTx)
	}
	if err := s.wallet.Save(); err != nil {
		log.Errorf("TransferStore save wallet after mature deposits err %v", err)
	}
	log.Infof("TransferStore recorded %d mature deposits at height %d, suspended: %v",
		len(deposits), deposits[0].BlockNumber, haveSuspended)
	return nil
}
