package store

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/wallet"
	log "github.com/sirupsen/logrus"
)

var errBadChainPointer = errors.New("chain pointer must be 36 bytes")

// minWithdrawalFee is the policy floor a fully signed withdrawal must pay
// before the store will promote it.
const minWithdrawalFee = btcutil.Amount(1000)

func snapshotByOutPoint(snapshot *wallet.Snapshot) map[wire.OutPoint]*wallet.MultisigCoin {
	coins := make(map[wire.OutPoint]*wallet.MultisigCoin, len(snapshot.Coins))
	for _, coin := range snapshot.Coins {
		coins[coin.OutPoint] = coin
	}
	return coins
}

// validateTransfersLocked is the sanity pass: any transfer in Partial or
// FullySigned whose inputs are no longer reserved for its own transaction is
// downgraded to Suspended, and the next mature height drops to its deposit
// height so the deposit is retried once funds return. Returns the
// transactions to remove from the wallet after the commit. This is the only
// path that may decrease nextMatureDepositHeight.
func (s *CrossChainTransferStore) validateTransfersLocked(tracker *statusTracker, transfers []*CrossChainTransfer) []*wire.MsgTx {
	coins := snapshotByOutPoint(s.wallet.Snapshot())

	var removed []*wire.MsgTx
	for _, t := range transfers {
		if t == nil || (t.Status != StatusPartial && t.Status != StatusFullySigned) {
			continue
		}
		if t.PartialTransaction != nil && inputsReservedFor(coins, t.PartialTransaction) {
			continue
		}

		tracker.RecordExisting(t)
		if t.PartialTransaction != nil {
			removed = append(removed, t.PartialTransaction)
		}
		log.Warnf("TransferStore sanity check suspends transfer %s, status was %s", t.DepositID, t.Status)
		t.Status = StatusSuspended
		t.PartialTransaction = nil

		if t.DepositHeight != nil && *t.DepositHeight < s.nextMatureDepositHeight {
			log.Infof("TransferStore next mature height %d -> %d for retry of deposit %s",
				s.nextMatureDepositHeight, *t.DepositHeight, t.DepositID)
			s.nextMatureDepositHeight = *t.DepositHeight
		}
	}
	return removed
}

func inputsReservedFor(coins map[wire.OutPoint]*wallet.MultisigCoin, tx *wire.MsgTx) bool {
	txID := tx.TxHash()
	for _, txIn := range tx.TxIn {
		coin, ok := coins[txIn.PreviousOutPoint]
		if !ok || coin.Spending == nil || coin.Spending.TransactionID != txID {
			return false
		}
	}
	return true
}

// validateFullySignedLocked checks that tx spends only coins the wallet has
// reserved for it, pays at least the minimum fee and passes full script
// verification on every input.
func (s *CrossChainTransferStore) validateFullySignedLocked(tx *wire.MsgTx) bool {
	coins := snapshotByOutPoint(s.wallet.Snapshot())
	txID := tx.TxHash()

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	var totalIn int64
	for _, txIn := range tx.TxIn {
		coin, ok := coins[txIn.PreviousOutPoint]
		if !ok || coin.Spending == nil || coin.Spending.TransactionID != txID {
			log.Debugf("TransferStore validate %s: input %s not reserved", txID, txIn.PreviousOutPoint)
			return false
		}
		prevOuts[txIn.PreviousOutPoint] = wire.NewTxOut(coin.Amount, coin.PkScript)
		totalIn += coin.Amount
	}

	var totalOut int64
	for _, txOut := range tx.TxOut {
		totalOut += txOut.Value
	}
	if totalIn-totalOut < int64(minWithdrawalFee) {
		log.Debugf("TransferStore validate %s: fee %d below policy floor", txID, totalIn-totalOut)
		return false
	}

	prevFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, prevFetcher)
	for i, txIn := range tx.TxIn {
		prevOut := prevOuts[txIn.PreviousOutPoint]
		vm, err := txscript.NewEngine(prevOut.PkScript, tx, i,
			txscript.StandardVerifyFlags, nil, sigHashes, prevOut.Value, prevFetcher)
		if err != nil {
			log.Debugf("TransferStore validate %s: engine input %d err %v", txID, i, err)
			return false
		}
		if err := vm.Execute(); err != nil {
			log.Debugf("TransferStore validate %s: script input %d err %v", txID, i, err)
			return false
		}
	}
	return true
}
