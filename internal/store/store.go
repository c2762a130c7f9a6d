package store

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/builder"
	"github.com/fedstack/pegbridge/internal/chain"
	"github.com/fedstack/pegbridge/internal/db"
	"github.com/fedstack/pegbridge/internal/extractor"
	"github.com/fedstack/pegbridge/internal/types"
	"github.com/fedstack/pegbridge/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// Keys of the common table. The repository tip key is pinned to a single
// zero byte; the on-disk layout depends on it.
var (
	RepositoryTipKey = []byte{0x00}
	NextMatureTipKey = []byte{0x01}
)

// CrossChainTransferStore tracks every transfer from a counter-chain deposit
// to a confirmed local withdrawal. One mutex serializes all operations; the
// wallet is only mutated while it is held.
type CrossChainTransferStore struct {
	lockObj sync.Mutex

	dbm        *db.DatabaseManager
	ix         *transferIndexes
	wallet     wallet.FederationWallet
	chainIndex chain.ChainIndex
	blockRepo  chain.BlockRepository
	withdrawEx extractor.WithdrawalExtractor
	txBuilder  *builder.WithdrawalBuilder

	tip                     *wallet.ChainPointer // nil until the first block is consumed
	nextMatureDepositHeight int32

	batchSize int
}

func NewCrossChainTransferStore(
	dbm *db.DatabaseManager,
	federationWallet wallet.FederationWallet,
	chainIndex chain.ChainIndex,
	blockRepo chain.BlockRepository,
	withdrawEx extractor.WithdrawalExtractor,
	txBuilder *builder.WithdrawalBuilder,
	batchSize int,
) *CrossChainTransferStore {
	return &CrossChainTransferStore{
		dbm:        dbm,
		ix:         newTransferIndexes(),
		wallet:     federationWallet,
		chainIndex: chainIndex,
		blockRepo:  blockRepo,
		withdrawEx: withdrawEx,
		txBuilder:  txBuilder,
		batchSize:  batchSize,
	}
}

func (s *CrossChainTransferStore) lock() {
	s.lockObj.Lock()
}

func (s *CrossChainTransferStore) unlock() {
	s.lockObj.Unlock()
}

// Initialize reconstructs the in-memory state from the KV alone: common
// counters, then a full transfers scan to rebuild the indexes. Invariant
// violations are programmer errors and abort the process.
func (s *CrossChainTransferStore) Initialize() error {
	return s.dbm.View(func(tx *db.Tx) error {
		if raw, ok, err := tx.Get(db.TableCommon, RepositoryTipKey); err != nil {
			return err
		} else if ok {
			ptr, err := decodeChainPointer(raw)
			if err != nil {
				log.Fatalf("TransferStore corrupt repository tip: %v", err)
			}
			s.tip = ptr
		}

		if raw, ok, err := tx.Get(db.TableCommon, NextMatureTipKey); err != nil {
			return err
		} else if ok {
			if len(raw) != 4 {
				log.Fatalf("TransferStore corrupt next mature height, len %d", len(raw))
			}
			s.nextMatureDepositHeight = int32(binary.BigEndian.Uint32(raw))
		}

		s.ix = newTransferIndexes()
		err := tx.Scan(db.TableTransfers, func(key, value []byte) error {
			t, err := DeserializeTransfer(value)
			if err != nil {
				return err
			}
			if (t.Status == StatusSeenInBlock) != (t.BlockHash != nil) {
				log.Fatalf("TransferStore invariant violation, transfer %s status %s block hash set %v",
					t.DepositID, t.Status, t.BlockHash != nil)
			}
			s.ix.insert(t)
			return nil
		})
		if err != nil {
			return err
		}
		log.Infof("TransferStore initialized, tip: %v, next mature height: %d, suspended: %v",
			s.tip, s.nextMatureDepositHeight, s.ix.hasStatus(StatusSuspended))
		return nil
	})
}

// Start runs the background synchronization loop until ctx is canceled.
func (s *CrossChainTransferStore) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("TransferStore sync loop stopping...")
			return
		case <-ticker.C:
			if err := s.Synchronize(ctx); err != nil {
				log.Errorf("TransferStore synchronize err %v", err)
			}
		}
	}
}

// Dispose flushes the counters and the wallet.
func (s *CrossChainTransferStore) Dispose() {
	s.lock()
	defer s.unlock()
	if err := s.saveCurrentTipLocked(); err != nil {
		log.Errorf("TransferStore dispose save tip err %v", err)
	}
	if err := s.wallet.Save(); err != nil {
		log.Errorf("TransferStore dispose save wallet err %v", err)
	}
}

// Get returns the transfers for depositIDs in input order, nil where the
// store has no record. Runs Synchronize first so reads are consistent with
// the wallet's tip.
func (s *CrossChainTransferStore) Get(ctx context.Context, depositIDs []chainhash.Hash) ([]*CrossChainTransfer, error) {
	s.lock()
	defer s.unlock()

	if err := s.synchronizeLocked(ctx); err != nil {
		return nil, err
	}
	return s.getTransfersLocked(depositIDs)
}

func (s *CrossChainTransferStore) getTransfersLocked(depositIDs []chainhash.Hash) ([]*CrossChainTransfer, error) {
	transfers := make([]*CrossChainTransfer, len(depositIDs))
	err := s.dbm.View(func(tx *db.Tx) error {
		for i := range depositIDs {
			t, err := getTransfer(tx, depositIDs[i])
			if err != nil {
				return err
			}
			transfers[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// DepositTransaction pairs a deposit id with its current withdrawal
// transaction.
type DepositTransaction struct {
	DepositID   chainhash.Hash
	Transaction *wire.MsgTx
}

// GetTransactionsByStatus returns the withdrawal transactions currently in
// status, ordered by the canonical outpoint of each transaction's first
// input.
func (s *CrossChainTransferStore) GetTransactionsByStatus(ctx context.Context, status Status) ([]*DepositTransaction, error) {
	s.lock()
	defer s.unlock()

	if err := s.synchronizeLocked(ctx); err != nil {
		return nil, err
	}

	transfers, err := s.getTransfersLocked(s.ix.statusIDs(status))
	if err != nil {
		return nil, err
	}

	result := make([]*DepositTransaction, 0, len(transfers))
	for _, t := range transfers {
		if t == nil || t.PartialTransaction == nil {
			continue
		}
		result = append(result, &DepositTransaction{
			DepositID:   t.DepositID,
			Transaction: t.PartialTransaction,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Transaction, result[j].Transaction
		if len(a.TxIn) == 0 || len(b.TxIn) == 0 {
			return len(a.TxIn) < len(b.TxIn)
		}
		return types.OutPointLess(a.TxIn[0].PreviousOutPoint, b.TxIn[0].PreviousOutPoint)
	})
	return result, nil
}

// HasSuspended reports whether any transfer is currently suspended.
func (s *CrossChainTransferStore) HasSuspended() bool {
	s.lock()
	defer s.unlock()
	return s.ix.hasStatus(StatusSuspended)
}

// NextMatureDepositHeight is the counter-chain height the store expects the
// next mature-deposit batch at.
func (s *CrossChainTransferStore) NextMatureDepositHeight() int32 {
	s.lock()
	defer s.unlock()
	return s.nextMatureDepositHeight
}

// SetNextMatureDepositHeight seeds the counter for a store starting from a
// configured counter-chain height.
func (s *CrossChainTransferStore) SetNextMatureDepositHeight(height int32) {
	s.lock()
	defer s.unlock()
	if height > s.nextMatureDepositHeight {
		s.nextMatureDepositHeight = height
	}
}

// SaveCurrentTip flushes the next mature deposit height.
func (s *CrossChainTransferStore) SaveCurrentTip() error {
	s.lock()
	defer s.unlock()
	return s.saveCurrentTipLocked()
}

func (s *CrossChainTransferStore) saveCurrentTipLocked() error {
	return s.dbm.Update(func(tx *db.Tx) error {
		return putNextMatureHeight(tx, s.nextMatureDepositHeight)
	})
}

// Tip returns the last block whose withdrawals have been recorded, nil when
// none has.
func (s *CrossChainTransferStore) Tip() *wallet.ChainPointer {
	s.lock()
	defer s.unlock()
	if s.tip == nil {
		return nil
	}
	ptr := *s.tip
	return &ptr
}

// --- persistence helpers, all called with the lock held ---

func getTransfer(tx *db.Tx, depositID chainhash.Hash) (*CrossChainTransfer, error) {
	raw, ok, err := tx.Get(db.TableTransfers, depositID[:])
	if err != nil || !ok {
		return nil, err
	}
	return DeserializeTransfer(raw)
}

func putTransfer(tx *db.Tx, t *CrossChainTransfer) error {
	raw, err := t.Serialize()
	if err != nil {
		return err
	}
	return tx.Put(db.TableTransfers, t.DepositID[:], raw)
}

func putNextMatureHeight(tx *db.Tx, height int32) error {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(height))
	return tx.Put(db.TableCommon, NextMatureTipKey, raw[:])
}

func putRepositoryTip(tx *db.Tx, ptr *wallet.ChainPointer) error {
	if ptr == nil {
		return tx.Delete(db.TableCommon, RepositoryTipKey)
	}
	return tx.Put(db.TableCommon, RepositoryTipKey, encodeChainPointer(ptr))
}

func encodeChainPointer(ptr *wallet.ChainPointer) []byte {
	raw := make([]byte, chainhash.HashSize+4)
	copy(raw, ptr.Hash[:])
	binary.BigEndian.PutUint32(raw[chainhash.HashSize:], uint32(ptr.Height))
	return raw
}

func decodeChainPointer(raw []byte) (*wallet.ChainPointer, error) {
	if len(raw) != chainhash.HashSize+4 {
		return nil, errBadChainPointer
	}
	ptr := &wallet.ChainPointer{}
	copy(ptr.Hash[:], raw[:chainhash.HashSize])
	ptr.Height = int32(binary.BigEndian.Uint32(raw[chainhash.HashSize:]))
	return ptr, nil
}

// commitTracker persists every tracked transfer (and any extra writes) in
// one KV transaction, then folds the tracker into the indexes. On failure
// the tracker is dropped and the indexes stay untouched.
func (s *CrossChainTransferStore) commitTracker(tracker *statusTracker, extra func(tx *db.Tx) error) error {
	err := s.dbm.Update(func(tx *db.Tx) error {
		for _, entry := range tracker.entries {
			if entry.deleted {
				if err := tx.Delete(db.TableTransfers, entry.transfer.DepositID[:]); err != nil {
					return err
				}
				continue
			}
			if err := putTransfer(tx, entry.transfer); err != nil {
				return err
			}
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	tracker.Apply(s.ix)
	return nil
}
