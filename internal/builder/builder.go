package builder

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/types"
	"github.com/fedstack/pegbridge/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// WithdrawalBuilder produces the canonical unsigned withdrawal transaction
// for a deposit. Every federation member running the same wallet UTXO set
// must produce byte-identical output, so coin selection is ordered, nothing
// is shuffled and the fee is a flat configured amount.
type WithdrawalBuilder struct {
	wallet          wallet.FederationWallet
	transactionFee  int64
	minCoinMaturity int32
}

func NewWithdrawalBuilder(w wallet.FederationWallet, transactionFee int64, minCoinMaturity int32) *WithdrawalBuilder {
	return &WithdrawalBuilder{
		wallet:          w,
		transactionFee:  transactionFee,
		minCoinMaturity: minCoinMaturity,
	}
}

// BuildDeterministicTransaction returns nil when the wallet cannot fund the
// withdrawal; that is a suspension condition, not an error. Input scripts
// are only populated when the wallet password has been supplied; input
// verification is deferred to the signature merge.
func (b *WithdrawalBuilder) BuildDeterministicTransaction(depositID chainhash.Hash, targetScript []byte, amount int64) *wire.MsgTx {
	tip := b.wallet.TipToChase()
	snapshot := b.wallet.Snapshot()

	var spendable []*wallet.MultisigCoin
	for _, coin := range snapshot.Coins {
		if coin.Spending != nil {
			continue
		}
		if coin.BlockHeight == 0 {
			continue
		}
		confirmations := tip.Height - coin.BlockHeight + 1
		if confirmations < b.minCoinMaturity {
			continue
		}
		spendable = append(spendable, coin)
	}

	// canonical coin order: previous txid bytes, then output index
	sort.Slice(spendable, func(i, j int) bool {
		return types.OutPointLess(spendable[i].OutPoint, spendable[j].OutPoint)
	})

	target := amount + b.transactionFee
	var selected []*wallet.MultisigCoin
	var total int64
	for _, coin := range spendable {
		selected = append(selected, coin)
		total += coin.Amount
		if total >= target {
			break
		}
	}
	if total < target {
		log.Infof("Builder cannot fund deposit %s, need %d, spendable %d", depositID, target, total)
		return nil
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, coin := range selected {
		tx.AddTxIn(wire.NewTxIn(&coin.OutPoint, nil, nil))
	}

	tx.AddTxOut(wire.NewTxOut(amount, targetScript))
	tx.AddTxOut(wire.NewTxOut(total-target, b.wallet.MultisigScript()))

	opReturn, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_RETURN).
		AddData(depositID[:]).
		Script()
	if err != nil {
		log.Errorf("Builder op_return script for deposit %s err %v", depositID, err)
		return nil
	}
	tx.AddTxOut(wire.NewTxOut(0, opReturn))

	if b.wallet.CanSign() {
		if err := b.wallet.SignTransaction(tx); err != nil {
			log.Warnf("Builder sign deposit %s err %v, leaving unsigned", depositID, err)
		}
	}
	return tx
}
