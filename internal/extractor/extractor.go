package extractor

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// Deposit is a counter-chain transaction locking funds to the federation,
// with the target address for this chain carried in an OP_RETURN output.
type Deposit struct {
	ID           chainhash.Hash
	TargetScript []byte
	Amount       int64
	BlockNumber  int32
}

// Withdrawal is a local-chain transaction releasing deposited funds. The
// 32-byte deposit id rides in an OP_RETURN output.
type Withdrawal struct {
	ID           chainhash.Hash
	DepositID    chainhash.Hash
	TargetScript []byte
	Amount       int64
	BlockHash    chainhash.Hash
	BlockHeight  int32
}

type DepositExtractor interface {
	ExtractFromBlock(block *wire.MsgBlock, height int32) []*Deposit
}

type WithdrawalExtractor interface {
	ExtractFromBlock(block *wire.MsgBlock, height int32) []*Withdrawal
}

// OpReturnDepositExtractor scans counter-chain blocks for outputs paying the
// federation multisig whose transaction also carries an OP_RETURN with the
// target address.
type OpReturnDepositExtractor struct {
	multisigScript []byte
	params         *chaincfg.Params
}

var _ DepositExtractor = (*OpReturnDepositExtractor)(nil)

func NewOpReturnDepositExtractor(multisigScript []byte, params *chaincfg.Params) *OpReturnDepositExtractor {
	return &OpReturnDepositExtractor{multisigScript: multisigScript, params: params}
}

func (e *OpReturnDepositExtractor) ExtractFromBlock(block *wire.MsgBlock, height int32) []*Deposit {
	var deposits []*Deposit
	for _, tx := range block.Transactions {
		var amount int64
		var targetScript []byte
		for _, txOut := range tx.TxOut {
			if bytes.Equal(txOut.PkScript, e.multisigScript) {
				amount += txOut.Value
				continue
			}
			if data, ok := opReturnData(txOut.PkScript); ok && targetScript == nil {
				script, err := addressBytesToScript(data, e.params)
				if err != nil {
					log.Debugf("Deposit extractor skip op_return in tx %s: %v", tx.TxHash(), err)
					continue
				}
				targetScript = script
			}
		}
		if amount > 0 && targetScript != nil {
			deposits = append(deposits, &Deposit{
				ID:           tx.TxHash(),
				TargetScript: targetScript,
				Amount:       amount,
				BlockNumber:  height,
			})
		}
	}
	return deposits
}

// OpReturnWithdrawalExtractor scans local blocks for federation withdrawals:
// a payment plus an OP_RETURN carrying the 32-byte deposit id.
type OpReturnWithdrawalExtractor struct {
	multisigScript []byte
}

var _ WithdrawalExtractor = (*OpReturnWithdrawalExtractor)(nil)

func NewOpReturnWithdrawalExtractor(multisigScript []byte) *OpReturnWithdrawalExtractor {
	return &OpReturnWithdrawalExtractor{multisigScript: multisigScript}
}

func (e *OpReturnWithdrawalExtractor) ExtractFromBlock(block *wire.MsgBlock, height int32) []*Withdrawal {
	blockHash := block.BlockHash()
	var withdrawals []*Withdrawal
	for _, tx := range block.Transactions {
		var depositID *chainhash.Hash
		var amount int64
		var targetScript []byte
		for _, txOut := range tx.TxOut {
			if data, ok := opReturnData(txOut.PkScript); ok {
				if len(data) == chainhash.HashSize && depositID == nil {
					id, err := chainhash.NewHash(data)
					if err == nil {
						depositID = id
					}
				}
				continue
			}
			if bytes.Equal(txOut.PkScript, e.multisigScript) {
				// change back to the federation
				continue
			}
			if targetScript == nil {
				targetScript = txOut.PkScript
				amount = txOut.Value
			}
		}
		if depositID != nil && targetScript != nil {
			withdrawals = append(withdrawals, &Withdrawal{
				ID:           tx.TxHash(),
				DepositID:    *depositID,
				TargetScript: targetScript,
				Amount:       amount,
				BlockHash:    blockHash,
				BlockHeight:  height,
			})
		}
	}
	return withdrawals
}

func opReturnData(pkScript []byte) ([]byte, bool) {
	if len(pkScript) == 0 || pkScript[0] != txscript.OP_RETURN {
		return nil, false
	}
	pushes, err := txscript.PushedData(pkScript)
	if err != nil || len(pushes) == 0 {
		return nil, false
	}
	return pushes[0], true
}

func addressBytesToScript(data []byte, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(string(data), params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
