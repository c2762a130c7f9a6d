package extractor_test

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

func testAddress(t *testing.T) btcutil.Address {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(key.PubKey().SerializeCompressed()), params)
	require.NoError(t, err)
	return addr
}

func multisigScript(t *testing.T) []byte {
	addr, err := btcutil.NewAddressScriptHash([]byte{0x51}, params)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

func opReturnScript(t *testing.T, data []byte) []byte {
	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(data).Script()
	require.NoError(t, err)
	return script
}

func blockWith(txs ...*wire.MsgTx) *wire.MsgBlock {
	return &wire.MsgBlock{
		Header:       wire.BlockHeader{Version: 1, Timestamp: time.Unix(1700000000, 0)},
		Transactions: txs,
	}
}

func TestDepositExtractor(t *testing.T) {
	multisig := multisigScript(t)
	target := testAddress(t)

	deposit := wire.NewMsgTx(wire.TxVersion)
	deposit.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("funding"))}, nil, nil))
	deposit.AddTxOut(wire.NewTxOut(25000000, multisig))
	deposit.AddTxOut(wire.NewTxOut(0, opReturnScript(t, []byte(target.EncodeAddress()))))

	// pays the federation but carries no target: ignored
	stray := wire.NewMsgTx(wire.TxVersion)
	stray.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("other"))}, nil, nil))
	stray.AddTxOut(wire.NewTxOut(1000, multisig))

	ex := extractor.NewOpReturnDepositExtractor(multisig, params)
	deposits := ex.ExtractFromBlock(blockWith(deposit, stray), 10)

	require.Len(t, deposits, 1)
	assert.Equal(t, deposit.TxHash(), deposits[0].ID)
	assert.Equal(t, int64(25000000), deposits[0].Amount)
	assert.Equal(t, int32(10), deposits[0].BlockNumber)

	expectedScript, err := txscript.PayToAddrScript(target)
	require.NoError(t, err)
	assert.Equal(t, expectedScript, deposits[0].TargetScript)
}

func TestWithdrawalExtractor(t *testing.T) {
	multisig := multisigScript(t)
	depositID := chainhash.HashH([]byte("deposit"))
	target := testAddress(t)
	targetScript, err := txscript.PayToAddrScript(target)
	require.NoError(t, err)

	withdrawal := wire.NewMsgTx(wire.TxVersion)
	withdrawal.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("coin"))}, nil, nil))
	withdrawal.AddTxOut(wire.NewTxOut(24000000, targetScript))
	withdrawal.AddTxOut(wire.NewTxOut(5000000, multisig)) // change
	withdrawal.AddTxOut(wire.NewTxOut(0, opReturnScript(t, depositID[:])))

	// op_return payload of the wrong size: not a withdrawal marker
	unrelated := wire.NewMsgTx(wire.TxVersion)
	unrelated.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("noise"))}, nil, nil))
	unrelated.AddTxOut(wire.NewTxOut(5000, targetScript))
	unrelated.AddTxOut(wire.NewTxOut(0, opReturnScript(t, []byte("short"))))

	block := blockWith(withdrawal, unrelated)
	ex := extractor.NewOpReturnWithdrawalExtractor(multisig)
	withdrawals := ex.ExtractFromBlock(block, 7)

	require.Len(t, withdrawals, 1)
	assert.Equal(t, withdrawal.TxHash(), withdrawals[0].ID)
	assert.Equal(t, depositID, withdrawals[0].DepositID)
	assert.Equal(t, targetScript, withdrawals[0].TargetScript)
	assert.Equal(t, int64(24000000), withdrawals[0].Amount)
	assert.Equal(t, block.BlockHash(), withdrawals[0].BlockHash)
	assert.Equal(t, int32(7), withdrawals[0].BlockHeight)
}
