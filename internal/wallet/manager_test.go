package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = &chaincfg.RegressionNetParams

func newTestManager(t *testing.T) (*Manager, []*btcec.PrivateKey) {
	keys := make([]*btcec.PrivateKey, 3)
	addrs := make([]*btcutil.AddressPubKey, 3)
	for i := range keys {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = key
		addr, err := btcutil.NewAddressPubKey(key.PubKey().SerializeCompressed(), params)
		require.NoError(t, err)
		addrs[i] = addr
	}
	redeemScript, err := txscript.MultiSigScript(addrs, 2)
	require.NoError(t, err)

	m, err := NewManager(t.TempDir(), redeemScript, params)
	require.NoError(t, err)
	return m, keys
}

func unlock(t *testing.T, m *Manager, key *btcec.PrivateKey) {
	wif, err := btcutil.NewWIF(key, params, true)
	require.NoError(t, err)
	require.NoError(t, m.Unlock(wif.String()))
}

func coinAt(m *Manager, seed byte, amount int64, height int32) *MultisigCoin {
	coin := &MultisigCoin{
		OutPoint:    wire.OutPoint{Hash: chainhash.HashH([]byte{seed})},
		Amount:      amount,
		PkScript:    m.MultisigScript(),
		BlockHeight: height,
	}
	m.AddCoin(coin)
	return coin
}

func spendOf(coins ...*MultisigCoin) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	var total int64
	for _, coin := range coins {
		outPoint := coin.OutPoint
		tx.AddTxIn(wire.NewTxIn(&outPoint, nil, nil))
		total += coin.Amount
	}
	tx.AddTxOut(wire.NewTxOut(total-10000, []byte{0x76, 0xa9, 0x14, 0x01}))
	return tx
}

func TestProcessAndRemoveTransaction(t *testing.T) {
	m, _ := newTestManager(t)
	coin := coinAt(m, 1, 30000000, 1)

	tx := spendOf(coin)
	require.True(t, m.ProcessTransaction(tx))

	// re-reserving under the same transaction is idempotent
	assert.True(t, m.ProcessTransaction(tx))

	// another transaction cannot steal the coin
	other := spendOf(coin)
	other.TxOut[0].Value = 1
	assert.False(t, m.ProcessTransaction(other))

	m.RemoveTransaction(tx)
	assert.True(t, m.ProcessTransaction(other))
}

func TestProcessTransactionUnknownInput(t *testing.T) {
	m, _ := newTestManager(t)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("ghost"))}, nil, nil))
	assert.False(t, m.ProcessTransaction(tx))
}

func TestUpdateSpendingDetails(t *testing.T) {
	m, _ := newTestManager(t)
	coin := coinAt(m, 1, 30000000, 1)

	tx := spendOf(coin)
	require.True(t, m.ProcessTransaction(tx))
	oldID := tx.TxHash()

	changed := tx.Copy()
	changed.TxIn[0].SignatureScript = []byte{0x00}
	require.NoError(t, m.UpdateSpendingDetails(oldID, changed))

	for _, snap := range m.Snapshot().Coins {
		require.NotNil(t, snap.Spending)
		assert.Equal(t, changed.TxHash(), snap.Spending.TransactionID)
	}
}

func TestSignAndCombineSignatures(t *testing.T) {
	m, keys := newTestManager(t)
	coin := coinAt(m, 1, 30000000, 1)
	tx := spendOf(coin)

	// member 0 signs
	unlock(t, m, keys[0])
	require.NoError(t, m.SignTransaction(tx))

	// member 1 signs an independent copy
	sibling, err := NewManager(t.TempDir(), m.RedeemScript(), params)
	require.NoError(t, err)
	coinCopy := *coin
	sibling.AddCoin(&coinCopy)
	unlock(t, sibling, keys[1])
	partial := tx.Copy()
	partial.TxIn[0].SignatureScript = nil
	require.NoError(t, sibling.SignTransaction(partial))

	merged, err := m.CombineSignatures(tx, []*wire.MsgTx{partial})
	require.NoError(t, err)

	// 2-of-3 satisfied: full script verification passes
	prevFetcher := txscript.NewCannedPrevOutputFetcher(coin.PkScript, coin.Amount)
	vm, err := txscript.NewEngine(coin.PkScript, merged, 0,
		txscript.StandardVerifyFlags, nil, txscript.NewTxSigHashes(merged, prevFetcher), coin.Amount, prevFetcher)
	require.NoError(t, err)
	assert.NoError(t, vm.Execute())

	// merging the same partial again yields the same transaction
	again, err := m.CombineSignatures(merged, []*wire.MsgTx{partial})
	require.NoError(t, err)
	assert.Equal(t, merged.TxHash(), again.TxHash())
}

func TestRemoveBlocksRewindsCoins(t *testing.T) {
	m, _ := newTestManager(t)
	kept := coinAt(m, 1, 10000000, 5)
	coinAt(m, 2, 20000000, 9)

	m.SetLastBlock(ChainPointer{Hash: chainhash.HashH([]byte("b5")), Height: 5})
	m.SetLastBlock(ChainPointer{Hash: chainhash.HashH([]byte("b9")), Height: 9})

	require.NoError(t, m.RemoveBlocks(&ChainPointer{Height: 5}))

	snap := m.Snapshot()
	require.Len(t, snap.Coins, 1)
	assert.Equal(t, kept.OutPoint, snap.Coins[0].OutPoint)
	assert.Equal(t, int32(5), m.TipToChase().Height)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()

	keys := make([]*btcutil.AddressPubKey, 2)
	for i := range keys {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		addr, err := btcutil.NewAddressPubKey(key.PubKey().SerializeCompressed(), params)
		require.NoError(t, err)
		keys[i] = addr
	}
	redeemScript, err := txscript.MultiSigScript(keys, 2)
	require.NoError(t, err)

	m, err := NewManager(dir, redeemScript, params)
	require.NoError(t, err)
	coinAt(m, 1, 30000000, 3)
	m.SetLastBlock(ChainPointer{Hash: chainhash.HashH([]byte("tip")), Height: 3})
	require.NoError(t, m.Save())

	reloaded, err := NewManager(dir, redeemScript, params)
	require.NoError(t, err)
	assert.Len(t, reloaded.Snapshot().Coins, 1)
	assert.Equal(t, int32(3), reloaded.TipToChase().Height)
}
