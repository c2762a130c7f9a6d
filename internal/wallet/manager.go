package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

const walletFileName = "multisig_wallet.json"

// Manager is a file-backed FederationWallet. It tracks the multisig output
// set, input reservations and the wallet's view of the local chain tip, and
// holds this member's signing key once the wallet password is supplied.
type Manager struct {
	mu sync.Mutex

	dir            string
	params         *chaincfg.Params
	redeemScript   []byte
	multisigScript []byte

	coins      map[wire.OutPoint]*MultisigCoin
	lastBlocks []ChainPointer // newest first

	privKey *btcec.PrivateKey
}

type walletFile struct {
	Coins      []*MultisigCoin `json:"coins"`
	LastBlocks []ChainPointer  `json:"last_blocks"`
}

var _ FederationWallet = (*Manager)(nil)

func NewManager(dir string, redeemScript []byte, params *chaincfg.Params) (*Manager, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
	if err != nil {
		return nil, fmt.Errorf("derive multisig address: %w", err)
	}
	multisigScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("derive multisig script: %w", err)
	}

	m := &Manager{
		dir:            dir,
		params:         params,
		redeemScript:   redeemScript,
		multisigScript: multisigScript,
		coins:          make(map[wire.OutPoint]*MultisigCoin),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	raw, err := os.ReadFile(filepath.Join(m.dir, walletFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var file walletFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse wallet file: %w", err)
	}
	for _, coin := range file.Coins {
		m.coins[coin.OutPoint] = coin
	}
	m.lastBlocks = file.LastBlocks
	log.Debugf("Wallet loaded, coins: %d, last block height: %d", len(m.coins), m.tipLocked().Height)
	return nil
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file := walletFile{LastBlocks: m.lastBlocks}
	for _, coin := range m.coins {
		file.Coins = append(file.Coins, coin)
	}
	raw, err := json.Marshal(&file)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, walletFileName), raw, 0600)
}

// Unlock sets the member signing key from a WIF. Until called the wallet
// builds unsigned transactions only.
func (m *Manager) Unlock(wifStr string) error {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return fmt.Errorf("decode wallet key: %w", err)
	}
	m.mu.Lock()
	m.privKey = wif.PrivKey
	m.mu.Unlock()
	return nil
}

func (m *Manager) CanSign() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.privKey != nil
}

func (m *Manager) MultisigScript() []byte {
	return m.multisigScript
}

func (m *Manager) RedeemScript() []byte {
	return m.redeemScript
}

// AddCoin registers a new multisig output, typically when the wallet's chain
// follower sees a funding transaction.
func (m *Manager) AddCoin(coin *MultisigCoin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coins[coin.OutPoint] = coin
}

// SetLastBlock advances the wallet tip. Keeps a bounded locator history.
func (m *Manager) SetLastBlock(ptr ChainPointer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBlocks = append([]ChainPointer{ptr}, m.lastBlocks...)
	if len(m.lastBlocks) > 100 {
		m.lastBlocks = m.lastBlocks[:100]
	}
}

func (m *Manager) tipLocked() ChainPointer {
	if len(m.lastBlocks) == 0 {
		return ChainPointer{}
	}
	return m.lastBlocks[0]
}

func (m *Manager) TipToChase() ChainPointer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tipLocked()
}

func (m *Manager) BlockLocator() []chainhash.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	locator := make([]chainhash.Hash, 0, len(m.lastBlocks))
	for _, ptr := range m.lastBlocks {
		locator = append(locator, ptr.Hash)
	}
	return locator
}

func (m *Manager) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{Coins: make([]*MultisigCoin, 0, len(m.coins))}
	for _, coin := range m.coins {
		copied := *coin
		if coin.Spending != nil {
			spending := *coin.Spending
			copied.Spending = &spending
		}
		snap.Coins = append(snap.Coins, &copied)
	}
	return snap
}

func (m *Manager) ProcessTransaction(tx *wire.MsgTx) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID := tx.TxHash()
	for _, txIn := range tx.TxIn {
		coin, ok := m.coins[txIn.PreviousOutPoint]
		if !ok {
			log.Warnf("Wallet ProcessTransaction unknown input %s for tx %s", txIn.PreviousOutPoint, txID)
			return false
		}
		if coin.Spending != nil && coin.Spending.TransactionID != txID {
			log.Warnf("Wallet ProcessTransaction input %s already reserved by %s", txIn.PreviousOutPoint, coin.Spending.TransactionID)
			return false
		}
	}
	for _, txIn := range tx.TxIn {
		m.coins[txIn.PreviousOutPoint].Spending = &SpendingDetails{TransactionID: txID}
	}
	return true
}

func (m *Manager) RemoveTransaction(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txID := tx.TxHash()
	for _, txIn := range tx.TxIn {
		coin, ok := m.coins[txIn.PreviousOutPoint]
		if ok && coin.Spending != nil && coin.Spending.TransactionID == txID {
			coin.Spending = nil
		}
	}
}

func (m *Manager) UpdateSpendingDetails(oldTxID chainhash.Hash, tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	newID := tx.TxHash()
	for _, coin := range m.coins {
		if coin.Spending != nil && coin.Spending.TransactionID == oldTxID {
			coin.Spending.TransactionID = newID
		}
	}
	return nil
}

// ConfirmSpending records the block height at which a reserved spend was
// seen on chain.
func (m *Manager) ConfirmSpending(txID chainhash.Hash, height int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, coin := range m.coins {
		if coin.Spending != nil && coin.Spending.TransactionID == txID {
			coin.Spending.BlockHeight = height
		}
	}
}

func (m *Manager) RemoveBlocks(fork *ChainPointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	forkHeight := int32(0)
	if fork != nil {
		forkHeight = fork.Height
	}

	for outPoint, coin := range m.coins {
		if coin.BlockHeight > forkHeight {
			delete(m.coins, outPoint)
			continue
		}
		if coin.Spending != nil && coin.Spending.BlockHeight > forkHeight {
			// the spend went back to the mempool
			coin.Spending.BlockHeight = 0
		}
	}

	trimmed := m.lastBlocks[:0]
	for _, ptr := range m.lastBlocks {
		if ptr.Height <= forkHeight {
			trimmed = append(trimmed, ptr)
		}
	}
	m.lastBlocks = trimmed
	log.Infof("Wallet rewound to height %d, coins remaining: %d", forkHeight, len(m.coins))
	return nil
}

func (m *Manager) SignTransaction(tx *wire.MsgTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.privKey == nil {
		return fmt.Errorf("wallet is locked")
	}

	kdb := txscript.KeyClosure(func(btcutil.Address) (*btcec.PrivateKey, bool, error) {
		return m.privKey, true, nil
	})
	sdb := txscript.ScriptClosure(func(btcutil.Address) ([]byte, error) {
		return m.redeemScript, nil
	})

	for i, txIn := range tx.TxIn {
		coin, ok := m.coins[txIn.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("unknown input %s", txIn.PreviousOutPoint)
		}
		script, err := txscript.SignTxOutput(m.params, tx, i, coin.PkScript,
			txscript.SigHashAll, kdb, sdb, txIn.SignatureScript)
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = script
	}
	return nil
}

func (m *Manager) CombineSignatures(base *wire.MsgTx, partials []*wire.MsgTx) (*wire.MsgTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := base.Copy()
	for i := range merged.TxIn {
		scripts := [][]byte{merged.TxIn[i].SignatureScript}
		for _, partial := range partials {
			if partial == nil {
				continue
			}
			if !sameInputs(base, partial) {
				log.Warnf("Wallet CombineSignatures skip partial %s, input set differs", partial.TxHash())
				continue
			}
			scripts = append(scripts, partial.TxIn[i].SignatureScript)
		}
		combined, err := m.mergeInputScripts(merged, i, scripts)
		if err != nil {
			return nil, fmt.Errorf("merge input %d: %w", i, err)
		}
		merged.TxIn[i].SignatureScript = combined
	}
	return merged, nil
}

func sameInputs(a, b *wire.MsgTx) bool {
	if len(a.TxIn) != len(b.TxIn) {
		return false
	}
	for i := range a.TxIn {
		if a.TxIn[i].PreviousOutPoint != b.TxIn[i].PreviousOutPoint {
			return false
		}
	}
	return true
}

// mergeInputScripts rebuilds one multisig scriptSig from the union of the
// signatures carried by scripts, ordered by the redeem script's pubkeys.
func (m *Manager) mergeInputScripts(tx *wire.MsgTx, idx int, scripts [][]byte) ([]byte, error) {
	_, addrs, required, err := txscript.ExtractPkScriptAddrs(m.redeemScript, m.params)
	if err != nil {
		return nil, err
	}

	// gather every push that parses as a DER signature
	var candidates [][]byte
	for _, script := range scripts {
		if len(script) == 0 {
			continue
		}
		pushes, err := txscript.PushedData(script)
		if err != nil {
			continue
		}
		for _, push := range pushes {
			if len(push) > 8 && push[0] == 0x30 {
				candidates = append(candidates, push)
			}
		}
	}

	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_FALSE)
	count := 0
	for _, addr := range addrs {
		if count == required {
			break
		}
		pubKeyAddr, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			continue
		}
		for _, candidate := range candidates {
			hashType := txscript.SigHashType(candidate[len(candidate)-1])
			sig, err := ecdsa.ParseDERSignature(candidate[:len(candidate)-1])
			if err != nil {
				continue
			}
			sigHash, err := txscript.CalcSignatureHash(m.redeemScript, hashType, tx, idx)
			if err != nil {
				return nil, err
			}
			if sig.Verify(sigHash, pubKeyAddr.PubKey()) {
				builder.AddData(candidate)
				count++
				break
			}
		}
	}
	builder.AddData(m.redeemScript)
	return builder.Script()
}
