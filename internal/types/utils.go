package types

import (
	"bytes"

	"github.com/btcsuite/btcd/wire"
)

// SerializeTransaction encodes a transaction with witness data.
func SerializeTransaction(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeTransaction decodes a transaction serialized by
// SerializeTransaction.
func DeserializeTransaction(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// CopyTransaction returns a deep copy of tx.
func CopyTransaction(tx *wire.MsgTx) *wire.MsgTx {
	return tx.Copy()
}

// OutPointLess is the canonical coin ordering used for deterministic
// transaction building: previous txid bytes lexicographic, then output index.
func OutPointLess(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}
