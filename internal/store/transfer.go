package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/fedstack/pegbridge/internal/types"
)

// Status of a cross-chain transfer.
type Status uint8

const (
	// StatusSuspended: the withdrawal could not be built or lost its
	// reserved inputs; no partial transaction is held.
	StatusSuspended Status = iota
	// StatusPartial: a deterministic withdrawal transaction exists with
	// fewer than the required signatures.
	StatusPartial
	// StatusFullySigned: the withdrawal carries a full valid signature set.
	StatusFullySigned
	// StatusSeenInBlock: the withdrawal was observed in a local-chain block.
	StatusSeenInBlock
)

func (s Status) String() string {
	switch s {
	case StatusSuspended:
		return "suspended"
	case StatusPartial:
		return "partial"
	case StatusFullySigned:
		return "fully_signed"
	case StatusSeenInBlock:
		return "seen_in_block"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// CrossChainTransfer is the persisted record of one deposit-to-withdrawal
// transfer. DepositID is the primary key and never changes.
type CrossChainTransfer struct {
	DepositID chainhash.Hash

	// DepositHeight is the counter-chain height the deposit matured at.
	// Nil when the transfer was first observed in one of our own blocks
	// and we never saw the originating deposit.
	DepositHeight *int32

	TargetScript []byte
	Amount       int64

	// PartialTransaction is the current draft withdrawal. Nil in
	// StatusSuspended.
	PartialTransaction *wire.MsgTx

	// BlockHash and BlockHeight locate the block on this chain in which the
	// withdrawal for this deposit was observed. PartialTransaction is not
	// taken from that block, so a transfer first seen there has none.
	// BlockHash is non-nil iff Status is StatusSeenInBlock.
	BlockHash   *chainhash.Hash
	BlockHeight int32

	Status Status
}

// Copy returns a deep copy of the transfer.
func (t *CrossChainTransfer) Copy() *CrossChainTransfer {
	copied := *t
	if t.DepositHeight != nil {
		height := *t.DepositHeight
		copied.DepositHeight = &height
	}
	copied.TargetScript = append([]byte(nil), t.TargetScript...)
	if t.PartialTransaction != nil {
		copied.PartialTransaction = t.PartialTransaction.Copy()
	}
	if t.BlockHash != nil {
		hash := *t.BlockHash
		copied.BlockHash = &hash
	}
	return &copied
}

// Serialize encodes the record: status:u8, deposit_id:32,
// has_deposit_height:u8 [deposit_height:i32], amount:i64,
// target_script:varbytes, has_partial_tx:u8 [partial_tx:varbytes],
// has_block:u8 [block_hash:32, block_height:i32]. Integers are big-endian.
func (t *CrossChainTransfer) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(t.Status))
	buf.Write(t.DepositID[:])

	if t.DepositHeight != nil {
		buf.WriteByte(1)
		if err := binary.Write(&buf, binary.BigEndian, *t.DepositHeight); err != nil {
			return nil, err
		}
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, t.Amount); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, t.TargetScript); err != nil {
		return nil, err
	}

	if t.PartialTransaction != nil {
		buf.WriteByte(1)
		raw, err := types.SerializeTransaction(t.PartialTransaction)
		if err != nil {
			return nil, err
		}
		if err := wire.WriteVarBytes(&buf, 0, raw); err != nil {
			return nil, err
		}
	} else {
		buf.WriteByte(0)
	}

	if t.BlockHash != nil {
		buf.WriteByte(1)
		buf.Write(t.BlockHash[:])
		if err := binary.Write(&buf, binary.BigEndian, t.BlockHeight); err != nil {
			return nil, err
		}
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// DeserializeTransfer decodes a record written by Serialize.
func DeserializeTransfer(raw []byte) (*CrossChainTransfer, error) {
	r := bytes.NewReader(raw)
	t := &CrossChainTransfer{}

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	t.Status = Status(status)
	if t.Status > StatusSeenInBlock {
		return nil, fmt.Errorf("unknown transfer status %d", status)
	}

	if _, err := io.ReadFull(r, t.DepositID[:]); err != nil {
		return nil, fmt.Errorf("read deposit id: %w", err)
	}

	hasHeight, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read deposit height flag: %w", err)
	}
	if hasHeight == 1 {
		var height int32
		if err := binary.Read(r, binary.BigEndian, &height); err != nil {
			return nil, fmt.Errorf("read deposit height: %w", err)
		}
		t.DepositHeight = &height
	}

	if err := binary.Read(r, binary.BigEndian, &t.Amount); err != nil {
		return nil, fmt.Errorf("read amount: %w", err)
	}
	t.TargetScript, err = wire.ReadVarBytes(r, 0, wire.MaxMessagePayload, "target script")
	if err != nil {
		return nil, fmt.Errorf("read target script: %w", err)
	}

	hasTx, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read partial tx flag: %w", err)
	}
	if hasTx == 1 {
		rawTx, err := wire.ReadVarBytes(r, 0, wire.MaxMessagePayload, "partial tx")
		if err != nil {
			return nil, fmt.Errorf("read partial tx: %w", err)
		}
		t.PartialTransaction, err = types.DeserializeTransaction(rawTx)
		if err != nil {
			return nil, fmt.Errorf("decode partial tx: %w", err)
		}
	}

	hasBlock, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read block flag: %w", err)
	}
	if hasBlock == 1 {
		var hash chainhash.Hash
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, fmt.Errorf("read block hash: %w", err)
		}
		t.BlockHash = &hash
		if err := binary.Read(r, binary.BigEndian, &t.BlockHeight); err != nil {
			return nil, fmt.Errorf("read block height: %w", err)
		}
	}
	return t, nil
}
