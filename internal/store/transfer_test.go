package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.HashH([]byte("prev")), Index: 3}, []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(25000000, []byte{0x76, 0xa9, 0x14}))
	return tx
}

func TestTransferCodecRoundTrip(t *testing.T) {
	depositHeight := int32(42)
	blockHash := chainhash.HashH([]byte("block"))

	cases := []struct {
		name     string
		transfer *CrossChainTransfer
	}{
		{
			name: "suspended without partial tx",
			transfer: &CrossChainTransfer{
				DepositID:     chainhash.HashH([]byte("d1")),
				DepositHeight: &depositHeight,
				TargetScript:  []byte{0x76, 0xa9},
				Amount:        25000000,
				Status:        StatusSuspended,
			},
		},
		{
			name: "partial with draft",
			transfer: &CrossChainTransfer{
				DepositID:          chainhash.HashH([]byte("d2")),
				DepositHeight:      &depositHeight,
				TargetScript:       []byte{0x00, 0x14},
				Amount:             1,
				PartialTransaction: sampleTx(),
				Status:             StatusPartial,
			},
		},
		{
			name: "seen in block without deposit height",
			transfer: &CrossChainTransfer{
				DepositID:          chainhash.HashH([]byte("d3")),
				TargetScript:       []byte{0xa9, 0x14},
				Amount:             7700,
				PartialTransaction: sampleTx(),
				BlockHash:          &blockHash,
				BlockHeight:        128,
				Status:             StatusSeenInBlock,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := tc.transfer.Serialize()
			require.NoError(t, err)

			decoded, err := DeserializeTransfer(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.transfer.DepositID, decoded.DepositID)
			assert.Equal(t, tc.transfer.DepositHeight, decoded.DepositHeight)
			assert.Equal(t, tc.transfer.TargetScript, decoded.TargetScript)
			assert.Equal(t, tc.transfer.Amount, decoded.Amount)
			assert.Equal(t, tc.transfer.Status, decoded.Status)
			assert.Equal(t, tc.transfer.BlockHash, decoded.BlockHash)
			assert.Equal(t, tc.transfer.BlockHeight, decoded.BlockHeight)
			if tc.transfer.PartialTransaction == nil {
				assert.Nil(t, decoded.PartialTransaction)
			} else {
				require.NotNil(t, decoded.PartialTransaction)
				assert.Equal(t, tc.transfer.PartialTransaction.TxHash(), decoded.PartialTransaction.TxHash())
			}

			// byte-stable re-encode
			again, err := decoded.Serialize()
			require.NoError(t, err)
			assert.Equal(t, raw, again)
		})
	}
}

func TestDeserializeTransferRejectsUnknownStatus(t *testing.T) {
	transfer := &CrossChainTransfer{
		DepositID: chainhash.HashH([]byte("d4")),
		Status:    StatusSuspended,
	}
	raw, err := transfer.Serialize()
	require.NoError(t, err)
	raw[0] = 0xff

	_, err = DeserializeTransfer(raw)
	assert.Error(t, err)
}

func TestDeserializeTransferRejectsTruncated(t *testing.T) {
	transfer := &CrossChainTransfer{
		DepositID:          chainhash.HashH([]byte("d5")),
		PartialTransaction: sampleTx(),
		Status:             StatusPartial,
	}
	raw, err := transfer.Serialize()
	require.NoError(t, err)

	_, err = DeserializeTransfer(raw[:len(raw)-5])
	assert.Error(t, err)
}
