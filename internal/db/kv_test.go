package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DatabaseManager {
	dm, err := NewDatabaseManagerAt(t.TempDir())
	require.NoError(t, err)
	return dm
}

func TestKvPutGetDelete(t *testing.T) {
	dm := newTestDB(t)

	key := []byte{0x01, 0x02}
	err := dm.Update(func(tx *Tx) error {
		return tx.Put(TableTransfers, key, []byte("hello"))
	})
	require.NoError(t, err)

	err = dm.View(func(tx *Tx) error {
		value, ok, err := tx.Get(TableTransfers, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), value)

		// the same key does not exist in the other table
		_, ok, err = tx.Get(TableCommon, key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	// overwrite
	err = dm.Update(func(tx *Tx) error {
		return tx.Put(TableTransfers, key, []byte("world"))
	})
	require.NoError(t, err)

	err = dm.Update(func(tx *Tx) error {
		return tx.Delete(TableTransfers, key)
	})
	require.NoError(t, err)

	err = dm.View(func(tx *Tx) error {
		_, ok, err := tx.Get(TableTransfers, key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestKvTransactionRollsBackBothTables(t *testing.T) {
	dm := newTestDB(t)

	boom := errors.New("boom")
	err := dm.Update(func(tx *Tx) error {
		if err := tx.Put(TableTransfers, []byte{0xaa}, []byte("a")); err != nil {
			return err
		}
		if err := tx.Put(TableCommon, []byte{0x00}, []byte("tip")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = dm.View(func(tx *Tx) error {
		_, ok, err := tx.Get(TableTransfers, []byte{0xaa})
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, err = tx.Get(TableCommon, []byte{0x00})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestKvScan(t *testing.T) {
	dm := newTestDB(t)

	err := dm.Update(func(tx *Tx) error {
		for i := byte(0); i < 5; i++ {
			if err := tx.Put(TableTransfers, []byte{i}, []byte{i, i}); err != nil {
				return err
			}
		}
		return tx.Put(TableCommon, []byte{0x01}, []byte{0x09})
	})
	require.NoError(t, err)

	seen := map[byte][]byte{}
	err = dm.View(func(tx *Tx) error {
		return tx.Scan(TableTransfers, func(key, value []byte) error {
			seen[key[0]] = value
			return nil
		})
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
	assert.Equal(t, []byte{3, 3}, seen[3])
}

func TestKvViewRejectsWrites(t *testing.T) {
	dm := newTestDB(t)

	require.NoError(t, dm.Update(func(tx *Tx) error {
		return tx.Put(TableTransfers, []byte{0x01}, []byte("keep"))
	}))

	err := dm.View(func(tx *Tx) error {
		return tx.Put(TableTransfers, []byte{0x02}, []byte("sneak"))
	})
	assert.ErrorIs(t, err, errReadOnlyTx)

	err = dm.View(func(tx *Tx) error {
		return tx.Delete(TableTransfers, []byte{0x01})
	})
	assert.ErrorIs(t, err, errReadOnlyTx)

	// the snapshot contents are untouched
	err = dm.View(func(tx *Tx) error {
		value, ok, err := tx.Get(TableTransfers, []byte{0x01})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("keep"), value)
		return nil
	})
	require.NoError(t, err)
}

func TestKvUnknownTable(t *testing.T) {
	dm := newTestDB(t)
	err := dm.Update(func(tx *Tx) error {
		return tx.Put("nope", []byte{0}, []byte{0})
	})
	assert.Error(t, err)
}
