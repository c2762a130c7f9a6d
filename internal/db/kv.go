package db

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The store persists opaque byte values in two logical tables. Keys in the
// transfers table are 32-byte deposit ids; keys in the common table are
// single bytes (see store.RepositoryTipKey, store.NextMatureTipKey).
const (
	TableTransfers = "transfers"
	TableCommon    = "common"
)

type transferRow struct {
	Key   []byte `gorm:"primaryKey"`
	Value []byte `gorm:"not null"`
}

func (transferRow) TableName() string { return TableTransfers }

type commonRow struct {
	Key   []byte `gorm:"primaryKey"`
	Value []byte `gorm:"not null"`
}

func (commonRow) TableName() string { return TableCommon }

// Tx is a transaction spanning both tables. All writes inside Update commit
// atomically or not at all.
type Tx struct {
	tx       *gorm.DB
	readOnly bool
}

var errReadOnlyTx = errors.New("write attempted inside a read-only transaction")

// Update runs fn inside a write transaction. Any error rolls the whole
// transaction back.
func (dm *DatabaseManager) Update(fn func(tx *Tx) error) error {
	return dm.storeDb.Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{tx: tx})
	})
}

// View runs fn against a consistent read snapshot. The transaction rejects
// Put and Delete so the snapshot guarantee holds by construction.
func (dm *DatabaseManager) View(fn func(tx *Tx) error) error {
	return dm.storeDb.Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{tx: tx, readOnly: true})
	})
}

func rowFor(table string, key, value []byte) (interface{}, error) {
	switch table {
	case TableTransfers:
		return &transferRow{Key: key, Value: value}, nil
	case TableCommon:
		return &commonRow{Key: key, Value: value}, nil
	default:
		return nil, errors.New("unknown table: " + table)
	}
}

func (t *Tx) Get(table string, key []byte) ([]byte, bool, error) {
	switch table {
	case TableTransfers:
		var row transferRow
		err := t.tx.Where("key = ?", key).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return row.Value, true, nil
	case TableCommon:
		var row commonRow
		err := t.tx.Where("key = ?", key).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return row.Value, true, nil
	default:
		return nil, false, errors.New("unknown table: " + table)
	}
}

func (t *Tx) Put(table string, key, value []byte) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	row, err := rowFor(table, key, value)
	if err != nil {
		return err
	}
	return t.tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(row).Error
}

func (t *Tx) Delete(table string, key []byte) error {
	if t.readOnly {
		return errReadOnlyTx
	}
	switch table {
	case TableTransfers:
		return t.tx.Where("key = ?", key).Delete(&transferRow{}).Error
	case TableCommon:
		return t.tx.Where("key = ?", key).Delete(&commonRow{}).Error
	default:
		return errors.New("unknown table: " + table)
	}
}

// Scan visits every row of a table. Iteration order is unspecified; callers
// needing determinism sort on their side.
func (t *Tx) Scan(table string, fn func(key, value []byte) error) error {
	switch table {
	case TableTransfers:
		var rows []transferRow
		if err := t.tx.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row.Key, row.Value); err != nil {
				return err
			}
		}
		return nil
	case TableCommon:
		var rows []commonRow
		if err := t.tx.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row.Key, row.Value); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.New("unknown table: " + table)
	}
}
