package db

import (
	"os"
	"path/filepath"

	"github.com/fedstack/pegbridge/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	storeDb *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	// one directory per federation multisig, so two federations on one host
	// never share a store
	dbDir := filepath.Join(config.AppConfig.DataDir, "federatedTransfers"+config.AppConfig.MultisigAddress)
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	storePath := filepath.Join(dbDir, "transfer_store.db")
	storeDb, err := gorm.Open(sqlite.Open(storePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to transfer store database: %v", err)
	}
	dm.storeDb = storeDb
	log.Debugf("Transfer store database connected successfully, path: %s", storePath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

// NewDatabaseManagerAt opens the store at an explicit directory, bypassing
// the global config. Used by tests.
func NewDatabaseManagerAt(dbDir string) (*DatabaseManager, error) {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		return nil, err
	}
	storeDb, err := gorm.Open(sqlite.Open(filepath.Join(dbDir, "transfer_store.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	dm := &DatabaseManager{storeDb: storeDb}
	dm.autoMigrate()
	return dm, nil
}

func (dm *DatabaseManager) GetStoreDB() *gorm.DB {
	return dm.storeDb
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.storeDb.AutoMigrate(&transferRow{}, &commonRow{}); err != nil {
		log.Fatalf("Failed to migrate transfer store database: %v", err)
	}
}
