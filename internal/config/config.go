package config

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("DATA_DIR", "/app/data")
	viper.SetDefault("BTC_RPC", "http://localhost:8332")
	viper.SetDefault("BTC_RPC_USER", "")
	viper.SetDefault("BTC_RPC_PASS", "")
	viper.SetDefault("MULTISIG_ADDRESS", "")
	viper.SetDefault("MULTISIG_REDEEM_SCRIPT", "")
	viper.SetDefault("BTC_NETWORK_TYPE", "")
	viper.SetDefault("TRANSACTION_FEE", 10000)
	viper.SetDefault("MIN_COIN_MATURITY", 1)
	viper.SetDefault("SYNC_BATCH_SIZE", 100)
	viper.SetDefault("MATURE_REQUEST_INTERVAL", "30s")
	viper.SetDefault("WALLET_PASSWORD", "")
	viper.SetDefault("LOG_LEVEL", "info")

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		DataDir:               viper.GetString("DATA_DIR"),
		BTCRPC:                viper.GetString("BTC_RPC"),
		BTCRPC_USER:           viper.GetString("BTC_RPC_USER"),
		BTCRPC_PASS:           viper.GetString("BTC_RPC_PASS"),
		MultisigAddress:       viper.GetString("MULTISIG_ADDRESS"),
		MultisigRedeemScript:  viper.GetString("MULTISIG_REDEEM_SCRIPT"),
		BTCNetworkType:        viper.GetString("BTC_NETWORK_TYPE"),
		TransactionFee:        viper.GetInt64("TRANSACTION_FEE"),
		MinCoinMaturity:       viper.GetInt("MIN_COIN_MATURITY"),
		SyncBatchSize:         viper.GetInt("SYNC_BATCH_SIZE"),
		MatureRequestInterval: viper.GetDuration("MATURE_REQUEST_INTERVAL"),
		WalletPassword:        viper.GetString("WALLET_PASSWORD"),
		LogLevel:              logLevel,
	}

	if AppConfig.SyncBatchSize <= 0 {
		logrus.Warnf("Sync batch size %d is invalid, set to 100", AppConfig.SyncBatchSize)
		AppConfig.SyncBatchSize = 100
	}

	logrus.Infof("Init config, MultisigAddress %s, TransactionFee %d, SyncBatchSize %d, MatureRequestInterval %v",
		AppConfig.MultisigAddress, AppConfig.TransactionFee, AppConfig.SyncBatchSize, AppConfig.MatureRequestInterval)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

type Config struct {
	DataDir               string
	BTCRPC                string
	BTCRPC_USER           string
	BTCRPC_PASS           string
	MultisigAddress       string
	MultisigRedeemScript  string
	BTCNetworkType        string
	TransactionFee        int64
	MinCoinMaturity       int
	SyncBatchSize         int
	MatureRequestInterval time.Duration
	WalletPassword        string
	LogLevel              logrus.Level
}
