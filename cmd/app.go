package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/btcsuite/btcd/rpcclient"
	"github.com/fedstack/pegbridge/internal/bridge"
	"github.com/fedstack/pegbridge/internal/builder"
	"github.com/fedstack/pegbridge/internal/chain"
	"github.com/fedstack/pegbridge/internal/config"
	"github.com/fedstack/pegbridge/internal/db"
	"github.com/fedstack/pegbridge/internal/extractor"
	"github.com/fedstack/pegbridge/internal/store"
	"github.com/fedstack/pegbridge/internal/types"
	"github.com/fedstack/pegbridge/internal/wallet"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	Wallet          *wallet.Manager
	Store           *store.CrossChainTransferStore
	Persister       *bridge.MaturedDepositPersister
}

func NewApplication() *Application {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	config.InitConfig()

	// bitcoin client for the local chain index and block repository
	connConfig := &rpcclient.ConnConfig{
		Host:         config.AppConfig.BTCRPC,
		User:         config.AppConfig.BTCRPC_USER,
		Pass:         config.AppConfig.BTCRPC_PASS,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	btcClient, err := rpcclient.New(connConfig, nil)
	if err != nil {
		log.Fatalf("Failed to start bitcoin client: %v", err)
	}

	network := types.GetBTCNetwork(config.AppConfig.BTCNetworkType)

	redeemScript, err := hex.DecodeString(config.AppConfig.MultisigRedeemScript)
	if err != nil || len(redeemScript) == 0 {
		log.Fatalf("Invalid multisig redeem script: %v", err)
	}

	dataDir := filepath.Join(config.AppConfig.DataDir, "federatedTransfers"+config.AppConfig.MultisigAddress)
	federationWallet, err := wallet.NewManager(dataDir, redeemScript, network)
	if err != nil {
		log.Fatalf("Failed to open federation wallet: %v", err)
	}
	if config.AppConfig.WalletPassword != "" {
		if err := federationWallet.Unlock(config.AppConfig.WalletPassword); err != nil {
			log.Fatalf("Failed to unlock federation wallet: %v", err)
		}
	}

	dbm := db.NewDatabaseManager()
	rpcChain := chain.NewRPCChain(btcClient)
	withdrawalExtractor := extractor.NewOpReturnWithdrawalExtractor(federationWallet.MultisigScript())
	txBuilder := builder.NewWithdrawalBuilder(federationWallet,
		config.AppConfig.TransactionFee, int32(config.AppConfig.MinCoinMaturity))

	transferStore := store.NewCrossChainTransferStore(dbm, federationWallet, rpcChain, rpcChain,
		withdrawalExtractor, txBuilder, config.AppConfig.SyncBatchSize)

	persister := bridge.NewMaturedDepositPersister(transferStore, config.AppConfig.MatureRequestInterval)

	return &Application{
		DatabaseManager: dbm,
		Wallet:          federationWallet,
		Store:           transferStore,
		Persister:       persister,
	}
}

func (app *Application) Run() {
	if err := app.Store.Initialize(); err != nil {
		log.Fatalf("Failed to initialize transfer store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Store.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Persister.Start(ctx)
	}()

	// hand-off point for the gossip transport; until one is attached the
	// requests are only logged
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case request := <-app.Persister.Requests():
				log.Infof("Mature block request %s from height %d has no transport attached",
					request.RequestID, request.FromHeight)
			}
		}
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()
	wg.Wait()

	app.Store.Dispose()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
