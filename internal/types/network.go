package types

import (
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// GetBTCNetwork maps a configured network name to chain parameters.
func GetBTCNetwork(networkType string) *chaincfg.Params {
	switch strings.ToLower(networkType) {
	case "", "mainnet":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
