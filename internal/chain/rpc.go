package chain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
)

// RPCChain adapts a bitcoind-style RPC node to the ChainIndex and
// BlockRepository contracts.
type RPCChain struct {
	client *rpcclient.Client
}

var (
	_ ChainIndex      = (*RPCChain)(nil)
	_ BlockRepository = (*RPCChain)(nil)
)

func NewRPCChain(client *rpcclient.Client) *RPCChain {
	return &RPCChain{client: client}
}

func (c *RPCChain) GetHeader(hash chainhash.Hash) (*HeaderInfo, bool) {
	verbose, err := c.client.GetBlockHeaderVerbose(&hash)
	if err != nil {
		return nil, false
	}
	info := &HeaderInfo{Hash: hash, Height: verbose.Height}
	if verbose.PreviousHash != "" {
		prev, err := chainhash.NewHashFromStr(verbose.PreviousHash)
		if err == nil {
			info.PrevHash = *prev
		}
	}
	return info, true
}

func (c *RPCChain) HeaderAtHeight(height int32) (*HeaderInfo, bool) {
	hash, err := c.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, false
	}
	return c.GetHeader(*hash)
}

func (c *RPCChain) Tip() *HeaderInfo {
	_, height, err := c.client.GetBestBlock()
	if err != nil {
		log.Errorf("RPCChain get best block err %v", err)
		return nil
	}
	info, ok := c.HeaderAtHeight(height)
	if !ok {
		return nil
	}
	return info
}

func (c *RPCChain) FindFork(locator []chainhash.Hash) *HeaderInfo {
	for _, hash := range locator {
		info, ok := c.GetHeader(hash)
		if !ok {
			continue
		}
		active, ok := c.HeaderAtHeight(info.Height)
		if ok && active.Hash == hash {
			return info
		}
	}
	return nil
}

func (c *RPCChain) GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	blocks := make([]*wire.MsgBlock, len(hashes))
	for i := range hashes {
		block, err := c.client.GetBlock(&hashes[i])
		if err != nil {
			// missing block terminates the batch
			log.Warnf("RPCChain get block %s err %v", hashes[i], err)
			break
		}
		blocks[i] = block
	}
	return blocks, nil
}
