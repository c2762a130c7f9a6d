package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemoryChain is an in-process ChainIndex plus BlockRepository. It backs
// tests and local tooling where no node is available.
type MemoryChain struct {
	mu      sync.RWMutex
	headers map[chainhash.Hash]*HeaderInfo
	active  []chainhash.Hash // by height, active[0] = height 0
	blocks  map[chainhash.Hash]*wire.MsgBlock
}

var (
	_ ChainIndex      = (*MemoryChain)(nil)
	_ BlockRepository = (*MemoryChain)(nil)
)

func NewMemoryChain() *MemoryChain {
	return &MemoryChain{
		headers: make(map[chainhash.Hash]*HeaderInfo),
		blocks:  make(map[chainhash.Hash]*wire.MsgBlock),
	}
}

// AddBlock appends a block to the active branch and returns its header.
func (c *MemoryChain) AddBlock(block *wire.MsgBlock) *HeaderInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.BlockHash()
	info := &HeaderInfo{
		Hash:     hash,
		PrevHash: block.Header.PrevBlock,
		Height:   int32(len(c.active)),
	}
	c.headers[hash] = info
	c.active = append(c.active, hash)
	c.blocks[hash] = block
	return info
}

// Truncate drops active-branch entries above height, keeping the headers so
// stale-branch lookups still resolve.
func (c *MemoryChain) Truncate(height int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(height)+1 < len(c.active) {
		c.active = c.active[:height+1]
	}
}

func (c *MemoryChain) GetHeader(hash chainhash.Hash) (*HeaderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.headers[hash]
	return info, ok
}

func (c *MemoryChain) HeaderAtHeight(height int32) (*HeaderInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height < 0 || int(height) >= len(c.active) {
		return nil, false
	}
	return c.headers[c.active[height]], true
}

func (c *MemoryChain) Tip() *HeaderInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.active) == 0 {
		return nil
	}
	return c.headers[c.active[len(c.active)-1]]
}

func (c *MemoryChain) FindFork(locator []chainhash.Hash) *HeaderInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, hash := range locator {
		info, ok := c.headers[hash]
		if !ok {
			continue
		}
		if int(info.Height) < len(c.active) && c.active[info.Height] == hash {
			return info
		}
	}
	return nil
}

func (c *MemoryChain) GetBlocks(hashes []chainhash.Hash) ([]*wire.MsgBlock, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blocks := make([]*wire.MsgBlock, len(hashes))
	for i, hash := range hashes {
		block, ok := c.blocks[hash]
		if !ok {
			break
		}
		blocks[i] = block
	}
	return blocks, nil
}
