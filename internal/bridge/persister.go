package bridge

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"

	"github.com/fedstack/pegbridge/internal/extractor"
	log "github.com/sirupsen/logrus"
)

const (
	incomingQueueLen = 16
	requestQueueLen  = 4
)

// MaturedBlockDeposits is one counter-chain height's worth of mature
// deposits, gossiped to us by the federation network.
type MaturedBlockDeposits struct {
	BlockHeight int32
	Deposits    []*extractor.Deposit
}

// ExtractMaturedDeposits builds a batch from a raw counter-chain block, for
// deployments that receive whole mature blocks instead of extracted
// deposits.
func ExtractMaturedDeposits(block *wire.MsgBlock, height int32, ex extractor.DepositExtractor) *MaturedBlockDeposits {
	return &MaturedBlockDeposits{
		BlockHeight: height,
		Deposits:    ex.ExtractFromBlock(block, height),
	}
}

// MatureBlockRequest asks the network for mature-deposit batches starting at
// a height. The transport drains Requests and forwards them to peers.
type MatureBlockRequest struct {
	RequestID  string
	FromHeight int32
}

// TransferStore is the slice of the store the persister drives.
type TransferStore interface {
	NextMatureDepositHeight() int32
	RecordLatestMatureDeposits(ctx context.Context, deposits []*extractor.Deposit) error
}

// MaturedDepositPersister feeds mature-deposit batches into the transfer
// store in strict height order. Batches for other heights are dropped; the
// network is re-asked for the expected height, at most once per interval.
// The transport hands batches in through Enqueue and drains Requests.
type MaturedDepositPersister struct {
	store TransferStore

	incoming chan *MaturedBlockDeposits
	requests chan *MatureBlockRequest

	requestInterval   time.Duration
	lastRequestAt     time.Time
	lastRequestHeight int32
}

func NewMaturedDepositPersister(transferStore TransferStore, requestInterval time.Duration) *MaturedDepositPersister {
	return &MaturedDepositPersister{
		store:             transferStore,
		incoming:          make(chan *MaturedBlockDeposits, incomingQueueLen),
		requests:          make(chan *MatureBlockRequest, requestQueueLen),
		requestInterval:   requestInterval,
		lastRequestHeight: -1,
	}
}

// Enqueue hands a batch to the persister without blocking. Returns false
// when the queue is full; the sender simply retries after the next request.
func (p *MaturedDepositPersister) Enqueue(batch *MaturedBlockDeposits) bool {
	select {
	case p.incoming <- batch:
		return true
	default:
		log.Warnf("MaturedDepositPersister queue full, dropping batch at height %d", batch.BlockHeight)
		return false
	}
}

// Requests exposes the outgoing mature-block requests.
func (p *MaturedDepositPersister) Requests() <-chan *MatureBlockRequest {
	return p.requests
}

func (p *MaturedDepositPersister) Start(ctx context.Context) {
	ticker := time.NewTicker(p.requestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("MaturedDepositPersister stopping...")
			return
		case batch := <-p.incoming:
			if err := p.persist(ctx, batch); err != nil {
				log.Errorf("MaturedDepositPersister persist height %d err %v", batch.BlockHeight, err)
			}
		case <-ticker.C:
			p.requestMore()
		}
	}
}

func (p *MaturedDepositPersister) persist(ctx context.Context, batch *MaturedBlockDeposits) error {
	expected := p.store.NextMatureDepositHeight()
	if batch.BlockHeight != expected {
		log.Debugf("MaturedDepositPersister drop batch at height %d, expecting %d", batch.BlockHeight, expected)
		return nil
	}
	if err := p.store.RecordLatestMatureDeposits(ctx, batch.Deposits); err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// requestMore asks for the next expected height. A height is re-requested at
// most once per interval; a change of expected height resets the limiter.
// Requests are dropped when nobody drains the queue.
func (p *MaturedDepositPersister) requestMore() {
	expected := p.store.NextMatureDepositHeight()
	now := time.Now()
	if expected == p.lastRequestHeight && now.Sub(p.lastRequestAt) < p.requestInterval {
		return
	}
	p.lastRequestHeight = expected
	p.lastRequestAt = now

	request := &MatureBlockRequest{
		RequestID:  uuid.New().String(),
		FromHeight: expected,
	}
	select {
	case p.requests <- request:
		log.Debugf("MaturedDepositPersister request mature blocks from height %d, request id %s",
			request.FromHeight, request.RequestID)
	default:
		log.Debug("MaturedDepositPersister request queue full")
	}
}
