package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/erc4337"
)

// ChainConfig describes one supported chain.
type ChainConfig struct {
	RPCURL     string
	BundlerURL string
	// BatchMaxCount caps how many transaction lookups one reconciliation pass
	// may fan out to this provider. Providers that cannot batch set 1.
	BatchMaxCount int
}

// ChainReader is the narrow read surface the settlement tracker needs.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txnHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txnHash common.Hash) (*types.Transaction, bool, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	BatchMaxCount() int
}

type BlockchainConfig struct {
	Chains map[int64]ChainConfig
}

type BlockchainService struct {
	chains     map[int64]ChainConfig
	clientPool map[int64]*ethclient.Client
	mu         sync.RWMutex
}

func NewBlockchainService(config BlockchainConfig) *BlockchainService {
	return &BlockchainService{
		chains:     config.Chains,
		clientPool: make(map[int64]*ethclient.Client),
	}
}

// logger wraps the execution context with component info
func (b *BlockchainService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "blockchain").Logger()
	return &l
}

func (b *BlockchainService) GetClient(chainID int64) (*ethclient.Client, error) {
	b.mu.RLock()
	if client, exists := b.clientPool[chainID]; exists {
		b.mu.RUnlock()
		return client, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check pattern
	if client, exists := b.clientPool[chainID]; exists {
		return client, nil
	}

	chain, ok := b.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("unsupported chain id: %d", chainID)
	}

	client, err := ethclient.Dial(chain.RPCURL)
	if err != nil {
		return nil, err
	}

	if b.clientPool == nil {
		b.clientPool = make(map[int64]*ethclient.Client)
	}
	b.clientPool[chainID] = client

	return client, nil
}

// Close closes all client connections and cleans up the connection pool
func (b *BlockchainService) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, client := range b.clientPool {
		client.Close()
	}
	b.clientPool = nil
}

// ChainIDs returns all configured chain ids.
func (b *BlockchainService) ChainIDs() []int64 {
	ids := make([]int64, 0, len(b.chains))
	for id := range b.chains {
		ids = append(ids, id)
	}
	return ids
}

// GetChainReader returns the settlement read surface for one chain.
func (b *BlockchainService) GetChainReader(chainID int64) (ChainReader, error) {
	client, err := b.GetClient(chainID)
	if err != nil {
		return nil, err
	}
	chain := b.chains[chainID]
	batchMax := chain.BatchMaxCount
	if batchMax == 0 {
		batchMax = 100
	}
	return &chainReader{client: client, batchMaxCount: batchMax}, nil
}

type chainReader struct {
	client        *ethclient.Client
	batchMaxCount int
}

func (r *chainReader) TransactionReceipt(ctx context.Context, txnHash common.Hash) (*types.Receipt, error) {
	return r.client.TransactionReceipt(ctx, txnHash)
}

func (r *chainReader) TransactionByHash(ctx context.Context, txnHash common.Hash) (*types.Transaction, bool, error) {
	return r.client.TransactionByHash(ctx, txnHash)
}

func (r *chainReader) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return r.client.NonceAt(ctx, account, nil)
}

func (r *chainReader) BatchMaxCount() int {
	return r.batchMaxCount
}

// GetBundlerClient returns a bundler client for a given chain ID
func (b *BlockchainService) GetBundlerClient(ctx context.Context, chainID int64) (erc4337.Bundler, error) {
	chain, ok := b.chains[chainID]
	if !ok || chain.BundlerURL == "" {
		return nil, fmt.Errorf("unsupported chain id for bundler: %d", chainID)
	}

	bundlerClient, err := erc4337.DialContext(ctx, chain.BundlerURL)
	if err != nil {
		b.logger(ctx).Error().Err(err).
			Str("bundler_url", chain.BundlerURL).
			Int64("chain_id", chainID).
			Msg("failed to create bundler client")
		return nil, fmt.Errorf("failed to create bundler client for chain %d: %w", chainID, err)
	}

	return bundlerClient, nil
}

// BlockNumber returns the current head of one chain.
func (b *BlockchainService) BlockNumber(ctx context.Context, chainID int64) (*big.Int, error) {
	client, err := b.GetClient(chainID)
	if err != nil {
		return nil, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(head), nil
}
