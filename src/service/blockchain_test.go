package service

import (
	"context"
	"testing"

	"github.com/ambirelabs/walletcore/src/testutil"
)

func getBlockchainService(t *testing.T) *BlockchainService {
	sepoliaRpcUrl := testutil.GetEnv(t, "SEPOLIA_RPC_URL")
	baseSepoliaRpcUrl := testutil.GetEnv(t, "BASE_SEPOLIA_RPC_URL")

	return NewBlockchainService(BlockchainConfig{
		Chains: map[int64]ChainConfig{
			11155111: {RPCURL: sepoliaRpcUrl, BundlerURL: sepoliaRpcUrl},
			84532:    {RPCURL: baseSepoliaRpcUrl, BundlerURL: baseSepoliaRpcUrl, BatchMaxCount: 1},
		},
	})
}

func TestGetClient_UnsupportedChain(t *testing.T) {
	blockchainService := getBlockchainService(t)
	defer blockchainService.Close()

	_, err := blockchainService.GetClient(1)
	if err == nil {
		t.Fatal("Expected error for unsupported chain ID, got nil")
	}

	expectedError := "unsupported chain id: 1"
	if err.Error() != expectedError {
		t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
	}
}

func TestGetClient_ReusesPooledConnection(t *testing.T) {
	blockchainService := getBlockchainService(t)
	defer blockchainService.Close()

	first, err := blockchainService.GetClient(11155111)
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}

	second, err := blockchainService.GetClient(11155111)
	if err != nil {
		t.Fatalf("Second GetClient failed: %v", err)
	}

	if first != second {
		t.Error("Expected the same pooled client for repeated GetClient calls")
	}
}

func TestGetChainReader_BatchMaxCount(t *testing.T) {
	blockchainService := getBlockchainService(t)
	defer blockchainService.Close()

	reader, err := blockchainService.GetChainReader(11155111)
	if err != nil {
		t.Fatalf("GetChainReader failed: %v", err)
	}
	if reader.BatchMaxCount() != 100 {
		t.Errorf("Expected default batch max 100, got %d", reader.BatchMaxCount())
	}

	nonBatching, err := blockchainService.GetChainReader(84532)
	if err != nil {
		t.Fatalf("GetChainReader failed: %v", err)
	}
	if nonBatching.BatchMaxCount() != 1 {
		t.Errorf("Expected configured batch max 1, got %d", nonBatching.BatchMaxCount())
	}
}

func TestGetBundlerClient_UnsupportedChain(t *testing.T) {
	blockchainService := getBlockchainService(t)
	defer blockchainService.Close()

	_, err := blockchainService.GetBundlerClient(context.Background(), 1)
	if err == nil {
		t.Fatal("Expected error for chain without a bundler, got nil")
	}
}

func TestBlockNumber(t *testing.T) {
	blockchainService := getBlockchainService(t)
	defer blockchainService.Close()

	head, err := blockchainService.BlockNumber(context.Background(), 11155111)
	if err != nil {
		t.Fatalf("BlockNumber failed: %v", err)
	}

	if head.Sign() <= 0 {
		t.Errorf("Expected a positive block number, got %s", head.String())
	}

	t.Logf("Sepolia head: %s", head.String())
}
