package repository

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambirelabs/walletcore/src/domain"
	"github.com/ambirelabs/walletcore/src/testutil"
)

func testSubmittedOp(account common.Address, chainID int64, txnID string) *domain.SubmittedAccountOp {
	return &domain.SubmittedAccountOp{
		AccountOp: domain.AccountOp{
			AccountAddr: account,
			ChainID:     big.NewInt(chainID),
		},
		IdentifiedBy: domain.IdentifiedBy{
			Type:       domain.IdentifiedByTransaction,
			Identifier: txnID,
		},
		Status:    domain.StatusBroadcastedButNotConfirmed,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

func TestActivityRepository_SaveAndLoad(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewActivityRepository(db)
	ctx := context.Background()

	account := common.HexToAddress("0x1234567890123456789012345678901234567890")
	ops := map[int64][]*domain.SubmittedAccountOp{
		1:  {testSubmittedOp(account, 1, "0xaa"), testSubmittedOp(account, 1, "0xbb")},
		10: {testSubmittedOp(account, 10, "0xcc")},
	}

	if err := repo.SaveAccountOps(ctx, account, ops); err != nil {
		t.Fatalf("SaveAccountOps failed: %v", err)
	}

	loaded, err := repo.LoadAccountOps(ctx, account)
	if err != nil {
		t.Fatalf("LoadAccountOps failed: %v", err)
	}

	if len(loaded) != 2 {
		t.Fatalf("Expected 2 chain buckets, got %d", len(loaded))
	}
	if len(loaded[1]) != 2 {
		t.Errorf("Expected 2 ops on chain 1, got %d", len(loaded[1]))
	}
	if loaded[1][0].IdentifiedBy.Identifier != "0xaa" {
		t.Errorf("Expected identifier 0xaa, got %s", loaded[1][0].IdentifiedBy.Identifier)
	}
	if loaded[10][0].Status != domain.StatusBroadcastedButNotConfirmed {
		t.Errorf("Unexpected status %s", loaded[10][0].Status)
	}
}

func TestActivityRepository_SaveUpserts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewActivityRepository(db)
	ctx := context.Background()

	account := common.HexToAddress("0x1234567890123456789012345678901234567890")

	first := map[int64][]*domain.SubmittedAccountOp{
		1: {testSubmittedOp(account, 1, "0xaa")},
	}
	if err := repo.SaveAccountOps(ctx, account, first); err != nil {
		t.Fatalf("First SaveAccountOps failed: %v", err)
	}

	// second save for the same (account, chain) must replace, not duplicate
	updated := testSubmittedOp(account, 1, "0xaa")
	updated.Status = domain.StatusSuccess
	second := map[int64][]*domain.SubmittedAccountOp{
		1: {updated, testSubmittedOp(account, 1, "0xbb")},
	}
	if err := repo.SaveAccountOps(ctx, account, second); err != nil {
		t.Fatalf("Second SaveAccountOps failed: %v", err)
	}

	loaded, err := repo.LoadAccountOps(ctx, account)
	if err != nil {
		t.Fatalf("LoadAccountOps failed: %v", err)
	}
	if len(loaded[1]) != 2 {
		t.Fatalf("Expected 2 ops after upsert, got %d", len(loaded[1]))
	}
	if loaded[1][0].Status != domain.StatusSuccess {
		t.Errorf("Expected updated status success, got %s", loaded[1][0].Status)
	}

	var count int64
	if err := db.Table("account_ops").Where("account_address = ?", account.Hex()).Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected a single row per (account, chain), got %d", count)
	}
}

func TestActivityRepository_TrackedAccounts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewActivityRepository(db)
	ctx := context.Background()

	accountA := common.HexToAddress("0x1111111111111111111111111111111111111111")
	accountB := common.HexToAddress("0x2222222222222222222222222222222222222222")

	for _, account := range []common.Address{accountA, accountB} {
		ops := map[int64][]*domain.SubmittedAccountOp{
			1:  {testSubmittedOp(account, 1, "0xaa")},
			10: {testSubmittedOp(account, 10, "0xbb")},
		}
		if err := repo.SaveAccountOps(ctx, account, ops); err != nil {
			t.Fatalf("SaveAccountOps failed: %v", err)
		}
	}

	accounts, err := repo.TrackedAccounts(ctx)
	if err != nil {
		t.Fatalf("TrackedAccounts failed: %v", err)
	}

	// distinct per account, regardless of how many chain rows each has
	if len(accounts) != 2 {
		t.Fatalf("Expected 2 tracked accounts, got %d", len(accounts))
	}
	seen := map[common.Address]bool{}
	for _, account := range accounts {
		seen[account] = true
	}
	if !seen[accountA] || !seen[accountB] {
		t.Errorf("Missing expected accounts in %v", accounts)
	}
}
