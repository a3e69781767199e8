package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ambirelabs/walletcore/src/domain"
)

// ActivityRepository is the database-backed settlement history store.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// LoadAccountOps returns all chain buckets of one account.
func (r *ActivityRepository) LoadAccountOps(ctx context.Context, account common.Address) (map[int64][]*domain.SubmittedAccountOp, error) {
	var rows []*domain.AccountOpsModel
	err := r.db.WithContext(ctx).
		Where("account_address = ?", account.Hex()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[int64][]*domain.SubmittedAccountOp, len(rows))
	for _, row := range rows {
		ops, err := row.GetOps()
		if err != nil {
			return nil, fmt.Errorf("corrupt bucket for %s chain %d: %w", row.AccountAddress, row.ChainID, err)
		}
		buckets[row.ChainID] = ops
	}
	return buckets, nil
}

// SaveAccountOps upserts every chain bucket of one account in a single
// transaction, so readers never observe a half-written snapshot.
func (r *ActivityRepository) SaveAccountOps(ctx context.Context, account common.Address, buckets map[int64][]*domain.SubmittedAccountOp) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for chainID, ops := range buckets {
			payload, err := json.Marshal(ops)
			if err != nil {
				return fmt.Errorf("failed to marshal ops for chain %d: %w", chainID, err)
			}
			row := &domain.AccountOpsModel{
				AccountAddress: account.Hex(),
				ChainID:        chainID,
				Ops:            payload,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_address"}, {Name: "chain_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"ops", "updated_at"}),
			}).Create(row).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// TrackedAccounts lists every account with persisted settlement history.
func (r *ActivityRepository) TrackedAccounts(ctx context.Context) ([]common.Address, error) {
	var addrs []string
	err := r.db.WithContext(ctx).
		Model(&domain.AccountOpsModel{}).
		Distinct("account_address").
		Pluck("account_address", &addrs).Error
	if err != nil {
		return nil, err
	}

	accounts := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		accounts = append(accounts, common.HexToAddress(a))
	}
	return accounts, nil
}
