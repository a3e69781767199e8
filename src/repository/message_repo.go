package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/ambirelabs/walletcore/src/domain"
)

// maxMessagesPerAccount caps the per-account signed-message history, same
// policy as the op buckets: newest kept, oldest evicted.
const maxMessagesPerAccount = 1000

// MessageRepository persists signed off-chain messages, newest first, capped
// per account.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) AddSignedMessage(ctx context.Context, msg *domain.SignedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signed message: %w", err)
	}

	var chainID int64
	if msg.ChainID != nil {
		chainID = msg.ChainID.Int64()
	}
	row := &domain.SignedMessageModel{
		AccountAddress: msg.AccountAddr.Hex(),
		ChainID:        chainID,
		Message:        payload,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	return r.trimAccount(ctx, row.AccountAddress)
}

// trimAccount evicts the oldest rows past the per-account cap.
func (r *MessageRepository) trimAccount(ctx context.Context, account string) error {
	keep := r.db.Model(&domain.SignedMessageModel{}).
		Select("id").
		Where("account_address = ?", account).
		Order("created_at DESC, id DESC").
		Limit(maxMessagesPerAccount)
	return r.db.WithContext(ctx).
		Where("account_address = ? AND id NOT IN (?)", account, keep).
		Delete(&domain.SignedMessageModel{}).Error
}

// FindSignedMessages returns the account's messages, newest first.
func (r *MessageRepository) FindSignedMessages(ctx context.Context, account common.Address, limit int) ([]*domain.SignedMessage, error) {
	var rows []*domain.SignedMessageModel
	q := r.db.WithContext(ctx).
		Where("account_address = ?", account.Hex()).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	msgs := make([]*domain.SignedMessage, 0, len(rows))
	for _, row := range rows {
		msg, err := row.GetMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
