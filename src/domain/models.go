package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountOpsModel persists one (account, chain) bucket of submitted
// operations as a single ordered JSON document. The bucket is always written
// whole, so the newest-first ordering survives round trips.
type AccountOpsModel struct {
	ID             uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	AccountAddress string          `gorm:"type:varchar(42);not null;uniqueIndex:idx_account_ops_bucket"`
	ChainID        int64           `gorm:"not null;uniqueIndex:idx_account_ops_bucket"`
	Ops            json.RawMessage `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AccountOpsModel) TableName() string {
	return "account_ops"
}

// GetOps returns the bucket as typed operations
func (m *AccountOpsModel) GetOps() ([]*SubmittedAccountOp, error) {
	var ops []*SubmittedAccountOp
	if err := json.Unmarshal(m.Ops, &ops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account ops: %w", err)
	}
	return ops, nil
}

// SignedMessageModel persists one signed off-chain message for the activity
// history. Rows are append-only per account.
type SignedMessageModel struct {
	ID             uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	AccountAddress string          `gorm:"type:varchar(42);not null;index"`
	ChainID        int64           `gorm:"not null"`
	Message        json.RawMessage `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SignedMessageModel) TableName() string {
	return "signed_messages"
}

// GetMessage returns the row as a typed signed message
func (m *SignedMessageModel) GetMessage() (*SignedMessage, error) {
	var msg SignedMessage
	if err := json.Unmarshal(m.Message, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signed message: %w", err)
	}
	return &msg, nil
}
