package erc4337

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperationEventTopic is topic0 of the entry point's
// UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256).
var UserOperationEventTopic = crypto.Keccak256Hash([]byte(
	"UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)",
))

// UserOperationEvent is the decoded entry point execution event. Its Success
// flag is the ground truth for bundler-mediated operations: a successful
// receipt only means the bundle ran, not that this operation did.
type UserOperationEvent struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     common.Address
	Nonce         *big.Int
	Success       bool
	ActualGasCost *big.Int
	ActualGasUsed *big.Int
}

// ParseUserOperationEvent decodes a UserOperationEvent log, or returns false
// when the log is not one.
func ParseUserOperationEvent(log *types.Log) (*UserOperationEvent, bool) {
	if len(log.Topics) != 4 || log.Topics[0] != UserOperationEventTopic {
		return nil, false
	}
	// non-indexed data: nonce (32) || success (32) || actualGasCost (32) || actualGasUsed (32)
	if len(log.Data) < 128 {
		return nil, false
	}
	return &UserOperationEvent{
		UserOpHash:    log.Topics[1],
		Sender:        common.BytesToAddress(log.Topics[2].Bytes()),
		Paymaster:     common.BytesToAddress(log.Topics[3].Bytes()),
		Nonce:         new(big.Int).SetBytes(log.Data[:32]),
		Success:       new(big.Int).SetBytes(log.Data[32:64]).Sign() != 0,
		ActualGasCost: new(big.Int).SetBytes(log.Data[64:96]),
		ActualGasUsed: new(big.Int).SetBytes(log.Data[96:128]),
	}, true
}

// FindUserOperationEvent scans receipt logs for the execution event matching
// the given user operation hash.
func FindUserOperationEvent(logs []*types.Log, userOpHash common.Hash) (*UserOperationEvent, bool) {
	for _, log := range logs {
		event, ok := ParseUserOperationEvent(log)
		if !ok {
			continue
		}
		if event.UserOpHash == userOpHash {
			return event, true
		}
	}
	return nil, false
}
