package service

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ambirelabs/walletcore/erc4337"
)

// callDataExecutesUserOp reports whether the mined calldata is a handleOps
// call carrying an operation whose recomputed hash equals userOpHash. Ground
// truth is re-derived from the calldata itself, never assumed from the
// bundler's answer.
func callDataExecutesUserOp(calldata []byte, chainID *big.Int, userOpHash common.Hash) bool {
	ops, err := erc4337.DecodeHandleOps(calldata)
	if err != nil {
		return false
	}
	for _, op := range ops {
		hash, err := op.HashV07(chainID)
		if err != nil {
			continue
		}
		if hash == userOpHash {
			return true
		}
	}
	return false
}

var erc20TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// collectTransferHints scans receipt logs for ERC-20 transfers touching the
// account. Token contract addresses feed the learn-new-assets path, the
// opposite side of each transfer feeds address-level refresh hints.
func collectTransferHints(logs []*types.Log, account common.Address) (tokens, counterparties []common.Address) {
	seenToken := make(map[common.Address]bool)
	seenAddr := make(map[common.Address]bool)

	for _, log := range logs {
		if len(log.Topics) != 3 || log.Topics[0] != erc20TransferTopic {
			continue
		}
		from := common.BytesToAddress(log.Topics[1].Bytes())
		to := common.BytesToAddress(log.Topics[2].Bytes())
		if from != account && to != account {
			continue
		}

		if !seenToken[log.Address] {
			seenToken[log.Address] = true
			tokens = append(tokens, log.Address)
		}
		counterparty := from
		if from == account {
			counterparty = to
		}
		if counterparty != account && counterparty != (common.Address{}) && !seenAddr[counterparty] {
			seenAddr[counterparty] = true
			counterparties = append(counterparties, counterparty)
		}
	}
	return tokens, counterparties
}
