package signature

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ambirelabs/walletcore/src/domain"
)

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
	callsType, _   = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	})

	signableHashArgs = abi.Arguments{
		{Type: addressType}, // account
		{Type: uint256Type}, // chain id
		{Type: uint256Type}, // nonce
		{Type: callsType},   // calls
	}
)

// abiCall mirrors the calls tuple layout for abi encoding.
type abiCall struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// SignableHash is the deterministic digest of an operation the account
// contract verifies on execute: keccak256(abi.encode(account, chainId, nonce,
// calls)). The same hash is used for signing and for post-broadcast identity
// checks.
func SignableHash(accountAddr common.Address, chainID, nonce *big.Int, calls []domain.Call) (common.Hash, error) {
	encodedCalls := make([]abiCall, len(calls))
	for i, call := range calls {
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		encodedCalls[i] = abiCall{To: call.To, Value: value, Data: call.Data}
	}

	encoded, err := signableHashArgs.Pack(accountAddr, chainID, nonce, encodedCalls)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode operation for hashing: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// AccountOpSignableHash computes SignableHash from an AccountOp.
func AccountOpSignableHash(op *domain.AccountOp) (common.Hash, error) {
	return SignableHash(op.AccountAddr, op.ChainID, op.Nonce, op.Calls)
}

// AmbireOperationTypedData builds the EIP-712 envelope a non-dedicated key
// must sign: it discloses the account and the hash so the signer sees an
// explicit, attributable intent.
func AmbireOperationTypedData(chainID *big.Int, account common.Address, hash common.Hash) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
				{Name: "salt", Type: "bytes32"},
			},
			"AmbireOperation": {
				{Name: "account", Type: "address"},
				{Name: "hash", Type: "bytes32"},
			},
		},
		PrimaryType: "AmbireOperation",
		Domain: apitypes.TypedDataDomain{
			Name:              "Ambire",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: account.Hex(),
			Salt:              common.Hash{}.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"account": account.Hex(),
			"hash":    hash.Hex(),
		},
	}
}

// TypedDataHash computes the EIP-712 digest of arbitrary typed data.
func TypedDataHash(typedData apitypes.TypedData) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(digest), nil
}
