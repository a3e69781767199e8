package erc4337

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	packedUserOpsType, _ = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "accountGasLimits", Type: "bytes32"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "gasFees", Type: "bytes32"},
		{Name: "paymasterAndData", Type: "bytes"},
	})

	handleOpsArgs = abi.Arguments{
		{Type: packedUserOpsType},
		{Type: addressType}, // beneficiary
	}

	handleOpsSelector = crypto.Keccak256([]byte(
		"handleOps((address,uint256,bytes,bytes,bytes32,uint256,bytes32,bytes)[],address)",
	))[:4]
)

// DecodeHandleOps extracts the packed user operations from an entry point
// handleOps call. Used to re-derive user op hashes from mined calldata when a
// bundler transaction does not match the one originally tracked.
func DecodeHandleOps(calldata []byte) ([]*PackedUserOp, error) {
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], handleOpsSelector) {
		return nil, fmt.Errorf("calldata is not a handleOps call")
	}

	values, err := handleOpsArgs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode handleOps calldata: %w", err)
	}

	raw, ok := values[0].([]struct {
		Sender             common.Address `json:"sender"`
		Nonce              *big.Int       `json:"nonce"`
		InitCode           []byte         `json:"initCode"`
		CallData           []byte         `json:"callData"`
		AccountGasLimits   [32]byte       `json:"accountGasLimits"`
		PreVerificationGas *big.Int       `json:"preVerificationGas"`
		GasFees            [32]byte       `json:"gasFees"`
		PaymasterAndData   []byte         `json:"paymasterAndData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected handleOps argument shape")
	}

	ops := make([]*PackedUserOp, 0, len(raw))
	for _, r := range raw {
		ops = append(ops, &PackedUserOp{
			Sender:             r.Sender,
			Nonce:              r.Nonce,
			InitCode:           r.InitCode,
			CallData:           r.CallData,
			AccountGasLimits:   r.AccountGasLimits,
			PreVerificationGas: r.PreVerificationGas,
			GasFees:            r.GasFees,
			PaymasterAndData:   r.PaymasterAndData,
		})
	}
	return ops, nil
}
