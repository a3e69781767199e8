package signature

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ambirelabs/walletcore/src/domain"
)

// VerifyResult is the tri-state outcome of universal verification.
type VerifyResult string

const (
	VerifyValid   VerifyResult = "valid"
	VerifyInvalid VerifyResult = "invalid"
	// VerifyUnknown means verification could not be carried out (for example
	// an undecodable validator revert); it must never be treated as valid.
	VerifyUnknown VerifyResult = "unknown"
)

// ChainCaller is the narrow on-chain read surface verification needs.
type ChainCaller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// eip1271MagicValue is the isValidSignature(bytes32,bytes) success value.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const isValidSignatureABI = `[{"inputs":[{"type":"bytes32"},{"type":"bytes"}],"name":"isValidSignature","outputs":[{"type":"bytes4"}],"stateMutability":"view","type":"function"}]`

var eip1271ABI, _ = abi.JSON(strings.NewReader(isValidSignatureABI))

// VerifyMessage checks a signature against a signer address using the
// universal cascade: EIP-6492 (counterfactual) first, then EIP-1271 for
// deployed contracts, then plain ecrecover. Validator reverts are decoded and
// surfaced, never swallowed into a false "invalid".
func VerifyMessage(ctx context.Context, caller ChainCaller, signer common.Address, hash common.Hash, sig []byte) (VerifyResult, error) {
	factory, factoryCalldata, inner, err := UnwrapCounterfactual(sig)
	if err != nil {
		return VerifyUnknown, domain.NewError(domain.ErrorCodeParameterInvalid, err)
	}

	// a bare 65-byte signature with no deployment info is an EOA signature;
	// skip the code lookup entirely
	if len(inner) == 65 && factory == (common.Address{}) {
		return verifyECDSA(signer, hash, inner)
	}

	code, err := caller.CodeAt(ctx, signer, nil)
	if err != nil {
		return VerifyUnknown, domain.NewError(domain.ErrorCodeRemoteProcess, fmt.Errorf("failed to fetch signer code: %w", err))
	}

	if len(code) == 0 {
		// undeployed: a 6492 envelope with deployment info validates
		// counterfactually against the wrapped account contract
		if factory != (common.Address{}) && len(factoryCalldata) > 0 {
			return verifyCounterfactual(signer, hash, factory, factoryCalldata, inner)
		}
		// no deployment info: fall back to ecrecover on the inner bytes
		return verifyECDSA(signer, hash, inner)
	}

	return verifyEIP1271(ctx, caller, signer, hash, inner)
}

// verifyECDSA recovers the signer from a raw 65-byte signature.
func verifyECDSA(signer common.Address, hash common.Hash, sig []byte) (VerifyResult, error) {
	if len(sig) != 65 {
		return VerifyInvalid, nil
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return VerifyInvalid, nil
	}
	if crypto.PubkeyToAddress(*pub) == signer {
		return VerifyValid, nil
	}
	return VerifyInvalid, nil
}

// verifyCounterfactual validates an undeployed account's signature. The
// envelope's deployment info must CREATE2-derive the claimed signer address,
// and the inner signature must recover to a key embedded in the deployment
// bytecode (initial privileges are part of the proxy constructor). An
// envelope that does not bind to the address proves nothing, whoever signed
// it.
func verifyCounterfactual(signer common.Address, hash common.Hash, factory common.Address, factoryCalldata, inner []byte) (VerifyResult, error) {
	bytecode, salt, err := DecodeDeployCalldata(factoryCalldata)
	if err != nil {
		return VerifyInvalid, nil
	}
	if crypto.CreateAddress2(factory, salt, crypto.Keccak256(bytecode)) != signer {
		return VerifyInvalid, nil
	}

	raw, _, err := Unwrap(inner)
	if err != nil {
		return VerifyInvalid, nil
	}
	if len(raw) != 65 {
		return VerifyInvalid, nil
	}
	normalized := make([]byte, 65)
	copy(normalized, raw)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return VerifyInvalid, nil
	}
	key := crypto.PubkeyToAddress(*pub)
	if !bytes.Contains(bytecode, key.Bytes()) {
		return VerifyInvalid, nil
	}
	return VerifyValid, nil
}

// verifyEIP1271 asks the deployed contract itself via isValidSignature.
func verifyEIP1271(ctx context.Context, caller ChainCaller, signer common.Address, hash common.Hash, sig []byte) (VerifyResult, error) {
	calldata, err := eip1271ABI.Pack("isValidSignature", hash, sig)
	if err != nil {
		return VerifyUnknown, domain.NewError(domain.ErrorCodeInternalProcess, fmt.Errorf("failed to pack isValidSignature: %w", err))
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &signer, Data: calldata}, nil)
	if err != nil {
		return VerifyUnknown, domain.NewError(
			domain.ErrorCodeRemoteProcess,
			fmt.Errorf("signature validator reverted: %w", err),
			domain.WithMsg(decodeRevertReason(err)),
		)
	}

	if len(result) >= 4 && bytes.Equal(result[:4], eip1271MagicValue[:]) {
		return VerifyValid, nil
	}
	return VerifyInvalid, nil
}

// decodeRevertReason extracts a human-readable reason from a call error.
func decodeRevertReason(err error) string {
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if !errors.As(err, &de) {
		return err.Error()
	}
	hexData, ok := de.ErrorData().(string)
	if !ok {
		return err.Error()
	}
	data := common.FromHex(hexData)
	// Error(string) selector 0x08c379a0
	if len(data) < 68 || !bytes.Equal(data[:4], []byte{0x08, 0xc3, 0x79, 0xa0}) {
		return err.Error()
	}
	stringType, _ := abi.NewType("string", "", nil)
	values, uerr := abi.Arguments{{Type: stringType}}.Unpack(data[4:])
	if uerr != nil || len(values) != 1 {
		return err.Error()
	}
	reason, _ := values[0].(string)
	return reason
}
