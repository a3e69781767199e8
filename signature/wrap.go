package signature

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// SigMode is the single-byte suffix telling the account contract how to
// interpret the signature bytes in front of it.
type SigMode byte

const (
	// SigModeUnprotected is a raw signature from a key dedicated to exactly
	// one smart account, so it cannot be replayed elsewhere.
	SigModeUnprotected SigMode = 0x00
	// SigModeStandard marks a signature over an EIP-712 envelope disclosing
	// the signed intent, used for any key not provably dedicated.
	SigModeStandard SigMode = 0x01
	// SigModeWallet marks a signature produced by another smart account.
	SigModeWallet SigMode = 0x02
)

// ERC-6492 detection suffix: "6492" repeated to fill 32 bytes.
var magicBytes6492 = common.Hex2Bytes("6492649264926492649264926492649264926492649264926492649264926492")

// Wrap appends the mode suffix to a raw signature.
func Wrap(sig []byte, mode SigMode) []byte {
	out := make([]byte, 0, len(sig)+1)
	out = append(out, sig...)
	return append(out, byte(mode))
}

// Unwrap strips the mode suffix and returns the raw signature and its mode.
func Unwrap(sig []byte) ([]byte, SigMode, error) {
	if len(sig) < 1 {
		return nil, 0, fmt.Errorf("signature too short to carry a mode suffix")
	}
	mode := SigMode(sig[len(sig)-1])
	inner := sig[:len(sig)-1]
	if mode == SigModeWallet {
		// wallet wrap carries the signer wallet address before the suffix
		if len(inner) < 32 {
			return nil, 0, fmt.Errorf("wallet signature too short")
		}
		inner = inner[:len(inner)-32]
	}
	return inner, mode, nil
}

// WrapStandard wraps a raw signature in Standard mode.
func WrapStandard(sig []byte) []byte { return Wrap(sig, SigModeStandard) }

// WrapUnprotected wraps a raw signature in Unprotected mode.
func WrapUnprotected(sig []byte) []byte { return Wrap(sig, SigModeUnprotected) }

// WrapWallet wraps a signature made by another smart account: the inner
// signature is Standard-wrapped, then the signer wallet's address (left-padded
// to 32 bytes) and the Wallet suffix are appended.
func WrapWallet(sig []byte, wallet common.Address) []byte {
	out := WrapStandard(sig)
	out = append(out, common.LeftPadBytes(wallet.Bytes(), 32)...)
	return append(out, byte(SigModeWallet))
}

// WalletAddr extracts the signer wallet address from a Wallet-wrapped
// signature.
func WalletAddr(sig []byte) (common.Address, error) {
	if len(sig) < 33 || SigMode(sig[len(sig)-1]) != SigModeWallet {
		return common.Address{}, fmt.Errorf("not a wallet-wrapped signature")
	}
	return common.BytesToAddress(sig[len(sig)-33 : len(sig)-1]), nil
}

var erc6492Args = abi.Arguments{
	{Type: addressType}, // factory
	{Type: bytesType},   // factory calldata
	{Type: bytesType},   // inner signature
}

// WrapCounterfactual produces the ERC-6492 envelope for an account that is
// not deployed yet: abi.encode(factory, factoryCalldata, innerSig) || magic.
func WrapCounterfactual(factory common.Address, factoryCalldata, sig []byte) ([]byte, error) {
	encoded, err := erc6492Args.Pack(factory, factoryCalldata, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode 6492 envelope: %w", err)
	}
	return append(encoded, magicBytes6492...), nil
}

// IsCounterfactual reports whether the signature carries the 6492 suffix.
func IsCounterfactual(sig []byte) bool {
	return len(sig) >= 32 && bytes.Equal(sig[len(sig)-32:], magicBytes6492)
}

// UnwrapCounterfactual decodes a 6492 envelope back into its factory,
// factory calldata and inner signature. Signatures without the magic suffix
// are returned unchanged with a zero factory.
func UnwrapCounterfactual(sig []byte) (common.Address, []byte, []byte, error) {
	if !IsCounterfactual(sig) {
		return common.Address{}, nil, sig, nil
	}
	values, err := erc6492Args.Unpack(sig[:len(sig)-32])
	if err != nil {
		return common.Address{}, nil, nil, fmt.Errorf("failed to decode 6492 envelope: %w", err)
	}
	factory := values[0].(common.Address)
	calldata := values[1].([]byte)
	inner := values[2].([]byte)
	return factory, calldata, inner, nil
}

const deployFactoryABI = `[{"inputs":[{"type":"bytes"},{"type":"uint256"}],"name":"deploy","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

var factoryABI, _ = abi.JSON(strings.NewReader(deployFactoryABI))

// DeployCalldata builds the factory call that counterfactually deploys the
// account: deploy(bytecode, salt).
func DeployCalldata(bytecode []byte, salt common.Hash) ([]byte, error) {
	return factoryABI.Pack("deploy", bytecode, salt.Big())
}

// DecodeDeployCalldata reverses DeployCalldata back into the CREATE2 inputs.
func DecodeDeployCalldata(calldata []byte) ([]byte, common.Hash, error) {
	if len(calldata) < 4 {
		return nil, common.Hash{}, fmt.Errorf("deploy calldata too short")
	}
	method, err := factoryABI.MethodById(calldata[:4])
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("not a factory deploy call: %w", err)
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to decode deploy call: %w", err)
	}
	bytecode, ok := values[0].([]byte)
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("unexpected deploy bytecode type")
	}
	salt, ok := values[1].(*big.Int)
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("unexpected deploy salt type")
	}
	return bytecode, common.BigToHash(salt), nil
}
