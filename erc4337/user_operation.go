package erc4337

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV07 address constant
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// UserOperation represents the ERC-4337 v0.7 user operation structure
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// PackedUserOp is the packed on-chain form of a v0.7 user operation.
type PackedUserOp struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}

// packPair left-pads two values into one 32-byte word, 16 bytes each.
func packPair(hi, lo *hexutil.Big) [32]byte {
	var out [32]byte
	bigOrZero(hi).FillBytes(out[:16])
	bigOrZero(lo).FillBytes(out[16:])
	return out
}

// Pack converts the unpacked user operation into its packed on-chain form.
func (uo *UserOperation) Pack() *PackedUserOp {
	packed := &PackedUserOp{
		Sender:             uo.Sender,
		Nonce:              bigOrZero(uo.Nonce),
		CallData:           uo.CallData,
		PreVerificationGas: bigOrZero(uo.PreVerificationGas),
		AccountGasLimits:   packPair(uo.VerificationGasLimit, uo.CallGasLimit),
		GasFees:            packPair(uo.MaxPriorityFeePerGas, uo.MaxFeePerGas),
		Signature:          uo.Signature,
	}

	// initCode = factory || factoryData, present only for first-time deploys
	if uo.Factory != nil && len(uo.FactoryData) > 0 {
		initCode := make([]byte, 0, 20+len(uo.FactoryData))
		initCode = append(initCode, uo.Factory.Bytes()...)
		initCode = append(initCode, uo.FactoryData...)
		packed.InitCode = initCode
	}

	// paymasterAndData = paymaster || verificationGasLimit(16) || postOpGasLimit(16) || data
	if uo.Paymaster != nil {
		pnd := make([]byte, 0, 52+len(uo.PaymasterData))
		pnd = append(pnd, uo.Paymaster.Bytes()...)

		limits := make([]byte, 32)
		bigOrZero(uo.PaymasterVerificationGasLimit).FillBytes(limits[:16])
		bigOrZero(uo.PaymasterPostOpGasLimit).FillBytes(limits[16:])
		pnd = append(pnd, limits...)
		pnd = append(pnd, uo.PaymasterData...)
		packed.PaymasterAndData = pnd
	}

	return packed
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	userOpHashArgs = abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // hashedInitCode
		{Type: bytes32Type}, // hashedCallData
		{Type: bytes32Type}, // accountGasLimits
		{Type: uint256Type}, // preVerificationGas
		{Type: bytes32Type}, // gasFees
		{Type: bytes32Type}, // hashedPaymasterAndData
	}

	userOpEnvelopeArgs = abi.Arguments{
		{Type: bytes32Type}, // inner hash
		{Type: addressType}, // entry point
		{Type: uint256Type}, // chain id
	}
)

// GetUserOpHashV07 computes the canonical ERC-4337 v0.7 user operation hash:
// keccak256(abi.encode(keccak256(abi.encode(packed fields)), entryPoint, chainId)).
func (uo *UserOperation) GetUserOpHashV07(chainID *big.Int) (common.Hash, error) {
	return uo.Pack().HashV07(chainID)
}

// HashV07 computes the v0.7 user operation hash directly from the packed form.
// This is the form recovered from mined handleOps calldata.
func (p *PackedUserOp) HashV07(chainID *big.Int) (common.Hash, error) {
	inner, err := userOpHashArgs.Pack(
		p.Sender,
		p.Nonce,
		crypto.Keccak256Hash(p.InitCode),
		crypto.Keccak256Hash(p.CallData),
		p.AccountGasLimits,
		p.PreVerificationGas,
		p.GasFees,
		crypto.Keccak256Hash(p.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %w", err)
	}

	envelope, err := userOpEnvelopeArgs.Pack(crypto.Keccak256Hash(inner), EntryPointV07, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode hash envelope: %w", err)
	}

	return crypto.Keccak256Hash(envelope), nil
}
