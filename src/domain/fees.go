package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FeeSpeed is one of the four user-facing fee tiers.
type FeeSpeed string

const (
	SpeedSlow   FeeSpeed = "slow"
	SpeedMedium FeeSpeed = "medium"
	SpeedFast   FeeSpeed = "fast"
	SpeedApe    FeeSpeed = "ape"
)

// FeeSpeeds lists all tiers in ascending order of gas price.
var FeeSpeeds = []FeeSpeed{SpeedSlow, SpeedMedium, SpeedFast, SpeedApe}

// GasPrice is the per-speed price input supplied by the gas price collaborator.
type GasPrice struct {
	GasPrice             *big.Int `json:"gasPrice"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`
}

// FeePaymentOption is one way the user can pay for an operation: the native
// token, an ERC-20 fee token, or the gas tank.
type FeePaymentOption struct {
	PaidBy           common.Address  `json:"paidBy"`
	Token            common.Address  `json:"token"`
	TokenDecimals    uint8           `json:"tokenDecimals"`
	AvailableAmount  *big.Int        `json:"availableAmount"`
	GasUsed          uint64          `json:"gasUsed,omitempty"`
	AddedNative      *big.Int        `json:"addedNative,omitempty"`
	NativeRatio      decimal.Decimal `json:"nativeRatio"`
	IsGasTank        bool            `json:"isGasTank"`
	IsNative         bool            `json:"isNative"`
}

// SpeedOption is the computed cost of one (payment option, speed) pair.
// Disabled means the payer's available balance cannot cover Amount.
type SpeedOption struct {
	Speed                FeeSpeed `json:"speed"`
	Amount               *big.Int `json:"amount"`
	SimulatedGasLimit    uint64   `json:"simulatedGasLimit"`
	GasPrice             *big.Int `json:"gasPrice"`
	MaxPriorityFeePerGas *big.Int `json:"maxPriorityFeePerGas,omitempty"`
	Disabled             bool     `json:"disabled"`
}

// nativeDecimals is the decimal count of the chain's native token.
const nativeDecimals = 18

// GetAmountAfterFeeTokenConvert converts a gas cost from native units into
// fee-token units: simulatedGasLimit * gasPrice plus the fixed native
// surcharge, multiplied by the token/native price ratio and rescaled from 18
// decimals to the fee token's decimals.
func GetAmountAfterFeeTokenConvert(simulatedGasLimit uint64, gasPrice *big.Int, nativeRatio decimal.Decimal, tokenDecimals uint8, addedNative *big.Int) *big.Int {
	amountInWei := new(big.Int).Mul(new(big.Int).SetUint64(simulatedGasLimit), gasPrice)
	if addedNative != nil {
		amountInWei = new(big.Int).Add(amountInWei, addedNative)
	}

	amount := decimal.NewFromBigInt(amountInWei, 0).
		Mul(nativeRatio).
		Shift(int32(tokenDecimals) - nativeDecimals)

	return amount.BigInt()
}
