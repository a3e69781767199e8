package domain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGetAmountAfterFeeTokenConvert(t *testing.T) {
	gwei := big.NewInt(1e9)

	t.Run("18 decimal token at parity", func(t *testing.T) {
		// ratio 1 and 18 decimals leave the native amount untouched
		amount := GetAmountAfterFeeTokenConvert(21000, gwei, decimal.NewFromInt(1), 18, nil)
		assert.Equal(t, big.NewInt(21000*1e9), amount)
	})

	t.Run("6 decimal token", func(t *testing.T) {
		// 1e14 wei doubled by the ratio, then rescaled from 18 to 6 decimals
		amount := GetAmountAfterFeeTokenConvert(100000, gwei, decimal.NewFromInt(2), 6, nil)
		assert.Equal(t, big.NewInt(200), amount)
	})

	t.Run("added native joins before conversion", func(t *testing.T) {
		withSurcharge := GetAmountAfterFeeTokenConvert(100000, gwei, decimal.NewFromInt(1), 6, big.NewInt(1e14))
		without := GetAmountAfterFeeTokenConvert(100000, gwei, decimal.NewFromInt(1), 6, nil)
		assert.Equal(t, big.NewInt(100), without)
		assert.Equal(t, big.NewInt(200), withSurcharge)
	})

	t.Run("fractional ratio", func(t *testing.T) {
		amount := GetAmountAfterFeeTokenConvert(100000, gwei, decimal.NewFromFloat(0.5), 18, nil)
		assert.Equal(t, big.NewInt(5e13), amount)
	})
}

func TestAccountOpStatusIsFinal(t *testing.T) {
	final := []AccountOpStatus{StatusSuccess, StatusFailure, StatusRejected, StatusUnknownButPastNonce}
	for _, status := range final {
		assert.True(t, status.IsFinal(), string(status))
	}
	assert.False(t, StatusBroadcastedButNotConfirmed.IsFinal())
	assert.False(t, StatusBroadcastButStuck.IsFinal())
}
