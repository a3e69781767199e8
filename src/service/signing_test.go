package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambirelabs/walletcore/erc4337"
	"github.com/ambirelabs/walletcore/signature"
	"github.com/ambirelabs/walletcore/src/domain"
)

// hardhat's first well-known test key
const signingTestKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakePaymaster struct {
	calls    int
	failures int
}

func (f *fakePaymaster) SponsorUserOperation(_ context.Context, _ *big.Int, op *erc4337.UserOperation) (*erc4337.UserOperation, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("paymaster unavailable")
	}
	return op, nil
}

func nativeFeeOption(payer common.Address, available int64) domain.FeePaymentOption {
	return domain.FeePaymentOption{
		PaidBy:          payer,
		AvailableAmount: big.NewInt(available),
		GasUsed:         5000,
		IsNative:        true,
	}
}

func freshEstimation(options ...domain.FeePaymentOption) *EstimationResult {
	return &EstimationResult{
		GasUsed:    21000,
		FeeOptions: options,
		Timestamp:  time.Now(),
	}
}

func fastGasPrices(price int64) map[domain.FeeSpeed]domain.GasPrice {
	return map[domain.FeeSpeed]domain.GasPrice{
		domain.SpeedFast: {GasPrice: big.NewInt(price)},
	}
}

func newSigningFixture(t *testing.T, mutate func(*SigningMachineConfig)) (*SigningMachine, *domain.AccountOp) {
	t.Helper()

	signer, err := signature.NewECDSASignerFromHex(signingTestKey)
	require.NoError(t, err)

	account := &domain.Account{
		Addr:           testAccountAddr,
		AssociatedKeys: []common.Address{signer.Address()},
		Creation: &domain.AccountCreation{
			FactoryAddr: common.HexToAddress("0x00000000000000000000000000000000000000f1"),
			Bytecode:    []byte{0x60, 0x80},
			Salt:        common.HexToHash("0x01"),
		},
		IsV2: true,
	}
	op := &domain.AccountOp{
		AccountAddr: account.Addr,
		ChainID:     big.NewInt(1),
		Nonce:       big.NewInt(0),
		Calls: []domain.Call{
			{To: common.HexToAddress("0x01"), Value: big.NewInt(1)},
		},
	}
	cfg := SigningMachineConfig{
		Account: account,
		State: &domain.AccountOnchainState{
			AccountAddr: account.Addr,
			IsDeployed:  true,
			AssociatedKeysPrivileges: map[common.Address]common.Hash{
				signer.Address(): domain.DedicatedToOneSAPriv,
			},
		},
		Op:     op,
		Signer: signer,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	machine, err := NewSigningMachine(cfg)
	require.NoError(t, err)
	return machine, op
}

func TestSigningMachineUpdateToReady(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	require.Equal(t, SigningEstimationError, machine.Status())

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	err := machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100))
	require.NoError(t, err)
	assert.Equal(t, SigningReadyToSign, machine.Status())
	assert.Empty(t, machine.Warnings())

	speeds := machine.SpeedOptions(0)
	require.Len(t, speeds, 1)
	assert.Equal(t, domain.SpeedFast, speeds[0].Speed)
	assert.Equal(t, uint64(26000), speeds[0].SimulatedGasLimit)
	assert.Equal(t, big.NewInt(2600000), speeds[0].Amount)
	assert.False(t, speeds[0].Disabled)
}

func TestSigningMachineEstimationError(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	err := machine.Update(ctx, &EstimationResult{EstimationErr: errors.New("simulation reverted")}, nil)
	require.NoError(t, err)
	assert.Equal(t, SigningEstimationError, machine.Status())
	assert.Nil(t, machine.SpeedOptions(0))
	// estimation failures are recoverable; a later update may succeed
	assert.True(t, machine.CanUpdate())
}

func TestSigningInsufficientBalanceBlocks(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	err := machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 100)), fastGasPrices(100))
	require.NoError(t, err)

	assert.Equal(t, SigningUnableToSign, machine.Status())
	warnings := machine.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "insufficient-fee-balance", warnings[0].ID)
	assert.True(t, warnings[0].IsBlocking)

	speeds := machine.SpeedOptions(0)
	require.Len(t, speeds, 1)
	assert.True(t, speeds[0].Disabled)
}

func TestSigningOutdatedEstimationWarns(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	estimation := freshEstimation(nativeFeeOption(payer, 1e18))
	estimation.Timestamp = time.Now().Add(-2 * time.Minute)

	require.NoError(t, machine.Update(ctx, estimation, fastGasPrices(100)))

	warnings := machine.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "estimation-outdated", warnings[0].ID)
	assert.False(t, warnings[0].IsBlocking)
	// outdated is a caveat, not a blocker
	assert.Equal(t, SigningReadyToSign, machine.Status())
}

func TestSigningDelegationMismatchWarns(t *testing.T) {
	expected := common.HexToAddress("0x00000000000000000000000000000000000000de")
	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		machine, _ := newSigningFixture(t, func(cfg *SigningMachineConfig) {
			cfg.ExpectedDelegation = expected
		})
		require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))
		warnings := machine.Warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "delegation-mismatch", warnings[0].ID)
	})

	t.Run("match", func(t *testing.T) {
		machine, _ := newSigningFixture(t, func(cfg *SigningMachineConfig) {
			cfg.ExpectedDelegation = expected
			cfg.CurrentDelegation = &expected
		})
		require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))
		assert.Empty(t, machine.Warnings())
	})
}

func TestSigningPauseResume(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

	machine.PauseUpdates()
	assert.Equal(t, SigningUpdatesPaused, machine.Status())
	assert.False(t, machine.CanUpdate())
	assert.Error(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

	machine.ResumeUpdates()
	assert.Equal(t, SigningReadyToSign, machine.Status())
	assert.True(t, machine.CanUpdate())
}

func TestSignHappyPath(t *testing.T) {
	machine, op := newSigningFixture(t, nil)
	ctx := context.Background()

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

	signed, err := machine.Sign(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, signed)
	assert.Equal(t, SigningDone, machine.Status())
	assert.Same(t, signed, machine.SignedAccountOp())

	assert.NotEmpty(t, signed.Signature)
	require.NotNil(t, signed.GasFeePayment)
	assert.Equal(t, payer, signed.GasFeePayment.PaidBy)
	assert.Equal(t, big.NewInt(2600000), signed.GasFeePayment.Amount)
	assert.Equal(t, domain.SpeedFast, signed.GasFeePayment.FeeSpeed)
	assert.False(t, signed.GasFeePayment.IsERC4337)
	assert.Equal(t, uint64(26000), op.GasLimit)

	// done is terminal
	assert.False(t, machine.CanUpdate())
	_, err = machine.Sign(ctx, nil)
	assert.Error(t, err)
}

func TestSignOnlyFromReadyToSign(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	_, err := machine.Sign(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, machine.SignedAccountOp())
}

func TestSignAbortsWhenRequestInactive(t *testing.T) {
	machine, _ := newSigningFixture(t, func(cfg *SigningMachineConfig) {
		cfg.IsSignRequestStillActive = func() bool { return false }
	})
	ctx := context.Background()

	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

	_, err := machine.Sign(ctx, nil)
	assert.Error(t, err)
	assert.Equal(t, SigningUnableToSign, machine.Status())
	assert.Nil(t, machine.SignedAccountOp())
}

func TestSignPaymasterRetries(t *testing.T) {
	userOp := &erc4337.UserOperation{
		Sender: testAccountAddr,
		Nonce:  (*hexutil.Big)(big.NewInt(0)),
	}
	payer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ctx := context.Background()

	t.Run("recovers after transient failure", func(t *testing.T) {
		paymaster := &fakePaymaster{failures: 1}
		machine, _ := newSigningFixture(t, func(cfg *SigningMachineConfig) {
			cfg.Paymaster = paymaster
			cfg.PaymasterAttempts = 3
			cfg.PaymasterBackoff = time.Millisecond
		})
		require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

		signed, err := machine.Sign(ctx, userOp)
		require.NoError(t, err)
		assert.Equal(t, SigningDone, machine.Status())
		assert.True(t, signed.GasFeePayment.IsERC4337)
		assert.Equal(t, 2, paymaster.calls)
	})

	t.Run("exhausted attempts fail the machine", func(t *testing.T) {
		paymaster := &fakePaymaster{failures: 10}
		machine, _ := newSigningFixture(t, func(cfg *SigningMachineConfig) {
			cfg.Paymaster = paymaster
			cfg.PaymasterAttempts = 2
			cfg.PaymasterBackoff = time.Millisecond
		})
		require.NoError(t, machine.Update(ctx, freshEstimation(nativeFeeOption(payer, 1e18)), fastGasPrices(100)))

		_, err := machine.Sign(ctx, userOp)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 2 attempts")
		assert.Equal(t, SigningUnableToSign, machine.Status())
		assert.Nil(t, machine.SignedAccountOp())
		assert.Equal(t, 2, paymaster.calls)
	})
}

func TestSignFeeTokenConversion(t *testing.T) {
	machine, _ := newSigningFixture(t, nil)
	ctx := context.Background()

	tokenOption := domain.FeePaymentOption{
		PaidBy:          testAccountAddr,
		Token:           common.HexToAddress("0x000000000000000000000000000000000000dEaD"),
		TokenDecimals:   6,
		AvailableAmount: big.NewInt(1e12),
		GasUsed:         4000,
		NativeRatio:     decimal.NewFromInt(2),
	}
	require.NoError(t, machine.Update(ctx, freshEstimation(tokenOption), map[domain.FeeSpeed]domain.GasPrice{
		domain.SpeedFast: {GasPrice: big.NewInt(1e9)},
	}))

	speeds := machine.SpeedOptions(0)
	require.Len(t, speeds, 1)
	// (21000+4000) * 1 gwei in wei, doubled by the ratio, rescaled to 6 decimals
	expected := domain.GetAmountAfterFeeTokenConvert(25000, big.NewInt(1e9), decimal.NewFromInt(2), 6, nil)
	assert.Equal(t, expected, speeds[0].Amount)
	assert.Equal(t, big.NewInt(50), speeds[0].Amount)
}
