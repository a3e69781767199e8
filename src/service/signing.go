package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/erc4337"
	"github.com/ambirelabs/walletcore/signature"
	"github.com/ambirelabs/walletcore/src/domain"
)

// SigningStatus is the state of one signing machine instance.
type SigningStatus string

const (
	SigningEstimationError     SigningStatus = "estimation-error"
	SigningUnableToSign        SigningStatus = "unable-to-sign"
	SigningReadyToSign         SigningStatus = "ready-to-sign"
	SigningUpdatesPaused       SigningStatus = "updates-paused"
	SigningInProgress          SigningStatus = "in-progress"
	SigningWaitingForPaymaster SigningStatus = "waiting-for-paymaster"
	SigningDone                SigningStatus = "done"
)

// Warning is a user-facing caveat derived from estimation and fee selection.
// Non-blocking warnings do not prevent ReadyToSign.
type Warning struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	IsBlocking bool   `json:"isBlocking"`
}

// EstimationResult is the externally supplied estimation input: gas usage,
// eligible payment options, and any estimation failure.
type EstimationResult struct {
	GasUsed       uint64
	Erc4337Limits *erc4337.GasEstimates
	FeeOptions    []domain.FeePaymentOption
	EstimationErr error
	Timestamp     time.Time
}

// PaymasterService finalizes a user operation with sponsorship data before
// the final signature can be produced.
type PaymasterService interface {
	SponsorUserOperation(ctx context.Context, chainID *big.Int, op *erc4337.UserOperation) (*erc4337.UserOperation, error)
}

// Broadcaster submits a signed operation and returns the handle the
// settlement tracker reconciles it by. The host supplies the implementation:
// a direct RPC send, a bundler submission or a relayer call.
type Broadcaster interface {
	Submit(ctx context.Context, op *domain.AccountOp) (domain.IdentifiedBy, error)
}

// estimationMaxAge is how old an estimation may get before the machine warns
// that fees were computed against stale chain data.
const estimationMaxAge = time.Minute

const (
	defaultPaymasterAttempts = 5
	defaultPaymasterBackoff  = 2 * time.Second
)

// SigningMachineConfig wires one pending operation into a machine instance.
type SigningMachineConfig struct {
	Account *domain.Account
	State   *domain.AccountOnchainState
	Op      *domain.AccountOp
	Signer  signature.Signer
	// IsOG enables the narrowly-scoped v1 phishing-guard bypass; the host is
	// responsible for gating it on its allow-list.
	IsOG bool

	// Paymaster is consulted for ERC-4337 sponsored broadcasts; nil otherwise.
	Paymaster         PaymasterService
	PaymasterAttempts int
	PaymasterBackoff  time.Duration

	// IsSignRequestStillActive is checked before every irreversible step; when
	// it reports false the flow aborts without pretending to be Done.
	IsSignRequestStillActive func() bool

	// Delegation inputs for the 7702 mismatch warning, supplied externally.
	CurrentDelegation  *common.Address
	ExpectedDelegation common.Address
}

// SigningMachine drives one operation from estimation through signing.
// Single-flight per pending operation: Done is terminal, a new operation
// needs a new instance.
type SigningMachine struct {
	mu  sync.Mutex
	cfg SigningMachineConfig

	status       SigningStatus
	estimation   *EstimationResult
	gasPrices    map[domain.FeeSpeed]domain.GasPrice
	speedOptions [][]domain.SpeedOption
	warnings     []Warning

	selectedOption int
	selectedSpeed  domain.FeeSpeed

	signedAccountOp *domain.AccountOp
	pausedFrom      SigningStatus
}

func NewSigningMachine(cfg SigningMachineConfig) (*SigningMachine, error) {
	if cfg.Account == nil || cfg.Op == nil || cfg.Signer == nil {
		return nil, errors.New("signing machine requires an account, an operation and a signer")
	}
	if cfg.PaymasterAttempts == 0 {
		cfg.PaymasterAttempts = defaultPaymasterAttempts
	}
	if cfg.PaymasterBackoff == 0 {
		cfg.PaymasterBackoff = defaultPaymasterBackoff
	}
	return &SigningMachine{
		cfg:            cfg,
		status:         SigningEstimationError,
		selectedOption: -1,
		selectedSpeed:  domain.SpeedFast,
	}, nil
}

// logger wraps the execution context with component info
func (m *SigningMachine) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().
		Str("service", "signing").
		Str("account", m.cfg.Op.AccountAddr.Hex()).
		Logger()
	return &l
}

func (m *SigningMachine) Status() SigningStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *SigningMachine) Warnings() []Warning {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Warning, len(m.warnings))
	copy(out, m.warnings)
	return out
}

// SignedAccountOp returns the finished operation, only once Done.
func (m *SigningMachine) SignedAccountOp() *domain.AccountOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != SigningDone {
		return nil
	}
	return m.signedAccountOp
}

// CanUpdate reports whether the host may push new estimation data into the
// machine. Recomputation is suppressed while the user is mid-flow so state
// cannot mutate under a live hardware-signing interaction.
func (m *SigningMachine) CanUpdate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canUpdateLocked()
}

func (m *SigningMachine) canUpdateLocked() bool {
	switch m.status {
	case SigningUpdatesPaused, SigningInProgress, SigningWaitingForPaymaster, SigningDone:
		return false
	}
	return true
}

// PauseUpdates freezes derived recalculation while the user confirms on a
// device. ResumeUpdates restores the previous state.
func (m *SigningMachine) PauseUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canUpdateLocked() {
		return
	}
	m.pausedFrom = m.status
	m.status = SigningUpdatesPaused
}

func (m *SigningMachine) ResumeUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != SigningUpdatesPaused {
		return
	}
	m.status = m.pausedFrom
}

// Update feeds fresh estimation results and gas prices into the machine and
// recomputes fee tuples and warnings. Ignored while updates are suppressed.
func (m *SigningMachine) Update(ctx context.Context, estimation *EstimationResult, gasPrices map[domain.FeeSpeed]domain.GasPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canUpdateLocked() {
		return fmt.Errorf("signing machine cannot update in status %s", m.status)
	}

	m.estimation = estimation
	m.gasPrices = gasPrices

	if estimation == nil || estimation.EstimationErr != nil {
		m.status = SigningEstimationError
		m.speedOptions = nil
		if estimation != nil {
			m.logger(ctx).Warn().Err(estimation.EstimationErr).Msg("estimation failed")
		}
		return nil
	}

	// default the selection first so warnings see the effective option
	if m.selectedOption < 0 && len(estimation.FeeOptions) > 0 {
		m.selectedOption = 0
	}
	m.recomputeLocked()
	m.refreshStatusLocked()
	return nil
}

// SelectFeeOption picks a payment option and speed; it locks the resulting
// fee into the operation's GasFeePayment.
func (m *SigningMachine) SelectFeeOption(optionIndex int, speed domain.FeeSpeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canUpdateLocked() {
		return fmt.Errorf("fee selection is frozen in status %s", m.status)
	}
	if m.estimation == nil || optionIndex < 0 || optionIndex >= len(m.estimation.FeeOptions) {
		return fmt.Errorf("fee option index %d out of range", optionIndex)
	}

	m.selectedOption = optionIndex
	m.selectedSpeed = speed
	m.recomputeLocked()
	m.refreshStatusLocked()
	return nil
}

// recomputeLocked rebuilds per-option speed tuples and warnings.
func (m *SigningMachine) recomputeLocked() {
	est := m.estimation
	m.speedOptions = make([][]domain.SpeedOption, len(est.FeeOptions))
	m.warnings = nil

	for i, option := range est.FeeOptions {
		speeds := make([]domain.SpeedOption, 0, len(domain.FeeSpeeds))
		for _, speed := range domain.FeeSpeeds {
			price, ok := m.gasPrices[speed]
			if !ok || price.GasPrice == nil {
				continue
			}
			simGasLimit := est.GasUsed + option.GasUsed

			var amount *big.Int
			if option.IsNative || option.IsGasTank {
				amount = new(big.Int).Mul(new(big.Int).SetUint64(simGasLimit), price.GasPrice)
				if option.AddedNative != nil {
					amount = new(big.Int).Add(amount, option.AddedNative)
				}
			} else {
				amount = domain.GetAmountAfterFeeTokenConvert(
					simGasLimit, price.GasPrice, option.NativeRatio, option.TokenDecimals, option.AddedNative,
				)
			}

			disabled := option.AvailableAmount == nil || option.AvailableAmount.Cmp(amount) < 0
			speeds = append(speeds, domain.SpeedOption{
				Speed:                speed,
				Amount:               amount,
				SimulatedGasLimit:    simGasLimit,
				GasPrice:             price.GasPrice,
				MaxPriorityFeePerGas: price.MaxPriorityFeePerGas,
				Disabled:             disabled,
			})
		}
		m.speedOptions[i] = speeds
	}

	m.computeWarningsLocked()
}

func (m *SigningMachine) computeWarningsLocked() {
	if sel := m.selectedSpeedOptionLocked(); sel != nil && sel.Disabled {
		m.warnings = append(m.warnings, Warning{
			ID:         "insufficient-fee-balance",
			Text:       "The selected fee payer cannot cover the fee at this speed",
			IsBlocking: true,
		})
	}

	if m.estimation != nil && !m.estimation.Timestamp.IsZero() &&
		time.Since(m.estimation.Timestamp) > estimationMaxAge {
		m.warnings = append(m.warnings, Warning{
			ID:   "estimation-outdated",
			Text: "The fee estimation is outdated; refresh before signing",
		})
	}

	if m.cfg.ExpectedDelegation != (common.Address{}) {
		mismatch := m.cfg.CurrentDelegation == nil || *m.cfg.CurrentDelegation != m.cfg.ExpectedDelegation
		if mismatch {
			m.warnings = append(m.warnings, Warning{
				ID:   "delegation-mismatch",
				Text: "The account's 7702 delegation does not match the expected implementation",
			})
		}
	}
}

func (m *SigningMachine) selectedSpeedOptionLocked() *domain.SpeedOption {
	if m.selectedOption < 0 || m.selectedOption >= len(m.speedOptions) {
		return nil
	}
	for i := range m.speedOptions[m.selectedOption] {
		if m.speedOptions[m.selectedOption][i].Speed == m.selectedSpeed {
			return &m.speedOptions[m.selectedOption][i]
		}
	}
	return nil
}

// refreshStatusLocked derives ReadyToSign / UnableToSign from the current
// inputs. Blocking warnings keep the machine unable to sign.
func (m *SigningMachine) refreshStatusLocked() {
	sel := m.selectedSpeedOptionLocked()
	if sel == nil {
		m.status = SigningUnableToSign
		return
	}
	for _, w := range m.warnings {
		if w.IsBlocking {
			m.status = SigningUnableToSign
			return
		}
	}
	m.status = SigningReadyToSign
}

// SpeedOptions returns the computed tuples for one payment option.
func (m *SigningMachine) SpeedOptions(optionIndex int) []domain.SpeedOption {
	m.mu.Lock()
	defer m.mu.Unlock()
	if optionIndex < 0 || optionIndex >= len(m.speedOptions) {
		return nil
	}
	out := make([]domain.SpeedOption, len(m.speedOptions[optionIndex]))
	copy(out, m.speedOptions[optionIndex])
	return out
}

func (m *SigningMachine) stillActive() bool {
	if m.cfg.IsSignRequestStillActive == nil {
		return true
	}
	return m.cfg.IsSignRequestStillActive()
}

// Sign produces the final signature for the operation. Callable only from
// ReadyToSign; on any error path the machine lands in UnableToSign, never in
// a misleading Done.
func (m *SigningMachine) Sign(ctx context.Context, userOp *erc4337.UserOperation) (*domain.AccountOp, error) {
	m.mu.Lock()
	if m.status != SigningReadyToSign {
		status := m.status
		m.mu.Unlock()
		return nil, fmt.Errorf("sign is only callable from %s, machine is %s", SigningReadyToSign, status)
	}
	if !m.stillActive() {
		m.status = SigningUnableToSign
		m.mu.Unlock()
		return nil, errors.New("sign request is no longer active")
	}

	sel := m.selectedSpeedOptionLocked()
	option := m.estimation.FeeOptions[m.selectedOption]
	m.status = SigningInProgress
	m.mu.Unlock()

	m.logger(ctx).Info().
		Str("speed", string(m.selectedSpeed)).
		Msg("signing account operation")

	// lock the fee into the op before hashing; the signed bytes must commit
	// to the exact payment the user approved
	m.cfg.Op.GasLimit = sel.SimulatedGasLimit
	m.cfg.Op.GasFeePayment = &domain.GasFeePayment{
		PaidBy:               option.PaidBy,
		InToken:              option.Token,
		Amount:               sel.Amount,
		SimulatedGasLimit:    sel.SimulatedGasLimit,
		GasPrice:             sel.GasPrice,
		MaxPriorityFeePerGas: sel.MaxPriorityFeePerGas,
		FeeSpeed:             m.selectedSpeed,
		IsGasTank:            option.IsGasTank,
		IsERC4337:            userOp != nil,
	}

	if userOp != nil && m.cfg.Paymaster != nil {
		finalOp, err := m.sponsorWithRetries(ctx, userOp)
		if err != nil {
			m.fail(ctx, err)
			return nil, err
		}
		userOp = finalOp
	}

	if !m.stillActive() {
		err := errors.New("sign request became inactive before the signature was committed")
		m.fail(ctx, err)
		return nil, err
	}

	sctx := &signature.SignContext{
		Account: m.cfg.Account,
		State:   m.cfg.State,
		ChainID: m.cfg.Op.ChainID,
		IsOG:    m.cfg.IsOG,
	}
	sig, err := signature.ExecuteSignature(m.cfg.Signer, sctx, m.cfg.Op)
	if err != nil {
		m.fail(ctx, err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// signature is set exactly once; from here the op is immutable
	m.cfg.Op.Signature = sig
	m.cfg.Op.SigningKeyAddr = m.cfg.Signer.Address()
	m.signedAccountOp = m.cfg.Op
	m.status = SigningDone

	m.logger(ctx).Info().Msg("account operation signed")
	return m.signedAccountOp, nil
}

// sponsorWithRetries runs the paymaster round trip as an explicit retry loop
// with a max attempt count and fixed backoff.
func (m *SigningMachine) sponsorWithRetries(ctx context.Context, userOp *erc4337.UserOperation) (*erc4337.UserOperation, error) {
	m.mu.Lock()
	m.status = SigningWaitingForPaymaster
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.cfg.PaymasterAttempts; attempt++ {
		if !m.stillActive() {
			return nil, errors.New("sign request became inactive during the paymaster round trip")
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.cfg.PaymasterBackoff):
			}
		}

		finalOp, err := m.cfg.Paymaster.SponsorUserOperation(ctx, m.cfg.Op.ChainID, userOp)
		if err == nil {
			m.mu.Lock()
			m.status = SigningInProgress
			m.mu.Unlock()
			return finalOp, nil
		}
		lastErr = err
		m.logger(ctx).Warn().Err(err).Int("attempt", attempt+1).Msg("paymaster round trip failed")
	}
	return nil, fmt.Errorf("paymaster round trip failed after %d attempts: %w", m.cfg.PaymasterAttempts, lastErr)
}

func (m *SigningMachine) fail(ctx context.Context, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = SigningUnableToSign
	m.logger(ctx).Error().Err(err).Msg("signing failed")
}
