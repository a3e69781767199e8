package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ambirelabs/walletcore/erc4337"
	"github.com/ambirelabs/walletcore/src/domain"
)

const (
	// maxOpsPerBucket caps one (account, chain) history; oldest entries are
	// evicted from the tail since insertion is always at the head.
	maxOpsPerBucket = 1000
	// maxPendingPerPass bounds reconciliation cost on long histories.
	maxPendingPerPass = 50
	// stuckThreshold is the wall-clock age after which an unfindable
	// broadcast is declared stuck.
	stuckThreshold = 5 * time.Minute

	maxMultiTxnIDs        = 100
	maxMultiTxnIDsNoBatch = 3
)

// ChainAccess is the part of the blockchain service reconciliation needs.
type ChainAccess interface {
	GetChainReader(chainID int64) (ChainReader, error)
	GetBundlerClient(ctx context.Context, chainID int64) (erc4337.Bundler, error)
}

// ActivityStore persists the per-account settlement history.
type ActivityStore interface {
	LoadAccountOps(ctx context.Context, account common.Address) (map[int64][]*domain.SubmittedAccountOp, error)
	SaveAccountOps(ctx context.Context, account common.Address, ops map[int64][]*domain.SubmittedAccountOp) error
}

// PortfolioHintSink receives token and counter-party addresses discovered in
// settled transaction logs, so new assets show up without a manual refresh.
type PortfolioHintSink interface {
	AddTokensToBeLearned(ctx context.Context, chainID int64, tokens []common.Address)
	AddAddressHints(ctx context.Context, chainID int64, addrs []common.Address)
}

// DeploymentObserver is notified when a tracked operation turns out to have
// deployed singleton contracts on a chain.
type DeploymentObserver interface {
	OnContractsDeployed(ctx context.Context, chainID int64)
}

type SettlementTrackerConfig struct {
	Blockchain  ChainAccess
	Relayer     Relayer
	Store       ActivityStore
	Hints       PortfolioHintSink  // optional
	Deployments DeploymentObserver // optional
	// OnUpdate fires once per persisted batch of changes, never per op.
	OnUpdate func(account common.Address)
}

// flight is one in-progress reconciliation; concurrent callers for the same
// address wait on it instead of starting a duplicate pass.
type flight struct {
	done chan struct{}
	err  error
}

// SettlementTracker reconciles broadcasted operations against chain state.
// It is the only writer of SubmittedAccountOp statuses; readers always see
// the last fully-computed snapshot.
type SettlementTracker struct {
	cfg SettlementTrackerConfig

	mu      sync.RWMutex
	ops     map[common.Address]map[int64][]*domain.SubmittedAccountOp
	loaded  map[common.Address]bool
	banners *bannerState
	views   *SessionManager

	flightMu sync.Mutex
	flights  map[common.Address]*flight
}

func NewSettlementTracker(cfg SettlementTrackerConfig) (*SettlementTracker, error) {
	if cfg.Blockchain == nil || cfg.Store == nil {
		return nil, errors.New("settlement tracker requires a blockchain service and a store")
	}
	t := &SettlementTracker{
		cfg:     cfg,
		ops:     make(map[common.Address]map[int64][]*domain.SubmittedAccountOp),
		loaded:  make(map[common.Address]bool),
		banners: newBannerState(),
		flights: make(map[common.Address]*flight),
	}
	t.views = newSessionManager(t.snapshotAccount)
	t.views.onDashboardQuery = t.banners.markSeen
	return t, nil
}

// logger wraps the execution context with component info
func (t *SettlementTracker) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "settlement").Logger()
	return &l
}

// Sessions exposes the paginated view manager backed by this tracker.
func (t *SettlementTracker) Sessions() *SessionManager {
	return t.views
}

// ensureLoadedLocked pulls an account's history from the store on first use.
// Callers hold t.mu for writing.
func (t *SettlementTracker) ensureLoadedLocked(ctx context.Context, account common.Address) error {
	if t.loaded[account] {
		return nil
	}
	ops, err := t.cfg.Store.LoadAccountOps(ctx, account)
	if err != nil {
		return fmt.Errorf("failed to load account ops: %w", err)
	}
	if ops == nil {
		ops = make(map[int64][]*domain.SubmittedAccountOp)
	}
	t.ops[account] = ops
	t.loaded[account] = true
	return nil
}

// AddAccountOp records a freshly broadcasted operation at the head of its
// (account, chain) bucket, evicting the oldest entry past the cap.
func (t *SettlementTracker) AddAccountOp(ctx context.Context, op *domain.SubmittedAccountOp) error {
	if op == nil || op.ChainID == nil {
		return errors.New("submitted op requires a chain id")
	}
	account := op.AccountAddr
	chainID := op.ChainID.Int64()

	t.mu.Lock()
	if err := t.ensureLoadedLocked(ctx, account); err != nil {
		t.mu.Unlock()
		return err
	}

	bucket := t.ops[account][chainID]
	bucket = append([]*domain.SubmittedAccountOp{op}, bucket...)
	if len(bucket) > maxOpsPerBucket {
		bucket = bucket[:maxOpsPerBucket]
	}
	t.ops[account][chainID] = bucket
	snapshot := cloneBuckets(t.ops[account])
	t.mu.Unlock()

	if err := t.cfg.Store.SaveAccountOps(ctx, account, snapshot); err != nil {
		return fmt.Errorf("failed to persist account ops: %w", err)
	}

	t.views.refreshAccount(account)
	t.notify(account)

	t.logger(ctx).Info().
		Str("account", account.Hex()).
		Int64("chainId", chainID).
		Str("identifiedBy", string(op.IdentifiedBy.Type)).
		Msg("account op added for tracking")
	return nil
}

// GetAccountOps returns a snapshot of one account's history across chains.
func (t *SettlementTracker) GetAccountOps(ctx context.Context, account common.Address) (map[int64][]*domain.SubmittedAccountOp, error) {
	t.mu.Lock()
	if err := t.ensureLoadedLocked(ctx, account); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	snapshot := cloneBuckets(t.ops[account])
	t.mu.Unlock()
	return snapshot, nil
}

// Banners returns the currently derived banners for an account.
func (t *SettlementTracker) Banners(account common.Address) []Banner {
	return t.banners.get(account)
}

// MarkBannersSeen flags the account's banners as seen by a dashboard view;
// seen banners are dropped on the next cleanup pass.
func (t *SettlementTracker) MarkBannersSeen(account common.Address) {
	t.banners.markSeen(account)
}

// snapshotAccount is the read hook handed to the session manager.
func (t *SettlementTracker) snapshotAccount(account common.Address) map[int64][]*domain.SubmittedAccountOp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneBuckets(t.ops[account])
}

func (t *SettlementTracker) notify(account common.Address) {
	if t.cfg.OnUpdate != nil {
		t.cfg.OnUpdate(account)
	}
}

// ReconcileAccount runs one reconciliation pass for the address. At most one
// pass runs per address; concurrent callers block on the in-flight pass and
// share its result.
func (t *SettlementTracker) ReconcileAccount(ctx context.Context, account common.Address) error {
	t.flightMu.Lock()
	if f, ok := t.flights[account]; ok {
		t.flightMu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	t.flights[account] = f
	t.flightMu.Unlock()

	f.err = t.runPass(ctx, account)
	close(f.done)

	t.flightMu.Lock()
	delete(t.flights, account)
	t.flightMu.Unlock()
	return f.err
}

// runPass computes a full updated snapshot, swaps it in, persists it once and
// emits a single notification.
func (t *SettlementTracker) runPass(ctx context.Context, account common.Address) error {
	t.mu.Lock()
	if err := t.ensureLoadedLocked(ctx, account); err != nil {
		t.mu.Unlock()
		return err
	}
	working := cloneBuckets(t.ops[account])
	t.mu.Unlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed bool
	)
	for chainID, bucket := range working {
		wg.Add(1)
		go func(chainID int64, bucket []*domain.SubmittedAccountOp) {
			defer wg.Done()
			if t.reconcileBucket(ctx, account, chainID, bucket) {
				mu.Lock()
				changed = true
				mu.Unlock()
			}
		}(chainID, bucket)
	}
	wg.Wait()

	if !changed {
		// still recompute banners so carried-over references age out
		t.banners.recompute(account, working)
		return nil
	}

	t.mu.Lock()
	t.ops[account] = working
	snapshot := cloneBuckets(working)
	t.mu.Unlock()

	if err := t.cfg.Store.SaveAccountOps(ctx, account, snapshot); err != nil {
		return fmt.Errorf("failed to persist reconciled ops: %w", err)
	}

	t.banners.recompute(account, snapshot)
	t.views.refreshAccount(account)
	t.notify(account)
	return nil
}

// reconcileBucket updates the newest pending ops of one chain bucket in
// place. Returns whether anything changed.
func (t *SettlementTracker) reconcileBucket(ctx context.Context, account common.Address, chainID int64, bucket []*domain.SubmittedAccountOp) bool {
	reader, err := t.cfg.Blockchain.GetChainReader(chainID)
	if err != nil {
		t.logger(ctx).Debug().Err(err).Int64("chainId", chainID).Msg("no chain reader, skipping bucket")
		return false
	}

	changed := false
	pending := 0
	for _, op := range bucket {
		if pending >= maxPendingPerPass {
			break
		}
		// stuck is not terminal; a late receipt must still resolve it
		if op.Status != domain.StatusBroadcastedButNotConfirmed &&
			op.Status != domain.StatusBroadcastButStuck {
			continue
		}
		pending++
		if t.reconcileOp(ctx, reader, chainID, op) {
			changed = true
		}
	}
	return changed
}

// reconcileOp resolves one pending op. Lookup failures are logged quietly and
// the op is left for the next pass; a slow network must not read as stuck.
func (t *SettlementTracker) reconcileOp(ctx context.Context, reader ChainReader, chainID int64, op *domain.SubmittedAccountOp) bool {
	switch op.IdentifiedBy.Type {
	case domain.IdentifiedByTransaction:
		return t.settleByTxn(ctx, reader, chainID, op, common.HexToHash(op.IdentifiedBy.Identifier))

	case domain.IdentifiedByUserOpHash:
		return t.settleByUserOp(ctx, reader, chainID, op)

	case domain.IdentifiedByRelayer:
		return t.settleByRelayer(ctx, reader, chainID, op)

	case domain.IdentifiedByMultipleTxns:
		return t.settleByMultipleTxns(ctx, reader, chainID, op)
	}

	t.logger(ctx).Warn().
		Str("type", string(op.IdentifiedBy.Type)).
		Msg("op with unknown identification scheme left pending")
	return false
}

// settleByTxn drives the common receipt path for a single transaction hash.
func (t *SettlementTracker) settleByTxn(ctx context.Context, reader ChainReader, chainID int64, op *domain.SubmittedAccountOp, txnHash common.Hash) bool {
	receipt, err := reader.TransactionReceipt(ctx, txnHash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			t.logger(ctx).Debug().Err(err).Str("txn", txnHash.Hex()).Msg("receipt lookup failed")
			return false
		}
		return t.settleMissingReceipt(ctx, reader, op, txnHash)
	}

	if receipt.Status == types.ReceiptStatusFailed && op.IdentifiedBy.Type == domain.IdentifiedByUserOpHash {
		if sub := t.resolveFrontRun(ctx, reader, chainID, common.HexToHash(op.IdentifiedBy.Identifier)); sub != nil {
			receipt = sub
			txnHash = sub.TxHash
		}
	}

	success := receipt.Status == types.ReceiptStatusSuccessful
	if op.IdentifiedBy.Type == domain.IdentifiedByUserOpHash && success {
		// receipt-level success is necessary but not sufficient for
		// bundler-mediated ops
		event, ok := erc4337.FindUserOperationEvent(receipt.Logs, common.HexToHash(op.IdentifiedBy.Identifier))
		success = ok && event.Success
	}

	op.TxnID = txnHash.Hex()
	if success {
		t.applySuccess(ctx, chainID, op, receipt)
	} else {
		op.Status = domain.StatusFailure
	}
	return true
}

// settleMissingReceipt handles a txn with no receipt: still in the mempool
// leaves it pending, vanished past the threshold marks it stuck.
func (t *SettlementTracker) settleMissingReceipt(ctx context.Context, reader ChainReader, op *domain.SubmittedAccountOp, txnHash common.Hash) bool {
	_, _, err := reader.TransactionByHash(ctx, txnHash)
	if err == nil {
		return false
	}
	if !errors.Is(err, ethereum.NotFound) {
		t.logger(ctx).Debug().Err(err).Str("txn", txnHash.Hex()).Msg("transaction lookup failed")
		return false
	}
	return t.markUnresolved(ctx, reader, op)
}

// markUnresolved classifies an op whose transaction cannot be found anywhere.
// Before the threshold it stays pending. Past it, an account nonce already
// beyond the op's nonce means another transaction consumed the slot and the
// outcome is unknowable from here; otherwise the op is stuck. An op that is
// already stuck is not re-dirtied.
func (t *SettlementTracker) markUnresolved(ctx context.Context, reader ChainReader, op *domain.SubmittedAccountOp) bool {
	if time.Since(op.Timestamp) < stuckThreshold {
		return false
	}
	if op.Nonce != nil {
		nonce, err := reader.NonceAt(ctx, op.AccountAddr)
		if err != nil {
			t.logger(ctx).Debug().Err(err).Str("account", op.AccountAddr.Hex()).Msg("nonce lookup failed")
		} else if nonce > op.Nonce.Uint64() {
			op.Status = domain.StatusUnknownButPastNonce
			return true
		}
	}
	if op.Status == domain.StatusBroadcastButStuck {
		return false
	}
	op.Status = domain.StatusBroadcastButStuck
	return true
}

func (t *SettlementTracker) settleByUserOp(ctx context.Context, reader ChainReader, chainID int64, op *domain.SubmittedAccountOp) bool {
	bundler, err := t.cfg.Blockchain.GetBundlerClient(ctx, chainID)
	if err != nil {
		t.logger(ctx).Debug().Err(err).Int64("chainId", chainID).Msg("no bundler for chain")
		return false
	}

	userOpHash := common.HexToHash(op.IdentifiedBy.Identifier)
	receipt, err := bundler.GetUserOperationReceipt(ctx, userOpHash)
	if err != nil {
		t.logger(ctx).Debug().Err(err).Str("userOpHash", userOpHash.Hex()).Msg("user op receipt lookup failed")
		return false
	}
	if receipt != nil {
		if txnHash := receipt.TransactionHash(); txnHash != (common.Hash{}) {
			return t.settleByTxn(ctx, reader, chainID, op, txnHash)
		}
	}

	// not yet in a bundle; check whether the bundler still knows the op
	byHash, err := bundler.GetUserOperationByHash(ctx, userOpHash)
	if err != nil {
		t.logger(ctx).Debug().Err(err).Str("userOpHash", userOpHash.Hex()).Msg("user op lookup failed")
		return false
	}
	if byHash != nil {
		if byHash.TransactionHash != (common.Hash{}) {
			return t.settleByTxn(ctx, reader, chainID, op, byHash.TransactionHash)
		}
		return false
	}
	return t.markUnresolved(ctx, reader, op)
}

func (t *SettlementTracker) settleByRelayer(ctx context.Context, reader ChainReader, chainID int64, op *domain.SubmittedAccountOp) bool {
	if t.cfg.Relayer == nil {
		return false
	}
	res, err := t.cfg.Relayer.ResolveOp(ctx, chainID, op.IdentifiedBy.Identifier)
	if err != nil {
		t.logger(ctx).Debug().Err(err).Str("relayerOp", op.IdentifiedBy.Identifier).Msg("relayer lookup failed")
		return false
	}

	switch res.Status {
	case RelayerResolutionSuccess:
		return t.settleByTxn(ctx, reader, chainID, op, common.HexToHash(res.TxnID))
	case RelayerResolutionRejected:
		op.Status = domain.StatusRejected
		return true
	case RelayerResolutionNotFound:
		return t.markUnresolved(ctx, reader, op)
	}
	return false
}

// settleByMultipleTxns reconciles an op whose calls were broadcast as
// separate transactions, tracking a bounded set of candidate ids.
func (t *SettlementTracker) settleByMultipleTxns(ctx context.Context, reader ChainReader, chainID int64, op *domain.SubmittedAccountOp) bool {
	limit := maxMultiTxnIDs
	if reader.BatchMaxCount() == 1 {
		limit = maxMultiTxnIDsNoBatch
	}
	ids := op.IdentifiedBy.MultipleIds
	if len(ids) > limit {
		ids = ids[:limit]
	}

	if len(op.CallStatuses) != len(ids) {
		op.CallStatuses = make([]domain.CallStatus, len(ids))
		for i, id := range ids {
			op.CallStatuses[i] = domain.CallStatus{TxnID: id, Status: domain.StatusBroadcastedButNotConfirmed}
		}
	}

	changed := false
	allFinal := true
	anyFailed := false
	var lastReceipt *types.Receipt
	for i := range op.CallStatuses {
		cs := &op.CallStatuses[i]
		if cs.Status.IsFinal() {
			if cs.Status != domain.StatusSuccess {
				anyFailed = true
			}
			continue
		}

		receipt, err := reader.TransactionReceipt(ctx, common.HexToHash(cs.TxnID))
		if err != nil {
			if errors.Is(err, ethereum.NotFound) && time.Since(op.Timestamp) >= stuckThreshold &&
				cs.Status != domain.StatusBroadcastButStuck {
				cs.Status = domain.StatusBroadcastButStuck
				changed = true
			}
			allFinal = false
			continue
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			cs.Status = domain.StatusSuccess
			lastReceipt = receipt
		} else {
			cs.Status = domain.StatusFailure
			anyFailed = true
		}
		changed = true
	}

	if allFinal {
		if anyFailed {
			op.Status = domain.StatusFailure
		} else if lastReceipt != nil {
			op.TxnID = lastReceipt.TxHash.Hex()
			t.applySuccess(ctx, chainID, op, lastReceipt)
		}
		changed = true
	}
	return changed
}

// applySuccess finalizes a successful op: records inclusion data, signals
// deployment observers and forwards portfolio hints from transfer logs.
func (t *SettlementTracker) applySuccess(ctx context.Context, chainID int64, op *domain.SubmittedAccountOp, receipt *types.Receipt) {
	op.Status = domain.StatusSuccess
	if receipt.BlockNumber != nil {
		op.BlockNumber = receipt.BlockNumber.Uint64()
	}
	op.BlockHash = receipt.BlockHash
	op.GasUsed = receipt.GasUsed

	if op.IsSingletonDeploy && t.cfg.Deployments != nil {
		t.cfg.Deployments.OnContractsDeployed(ctx, chainID)
	}

	if t.cfg.Hints != nil {
		tokens, counterparties := collectTransferHints(receipt.Logs, op.AccountAddr)
		if len(tokens) > 0 {
			t.cfg.Hints.AddTokensToBeLearned(ctx, chainID, tokens)
		}
		if len(counterparties) > 0 {
			t.cfg.Hints.AddAddressHints(ctx, chainID, counterparties)
		}
	}
}

// resolveFrontRun finds the transaction that actually executed a user op
// after the tracked one failed. The recomputed hash must match before the
// substituted receipt is trusted.
func (t *SettlementTracker) resolveFrontRun(ctx context.Context, reader ChainReader, chainID int64, userOpHash common.Hash) *types.Receipt {
	bundler, err := t.cfg.Blockchain.GetBundlerClient(ctx, chainID)
	if err != nil {
		return nil
	}
	byHash, err := bundler.GetUserOperationByHash(ctx, userOpHash)
	if err != nil || byHash == nil || byHash.TransactionHash == (common.Hash{}) {
		return nil
	}

	txn, pending, err := reader.TransactionByHash(ctx, byHash.TransactionHash)
	if err != nil || pending {
		return nil
	}
	if !callDataExecutesUserOp(txn.Data(), big.NewInt(chainID), userOpHash) {
		t.logger(ctx).Warn().
			Str("userOpHash", userOpHash.Hex()).
			Str("txn", byHash.TransactionHash.Hex()).
			Msg("substitute transaction does not execute the tracked user op")
		return nil
	}

	receipt, err := reader.TransactionReceipt(ctx, byHash.TransactionHash)
	if err != nil {
		return nil
	}
	return receipt
}

func cloneBuckets(buckets map[int64][]*domain.SubmittedAccountOp) map[int64][]*domain.SubmittedAccountOp {
	out := make(map[int64][]*domain.SubmittedAccountOp, len(buckets))
	for chainID, ops := range buckets {
		cloned := make([]*domain.SubmittedAccountOp, len(ops))
		for i, op := range ops {
			cp := *op
			if len(op.CallStatuses) > 0 {
				cp.CallStatuses = append([]domain.CallStatus(nil), op.CallStatuses...)
			}
			cloned[i] = &cp
		}
		out[chainID] = cloned
	}
	return out
}
