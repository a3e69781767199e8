package service

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambirelabs/walletcore/src/domain"
)

// bannerScanDepth is how many of the newest ops feed banner derivation.
const bannerScanDepth = 10

type BannerType string

const (
	BannerPending BannerType = "pending"
	BannerFailed  BannerType = "failed"
)

// Banner is a derived, user-facing notice about recent operations. OpRefs
// point at the operations the banner is about (txn id or broadcast
// identifier). Seen banners are dropped on the next recompute.
type Banner struct {
	Type    BannerType     `json:"type"`
	Account common.Address `json:"account"`
	OpRefs  []string       `json:"opRefs"`
	Seen    bool           `json:"seen"`
}

type accountBanners struct {
	pending *Banner
	failed  *Banner
}

// bannerState recomputes banners per account on every reconciliation pass.
// Banners are never stored; only the seen flag and carried-over references
// survive between passes.
type bannerState struct {
	mu        sync.Mutex
	byAccount map[common.Address]*accountBanners
}

func newBannerState() *bannerState {
	return &bannerState{byAccount: make(map[common.Address]*accountBanners)}
}

func opRef(op *domain.SubmittedAccountOp) string {
	if op.TxnID != "" {
		return op.TxnID
	}
	if op.IdentifiedBy.Identifier != "" {
		return op.IdentifiedBy.Identifier
	}
	if len(op.IdentifiedBy.MultipleIds) > 0 {
		return op.IdentifiedBy.MultipleIds[0]
	}
	return ""
}

// recompute derives the pending and failed banners from the account's newest
// ops, carrying over unseen references from the previous pass so a banner the
// user has not acknowledged does not vanish across refreshes.
func (b *bannerState) recompute(account common.Address, buckets map[int64][]*domain.SubmittedAccountOp) {
	var all []*domain.SubmittedAccountOp
	statusByRef := make(map[string]domain.AccountOpStatus)
	for _, ops := range buckets {
		all = append(all, ops...)
		for _, op := range ops {
			if ref := opRef(op); ref != "" {
				statusByRef[ref] = op.Status
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > bannerScanDepth {
		all = all[:bannerScanDepth]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.byAccount[account]
	if prev == nil {
		prev = &accountBanners{}
	}
	// cleanup: acknowledged banners are dropped before recomputation
	if prev.pending != nil && prev.pending.Seen {
		prev.pending = nil
	}
	if prev.failed != nil && prev.failed.Seen {
		prev.failed = nil
	}

	pendingRefs := make(map[string]bool)
	failedRefs := make(map[string]bool)

	for _, op := range all {
		if op.Status.IsFinal() {
			continue
		}
		if ref := opRef(op); ref != "" {
			pendingRefs[ref] = true
		}
	}

	// carry over prior pending references: still-unresolved ones stay on the
	// pending banner, ones that flipped to a failure move to the failed banner
	if prev.pending != nil {
		for _, ref := range prev.pending.OpRefs {
			switch statusByRef[ref] {
			case domain.StatusFailure, domain.StatusRejected:
				failedRefs[ref] = true
			case domain.StatusSuccess, domain.StatusUnknownButPastNonce:
				// resolved, drop
			default:
				pendingRefs[ref] = true
			}
		}
	}
	if prev.failed != nil {
		for _, ref := range prev.failed.OpRefs {
			failedRefs[ref] = true
		}
	}

	next := &accountBanners{}
	if len(pendingRefs) > 0 {
		next.pending = &Banner{Type: BannerPending, Account: account, OpRefs: sortedRefs(pendingRefs)}
	}
	if len(failedRefs) > 0 {
		next.failed = &Banner{Type: BannerFailed, Account: account, OpRefs: sortedRefs(failedRefs)}
	}
	b.byAccount[account] = next
}

func sortedRefs(set map[string]bool) []string {
	refs := make([]string, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func (b *bannerState) get(account common.Address) []Banner {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.byAccount[account]
	if state == nil {
		return nil
	}
	var out []Banner
	if state.pending != nil {
		out = append(out, *state.pending)
	}
	if state.failed != nil {
		out = append(out, *state.failed)
	}
	return out
}

func (b *bannerState) markSeen(account common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.byAccount[account]
	if state == nil {
		return
	}
	if state.pending != nil {
		state.pending.Seen = true
	}
	if state.failed != nil {
		state.failed.Seen = true
	}
}
