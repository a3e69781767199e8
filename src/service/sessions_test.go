package service

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambirelabs/walletcore/src/domain"
)

// sessionFixtureOps builds n ops on the given chain, newest last, with
// distinct timestamps so ordering is observable.
func sessionFixtureOps(chainID int64, n int) []*domain.SubmittedAccountOp {
	base := time.Now().Add(-time.Hour)
	ops := make([]*domain.SubmittedAccountOp, n)
	for i := 0; i < n; i++ {
		ops[i] = &domain.SubmittedAccountOp{
			AccountOp: domain.AccountOp{
				AccountAddr: testAccountAddr,
				ChainID:     big.NewInt(chainID),
			},
			IdentifiedBy: domain.IdentifiedBy{
				Type:       domain.IdentifiedByTransaction,
				Identifier: fmt.Sprintf("0x%02d%02d", chainID, i),
			},
			Status:    domain.StatusSuccess,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return ops
}

func newSessionTestManager(buckets map[int64][]*domain.SubmittedAccountOp) *SessionManager {
	return newSessionManager(func(common.Address) map[int64][]*domain.SubmittedAccountOp {
		return buckets
	})
}

func TestSessionPagination(t *testing.T) {
	m := newSessionTestManager(map[int64][]*domain.SubmittedAccountOp{
		1: sessionFixtureOps(1, 25),
	})

	view := m.Open("s1", SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	assert.Equal(t, 25, view.ItemsTotal)
	assert.Equal(t, 3, view.MaxPages)
	assert.Equal(t, 0, view.CurrentPage)
	require.Len(t, view.Items, defaultItemsPerPage)
	// newest first
	assert.Equal(t, "0x0124", view.Items[0].IdentifiedBy.Identifier)

	view = m.Open("s1", SessionFilter{Account: testAccountAddr}, SessionPage{FromPage: 2, ItemsPerPage: 10}, false)
	assert.Equal(t, 2, view.CurrentPage)
	require.Len(t, view.Items, 5)
	assert.Equal(t, "0x0100", view.Items[len(view.Items)-1].IdentifiedBy.Identifier)

	// past the end yields an empty page, not an error
	view = m.Open("s1", SessionFilter{Account: testAccountAddr}, SessionPage{FromPage: 9, ItemsPerPage: 10}, false)
	assert.Empty(t, view.Items)
}

func TestSessionChainFilter(t *testing.T) {
	m := newSessionTestManager(map[int64][]*domain.SubmittedAccountOp{
		1:  sessionFixtureOps(1, 3),
		10: sessionFixtureOps(10, 4),
	})

	chainID := int64(10)
	view := m.Open("s1", SessionFilter{Account: testAccountAddr, ChainID: &chainID}, SessionPage{}, false)
	assert.Equal(t, 4, view.ItemsTotal)
	for _, item := range view.Items {
		assert.Equal(t, chainID, item.ChainID.Int64())
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m := newSessionTestManager(map[int64][]*domain.SubmittedAccountOp{
		1: sessionFixtureOps(1, 25),
	})

	first := m.Open("first", SessionFilter{Account: testAccountAddr}, SessionPage{FromPage: 0, ItemsPerPage: 5}, false)
	second := m.Open("second", SessionFilter{Account: testAccountAddr}, SessionPage{FromPage: 1, ItemsPerPage: 10}, false)

	assert.Equal(t, 0, first.CurrentPage)
	assert.Len(t, first.Items, 5)
	assert.Equal(t, 1, second.CurrentPage)
	assert.Len(t, second.Items, 10)

	got, ok := m.Get("first")
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestSessionCloseAndMissing(t *testing.T) {
	m := newSessionTestManager(nil)

	m.Open("s1", SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	require.Equal(t, 1, m.Len())

	m.Close("s1")
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get("s1")
	assert.False(t, ok)

	// closing twice is a no-op
	m.Close("s1")
}

func TestSessionLRUEviction(t *testing.T) {
	m := newSessionTestManager(nil)

	for i := 0; i < maxOpenSessions; i++ {
		m.Open(fmt.Sprintf("s%d", i), SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	}
	require.Equal(t, maxOpenSessions, m.Len())

	// touching the oldest protects it from the next eviction
	_, ok := m.Get("s0")
	require.True(t, ok)

	m.Open("overflow", SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	assert.Equal(t, maxOpenSessions, m.Len())

	_, ok = m.Get("s0")
	assert.True(t, ok)
	_, ok = m.Get("s1")
	assert.False(t, ok)
}

func TestSessionRefreshRematerializes(t *testing.T) {
	buckets := map[int64][]*domain.SubmittedAccountOp{
		1: sessionFixtureOps(1, 3),
	}
	m := newSessionTestManager(buckets)

	view := m.Open("s1", SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	require.Equal(t, 3, view.ItemsTotal)

	buckets[1] = sessionFixtureOps(1, 7)
	m.refreshAccount(testAccountAddr)

	view, ok := m.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 7, view.ItemsTotal)
}

func TestDashboardSessionMarksBannersSeen(t *testing.T) {
	m := newSessionTestManager(nil)
	var seen []common.Address
	m.onDashboardQuery = func(account common.Address) {
		seen = append(seen, account)
	}

	m.Open("plain", SessionFilter{Account: testAccountAddr}, SessionPage{}, false)
	assert.Empty(t, seen)

	m.Open("dash", SessionFilter{Account: testAccountAddr}, SessionPage{}, true)
	require.Len(t, seen, 1)

	_, ok := m.Get("dash")
	require.True(t, ok)
	assert.Len(t, seen, 2)

	_, ok = m.Get("plain")
	require.True(t, ok)
	assert.Len(t, seen, 2)
}
