package service

import (
	"container/list"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ambirelabs/walletcore/src/domain"
)

// maxOpenSessions caps the materialized-view registry. Consumers must close
// sessions they opened; past the cap the least recently used one is evicted
// so a misbehaving caller cannot grow the registry without bound.
const maxOpenSessions = 64

const defaultItemsPerPage = 10

// SessionFilter scopes one view to an account, optionally to one chain.
type SessionFilter struct {
	Account common.Address `json:"account"`
	ChainID *int64         `json:"chainId,omitempty"`
}

// SessionPage selects the window of the filtered, newest-first history.
type SessionPage struct {
	FromPage     int `json:"fromPage"`
	ItemsPerPage int `json:"itemsPerPage"`
}

// SessionView is the materialized result of one session. It is recomputed
// whenever the underlying account history changes.
type SessionView struct {
	Items       []*domain.SubmittedAccountOp `json:"items"`
	ItemsTotal  int                          `json:"itemsTotal"`
	CurrentPage int                          `json:"currentPage"`
	MaxPages    int                          `json:"maxPages"`
}

type session struct {
	id        string
	filter    SessionFilter
	page      SessionPage
	dashboard bool
	view      SessionView
	elem      *list.Element
}

// SessionManager keeps one independent materialized view per session id.
// Two sessions over the same account filter and paginate independently.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session
	lru      *list.List // front is most recently used

	snapshot         func(common.Address) map[int64][]*domain.SubmittedAccountOp
	onDashboardQuery func(common.Address)
}

func newSessionManager(snapshot func(common.Address) map[int64][]*domain.SubmittedAccountOp) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*session),
		lru:      list.New(),
		snapshot: snapshot,
	}
}

// Open registers (or reconfigures) a session and returns its materialized
// view. Dashboard sessions additionally mark the account's banners as seen
// on every query.
func (m *SessionManager) Open(id string, filter SessionFilter, page SessionPage, dashboard bool) SessionView {
	if page.ItemsPerPage <= 0 {
		page.ItemsPerPage = defaultItemsPerPage
	}
	if page.FromPage < 0 {
		page.FromPage = 0
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{id: id}
		m.sessions[id] = s
		s.elem = m.lru.PushFront(s)
		for m.lru.Len() > maxOpenSessions {
			oldest := m.lru.Back()
			evicted := oldest.Value.(*session)
			m.lru.Remove(oldest)
			delete(m.sessions, evicted.id)
		}
	} else {
		m.lru.MoveToFront(s.elem)
	}
	s.filter = filter
	s.page = page
	s.dashboard = dashboard
	s.view = m.materialize(s)
	view := s.view
	account := s.filter.Account
	m.mu.Unlock()

	m.dashboardTouch(dashboard, account)
	return view
}

// Close releases a session's materialized view.
func (m *SessionManager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	m.lru.Remove(s.elem)
	delete(m.sessions, id)
}

// Get returns the current view of an open session.
func (m *SessionManager) Get(id string) (SessionView, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return SessionView{}, false
	}
	m.lru.MoveToFront(s.elem)
	view := s.view
	dashboard := s.dashboard
	account := s.filter.Account
	m.mu.Unlock()

	m.dashboardTouch(dashboard, account)
	return view, true
}

// Len reports the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// dashboardTouch runs outside m.mu; callers capture the session fields under
// the lock so a concurrent Open on the same id cannot race them.
func (m *SessionManager) dashboardTouch(dashboard bool, account common.Address) {
	if dashboard && m.onDashboardQuery != nil {
		m.onDashboardQuery(account)
	}
}

// refreshAccount rematerializes all sessions scoped to the account.
func (m *SessionManager) refreshAccount(account common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.filter.Account == account {
			s.view = m.materialize(s)
		}
	}
}

// materialize flattens the account's chain buckets through the session's
// filter, sorts newest first and cuts the requested page.
func (m *SessionManager) materialize(s *session) SessionView {
	buckets := m.snapshot(s.filter.Account)

	var items []*domain.SubmittedAccountOp
	for chainID, ops := range buckets {
		if s.filter.ChainID != nil && chainID != *s.filter.ChainID {
			continue
		}
		items = append(items, ops...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})

	total := len(items)
	maxPages := (total + s.page.ItemsPerPage - 1) / s.page.ItemsPerPage
	start := s.page.FromPage * s.page.ItemsPerPage
	if start > total {
		start = total
	}
	end := start + s.page.ItemsPerPage
	if end > total {
		end = total
	}

	return SessionView{
		Items:       items[start:end],
		ItemsTotal:  total,
		CurrentPage: s.page.FromPage,
		MaxPages:    maxPages,
	}
}
