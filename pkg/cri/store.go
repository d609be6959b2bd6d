package cri

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Renator13/botnode-public/pkg/observability"
)

const (
	DefaultHistoryLimit     = 10
	DefaultCalibrationLimit = 20
	MaxPageLimit            = 100
)

// Update describes one applied event. Listeners receive it while the node is
// still locked, so updates for a node arrive in history order.
type Update struct {
	Event  Event
	Result UpdateResult
	Entry  HistoryEntry
}

// Listener observes applied events. It runs inside the node's critical
// section and must not call back into the Store.
type Listener func(ctx context.Context, u Update)

// Record is a persisted event, replayed by Restore.
type Record struct {
	Seq   int64     `json:"seq"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

type node struct {
	mu  sync.Mutex
	rep NodeReputation
}

// Store holds every node's reputation. The node map is guarded by an
// RWMutex; each node has its own mutex that serialises read-modify-write and
// history appends. A goroutine holding a node lock never takes the map lock.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*node
	order []string

	listenerMu sync.RWMutex
	listeners  []Listener

	now    func() time.Time
	obs    *observability.Provider
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithObservability records a span per applied event.
func WithObservability(p *observability.Provider) Option {
	return func(s *Store) {
		if p != nil {
			s.obs = p
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		nodes:  make(map[string]*node),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		obs:    observability.Disabled(),
		logger: slog.Default().With("component", "cri"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers l for every subsequently applied event.
func (s *Store) Subscribe(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(ctx context.Context, u Update) {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	for _, l := range s.listeners {
		l(ctx, u)
	}
}

// getOrCreate returns the node, creating it with the genesis score.
func (s *Store) getOrCreate(nodeID string, now time.Time) *node {
	s.mu.RLock()
	n, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if ok {
		return n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[nodeID]; ok {
		return n
	}
	n = &node{rep: genesis(nodeID, now)}
	s.nodes[nodeID] = n
	s.order = append(s.order, nodeID)
	return n
}

func (s *Store) lookup(nodeID string) (*node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	return n, ok
}

// all returns the nodes in creation order.
func (s *Store) all() []*node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id])
	}
	return out
}

// Apply applies one event to its node, creating the node on first reference.
func (s *Store) Apply(ctx context.Context, e Event) (result UpdateResult, err error) {
	if err := e.Validate(); err != nil {
		return UpdateResult{}, err
	}
	ctx, finish := s.obs.TrackOperation(ctx, "cri.apply", observability.ReputationOperation(e.NodeID, e.SkillID, string(e.Kind))...)
	defer func() { finish(err) }()

	u := s.apply(ctx, e, s.now())
	s.obs.RecordScoreChange(ctx, string(e.Kind), u.Result.Change)
	s.logger.DebugContext(ctx, "event applied",
		"node_id", e.NodeID, "kind", e.Kind, "old_score", u.Result.OldScore, "new_score", u.Result.NewScore)
	return u.Result, nil
}

func (s *Store) apply(ctx context.Context, e Event, at time.Time) Update {
	n := s.getOrCreate(e.NodeID, at)
	n.mu.Lock()
	defer n.mu.Unlock()

	rep := &n.rep
	old := Round4(rep.CurrentScore)
	newScore, change := Score(old, e)

	rep.CurrentScore = newScore
	rep.LastActive = at
	rep.addCapability(e.SkillID)

	if countsAsTransaction(e) {
		rep.TotalTransactions++
		if countsAsSuccess(e) {
			rep.SuccessfulTransactions++
		} else {
			rep.FailedTransactions++
		}
		rep.recomputeSuccessRate()
	} else {
		rep.CalibrationScores[e.SkillID] = *e.TestScore
	}

	entry := HistoryEntry{
		Timestamp:     at,
		OldScore:      old,
		NewScore:      newScore,
		Change:        change,
		Reason:        Reason(e),
		TransactionID: e.TransactionID,
		Kind:          e.Kind,
	}
	rep.History = append(rep.History, entry)

	u := Update{
		Event: e,
		Entry: entry,
		Result: UpdateResult{
			NodeID:                 rep.NodeID,
			Kind:                   e.Kind,
			OldScore:               old,
			NewScore:               newScore,
			Change:                 change,
			TotalTransactions:      rep.TotalTransactions,
			SuccessfulTransactions: rep.SuccessfulTransactions,
			FailedTransactions:     rep.FailedTransactions,
			SuccessRate:            Round4(rep.SuccessRate),
		},
	}
	s.notify(ctx, u)
	return u
}

// Restore replays persisted events in order. It must run before the store
// serves traffic; listeners are not notified.
func (s *Store) Restore(records []Record) int {
	s.listenerMu.Lock()
	saved := s.listeners
	s.listeners = nil
	s.listenerMu.Unlock()
	defer func() {
		s.listenerMu.Lock()
		s.listeners = saved
		s.listenerMu.Unlock()
	}()

	applied := 0
	for _, r := range records {
		if err := r.Event.Validate(); err != nil {
			s.logger.Warn("skipping invalid journal record", "seq", r.Seq, "error", err)
			continue
		}
		s.apply(context.Background(), r.Event, r.At.UTC())
		applied++
	}
	return applied
}

// Get returns a snapshot of nodeID. An unknown node yields the genesis
// snapshot and is not created.
func (s *Store) Get(nodeID string) Snapshot {
	n, ok := s.lookup(nodeID)
	if !ok {
		return genesisSnapshot(nodeID)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rep.snapshot()
}

// CurrentScore returns the node's score, or the genesis score when unknown.
func (s *Store) CurrentScore(nodeID string) float64 {
	n, ok := s.lookup(nodeID)
	if !ok {
		return GenesisScore
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rep.CurrentScore
}

// Len reports the number of known nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ClampLimit bounds a page size to [1, MaxPageLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// History returns up to limit entries of nodeID, most recent first.
func (s *Store) History(nodeID string, limit int) HistoryPage {
	limit = ClampLimit(limit)
	page := HistoryPage{NodeID: nodeID, History: []HistoryEntry{}}

	n, ok := s.lookup(nodeID)
	if !ok {
		return page
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	h := n.rep.History
	page.TotalEntries = len(h)
	for i := len(h) - 1; i >= 0 && len(page.History) < limit; i-- {
		page.History = append(page.History, h[i])
	}
	return page
}

// CalibrationTests lists calibration entries across all nodes, nodes in
// creation order and each node's entries most recent first.
func (s *Store) CalibrationTests(limit int) CalibrationPage {
	limit = ClampLimit(limit)
	page := CalibrationPage{Tests: []CalibrationTest{}}

	for _, n := range s.all() {
		n.mu.Lock()
		h := n.rep.History
		for i := len(h) - 1; i >= 0; i-- {
			if h[i].Kind != KindCalibration {
				continue
			}
			page.Total++
			if len(page.Tests) < limit {
				page.Tests = append(page.Tests, CalibrationTest{HistoryEntry: h[i], NodeID: n.rep.NodeID})
			}
		}
		n.mu.Unlock()
	}
	return page
}

// CalibrationCount reports the number of calibration entries across nodes.
func (s *Store) CalibrationCount() int {
	return s.CalibrationTests(1).Total
}

// Stats computes the aggregate view. active_today compares UTC dates.
func (s *Store) Stats() StatsView {
	var v StatsView
	today := s.now().UTC().Format(time.DateOnly)

	var sum float64
	for _, n := range s.all() {
		n.mu.Lock()
		v.TotalNodes++
		sum += n.rep.CurrentScore
		v.TotalTransactions += n.rep.TotalTransactions
		if n.rep.LastActive.UTC().Format(time.DateOnly) == today {
			v.ActiveToday++
		}
		v.NodesByScore.add(n.rep.CurrentScore)
		n.mu.Unlock()
	}
	if v.TotalNodes > 0 {
		v.AverageCRI = math.Round(sum/float64(v.TotalNodes)*100) / 100
	}
	return v
}

// Leaderboard ranks nodes by score, highest first, node id breaking ties.
func (s *Store) Leaderboard(limit int) []LeaderboardEntry {
	limit = ClampLimit(limit)

	entries := make([]LeaderboardEntry, 0, s.Len())
	for _, n := range s.all() {
		n.mu.Lock()
		entries = append(entries, LeaderboardEntry{
			NodeID:            n.rep.NodeID,
			CRIScore:          Round4(n.rep.CurrentScore),
			Band:              Band(n.rep.CurrentScore),
			TotalTransactions: n.rep.TotalTransactions,
			SuccessRate:       Round4(n.rep.SuccessRate),
		})
		n.mu.Unlock()
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CRIScore != entries[j].CRIScore {
			return entries[i].CRIScore > entries[j].CRIScore
		}
		return entries[i].NodeID < entries[j].NodeID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// insert adds a fully-formed node; used by seeding. It reports false when
// the node already exists.
func (s *Store) insert(rep NodeReputation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[rep.NodeID]; ok {
		return false
	}
	s.nodes[rep.NodeID] = &node{rep: rep}
	s.order = append(s.order, rep.NodeID)
	return true
}
