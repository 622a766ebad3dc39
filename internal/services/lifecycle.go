package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/metrics"
	"github.com/betbot/spikebot/internal/store"
)

var lifecycleLog = logrus.WithField("component", "lifecycle")

const (
	DefaultObservationWindow = 180 * time.Second
	dayLayout                = "2006-01-02"
	rolloverCheckInterval    = 30 * time.Second
)

// Notifier receives lifecycle events. It must not block.
type Notifier interface {
	Notify(ev events.Event)
}

// Timer is the subset of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type LifecycleConfig struct {
	Window   time.Duration
	Location *time.Location
	Symbols  []domain.Symbol
}

// LifecycleManager owns every trade signal from creation to its terminal
// status. All state lives behind mu; events are emitted while holding it so
// they reach the notifier in transition order.
type LifecycleManager struct {
	window  time.Duration
	loc     *time.Location
	symbols map[string]domain.Symbol

	store     store.Store
	notifier  Notifier
	now       func() time.Time
	afterFunc AfterFunc

	mu      sync.Mutex
	day     string
	counter int
	seq     int64
	active  map[string]*domain.Signal // symbol -> pending signal
	pending map[int64]*domain.Signal
	timers  map[int64]Timer
	history []*domain.Signal // current day, oldest first

	// seqLoaded is set once the stored sequence has been read; until then it
	// is never written back. historyLoaded means today's stored ids are known.
	seqLoaded     bool
	historyLoaded bool
	// volatile ids were issued while neither was true and might collide with
	// stored records, so they are never persisted.
	volatile map[int64]struct{}
	// origin is the day a carried-over pending signal was opened on.
	origin map[int64]string
}

// LifecycleOption customises a manager; used by tests to control time.
type LifecycleOption func(*LifecycleManager)

func WithClock(now func() time.Time) LifecycleOption {
	return func(m *LifecycleManager) { m.now = now }
}

func WithAfterFunc(f AfterFunc) LifecycleOption {
	return func(m *LifecycleManager) { m.afterFunc = f }
}

func NewLifecycleManager(cfg LifecycleConfig, st store.Store, notifier Notifier, opts ...LifecycleOption) *LifecycleManager {
	if cfg.Window <= 0 {
		cfg.Window = DefaultObservationWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	m := &LifecycleManager{
		window:    cfg.Window,
		loc:       cfg.Location,
		symbols:   make(map[string]domain.Symbol, len(cfg.Symbols)),
		store:     st,
		notifier:  notifier,
		now:       time.Now,
		afterFunc: realAfterFunc,
		active:    make(map[string]*domain.Signal),
		pending:   make(map[int64]*domain.Signal),
		timers:    make(map[int64]Timer),
		volatile:  make(map[int64]struct{}),
		origin:    make(map[int64]string),
	}
	for _, s := range cfg.Symbols {
		m.symbols[s.Code] = s
	}
	for _, o := range opts {
		o(m)
	}
	m.day = m.dayOf(m.now())
	return m
}

func (m *LifecycleManager) dayOf(t time.Time) string {
	return t.In(m.loc).Format(dayLayout)
}

// Restore loads the id sequence, today's counter and history plus the signals
// still pending from yesterday, and re-arms every pending signal. Store
// failures are logged and the first one is returned; whatever did load is kept.
func (m *LifecycleManager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.day = m.dayOf(now)
	var firstErr error
	fail := func(op string, err error) {
		m.storeFailed(op, err)
		if firstErr == nil {
			firstErr = err
		}
	}

	if seq, err := m.store.LoadSequence(); err != nil {
		fail("load_sequence", err)
	} else {
		m.seq = max(m.seq, seq)
		m.seqLoaded = true
	}
	recs, err := m.store.LoadHistory(m.day)
	if err != nil {
		fail("load_history", err)
	} else {
		m.historyLoaded = true
	}
	counter, err := m.store.LoadCounter(m.day)
	if err != nil {
		fail("load_counter", err)
		for _, rec := range recs {
			if m.dayOf(rec.CreatedAt) == m.day {
				counter++
			}
		}
	}
	m.counter = counter

	// Pending signals from yesterday are carried into today, as a rollover
	// while running would have done.
	prevDay := m.dayOf(now.In(m.loc).AddDate(0, 0, -1))
	prevRecs, err := m.store.LoadHistory(prevDay)
	if err != nil {
		fail("load_history", err)
	}
	today := make(map[int64]bool, len(recs))
	for _, rec := range recs {
		today[rec.ID] = true
	}
	for _, rec := range prevRecs {
		if rec.Status != domain.StatusPending {
			continue
		}
		m.origin[rec.ID] = prevDay
		if !today[rec.ID] {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	m.history = m.history[:0]
	rearmed := 0
	for _, rec := range recs {
		sig := rec.Signal()
		m.seq = max(m.seq, sig.ID)
		m.history = append(m.history, sig)
		if sig.Status != domain.StatusPending {
			if _, ok := m.origin[sig.ID]; ok {
				m.persistSignal(sig)
			}
			continue
		}
		if !today[sig.ID] {
			m.persistSignal(sig)
		}
		// Records are ordered by id, so a second pending signal on a symbol
		// supersedes the first exactly as Open would have.
		if prev, ok := m.active[sig.Symbol]; ok {
			prev.Status = domain.StatusFailed
			prev.ResolvedAt = now
			prev.SupersededBy = sig.ID
			m.disarm(prev.ID)
			delete(m.pending, prev.ID)
			m.persistSignal(prev)
			rearmed--
		}
		m.active[sig.Symbol] = sig
		m.pending[sig.ID] = sig
		remaining := sig.CreatedAt.Add(m.window).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		m.arm(sig.ID, remaining)
		rearmed++
	}
	lifecycleLog.Infof("restored day %s: %d signals, %d pending, sequence at %d", m.day, len(recs), rearmed, m.seq)
	return firstErr
}

// ensureSequence retries a sequence load that has not succeeded yet.
func (m *LifecycleManager) ensureSequence() {
	if m.seqLoaded {
		return
	}
	seq, err := m.store.LoadSequence()
	if err != nil {
		m.storeFailed("load_sequence", err)
		return
	}
	m.seq = max(m.seq, seq)
	m.seqLoaded = true
}

// Run performs the day rollover even when no signals arrive. It returns when ctx is done.
func (m *LifecycleManager) Run(ctx context.Context) {
	t := time.NewTicker(rolloverCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckRollover()
		}
	}
}

// CheckRollover closes the day if the clock has moved past it.
func (m *LifecycleManager) CheckRollover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(m.now())
}

// rolloverLocked emits the summary for the ended day and starts a fresh one.
// Pending signals carry over into the new day's history.
func (m *LifecycleManager) rolloverLocked(now time.Time) {
	today := m.dayOf(now)
	if today == m.day {
		return
	}
	stats := domain.ComputeStats(m.day, m.history)
	lifecycleLog.Infof("day %s closed: %d signals, %d success, %d failed", m.day, stats.Total, stats.Success, stats.Failed)
	m.emit(&events.DailySummaryEvent{Stats: stats, Timestamp: now})

	closed := m.day
	m.day = today
	m.counter = 0
	carried := make([]*domain.Signal, 0, len(m.pending))
	for _, sig := range m.history {
		if sig.Status == domain.StatusPending {
			carried = append(carried, sig)
			if _, ok := m.origin[sig.ID]; !ok {
				m.origin[sig.ID] = closed
			}
		}
	}
	m.history = carried
	for _, sig := range carried {
		m.persistSignal(sig)
	}
	m.persistCounter()
}

// Open registers a new trade signal. A pending signal on the same symbol is
// failed first and references the new id. The returned value is a snapshot.
func (m *LifecycleManager) Open(sig *domain.Signal, autoTraded bool) domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rolloverLocked(now)

	m.ensureSequence()
	m.seq++
	id := m.seq
	if !m.seqLoaded && !m.historyLoaded {
		m.volatile[id] = struct{}{}
		lifecycleLog.Warnf("signal #%d kept in memory only: stored ids unknown", id)
	}

	if prev, ok := m.active[sig.Symbol]; ok && prev.Status == domain.StatusPending {
		prev.Status = domain.StatusFailed
		prev.ResolvedAt = now
		prev.SupersededBy = id
		m.disarm(prev.ID)
		delete(m.pending, prev.ID)
		delete(m.active, prev.Symbol)
		m.persistSignal(prev)
		metrics.ObserveTransition(prev.Symbol, string(domain.StatusFailed))
		lifecycleLog.Infof("signal #%d on %s failed: re-triggered by #%d", prev.ID, prev.Symbol, id)
		m.emit(&events.SignalEvent{
			Kind:      events.KindSignalFailed,
			Signal:    *prev,
			Symbol:    m.symbols[prev.Symbol],
			Timestamp: now,
		})
	}

	sig.ID = id
	sig.Kind = domain.KindTradeSignal
	sig.Status = domain.StatusPending
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	m.active[sig.Symbol] = sig
	m.pending[id] = sig
	m.history = append(m.history, sig)
	m.counter++

	if m.seqLoaded {
		if err := m.store.SaveSequence(m.seq); err != nil {
			m.storeFailed("save_sequence", err)
		}
	}
	m.persistCounter()
	m.persistSignal(sig)
	m.arm(id, m.window)

	metrics.ObserveTransition(sig.Symbol, string(domain.StatusPending))
	lifecycleLog.Infof("signal %s opened (today #%d)", sig.String(), m.counter)
	snap := *sig
	m.emit(&events.SignalEvent{
		Kind:       events.KindSignalOpened,
		Signal:     snap,
		Symbol:     m.symbols[sig.Symbol],
		AutoTraded: autoTraded,
		Timestamp:  now,
	})
	return snap
}

func (m *LifecycleManager) arm(id int64, d time.Duration) {
	m.timers[id] = m.afterFunc(d, func() { m.expire(id) })
}

func (m *LifecycleManager) disarm(id int64) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire runs when the observation window of id closes. A signal that already
// reached a terminal status is left alone.
func (m *LifecycleManager) expire(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timers, id)
	sig, ok := m.pending[id]
	if !ok || sig.Status.IsTerminal() {
		return
	}
	now := m.now()
	m.rolloverLocked(now)

	sig.Status = domain.StatusSuccess
	sig.ResolvedAt = now
	delete(m.pending, id)
	if cur, ok := m.active[sig.Symbol]; ok && cur.ID == id {
		delete(m.active, sig.Symbol)
	}
	m.persistSignal(sig)
	streak := domain.WinStreak(m.history)

	metrics.ObserveTransition(sig.Symbol, string(domain.StatusSuccess))
	lifecycleLog.Infof("signal #%d on %s succeeded, streak %d", id, sig.Symbol, streak)
	m.emit(&events.SignalEvent{
		Kind:      events.KindSignalSucceeded,
		Signal:    *sig,
		Symbol:    m.symbols[sig.Symbol],
		Streak:    streak,
		Timestamp: now,
	})
}

func (m *LifecycleManager) emit(ev events.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ev)
	}
}

// persistSignal writes sig under the current day and, for a carried-over
// signal, under the day it was opened on as well.
func (m *LifecycleManager) persistSignal(sig *domain.Signal) {
	if _, ok := m.volatile[sig.ID]; ok {
		return
	}
	rec := sig.Record()
	if err := m.store.AppendOrUpdate(m.day, rec); err != nil {
		m.storeFailed("append_history", err)
	}
	if day, ok := m.origin[sig.ID]; ok {
		if day != m.day {
			if err := m.store.AppendOrUpdate(day, rec); err != nil {
				m.storeFailed("append_history", err)
			}
		}
		if sig.Status.IsTerminal() {
			delete(m.origin, sig.ID)
		}
	}
}

func (m *LifecycleManager) persistCounter() {
	if err := m.store.SaveCounter(m.day, m.counter); err != nil {
		m.storeFailed("save_counter", err)
	}
}

func (m *LifecycleManager) storeFailed(op string, err error) {
	metrics.ObserveStoreError(op)
	lifecycleLog.WithError(err).Warnf("store %s failed; continuing with in-memory state", op)
}

// Stop cancels every pending observation timer. Pending signals stay
// pending in the store and are re-armed by the next Restore.
func (m *LifecycleManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.timers {
		m.disarm(id)
	}
}

// Stats summarises the current day.
func (m *LifecycleManager) Stats() domain.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ComputeStats(m.day, m.history)
}

// DailyCount is the number of trade signals opened today.
func (m *LifecycleManager) DailyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

// History returns snapshots of today's signals, oldest first.
func (m *LifecycleManager) History() []domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Signal, len(m.history))
	for i, s := range m.history {
		out[i] = *s
	}
	return out
}

// Active returns the pending signal on symbol, if any.
func (m *LifecycleManager) Active(symbol string) (domain.Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.active[symbol]; ok {
		return *s, true
	}
	return domain.Signal{}, false
}

// ActiveCount is the number of symbols with a pending signal.
func (m *LifecycleManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
