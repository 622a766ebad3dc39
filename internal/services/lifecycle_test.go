package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeTimer struct {
	d time.Duration
	f func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// claim marks the timer fired unless it was stopped or already fired.
func (t *fakeTimer) claim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.fired = true
	return true
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ft.timers = append(ft.timers, t)
	return t
}

// fire runs every armed timer, as if its deadline had passed.
func (ft *fakeTimers) fire() {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.timers {
		if t.claim() {
			due = append(due, t)
		}
	}
	ft.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireStale runs every timer, including stopped ones, to emulate a timer that
// had already started when Stop was called.
func (ft *fakeTimers) fireStale() {
	ft.mu.Lock()
	all := append([]*fakeTimer(nil), ft.timers...)
	ft.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (n *recordingNotifier) Notify(ev events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) kinds() []events.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]events.Kind, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.EventKind()
	}
	return out
}

func (n *recordingNotifier) signalEvent(i int) *events.SignalEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[i].(*events.SignalEvent)
}

type failingStore struct{}

var errDown = errors.New("disk on fire")

func (failingStore) LoadCounter(string) (int, error)                   { return 0, errDown }
func (failingStore) SaveCounter(string, int) error                     { return errDown }
func (failingStore) LoadSequence() (int64, error)                      { return 0, errDown }
func (failingStore) SaveSequence(int64) error                          { return errDown }
func (failingStore) LoadHistory(string) ([]domain.SignalRecord, error) { return nil, errDown }
func (failingStore) AppendOrUpdate(string, domain.SignalRecord) error  { return errDown }
func (failingStore) Close() error                                      { return nil }

type harness struct {
	clock  *fakeClock
	timers *fakeTimers
	notes  *recordingNotifier
	store  store.Store
	m      *LifecycleManager
}

func newHarness(t *testing.T, st store.Store) *harness {
	t.Helper()
	if st == nil {
		var err error
		st, err = store.NewBadgerMemoryStore()
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
	}
	h := &harness{
		clock:  &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)},
		timers: &fakeTimers{},
		notes:  &recordingNotifier{},
		store:  st,
	}
	h.m = h.newManager()
	return h
}

func (h *harness) newManager() *LifecycleManager {
	return NewLifecycleManager(LifecycleConfig{
		Window:  3 * time.Minute,
		Symbols: []domain.Symbol{{Code: "BOOM1000", Name: "Boom 1000", Class: domain.SpikeClassUp}},
	}, h.store, h.notes, WithClock(h.clock.Now), WithAfterFunc(h.timers.AfterFunc))
}

func sellSignal(symbol string, price float64) *domain.Signal {
	return &domain.Signal{
		Kind: domain.KindTradeSignal, Symbol: symbol, Direction: domain.DirectionSell,
		EntryPrice: price, StopLoss: price + 15, TakeProfit: price - 30, Spike: 3,
	}
}

func TestLifecycle_OpenAssignsIDAndArmsWindow(t *testing.T) {
	h := newHarness(t, nil)
	snap := h.m.Open(sellSignal("BOOM1000", 103), false)

	assert.Equal(t, int64(1), snap.ID)
	assert.Equal(t, domain.StatusPending, snap.Status)
	assert.Equal(t, h.clock.Now(), snap.CreatedAt)
	require.Len(t, h.timers.timers, 1)
	assert.Equal(t, 3*time.Minute, h.timers.timers[0].d)

	active, ok := h.m.Active("BOOM1000")
	require.True(t, ok)
	assert.Equal(t, int64(1), active.ID)
	assert.Equal(t, 1, h.m.DailyCount())

	require.Equal(t, []events.Kind{events.KindSignalOpened}, h.notes.kinds())
	ev := h.notes.signalEvent(0)
	assert.Equal(t, "Boom 1000", ev.Symbol.DisplayName())
	assert.False(t, ev.AutoTraded)

	seq, err := h.store.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	recs, err := h.store.LoadHistory("2026-10-19")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StatusPending, recs[0].Status)
}

func TestLifecycle_RetriggerFailsPreviousFirst(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.clock.Advance(time.Minute)
	second := h.m.Open(sellSignal("BOOM1000", 110), true)

	require.Equal(t, []events.Kind{events.KindSignalOpened, events.KindSignalFailed, events.KindSignalOpened}, h.notes.kinds())
	failed := h.notes.signalEvent(1)
	assert.Equal(t, int64(1), failed.Signal.ID)
	assert.Equal(t, domain.StatusFailed, failed.Signal.Status)
	assert.Equal(t, second.ID, failed.Signal.SupersededBy)
	assert.True(t, h.notes.signalEvent(2).AutoTraded)

	active, ok := h.m.Active("BOOM1000")
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
	assert.True(t, h.timers.timers[0].isStopped(), "the superseded signal's timer is cancelled")

	recs, err := h.store.LoadHistory("2026-10-19")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.StatusFailed, recs[0].Status)
	assert.Equal(t, int64(2), recs[0].SupersededBy)
}

func TestLifecycle_ExpiryMarksSuccessAndClearsIndex(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.clock.Advance(3 * time.Minute)
	h.timers.fire()

	_, ok := h.m.Active("BOOM1000")
	assert.False(t, ok)
	require.Equal(t, []events.Kind{events.KindSignalOpened, events.KindSignalSucceeded}, h.notes.kinds())
	ev := h.notes.signalEvent(1)
	assert.Equal(t, domain.StatusSuccess, ev.Signal.Status)
	assert.Equal(t, 1, ev.Streak)

	st := h.m.Stats()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Success)
	assert.Equal(t, float64(100), st.SuccessRate())
}

func TestLifecycle_TerminalSignalTransitionsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.m.Open(sellSignal("BOOM1000", 110), false)
	// A stopped timer that fires anyway must not resurrect the failed signal.
	h.timers.fireStale()
	h.timers.fireStale()

	hist := h.m.History()
	require.Len(t, hist, 2)
	assert.Equal(t, domain.StatusFailed, hist[0].Status)
	assert.Equal(t, domain.StatusSuccess, hist[1].Status)

	var succeeded int
	for _, k := range h.notes.kinds() {
		if k == events.KindSignalSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestLifecycle_WinStreakAcrossSymbols(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.m.Open(sellSignal("BOOM1000", 110), false) // fails #1
	h.timers.fire()                               // #2 success
	h.m.Open(sellSignal("BOOM500", 50), false)
	h.timers.fire() // #3 success

	kinds := h.notes.kinds()
	last := h.notes.signalEvent(len(kinds) - 1)
	assert.Equal(t, events.KindSignalSucceeded, last.Kind)
	assert.Equal(t, 2, last.Streak)

	st := h.m.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Success)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.PerSymbol, 2)
	assert.Equal(t, "BOOM1000", st.PerSymbol[0].Symbol)
	assert.Equal(t, 2, st.PerSymbol[0].Total)
}

func TestLifecycle_DayRolloverEmitsSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.timers.fire()
	h.m.Open(sellSignal("BOOM500", 50), false) // still pending at midnight

	h.clock.Advance(12 * time.Hour)
	h.m.CheckRollover()

	kinds := h.notes.kinds()
	require.Equal(t, events.KindDailySummary, kinds[len(kinds)-1])
	h.notes.mu.Lock()
	summary := h.notes.events[len(kinds)-1].(*events.DailySummaryEvent)
	h.notes.mu.Unlock()
	assert.Equal(t, "2026-10-19", summary.Stats.Day)
	assert.Equal(t, 2, summary.Stats.Total)
	assert.Equal(t, 1, summary.Stats.Success)
	assert.Equal(t, 1, summary.Stats.Pending)

	assert.Equal(t, 0, h.m.DailyCount())
	st := h.m.Stats()
	assert.Equal(t, "2026-10-20", st.Day)
	assert.Equal(t, 1, st.Pending, "pending signals carry over")

	// A second check on the same day is a no-op.
	h.m.CheckRollover()
	assert.Len(t, h.notes.kinds(), len(kinds))

	next := h.m.Open(sellSignal("BOOM1000", 120), false)
	assert.Equal(t, int64(3), next.ID, "ids keep increasing across days")
	assert.Equal(t, 1, h.m.DailyCount())
}

func TestLifecycle_RestoreRearmsPending(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.m.Open(sellSignal("BOOM500", 50), false)
	h.timers.fire()
	h.clock.Advance(time.Minute)
	h.m.Open(sellSignal("BOOM1000", 130), false)
	h.m.Stop()

	// Restart one minute later with a fresh manager over the same store.
	h.clock.Advance(time.Minute)
	h.timers = &fakeTimers{}
	m2 := h.newManager()
	require.NoError(t, m2.Restore())

	assert.Equal(t, 3, m2.DailyCount())
	active, ok := m2.Active("BOOM1000")
	require.True(t, ok)
	assert.Equal(t, int64(3), active.ID)
	require.Len(t, h.timers.timers, 1)
	assert.Equal(t, 2*time.Minute, h.timers.timers[0].d, "only the rest of the window is waited")

	next := m2.Open(sellSignal("BOOM500", 60), false)
	assert.Equal(t, int64(4), next.ID)
}

func TestLifecycle_StoreFailuresDoNotBlock(t *testing.T) {
	h := newHarness(t, failingStore{})
	assert.ErrorIs(t, h.m.Restore(), errDown)

	snap := h.m.Open(sellSignal("BOOM1000", 103), false)
	assert.Equal(t, int64(1), snap.ID)
	h.timers.fire()

	assert.Equal(t, []events.Kind{events.KindSignalOpened, events.KindSignalSucceeded}, h.notes.kinds())
	assert.Equal(t, 1, h.m.Stats().Success)
}

// flakyStore fails selected reads and passes everything else through.
type flakyStore struct {
	store.Store
	failSequence bool
	failHistory  bool
}

func (s *flakyStore) LoadSequence() (int64, error) {
	if s.failSequence {
		return 0, errDown
	}
	return s.Store.LoadSequence()
}

func (s *flakyStore) LoadHistory(day string) ([]domain.SignalRecord, error) {
	if s.failHistory {
		return nil, errDown
	}
	return s.Store.LoadHistory(day)
}

func TestLifecycle_RestoreWithoutSequenceKeepsIDsUnique(t *testing.T) {
	h := newHarness(t, nil)
	mem := h.store
	first := h.m.Open(sellSignal("BOOM1000", 103), false)
	require.Equal(t, int64(1), first.ID)
	h.m.Stop()

	flaky := &flakyStore{Store: mem, failSequence: true}
	h.store = flaky
	h.timers = &fakeTimers{}
	m2 := h.newManager()
	assert.ErrorIs(t, m2.Restore(), errDown)

	second := m2.Open(sellSignal("CRASH500", 80), false)
	assert.Equal(t, int64(2), second.ID, "ids continue after today's stored records")

	recs, err := mem.LoadHistory("2026-10-19")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "BOOM1000", recs[0].Symbol)
	assert.Equal(t, "CRASH500", recs[1].Symbol)
	seq, err := mem.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "an unread sequence is not overwritten")

	flaky.failSequence = false
	third := m2.Open(sellSignal("BOOM500", 50), false)
	assert.Equal(t, int64(3), third.ID)
	seq, err = mem.LoadSequence()
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)
}

func TestLifecycle_UnknownIDsAreNotPersisted(t *testing.T) {
	h := newHarness(t, nil)
	mem := h.store
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.m.Stop()

	h.store = &flakyStore{Store: mem, failSequence: true, failHistory: true}
	h.timers = &fakeTimers{}
	m2 := h.newManager()
	assert.ErrorIs(t, m2.Restore(), errDown)

	snap := m2.Open(sellSignal("CRASH500", 80), false)
	assert.Equal(t, int64(1), snap.ID)
	h.timers.fire()
	assert.Equal(t, 1, m2.Stats().Success, "in-memory state still advances")

	recs, err := mem.LoadHistory("2026-10-19")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "BOOM1000", recs[0].Symbol)
	assert.Equal(t, domain.StatusPending, recs[0].Status)
}

func TestLifecycle_CarriedSignalUpdatesOpeningDay(t *testing.T) {
	h := newHarness(t, nil)
	h.m.Open(sellSignal("BOOM500", 50), false)
	h.clock.Advance(12 * time.Hour)
	h.m.CheckRollover()
	h.timers.fire()

	for _, day := range []string{"2026-10-19", "2026-10-20"} {
		recs, err := h.store.LoadHistory(day)
		require.NoError(t, err)
		require.Len(t, recs, 1, day)
		assert.Equal(t, domain.StatusSuccess, recs[0].Status, day)
	}
}

func TestLifecycle_RestoreAcrossMidnight(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Advance(11*time.Hour + 59*time.Minute)
	h.m.Open(sellSignal("BOOM1000", 103), false)
	h.m.Stop()

	h.clock.Advance(2 * time.Minute)
	h.timers = &fakeTimers{}
	m2 := h.newManager()
	require.NoError(t, m2.Restore())

	active, ok := m2.Active("BOOM1000")
	require.True(t, ok, "yesterday's pending signal is re-armed")
	assert.Equal(t, int64(1), active.ID)
	assert.Equal(t, 0, m2.DailyCount())
	require.Len(t, h.timers.timers, 1)
	assert.Equal(t, time.Minute, h.timers.timers[0].d)

	h.timers.fire()
	st := m2.Stats()
	assert.Equal(t, "2026-10-20", st.Day)
	assert.Equal(t, 1, st.Success)
	for _, day := range []string{"2026-10-19", "2026-10-20"} {
		recs, err := h.store.LoadHistory(day)
		require.NoError(t, err)
		require.Len(t, recs, 1, day)
		assert.Equal(t, domain.StatusSuccess, recs[0].Status, day)
	}

	next := m2.Open(sellSignal("BOOM500", 50), false)
	assert.Equal(t, int64(2), next.ID)
}
