package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/infrastructure/deriv"
	"github.com/betbot/spikebot/internal/marketstate"
	"github.com/betbot/spikebot/internal/services"
	"github.com/betbot/spikebot/internal/store"
	"github.com/betbot/spikebot/internal/strategies/spike"
)

var symbols = []domain.Symbol{
	{Code: "BOOM1000", Name: "Boom 1000", Class: domain.SpikeClassUp},
	{Code: "CRASH500", Name: "Crash 500", Class: domain.SpikeClassDown},
	{Code: "OTC_NDX", Name: "US Tech 100", Class: domain.SpikeClassNone},
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Notify(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, ev := range r.events {
		out = append(out, ev.EventKind())
	}
	return out
}

type fakeExecutor struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (f *fakeExecutor) Execute(_ context.Context, sig domain.Signal) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return "ref"
}

type fixture struct {
	eng   *Engine
	buf   *marketstate.Buffer
	notes *recorder
	exec  *fakeExecutor
	t0    time.Time
}

func newFixture(t *testing.T, withExecutor bool) *fixture {
	t.Helper()
	st, err := store.NewBadgerMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	notes := &recorder{}
	lc := services.NewLifecycleManager(services.LifecycleConfig{Symbols: symbols}, st, notes)
	t.Cleanup(lc.Stop)

	f := &fixture{
		buf:   marketstate.NewBuffer(100),
		notes: notes,
		exec:  &fakeExecutor{},
		t0:    time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	opts := Options{
		Symbols:   symbols,
		Detector:  spike.NewDetector(spike.DefaultConfig(), symbols),
		Buffer:    f.buf,
		Lifecycle: lc,
		Notifier:  notes,
		Running:   true,
	}
	if withExecutor {
		opts.Executor = f.exec
	}
	f.eng = New(opts)
	return f
}

// feed does what the session does for each tick: buffer, then observe.
func (f *fixture) feed(t *testing.T, symbol string, offset time.Duration, prices ...float64) {
	t.Helper()
	for i, p := range prices {
		f.buf.Append(symbol, p)
		tick := domain.Tick{Symbol: symbol, Price: p, ReceivedAt: f.t0.Add(offset + time.Duration(i)*time.Second)}
		require.NoError(t, f.eng.OnTick(context.Background(), tick))
	}
}

func TestEngine_SpikeOpensTradeSignal(t *testing.T) {
	f := newFixture(t, false)
	f.feed(t, "BOOM1000", 0, 100, 100, 103)

	require.Equal(t, []events.Kind{events.KindSignalOpened}, f.notes.kinds())
	ev := f.notes.events[0].(*events.SignalEvent)
	assert.Equal(t, domain.DirectionSell, ev.Signal.Direction)
	assert.Equal(t, 103.0, ev.Signal.EntryPrice)
	assert.Equal(t, 118.0, ev.Signal.StopLoss)
	assert.Equal(t, 73.0, ev.Signal.TakeProfit)
	assert.Equal(t, int64(1), ev.Signal.ID)
	assert.False(t, ev.AutoTraded)

	active, ok := f.eng.Lifecycle().Active("BOOM1000")
	require.True(t, ok)
	assert.Equal(t, int64(1), active.ID)
}

func TestEngine_StoppedEngineOnlyBuffers(t *testing.T) {
	f := newFixture(t, false)
	f.eng.Stop()
	assert.False(t, f.eng.Running())
	f.feed(t, "BOOM1000", 0, 100, 100, 103)

	assert.Empty(t, f.notes.kinds())
	assert.Equal(t, 3, f.buf.Len("BOOM1000"))

	f.eng.Start()
	f.feed(t, "BOOM1000", 10*time.Second, 104, 108)
	assert.Equal(t, []events.Kind{events.KindSignalOpened}, f.notes.kinds())
}

func TestEngine_EarlyWarningGoesToNotifierOnly(t *testing.T) {
	f := newFixture(t, false)
	// Rising, accelerating, but no single step above the spike threshold.
	f.feed(t, "BOOM1000", 0, 100, 100.1, 100.3, 100.4, 100.9)

	require.Equal(t, []events.Kind{events.KindEarlyWarning}, f.notes.kinds())
	assert.Equal(t, 0, f.eng.Lifecycle().DailyCount())
}

func TestEngine_AutoTradeExecutesOpenedSignal(t *testing.T) {
	f := newFixture(t, true)
	assert.True(t, f.eng.SetAutoTrade(true))
	f.feed(t, "CRASH500", 0, 200, 200, 197)

	require.Len(t, f.exec.signals, 1)
	assert.Equal(t, int64(1), f.exec.signals[0].ID)
	assert.Equal(t, domain.DirectionBuy, f.exec.signals[0].Direction)
	ev := f.notes.events[0].(*events.SignalEvent)
	assert.True(t, ev.AutoTraded)
}

func TestEngine_AutoTradeNeedsExecutor(t *testing.T) {
	f := newFixture(t, false)
	assert.False(t, f.eng.SetAutoTrade(true))
	assert.False(t, f.eng.AutoTrade())

	f.eng.SetExecutor(f.exec)
	assert.True(t, f.eng.SetAutoTrade(true))
	f.eng.SetExecutor(nil)
	assert.False(t, f.eng.AutoTrade())
}

type sessionStub struct{}

func (sessionStub) Status() deriv.Status {
	return deriv.Status{Connected: true, Authorized: true, Symbols: []string{"BOOM1000"}}
}

func TestEngine_Status(t *testing.T) {
	f := newFixture(t, false)
	f.eng.AttachSession(sessionStub{})
	f.feed(t, "BOOM1000", 0, 100, 100, 103)

	st := f.eng.Status()
	assert.True(t, st.Running)
	assert.False(t, st.AutoTrade)
	require.NotNil(t, st.Session)
	assert.True(t, st.Session.Authorized)
	assert.Equal(t, 1, st.ActiveSignals)
	assert.Equal(t, 1, st.DailyCount)
	assert.Equal(t, 1, st.Stats.Pending)

	require.Len(t, st.Prices, 3)
	assert.Equal(t, PriceView{Symbol: "BOOM1000", Name: "Boom 1000", Price: 103, HasPrice: true, Ticks: 3}, st.Prices[0])
	assert.False(t, st.Prices[2].HasPrice)
	assert.Equal(t, "US Tech 100", st.Prices[2].Name)
}
