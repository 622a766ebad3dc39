package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
)

type recordingSink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Message
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
	return r.err
}

func (r *recordingSink) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.got))
	for _, m := range r.got {
		out = append(out, m.Kind)
	}
	return out
}

var boom = domain.Symbol{Code: "BOOM1000", Name: "Boom 1000 Index", Class: domain.SpikeClassUp}

func tradeSignal(id int64) domain.Signal {
	return domain.Signal{
		ID: id, Kind: domain.KindTradeSignal, Symbol: "BOOM1000", Direction: domain.DirectionSell,
		EntryPrice: 103, StopLoss: 118, TakeProfit: 73, Spike: 3, Status: domain.StatusPending,
		CreatedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func TestFormatter_TradeSignal(t *testing.T) {
	f := NewFormatter(FormatterOptions{Window: 3 * time.Minute})
	msg := f.Format(&events.SignalEvent{Kind: events.KindSignalOpened, Signal: tradeSignal(7), Symbol: boom})

	assert.Equal(t, events.KindSignalOpened, msg.Kind)
	assert.Equal(t, "signal_opened:BOOM1000:7", msg.Key)
	for _, want := range []string{
		"TRADE SIGNAL #7", "Boom 1000 Index", "*SELL* (3 min)",
		"Entry: `103.00`", "Stop Loss: `118.00`", "Take Profit: `73.00`",
		"Risk/Reward: `1:2.0`", "Spike Size: `3.00`", "Manual Entry Required",
	} {
		assert.Contains(t, msg.Text, want)
	}

	auto := f.Format(&events.SignalEvent{Kind: events.KindSignalOpened, Signal: tradeSignal(7), Symbol: boom, AutoTraded: true})
	assert.Contains(t, auto.Text, "Auto-Executed")
}

func TestFormatter_Transitions(t *testing.T) {
	f := NewFormatter(FormatterOptions{})
	failed := tradeSignal(3)
	failed.Status = domain.StatusFailed
	failed.SupersededBy = 4
	msg := f.Format(&events.SignalEvent{Kind: events.KindSignalFailed, Signal: failed, Symbol: boom})
	assert.Contains(t, msg.Text, "#3 FAILED")
	assert.Contains(t, msg.Text, "Re-triggered by #4")

	ok := f.Format(&events.SignalEvent{Kind: events.KindSignalSucceeded, Signal: tradeSignal(5), Symbol: boom, Streak: 3})
	assert.Contains(t, ok.Text, "#5 SUCCESS")
	assert.Contains(t, ok.Text, "Win streak: *3*")

	warn := tradeSignal(0)
	warn.Kind = domain.KindEarlyWarning
	warn.Accel = 0.5
	ew := f.Format(&events.SignalEvent{Kind: events.KindEarlyWarning, Signal: warn})
	assert.Contains(t, ew.Text, "EARLY WARNING")
	assert.Contains(t, ew.Text, "BOOM1000")
	assert.Contains(t, ew.Text, "Acceleration: `0.50`")
}

func TestFormatter_SummaryOrderSettlement(t *testing.T) {
	f := NewFormatter(FormatterOptions{})
	st := domain.Stats{Day: "2026-10-19", Total: 3, Success: 2, Failed: 1, Streak: 2,
		PerSymbol: []domain.SymbolStats{{Symbol: "BOOM1000", Total: 3, Success: 2, Failed: 1}}}
	sum := f.Format(&events.DailySummaryEvent{Stats: st})
	assert.Equal(t, "summary:2026-10-19", sum.Key)
	assert.Contains(t, sum.Text, "Success rate: `66.7%`")
	assert.Contains(t, sum.Text, "BOOM1000: 2/3")

	ord := f.Format(&events.OrderEvent{Kind: events.KindOrderPlaced, SignalID: 1, Symbol: "BOOM1000",
		Ref: "r1", ContractID: 99, BuyPrice: decimal.RequireFromString("0.35")})
	assert.Contains(t, ord.Text, "Contract: `99`")
	assert.Contains(t, ord.Text, "Stake: `0.35`")

	set := f.Format(&events.SettlementEvent{ContractID: 99, Status: "lost", Profit: decimal.RequireFromString("-0.35")})
	assert.Contains(t, set.Text, "LOST")
	assert.Contains(t, set.Text, "`-0.35`")
}

func TestDispatcher_OrderAndIndependentFailures(t *testing.T) {
	good := &recordingSink{name: "good"}
	bad := &recordingSink{name: "bad", err: errors.New("unreachable")}

	var mu sync.Mutex
	var failures []error
	d := NewDispatcher(nil, DispatcherOptions{Observer: func(sink string, kind events.Kind, err error) {
		if err != nil {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
		}
	}}, bad, good)

	failed := tradeSignal(1)
	failed.Status = domain.StatusFailed
	failed.SupersededBy = 2
	d.Notify(&events.SignalEvent{Kind: events.KindSignalFailed, Signal: failed})
	d.Notify(&events.SignalEvent{Kind: events.KindSignalOpened, Signal: tradeSignal(2)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(good.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []events.Kind{events.KindSignalFailed, events.KindSignalOpened}, good.kinds())
	assert.Equal(t, good.kinds(), bad.kinds())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	var derr *DeliveryError
	require.True(t, errors.As(failures[0], &derr))
	assert.Equal(t, "bad", derr.Sink)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{name: "s"}
	d := NewDispatcher(nil, DispatcherOptions{QueueSize: 1}, sink)
	d.Notify(&events.DailySummaryEvent{Stats: domain.Stats{Day: "a"}})
	d.Notify(&events.DailySummaryEvent{Stats: domain.Stats{Day: "b"}})
	assert.Equal(t, int64(1), d.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)
	assert.Len(t, sink.got, 1, "queued message is flushed on shutdown")
}

func TestTelegramSink(t *testing.T) {
	var mu sync.Mutex
	var chats []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Markdown", body["parse_mode"])
		mu.Lock()
		chats = append(chats, body["chat_id"].(string))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if body["chat_id"] == "bad" {
			_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	_, err := NewTelegramSink(TelegramOptions{ChatIDs: []string{"1"}})
	assert.Error(t, err)

	sink, err := NewTelegramSink(TelegramOptions{Token: "TOKEN", ChatIDs: []string{"1", "bad"}, BaseURL: srv.URL})
	require.NoError(t, err)
	defer sink.Close()

	msg := Message{Kind: events.KindSignalOpened, Key: "k1", Text: "hello"}
	err = sink.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat bad")

	// chat 1 already has k1; only the failed chat is retried.
	_ = sink.Send(context.Background(), msg)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "bad", "bad"}, chats)
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "")
	f := NewFormatter(FormatterOptions{})
	ev := &events.SignalEvent{Kind: events.KindSignalOpened, Signal: tradeSignal(9), Symbol: boom,
		Timestamp: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}

	require.NoError(t, sink.Send(context.Background(), f.Format(ev)))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "spikebot.events.signal_opened", pub.subjects[0])

	var env map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &env))
	assert.Equal(t, "signal_opened", env["kind"])
	assert.True(t, strings.HasPrefix(env["time"].(string), "2026-10-19T09:00:00"))
	payload := env["payload"].(map[string]any)
	sig := payload["Signal"].(map[string]any)
	assert.Equal(t, float64(9), sig["ID"])
}
