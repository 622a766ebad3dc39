package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
)

type FormatterOptions struct {
	Window   time.Duration // observation window shown on trade signals
	Location *time.Location
}

// Formatter turns events into Telegram-flavoured Markdown.
type Formatter struct {
	window time.Duration
	loc    *time.Location
}

func NewFormatter(opts FormatterOptions) *Formatter {
	if opts.Window <= 0 {
		opts.Window = 180 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Formatter{window: opts.Window, loc: opts.Location}
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func symbolLabel(sym domain.Symbol, code string) string {
	if sym.Code == "" {
		return code
	}
	return sym.DisplayName()
}

func (f *Formatter) Format(ev events.Event) Message {
	msg := Message{Kind: ev.EventKind(), Event: ev}
	switch e := ev.(type) {
	case *events.SignalEvent:
		msg.Key = fmt.Sprintf("%s:%s:%d", e.Kind, e.Signal.Symbol, e.Signal.ID)
		if e.Kind == events.KindEarlyWarning {
			msg.Key = fmt.Sprintf("%s:%s:%d", e.Kind, e.Signal.Symbol, e.Signal.CreatedAt.UnixNano())
		}
		msg.Text = f.signalText(e)
	case *events.DailySummaryEvent:
		msg.Key = "summary:" + e.Stats.Day
		msg.Text = f.summaryText(e.Stats)
	case *events.OrderEvent:
		msg.Key = fmt.Sprintf("%s:%s", e.Kind, e.Ref)
		msg.Text = f.orderText(e)
	case *events.SettlementEvent:
		msg.Key = fmt.Sprintf("settled:%d", e.ContractID)
		msg.Text = f.settlementText(e)
	default:
		msg.Key = fmt.Sprintf("%s:%d", ev.EventKind(), ev.EventTime().UnixNano())
		msg.Text = string(ev.EventKind())
	}
	return msg
}

func (f *Formatter) signalText(e *events.SignalEvent) string {
	s := e.Signal
	label := symbolLabel(e.Symbol, s.Symbol)
	var b strings.Builder
	switch e.Kind {
	case events.KindEarlyWarning:
		b.WriteString("⚠️ *EARLY WARNING* ⚠️\n\n")
		fmt.Fprintf(&b, "Symbol: *%s*\n", label)
		fmt.Fprintf(&b, "Price: `%s`\n", price(s.EntryPrice))
		fmt.Fprintf(&b, "Acceleration: `%s`\n\n", price(s.Accel))
		fmt.Fprintf(&b, "Spike building, prepare to *%s*", strings.ToUpper(string(s.Direction)))
	case events.KindSignalOpened:
		fmt.Fprintf(&b, "🚨 *TRADE SIGNAL #%d* 🚨\n\n", s.ID)
		fmt.Fprintf(&b, "Symbol: *%s*\n", label)
		fmt.Fprintf(&b, "Direction: *%s* (%d min)\n\n", strings.ToUpper(string(s.Direction)), int(f.window.Minutes()))
		fmt.Fprintf(&b, "Entry: `%s`\n", price(s.EntryPrice))
		fmt.Fprintf(&b, "Stop Loss: `%s`\n", price(s.StopLoss))
		fmt.Fprintf(&b, "Take Profit: `%s`\n\n", price(s.TakeProfit))
		fmt.Fprintf(&b, "Risk/Reward: `1:%.1f`\n", s.RiskReward())
		fmt.Fprintf(&b, "Spike Size: `%s` points\n\n", price(s.Spike))
		if e.AutoTraded {
			b.WriteString("✅ *Trade Auto-Executed*")
		} else {
			b.WriteString("⏳ *Signal Only - Manual Entry Required*")
		}
	case events.KindSignalFailed:
		fmt.Fprintf(&b, "❌ *SIGNAL #%d FAILED*\n\n", s.ID)
		fmt.Fprintf(&b, "Symbol: *%s* %s @ `%s`\n", label, strings.ToUpper(string(s.Direction)), price(s.EntryPrice))
		fmt.Fprintf(&b, "Re-triggered by #%d before the %d min window closed", s.SupersededBy, int(f.window.Minutes()))
	case events.KindSignalSucceeded:
		fmt.Fprintf(&b, "✅ *SIGNAL #%d SUCCESS*\n\n", s.ID)
		fmt.Fprintf(&b, "Symbol: *%s* %s @ `%s`\n", label, strings.ToUpper(string(s.Direction)), price(s.EntryPrice))
		fmt.Fprintf(&b, "No re-trigger within %d min\n", int(f.window.Minutes()))
		fmt.Fprintf(&b, "Win streak: *%d* 🔥", e.Streak)
	default:
		fmt.Fprintf(&b, "%s %s", e.Kind, s.String())
	}
	return b.String()
}

func (f *Formatter) summaryText(st domain.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Daily Summary %s*\n\n", st.Day)
	fmt.Fprintf(&b, "Signals: `%d`\n", st.Total)
	fmt.Fprintf(&b, "Success: `%d` | Failed: `%d` | Pending: `%d`\n", st.Success, st.Failed, st.Pending)
	fmt.Fprintf(&b, "Success rate: `%.1f%%`\n", st.SuccessRate())
	fmt.Fprintf(&b, "Win streak: `%d`", st.Streak)
	if len(st.PerSymbol) > 0 {
		b.WriteString("\n")
		for _, ss := range st.PerSymbol {
			fmt.Fprintf(&b, "\n%s: %d/%d (%.1f%%)", ss.Symbol, ss.Success, ss.Success+ss.Failed, ss.SuccessRate())
		}
	}
	return b.String()
}

func (f *Formatter) orderText(e *events.OrderEvent) string {
	if e.Kind == events.KindOrderFailed {
		return fmt.Sprintf("⚠️ *Order failed* for signal #%d on %s: %s", e.SignalID, e.Symbol, e.Err)
	}
	return fmt.Sprintf("🧾 *Order placed* for signal #%d on %s\nContract: `%d`\nStake: `%s`",
		e.SignalID, e.Symbol, e.ContractID, e.BuyPrice.StringFixed(2))
}

func (f *Formatter) settlementText(e *events.SettlementEvent) string {
	icon := "💰"
	if e.Profit.IsNegative() {
		icon = "📉"
	}
	return fmt.Sprintf("%s *Contract %d %s* (signal #%d, %s)\nBuy: `%s` Sell: `%s`\nProfit: `%s`",
		icon, e.ContractID, strings.ToUpper(e.Status), e.SignalID, e.Symbol,
		e.BuyPrice.StringFixed(2), e.SellPrice.StringFixed(2), e.Profit.StringFixed(2))
}
