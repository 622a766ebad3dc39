// Package events defines what the core tells the outside world.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/spikebot/internal/domain"
)

// Kind names an outbound event.
type Kind string

const (
	KindEarlyWarning    Kind = "early_warning"
	KindSignalOpened    Kind = "signal_opened"
	KindSignalFailed    Kind = "signal_failed"
	KindSignalSucceeded Kind = "signal_succeeded"
	KindDailySummary    Kind = "daily_summary"
	KindOrderPlaced     Kind = "order_placed"
	KindOrderFailed     Kind = "order_failed"
	KindContractSettled Kind = "contract_settled"
)

// Event is anything the notifier can render and deliver.
type Event interface {
	EventKind() Kind
	EventTime() time.Time
}

// SignalEvent reports an early warning or a trade-signal transition.
// Signal is a snapshot taken under the lifecycle lock; it is never mutated afterwards.
type SignalEvent struct {
	Kind       Kind
	Signal     domain.Signal
	Symbol     domain.Symbol
	Streak     int  // set on success
	AutoTraded bool // set on open when auto-trade is on
	Timestamp  time.Time
}

func (e *SignalEvent) EventKind() Kind      { return e.Kind }
func (e *SignalEvent) EventTime() time.Time { return e.Timestamp }

// DailySummaryEvent is emitted once per calendar day rollover for the day that ended.
type DailySummaryEvent struct {
	Stats     domain.Stats
	Timestamp time.Time
}

func (e *DailySummaryEvent) EventKind() Kind      { return KindDailySummary }
func (e *DailySummaryEvent) EventTime() time.Time { return e.Timestamp }

// OrderEvent reports an execution attempt for a trade signal.
type OrderEvent struct {
	Kind       Kind
	SignalID   int64
	Symbol     string
	Ref        string
	ContractID int64
	BuyPrice   decimal.Decimal
	Err        string
	Timestamp  time.Time
}

func (e *OrderEvent) EventKind() Kind      { return e.Kind }
func (e *OrderEvent) EventTime() time.Time { return e.Timestamp }

// SettlementEvent reports the closing result of an executed contract.
type SettlementEvent struct {
	SignalID   int64
	Symbol     string
	ContractID int64
	Status     string // won, lost, sold
	BuyPrice   decimal.Decimal
	SellPrice  decimal.Decimal
	Profit     decimal.Decimal
	Timestamp  time.Time
}

func (e *SettlementEvent) EventKind() Kind      { return KindContractSettled }
func (e *SettlementEvent) EventTime() time.Time { return e.Timestamp }
