package domain

import (
	"fmt"
	"time"
)

// Direction is the side a signal recommends.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ContractType maps the direction onto a Deriv rise/fall contract.
func (d Direction) ContractType() string {
	if d == DirectionBuy {
		return "CALL"
	}
	return "PUT"
}

// SignalKind separates advisory early warnings from trade signals that own a lifecycle.
type SignalKind string

const (
	KindEarlyWarning SignalKind = "early_warning"
	KindTradeSignal  SignalKind = "trade_signal"
)

// SignalStatus is the lifecycle state of a trade signal.
type SignalStatus string

const (
	StatusPending SignalStatus = "pending"
	StatusSuccess SignalStatus = "success"
	StatusFailed  SignalStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s SignalStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Signal is one detection output. Trade signals are owned by the lifecycle manager
// from creation until they reach a terminal status.
type Signal struct {
	ID         int64
	Kind       SignalKind
	Symbol     string
	Direction  Direction
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Spike      float64 // |tick delta| that triggered a trade signal
	Accel      float64 // acceleration that triggered an early warning
	CreatedAt  time.Time

	Status       SignalStatus
	ResolvedAt   time.Time
	SupersededBy int64 // id of the re-trigger that failed this signal
}

// RiskReward returns reward/risk for the fixed stop and target distances.
func (s *Signal) RiskReward() float64 {
	risk := s.EntryPrice - s.StopLoss
	if risk < 0 {
		risk = -risk
	}
	reward := s.TakeProfit - s.EntryPrice
	if reward < 0 {
		reward = -reward
	}
	if risk == 0 {
		return 0
	}
	return reward / risk
}

func (s *Signal) String() string {
	return fmt.Sprintf("#%d %s %s %s @ %.2f [%s]", s.ID, s.Kind, s.Symbol, s.Direction, s.EntryPrice, s.Status)
}

// Record converts the signal into its persisted form.
func (s *Signal) Record() SignalRecord {
	return SignalRecord{
		ID:           s.ID,
		Symbol:       s.Symbol,
		Direction:    s.Direction,
		EntryPrice:   s.EntryPrice,
		StopLoss:     s.StopLoss,
		TakeProfit:   s.TakeProfit,
		Spike:        s.Spike,
		CreatedAt:    s.CreatedAt,
		Status:       s.Status,
		ResolvedAt:   s.ResolvedAt,
		SupersededBy: s.SupersededBy,
	}
}

// SignalRecord is the persisted, read-only history entry of a trade signal.
type SignalRecord struct {
	ID           int64        `json:"id"`
	Symbol       string       `json:"symbol"`
	Direction    Direction    `json:"direction"`
	EntryPrice   float64      `json:"entry_price"`
	StopLoss     float64      `json:"stop_loss"`
	TakeProfit   float64      `json:"take_profit"`
	Spike        float64      `json:"spike"`
	CreatedAt    time.Time    `json:"created_at"`
	Status       SignalStatus `json:"status"`
	ResolvedAt   time.Time    `json:"resolved_at,omitempty"`
	SupersededBy int64        `json:"superseded_by,omitempty"`
}

// Signal rebuilds a trade signal from its record.
func (r SignalRecord) Signal() *Signal {
	return &Signal{
		ID:           r.ID,
		Kind:         KindTradeSignal,
		Symbol:       r.Symbol,
		Direction:    r.Direction,
		EntryPrice:   r.EntryPrice,
		StopLoss:     r.StopLoss,
		TakeProfit:   r.TakeProfit,
		Spike:        r.Spike,
		CreatedAt:    r.CreatedAt,
		Status:       r.Status,
		ResolvedAt:   r.ResolvedAt,
		SupersededBy: r.SupersededBy,
	}
}
