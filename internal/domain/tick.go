package domain

import "time"

// Tick is one price update for a symbol as received from the stream.
type Tick struct {
	Symbol     string
	Price      float64
	Epoch      int64 // exchange timestamp (seconds), 0 if absent
	ReceivedAt time.Time
}
