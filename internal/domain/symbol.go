package domain

import "strings"

// SpikeClass tags an instrument with the direction its spikes are expected to go.
type SpikeClass string

const (
	// SpikeClassUp instruments (Boom) spike upward; a spike is faded with a sell.
	SpikeClassUp SpikeClass = "upward_spike"
	// SpikeClassDown instruments (Crash) drop downward; a drop is faded with a buy.
	SpikeClassDown SpikeClass = "downward_spike"
	// SpikeClassNone instruments are only tracked for prices.
	SpikeClassNone SpikeClass = "none"
)

// ParseSpikeClass accepts the config spellings, falling back to none.
func ParseSpikeClass(s string) SpikeClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upward_spike", "upward", "up", "boom":
		return SpikeClassUp
	case "downward_spike", "downward", "down", "crash":
		return SpikeClassDown
	default:
		return SpikeClassNone
	}
}

// InferSpikeClass derives the class from a Deriv symbol code (BOOM1000, CRASH500, ...).
func InferSpikeClass(code string) SpikeClass {
	upper := strings.ToUpper(code)
	switch {
	case strings.Contains(upper, "BOOM"):
		return SpikeClassUp
	case strings.Contains(upper, "CRASH"):
		return SpikeClassDown
	default:
		return SpikeClassNone
	}
}

// Symbol is a configured instrument.
type Symbol struct {
	Code  string     // exchange symbol, e.g. BOOM1000
	Name  string     // display name, e.g. "Boom 1000"
	Class SpikeClass
}

// DisplayName returns Name, or Code when no name is configured.
func (s Symbol) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Code
}
