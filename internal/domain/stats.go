package domain

import "sort"

// SymbolStats aggregates resolved trade signals for one symbol.
type SymbolStats struct {
	Symbol  string `json:"symbol"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Pending int    `json:"pending"`
}

// SuccessRate is success/(success+failed) in percent; pending signals are excluded.
func (s SymbolStats) SuccessRate() float64 {
	resolved := s.Success + s.Failed
	if resolved == 0 {
		return 0
	}
	return float64(s.Success) / float64(resolved) * 100
}

// Stats summarises the day's trade signals.
type Stats struct {
	Day       string        `json:"day"`
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Pending   int           `json:"pending"`
	Streak    int           `json:"streak"`
	PerSymbol []SymbolStats `json:"per_symbol"`
}

// SuccessRate is success/(success+failed) in percent.
func (s Stats) SuccessRate() float64 {
	return SymbolStats{Success: s.Success, Failed: s.Failed}.SuccessRate()
}

// ComputeStats builds stats over history (oldest first).
func ComputeStats(day string, history []*Signal) Stats {
	st := Stats{Day: day}
	bySymbol := make(map[string]*SymbolStats)
	for _, sig := range history {
		ss, ok := bySymbol[sig.Symbol]
		if !ok {
			ss = &SymbolStats{Symbol: sig.Symbol}
			bySymbol[sig.Symbol] = ss
		}
		st.Total++
		ss.Total++
		switch sig.Status {
		case StatusSuccess:
			st.Success++
			ss.Success++
		case StatusFailed:
			st.Failed++
			ss.Failed++
		default:
			st.Pending++
			ss.Pending++
		}
	}
	st.Streak = WinStreak(history)
	for _, ss := range bySymbol {
		st.PerSymbol = append(st.PerSymbol, *ss)
	}
	sort.Slice(st.PerSymbol, func(i, j int) bool { return st.PerSymbol[i].Symbol < st.PerSymbol[j].Symbol })
	return st
}

// WinStreak walks history newest-first: success increments, failed stops, pending is skipped.
func WinStreak(history []*Signal) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		switch history[i].Status {
		case StatusSuccess:
			streak++
		case StatusFailed:
			return streak
		}
	}
	return streak
}
