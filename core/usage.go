package core

// Usage aggregates token counts for one assistant turn.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

// Total returns the sum of all token counts.
func (u Usage) Total() int { return u.Input + u.Output + u.CacheRead + u.CacheWrite }

// Add accumulates counts from another usage value.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
}

// ModelRates are per-million-token prices used to derive a cost breakdown.
// Rates are supplied by the caller; the core performs no cost-table lookups.
type ModelRates struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cacheRead" yaml:"cache_read"`
	CacheWrite float64 `json:"cacheWrite" yaml:"cache_write"`
}

// Cost is the dollar breakdown computed from usage and model rates.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead,omitempty"`
	CacheWrite float64 `json:"cacheWrite,omitempty"`
	Total      float64 `json:"total"`
}

// CostWith computes the cost of this usage at the given rates.
func (u Usage) CostWith(rates ModelRates) Cost {
	const perTok = 1e-6
	c := Cost{
		Input:      float64(u.Input) * rates.Input * perTok,
		Output:     float64(u.Output) * rates.Output * perTok,
		CacheRead:  float64(u.CacheRead) * rates.CacheRead * perTok,
		CacheWrite: float64(u.CacheWrite) * rates.CacheWrite * perTok,
	}
	c.Total = c.Input + c.Output + c.CacheRead + c.CacheWrite
	return c
}
