package model

// Predictions holds the upstream APY outlook for a pool, when present.
type Predictions struct {
	PredictedClass       string  `json:"predictedClass"`
	PredictedProbability float64 `json:"predictedProbability"`
	BinnedConfidence     int     `json:"binnedConfidence"`
}

// Pool represents one yield-bearing position as reported by the upstream API.
// Optional fields are pointers so pools that omit them survive a round-trip
// without inventing zero values.
type Pool struct {
	Chain       string       `json:"chain"`
	Pool        string       `json:"pool"`
	Project     string       `json:"project"`
	TvlUsd      float64      `json:"tvlUsd"`
	Apy         *float64     `json:"apy,omitempty"`
	ApyMean30d  *float64     `json:"apyMean30d,omitempty"`
	Predictions *Predictions `json:"predictions,omitempty"`
}
