package filter

import "time"

// Input is the document sent to OPA for each record.
type Input struct {
	// Record is the decoded JSON record.
	Record interface{} `json:"record"`

	// Index is the zero-based position of the record in its source.
	Index  int    `json:"index"`
	Source string `json:"source"`
}

// Decision is the output of the filter policy.
type Decision struct {
	Include bool   `json:"include"`
	Reason  string `json:"reason,omitempty"`
}

// Result wraps a decision with evaluation details.
type Result struct {
	Decision *Decision
	EvalTime time.Duration
	Mode     string
}

// EngineStats contains filter engine statistics.
type EngineStats struct {
	Evaluations   int64
	Excluded      int64
	EvalErrors    int64
	AvgEvalTimeMs float64
}
