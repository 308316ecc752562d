package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
)

// DefaultQuery is evaluated when EngineConfig.Query is empty.
const DefaultQuery = "data.jsonstream.filter.decision"

// Filter modes.
const (
	ModeEnforce = "enforce"
	ModeAudit   = "audit"
)

// ErrNotLoaded is returned when an enabled engine evaluates before any
// module was loaded.
var ErrNotLoaded = errors.New("no filter policy loaded")

// Engine decides whether records are written, using embedded OPA.
type Engine struct {
	query    rego.PreparedEvalQuery
	prepared bool
	mu       sync.RWMutex

	// Kept for recompilation when data changes
	modules map[string]string

	data   map[string]interface{}
	dataMu sync.RWMutex

	queryText string
	mode      string
	enabled   bool

	statsMu       sync.Mutex
	evaluations   int64
	excluded      int64
	evalErrors    int64
	avgEvalTimeNs int64
}

// EngineConfig holds configuration for the filter engine.
type EngineConfig struct {
	Enabled bool
	Mode    string // "enforce" or "audit"
	Query   string
}

// NewEngine creates a new filter engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeEnforce
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}

	return &Engine{
		data:      make(map[string]interface{}),
		queryText: cfg.Query,
		mode:      cfg.Mode,
		enabled:   cfg.Enabled,
	}
}

// LoadModules compiles and loads Rego modules keyed by file name.
func (e *Engine) LoadModules(ctx context.Context, modules map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.modules = modules
	return e.compile(ctx)
}

// compile must be called with e.mu held.
func (e *Engine) compile(ctx context.Context) error {
	opts := []func(*rego.Rego){
		rego.Query(e.queryText),
	}
	for name, content := range e.modules {
		opts = append(opts, rego.Module(name, content))
	}

	e.dataMu.RLock()
	if len(e.data) > 0 {
		opts = append(opts, rego.Store(inmem.NewFromObject(e.data)))
	}
	e.dataMu.RUnlock()

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile filter policy: %w", err)
	}

	e.query = query
	e.prepared = true
	return nil
}

// SetData replaces the data document visible to the policy under data.
func (e *Engine) SetData(data map[string]interface{}) error {
	e.dataMu.Lock()
	e.data = data
	e.dataMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.modules) > 0 {
		return e.compile(context.Background())
	}
	return nil
}

// Include evaluates the policy for one record. A disabled engine includes
// every record.
func (e *Engine) Include(ctx context.Context, in *Input) (*Result, error) {
	start := time.Now()
	result := &Result{Mode: e.mode}

	if !e.enabled {
		result.Decision = &Decision{Include: true, Reason: "filter_disabled"}
		result.EvalTime = time.Since(start)
		return result, nil
	}

	decision, err := e.evaluate(ctx, in)
	if err != nil {
		e.statsMu.Lock()
		e.evalErrors++
		e.statsMu.Unlock()
		return nil, fmt.Errorf("filter evaluation failed: %w", err)
	}

	result.Decision = decision
	result.EvalTime = time.Since(start)
	e.record(result)

	return result, nil
}

// ShouldInclude reports whether the record is written. In audit mode the
// decision is evaluated but every record is written.
func (e *Engine) ShouldInclude(ctx context.Context, in *Input) (bool, *Result, error) {
	result, err := e.Include(ctx, in)
	if err != nil {
		return false, nil, err
	}
	if e.mode == ModeAudit {
		return true, result, nil
	}
	return result.Decision.Include, result, nil
}

func (e *Engine) evaluate(ctx context.Context, in *Input) (*Decision, error) {
	e.mu.RLock()
	query, prepared := e.query, e.prepared
	e.mu.RUnlock()

	if !prepared {
		return nil, ErrNotLoaded
	}

	inputMap, err := structToMap(in)
	if err != nil {
		return nil, fmt.Errorf("failed to convert input: %w", err)
	}

	results, err := query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	// An undefined decision excludes the record.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &Decision{Include: false, Reason: "no_result"}, nil
	}

	return parseDecision(results[0].Expressions[0].Value)
}

// parseDecision accepts either a bare boolean or an object with include and
// reason fields.
func parseDecision(value interface{}) (*Decision, error) {
	switch v := value.(type) {
	case bool:
		return &Decision{Include: v}, nil
	case map[string]interface{}:
		d := &Decision{}
		if include, ok := v["include"].(bool); ok {
			d.Include = include
		}
		if reason, ok := v["reason"].(string); ok {
			d.Reason = reason
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unexpected decision type: %T", value)
	}
}

// structToMap converts a struct to a map using JSON marshaling.
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}

func (e *Engine) record(r *Result) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	e.evaluations++
	if !r.Decision.Include {
		e.excluded++
	}

	// Exponential moving average, 10% weight for the new value
	alpha := int64(10)
	if e.avgEvalTimeNs == 0 {
		e.avgEvalTimeNs = r.EvalTime.Nanoseconds()
	} else {
		e.avgEvalTimeNs = (e.avgEvalTimeNs*(100-alpha) + r.EvalTime.Nanoseconds()*alpha) / 100
	}
}

// Mode returns the filter mode.
func (e *Engine) Mode() string {
	return e.mode
}

// Enabled reports whether policies are evaluated.
func (e *Engine) Enabled() bool {
	return e.enabled
}

// IsReady returns true if the engine can evaluate records.
func (e *Engine) IsReady() bool {
	if !e.enabled {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prepared
}

// Stats returns engine statistics.
func (e *Engine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	return EngineStats{
		Evaluations:   e.evaluations,
		Excluded:      e.excluded,
		EvalErrors:    e.evalErrors,
		AvgEvalTimeMs: float64(e.avgEvalTimeNs) / 1e6,
	}
}
