package sqlexec

import (
	"context"
	"fmt"
	"time"

	"dataportal/internal/ctxlog"
	"dataportal/internal/observability"
	"dataportal/pkg/queryapi"
)

// Executor binds parsed definitions into pool requests.
type Executor struct {
	pool    Pool
	metrics observability.Recorder
}

// NewExecutor constructs an executor over pool. A nil recorder discards
// metrics.
func NewExecutor(pool Pool, metrics observability.Recorder) *Executor {
	return &Executor{pool: pool, metrics: observability.OrNoop(metrics)}
}

// Pool returns the underlying pool.
func (e *Executor) Pool() Pool { return e.pool }

// Run binds every argument that declares a storage type and executes the
// rendered SQL. Arguments without a storage type are template inputs and
// never reach the pool.
func (e *Executor) Run(ctx context.Context, parsed queryapi.ParsedDefinition) (ResultSet, error) {
	return e.RunOn(ctx, e.pool, parsed)
}

// RunOn executes parsed against q, which may be the pool or an open Tx.
func (e *Executor) RunOn(ctx context.Context, q Querier, parsed queryapi.ParsedDefinition) (ResultSet, error) {
	params, err := BindParams(parsed)
	if err != nil {
		return ResultSet{}, err
	}
	start := time.Now()
	rs, err := q.Query(ctx, parsed.SQL, params)
	elapsed := time.Since(start)
	e.metrics.Observe(ctx, "query."+parsed.Name, err == nil, elapsed)
	if err != nil {
		ctxlog.FromContext(ctx).Error("query failed", "definition", parsed.Name, "error", err, "elapsed", elapsed)
		return ResultSet{}, fmt.Errorf("run %s: %w", parsed.Name, err)
	}
	ctxlog.FromContext(ctx).Debug("query ran", "definition", parsed.Name, "rows", len(rs.Rows), "elapsed", elapsed)
	return rs, nil
}

// BindParams converts the bound arguments of parsed into typed Params.
func BindParams(parsed queryapi.ParsedDefinition) ([]Param, error) {
	bindings := parsed.Bindings()
	params := make([]Param, 0, len(bindings))
	for _, arg := range bindings {
		raw, ok := arg.BindValue()
		if !ok {
			return nil, fmt.Errorf("bind %s.%s: argument did not resolve", parsed.Name, arg.Name)
		}
		value, err := Convert(arg.StorageType, raw)
		if err != nil {
			return nil, fmt.Errorf("bind %s.%s: %w", parsed.Name, arg.Name, err)
		}
		params = append(params, Param{Name: arg.Name, Type: arg.StorageType, Value: value})
	}
	return params, nil
}

// Convert narrows v to the driver value for t. nil binds as NULL.
func Convert(t queryapi.StorageType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case queryapi.TypeInt, queryapi.TypeBigInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case queryapi.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		}
	case queryapi.TypeBit:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case queryapi.TypeNVarChar:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case queryapi.TypeDateTime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	default:
		return nil, fmt.Errorf("unknown storage type %q", t)
	}
	return nil, fmt.Errorf("value of type %T cannot bind as %s", v, t)
}
