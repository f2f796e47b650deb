package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	sberrors "github.com/aegisedge/wasm-sandbox/errors"
	"github.com/aegisedge/wasm-sandbox/policy"
)

// Dispatcher runs published modules for the request pipeline and turns
// per-call errors into the class's configured failure behavior.
type Dispatcher struct {
	registry *Registry
	policy   *policy.Policy
}

// NewDispatcher wraps the registry with its engine's policy.
func NewDispatcher(r *Registry) *Dispatcher {
	return &Dispatcher{registry: r, policy: r.engine.Policy()}
}

// Analyze runs a WAF module and returns its verdict. A module failure is
// absorbed by the class failure mode: fail-closed yields a block
// verdict, fail-open a clean one. An unknown id always surfaces.
func (d *Dispatcher) Analyze(ctx context.Context, id string, execCtx *wasmsandbox.ExecutionContext) (*wasmsandbox.WAFResult, error) {
	res, err := d.registry.Execute(ctx, id, execCtx)
	if err != nil {
		if sberrors.IsKind(err, sberrors.KindModuleNotFound) {
			return nil, err
		}
		mode := d.policy.For(wasmsandbox.ClassWAF).FailureMode
		Logger().Warn("analyzer failed, applying failure mode",
			zap.String("module", id),
			zap.String("mode", string(mode)),
			zap.Error(err))
		if mode == policy.FailClosed {
			return &wasmsandbox.WAFResult{Blocked: true, Matches: []wasmsandbox.WAFMatch{}}, nil
		}
		return &wasmsandbox.WAFResult{Matches: []wasmsandbox.WAFMatch{}}, nil
	}
	if res.WAF == nil {
		return nil, fmt.Errorf("module %q is not a WAF analyzer", id)
	}
	return res.WAF, nil
}

// Handle runs an edge function and returns the resulting context. Under
// fail-open a module failure hands back the caller's context untouched;
// under fail-closed the error surfaces. An unknown id always surfaces.
func (d *Dispatcher) Handle(ctx context.Context, id string, execCtx *wasmsandbox.ExecutionContext) (*wasmsandbox.ExecutionContext, error) {
	res, err := d.registry.Execute(ctx, id, execCtx)
	if err != nil {
		if sberrors.IsKind(err, sberrors.KindModuleNotFound) {
			return nil, err
		}
		mode := d.policy.For(wasmsandbox.ClassEdgeFunction).FailureMode
		Logger().Warn("edge function failed, applying failure mode",
			zap.String("module", id),
			zap.String("mode", string(mode)),
			zap.Error(err))
		if mode == policy.FailOpen {
			return execCtx.Clone(), nil
		}
		return nil, err
	}
	if res.Context == nil {
		return nil, fmt.Errorf("module %q is not an edge function", id)
	}
	return res.Context, nil
}
