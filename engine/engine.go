package engine

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	sberrors "github.com/aegisedge/wasm-sandbox/errors"
	"github.com/aegisedge/wasm-sandbox/fuel"
	"github.com/aegisedge/wasm-sandbox/hostapi"
	"github.com/aegisedge/wasm-sandbox/marshal"
	"github.com/aegisedge/wasm-sandbox/policy"
	"github.com/aegisedge/wasm-sandbox/wasm"
)

// Exported names every guest module must provide.
const (
	allocExport   = "alloc"
	deallocExport = "dealloc"
	memoryExport  = "memory"
)

// Engine compiles and executes guest modules. One wazero runtime exists
// per module class so each class gets its own memory ceiling.
type Engine struct {
	policy   *policy.Policy
	cache    hostapi.Cache
	runtimes map[wasmsandbox.ModuleClass]wazero.Runtime
}

// Module is a compiled guest artifact bound to its class. It is safe for
// concurrent Execute calls; each call instantiates it fresh.
type Module struct {
	ID       string
	Class    wasmsandbox.ModuleClass
	compiled wazero.CompiledModule
}

// New builds an engine with one runtime per class. A nil policy uses the
// defaults; a nil cache disables the guest cache surface.
func New(ctx context.Context, pol *policy.Policy, cache hostapi.Cache) (*Engine, error) {
	if pol == nil {
		pol = policy.Default()
	}
	e := &Engine{
		policy:   pol,
		cache:    cache,
		runtimes: make(map[wasmsandbox.ModuleClass]wazero.Runtime),
	}
	for _, class := range []wasmsandbox.ModuleClass{wasmsandbox.ClassWAF, wasmsandbox.ClassEdgeFunction} {
		cfg := wazero.NewRuntimeConfig().
			WithMemoryLimitPages(pol.Limits(class).MemoryPages()).
			WithCloseOnContextDone(true)
		r := wazero.NewRuntimeWithConfig(ctx, cfg)
		if err := hostapi.Instantiate(ctx, r); err != nil {
			e.Close(ctx)
			return nil, err
		}
		e.runtimes[class] = r
	}
	return e, nil
}

// Close releases all runtimes and every module compiled on them.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, r := range e.runtimes {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Policy returns the engine's resource policy.
func (e *Engine) Policy() *policy.Policy {
	return e.policy
}

// Compile validates bytecode, instruments it with fuel charges, and
// compiles it for the class runtime. All rejections surface as
// compilation errors naming the module id.
func (e *Engine) Compile(ctx context.Context, id string, class wasmsandbox.ModuleClass, bytecode []byte) (*Module, error) {
	if !class.Valid() {
		return nil, sberrors.Compilation(id, "unknown module class "+string(class), nil)
	}

	parsed, err := wasm.ParseModule(bytecode)
	if err != nil {
		return nil, sberrors.Compilation(id, "malformed binary", err)
	}
	if err := validateGuest(parsed, class, e.policy.Limits(class)); err != nil {
		return nil, sberrors.Compilation(id, "validation failed", err)
	}
	if err := fuel.Instrument(parsed); err != nil {
		return nil, sberrors.Compilation(id, "fuel instrumentation failed", err)
	}

	compiled, err := e.runtimes[class].CompileModule(ctx, parsed.Encode())
	if err != nil {
		return nil, sberrors.Compilation(id, "wasm compilation failed", err)
	}
	Logger().Debug("module compiled",
		zap.String("module", id),
		zap.String("class", string(class)),
		zap.Int("size", len(bytecode)))
	return &Module{ID: id, Class: class, compiled: compiled}, nil
}

// Close releases the compiled artifact. In-flight invocations hold their
// own instances and are unaffected.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Execute runs one invocation of mod against execCtx. The caller's
// context is cloned first, so execCtx is never mutated; edge-function
// mutations appear only on the result's Context.
func (e *Engine) Execute(ctx context.Context, mod *Module, execCtx *wasmsandbox.ExecutionContext) (*wasmsandbox.ExecutionResult, error) {
	limits := e.policy.Limits(mod.Class)
	work := execCtx.Clone()

	req, err := marshal.EncodeRequest(work)
	if err != nil {
		return nil, sberrors.Serialization(mod.ID, "encoding request", err)
	}

	meter := fuel.NewMeter(limits.Fuel)
	state := hostapi.NewState(mod.ID, work, e.cache, Logger())
	callCtx := fuel.WithMeter(hostapi.WithState(ctx, state), meter)
	callCtx, cancel := context.WithTimeout(callCtx, limits.Deadline)
	defer cancel()

	start := time.Now()
	payload, err := e.invoke(callCtx, mod, req, limits.MemoryBytes)
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	result := &wasmsandbox.ExecutionResult{Class: mod.Class, Duration: duration}
	switch mod.Class {
	case wasmsandbox.ClassWAF:
		verdict, err := marshal.DecodeWAFResult(payload)
		if err != nil {
			return nil, sberrors.Serialization(mod.ID, "decoding verdict", err)
		}
		verdict.ExecutionTimeUs = uint64(duration.Microseconds())
		result.WAF = verdict
	case wasmsandbox.ClassEdgeFunction:
		delta, err := marshal.DecodeEdgeResult(payload)
		if err != nil {
			return nil, sberrors.Serialization(mod.ID, "decoding response delta", err)
		}
		applyEdgeResult(work, delta)
		result.Context = work
	}

	Logger().Debug("module executed",
		zap.String("module", mod.ID),
		zap.String("class", string(mod.Class)),
		zap.Duration("duration", duration),
		zap.Uint64("fuel_used", limits.Fuel-meter.Remaining()))
	return result, nil
}

// invoke runs the instantiate/alloc/entry/read cycle and returns the raw
// result payload.
func (e *Engine) invoke(ctx context.Context, mod *Module, req []byte, memoryBytes uint64) ([]byte, error) {
	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	instance, err := e.runtimes[mod.Class].InstantiateModule(ctx, mod.compiled, cfg)
	if err != nil {
		return nil, e.mapGuestError(mod, err)
	}
	defer instance.Close(context.WithoutCancel(ctx))

	allocRet, err := instance.ExportedFunction(allocExport).Call(ctx, uint64(len(req)))
	if err != nil {
		return nil, e.mapGuestError(mod, err)
	}
	reqPtr := uint32(allocRet[0])
	if reqPtr == 0 {
		return nil, sberrors.ResourceExceeded(mod.ID, sberrors.ResourceMemory)
	}
	if !instance.Memory().Write(reqPtr, req) {
		return nil, sberrors.Serialization(mod.ID, "request buffer outside guest memory", nil)
	}

	entryRet, err := instance.ExportedFunction(mod.Class.EntryPoint()).Call(ctx, uint64(reqPtr), uint64(len(req)))
	if err != nil {
		return nil, e.mapGuestError(mod, err)
	}
	resPtr := uint32(entryRet[0])
	if resPtr == 0 {
		return nil, sberrors.Serialization(mod.ID, "guest returned null result pointer", nil)
	}

	prefix, ok := instance.Memory().Read(resPtr, marshal.PrefixSize)
	if !ok {
		return nil, sberrors.Serialization(mod.ID, "result pointer outside guest memory", nil)
	}
	length, err := marshal.ResultLength(prefix, memoryBytes)
	if err != nil {
		return nil, sberrors.Serialization(mod.ID, "invalid result length prefix", err)
	}
	view, ok := instance.Memory().Read(resPtr+marshal.PrefixSize, length)
	if !ok {
		return nil, sberrors.Serialization(mod.ID, "result payload outside guest memory", nil)
	}
	// The view aliases guest memory that dies with the instance.
	payload := append([]byte(nil), view...)

	// Best effort: the instance is torn down either way.
	dealloc := instance.ExportedFunction(deallocExport)
	_, _ = dealloc.Call(ctx, uint64(reqPtr), uint64(len(req)))
	_, _ = dealloc.Call(ctx, uint64(resPtr), uint64(marshal.PrefixSize)+uint64(length))
	return payload, nil
}

// mapGuestError converts a wazero call failure into the sandbox's typed
// taxonomy. Fuel exhaustion and deadline expiry both arrive as forced
// module exits.
func (e *Engine) mapGuestError(mod *Module, err error) error {
	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case fuel.ExhaustedExitCode:
			return sberrors.ResourceExceeded(mod.ID, sberrors.ResourceFuel)
		case sys.ExitCodeDeadlineExceeded:
			return sberrors.ResourceExceeded(mod.ID, sberrors.ResourceTimeout)
		case sys.ExitCodeContextCanceled:
			return sberrors.ResourceExceeded(mod.ID, sberrors.ResourceTimeout)
		}
		return sberrors.Trap(mod.ID, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return sberrors.ResourceExceeded(mod.ID, sberrors.ResourceTimeout)
	}
	return sberrors.Trap(mod.ID, err)
}

// applyEdgeResult merges a guest response delta into the invocation
// context. Headers are appended, status and body replace only when the
// guest provided them, and early termination is sticky.
func applyEdgeResult(work *wasmsandbox.ExecutionContext, delta *wasmsandbox.EdgeResult) {
	if delta.ResponseStatus > 0 {
		work.ResponseStatus = delta.ResponseStatus
	}
	work.ResponseHeaders = append(work.ResponseHeaders, delta.ResponseHeaders...)
	if len(delta.ResponseBody) > 0 {
		work.ResponseBody = append([]byte(nil), delta.ResponseBody...)
	}
	if delta.TerminateEarly {
		work.TerminateEarly = true
	}
}
