package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	sberrors "github.com/aegisedge/wasm-sandbox/errors"
	"github.com/aegisedge/wasm-sandbox/hostapi"
	"github.com/aegisedge/wasm-sandbox/internal/wasmtest"
	"github.com/aegisedge/wasm-sandbox/policy"
)

func newTestEngine(t *testing.T, pol *policy.Policy) *Engine {
	t.Helper()
	e, err := New(context.Background(), pol, hostapi.NewMemoryCache())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func mustCompile(t *testing.T, e *Engine, id string, class wasmsandbox.ModuleClass, bytecode []byte) *Module {
	t.Helper()
	mod, err := e.Compile(context.Background(), id, class, bytecode)
	if err != nil {
		t.Fatalf("Compile(%s): %v", id, err)
	}
	t.Cleanup(func() { mod.Close(context.Background()) })
	return mod
}

func requestContext(uri string) *wasmsandbox.ExecutionContext {
	return &wasmsandbox.ExecutionContext{
		RequestMethod: "GET",
		RequestURI:    uri,
		RequestHeaders: []wasmsandbox.Header{
			{Name: "Host", Value: "example.com"},
		},
	}
}

func TestExecute_WAFBlocksTraversal(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := mustCompile(t, e, "waf-scan", wasmsandbox.ClassWAF, wasmtest.WAFModule())

	res, err := e.Execute(context.Background(), mod, requestContext("/files/../../etc/passwd"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.WAF == nil || !res.WAF.Blocked {
		t.Fatalf("traversal request not blocked: %+v", res.WAF)
	}
	if len(res.WAF.Matches) != 1 {
		t.Fatalf("matches = %+v", res.WAF.Matches)
	}
	m := res.WAF.Matches[0]
	if m.RuleID != wasmtest.BlockedRuleID || m.Category != "path-traversal" {
		t.Errorf("match = %+v", m)
	}
}

func TestExecute_WAFPassesCleanRequest(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := mustCompile(t, e, "waf-scan", wasmsandbox.ClassWAF, wasmtest.WAFModule())

	res, err := e.Execute(context.Background(), mod, requestContext("/files/report.pdf"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.WAF == nil || res.WAF.Blocked {
		t.Fatalf("clean request blocked: %+v", res.WAF)
	}
	if len(res.WAF.Matches) != 0 {
		t.Errorf("unexpected matches: %+v", res.WAF.Matches)
	}
}

func TestExecute_EdgeAddsHeader(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := mustCompile(t, e, "edge-header", wasmsandbox.ClassEdgeFunction, wasmtest.EdgeHeaderModule())

	in := requestContext("/")
	res, err := e.Execute(context.Background(), mod, in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	found := false
	for _, h := range res.Context.ResponseHeaders {
		if h.Name == "X-Processed-By" && h.Value == "edge" {
			found = true
		}
	}
	if !found {
		t.Errorf("header missing from result context: %+v", res.Context.ResponseHeaders)
	}
	// The caller's context is cloned, never written through.
	if len(in.ResponseHeaders) != 0 {
		t.Errorf("input context mutated: %+v", in.ResponseHeaders)
	}
}

func TestExecute_RespondShortCircuits(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := mustCompile(t, e, "edge-respond", wasmsandbox.ClassEdgeFunction, wasmtest.RespondModule())

	res, err := e.Execute(context.Background(), mod, requestContext("/admin"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Context.ResponseStatus != 403 {
		t.Errorf("status = %d", res.Context.ResponseStatus)
	}
	if string(res.Context.ResponseBody) != "denied" {
		t.Errorf("body = %q", res.Context.ResponseBody)
	}
	if !res.Context.TerminateEarly {
		t.Error("respond must terminate the pipeline early")
	}
}

func TestExecute_FuelExhaustion(t *testing.T) {
	pol := policy.Default()
	if err := pol.Set(wasmsandbox.ClassWAF, policy.ClassPolicy{
		Limits: policy.ResourceLimits{
			Fuel:        1_000,
			MemoryBytes: 10 << 20,
			Deadline:    5 * time.Second,
		},
		FailureMode: policy.FailClosed,
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e := newTestEngine(t, pol)
	entry := wasmsandbox.ClassWAF.EntryPoint()
	mod := mustCompile(t, e, "waf-loop", wasmsandbox.ClassWAF, wasmtest.LoopForeverModule(entry))

	_, err := e.Execute(context.Background(), mod, requestContext("/"))
	if !sberrors.IsResourceExceeded(err, sberrors.ResourceFuel) {
		t.Fatalf("err = %v, want fuel exhaustion", err)
	}
}

func TestExecute_DeadlineExceeded(t *testing.T) {
	pol := policy.Default()
	if err := pol.Set(wasmsandbox.ClassEdgeFunction, policy.ClassPolicy{
		Limits: policy.ResourceLimits{
			Fuel:        1 << 40,
			MemoryBytes: 50 << 20,
			Deadline:    50 * time.Millisecond,
		},
		FailureMode: policy.FailOpen,
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	e := newTestEngine(t, pol)
	entry := wasmsandbox.ClassEdgeFunction.EntryPoint()
	mod := mustCompile(t, e, "edge-loop", wasmsandbox.ClassEdgeFunction, wasmtest.LoopForeverModule(entry))

	start := time.Now()
	_, err := e.Execute(context.Background(), mod, requestContext("/"))
	if !sberrors.IsResourceExceeded(err, sberrors.ResourceTimeout) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("deadline did not interrupt the guest promptly: %v", elapsed)
	}
}

func TestExecute_TrapIsolated(t *testing.T) {
	e := newTestEngine(t, nil)
	entry := wasmsandbox.ClassWAF.EntryPoint()
	mod := mustCompile(t, e, "waf-trap", wasmsandbox.ClassWAF, wasmtest.TrapModule(entry))

	_, err := e.Execute(context.Background(), mod, requestContext("/"))
	if !sberrors.IsKind(err, sberrors.KindTrap) {
		t.Fatalf("err = %v, want trap", err)
	}

	// The same engine keeps serving other modules after a trap.
	waf := mustCompile(t, e, "waf-scan", wasmsandbox.ClassWAF, wasmtest.WAFModule())
	if _, err := e.Execute(context.Background(), waf, requestContext("/ok")); err != nil {
		t.Fatalf("engine unusable after trap: %v", err)
	}
}

func TestExecute_AllocFailureIsMemoryError(t *testing.T) {
	e := newTestEngine(t, nil)
	entry := wasmsandbox.ClassWAF.EntryPoint()
	mod := mustCompile(t, e, "waf-nomem", wasmsandbox.ClassWAF, wasmtest.AllocFailModule(entry))

	_, err := e.Execute(context.Background(), mod, requestContext("/"))
	if !sberrors.IsResourceExceeded(err, sberrors.ResourceMemory) {
		t.Fatalf("err = %v, want memory exhaustion", err)
	}
}

func TestExecute_OversizedResultRejected(t *testing.T) {
	e := newTestEngine(t, nil)
	entry := wasmsandbox.ClassWAF.EntryPoint()
	mod := mustCompile(t, e, "waf-liar", wasmsandbox.ClassWAF, wasmtest.OversizedResultModule(entry))

	_, err := e.Execute(context.Background(), mod, requestContext("/"))
	if !sberrors.IsKind(err, sberrors.KindSerialization) {
		t.Fatalf("err = %v, want serialization error", err)
	}
}

func TestExecute_Concurrent(t *testing.T) {
	e := newTestEngine(t, nil)
	mod := mustCompile(t, e, "waf-scan", wasmsandbox.ClassWAF, wasmtest.WAFModule())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := e.Execute(context.Background(), mod, requestContext("/a/../b"))
				if err != nil {
					t.Errorf("Execute: %v", err)
					return
				}
				if !res.WAF.Blocked {
					t.Error("concurrent execution lost the verdict")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCompile_Rejections(t *testing.T) {
	e := newTestEngine(t, nil)
	entry := wasmsandbox.ClassWAF.EntryPoint()

	tests := []struct {
		name     string
		class    wasmsandbox.ModuleClass
		bytecode []byte
	}{
		{"garbage bytes", wasmsandbox.ClassWAF, []byte("not a wasm module")},
		{"unknown import", wasmsandbox.ClassWAF, wasmtest.BadImportModule(entry)},
		{"guest imports the meter charge", wasmsandbox.ClassWAF, wasmtest.MeterImportModule(entry)},
		{"memory over ceiling", wasmsandbox.ClassWAF, wasmtest.HugeMemoryModule(entry)},
		{"missing alloc export", wasmsandbox.ClassWAF, wasmtest.NoAllocModule(entry)},
		{"wrong entry point", wasmsandbox.ClassEdgeFunction, wasmtest.WAFModule()},
		{"invalid class", wasmsandbox.ModuleClass("bogus"), wasmtest.WAFModule()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Compile(context.Background(), "m", tt.class, tt.bytecode)
			if !sberrors.IsKind(err, sberrors.KindCompilation) {
				t.Fatalf("err = %v, want compilation error", err)
			}
		})
	}
}

func TestExecute_GuestUsesHostCache(t *testing.T) {
	// Two invocations share the engine cache through host state.
	cache := hostapi.NewMemoryCache()
	e, err := New(context.Background(), nil, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close(context.Background())

	if err := cache.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mod, err := e.Compile(context.Background(), "edge-header", wasmsandbox.ClassEdgeFunction, wasmtest.EdgeHeaderModule())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer mod.Close(context.Background())
	if _, err := e.Execute(context.Background(), mod, requestContext("/")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, ok, _ := cache.Get(context.Background(), "k"); !ok || string(got) != "v" {
		t.Errorf("cache entry lost across invocations: %q %v", got, ok)
	}
}
