package hostapi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/aegisedge/wasm-sandbox/fuel"
)

// Namespace names guests import host functions from.
const (
	Namespace       = "aegis"
	LegacyNamespace = "env"
)

// surface enumerates every importable host function per namespace. The
// registry consults it when validating a module's import section. The
// metering charge is absent on purpose: instrumentation injects that
// import after validation, so a guest binary may not declare it itself.
var surface = map[string]map[string]struct{}{
	Namespace: {
		"log":                 {},
		"request_header_get":  {},
		"response_header_get": {},
		"response_header_set": {},
		"body_read":           {},
		"cache_get":           {},
		"cache_set":           {},
		"respond":             {},
		"clock_monotonic_us":  {},
		"get_shared_buffer":   {},
	},
	LegacyNamespace: {
		"log":               {},
		"cache_get":         {},
		"cache_set":         {},
		"get_shared_buffer": {},
	},
}

// Allowed reports whether a guest may import module.name.
func Allowed(module, name string) bool {
	names, ok := surface[module]
	if !ok {
		return false
	}
	_, ok = names[name]
	return ok
}

// Instantiate registers both host namespaces on the runtime. It must run
// once per wazero runtime before any guest is instantiated.
func Instantiate(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(Namespace)
	b.NewFunctionBuilder().WithFunc(consumeFuel).Export(fuel.ImportName)
	b.NewFunctionBuilder().WithFunc(hostLog).Export("log")
	b.NewFunctionBuilder().WithFunc(requestHeaderGet).Export("request_header_get")
	b.NewFunctionBuilder().WithFunc(responseHeaderGet).Export("response_header_get")
	b.NewFunctionBuilder().WithFunc(responseHeaderSet).Export("response_header_set")
	b.NewFunctionBuilder().WithFunc(bodyRead).Export("body_read")
	b.NewFunctionBuilder().WithFunc(cacheGet).Export("cache_get")
	b.NewFunctionBuilder().WithFunc(cacheSet).Export("cache_set")
	b.NewFunctionBuilder().WithFunc(respond).Export("respond")
	b.NewFunctionBuilder().WithFunc(clockMonotonicUs).Export("clock_monotonic_us")
	b.NewFunctionBuilder().WithFunc(getSharedBuffer).Export("get_shared_buffer")
	if _, err := b.Instantiate(ctx); err != nil {
		return err
	}

	legacy := r.NewHostModuleBuilder(LegacyNamespace)
	legacy.NewFunctionBuilder().WithFunc(hostLog).Export("log")
	legacy.NewFunctionBuilder().WithFunc(cacheGet).Export("cache_get")
	legacy.NewFunctionBuilder().WithFunc(cacheSet).Export("cache_set")
	legacy.NewFunctionBuilder().WithFunc(getSharedBuffer).Export("get_shared_buffer")
	if _, err := legacy.Instantiate(ctx); err != nil {
		return err
	}
	return nil
}

// consumeFuel drains the invocation meter. Exhaustion force-closes the
// instance so the exit surfaces as a resource error, never a completed
// call. Charges are always positive; anything else would refill the
// meter and is dropped.
func consumeFuel(ctx context.Context, mod api.Module, amount int64) {
	if amount <= 0 {
		return
	}
	m := fuel.FromContext(ctx)
	if m == nil {
		return
	}
	if !m.Consume(uint64(amount)) {
		_ = mod.CloseWithExitCode(ctx, fuel.ExhaustedExitCode)
		panic(sys.NewExitError(fuel.ExhaustedExitCode))
	}
}

func hostLog(ctx context.Context, mod api.Module, ptr, length uint32) {
	s := StateFromContext(ctx)
	if s == nil {
		return
	}
	if msg, ok := mod.Memory().Read(ptr, length); ok {
		s.LogMessage(string(msg))
	}
}

func requestHeaderGet(ctx context.Context, mod api.Module, namePtr, nameLen uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	name, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return codeError
	}
	return s.RequestHeader(string(name))
}

func responseHeaderGet(ctx context.Context, mod api.Module, namePtr, nameLen uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	name, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return codeError
	}
	return s.ResponseHeaderGet(string(name))
}

func responseHeaderSet(ctx context.Context, mod api.Module, namePtr, nameLen, valPtr, valLen uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	name, ok := mod.Memory().Read(namePtr, nameLen)
	if !ok {
		return codeError
	}
	value, ok := mod.Memory().Read(valPtr, valLen)
	if !ok {
		return codeError
	}
	return s.ResponseHeaderSet(string(name), string(value))
}

func bodyRead(ctx context.Context, mod api.Module, dstPtr, dstCap uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	dst, ok := mod.Memory().Read(dstPtr, dstCap)
	if !ok {
		return codeError
	}
	return s.BodyRead(dst)
}

func cacheGet(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	key, ok := mod.Memory().Read(keyPtr, keyLen)
	if !ok {
		return codeError
	}
	return s.CacheGet(ctx, string(key))
}

func cacheSet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen, ttlSecs uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	key, ok := mod.Memory().Read(keyPtr, keyLen)
	if !ok {
		return codeError
	}
	value, ok := mod.Memory().Read(valPtr, valLen)
	if !ok {
		return codeError
	}
	return s.CacheSet(ctx, string(key), value, ttlSecs)
}

func respond(ctx context.Context, mod api.Module, status, bodyPtr, bodyLen uint32) {
	s := StateFromContext(ctx)
	if s == nil {
		return
	}
	body, ok := mod.Memory().Read(bodyPtr, bodyLen)
	if !ok {
		return
	}
	s.Respond(status, body)
}

func clockMonotonicUs(ctx context.Context, _ api.Module) int64 {
	s := StateFromContext(ctx)
	if s == nil {
		return 0
	}
	return s.ClockMonotonicUs()
}

func getSharedBuffer(ctx context.Context, mod api.Module, dstPtr, offset, length uint32) int32 {
	s := StateFromContext(ctx)
	if s == nil {
		return codeError
	}
	dst, ok := mod.Memory().Read(dstPtr, length)
	if !ok {
		return codeError
	}
	return s.SharedRead(dst, offset)
}
