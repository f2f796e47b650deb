package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	"github.com/aegisedge/wasm-sandbox/engine"
	sberrors "github.com/aegisedge/wasm-sandbox/errors"
)

// record binds a published module to its metadata. Records are immutable
// once published; reload publishes a new record and retires the old one,
// whose compiled artifact is reclaimed once the calls pinning it drain.
type record struct {
	meta   wasmsandbox.Metadata
	module *engine.Module

	inFlight atomic.Int64
	retired  atomic.Bool
	closed   atomic.Bool
}

// acquire pins the record for one execution. It fails when the record
// was retired between snapshot resolution and the pin; the caller must
// re-resolve the snapshot.
func (rec *record) acquire() bool {
	rec.inFlight.Add(1)
	if rec.retired.Load() {
		rec.release()
		return false
	}
	return true
}

// release drops a pin. The last pin on a retired record reclaims its
// compiled artifact.
func (rec *record) release() {
	if rec.inFlight.Add(-1) == 0 && rec.retired.Load() {
		rec.reclaim()
	}
}

// retire marks the record displaced. Reclamation happens now when no
// call pins it, otherwise when the last pinned call drains.
func (rec *record) retire() {
	rec.retired.Store(true)
	if rec.inFlight.Load() == 0 {
		rec.reclaim()
	}
}

func (rec *record) reclaim() {
	if rec.closed.CompareAndSwap(false, true) {
		// Reclamation must not inherit any request deadline.
		_ = rec.module.Close(context.Background())
	}
}

// Entry is one published module as seen by List.
type Entry struct {
	ID       string
	Metadata wasmsandbox.Metadata
}

// Registry holds the published modules. All methods are safe for
// concurrent use; reads resolve one atomic snapshot pointer and writers
// serialize on a mutex while building the next snapshot.
type Registry struct {
	engine  *engine.Engine
	metrics *Metrics

	group    singleflight.Group
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]*record]
}

// New builds a registry on top of eng. A nil metrics disables
// observation.
func New(eng *engine.Engine, metrics *Metrics) *Registry {
	r := &Registry{engine: eng, metrics: metrics}
	empty := map[string]*record{}
	r.snapshot.Store(&empty)
	return r
}

// Load compiles bytecode and publishes it under id, replacing any
// previous module with that id. Identical concurrent loads compile once.
func (r *Registry) Load(ctx context.Context, id string, bytecode []byte, meta wasmsandbox.Metadata) error {
	if id == "" {
		return sberrors.Compilation(id, "module id is required", nil)
	}
	if meta.Name == "" {
		meta.Name = id
	}

	sum := sha256.Sum256(bytecode)
	key := id + ":" + string(meta.Class) + ":" + hex.EncodeToString(sum[:])
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.engine.Compile(ctx, id, meta.Class, bytecode)
	})
	if err != nil {
		return err
	}
	meta.LoadedAt = time.Now()
	r.publish(id, &record{meta: meta, module: v.(*engine.Module)})

	Logger().Info("module loaded",
		zap.String("module", id),
		zap.String("class", string(meta.Class)),
		zap.String("version", meta.Version),
		zap.Int("size", len(bytecode)))
	return nil
}

// LoadFile reads a module binary from path and loads it. When the
// metadata carries no origin ref, the path becomes one.
func (r *Registry) LoadFile(ctx context.Context, id, path string, meta wasmsandbox.Metadata) error {
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return sberrors.Compilation(id, fmt.Sprintf("reading %s", path), err)
	}
	if meta.OriginRef == "" {
		meta.OriginRef = path
	}
	return r.Load(ctx, id, bytecode, meta)
}

// Unload removes id from the registry. In-flight calls that already
// pinned the record finish against it; the compiled artifact is
// reclaimed when they drain.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	rec, ok := cur[id]
	if !ok {
		return sberrors.ModuleNotFound(id)
	}
	next := make(map[string]*record, len(cur)-1)
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
	rec.retire()
	r.metrics.setLoaded(len(next))

	Logger().Info("module unloaded", zap.String("module", id))
	return nil
}

// List returns the published modules sorted by id.
func (r *Registry) List() []Entry {
	cur := *r.snapshot.Load()
	out := make([]Entry, 0, len(cur))
	for id, rec := range cur {
		out = append(out, Entry{ID: id, Metadata: rec.meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Metadata returns the metadata published under id.
func (r *Registry) Metadata(id string) (wasmsandbox.Metadata, error) {
	if rec, ok := (*r.snapshot.Load())[id]; ok {
		return rec.meta, nil
	}
	return wasmsandbox.Metadata{}, sberrors.ModuleNotFound(id)
}

// Execute runs the module published under id against execCtx.
func (r *Registry) Execute(ctx context.Context, id string, execCtx *wasmsandbox.ExecutionContext) (*wasmsandbox.ExecutionResult, error) {
	var rec *record
	for {
		cur, ok := (*r.snapshot.Load())[id]
		if !ok {
			return nil, sberrors.ModuleNotFound(id)
		}
		// A lost race against retire re-resolves the snapshot, which
		// already carries the replacement (or the removal).
		if cur.acquire() {
			rec = cur
			break
		}
	}
	defer rec.release()

	start := time.Now()
	res, err := r.engine.Execute(ctx, rec.module, execCtx)
	r.metrics.observe(string(rec.meta.Class), time.Since(start), err)
	if err != nil {
		Logger().Warn("module execution failed",
			zap.String("module", id), zap.Error(err))
	}
	return res, err
}

// publish swaps in a snapshot containing rec under id. A replaced
// record is retired after the swap so calls that already pinned it
// finish against it before its artifact is reclaimed.
func (r *Registry) publish(id string, rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	next := make(map[string]*record, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = rec
	r.snapshot.Store(&next)
	if old, ok := cur[id]; ok {
		old.retire()
	}
	r.metrics.setLoaded(len(next))
}
