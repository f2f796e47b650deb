package fuel

import (
	"context"
	"sync/atomic"
)

// ImportModule and ImportName identify the charge function the
// instrumented module imports.
const (
	ImportModule = "aegis"
	ImportName   = "consume_fuel"
)

// ExhaustedExitCode is the exit code the engine uses to force-close an
// instance whose meter ran dry. It distinguishes fuel exhaustion from
// guest-initiated exits.
const ExhaustedExitCode uint32 = 0xF0E1

// Meter tracks the remaining fuel budget for one invocation.
type Meter struct {
	remaining atomic.Int64
}

// NewMeter returns a meter holding the given budget.
func NewMeter(budget uint64) *Meter {
	m := &Meter{}
	m.remaining.Store(int64(budget))
	return m
}

// Consume drains n units and reports whether the budget still holds.
func (m *Meter) Consume(n uint64) bool {
	return m.remaining.Add(-int64(n)) >= 0
}

// Remaining returns the unspent budget, zero when exhausted.
func (m *Meter) Remaining() uint64 {
	r := m.remaining.Load()
	if r < 0 {
		return 0
	}
	return uint64(r)
}

// Exhausted reports whether the budget ran dry.
func (m *Meter) Exhausted() bool {
	return m.remaining.Load() < 0
}

type meterKey struct{}

// WithMeter attaches a meter to the context for one invocation.
func WithMeter(ctx context.Context, m *Meter) context.Context {
	return context.WithValue(ctx, meterKey{}, m)
}

// FromContext returns the invocation's meter, or nil.
func FromContext(ctx context.Context) *Meter {
	m, _ := ctx.Value(meterKey{}).(*Meter)
	return m
}
