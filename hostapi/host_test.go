package hostapi

import (
	"context"
	"testing"

	"github.com/aegisedge/wasm-sandbox/fuel"
)

func TestConsumeFuel_DropsNonPositiveCharges(t *testing.T) {
	m := fuel.NewMeter(100)
	ctx := fuel.WithMeter(context.Background(), m)

	// A guest-forged negative charge must not refill the meter.
	consumeFuel(ctx, nil, -1_000_000)
	if got := m.Remaining(); got != 100 {
		t.Errorf("Remaining = %d after negative charge, want 100", got)
	}
	consumeFuel(ctx, nil, 0)
	if got := m.Remaining(); got != 100 {
		t.Errorf("Remaining = %d after zero charge, want 100", got)
	}

	consumeFuel(ctx, nil, 60)
	if got := m.Remaining(); got != 40 {
		t.Errorf("Remaining = %d after charging 60, want 40", got)
	}
}

func TestConsumeFuel_NoMeterIsNoop(t *testing.T) {
	consumeFuel(context.Background(), nil, 10)
}
