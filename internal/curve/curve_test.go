package curve

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func sampleCurve(t *testing.T) []types.DepthPoint {
	t.Helper()
	return []types.DepthPoint{
		{AmountInRaw: big.NewInt(100), AmountOutRaw: big.NewInt(99), ImpactBps: mustDecimal(t, "10")},
		{AmountInRaw: big.NewInt(200), AmountOutRaw: big.NewInt(196), ImpactBps: mustDecimal(t, "20")},
		{AmountInRaw: big.NewInt(300), AmountOutRaw: big.NewInt(288), ImpactBps: mustDecimal(t, "40")},
	}
}

func TestEvaluate_EmptyCurve(t *testing.T) {
	t.Parallel()
	_, _, err := Evaluate(nil, big.NewInt(100), decimal.NewFromInt(1))
	if err != ErrEmptyCurve {
		t.Fatalf("got %v, want ErrEmptyCurve", err)
	}
}

func TestEvaluate_NonMonotone(t *testing.T) {
	t.Parallel()
	curve := []types.DepthPoint{
		{AmountInRaw: big.NewInt(200), AmountOutRaw: big.NewInt(196), ImpactBps: decimal.Zero},
		{AmountInRaw: big.NewInt(100), AmountOutRaw: big.NewInt(99), ImpactBps: decimal.Zero},
	}
	_, _, err := Evaluate(curve, big.NewInt(150), decimal.NewFromInt(1))
	if err != ErrNonMonotoneCurve {
		t.Fatalf("got %v, want ErrNonMonotoneCurve", err)
	}
}

func TestEvaluate_ExactPoint(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	out, _, err := Evaluate(curve, big.NewInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("got %v, want 99", out)
	}
}

func TestEvaluate_InterpolatesBetweenPoints(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	out, _, err := Evaluate(curve, big.NewInt(150), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// halfway between (100,99) and (200,196) -> 99 + 0.5*(196-99) = 147.5 -> truncated 147
	if out.Cmp(big.NewInt(147)) != 0 {
		t.Fatalf("got %v, want 147", out)
	}
}

func TestEvaluate_InterpolatesBeforeFirstPoint(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	out, _, err := Evaluate(curve, big.NewInt(50), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// halfway between origin (0,0) and (100,99) -> 49.5 -> truncated 49
	if out.Cmp(big.NewInt(49)) != 0 {
		t.Fatalf("got %v, want 49", out)
	}
}

func TestEvaluate_SaturatesPastLastPoint(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	out, impact, err := Evaluate(curve, big.NewInt(1000), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(big.NewInt(288)) != 0 {
		t.Fatalf("got %v, want 288 (last point, saturated)", out)
	}
	// saturation returns the last point's stated impact unchanged, not a
	// recompute against the oversized sellAmount (spec.md §8).
	want := mustDecimal(t, "40")
	if !impact.Equal(want) {
		t.Fatalf("got impact %v, want %v", impact, want)
	}
}

func TestEvaluate_ZeroMidFallsBackToCurveImpact(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	_, impact, err := Evaluate(curve, big.NewInt(100), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !impact.Equal(mustDecimal(t, "10")) {
		t.Fatalf("got %v, want fallback curve impact 10", impact)
	}
}

func TestEvaluate_RecomputesImpactFromExecutionPrice(t *testing.T) {
	t.Parallel()
	curve := sampleCurve(t)
	mid := mustDecimal(t, "0.99")
	_, impact, err := Evaluate(curve, big.NewInt(100), mid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// execPrice = 99/100 = 0.99, mid = 0.99 -> impact 0
	if !impact.Equal(decimal.Zero) {
		t.Fatalf("got %v, want 0", impact)
	}
}
