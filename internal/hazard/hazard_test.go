package hazard

import (
	"context"
	"testing"
	"time"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
)

func fixtureRegistry() *registry.Registry {
	curve := registry.SurvivalCurve{LeafID: 1}
	curve.S[0] = 1.0
	for t := 1; t <= 360; t++ {
		curve.S[t] = curve.S[t-1] * 0.999
	}
	return &registry.Registry{
		Curves: map[int]registry.SurvivalCurve{1: curve},
		Apex2: registry.Apex2Tables{
			Credit:        registry.BandTable{{Label: "a", Max: 850, Multiplier: 1.2}},
			CreditNoScore: 1.3,
			RateDelta:     registry.BandTable{{Label: "a", Max: 100, Multiplier: 1.0}},
			LTV:           registry.BandTable{{Label: "a", Max: 200, Multiplier: 1.0}},
			LoanSize:      registry.BandTable{{Label: "a", Max: 1e9, Multiplier: 1.0}},
		},
	}
}

func sampleLoan() loan.Loan {
	return loan.Loan{
		ID: "L1", UPB: 200000, NoteRate: 0.06,
		OriginalTerm: 360, RemainingTerm: 120, AgeMonths: 240,
		CreditScore: 720, LTV: 0.80,
	}
}

func TestDecomposeFromCurveHazardsSumBelowOne(t *testing.T) {
	d := New(fixtureRegistry(), nil)
	cfg := loan.SimulationConfig{FlatCDR: 0.02, SeasoningRampR: 30, DefaultShareAlpha: 0.5}.Normalized()
	cfg.PrepaySource = loan.PrepaySourceKMWithFlatDefault

	hs, err := d.Decompose(context.Background(), 1, sampleLoan(), loan.BaselineScenario(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hs) != sampleLoan().RemainingTerm {
		t.Fatalf("got %d months, want %d", len(hs), sampleLoan().RemainingTerm)
	}
	for i, h := range hs {
		if h.Default+h.Prepay > 1.0000001 {
			t.Fatalf("month %d: default+prepay=%v exceeds 1", i+1, h.Default+h.Prepay)
		}
		if h.Default < 0 || h.Prepay < 0 {
			t.Fatalf("month %d: negative hazard %+v", i+1, h)
		}
	}
}

func TestDecomposeKMAllSplitsByAlpha(t *testing.T) {
	d := New(fixtureRegistry(), nil)
	cfg := loan.SimulationConfig{DefaultShareAlpha: 0.3}.Normalized()
	cfg.PrepaySource = loan.PrepaySourceKMAll

	hs, err := d.Decompose(context.Background(), 1, sampleLoan(), loan.BaselineScenario(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, h := range hs {
		total := h.Default + h.Prepay
		if total <= 0 {
			continue
		}
		share := h.Default / total
		if share < 0.29 || share > 0.31 {
			t.Fatalf("month %d: default share=%v, want ~0.3", i+1, share)
		}
	}
}

func TestDecomposeAPEX2HasNoPrepayHazardButExtraPrincipal(t *testing.T) {
	d := New(fixtureRegistry(), nil)
	cfg := loan.SimulationConfig{FlatCDR: 0.01, SeasoningRampR: 30}.Normalized()
	cfg.PrepaySource = loan.PrepaySourceAPEX2

	hs, err := d.Decompose(context.Background(), 1, sampleLoan(), loan.BaselineScenario(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, h := range hs {
		if h.Prepay != 0 {
			t.Fatalf("month %d: apex2 mode must not set Prepay, got %v", i+1, h.Prepay)
		}
		if h.ExtraPrincipal < 0 {
			t.Fatalf("month %d: negative extra principal", i+1)
		}
	}
}

func TestDecomposeScenarioMultipliersApply(t *testing.T) {
	d := New(fixtureRegistry(), nil)
	cfg := loan.SimulationConfig{FlatCDR: 0.02}.Normalized()
	cfg.PrepaySource = loan.PrepaySourceStub

	baseline := loan.BaselineScenario()
	stressed := loan.Scenario{Name: "severe", DefaultMult: 2.0, PrepayMult: 1.0, RecoveryMult: 1.0}

	base, _ := d.Decompose(context.Background(), 1, sampleLoan(), baseline, cfg)
	stress, _ := d.Decompose(context.Background(), 1, sampleLoan(), stressed, cfg)

	for i := range base {
		if stress[i].Default < base[i].Default {
			t.Fatalf("month %d: stressed default %v should be >= baseline %v", i+1, stress[i].Default, base[i].Default)
		}
	}
}

func TestAnnualToMonthlyBoundaries(t *testing.T) {
	if got := annualToMonthly(0); got != 0 {
		t.Fatalf("annualToMonthly(0)=%v, want 0", got)
	}
	if got := annualToMonthly(1); got != 1 {
		t.Fatalf("annualToMonthly(1)=%v, want 1", got)
	}
	if got := annualToMonthly(-0.5); got != 0 {
		t.Fatalf("annualToMonthly(negative)=%v, want 0", got)
	}
}

func TestSeasoningRampClampsToOne(t *testing.T) {
	if got := seasoningRamp(0, 30); got != 0 {
		t.Fatalf("seasoningRamp(0,30)=%v, want 0", got)
	}
	if got := seasoningRamp(30, 30); got != 1 {
		t.Fatalf("seasoningRamp(30,30)=%v, want 1", got)
	}
	if got := seasoningRamp(60, 30); got != 1 {
		t.Fatalf("seasoningRamp(60,30)=%v, want 1 (clamped)", got)
	}
	if got := seasoningRamp(10, 0); got != 1 {
		t.Fatalf("seasoningRamp with zero window should return 1, got %v", got)
	}
}

type fakeCache struct {
	store map[string]any
	hits  int
}

func (f *fakeCache) Get(_ context.Context, key string, value interface{}) error {
	v, ok := f.store[key]
	if !ok {
		return errNotFound
	}
	full := value.(*[360]MonthlyHazard)
	*full = v.([360]MonthlyHazard)
	f.hits++
	return nil
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.store[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.store, k)
	}
	return nil
}

func (f *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.store[key]
	return ok, nil
}

func (f *fakeCache) Close() error { return nil }

var errNotFound = &cacheMissError{}

type cacheMissError struct{}

func (e *cacheMissError) Error() string { return "cache miss" }

func TestNonAPEX2ModeIsMemoized(t *testing.T) {
	fc := &fakeCache{store: map[string]any{}}
	d := New(fixtureRegistry(), fc)
	cfg := loan.SimulationConfig{FlatCDR: 0.02}.Normalized()
	cfg.PrepaySource = loan.PrepaySourceKMWithFlatDefault

	_, err := d.Decompose(context.Background(), 1, sampleLoan(), loan.BaselineScenario(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = d.Decompose(context.Background(), 1, sampleLoan(), loan.BaselineScenario(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.hits != 1 {
		t.Fatalf("got %d cache hits, want 1 (second call should hit cache)", fc.hits)
	}
}
