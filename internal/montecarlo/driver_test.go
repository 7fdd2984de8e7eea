package montecarlo

import (
	"context"
	"math"
	"testing"

	"github.com/wyfcoding/mortgage-kernel/internal/hazard"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/projector"
)

func zeroHazardInput(l loan.Loan, scenarios []loan.Scenario) LoanInput {
	byScenario := make(map[string][]hazard.MonthlyHazard, len(scenarios))
	for _, sc := range scenarios {
		byScenario[sc.Name] = make([]hazard.MonthlyHazard, l.RemainingTerm)
	}
	return LoanInput{Loan: l, LeafID: 1, HazardsByScenario: byScenario}
}

func sampleLoan(id string, upb float64) loan.Loan {
	return loan.Loan{
		ID: id, UPB: upb, NoteRate: 0.06,
		OriginalTerm: 120, RemainingTerm: 120, AgeMonths: 0,
		CreditScore: 720, LTV: 0.8, PropertyValue: upb * 1.25,
	}
}

func TestRunDeterministicSingleDrawMatchesProjectorDirectly(t *testing.T) {
	d := New(2, nil)
	defer d.Close()

	scenario := loan.BaselineScenario()
	l := sampleLoan("L1", 100000)
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{l}}
	cfg := loan.SimulationConfig{
		Draws: 1, Scenarios: []loan.Scenario{scenario}, IncludeStochastic: false,
		DiscountRate: 0.06, ServicingBps: 0, RecoveryRate: 0, LiquidationCost: 0,
	}

	res, err := d.Run(context.Background(), pkg, []LoanInput{zeroHazardInput(l, cfg.Scenarios)}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	direct, err := projector.Project(l, zeroHazardInput(l, cfg.Scenarios).HazardsByScenario[scenario.Name], scenario, cfg.Normalized(), nil)
	if err != nil {
		t.Fatalf("unexpected projector error: %v", err)
	}
	if math.Abs(res.ExpectedNPV-direct.PV) > 1e-9*l.UPB {
		t.Fatalf("ExpectedNPV=%v, want projector PV %v", res.ExpectedNPV, direct.PV)
	}
	if res.DrawsCompleted != 1 {
		t.Fatalf("got %d draws completed, want 1", res.DrawsCompleted)
	}
}

func TestRunIsReproducibleWithSameSeed(t *testing.T) {
	d := New(4, nil)
	defer d.Close()

	l := sampleLoan("L1", 200000)
	scenario := loan.BaselineScenario()
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{l}}
	seed := uint64(42)
	cfg := loan.SimulationConfig{
		Draws: 10, Scenarios: []loan.Scenario{scenario}, IncludeStochastic: true,
		Seed: &seed, DiscountRate: 0.06, Sigma: 0.15, Rho: 0.30,
	}
	hs := zeroHazardInput(l, cfg.Scenarios)
	for i := range hs.HazardsByScenario[scenario.Name] {
		hs.HazardsByScenario[scenario.Name][i] = hazard.MonthlyHazard{Default: 0.002, Prepay: 0.01}
	}

	res1, err := d.Run(context.Background(), pkg, []LoanInput{hs}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res2, err := d.Run(context.Background(), pkg, []LoanInput{hs}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res1.NPVDistribution) != len(res2.NPVDistribution) {
		t.Fatalf("distribution length mismatch: %d vs %d", len(res1.NPVDistribution), len(res2.NPVDistribution))
	}
	for i := range res1.NPVDistribution {
		if res1.NPVDistribution[i] != res2.NPVDistribution[i] {
			t.Fatalf("draw %d not reproducible: %v vs %v", i, res1.NPVDistribution[i], res2.NPVDistribution[i])
		}
	}
}

func TestRunPercentilesAreOrdered(t *testing.T) {
	d := New(4, nil)
	defer d.Close()

	l := sampleLoan("L1", 150000)
	scenario := loan.BaselineScenario()
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{l}}
	seed := uint64(7)
	cfg := loan.SimulationConfig{
		Draws: 50, Scenarios: []loan.Scenario{scenario}, IncludeStochastic: true,
		Seed: &seed, DiscountRate: 0.06, Sigma: 0.15, Rho: 0.30,
	}
	hs := zeroHazardInput(l, cfg.Scenarios)
	for i := range hs.HazardsByScenario[scenario.Name] {
		hs.HazardsByScenario[scenario.Name][i] = hazard.MonthlyHazard{Default: 0.003, Prepay: 0.015}
	}

	res, err := d.Run(context.Background(), pkg, []LoanInput{hs}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := res.Percentiles
	if !(p.P5 <= p.P25 && p.P25 <= p.P50 && p.P50 <= p.P75 && p.P75 <= p.P95) {
		t.Fatalf("percentiles not ordered: %+v", p)
	}
}

func TestRunScenarioMonotonicity(t *testing.T) {
	d := New(4, nil)
	defer d.Close()

	l := sampleLoan("L1", 150000)
	baseline := loan.BaselineScenario()
	mild := loan.Scenario{Name: "mild_recession", DefaultMult: 1.5, PrepayMult: 1.0, RecoveryMult: 0.9}
	severe := loan.Scenario{Name: "severe_recession", DefaultMult: 3.0, PrepayMult: 1.0, RecoveryMult: 0.7}
	scenarios := []loan.Scenario{baseline, mild, severe}

	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{l}}
	cfg := loan.SimulationConfig{
		Draws: 1, Scenarios: scenarios, IncludeStochastic: false,
		DiscountRate: 0.06, RecoveryRate: 0.55, LiquidationCost: 0.08,
	}

	byScenario := make(map[string][]hazard.MonthlyHazard, len(scenarios))
	for _, sc := range scenarios {
		hz := make([]hazard.MonthlyHazard, l.RemainingTerm)
		for i := range hz {
			hz[i] = hazard.MonthlyHazard{Default: 0.003 * sc.DefaultMult, Prepay: 0.01}
		}
		byScenario[sc.Name] = hz
	}
	input := LoanInput{Loan: l, LeafID: 1, HazardsByScenario: byScenario}

	res, err := d.Run(context.Background(), pkg, []LoanInput{input}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	base := res.NPVByScenario["baseline"]
	mildNPV := res.NPVByScenario["mild_recession"]
	sev := res.NPVByScenario["severe_recession"]
	if !(base >= mildNPV && mildNPV >= sev) {
		t.Fatalf("expected baseline >= mild >= severe, got %v, %v, %v", base, mildNPV, sev)
	}
}

func TestRunIsolatesNumericErrorToTheAffectedLoan(t *testing.T) {
	d := New(2, nil)
	defer d.Close()

	good := sampleLoan("L1", 150000)
	bad := sampleLoan("L2", 150000)
	bad.NoteRate = math.NaN() // forces a non-finite present value on month 1

	scenario := loan.BaselineScenario()
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{good, bad}}
	cfg := loan.SimulationConfig{
		Draws: 1, Scenarios: []loan.Scenario{scenario}, IncludeStochastic: false,
		DiscountRate: 0.06, RecoveryRate: 0.55, LiquidationCost: 0.08,
	}

	inputs := []LoanInput{zeroHazardInput(good, cfg.Scenarios), zeroHazardInput(bad, cfg.Scenarios)}
	res, err := d.Run(context.Background(), pkg, inputs, cfg)
	if err != nil {
		t.Fatalf("numeric failure on one loan must not abort the package: %v", err)
	}
	if len(res.FlaggedLoanIDs) != 1 || res.FlaggedLoanIDs[0] != "L2" {
		t.Fatalf("expected L2 flagged, got %v", res.FlaggedLoanIDs)
	}

	var goodResult, badResult LoanResult
	for _, lr := range res.LoanResults {
		switch lr.LoanID {
		case "L1":
			goodResult = lr
		case "L2":
			badResult = lr
		}
	}
	if goodResult.NumericFailures != 0 || goodResult.ExpectedPV <= 0 {
		t.Fatalf("L1 should be unaffected by L2's numeric error, got %+v", goodResult)
	}
	if badResult.NumericFailures != 1 || len(badResult.PVDistribution) != 0 {
		t.Fatalf("L2 should be excluded from the draw, got %+v", badResult)
	}
}

func TestRunFailsFastOnInvalidInputAcrossTheWholePackage(t *testing.T) {
	d := New(2, nil)
	defer d.Close()

	good := sampleLoan("L1", 150000)
	badTerm := sampleLoan("L2", 150000)
	badTerm.RemainingTerm = 0 // Project rejects this as InvalidInput, not isolatable

	scenario := loan.BaselineScenario()
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{good, badTerm}}
	cfg := loan.SimulationConfig{
		Draws: 1, Scenarios: []loan.Scenario{scenario}, IncludeStochastic: false,
		DiscountRate: 0.06, RecoveryRate: 0.55, LiquidationCost: 0.08,
	}

	inputs := []LoanInput{zeroHazardInput(good, cfg.Scenarios), {Loan: badTerm, LeafID: 1, HazardsByScenario: map[string][]hazard.MonthlyHazard{scenario.Name: nil}}}
	_, err := d.Run(context.Background(), pkg, inputs, cfg)
	if err == nil {
		t.Fatal("expected InvalidInput to fail the whole package")
	}
}

func TestRunRejectsEmptyPackage(t *testing.T) {
	d := New(2, nil)
	defer d.Close()

	_, err := d.Run(context.Background(), loan.Package{}, nil, loan.SimulationConfig{})
	if err == nil {
		t.Fatal("expected error for empty package")
	}
}
