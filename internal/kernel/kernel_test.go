package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/internal/shaper"
)

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newFixtureManager(t *testing.T) *registry.Manager {
	t.Helper()
	root := t.TempDir()

	writeFixture(t, root, "manifest.json", `{
		"models": {"segmentation_tree": {"status": "real", "version": "1.0"}},
		"curve_variants": {"full_history": "survival/full_history.json"},
		"default_curve": "full_history"
	}`)

	writeFixture(t, root, "segmentation/tree_structure.json", `{
		"root": {"is_leaf": true, "leaf_id": 1},
		"leafs": {"1": {"sample_count": 100, "source_pop_count": 1000}}
	}`)

	survival := `{"1": [`
	for i := 0; i < 360; i++ {
		if i > 0 {
			survival += ","
		}
		survival += "0.999"
	}
	survival += `]}`
	writeFixture(t, root, "survival/full_history.json", survival)

	writeFixture(t, root, "apex2/credit_rates.json", `{"credit": {"bands": [{"label":"any","max":1000,"multiplier":1.0}]}, "credit_no_score": 1.0}`)
	writeFixture(t, root, "apex2/rate_delta_rates.json", `{"bands": [{"label":"any","max":1000,"multiplier":1.0}]}`)
	writeFixture(t, root, "apex2/ltv_rates.json", `{"bands": [{"label":"any","max":1000,"multiplier":1.0}]}`)
	writeFixture(t, root, "apex2/loan_size_rates.json", `{"bands": [{"label":"any","max":100000000,"multiplier":1.0}]}`)

	mgr, err := registry.NewManager(root, "")
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

func sampleLoan(id string, upb float64) loan.Loan {
	return loan.Loan{
		ID: id, UPB: upb, NoteRate: 0.06,
		OriginalTerm: 60, RemainingTerm: 60, AgeMonths: 0,
		CreditScore: 720, LTV: 0.8, PropertyValue: upb * 1.25,
	}
}

func TestResolveLoanFallbacksImputesMissingPropertyValueAndForeclosureState(t *testing.T) {
	l := loan.Loan{ID: "L1", UPB: 100000, LTV: 0.8}
	resolved, fallbacks := resolveLoanFallbacks(l)

	if resolved.PropertyValue != 100000/0.8 {
		t.Fatalf("got PropertyValue=%v, want %v", resolved.PropertyValue, 100000/0.8)
	}
	if resolved.ForeclosureState != loan.NonJudicial {
		t.Fatalf("got ForeclosureState=%v, want NonJudicial (no property state available)", resolved.ForeclosureState)
	}
	if len(fallbacks) != 2 {
		t.Fatalf("expected 2 imputation fallbacks (property value, foreclosure state), got %d: %+v", len(fallbacks), fallbacks)
	}
}

func TestResolveLoanFallbacksDerivesJudicialStateWithoutFlaggingIt(t *testing.T) {
	state := "NY"
	l := loan.Loan{ID: "L1", UPB: 100000, LTV: 0.8, PropertyValue: 125000, PropertyState: &state}
	resolved, fallbacks := resolveLoanFallbacks(l)

	if resolved.ForeclosureState != loan.Judicial {
		t.Fatalf("got ForeclosureState=%v, want Judicial for NY", resolved.ForeclosureState)
	}
	for _, fb := range fallbacks {
		if fb.ToTier == "imputed_foreclosure_state" {
			t.Fatalf("a recognised property state must not be flagged as imputed: %+v", fb)
		}
	}
}

func TestResolveLoanFallbacksRespectsExplicitlySetFields(t *testing.T) {
	l := loan.Loan{ID: "L1", UPB: 100000, LTV: 0.8, PropertyValue: 999, ForeclosureState: loan.Judicial}
	resolved, fallbacks := resolveLoanFallbacks(l)

	if resolved.PropertyValue != 999 {
		t.Fatalf("explicit PropertyValue must not be overwritten, got %v", resolved.PropertyValue)
	}
	if resolved.ForeclosureState != loan.Judicial {
		t.Fatalf("explicit ForeclosureState must not be overwritten, got %v", resolved.ForeclosureState)
	}
	if len(fallbacks) != 0 {
		t.Fatalf("expected no fallbacks when both fields are explicitly set, got %+v", fallbacks)
	}
}

func TestRunValuationSurfacesForeclosureStateFallbackInResult(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	l := loan.Loan{ID: "L1", UPB: 100000, NoteRate: 0.06, OriginalTerm: 60, RemainingTerm: 60, CreditScore: 720, LTV: 0.8}
	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{l}, PurchasePrice: 90000}
	cfg := loan.SimulationConfig{Draws: 1, PrepaySource: loan.PrepaySourceStub, FlatCDR: 0.01}

	res, err := k.RunValuation(context.Background(), pkg, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FallbackCount == 0 {
		t.Fatal("expected at least one imputation fallback for a loan with no property value/state")
	}
	found := false
	for _, fb := range res.Fallbacks {
		if fb.ToTier == "imputed_foreclosure_state" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an imputed_foreclosure_state fallback, got %+v", res.Fallbacks)
	}
}

func TestRunValuationEndToEnd(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{sampleLoan("L1", 100000)}, PurchasePrice: 90000}
	cfg := loan.SimulationConfig{Draws: 1, PrepaySource: loan.PrepaySourceStub, FlatCDR: 0.01}

	res, err := k.RunValuation(context.Background(), pkg, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalUPB != 100000 {
		t.Fatalf("got TotalUPB=%v, want 100000", res.TotalUPB)
	}
	if res.RequestID == "" {
		t.Fatal("expected a non-empty request id")
	}
	if len(res.LoanResults) != 1 {
		t.Fatalf("got %d loan results, want 1", len(res.LoanResults))
	}
}

func TestRunValuationRejectsInvalidLoanBeforeDispatch(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{sampleLoan("L1", -5)}}
	_, err := k.RunValuation(context.Background(), pkg, loan.SimulationConfig{})
	if err == nil {
		t.Fatal("expected InvalidInput error for non-positive UPB")
	}
}

func TestRunValuationRejectsEmptyPackage(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	_, err := k.RunValuation(context.Background(), loan.Package{ID: "P1"}, loan.SimulationConfig{})
	if err == nil {
		t.Fatal("expected InvalidInput error for an empty package")
	}
}

func TestRunBidAnalysisProducesRowsAroundDefaultCenter(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	pkg := loan.Package{ID: "P1", Loans: []loan.Loan{sampleLoan("L1", 100000)}}
	cfg := loan.SimulationConfig{Draws: 1, PrepaySource: loan.PrepaySourceStub, FlatCDR: 0.01}

	ladder, err := k.RunBidAnalysis(context.Background(), pkg, cfg, shaper.BidConfig{}, 0.08)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ladder.Rows) == 0 {
		t.Fatal("expected at least one bid ladder row")
	}
	for _, row := range ladder.Rows {
		if row.Price <= 0 {
			t.Fatalf("found non-positive price %v in ladder", row.Price)
		}
	}
}

func TestModelStatusReflectsCurrentRegistry(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	status, err := k.ModelStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.CurveVariant != "full_history" {
		t.Fatalf("got curve variant %q, want full_history", status.CurveVariant)
	}
	if _, ok := status.Models["segmentation_tree"]; !ok {
		t.Fatal("expected segmentation_tree model entry")
	}
}

func TestLeafDetailFindsKnownLeaf(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	view, err := k.LeafDetail(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.SampleCount != 100 {
		t.Fatalf("got sample count %d, want 100", view.SampleCount)
	}
}

func TestLeafDetailRejectsUnknownLeaf(t *testing.T) {
	k := New(newFixtureManager(t), 2, nil)
	defer k.Close()

	_, err := k.LeafDetail(context.Background(), 999)
	if err == nil {
		t.Fatal("expected an error for an unknown leaf id")
	}
}
