package shaper

import (
	"math"
	"testing"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/montecarlo"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/internal/tracka"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

func TestShapePackageResultComputesROEFromPurchasePrice(t *testing.T) {
	mc := montecarlo.PackageResult{
		NPVDistribution: []float64{100000, 100000, 100000},
		NPVByScenario:   map[string]float64{"baseline": 100000},
		ExpectedNPV:     100000,
		TotalUPB:        100000,
		DrawsCompleted:  3,
	}

	fallbacks := []xerrors.ModelFallback{{LoanID: "L1", FromTier: "tree", ToTier: "rules", Reason: "feature missing"}}
	res, err := ShapePackageResult(mc, 100000, registry.ModelManifestView{}, fallbacks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FallbackCount != 1 {
		t.Fatalf("got FallbackCount=%v, want 1", res.FallbackCount)
	}
	if res.Track != loan.TrackB {
		t.Fatalf("got Track=%v, want %v", res.Track, loan.TrackB)
	}
	for _, roe := range res.ROEDistribution {
		if math.Abs(roe) > 1e-9 {
			t.Fatalf("got roe=%v, want 0 at par price", roe)
		}
	}
	if res.ROEPercentiles.P50 != 0 {
		t.Fatalf("median ROE=%v, want 0", res.ROEPercentiles.P50)
	}
}

func TestShapePackageResultPropagatesCancelled(t *testing.T) {
	res, err := ShapePackageResult(montecarlo.PackageResult{Cancelled: true}, 100000, registry.ModelManifestView{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Cancelled {
		t.Fatal("expected Cancelled=true to propagate")
	}
	if res.RequestID == "" {
		t.Fatal("expected a request id even on a cancelled result")
	}
}

func TestBuildBidLadderParPriceHasZeroROE(t *testing.T) {
	npv := make([]float64, 100)
	for i := range npv {
		npv[i] = 100000
	}
	cfg := BidConfig{CenterPrice: 100000, Increment: 10000, TargetROE: 0}

	ladder, err := BuildBidLadder(npv, 10, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parRow *BidRow
	for i := range ladder.Rows {
		if ladder.Rows[i].Price == 100000 {
			parRow = &ladder.Rows[i]
		}
	}
	if parRow == nil {
		t.Fatal("expected a row at the par price")
	}
	if math.Abs(parRow.ExpectedROE) > 1e-9 {
		t.Fatalf("got expected ROE=%v, want 0", parRow.ExpectedROE)
	}
	if math.Abs(parRow.AnnualizedROE) > 1e-9 {
		t.Fatalf("got annualized ROE=%v, want 0", parRow.AnnualizedROE)
	}
	if math.Abs(parRow.ProbROEAboveTarget-1.0) > 1e-9 {
		t.Fatalf("got p(ROE>=0)=%v, want 1.0", parRow.ProbROEAboveTarget)
	}
}

func TestBuildBidLadderSkipsNonPositivePrices(t *testing.T) {
	npv := []float64{1000, 2000, 3000}
	cfg := BidConfig{CenterPrice: 5000, Increment: 10000, TargetROE: 0}

	ladder, err := BuildBidLadder(npv, 5, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range ladder.Rows {
		if row.Price <= 0 {
			t.Fatalf("found non-positive price %v in ladder", row.Price)
		}
	}
}

func TestBuildBidLadderRejectsEmptyDistribution(t *testing.T) {
	_, err := BuildBidLadder(nil, 5, BidConfig{CenterPrice: 100000, Increment: 10000})
	if err == nil {
		t.Fatal("expected error for empty distribution")
	}
}

func TestDefaultBidConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultBidConfig(123456, 0.08)
	if cfg.CenterPrice != math.Round(123456*0.90) {
		t.Fatalf("got center price %v, want round(upb*0.9)", cfg.CenterPrice)
	}
	if cfg.Increment != 10000 {
		t.Fatalf("got increment %v, want 10000", cfg.Increment)
	}
}

func TestShapeTrackAResultSetsTrackAFields(t *testing.T) {
	tr := tracka.PackageResult{
		TotalUPB:    100000,
		ExpectedNPV: 102000,
		LoanResults: []tracka.LoanResult{{LoanID: "L1", LeafID: 2, ExpectedPV: 102000}},
	}
	res := ShapeTrackAResult(tr, 100000, registry.ModelManifestView{}, nil)
	if res.Track != loan.TrackA {
		t.Fatalf("got Track=%v, want %v", res.Track, loan.TrackA)
	}
	if res.ExpectedNPV != 102000 {
		t.Fatalf("got ExpectedNPV=%v, want 102000", res.ExpectedNPV)
	}
	wantROE := (102000.0 - 100000.0) / 100000.0
	if math.Abs(res.TrackAExpectedROE-wantROE) > 1e-9 {
		t.Fatalf("got TrackAExpectedROE=%v, want %v", res.TrackAExpectedROE, wantROE)
	}
}

func TestAttachCalibrationSetsWithinToleranceOnMatchingTracks(t *testing.T) {
	mc := montecarlo.PackageResult{
		NPVDistribution: []float64{102000, 102000},
		ExpectedNPV:     102000,
		TotalUPB:        100000,
		DrawsCompleted:  2,
	}
	res, err := ShapePackageResult(mc, 100000, registry.ModelManifestView{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	trackA := tracka.PackageResult{ExpectedNPV: 102000, TotalUPB: 100000}
	combined := AttachCalibration(res, trackA, 100000)

	if combined.Track != loan.TrackBoth {
		t.Fatalf("got Track=%v, want %v", combined.Track, loan.TrackBoth)
	}
	if combined.Calibration == nil || !combined.Calibration.WithinTolerance {
		t.Fatalf("expected identical tracks to calibrate within tolerance, got %+v", combined.Calibration)
	}
}
