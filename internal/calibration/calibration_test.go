package calibration

import "testing"

func TestCalibrateLoanWithinTolerance(t *testing.T) {
	m := CalibrateLoan(100000, 100500)
	if !m.WithinTolerance {
		t.Fatalf("got relative error %v%%, want within %v%%", m.RelativeErrorPct, TrackBVsTrackAThresholdPct)
	}
}

func TestCalibrateLoanExceedsTolerance(t *testing.T) {
	m := CalibrateLoan(100000, 110000)
	if m.WithinTolerance {
		t.Fatal("expected a 10% PV gap to exceed tolerance")
	}
}

func TestCalibrateLoanZeroTrackAPVIsWithinTolerance(t *testing.T) {
	m := CalibrateLoan(0, 0)
	if !m.WithinTolerance {
		t.Fatal("expected a zero/zero comparison to be within tolerance")
	}
}

func TestCalibratePackageRequiresPVAndROEBothWithinTolerance(t *testing.T) {
	failROE := CalibratePackage(100000, 100500, 0.05, 0.07)
	if failROE.WithinTolerance {
		t.Fatal("expected failure: a 200bps ROE gap exceeds the 50bps tolerance")
	}

	passBoth := CalibratePackage(100000, 100500, 0.05, 0.0505)
	if !passBoth.WithinTolerance {
		t.Fatalf("expected both gates to pass, got %+v", passBoth)
	}
}

func TestCalibratePackageFailsOnPVAloneEvenWithMatchingROE(t *testing.T) {
	m := CalibratePackage(100000, 110000, 0.05, 0.05)
	if m.WithinTolerance {
		t.Fatal("expected failure: a 10% PV gap exceeds tolerance regardless of ROE match")
	}
}
