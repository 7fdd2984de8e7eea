package loan

import (
	"math"
	"testing"
)

func TestScheduledPaymentAmortizesFully(t *testing.T) {
	cases := []struct {
		name          string
		balance       float64
		monthlyRate   float64
		remainingTerm int
	}{
		{"typical", 100000, 0.06 / 12, 120},
		{"zero rate", 50000, 0, 36},
		{"single month", 1000, 0.01, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payment := ScheduledPayment(tc.balance, tc.monthlyRate, tc.remainingTerm)

			balance := tc.balance
			for month := 0; month < tc.remainingTerm; month++ {
				interest := balance * tc.monthlyRate
				principal := payment - interest
				balance -= principal
			}

			if math.Abs(balance) > 1e-6 {
				t.Fatalf("balance did not fully amortise: left %v", balance)
			}
		})
	}
}

func TestEffectivePropertyValueImputesFromUPBAndLTV(t *testing.T) {
	l := Loan{UPB: 200000, LTV: 0.80}

	value, imputed := l.EffectivePropertyValue()
	if !imputed {
		t.Fatal("expected imputation when PropertyValue is unset")
	}

	want := 200000.0 / 0.80
	if math.Abs(value-want) > 1e-9 {
		t.Fatalf("got %v, want %v", value, want)
	}
}

func TestEffectivePropertyValueRespectsExplicitValue(t *testing.T) {
	l := Loan{UPB: 200000, LTV: 0.80, PropertyValue: 300000}

	value, imputed := l.EffectivePropertyValue()
	if imputed {
		t.Fatal("did not expect imputation when PropertyValue is set")
	}
	if value != 300000 {
		t.Fatalf("got %v, want 300000", value)
	}
}

func TestEffectiveDTIDefault(t *testing.T) {
	l := Loan{}
	v, imputed := l.EffectiveDTI()
	if !imputed || v != 36 {
		t.Fatalf("got (%v, %v), want (36, true)", v, imputed)
	}
}

func TestScenarioWeightEqualWhenUnset(t *testing.T) {
	cfg := SimulationConfig{Scenarios: []Scenario{{Name: "a"}, {Name: "b"}}}
	if w := cfg.ScenarioWeight("a"); math.Abs(w-0.5) > 1e-9 {
		t.Fatalf("got %v, want 0.5", w)
	}
}

func TestTreasuryCurveInterpolatesPiecewiseLinear(t *testing.T) {
	c := TreasuryCurve{PillarMonths: []int{0, 12, 24, 60}, Rates: []float64{0.03, 0.04, 0.045, 0.05}}

	if r := c.RateAt(6); math.Abs(r-0.035) > 1e-9 {
		t.Fatalf("got %v, want 0.035", r)
	}
	if r := c.RateAt(0); r != 0.03 {
		t.Fatalf("got %v, want 0.03", r)
	}
	if r := c.RateAt(100); r != 0.05 {
		t.Fatalf("got %v, want 0.05 (clamped)", r)
	}
}
