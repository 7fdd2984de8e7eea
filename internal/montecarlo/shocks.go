package montecarlo

import (
	"math"
	"math/rand/v2"

	"github.com/wyfcoding/mortgage-kernel/internal/projector"
)

// drawStream is a counter-based RNG source, independently seekable per
// (scenario, draw, loan): each gets its own PCG state so that a given draw's
// shock sequence never depends on how many other draws ran before it, which
// is what makes the distribution reproducible under a worker pool.
func drawStream(seed uint64, scenarioIdx, drawIdx, loanIdx int) *rand.Rand {
	hi := seed ^ uint64(scenarioIdx)<<48 ^ uint64(drawIdx)<<24 ^ uint64(loanIdx)
	lo := seed*2654435761 + uint64(scenarioIdx*1_000_003+drawIdx*97+loanIdx)
	return rand.New(rand.NewPCG(hi, lo))
}

// shockSeries builds the month-by-month shock multipliers for one loan
// within one (scenario, draw): a common macro factor shared by every loan
// in the draw, combined with this loan's own idiosyncratic noise per §4.5.
//
//	exp(sigma * (rho*Z + sqrt(1-rho^2)*eps))
//
// Prepayment shocks reuse the same factors with a smaller sigma and an
// opposite-sign macro loading, reflecting prepayment's procyclicality
// (borrowers refinance more when the macro factor is favourable, i.e. when
// default pressure Z is low).
func shockSeries(macroFactor []float64, idio *rand.Rand, sigma, rho float64) []projector.Shock {
	prepaySigma := sigma * 0.5
	rhoComplement := math.Sqrt(math.Max(0, 1-rho*rho))

	out := make([]projector.Shock, len(macroFactor))
	for t, z := range macroFactor {
		eps := standardNormal(idio)
		out[t] = projector.Shock{
			DefaultMult: math.Exp(sigma * (rho*z + rhoComplement*eps)),
			PrepayMult:  math.Exp(prepaySigma * (-rho*z + rhoComplement*eps)),
		}
	}
	return out
}

// macroFactorSeries draws the common economic factor Z_k[t] shared by every
// loan within one (scenario, draw) pair, one standard normal per month.
func macroFactorSeries(rng *rand.Rand, months int) []float64 {
	out := make([]float64, months)
	for t := range out {
		out[t] = standardNormal(rng)
	}
	return out
}

// standardNormal draws N(0,1) via the Box-Muller transform.
func standardNormal(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func identityShocks(months int) []projector.Shock {
	out := make([]projector.Shock, months)
	for i := range out {
		out[i] = projector.Shock{DefaultMult: 1, PrepayMult: 1}
	}
	return out
}
