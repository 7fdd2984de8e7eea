package segmentation

import "github.com/wyfcoding/mortgage-kernel/internal/loan"

// HardcodedBucket is tier 3 of the leaf assigner: a fixed 5-bucket
// classifier on credit score x LTV, used only when neither the decision
// tree nor the rules table are available. Lower bucket numbers are
// riskier; a high LTV pushes a loan into a riskier bucket.
func HardcodedBucket(score int, ltv float64) int {
	bucket := 1
	switch {
	case score == loan.NoScoreSentinel:
		bucket = 1
	case score < 620:
		bucket = 1
	case score < 680:
		bucket = 2
	case score < 740:
		bucket = 3
	case score < 780:
		bucket = 4
	default:
		bucket = 5
	}

	if ltv > 0.90 && bucket > 1 {
		bucket--
	}

	return bucket
}
