// Package calibration 度量 internal/tracka 的确定性复现与
// internal/montecarlo 的随机投影之间的差异，应用参考定价表所要求的
// 容差门限。
package calibration

import "math"

// 参考定价表要求的硬性容差门限。
const (
	// TrackBVsTrackAThresholdPct 是 PV 相对误差容差上限（百分比）。
	TrackBVsTrackAThresholdPct = 2.5
	// ROEToleranceBps 是 ROE 绝对差容差上限（基点）。
	ROEToleranceBps = 50.0
)

// Metrics 是一对 Track A/Track B 结果之间的比较。
type Metrics struct {
	TrackAPV         float64
	TrackBPV         float64
	AbsoluteError    float64
	RelativeErrorPct float64
	HasROE           bool
	ROEA             float64
	ROEB             float64
	ROEDiffBps       float64
	TolerancePct     float64
	WithinTolerance  bool
}

// CalibrateLoan 比较单笔贷款在两条轨道上的期望 PV。
func CalibrateLoan(trackAPV, trackBPV float64) Metrics {
	absErr, relErr := errorOf(trackAPV, trackBPV)
	return Metrics{
		TrackAPV:         trackAPV,
		TrackBPV:         trackBPV,
		AbsoluteError:    absErr,
		RelativeErrorPct: relErr,
		TolerancePct:     TrackBVsTrackAThresholdPct,
		WithinTolerance:  relErr <= TrackBVsTrackAThresholdPct,
	}
}

// CalibratePackage 比较整批的期望 PV 与 ROE；两项都必须落在容差内才
// 算通过。
func CalibratePackage(trackAPV, trackBPV, roeA, roeB float64) Metrics {
	absErr, relErr := errorOf(trackAPV, trackBPV)
	roeDiffBps := math.Abs(roeB-roeA) * 10000

	pvWithin := relErr <= TrackBVsTrackAThresholdPct
	roeWithin := roeDiffBps <= ROEToleranceBps

	return Metrics{
		TrackAPV:         trackAPV,
		TrackBPV:         trackBPV,
		AbsoluteError:    absErr,
		RelativeErrorPct: relErr,
		HasROE:           true,
		ROEA:             roeA,
		ROEB:             roeB,
		ROEDiffBps:       roeDiffBps,
		TolerancePct:     TrackBVsTrackAThresholdPct,
		WithinTolerance:  pvWithin && roeWithin,
	}
}

func errorOf(trackAPV, trackBPV float64) (absolute, relativePct float64) {
	absolute = math.Abs(trackBPV - trackAPV)
	if trackAPV == 0 {
		return absolute, 0
	}
	return absolute, absolute / math.Abs(trackAPV) * 100
}
