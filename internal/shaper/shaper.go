// Package shaper 实现 C6 结果整形器：把蒙特卡洛驱动的输出组装为外部
// 调用者消费的包级估值结果与投标价格梯度分析。
package shaper

import (
	"math"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"

	"github.com/wyfcoding/mortgage-kernel/internal/calibration"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/montecarlo"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/internal/tracka"
	"github.com/wyfcoding/mortgage-kernel/money"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// LoanValuationResult 是单笔贷款估值结果的对外视图。
type LoanValuationResult struct {
	LoanID          string
	LeafID          int
	ExpectedPV      float64
	PVByScenario    map[string]float64
	PVDistribution  []float64
	Percentiles     montecarlo.Percentiles
	NumericFailures int // 该贷款被隔离排除的 (scenario, draw) 次数
}

// PackageValuationResult 是 run_valuation() 操作的返回形状。
type PackageValuationResult struct {
	RequestID       string
	TotalUPB        float64
	PurchasePrice   float64
	NPVDistribution []float64
	NPVByScenario   map[string]float64
	ExpectedNPV     float64
	NPVPercentiles  montecarlo.Percentiles
	ROEDistribution []float64
	ROEPercentiles  montecarlo.Percentiles
	WALYears        float64
	LoanResults     []LoanValuationResult
	Manifest        registry.ModelManifestView
	Cancelled       bool
	TimedOut        bool
	DrawsCompleted  int

	// Fallbacks 是本次调用中每笔贷款分段分配退化事件的完整列表；
	// FallbackCount 是其长度的缓存，避免调用方重复遍历。
	Fallbacks     []xerrors.ModelFallback
	FallbackCount int

	// FlaggedLoanIDs 列出了至少触发过一次被隔离 NumericError 的贷款：
	// 该笔贷款价格仍由其余成功的抽样确定；在失败的那次抽样中它对包 NPV
	// 的贡献计为零，估值调用本身不会因此中止。
	FlaggedLoanIDs []string

	// Track 标明本结果来自哪条估值轨道；TrackBoth 时 ExpectedNPV/
	// NPVDistribution 等字段仍是 Track B（蒙特卡洛）的输出，
	// TrackAExpectedNPV/TrackAExpectedROE 与 Calibration 是附加的
	// Track A 复现结果与二者的校准度量。
	Track             loan.ValuationTrack
	TrackAExpectedNPV float64
	TrackAExpectedROE float64
	Calibration       *calibration.Metrics
}

// BidConfig 参数化投标价格梯度的中心价、档距与目标 ROE。
type BidConfig struct {
	CenterPrice float64
	Increment   float64
	TargetROE   float64
}

// DefaultBidConfig 返回 §4.6 规定的默认值：center_price = round(UPB*0.90)，
// increment = 10 000。
func DefaultBidConfig(totalUPB float64, targetROE float64) BidConfig {
	return BidConfig{
		CenterPrice: math.Round(totalUPB * 0.90),
		Increment:   10000,
		TargetROE:   targetROE,
	}
}

// BidRow 是投标梯度上单个价格点的分析结果。
type BidRow struct {
	Price              float64
	ExpectedROE        float64
	AnnualizedROE      float64
	ROEPercentiles     montecarlo.Percentiles
	ProbROEAboveTarget float64
}

// BidLadder 是 run_bid_analysis() 操作的返回形状。
type BidLadder struct {
	RequestID string
	Rows      []BidRow
}

// ShapePackageResult 把蒙特卡洛驱动的包级输出整形为 PackageValuationResult，
// fallbacks 是分段分配阶段产生的退化事件，随结果一并返回给调用方而不只
// 是记录在日志与指标里。
func ShapePackageResult(mc montecarlo.PackageResult, purchasePrice float64, manifest registry.ModelManifestView, fallbacks []xerrors.ModelFallback) (PackageValuationResult, error) {
	if mc.Cancelled {
		return PackageValuationResult{RequestID: newRequestID(), Cancelled: true, Manifest: manifest, Fallbacks: fallbacks, FallbackCount: len(fallbacks), Track: loan.TrackB}, nil
	}
	if mc.TimedOut {
		return PackageValuationResult{RequestID: newRequestID(), TimedOut: true, Manifest: manifest, Fallbacks: fallbacks, FallbackCount: len(fallbacks), Track: loan.TrackB}, nil
	}

	var roeDist []float64
	if purchasePrice > 0 {
		roeDist = make([]float64, len(mc.NPVDistribution))
		for i, npv := range mc.NPVDistribution {
			roeDist[i] = (npv - purchasePrice) / purchasePrice
		}
	}

	roePercentiles := montecarlo.Percentiles{}
	if len(roeDist) > 0 {
		p, err := percentilesOf(roeDist)
		if err != nil {
			return PackageValuationResult{}, xerrors.ErrNumeric.Clone().WithContext("reason", err.Error())
		}
		roePercentiles = p
	}

	loanResults := make([]LoanValuationResult, len(mc.LoanResults))
	for i, lr := range mc.LoanResults {
		// A loan that hit a NumericError on every draw has an empty
		// distribution; percentilesOf errors on that but it must not abort
		// the package the way an InvalidInput does, so it is left at the
		// zero percentiles and surfaced only via NumericFailures.
		var p montecarlo.Percentiles
		if len(lr.PVDistribution) > 0 {
			var err error
			p, err = percentilesOf(lr.PVDistribution)
			if err != nil {
				return PackageValuationResult{}, xerrors.ErrNumeric.Clone().WithContext("loan_id", lr.LoanID).WithContext("reason", err.Error())
			}
		}
		loanResults[i] = LoanValuationResult{
			LoanID:          lr.LoanID,
			LeafID:          lr.LeafID,
			ExpectedPV:      lr.ExpectedPV,
			PVByScenario:    lr.PVByScenario,
			PVDistribution:  lr.PVDistribution,
			Percentiles:     p,
			NumericFailures: lr.NumericFailures,
		}
	}

	return PackageValuationResult{
		RequestID:       newRequestID(),
		TotalUPB:        mc.TotalUPB,
		PurchasePrice:   purchasePrice,
		NPVDistribution: mc.NPVDistribution,
		NPVByScenario:   mc.NPVByScenario,
		ExpectedNPV:     mc.ExpectedNPV,
		NPVPercentiles:  mc.Percentiles,
		ROEDistribution: roeDist,
		ROEPercentiles:  roePercentiles,
		WALYears:        mc.WALYears,
		LoanResults:     loanResults,
		Manifest:        manifest,
		DrawsCompleted:  mc.DrawsCompleted,
		Fallbacks:       fallbacks,
		FallbackCount:   len(fallbacks),
		FlaggedLoanIDs:  mc.FlaggedLoanIDs,
		Track:           loan.TrackB,
	}, nil
}

// ShapeTrackAResult 把确定性的 Track A 复现输出整形为
// PackageValuationResult，供单独运行 Track A 或在双轨模式下作为
// 校准基准使用。Track A 不产生分布，因此百分位/取消/超时字段留空。
func ShapeTrackAResult(tr tracka.PackageResult, purchasePrice float64, manifest registry.ModelManifestView, fallbacks []xerrors.ModelFallback) PackageValuationResult {
	loanResults := make([]LoanValuationResult, len(tr.LoanResults))
	for i, lr := range tr.LoanResults {
		loanResults[i] = LoanValuationResult{
			LoanID:     lr.LoanID,
			LeafID:     lr.LeafID,
			ExpectedPV: lr.ExpectedPV,
		}
	}

	return PackageValuationResult{
		RequestID:         newRequestID(),
		TotalUPB:          tr.TotalUPB,
		PurchasePrice:     purchasePrice,
		ExpectedNPV:       tr.ExpectedNPV,
		LoanResults:       loanResults,
		Manifest:          manifest,
		Fallbacks:         fallbacks,
		FallbackCount:     len(fallbacks),
		Track:             loan.TrackA,
		TrackAExpectedNPV: tr.ExpectedNPV,
		TrackAExpectedROE: tr.ExpectedROE(purchasePrice),
	}
}

// AttachCalibration 把 Track A 复现结果与给定的校准度量附加到一个已经
// 整形好的 Track B 结果上，用于 TrackBoth 调度路径。
func AttachCalibration(res PackageValuationResult, trackA tracka.PackageResult, purchasePrice float64) PackageValuationResult {
	roeB := 0.0
	if purchasePrice > 0 {
		roeB = (res.ExpectedNPV - purchasePrice) / purchasePrice
	}
	roeA := trackA.ExpectedROE(purchasePrice)
	metrics := calibration.CalibratePackage(trackA.ExpectedNPV, res.ExpectedNPV, roeA, roeB)

	res.Track = loan.TrackBoth
	res.TrackAExpectedNPV = trackA.ExpectedNPV
	res.TrackAExpectedROE = roeA
	res.Calibration = &metrics
	return res
}

// BuildBidLadder sweeps i ∈ [-10, 10] around bidCfg.CenterPrice, skipping
// non-positive prices, per §4.6.
func BuildBidLadder(npvDistribution []float64, avgRemainingYears float64, bidCfg BidConfig) (BidLadder, error) {
	if len(npvDistribution) == 0 {
		return BidLadder{}, xerrors.ErrNumeric.Clone().WithDetail("empty NPV distribution")
	}
	if avgRemainingYears <= 0 {
		avgRemainingYears = 1
	}

	var rows []BidRow
	for i := -10; i <= 10; i++ {
		price := money.New(bidCfg.Increment).Mul(float64(i)).Add(money.New(bidCfg.CenterPrice)).ToFloat()
		if price <= 0 {
			continue
		}

		roe := make([]float64, len(npvDistribution))
		threshold := price * (1 + bidCfg.TargetROE)
		hits := 0
		for k, npv := range npvDistribution {
			roe[k] = (npv - price) / price
			if npv >= threshold {
				hits++
			}
		}

		percentiles, err := percentilesOf(roe)
		if err != nil {
			return BidLadder{}, xerrors.ErrNumeric.Clone().WithContext("price", price).WithContext("reason", err.Error())
		}

		expectedROE := mean(roe)
		annualized := math.Pow(1+expectedROE, 1/avgRemainingYears) - 1

		rows = append(rows, BidRow{
			Price:              price,
			ExpectedROE:        expectedROE,
			AnnualizedROE:      annualized,
			ROEPercentiles:     percentiles,
			ProbROEAboveTarget: float64(hits) / float64(len(npvDistribution)),
		})
	}

	return BidLadder{RequestID: newRequestID(), Rows: rows}, nil
}

func percentilesOf(dist []float64) (montecarlo.Percentiles, error) {
	if len(dist) == 0 {
		return montecarlo.Percentiles{}, xerrors.ErrNumeric
	}
	data := stats.LoadRawData(dist)
	p5, err := stats.Percentile(data, 5)
	if err != nil {
		return montecarlo.Percentiles{}, err
	}
	p25, err := stats.Percentile(data, 25)
	if err != nil {
		return montecarlo.Percentiles{}, err
	}
	p50, err := stats.Percentile(data, 50)
	if err != nil {
		return montecarlo.Percentiles{}, err
	}
	p75, err := stats.Percentile(data, 75)
	if err != nil {
		return montecarlo.Percentiles{}, err
	}
	p95, err := stats.Percentile(data, 95)
	if err != nil {
		return montecarlo.Percentiles{}, err
	}
	return montecarlo.Percentiles{P5: p5, P25: p25, P50: p50, P75: p75, P95: p95}, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func newRequestID() string {
	return uuid.NewString()
}
