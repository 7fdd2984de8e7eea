// Package tracka 实现确定性的"Track A"复现引擎：APEX2 四维提前还款乘数
// 叠加扁平 CDR 信用模型，按单一目标收益率逐月折现，不依赖蒙特卡洛抽样。
// 它的唯一用途是为 Track B（internal/montecarlo）提供一个可独立核算的
// 基准，二者的差异由 internal/calibration 度量。
package tracka

import (
	"math"

	"github.com/wyfcoding/mortgage-kernel/async"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
)

// 年化月度服务成本转换分母。
const monthsPerYear = 12

// LoanResult 是单笔贷款的 Track A 估值。
type LoanResult struct {
	LoanID       string
	LeafID       int
	ExpectedPV   float64
	AvgLifeYears float64
}

// PackageResult 是一批贷款的 Track A 估值汇总。
type PackageResult struct {
	TotalUPB    float64
	ExpectedNPV float64
	LoanResults []LoanResult
}

// ValuateLoan 对单笔贷款运行 Track A 现金流递推：按 cfg.Treasury10Y 取
// APEX2 四维平均乘数加速计划内月供，按 cfg.AnnualCDR 的扁平年化违约率
// 与 cfg.RecoveryRate 计算信用损失，按 cfg.TargetYield 折现。
func ValuateLoan(reg *registry.Registry, l loan.Loan, leafID int, cfg loan.TrackAConfig) LoanResult {
	scheduled := l.ScheduledPayment()
	prepayMult := reg.Apex2.Multiplier(l, cfg.Treasury10Y)
	effPayment := scheduled * math.Max(prepayMult, 1.0)

	monthlyDefault := annualToMonthlyRate(cfg.AnnualCDR)
	netLGD := 1 - cfg.RecoveryRate
	servicingMonthly := cfg.ServicingBps / 10000 / monthsPerYear
	monthlyRate := l.MonthlyRate()
	yieldMonthly := cfg.TargetYield / monthsPerYear

	balance := l.UPB
	cumulSurv := 1.0
	var totalPV float64
	var weightedLife float64

	month := 0
	for t := 1; t <= l.RemainingTerm; t++ {
		if balance <= 0.01 {
			break
		}
		month = t
		survEntering := cumulSurv
		cumulSurv *= 1 - monthlyDefault

		interest := balance * monthlyRate
		payment := math.Min(effPayment, balance+interest)
		expectedPayment := payment * cumulSurv

		netCreditLoss := monthlyDefault * netLGD * balance * survEntering
		servicing := balance * servicingMonthly * cumulSurv

		netCF := expectedPayment - netCreditLoss - servicing
		df := math.Pow(1+yieldMonthly, -float64(t))
		totalPV += netCF * df
		weightedLife += float64(t) * netCF * df

		principal := math.Min(payment-interest, balance)
		defaultRunoff := monthlyDefault * balance * survEntering
		balance = math.Max(balance-principal-defaultRunoff, 0)
	}

	avgLife := 0.0
	if totalPV != 0 && month > 0 {
		avgLife = weightedLife / totalPV / monthsPerYear
	}

	return LoanResult{LoanID: l.ID, LeafID: leafID, ExpectedPV: totalPV, AvgLifeYears: avgLife}
}

// ValuatePackage 对批次内每笔贷款并发运行 ValuateLoan 并求和。leafByLoan
// 为 nil 时每笔贷款的 LeafID 记为 0（Track A 不依赖分段分配即可独立核算）。
// 每笔贷款的递推互相独立，借助 async.RunGroup 并发执行并统一恢复 panic，
// 与 C5 蒙特卡洛驱动对每个 (scenario, draw) 任务的并发方式同构，只是这里
// 任务粒度是贷款而不是抽样。
func ValuatePackage(reg *registry.Registry, pkg loan.Package, leafByLoan map[string]int, cfg loan.TrackAConfig) PackageResult {
	results := make([]LoanResult, len(pkg.Loans))

	group := &async.RunGroup{}
	for i, l := range pkg.Loans {
		i, l := i, l
		group.Go(func() error {
			leafID := leafByLoan[l.ID]
			results[i] = ValuateLoan(reg, l, leafID, cfg)
			return nil
		})
	}
	_ = group.Wait() // ValuateLoan never returns an error; Wait only joins the goroutines.

	var total float64
	for _, r := range results {
		total += r.ExpectedPV
	}
	return PackageResult{TotalUPB: pkg.TotalUPB(), ExpectedNPV: total, LoanResults: results}
}

// ExpectedROE 返回按购买价计算的整批预期 ROE；purchasePrice <= 0 时返回 0。
func (p PackageResult) ExpectedROE(purchasePrice float64) float64 {
	if purchasePrice <= 0 {
		return 0
	}
	return (p.ExpectedNPV - purchasePrice) / purchasePrice
}

// annualToMonthlyRate 把年化条件率转换为月度等价率：1-(1-annual)^(1/12)。
func annualToMonthlyRate(annual float64) float64 {
	if annual <= 0 {
		return 0
	}
	if annual >= 1 {
		return 1
	}
	return 1 - math.Pow(1-annual, 1.0/monthsPerYear)
}
