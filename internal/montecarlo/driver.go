// Package montecarlo 实现 C5 蒙特卡洛驱动：在相关随机冲击下重复运行
// 现金流投影器，并把逐笔贷款结果聚合为包级分布与百分位数。
package montecarlo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/wyfcoding/mortgage-kernel/internal/hazard"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/projector"
	"github.com/wyfcoding/mortgage-kernel/metrics"
	"github.com/wyfcoding/mortgage-kernel/worker"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// LoanInput 是驱动器对单笔贷款所需的全部预计算状态：已分配的叶子与
// 每个场景下的危险率序列（危险率分解不依赖抽样，因此在 draw 循环外计算一次）。
type LoanInput struct {
	Loan              loan.Loan
	LeafID            int
	HazardsByScenario map[string][]hazard.MonthlyHazard
}

// Percentiles 是排序后分布上的 5 个分位点。
type Percentiles struct {
	P5, P25, P50, P75, P95 float64
}

// LoanResult 聚合了单笔贷款在所有 (scenario, draw) 对上的投影结果。
type LoanResult struct {
	LoanID          string
	LeafID          int
	ExpectedPV      float64
	PVByScenario    map[string]float64
	PVDistribution  []float64
	WALYears        float64
	NumericFailures int // 该贷款在某个 (scenario, draw) 上触发 NumericError 并被隔离排除的次数
}

// PackageResult 是一次估值调用的包级聚合结果。
type PackageResult struct {
	LoanResults     []LoanResult
	NPVDistribution []float64 // 每个 (scenario, draw) 对的包 NPV，长度 = draws*len(scenarios)
	NPVByScenario   map[string]float64
	ExpectedNPV     float64
	Percentiles     Percentiles
	TotalUPB        float64
	WALYears        float64
	DrawsCompleted  int
	Cancelled       bool
	TimedOut        bool
	FlaggedLoanIDs  []string // loans that hit ≥1 isolated NumericError during the run
}

// Driver 持有可选的 worker 池与指标采集器。
type Driver struct {
	pool    *worker.Pool
	metrics *metrics.Metrics
}

// New 构建一个蒙特卡洛驱动；poolSize ≤ 0 时使用机器 CPU 核数。
func New(poolSize int, m *metrics.Metrics) *Driver {
	opts := []worker.Option{worker.WithName("montecarlo"), worker.WithMetrics(m)}
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	opts = append(opts, worker.WithSize(poolSize), worker.WithQueueSize(poolSize*4))
	return &Driver{pool: worker.NewPool(opts...), metrics: m}
}

// Close 停止底层 worker 池。
func (d *Driver) Close() {
	d.pool.Stop()
}

type drawTask struct {
	scenarioIdx int
	scenario    loan.Scenario
	drawIdx     int
}

// Run 在 cfg 描述的场景与抽样次数下运行驱动器，按 §5 的取消/超时契约响应 ctx。
func (d *Driver) Run(ctx context.Context, pkg loan.Package, inputs []LoanInput, cfg loan.SimulationConfig) (PackageResult, error) {
	start := time.Now()
	result, err := d.run(ctx, pkg, inputs, cfg)
	if d.metrics != nil {
		status := "ok"
		switch {
		case result.Cancelled:
			status = "cancelled"
		case result.TimedOut:
			status = "timeout"
		case err != nil:
			status = "error"
		}
		d.metrics.ValuationRequestsTotal.WithLabelValues("run_valuation", status).Inc()
		d.metrics.ValuationDuration.WithLabelValues("run_valuation").Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (d *Driver) run(ctx context.Context, pkg loan.Package, inputs []LoanInput, cfg loan.SimulationConfig) (PackageResult, error) {
	cfg = cfg.Normalized()
	if len(inputs) == 0 {
		return PackageResult{}, xerrors.ErrInvalidInput.Clone().WithDetail("package has no loans")
	}

	seed := uint64(1)
	if cfg.Seed != nil {
		seed = *cfg.Seed
	}

	tasks := make([]drawTask, 0, len(cfg.Scenarios)*cfg.Draws)
	for si, sc := range cfg.Scenarios {
		for k := 0; k < cfg.Draws; k++ {
			tasks = append(tasks, drawTask{scenarioIdx: si, scenario: sc, drawIdx: k})
		}
	}

	npvDistribution := make([]float64, len(tasks))
	npvByScenarioDraw := make([][]float64, len(cfg.Scenarios))
	for i := range npvByScenarioDraw {
		npvByScenarioDraw[i] = make([]float64, cfg.Draws)
	}

	loanResults := make([]LoanResult, len(inputs))
	for i, in := range inputs {
		loanResults[i] = LoanResult{
			LoanID:         in.Loan.ID,
			LeafID:         in.LeafID,
			PVByScenario:   make(map[string]float64),
			PVDistribution: make([]float64, 0, len(tasks)),
		}
	}
	var loanMu sync.Mutex

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	completed := 0
	cancelled := false

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		task := task
		wg.Add(1)
		submitErr := d.pool.Submit(func(workerCtx context.Context) {
			defer wg.Done()

			npv, loanPVs, walYears, failed, err := d.runOneDraw(ctx, inputs, task, cfg, seed)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			npvDistribution[task.scenarioIdx*cfg.Draws+task.drawIdx] = npv
			npvByScenarioDraw[task.scenarioIdx][task.drawIdx] = npv
			completed++

			loanMu.Lock()
			for i, pv := range loanPVs {
				if failed[i] {
					loanResults[i].NumericFailures++
					continue
				}
				loanResults[i].PVDistribution = append(loanResults[i].PVDistribution, pv)
				loanResults[i].PVByScenario[task.scenario.Name] += pv / float64(cfg.Draws)
				loanResults[i].WALYears += walYears[i] / float64(len(tasks))
			}
			loanMu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			if firstErr == nil {
				firstErr = submitErr
			}
		}
	}
	wg.Wait()

	if firstErr != nil {
		return PackageResult{}, firstErr
	}
	if cancelled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return PackageResult{TimedOut: true}, xerrors.ErrTimeout.Clone()
		}
		return PackageResult{Cancelled: true}, xerrors.ErrCancelled.Clone()
	}

	var flagged []string
	for i := range loanResults {
		if n := len(loanResults[i].PVDistribution); n > 0 {
			var sum float64
			for _, v := range loanResults[i].PVDistribution {
				sum += v
			}
			loanResults[i].ExpectedPV = sum / float64(n)
		}
		if loanResults[i].NumericFailures > 0 {
			flagged = append(flagged, loanResults[i].LoanID)
		}
	}

	npvByScenario := make(map[string]float64, len(cfg.Scenarios))
	for si, sc := range cfg.Scenarios {
		npvByScenario[sc.Name] = mean(npvByScenarioDraw[si])
	}

	percentiles, err := computePercentiles(npvDistribution)
	if err != nil {
		return PackageResult{}, xerrors.ErrNumeric.Clone().WithContext("reason", err.Error())
	}

	return PackageResult{
		LoanResults:     loanResults,
		NPVDistribution: npvDistribution,
		NPVByScenario:   npvByScenario,
		ExpectedNPV:     weightedExpectedNPV(npvByScenario, cfg),
		Percentiles:     percentiles,
		TotalUPB:        pkg.TotalUPB(),
		WALYears:        packageWAL(loanResults, inputs),
		DrawsCompleted:  completed,
		FlaggedLoanIDs:  flagged,
	}, nil
}

// runOneDraw projects every loan in one (scenario, draw) pair. Per spec, an
// InvalidInput on any loan fails the whole draw (and so the whole package:
// the package contract is that every loan in scope is priced). A NumericError
// on one loan is isolated: that loan is flagged and excluded from this draw's
// contribution to the NPV, and projection continues for the remaining loans.
func (d *Driver) runOneDraw(ctx context.Context, inputs []LoanInput, task drawTask, cfg loan.SimulationConfig, seed uint64) (npv float64, loanPVs []float64, walYears []float64, failed []bool, err error) {
	months := maxRemainingTerm(inputs)
	var macro []float64
	if cfg.IncludeStochastic {
		macroRNG := drawStream(seed, task.scenarioIdx, task.drawIdx, -1)
		macro = macroFactorSeries(macroRNG, months)
	}

	loanPVs = make([]float64, len(inputs))
	walYears = make([]float64, len(inputs))
	failed = make([]bool, len(inputs))

	// once a draw has started every loan in it runs to completion: §5
	// requires in-flight draws to complete, only draws not yet started
	// are skipped, so ctx is not consulted inside this loop.
	for i, in := range inputs {
		hazards := in.HazardsByScenario[task.scenario.Name]

		var shocks []projector.Shock
		if cfg.IncludeStochastic {
			idioRNG := drawStream(seed, task.scenarioIdx, task.drawIdx, i)
			shocks = shockSeries(macro[:len(hazards)], idioRNG, cfg.Sigma, cfg.Rho)
		} else {
			shocks = identityShocks(len(hazards))
		}

		res, projErr := projector.Project(in.Loan, hazards, task.scenario, cfg, shocks)
		if projErr != nil {
			if isInvalidInput(projErr) {
				return 0, nil, nil, nil, fmt.Errorf("loan %s: %w", in.Loan.ID, projErr)
			}
			failed[i] = true
			continue
		}
		loanPVs[i] = res.PV
		walYears[i] = res.WALYears
		npv += res.PV
	}

	return npv, loanPVs, walYears, failed, nil
}

// isInvalidInput reports whether err is a structural InvalidInput error
// (fail the whole draw) as opposed to an isolated NumericError (exclude
// just the offending loan from this draw and continue).
func isInvalidInput(err error) bool {
	e, ok := xerrors.FromError(err)
	return ok && e.Type == xerrors.ErrInvalidArg
}

func weightedExpectedNPV(npvByScenario map[string]float64, cfg loan.SimulationConfig) float64 {
	var total float64
	for _, sc := range cfg.Scenarios {
		total += npvByScenario[sc.Name] * cfg.ScenarioWeight(sc.Name)
	}
	return total
}

func packageWAL(loanResults []LoanResult, inputs []LoanInput) float64 {
	var weightedSum, totalUPB float64
	for i, lr := range loanResults {
		upb := inputs[i].Loan.UPB
		weightedSum += lr.WALYears * upb
		totalUPB += upb
	}
	if totalUPB == 0 {
		return 0
	}
	return weightedSum / totalUPB
}

func maxRemainingTerm(inputs []LoanInput) int {
	max := 0
	for _, in := range inputs {
		if in.Loan.RemainingTerm > max {
			max = in.Loan.RemainingTerm
		}
	}
	return max
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

func computePercentiles(dist []float64) (Percentiles, error) {
	if len(dist) == 0 {
		return Percentiles{}, fmt.Errorf("empty NPV distribution")
	}
	data := stats.LoadRawData(dist)
	p5, err := stats.Percentile(data, 5)
	if err != nil {
		return Percentiles{}, err
	}
	p25, err := stats.Percentile(data, 25)
	if err != nil {
		return Percentiles{}, err
	}
	p50, err := stats.Percentile(data, 50)
	if err != nil {
		return Percentiles{}, err
	}
	p75, err := stats.Percentile(data, 75)
	if err != nil {
		return Percentiles{}, err
	}
	p95, err := stats.Percentile(data, 95)
	if err != nil {
		return Percentiles{}, err
	}
	return Percentiles{P5: p5, P25: p25, P50: p50, P75: p75, P95: p95}, nil
}
