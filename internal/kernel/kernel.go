// Package kernel 实现编排层：把 C1 模型仓库到 C6 结果整形器串成 §6 定义
// 的四个对外操作，并在这一层落实取消/超时契约与错误传播策略。
package kernel

import (
	"context"
	"time"

	"github.com/wyfcoding/mortgage-kernel/cache"
	"github.com/wyfcoding/mortgage-kernel/internal/hazard"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/montecarlo"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/internal/segmentation"
	"github.com/wyfcoding/mortgage-kernel/internal/shaper"
	"github.com/wyfcoding/mortgage-kernel/internal/tracka"
	"github.com/wyfcoding/mortgage-kernel/logging"
	"github.com/wyfcoding/mortgage-kernel/metrics"
	"github.com/wyfcoding/mortgage-kernel/money"
	"github.com/wyfcoding/mortgage-kernel/validator"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// DefaultDeadline 是 §5 规定的默认调用截止时间：调用方未显式设置
// deadline 时，内核为其补上这一个。
const DefaultDeadline = 5 * time.Minute

// Kernel 持有一个 Registry 句柄与跨调用复用的组件：worker 池 (C5) 与
// 危险率记忆化缓存 (C3)。这些组件比单次调用更长寿，因此不在每次
// run_valuation 时重建。
type Kernel struct {
	manager *registry.Manager
	mc      *montecarlo.Driver
	hzCache cache.Cache
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Option 配置 Kernel 的构造。
type Option func(*Kernel)

// WithHazardCache 注入危险率分解的记忆化缓存；nil 表示不记忆化。
func WithHazardCache(c cache.Cache) Option {
	return func(k *Kernel) { k.hzCache = c }
}

// WithLogger 覆盖默认日志记录器。
func WithLogger(l *logging.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// New 从一个已加载的 Registry Manager 构建 Kernel；poolSize ≤ 0 时
// worker 池大小取机器 CPU 核数。
func New(manager *registry.Manager, poolSize int, m *metrics.Metrics, opts ...Option) *Kernel {
	k := &Kernel{
		manager: manager,
		mc:      montecarlo.New(poolSize, m),
		metrics: m,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Close 释放 Kernel 持有的长寿命资源 (worker 池)。
func (k *Kernel) Close() {
	k.mc.Close()
}

// RunValuation 实现 §6 run_valuation(package, simulation_config)：
// 叶子分配 → 危险率分解 → 蒙特卡洛投影 → 结果整形，按 §7 的传播策略
// (InvalidInput 快速失败，NumericError 逐笔隔离) 与 §5 的截止时间契约。
func (k *Kernel) RunValuation(ctx context.Context, pkg loan.Package, cfg loan.SimulationConfig) (shaper.PackageValuationResult, error) {
	reg, err := k.manager.Current()
	if err != nil {
		return shaper.PackageValuationResult{}, err
	}

	if err := validatePackage(pkg); err != nil {
		return shaper.PackageValuationResult{}, err
	}

	ctx, cancel := ensureDeadline(ctx)
	defer cancel()

	cfg = cfg.Normalized()
	purchasePrice := roundedPurchasePrice(pkg.PurchasePrice)

	if cfg.Track == loan.TrackA {
		trackAResult := tracka.ValuatePackage(reg, pkg, nil, cfg.TrackAConfig)
		return shaper.ShapeTrackAResult(trackAResult, purchasePrice, reg.Manifest, nil), nil
	}

	assigner := segmentation.New(reg, k.metrics)
	decomposer := hazard.New(reg, k.hzCache)

	inputs, fallbacks, err := k.buildLoanInputs(ctx, reg, assigner, decomposer, pkg, cfg)
	if err != nil {
		return shaper.PackageValuationResult{}, err
	}

	mcResult, err := k.mc.Run(ctx, pkg, inputs, cfg)
	if err != nil {
		return shaper.PackageValuationResult{}, err
	}

	result, err := shaper.ShapePackageResult(mcResult, purchasePrice, reg.Manifest, fallbacks)
	if err != nil {
		return shaper.PackageValuationResult{}, err
	}
	if cfg.Track != loan.TrackBoth || result.Cancelled || result.TimedOut {
		return result, nil
	}

	leafByLoan := make(map[string]int, len(inputs))
	for _, in := range inputs {
		leafByLoan[in.Loan.ID] = in.LeafID
	}
	trackAResult := tracka.ValuatePackage(reg, pkg, leafByLoan, cfg.TrackAConfig)
	return shaper.AttachCalibration(result, trackAResult, purchasePrice), nil
}

// RunBidAnalysis 实现 §6 run_bid_analysis：复用 run_valuation 的 NPV
// 分布，再按 §4.6 的投标价格梯度扫描 ROE。bidCfg 为零值时使用
// shaper.DefaultBidConfig(totalUPB, targetROE)。
func (k *Kernel) RunBidAnalysis(ctx context.Context, pkg loan.Package, cfg loan.SimulationConfig, bidCfg shaper.BidConfig, targetROE float64) (shaper.BidLadder, error) {
	valuation, err := k.RunValuation(ctx, pkg, cfg)
	if err != nil {
		return shaper.BidLadder{}, err
	}
	if valuation.Cancelled || valuation.TimedOut {
		return shaper.BidLadder{RequestID: valuation.RequestID}, nil
	}

	if bidCfg.CenterPrice == 0 {
		bidCfg = shaper.DefaultBidConfig(valuation.TotalUPB, targetROE)
	}

	return shaper.BuildBidLadder(valuation.NPVDistribution, valuation.WALYears, bidCfg)
}

// ModelStatus 实现 §6 model_status()：当前已加载的 Registry 的模型
// manifest 快照，不触发任何重新加载。
func (k *Kernel) ModelStatus(ctx context.Context) (registry.ModelManifestView, error) {
	reg, err := k.manager.Current()
	if err != nil {
		return registry.ModelManifestView{}, err
	}
	return reg.Manifest, nil
}

// LeafDetail 实现 §6 leaf_detail(leaf_id)：指定叶子的样本计数与生存曲线。
func (k *Kernel) LeafDetail(ctx context.Context, leafID int) (registry.LeafView, error) {
	reg, err := k.manager.Current()
	if err != nil {
		return registry.LeafView{}, err
	}
	view, ok := reg.LeafView(leafID)
	if !ok {
		return registry.LeafView{}, xerrors.ErrVariantNotFound.Clone().WithContext("leaf_id", leafID).WithDetail("leaf id not present in current segmentation tree")
	}
	return view, nil
}

// Reload 委托给底层 Manager.Reload，供调度器或手动触发的 artifact 刷新使用。
func (k *Kernel) Reload(artifactRoot, curveVariant string) error {
	err := k.manager.Reload(artifactRoot, curveVariant)
	if k.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		k.metrics.ModelReloadsTotal.WithLabelValues(status).Inc()
	}
	return err
}

// buildLoanInputs 为每笔贷款分配叶子、派生缺失的补充字段并分解危险率；
// assignment.Fallbacks 与派生字段的 ModelFallback 逐笔累积后整体返回，
// 而不是只留在分配阶段的日志与指标里。
func (k *Kernel) buildLoanInputs(ctx context.Context, reg *registry.Registry, assigner *segmentation.Assigner, decomposer *hazard.Decomposer, pkg loan.Package, cfg loan.SimulationConfig) ([]montecarlo.LoanInput, []xerrors.ModelFallback, error) {
	inputs := make([]montecarlo.LoanInput, len(pkg.Loans))
	var fallbacks []xerrors.ModelFallback
	for i, l := range pkg.Loans {
		l, fb := resolveLoanFallbacks(l)
		fallbacks = append(fallbacks, fb...)

		assignment := assigner.AssignLeaf(ctx, l)
		fallbacks = append(fallbacks, assignment.Fallbacks...)

		byScenario := make(map[string][]hazard.MonthlyHazard, len(cfg.Scenarios))
		for _, sc := range cfg.Scenarios {
			hz, err := decomposer.Decompose(ctx, assignment.LeafID, l, sc, cfg)
			if err != nil {
				return nil, nil, xerrors.Wrap(err, xerrors.ErrInternal, "hazard decomposition failed").WithContext("loan_id", l.ID).WithContext("scenario", sc.Name)
			}
			byScenario[sc.Name] = hz
		}

		inputs[i] = montecarlo.LoanInput{Loan: l, LeafID: assignment.LeafID, HazardsByScenario: byScenario}
	}
	return inputs, fallbacks, nil
}

// resolveLoanFallbacks bakes the loan's derived supplemental fields
// (property value, foreclosure state) into a local copy, the same way
// buildFeatureVector resolves DTI/ITIN/state before segmentation runs,
// so projector.Project never sees an unresolved field and every derivation
// is recorded once here instead of silently re-derived downstream.
func resolveLoanFallbacks(l loan.Loan) (loan.Loan, []xerrors.ModelFallback) {
	var fallbacks []xerrors.ModelFallback

	if l.PropertyValue <= 0 {
		value, imputed := l.EffectivePropertyValue()
		l.PropertyValue = value
		if imputed {
			fallbacks = append(fallbacks, xerrors.ModelFallback{
				LoanID: l.ID, FromTier: "input", ToTier: "imputed_property_value",
				Reason: "property value missing, derived from UPB/LTV",
			})
		}
	}

	if l.ForeclosureState == "" {
		judicial, imputed := segmentation.IsJudicial(l.PropertyState)
		if judicial {
			l.ForeclosureState = loan.Judicial
		} else {
			l.ForeclosureState = loan.NonJudicial
		}
		if imputed {
			fallbacks = append(fallbacks, xerrors.ModelFallback{
				LoanID: l.ID, FromTier: "input", ToTier: "imputed_foreclosure_state",
				Reason: "property state missing or unmapped, defaulted to non_judicial",
			})
		}
	}

	return l, fallbacks
}

// validatePackage 实现 §7 的快速失败策略：结构性输入错误在叶子分配/
// 蒙特卡洛调度之前就拒绝整次调用，而不是让个别贷款在投影阶段才失败。
func validatePackage(pkg loan.Package) error {
	if len(pkg.Loans) == 0 {
		return xerrors.ErrInvalidInput.Clone().WithDetail("package has no loans")
	}
	for _, l := range pkg.Loans {
		if err := validateLoan(l); err != nil {
			return err
		}
	}
	return nil
}

func validateLoan(l loan.Loan) error {
	if l.UPB <= 0 {
		return xerrors.ErrInvalidInput.Clone().WithContext("loan_id", l.ID).WithDetail("upb must be positive")
	}
	if l.RemainingTerm < 1 || l.RemainingTerm > l.OriginalTerm {
		return xerrors.ErrInvalidInput.Clone().WithContext("loan_id", l.ID).WithDetail("remaining_term must be in [1, original_term]")
	}
	if !validator.IsValidRate(l.NoteRate) {
		return xerrors.ErrInvalidInput.Clone().WithContext("loan_id", l.ID).WithDetail("note_rate must be in [0, 1]")
	}
	if l.CreditScore != loan.NoScoreSentinel && !validator.IsValidFICO(l.CreditScore) {
		return xerrors.ErrInvalidInput.Clone().WithContext("loan_id", l.ID).WithDetail("credit_score must be in [300, 850] or the no-score sentinel")
	}
	if !validator.IsValidLTV(l.LTV) {
		return xerrors.ErrInvalidInput.Clone().WithContext("loan_id", l.ID).WithDetail("ltv must be in (0, 2.0]")
	}
	return nil
}

// ensureDeadline applies §5's default deadline when the caller hasn't set
// one; an explicit caller deadline, however tight or generous, is never
// overridden.
func ensureDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultDeadline)
}

// roundedPurchasePrice rounds a purchase price to the nearest cent via
// money.Money, the way every currency-boundary value in the pack is
// normalised before leaving a component.
func roundedPurchasePrice(price float64) float64 {
	return money.NewFromFen(money.New(price).ToFen()).ToFloat()
}
