package loan

// TreasuryCurve 是分段线性的国债曲线，锚点月份 {0,12,24,60}，用于 APEX2
// 模式下逐月重算 rate-delta 档位。
type TreasuryCurve struct {
	PillarMonths []int     // 必须与 Rates 等长且递增，典型值 {0,12,24,60}
	Rates        []float64 // 年化小数形式的国债利率
}

// RateAt 对月份 t 做分段线性插值；t 超出两端锚点时夹取到端点值。
func (c TreasuryCurve) RateAt(t int) float64 {
	n := len(c.PillarMonths)
	if n == 0 {
		return 0
	}
	if t <= c.PillarMonths[0] {
		return c.Rates[0]
	}
	if t >= c.PillarMonths[n-1] {
		return c.Rates[n-1]
	}
	for i := 1; i < n; i++ {
		if t <= c.PillarMonths[i] {
			lo, hi := c.PillarMonths[i-1], c.PillarMonths[i]
			frac := float64(t-lo) / float64(hi-lo)
			return c.Rates[i-1] + frac*(c.Rates[i]-c.Rates[i-1])
		}
	}
	return c.Rates[n-1]
}

// Scenario 是一个具名的参数集：违约/提前还款/回收严重程度的压力乘数，
// 可选附带国债曲线位移。
type Scenario struct {
	Name          string
	DefaultMult   float64
	PrepayMult    float64
	RecoveryMult  float64
	Treasury      TreasuryCurve // 可选；零值 (PillarMonths 为空) 表示不做位移
	DiscountRate  *float64      // 可选的场景级折现率覆盖
}

// BaselineScenario 返回中性 (乘数全部为 1) 的默认场景。
func BaselineScenario() Scenario {
	return Scenario{Name: "baseline", DefaultMult: 1, PrepayMult: 1, RecoveryMult: 1}
}

// PrepaySource 选择 C3 用于分解危险率的模式。
type PrepaySource string

const (
	PrepaySourceStub               PrepaySource = "stub"
	PrepaySourceKMAll              PrepaySource = "km_all"
	PrepaySourceKMWithFlatDefault  PrepaySource = "km_with_flat_default"
	PrepaySourceAPEX2              PrepaySource = "apex2"
)

// ValuationTrack 选择 run_valuation 调度到的引擎：KM/APEX2 蒙特卡洛引擎
// (Track B)、用于校准它的确定性目标收益率复现引擎 (Track A)，或两者
// 同时运行并把 Track A/Track B 的差异附加到结果上 (both)。
type ValuationTrack string

const (
	TrackB    ValuationTrack = "B"
	TrackA    ValuationTrack = "A"
	TrackBoth ValuationTrack = "both"
)

// TrackAConfig 参数化确定性的 Track A 复现引擎：APEX2 提前还款加速与
// 扁平 CDR 信用模型，按单一目标收益率折现，而非 Track B 的资本成本/
// 场景折现。
type TrackAConfig struct {
	TargetYield  float64 // 年化目标收益率，折现率
	AnnualCDR    float64 // 年化 flat CDR，独立于主配置的 FlatCDR
	RecoveryRate float64 // 违约回收率
	ServicingBps float64 // 服务成本，年化 bps
	Treasury10Y  float64 // 10年期国债利率，驱动 APEX2 RateDelta 维度
}

// SimulationConfig 控制一次估值调用的蒙特卡洛行为。
type SimulationConfig struct {
	Draws             int // N ≥ 1
	Scenarios         []Scenario
	IncludeStochastic bool
	Seed              *uint64 // 存在时抽样可复现
	PrepaySource      PrepaySource
	DiscountRate      float64 // 年化小数形式
	Sigma             float64 // 宏观冲击标准差，默认 0.15
	Rho               float64 // 宏观/个体相关系数，默认 0.30
	SeasoningRampR    int     // APEX2 ramp 视窗 (月)，默认 30
	FlatCDR           float64 // km_with_flat_default / apex2 / stub 模式的年化 CDR
	DefaultShareAlpha float64 // km_all 模式的违约份额 α ∈ [0,1]
	ServicingBps      float64 // 服务成本，年化 bps
	RecoveryRate      float64 // 基准回收率
	LiquidationCost   float64 // 止赎清算成本 (占房产价值比例)

	// Track 选择本次调用运行哪个/哪些引擎，零值等价于 TrackB。
	Track        ValuationTrack
	TrackAConfig TrackAConfig

	// Weights 为场景聚合时的权重；nil 表示等权重（spec §9 Open Question 2）。
	Weights map[string]float64

	// Deadline/Timeout 由 internal/kernel 通过 context 注入，不在此结构体中。
}

// Normalized 返回应用了内核默认值后的配置副本。
func (c SimulationConfig) Normalized() SimulationConfig {
	out := c
	if !out.IncludeStochastic {
		out.Draws = 1
	}
	if out.Draws < 1 {
		out.Draws = 1
	}
	if len(out.Scenarios) == 0 {
		out.Scenarios = []Scenario{BaselineScenario()}
	}
	if out.Sigma == 0 {
		out.Sigma = 0.15
	}
	if out.Rho == 0 {
		out.Rho = 0.30
	}
	if out.SeasoningRampR == 0 {
		out.SeasoningRampR = 30
	}
	if out.ServicingBps == 0 {
		out.ServicingBps = 25
	}
	if out.RecoveryRate == 0 {
		out.RecoveryRate = 0.55
	}
	if out.LiquidationCost == 0 {
		out.LiquidationCost = 0.08
	}
	if out.Track == "" {
		out.Track = TrackB
	}
	if out.TrackAConfig.TargetYield == 0 {
		out.TrackAConfig.TargetYield = 0.08
	}
	if out.TrackAConfig.AnnualCDR == 0 {
		out.TrackAConfig.AnnualCDR = out.FlatCDR
	}
	if out.TrackAConfig.RecoveryRate == 0 {
		out.TrackAConfig.RecoveryRate = out.RecoveryRate
	}
	if out.TrackAConfig.ServicingBps == 0 {
		out.TrackAConfig.ServicingBps = out.ServicingBps
	}
	if out.TrackAConfig.Treasury10Y == 0 {
		out.TrackAConfig.Treasury10Y = 0.04
	}
	return out
}

// ScenarioWeight 返回场景的聚合权重；Weights 为 nil 时按场景数等权重。
func (c SimulationConfig) ScenarioWeight(name string) float64 {
	if len(c.Scenarios) == 0 {
		return 0
	}
	if c.Weights != nil {
		if w, ok := c.Weights[name]; ok {
			return w
		}
		return 0
	}
	return 1.0 / float64(len(c.Scenarios))
}
