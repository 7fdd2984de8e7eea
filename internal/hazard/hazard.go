// Package hazard 实现 C3 危险率分解器：从叶子的 KM 生存曲线与 APEX2
// 乘数表，在选定的分解模式下产生每月的违约与提前还款危险率。
package hazard

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/wyfcoding/mortgage-kernel/cache"
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
)

// MonthlyHazard 是单月的分解结果。apex2 模式下 Prepay 恒为 0，提前还款
// 表现为 ExtraPrincipal 美元金额；其余模式下 ExtraPrincipal 恒为 0。
type MonthlyHazard struct {
	Default        float64
	Prepay         float64
	ExtraPrincipal float64
}

// Decomposer 持有 Registry 引用与可选的本地缓存。
type Decomposer struct {
	reg   *registry.Registry
	cache cache.Cache
}

// New 构建一个危险率分解器；cache 可为 nil，此时不做任何记忆化。
func New(reg *registry.Registry, c cache.Cache) *Decomposer {
	return &Decomposer{reg: reg, cache: c}
}

// annualToMonthly 将年化 CDR/CPR 转换为月度条件退出概率。
func annualToMonthly(annual float64) float64 {
	if annual <= 0 {
		return 0
	}
	if annual >= 1 {
		return 1
	}
	return 1 - math.Pow(1-annual, 1.0/12)
}

// seasoningRamp 实现 PSA 风格的斜坡函数：min(age/R, 1)。
func seasoningRamp(age, rampMonths int) float64 {
	if rampMonths <= 0 {
		return 1
	}
	r := float64(age) / float64(rampMonths)
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// Decompose 为一笔贷款在给定叶子/场景/配置下产生按月的危险率序列，
// 长度为 l.RemainingTerm，下标 0 对应月份 t=1。
func (d *Decomposer) Decompose(ctx context.Context, leafID int, l loan.Loan, scenario loan.Scenario, cfg loan.SimulationConfig) ([]MonthlyHazard, error) {
	switch cfg.PrepaySource {
	case loan.PrepaySourceAPEX2:
		return d.decomposeAPEX2(l, scenario, cfg)
	default:
		return d.decomposeFromCurve(ctx, leafID, l, scenario, cfg)
	}
}

// decomposeFromCurve 处理 stub / km_all / km_with_flat_default 三种模式，
// 这些模式只依赖叶子、场景与少数配置项（模式、FlatCDR、DefaultShareAlpha、
// SeasoningRampR），因此结果按这些字段记忆化。
func (d *Decomposer) decomposeFromCurve(ctx context.Context, leafID int, l loan.Loan, scenario loan.Scenario, cfg loan.SimulationConfig) ([]MonthlyHazard, error) {
	cacheKey := fmt.Sprintf("hazard|%d|%s|%s|%.6f|%.6f|%d", leafID, scenario.Name, cfg.PrepaySource, cfg.FlatCDR, cfg.DefaultShareAlpha, cfg.SeasoningRampR)

	var full [360]MonthlyHazard
	if d.cache != nil {
		var cached [360]MonthlyHazard
		if err := d.cache.Get(ctx, cacheKey, &cached); err == nil {
			full = cached
			return sliceToTerm(full, l.RemainingTerm), nil
		}
	}

	curve, _ := d.reg.Survival(leafID)
	cdrMonthly := annualToMonthly(cfg.FlatCDR)

	exceededCount := 0
	for t := 1; t <= 360; t++ {
		var h MonthlyHazard
		switch cfg.PrepaySource {
		case loan.PrepaySourceStub:
			h.Default = cdrMonthly * scenario.DefaultMult
			ramp := seasoningRamp(t, cfg.SeasoningRampR)
			h.Prepay = annualToMonthly(0.06*ramp) * scenario.PrepayMult

		case loan.PrepaySourceKMAll:
			hKM := curve.Hazard(t)
			alpha := cfg.DefaultShareAlpha
			h.Default = alpha * hKM * scenario.DefaultMult
			h.Prepay = (1 - alpha) * hKM * scenario.PrepayMult

		case loan.PrepaySourceKMWithFlatDefault:
			hKM := curve.Hazard(t)
			h.Default = cdrMonthly * scenario.DefaultMult
			prepay := hKM - cdrMonthly
			if prepay < 0 {
				prepay = 0
				exceededCount++
			}
			h.Prepay = prepay * scenario.PrepayMult
		}
		full[t-1] = h
	}

	if cfg.PrepaySource == loan.PrepaySourceKMWithFlatDefault && exceededCount > 72 {
		// §9 Open Question 1: cdr 在 360 个曲线月份中超过 20%（即多于 72 个月）超过 h_KM[t]，
		// 提前还款危险率被压平为零。这是诊断信息，不是错误。
		slog.Warn("prepay collapsed to zero for more than 20% of months",
			"leaf_id", leafID, "scenario", scenario.Name, "months", exceededCount)
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, cacheKey, full, 0)
	}

	return sliceToTerm(full, l.RemainingTerm), nil
}

// decomposeAPEX2 处理 apex2 模式：违约危险率恒为扁平 CDR，提前还款表现
// 为逐月重算的美元超额本金，依赖贷款自身特征与国债曲线，不可记忆化。
func (d *Decomposer) decomposeAPEX2(l loan.Loan, scenario loan.Scenario, cfg loan.SimulationConfig) ([]MonthlyHazard, error) {
	payment := l.ScheduledPayment()
	cdrMonthly := annualToMonthly(cfg.FlatCDR)

	out := make([]MonthlyHazard, l.RemainingTerm)
	for i := 0; i < l.RemainingTerm; i++ {
		t := i + 1
		treasury := scenario.Treasury.RateAt(t)
		mult := d.reg.Apex2.Multiplier(l, treasury)
		ramp := seasoningRamp(l.AgeMonths+t, cfg.SeasoningRampR)

		extra := payment * (mult - 1) * ramp * scenario.PrepayMult
		if extra < 0 {
			extra = 0
		}

		out[i] = MonthlyHazard{
			Default:        cdrMonthly * scenario.DefaultMult,
			ExtraPrincipal: extra,
		}
	}
	return out, nil
}

func sliceToTerm(full [360]MonthlyHazard, term int) []MonthlyHazard {
	if term > 360 {
		term = 360
	}
	if term < 0 {
		term = 0
	}
	out := make([]MonthlyHazard, term)
	copy(out, full[:term])
	return out
}
