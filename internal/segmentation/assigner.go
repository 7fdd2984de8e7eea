// Package segmentation 实现 C2 分段分配器：三层级联回退——决策树、
// 规则表、硬编码分桶——将贷款映射到一个分段叶子 id。
package segmentation

import (
	"context"
	"log/slog"
	"sort"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/internal/registry"
	"github.com/wyfcoding/mortgage-kernel/metrics"
	"github.com/wyfcoding/mortgage-kernel/ruleengine"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// Tier 标记本次分配实际命中的层级。
type Tier string

const (
	TierTree      Tier = "tree"
	TierRules     Tier = "rules"
	TierHardcoded Tier = "hardcoded"
)

// Result 是单次叶子分配的结果，附带命中的层级与本次分配期间发生的
// 所有回退/缺失特征填补事件。
type Result struct {
	LeafID    int
	Tier      Tier
	Fallbacks []xerrors.ModelFallback
}

// Assigner 持有 Registry 引用与编译好的规则引擎，线程安全可并发调用。
type Assigner struct {
	reg     *registry.Registry
	rules   *ruleengine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New 从一个 Registry 构建分配器，编译规则表 (若存在)。
func New(reg *registry.Registry, m *metrics.Metrics) *Assigner {
	engine := ruleengine.NewEngine()
	for _, rule := range reg.Rules {
		_ = engine.AddRule(ruleengine.Rule{
			ID:         rule.ID,
			Expression: rule.Expression,
			Priority:   rule.Priority,
			Metadata:   map[string]any{"leaf_id": rule.LeafID, "priority": rule.Priority},
		})
	}

	return &Assigner{reg: reg, rules: engine, metrics: m, logger: slog.Default()}
}

// AssignLeaf 将贷款映射到一个叶子 id，总是返回有效结果 (全函数契约)。
func (a *Assigner) AssignLeaf(ctx context.Context, l loan.Loan) Result {
	features, fallbacks := buildFeatureVector(l)

	if a.reg.Tree != nil && a.reg.Tree.Root != nil {
		if leaf := splitNode(a.reg.Tree.Root, features); leaf != nil {
			return a.finish(ctx, l, Result{LeafID: leaf.LeafID, Tier: TierTree, Fallbacks: fallbacks}, nil)
		}
	}

	if leafID, ok := a.evaluateRules(features); ok {
		fb := append(fallbacks, xerrors.ModelFallback{
			LoanID: l.ID, FromTier: string(TierTree), ToTier: string(TierRules),
			Reason: "decision tree unavailable or produced no leaf",
		})
		return a.finish(ctx, l, Result{LeafID: leafID, Tier: TierRules, Fallbacks: fb}, &fb[len(fb)-1])
	}

	bucket := HardcodedBucket(l.CreditScore, l.LTV)
	fb := append(fallbacks, xerrors.ModelFallback{
		LoanID: l.ID, FromTier: string(TierRules), ToTier: string(TierHardcoded),
		Reason: "no rule matched or rules table unavailable",
	})
	return a.finish(ctx, l, Result{LeafID: bucket, Tier: TierHardcoded, Fallbacks: fb}, &fb[len(fb)-1])
}

func (a *Assigner) evaluateRules(features map[string]float64) (int, bool) {
	facts := make(map[string]any, len(features))
	for k, v := range features {
		facts[k] = v
	}

	results, err := a.rules.ExecuteAll(context.Background(), facts)
	if err != nil || len(results) == 0 {
		return 0, false
	}

	sort.SliceStable(results, func(i, j int) bool {
		if pi, pj := priorityOf(results[i]), priorityOf(results[j]); pi != pj {
			return pi > pj
		}
		return results[i].RuleID < results[j].RuleID
	})

	leafID, ok := results[0].Metadata["leaf_id"].(int)
	return leafID, ok
}

func priorityOf(r *ruleengine.Result) int {
	if p, ok := r.Metadata["priority"].(int); ok {
		return p
	}
	return 0
}

func (a *Assigner) finish(ctx context.Context, l loan.Loan, res Result, tierFallback *xerrors.ModelFallback) Result {
	for _, fb := range res.Fallbacks {
		a.logger.WarnContext(ctx, "segmentation model fallback", "loan_id", l.ID, "from", fb.FromTier, "to", fb.ToTier, "reason", fb.Reason)
	}
	if tierFallback != nil && a.metrics != nil {
		a.metrics.SegmentationFallback.WithLabelValues(tierFallback.FromTier, tierFallback.ToTier).Inc()
	}
	return res
}

// buildFeatureVector converts a loan into the decision tree's feature
// space: rate and LTV scaled to percent, DTI/ITIN imputed when absent,
// state mapped through the pre-binned state-group table.
func buildFeatureVector(l loan.Loan) (map[string]float64, []xerrors.ModelFallback) {
	var fallbacks []xerrors.ModelFallback

	dti, dtiImputed := l.EffectiveDTI()
	if dtiImputed {
		fallbacks = append(fallbacks, xerrors.ModelFallback{LoanID: l.ID, FromTier: "input", ToTier: "imputed_dti", Reason: "DTI missing, defaulted to 36"})
	}

	itin, itinImputed := l.EffectiveITIN()
	if itinImputed {
		fallbacks = append(fallbacks, xerrors.ModelFallback{LoanID: l.ID, FromTier: "input", ToTier: "imputed_itin", Reason: "ITIN missing, defaulted to false"})
	}

	stateGroup, stateImputed := StateGroup(l.PropertyState)
	if stateImputed {
		fallbacks = append(fallbacks, xerrors.ModelFallback{LoanID: l.ID, FromTier: "input", ToTier: "imputed_state_group", Reason: "state missing or unmapped, defaulted to group 0"})
	}

	itinVal := 0.0
	if itin {
		itinVal = 1.0
	}

	originationYear := 0.0
	if l.OriginationYear != nil {
		originationYear = float64(*l.OriginationYear)
	}

	return map[string]float64{
		"credit_score":      float64(l.CreditScore),
		"ltv_pct":           l.LTV * 100,
		"rate_pct":          l.NoteRate * 100,
		"loan_size":         l.UPB,
		"origination_year":  originationYear,
		"state_group":       float64(stateGroup),
		"itin":              itinVal,
		"original_term":     float64(l.OriginalTerm),
		"dti":               dti,
	}, fallbacks
}
