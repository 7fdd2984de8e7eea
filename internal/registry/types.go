// Package registry 实现 C1 模型仓库：加载并持有不可变的模型 artifact——
// 分段决策树、所选曲线变体的生存曲线、APEX2 四维表与场景目录。
package registry

import (
	"github.com/wyfcoding/mortgage-kernel/internal/loan"
)

// TreeNode 是分段决策树的一个节点；叶子节点携带 LeafID。
type TreeNode struct {
	IsLeaf    bool
	LeafID    int
	Feature   string
	Threshold float64
	Left      *TreeNode
	Right     *TreeNode

	// 叶子元数据 (仅 IsLeaf 时有效)。
	SampleCount       int
	SourcePopCount    int
}

// SegmentationTree 是 C2 使用的决策树，以及其叶子的元数据索引。
type SegmentationTree struct {
	Root  *TreeNode
	Leafs map[int]*TreeNode // leaf id -> 叶子节点，便于 O(1) 元数据查询
}

// SurvivalCurve 是单个叶子在 360 个月上的生存概率序列，S[0]=1.0。
type SurvivalCurve struct {
	LeafID int
	S      [361]float64 // 索引 0..360，S[0]=1.0
}

// Hazard 返回月份 t (1..360) 处的离散危险率 h[t] = 1 - S[t]/S[t-1]。
func (c SurvivalCurve) Hazard(t int) float64 {
	if t < 1 || t > 360 || c.S[t-1] <= 0 {
		return 0
	}
	h := 1 - c.S[t]/c.S[t-1]
	if h < 0 {
		return 0
	}
	return h
}

// Band 是一个带上界的分段区间，Max 使用 math.Inf(1) 表示开放上界。
type Band struct {
	Label      string
	Max        float64
	Multiplier float64
}

// BandTable 是按 Max 升序排列的分段表；Lookup 返回第一个 Max ≥ x 的乘数。
type BandTable []Band

// Lookup 返回 x 所属区间的乘数；x 超出所有区间时回落到最后一档。
func (t BandTable) Lookup(x float64) float64 {
	for _, b := range t {
		if x <= b.Max {
			return b.Multiplier
		}
	}
	if len(t) == 0 {
		return 1
	}
	return t[len(t)-1].Multiplier
}

// Apex2Tables 是四个独立维度的 APEX2 查表：信用、利率差、LTV、贷款规模。
type Apex2Tables struct {
	Credit            BandTable
	CreditNoScore     float64 // 信用分数为 NoScoreSentinel 时使用的乘数
	RateDelta         BandTable
	LTV               BandTable
	LoanSize          BandTable
}

// Multiplier 返回贷款在给定国债利率下的 APEX2 四维平均乘数。
func (t Apex2Tables) Multiplier(l loan.Loan, treasuryRate float64) float64 {
	creditMult := t.CreditNoScore
	if l.CreditScore != loan.NoScoreSentinel {
		creditMult = t.Credit.Lookup(float64(l.CreditScore))
	}
	rateDeltaPct := (l.NoteRate - treasuryRate) * 100
	rateMult := t.RateDelta.Lookup(rateDeltaPct)
	ltvMult := t.LTV.Lookup(l.LTV * 100)
	sizeMult := t.LoanSize.Lookup(l.UPB)

	return (creditMult + rateMult + ltvMult + sizeMult) / 4
}

// ModelStatus 描述单个模型 artifact 的状态标签，real 表示真实训练模型，
// stub 表示占位实现。
type ModelStatus string

const (
	StatusReal ModelStatus = "real"
	StatusStub ModelStatus = "stub"
)

// ModelInfo 是 model_status() 返回视图中单个模型的条目。
type ModelInfo struct {
	Name    string
	Version string
	Status  ModelStatus
	Metrics map[string]float64
}

// ModelManifestView 是 §6 model_status() 操作的返回形状。
type ModelManifestView struct {
	Models       map[string]ModelInfo
	CurveVariant string
}

// LeafView 是 §6 leaf_detail(leaf_id) 操作的返回形状。
type LeafView struct {
	LeafID         int
	SampleCount    int
	SourcePopCount int
	Survival       SurvivalCurve
}
