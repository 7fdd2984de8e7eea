package registry

import (
	"sync/atomic"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// Registry 是不可变的模型 artifact 集合；构造后任何字段都不会被修改。
// 曲线变体切换通过 Manager.Reload 原地构建新值并原子替换句柄完成。
type Registry struct {
	Tree         *SegmentationTree
	Curves       map[int]SurvivalCurve
	Apex2        Apex2Tables
	Scenarios    map[string]loan.Scenario
	Rules        []RuleDef
	Manifest     ModelManifestView
	ArtifactRoot string
}

// Survival 返回指定叶子的生存曲线。
func (r *Registry) Survival(leafID int) (SurvivalCurve, bool) {
	c, ok := r.Curves[leafID]
	return c, ok
}

// Scenario 按名称返回场景定义。
func (r *Registry) Scenario(name string) (loan.Scenario, bool) {
	s, ok := r.Scenarios[name]
	return s, ok
}

// LeafView 返回 leaf_detail() 操作所需的视图。
func (r *Registry) LeafView(leafID int) (LeafView, bool) {
	node, ok := r.Tree.Leafs[leafID]
	if !ok {
		return LeafView{}, false
	}
	curve, _ := r.Survival(leafID)
	return LeafView{
		LeafID:         leafID,
		SampleCount:    node.SampleCount,
		SourcePopCount: node.SourcePopCount,
		Survival:       curve,
	}, true
}

// Manager 持有一个原子替换的 Registry 句柄，支持进程运行期间的热重载；
// 正在进行的估值保留其获取时的原 Registry 引用直到完成。
type Manager struct {
	current atomic.Pointer[Registry]
}

// NewManager 从 artifactRoot 加载初始 Registry。
func NewManager(artifactRoot, curveVariant string) (*Manager, error) {
	m := &Manager{}
	if err := m.Reload(artifactRoot, curveVariant); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload 构建一个新的 Registry 并原子替换当前句柄。
func (m *Manager) Reload(artifactRoot, curveVariant string) error {
	reg, err := loadManifest(artifactRoot, curveVariant)
	if err != nil {
		return err
	}
	m.current.Store(reg)
	return nil
}

// Current 返回当前生效的 Registry；调用方应在一次估值调用期间持有该
// 引用，而不是反复调用 Current，以保证曲线/模型一致性。
func (m *Manager) Current() (*Registry, error) {
	reg := m.current.Load()
	if reg == nil {
		return nil, xerrors.ErrMissingArtifact.Clone().WithDetail("registry not loaded")
	}
	return reg, nil
}
