package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
	"github.com/wyfcoding/mortgage-kernel/xerrors"
)

// manifestFile 镜像 manifest.json 的结构。
type manifestFile struct {
	Models        map[string]manifestModel `json:"models"`
	CurveVariants map[string]string        `json:"curve_variants"`
	DefaultCurve  string                   `json:"default_curve"`
}

type manifestModel struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Metrics map[string]float64 `json:"metrics"`
}

// treeFile 镜像 segmentation/tree_structure.json 的结构，递归节点定义。
type treeFile struct {
	Root  *treeNodeFile       `json:"root"`
	Leafs map[string]leafMeta `json:"leafs"`
}

type treeNodeFile struct {
	IsLeaf    bool          `json:"is_leaf"`
	LeafID    int           `json:"leaf_id"`
	Feature   string        `json:"feature"`
	Threshold float64       `json:"threshold"`
	Left      *treeNodeFile `json:"left"`
	Right     *treeNodeFile `json:"right"`
}

type leafMeta struct {
	SampleCount    int `json:"sample_count"`
	SourcePopCount int `json:"source_pop_count"`
}

// rulesFile 镜像 C2 第二层规则表文件，JSON 描述的 (feature, operator, value) 合取式。
type rulesFile struct {
	Rules []RuleDef `json:"rules"`
}

// RuleDef 是规则表中一条规则的原始定义；Expression 是 expr-lang 表达式，
// 在 segmentation/rules.json 中以字符串形式给出；多条命中时 Priority 最高者
// 胜出，同优先级按 ID 升序取第一条。
type RuleDef struct {
	ID         string         `json:"id"`
	LeafID     int            `json:"leaf_id"`
	Expression string         `json:"expression"`
	Priority   int            `json:"priority"`
	Metadata   map[string]any `json:"metadata"`
}

// survivalFile 镜像 survival/<variant>.json：叶子 id -> 360 个月的生存概率。
type survivalFile map[string][]float64

type apex2BandFile struct {
	Bands []Band `json:"bands"`
}

type scenarioFile struct {
	Scenarios map[string]scenarioDef `json:"scenarios"`
}

type scenarioDef struct {
	DefaultMult  float64   `json:"default_mult"`
	PrepayMult   float64   `json:"prepay_mult"`
	RecoveryMult float64   `json:"recovery_mult"`
	TreasuryPillars []int  `json:"treasury_pillar_months"`
	TreasuryRates   []float64 `json:"treasury_rates"`
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return xerrors.ErrMissingArtifact.Clone().WithContext("path", path)
		}
		return xerrors.Wrap(err, xerrors.ErrInternal, "read artifact").WithContext("path", path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.ErrBadArtifactFormat.Clone().WithContext("path", path).WithDetail("unmarshal error: %v", err)
	}
	return nil
}

// loadManifest 从 artifactRoot 下的 manifest.json 及其引用的文件构建一个
// 完整的 Registry。curveVariant 为空时使用 manifest 指定的默认变体。
func loadManifest(artifactRoot, curveVariant string) (*Registry, error) {
	var mf manifestFile
	if err := readJSON(filepath.Join(artifactRoot, "manifest.json"), &mf); err != nil {
		return nil, err
	}

	variant := curveVariant
	if variant == "" {
		variant = mf.DefaultCurve
	}
	curvePath, ok := mf.CurveVariants[variant]
	if !ok {
		return nil, xerrors.ErrVariantNotFound.Clone().WithContext("variant", variant)
	}

	tree, err := loadTree(filepath.Join(artifactRoot, "segmentation", "tree_structure.json"))
	if err != nil {
		return nil, err
	}

	curves, err := loadSurvivalCurves(filepath.Join(artifactRoot, curvePath))
	if err != nil {
		return nil, err
	}

	apex2, err := loadApex2(artifactRoot)
	if err != nil {
		return nil, err
	}

	scenarios, err := loadScenarios(filepath.Join(artifactRoot, "scenarios.json"))
	if err != nil {
		return nil, err
	}

	rules, err := loadRules(filepath.Join(artifactRoot, "segmentation", "rules.json"))
	if err != nil {
		return nil, err
	}

	models := make(map[string]ModelInfo, len(mf.Models))
	for name, m := range mf.Models {
		models[name] = ModelInfo{Name: name, Version: m.Version, Status: ModelStatus(m.Status), Metrics: m.Metrics}
	}

	return &Registry{
		Tree:         tree,
		Curves:       curves,
		Apex2:        apex2,
		Scenarios:    scenarios,
		Rules:        rules,
		Manifest:     ModelManifestView{Models: models, CurveVariant: variant},
		ArtifactRoot: artifactRoot,
	}, nil
}

func loadTree(path string) (*SegmentationTree, error) {
	var tf treeFile
	if err := readJSON(path, &tf); err != nil {
		return nil, err
	}
	if tf.Root == nil {
		return nil, xerrors.ErrBadArtifactFormat.Clone().WithContext("path", path).WithDetail("tree has no root")
	}

	leafs := make(map[int]*TreeNode)
	root := convertTreeNode(tf.Root, tf.Leafs, leafs)
	return &SegmentationTree{Root: root, Leafs: leafs}, nil
}

func convertTreeNode(n *treeNodeFile, metaByLeaf map[string]leafMeta, out map[int]*TreeNode) *TreeNode {
	if n.IsLeaf {
		meta := metaByLeaf[fmt.Sprint(n.LeafID)]
		node := &TreeNode{
			IsLeaf:         true,
			LeafID:         n.LeafID,
			SampleCount:    meta.SampleCount,
			SourcePopCount: meta.SourcePopCount,
		}
		out[n.LeafID] = node
		return node
	}
	node := &TreeNode{
		Feature:   n.Feature,
		Threshold: n.Threshold,
	}
	if n.Left != nil {
		node.Left = convertTreeNode(n.Left, metaByLeaf, out)
	}
	if n.Right != nil {
		node.Right = convertTreeNode(n.Right, metaByLeaf, out)
	}
	return node
}

func loadSurvivalCurves(path string) (map[int]SurvivalCurve, error) {
	var sf survivalFile
	if err := readJSON(path, &sf); err != nil {
		return nil, err
	}

	curves := make(map[int]SurvivalCurve, len(sf))
	for key, values := range sf {
		var leafID int
		if _, err := fmt.Sscanf(key, "%d", &leafID); err != nil {
			return nil, xerrors.ErrBadArtifactFormat.Clone().WithContext("path", path).WithDetail("non-integer leaf key %q", key)
		}
		var curve SurvivalCurve
		curve.LeafID = leafID
		curve.S[0] = 1.0
		for t := 1; t <= 360 && t <= len(values); t++ {
			curve.S[t] = values[t-1]
		}
		curves[leafID] = curve
	}
	return curves, nil
}

func loadApex2(artifactRoot string) (Apex2Tables, error) {
	var af struct {
		Credit        apex2BandFile `json:"credit"`
		CreditNoScore float64       `json:"credit_no_score"`
	}
	var creditFile, rateDeltaFile, ltvFile, sizeFile apex2BandFile

	if err := readJSON(filepath.Join(artifactRoot, "apex2", "credit_rates.json"), &af); err != nil {
		return Apex2Tables{}, err
	}
	creditFile = af.Credit

	if err := readJSON(filepath.Join(artifactRoot, "apex2", "rate_delta_rates.json"), &rateDeltaFile); err != nil {
		return Apex2Tables{}, err
	}
	if err := readJSON(filepath.Join(artifactRoot, "apex2", "ltv_rates.json"), &ltvFile); err != nil {
		return Apex2Tables{}, err
	}
	if err := readJSON(filepath.Join(artifactRoot, "apex2", "loan_size_rates.json"), &sizeFile); err != nil {
		return Apex2Tables{}, err
	}

	return Apex2Tables{
		Credit:        creditFile.Bands,
		CreditNoScore: af.CreditNoScore,
		RateDelta:     rateDeltaFile.Bands,
		LTV:           ltvFile.Bands,
		LoanSize:      sizeFile.Bands,
	}, nil
}

func loadScenarios(path string) (map[string]loan.Scenario, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		base := loan.BaselineScenario()
		return map[string]loan.Scenario{base.Name: base}, nil
	}

	var sf scenarioFile
	if err := readJSON(path, &sf); err != nil {
		return nil, err
	}

	out := make(map[string]loan.Scenario, len(sf.Scenarios))
	for name, def := range sf.Scenarios {
		s := loan.Scenario{
			Name:         name,
			DefaultMult:  def.DefaultMult,
			PrepayMult:   def.PrepayMult,
			RecoveryMult: def.RecoveryMult,
		}
		if len(def.TreasuryPillars) > 0 {
			s.Treasury = loan.TreasuryCurve{PillarMonths: def.TreasuryPillars, Rates: def.TreasuryRates}
		}
		out[name] = s
	}
	return out, nil
}

func loadRules(path string) ([]RuleDef, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	var rf rulesFile
	if err := readJSON(path, &rf); err != nil {
		return nil, err
	}
	return rf.Rules, nil
}
