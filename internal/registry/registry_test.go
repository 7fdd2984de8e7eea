package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wyfcoding/mortgage-kernel/internal/loan"
)

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newFixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFixture(t, root, "manifest.json", `{
		"models": {"segmentation_tree": {"status": "real", "version": "1.0"}},
		"curve_variants": {"full_history": "survival/full_history.json"},
		"default_curve": "full_history"
	}`)

	writeFixture(t, root, "segmentation/tree_structure.json", `{
		"root": {
			"is_leaf": false, "feature": "credit_score", "threshold": 680,
			"left": {"is_leaf": true, "leaf_id": 1},
			"right": {"is_leaf": true, "leaf_id": 2}
		},
		"leafs": {"1": {"sample_count": 100, "source_pop_count": 1000}, "2": {"sample_count": 200, "source_pop_count": 2000}}
	}`)

	survival := `{"1": [`
	for i := 0; i < 360; i++ {
		if i > 0 {
			survival += ","
		}
		survival += "1.0"
	}
	survival += `], "2": [`
	for i := 0; i < 360; i++ {
		if i > 0 {
			survival += ","
		}
		survival += "0.99"
	}
	survival += `]}`
	writeFixture(t, root, "survival/full_history.json", survival)

	writeFixture(t, root, "apex2/credit_rates.json", `{"credit": {"bands": [{"label":"<620","max":620,"multiplier":1.3},{"label":">=620","max":1000,"multiplier":1.0}]}, "credit_no_score": 1.1}`)
	writeFixture(t, root, "apex2/rate_delta_rates.json", `{"bands": [{"label":"any","max":1000,"multiplier":1.0}]}`)
	writeFixture(t, root, "apex2/ltv_rates.json", `{"bands": [{"label":"any","max":1000,"multiplier":1.0}]}`)
	writeFixture(t, root, "apex2/loan_size_rates.json", `{"bands": [{"label":"any","max":100000000,"multiplier":1.0}]}`)

	return root
}

func TestManagerLoadsRegistry(t *testing.T) {
	root := newFixtureRoot(t)

	mgr, err := NewManager(root, "")
	if err != nil {
		t.Fatal(err)
	}

	reg, err := mgr.Current()
	if err != nil {
		t.Fatal(err)
	}

	if reg.Manifest.CurveVariant != "full_history" {
		t.Fatalf("got curve variant %q, want full_history", reg.Manifest.CurveVariant)
	}

	curve, ok := reg.Survival(1)
	if !ok {
		t.Fatal("expected leaf 1 to have a survival curve")
	}
	if curve.S[0] != 1.0 {
		t.Fatalf("S[0] = %v, want 1.0", curve.S[0])
	}
}

func TestReloadAtomicallySwapsRegistry(t *testing.T) {
	root := newFixtureRoot(t)
	mgr, err := NewManager(root, "")
	if err != nil {
		t.Fatal(err)
	}

	before, _ := mgr.Current()

	if err := mgr.Reload(root, "full_history"); err != nil {
		t.Fatal(err)
	}

	after, _ := mgr.Current()
	if before == after {
		t.Fatal("expected Reload to produce a distinct Registry value")
	}
}

func TestLoadMissingArtifactFails(t *testing.T) {
	root := t.TempDir()
	if _, err := NewManager(root, ""); err == nil {
		t.Fatal("expected MissingArtifact error for empty artifact root")
	}
}

func TestVariantNotFoundFails(t *testing.T) {
	root := newFixtureRoot(t)
	if _, err := NewManager(root, "does_not_exist"); err == nil {
		t.Fatal("expected VariantNotFound error")
	}
}

func TestApex2MultiplierIsMeanOfFourBands(t *testing.T) {
	root := newFixtureRoot(t)
	mgr, err := NewManager(root, "")
	if err != nil {
		t.Fatal(err)
	}
	reg, _ := mgr.Current()

	l := loan.Loan{CreditScore: 700, NoteRate: 0.06, LTV: 0.8, UPB: 200000}
	mult := reg.Apex2.Multiplier(l, 0.045)

	// credit band (700 -> 1.0) + rate_delta (1.0) + ltv (1.0) + loan size (1.0), all /4
	if mult != 1.0 {
		t.Fatalf("got %v, want 1.0", mult)
	}
}
