package statevec

import (
	"errors"
	"testing"

	"github.com/san-kum/biosim/internal/dynamo"
	"github.com/san-kum/biosim/internal/expr"
	"github.com/san-kum/biosim/internal/model"
)

func arena(t *testing.T) *model.Arena {
	t.Helper()
	top := &model.ModelState{
		ID:           "top",
		Compartments: []model.Compartment{{ID: "c", Size: 1, Constant: true}},
		Species: []model.Species{
			{ID: "A", Compartment: "c", Initial: 5},
			{ID: "B", Compartment: "c"},
		},
		Parameters: []model.Parameter{{ID: "k", Value: 1, Constant: true}},
		Reactions: []model.Reaction{{
			ID:        "r1",
			Rate:      expr.MustCompile("k*A"),
			Reactants: []model.SpeciesRef{{Species: "A", Stoichiometry: 1}},
			Products:  []model.SpeciesRef{{Species: "B", Stoichiometry: 2}},
		}},
	}
	a := model.NewArena(top)
	sub := &model.ModelState{
		ID:           "sub",
		Compartments: []model.Compartment{{ID: "c", Size: 1, Constant: true}},
		Species: []model.Species{
			{ID: "X", Compartment: "c"},
			{ID: "Y", Compartment: "c", Initial: 7},
		},
		Reactions: []model.Reaction{{
			ID:        "r2",
			Rate:      expr.MustCompile("X"),
			Reactants: []model.SpeciesRef{{Species: "X", StoichiometryMath: expr.MustCompile("Y/7")}},
		}},
		Replacements: map[string]string{"X": "B"},
	}
	if _, err := a.AddSubmodel(sub); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBuild(t *testing.T) {
	v, err := Build(arena(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// top: c, A, B, k; sub: c, Y (X aliases B)
	if v.Dim() != 6 {
		t.Fatalf("expected dimension 6, got %d", v.Dim())
	}

	b, _ := v.Index(model.Top, "B")
	x, ok := v.Index(1, "X")
	if !ok || x != b {
		t.Errorf("expected X to share index %d, got %d (%v)", b, x, ok)
	}
	if keys := v.Keys(b); len(keys) != 2 || keys[1] != (Key{Scope: 1, Name: "X"}) {
		t.Errorf("unexpected keys for shared index: %v", keys)
	}
	if v.Key(b) != (Key{Scope: model.Top, Name: "B"}) {
		t.Errorf("owner of shared index should be the top model, got %v", v.Key(b))
	}

	y, _ := v.Index(1, "Y")
	if v.Get(y) != 7 {
		t.Errorf("expected Y = 7, got %v", v.Get(y))
	}
	c0, _ := v.Index(model.Top, "c")
	c1, _ := v.Index(1, "c")
	if c0 == c1 {
		t.Error("same name in different scopes must get different indices")
	}
}

func TestBuildTerms(t *testing.T) {
	v, err := Build(arena(t))
	if err != nil {
		t.Fatal(err)
	}

	a, _ := v.Index(model.Top, "A")
	b, _ := v.Index(model.Top, "B")

	ta := v.Terms(a)
	if len(ta) != 1 || ta[0].Sign != -1 || ta[0].Coeff != 1 {
		t.Errorf("unexpected terms for A: %+v", ta)
	}

	tb := v.Terms(b)
	if len(tb) != 2 {
		t.Fatalf("expected 2 terms for B, got %d", len(tb))
	}
	if tb[0].Scope != model.Top || tb[0].Sign != 1 || tb[0].Coeff != 2 {
		t.Errorf("unexpected production term: %+v", tb[0])
	}
	if tb[1].Scope != 1 || tb[1].Sign != -1 || tb[1].Stoich == nil {
		t.Errorf("unexpected consumption term from submodel: %+v", tb[1])
	}
}

func TestAddReactionUnresolved(t *testing.T) {
	v := New(1)
	v.AddVariable(model.Top, "A", 0)

	err := v.AddReaction(model.Top, "top", 0, model.Reaction{
		ID:       "r",
		Products: []model.SpeciesRef{{Species: "Q", Stoichiometry: 1}},
	})
	var ue *UnresolvedError
	if !errors.As(err, &ue) || ue.Name != "Q" {
		t.Fatalf("expected UnresolvedError for Q, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	v := New(1)
	v.AddVariable(model.Top, "A", 1)
	v.AddVariable(model.Top, "B", 2)
	if again := v.AddVariable(model.Top, "A", 9); again != 0 {
		t.Errorf("re-adding A should return index 0, got %d", again)
	}

	snap := v.Snapshot()
	v.Set(0, 100)
	v.Values()[1] = 200

	if err := v.Restore(snap); err != nil {
		t.Fatal(err)
	}
	if !v.Values().Equal(dynamo.State{1, 2}) {
		t.Errorf("expected [1 2], got %v", v.Values())
	}
	if err := v.Restore(dynamo.State{1}); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}
