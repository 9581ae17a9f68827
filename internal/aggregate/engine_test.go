package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calco/internal/core"
	"calco/internal/ledger/memory"
)

type graph struct {
	t     *testing.T
	store *memory.Store
	ids   map[string]int64
}

func newGraph(t *testing.T, names ...string) *graph {
	t.Helper()
	g := &graph{t: t, store: memory.New(), ids: map[string]int64{}}
	for _, n := range names {
		sh, err := g.store.CreateSheet(context.Background(), n)
		require.NoError(t, err)
		g.ids[n] = sh.ID
	}
	return g
}

// link makes parent inherit child.
func (g *graph) link(parent, child string) {
	g.t.Helper()
	require.NoError(g.t, g.store.CreateEdge(context.Background(), core.InheritedSheet{
		ParentSheetID: g.ids[parent], InheritedSheetID: g.ids[child], Date: core.NewDate(2024, 1, 1),
	}))
}

func (g *graph) value(name string) int64 {
	g.t.Helper()
	sh, err := g.store.GetSheet(context.Background(), g.ids[name])
	require.NoError(g.t, err)
	return sh.CachedValue
}

func TestApplyDeltaChain(t *testing.T) {
	g := newGraph(t, "A", "B", "C")
	g.link("A", "B")
	g.link("B", "C")

	e := NewEngine(g.store, Options{}, nil)
	require.NoError(t, e.ApplyDelta(context.Background(), g.ids["C"], 25))

	for _, n := range []string{"A", "B", "C"} {
		assert.Equal(t, int64(25), g.value(n), n)
	}
}

func TestApplyDeltaDiamondPerPath(t *testing.T) {
	g := newGraph(t, "A", "B", "C", "D")
	g.link("A", "B")
	g.link("A", "C")
	g.link("B", "D")
	g.link("C", "D")

	e := NewEngine(g.store, Options{Mode: PerPath}, nil)
	require.NoError(t, e.ApplyDelta(context.Background(), g.ids["D"], 10))

	assert.Equal(t, int64(10), g.value("D"))
	assert.Equal(t, int64(10), g.value("B"))
	assert.Equal(t, int64(10), g.value("C"))
	assert.Equal(t, int64(20), g.value("A"))
}

func TestApplyDeltaDiamondOnce(t *testing.T) {
	g := newGraph(t, "A", "B", "C", "D")
	g.link("A", "B")
	g.link("A", "C")
	g.link("B", "D")
	g.link("C", "D")

	e := NewEngine(g.store, Options{Mode: Once}, nil)
	require.NoError(t, e.ApplyDelta(context.Background(), g.ids["D"], 10))

	assert.Equal(t, int64(10), g.value("A"))
}

func TestApplyDeltaMissingTargetIsNoop(t *testing.T) {
	g := newGraph(t, "A")
	e := NewEngine(g.store, Options{}, nil)

	require.NoError(t, e.ApplyDelta(context.Background(), 9999, 10))
	assert.Equal(t, int64(0), g.value("A"))
}

func TestApplyDeltaRollsBackOnFailure(t *testing.T) {
	g := newGraph(t, "A", "B", "C")
	g.link("A", "B")
	g.link("B", "C")
	g.store.FailAfter = 3

	e := NewEngine(g.store, Options{}, nil)
	err := e.ApplyDelta(context.Background(), g.ids["C"], 5)
	require.Error(t, err)

	for _, n := range []string{"A", "B", "C"} {
		assert.Equal(t, int64(0), g.value(n), n)
	}
}

func TestApplyDeltaCycleHitsLimit(t *testing.T) {
	g := newGraph(t, "A", "B")
	g.link("A", "B")
	g.link("B", "A")

	e := NewEngine(g.store, Options{MaxVisits: 50}, nil)
	err := e.ApplyDelta(context.Background(), g.ids["A"], 1)
	require.ErrorIs(t, err, ErrPropagationLimit)
	assert.Equal(t, int64(0), g.value("A"))
	assert.Equal(t, int64(0), g.value("B"))

	once := NewEngine(g.store, Options{Mode: Once}, nil)
	require.NoError(t, once.ApplyDelta(context.Background(), g.ids["A"], 1))
	assert.Equal(t, int64(1), g.value("A"))
	assert.Equal(t, int64(1), g.value("B"))
}

func TestReaches(t *testing.T) {
	g := newGraph(t, "Year", "Q1", "March", "Other")
	g.link("Year", "Q1")
	g.link("Q1", "March")

	e := NewEngine(g.store, Options{}, nil)
	ctx := context.Background()

	ok, err := e.Reaches(ctx, g.store, g.ids["March"], g.ids["Year"])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Reaches(ctx, g.store, g.ids["Year"], g.ids["March"])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Reaches(ctx, g.store, g.ids["Other"], g.ids["Other"])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, PerPath, m)
	m, err = ParseMode("ONCE")
	require.NoError(t, err)
	assert.Equal(t, Once, m)
	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
