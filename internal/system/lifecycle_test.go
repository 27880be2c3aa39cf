package system

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/driver"
	"github.com/orchid-lang/corex/internal/proto"
	"github.com/orchid-lang/corex/internal/ticket"
)

func TestSelectHighestPriorityPicksMax(t *testing.T) {
	decls := []Decl{
		{Ext: "a", Decl: proto.SystemDecl{Name: "std", Priority: 1.0}},
		{Ext: "b", Decl: proto.SystemDecl{Name: "std", Priority: 2.0}},
	}
	best := SelectHighestPriority(decls)
	require.Equal(t, ExtensionID("b"), best["std"].Ext)
}

func TestOrderByDependencyPutsDependenciesFirst(t *testing.T) {
	chosen := map[string]Decl{
		"std":  {Decl: proto.SystemDecl{Name: "std"}},
		"core": {Decl: proto.SystemDecl{Name: "core", Depends: []string{"std"}}},
		"app":  {Decl: proto.SystemDecl{Name: "app", Depends: []string{"core", "std"}}},
	}
	order, err := OrderByDependency(chosen)
	require.NoError(t, err)

	pos := make(map[string]int)
	for i, n := range order {
		pos[n] = i
	}
	require.Less(t, pos["std"], pos["core"])
	require.Less(t, pos["core"], pos["app"])
}

func TestOrderByDependencyDetectsCycle(t *testing.T) {
	chosen := map[string]Decl{
		"a": {Decl: proto.SystemDecl{Name: "a", Depends: []string{"b"}}},
		"b": {Decl: proto.SystemDecl{Name: "b", Depends: []string{"a"}}},
	}
	_, err := OrderByDependency(chosen)
	require.Error(t, err)
}

func TestOrderByDependencyUnknownDependencyErrors(t *testing.T) {
	chosen := map[string]Decl{
		"a": {Decl: proto.SystemDecl{Name: "a", Depends: []string{"missing"}}},
	}
	_, err := OrderByDependency(chosen)
	require.Error(t, err)
}

type fakeSystemLink struct {
	calls []proto.SysDeclId
}

func (f *fakeSystemLink) NewSystem(ctx context.Context, ext ExtensionID, declID proto.SysDeclId, id proto.SysId, depends []proto.SysId) (driver.LexFilter, error) {
	f.calls = append(f.calls, declID)
	return driver.LexFilter{{Lo: 'a', Hi: 'z'}}, nil
}

func TestManagerInstantiateAssignsDependencyOrderAndCachesLexFilter(t *testing.T) {
	link := &fakeSystemLink{}
	m := NewManager(link, nil)

	decls := []Decl{
		{Ext: "e1", Decl: proto.SystemDecl{ID: 1, Name: "std"}},
		{Ext: "e1", Decl: proto.SystemDecl{ID: 2, Name: "core", Depends: []string{"std"}}},
	}

	insts, err := m.Instantiate(context.Background(), decls, nil)
	require.NoError(t, err)
	require.Len(t, insts, 2)
	require.Equal(t, "std", insts[0].Name)
	require.Equal(t, "core", insts[1].Name)
	require.Equal(t, []proto.SysId{insts[0].ID}, insts[1].DependsOn)
	require.NotEmpty(t, insts[0].LexFilter)
	require.Equal(t, 2, m.Live())
}

func TestManagerDropReleasesTicketsAndRemovesRecord(t *testing.T) {
	link := &fakeSystemLink{}
	tm := ticket.NewManager(func(tk proto.ExprTicket) (proto.ShallowKind, proto.Location, bool) {
		return proto.ShallowOpaque, proto.Location{}, true
	}, nil)
	m := NewManager(link, tm)

	decls := []Decl{{Ext: "e1", Decl: proto.SystemDecl{ID: 1, Name: "std"}}}
	insts, err := m.Instantiate(context.Background(), decls, nil)
	require.NoError(t, err)
	id := insts[0].ID

	tm.Acquire(id, 7)
	require.EqualValues(t, 1, tm.Count(id, 7))

	m.Drop(id)
	_, ok := m.Lookup(id)
	require.False(t, ok)
	require.EqualValues(t, 0, tm.Count(id, 7))
	require.Equal(t, 0, m.Live())
}
