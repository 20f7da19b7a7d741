package groups_test

import (
	"testing"

	"scenemerge/groups"
	"scenemerge/internal/scenetest"
	"scenemerge/scene"
)

func group(t *testing.T, tree *scene.Tree, names ...string) *scene.SelectionGroup {
	t.Helper()
	g := tree.SelectionGroups().CreateSelectionGroup()
	addMembers(t, tree, g, names...)
	return g
}

func addMembers(t *testing.T, tree *scene.Tree, g *scene.SelectionGroup, names ...string) {
	t.Helper()
	for _, name := range names {
		n := tree.FindEntity(name)
		if n == nil {
			t.Fatalf("entity %s not found in %s", name, tree.Name())
		}
		g.AddNode(n)
	}
}

func memberNames(g *scene.SelectionGroup) map[string]bool {
	out := make(map[string]bool)
	g.ForEachNode(func(n *scene.Node) { out[n.Entity().Name()] = true })
	return out
}

// assertSizeOrder checks that each node's groups strictly grow in size.
func assertSizeOrder(t *testing.T, tree *scene.Tree) {
	t.Helper()
	manager := tree.SelectionGroups()
	tree.ForEachNode(func(n *scene.Node) bool {
		ids := n.GroupIDs()
		for i := 1; i < len(ids); i++ {
			prev := manager.SelectionGroup(ids[i-1]).Size()
			cur := manager.SelectionGroup(ids[i]).Size()
			if prev >= cur {
				t.Errorf("%s: group %d (size %d) is not smaller than group %d (size %d)",
					n, ids[i-1], prev, ids[i], cur)
			}
		}
		return true
	})
}

func TestEnsureGroupSizeOrder_Reorders(t *testing.T) {
	tree := scenetest.BaseMap()
	outer := group(t, tree, "light_1", "func_static_1", "info_player_start_1")
	inner := group(t, tree, "light_1")

	var changes []groups.Change
	if err := groups.EnsureGroupSizeOrder(tree, func(c groups.Change) { changes = append(changes, c) }); err != nil {
		t.Fatalf("EnsureGroupSizeOrder: %v", err)
	}

	ids := tree.FindEntity("light_1").GroupIDs()
	if len(ids) != 2 || ids[0] != inner.ID() || ids[1] != outer.ID() {
		t.Errorf("expected [inner outer], got %v", ids)
	}
	if len(changes) != 1 || changes[0].Type != groups.NodeGroupsReordered {
		t.Errorf("expected one reorder change, got %+v", changes)
	}
	assertSizeOrder(t, tree)
}

func TestEnsureGroupSizeOrder_MergesEqualSizes(t *testing.T) {
	tree := scenetest.BaseMap()
	a := group(t, tree, "light_1", "func_static_1")
	b := group(t, tree, "light_1", "info_player_start_1")

	if err := groups.EnsureGroupSizeOrder(tree, nil); err != nil {
		t.Fatalf("EnsureGroupSizeOrder: %v", err)
	}

	manager := tree.SelectionGroups()
	if manager.SelectionGroup(b.ID()) != nil {
		t.Error("the group with the higher id should be deleted")
	}
	merged := manager.SelectionGroup(a.ID())
	if merged == nil || merged.Size() != 3 {
		t.Fatalf("expected the merged group to hold 3 members")
	}
	if ids := tree.FindEntity("info_player_start_1").GroupIDs(); len(ids) != 1 || ids[0] != a.ID() {
		t.Errorf("unexpected ids %v", ids)
	}
	assertSizeOrder(t, tree)
}

func TestEnsureGroupSizeOrder_CascadingMerges(t *testing.T) {
	tree := scenetest.BaseMap()
	group(t, tree, "light_1")
	group(t, tree, "light_1")
	group(t, tree, "light_1", "func_static_1")
	group(t, tree, "func_static_1", "info_player_start_1")

	if err := groups.EnsureGroupSizeOrder(tree, nil); err != nil {
		t.Fatalf("EnsureGroupSizeOrder: %v", err)
	}
	assertSizeOrder(t, tree)
	if n := tree.SelectionGroups().GroupCount(); n != 2 {
		t.Errorf("expected 2 groups after merging, got %d", n)
	}
}

func TestMerger_CreatesSourceGroups(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	g := group(t, source, "light_1", "info_player_start_1")

	m := groups.NewMerger(source, base)
	if err := m.AdjustBaseGroups(); err != nil {
		t.Fatalf("AdjustBaseGroups: %v", err)
	}

	baseGroup := base.SelectionGroups().SelectionGroup(g.ID())
	if baseGroup == nil {
		t.Fatal("expected the group to be created with the same id")
	}
	if got := memberNames(baseGroup); len(got) != 2 || !got["light_1"] || !got["info_player_start_1"] {
		t.Errorf("unexpected members %v", got)
	}
	if m.LogMessages() == "" {
		t.Error("expected log output")
	}
}

func TestMerger_RemovesGroupsMissingInSource(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	g := group(t, base, "light_1")

	if err := groups.NewMerger(source, base).AdjustBaseGroups(); err != nil {
		t.Fatalf("AdjustBaseGroups: %v", err)
	}
	if base.SelectionGroups().SelectionGroup(g.ID()) != nil {
		t.Error("group should have been removed")
	}
}

func TestMerger_KeepsGroupsWithBaseOnlyMembers(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	scenetest.Entity(base, "classname", "info_null", "name", "extra_1")
	g := group(t, base, "light_1", "extra_1")

	if err := groups.NewMerger(source, base).AdjustBaseGroups(); err != nil {
		t.Fatalf("AdjustBaseGroups: %v", err)
	}
	kept := base.SelectionGroups().SelectionGroup(g.ID())
	if kept == nil {
		t.Fatal("group with base-only members must be kept")
	}
	if got := memberNames(kept); len(got) != 1 || !got["extra_1"] {
		t.Errorf("expected only extra_1 to remain, got %v", got)
	}
}

func TestThreeWayMerger_AddedSourceGroupGetsFreshID(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")

	sourceGroup := group(t, source, "light_1", "func_static_1")
	targetGroup := group(t, target, "info_player_start_1")
	if sourceGroup.ID() != targetGroup.ID() {
		t.Fatalf("test setup expects clashing ids, got %d and %d", sourceGroup.ID(), targetGroup.ID())
	}

	m := groups.NewThreeWayMerger(base, source, target)
	if err := m.AdjustTargetGroups(); err != nil {
		t.Fatalf("AdjustTargetGroups: %v", err)
	}

	manager := target.SelectionGroups()
	if manager.GroupCount() != 2 {
		t.Fatalf("expected 2 groups in target, got %d", manager.GroupCount())
	}
	if got := memberNames(manager.SelectionGroup(targetGroup.ID())); len(got) != 1 {
		t.Errorf("target group must be untouched, got %v", got)
	}
	ids := target.FindEntity("light_1").GroupIDs()
	if len(ids) != 1 || ids[0] == targetGroup.ID() {
		t.Errorf("light_1 should be in the new group, got %v", ids)
	}
}

func TestThreeWayMerger_EquivalentGroupNotDuplicated(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")

	group(t, source, "light_1", "func_static_1")
	group(t, target, "func_static_1", "light_1")

	if err := groups.NewThreeWayMerger(base, source, target).AdjustTargetGroups(); err != nil {
		t.Fatalf("AdjustTargetGroups: %v", err)
	}
	if n := target.SelectionGroups().GroupCount(); n != 1 {
		t.Errorf("expected 1 group, got %d", n)
	}
}

func TestThreeWayMerger_RemovedSourceGroup(t *testing.T) {
	base := scenetest.BaseMap()
	kept := group(t, base, "light_1", "func_static_1")
	removed := group(t, base, "info_player_start_1")

	source := base.Clone("source")
	target := base.Clone("target")
	source.SelectionGroups().DeleteSelectionGroup(kept.ID())
	source.SelectionGroups().DeleteSelectionGroup(removed.ID())

	// Target modified one of them, that one stays
	addMembers(t, target, target.SelectionGroups().SelectionGroup(kept.ID()), "info_player_start_1")

	m := groups.NewThreeWayMerger(base, source, target)
	if err := m.AdjustTargetGroups(); err != nil {
		t.Fatalf("AdjustTargetGroups: %v", err)
	}

	manager := target.SelectionGroups()
	if manager.SelectionGroup(removed.ID()) != nil {
		t.Error("unmodified group should follow the source removal")
	}
	if manager.SelectionGroup(kept.ID()) == nil {
		t.Error("group modified in target must be kept")
	}
	assertSizeOrder(t, target)
}

func TestThreeWayMerger_ModifiedSourceGroupIsAdditive(t *testing.T) {
	base := scenetest.BaseMap()
	g := group(t, base, "light_1", "func_static_1")

	source := base.Clone("source")
	target := base.Clone("target")

	sourceGroup := source.SelectionGroups().SelectionGroup(g.ID())
	sourceGroup.RemoveNode(source.FindEntity("func_static_1"))
	addMembers(t, source, sourceGroup, "info_player_start_1")

	if err := groups.NewThreeWayMerger(base, source, target).AdjustTargetGroups(); err != nil {
		t.Fatalf("AdjustTargetGroups: %v", err)
	}

	got := memberNames(target.SelectionGroups().SelectionGroup(g.ID()))
	if len(got) != 3 || !got["info_player_start_1"] || !got["func_static_1"] {
		t.Errorf("expected additions replayed without removals, got %v", got)
	}
}

func TestGroupFingerprint_IndependentOfOrder(t *testing.T) {
	tree := scenetest.BaseMap()
	a := group(t, tree, "light_1", "func_static_1")
	b := group(t, tree, "func_static_1", "light_1")
	c := group(t, tree, "light_1")

	if groups.GroupFingerprint(a) != groups.GroupFingerprint(b) {
		t.Error("member order must not matter")
	}
	if groups.GroupFingerprint(a) == groups.GroupFingerprint(c) {
		t.Error("different members must differ")
	}
}
