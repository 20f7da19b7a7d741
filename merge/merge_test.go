package merge_test

import (
	"errors"
	"testing"

	"scenemerge/diff"
	"scenemerge/internal/scenetest"
	"scenemerge/merge"
	"scenemerge/scene"
)

const brick = "textures/darkmod/stone/brick"

func twoWay(t *testing.T, source, base *scene.Tree) *merge.Operation {
	t.Helper()
	result, err := diff.Compare(source, base)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	op, err := merge.CreateFromComparisonResult(result)
	if err != nil {
		t.Fatalf("CreateFromComparisonResult: %v", err)
	}
	return op
}

func TestTwoWay_ApplyMakesBaseEquivalent(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")

	source.FindEntity("light_1").Entity().SetKeyValue("origin", "16 0 0")
	source.FindEntity("light_1").Entity().SetKeyValue("_color", "1 0.5 0")
	if err := source.Remove(source.FindEntity("info_player_start_1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	scenetest.Entity(source, "classname", "light", "name", "torch_1", "origin", "64 64 64")

	fs := source.FindEntity("func_static_1")
	if err := source.Remove(scenetest.ChildWithMaterial(fs, brick)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	scenetest.MustBrush(source, fs, scenetest.Cube(brick, 512))

	op := twoWay(t, source, base)
	report := op.ApplyActions()
	if !report.OK() {
		t.Fatalf("unexpected failures: %+v", report.Failed())
	}

	after, err := diff.Compare(source, base)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if !after.Empty() {
		t.Errorf("expected no differences after merge, got %+v", after.Summary())
	}
	if base.FindEntity("info_player_start_1") != nil {
		t.Error("info_player_start_1 should have been removed")
	}
}

func TestTwoWay_IdenticalTreesProduceNoActions(t *testing.T) {
	base := scenetest.BaseMap()
	op := twoWay(t, base.Clone("source"), base)

	if n := len(op.Actions()); n != 0 {
		t.Errorf("expected no actions, got %d", n)
	}
}

func TestCreateFromComparisonResult_Nil(t *testing.T) {
	_, err := merge.CreateFromComparisonResult(nil)
	if !errors.Is(err, diff.ErrNotPossible) {
		t.Errorf("expected ErrNotPossible, got %v", err)
	}
}

func TestAction_AppliesOnce(t *testing.T) {
	tree := scenetest.BaseMap()
	a := merge.NewChangeKeyValueAction(tree.FindEntity("light_1"), "origin", "1 2 3")

	if err := a.Apply(); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := a.Apply(); !errors.Is(err, merge.ErrAlreadyApplied) {
		t.Errorf("expected ErrAlreadyApplied, got %v", err)
	}
	if got := tree.FindEntity("light_1").Entity().KeyValue("origin"); got != "1 2 3" {
		t.Errorf("origin = %q", got)
	}
}

func TestAction_RemoveKeyValue(t *testing.T) {
	tree := scenetest.BaseMap()
	light := tree.FindEntity("light_1")

	if err := merge.NewRemoveKeyValueAction(light, "light_radius").Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if light.Entity().HasKey("light_radius") {
		t.Error("key should be gone")
	}
}

func TestAction_KeyValueOnDetachedEntityFails(t *testing.T) {
	tree := scenetest.BaseMap()
	light := tree.FindEntity("light_1")
	if err := tree.Remove(light); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	err := merge.NewAddKeyValueAction(light, "spawnflags", "1").Apply()
	if !errors.Is(err, scene.ErrNotInScene) {
		t.Errorf("expected ErrNotInScene, got %v", err)
	}
}

func TestAddEntityAction_ClonesAtConstruction(t *testing.T) {
	source := scenetest.BaseMap()
	target := scene.New("target")

	a := merge.NewAddEntityAction(source.FindEntity("func_static_1"), target)
	clone := a.AffectedNode()
	if clone == nil || clone.Tree() != target {
		t.Fatal("clone should live in the target tree")
	}
	if clone.InScene() {
		t.Error("clone must stay detached until applied")
	}
	if err := a.Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !clone.InScene() || len(clone.Children()) != 2 {
		t.Errorf("expected the clone with 2 brushes in the scene, got %v", clone.Children())
	}
}

func TestApplyActions_ContinuesAfterFailure(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	source.FindEntity("light_1").Entity().SetKeyValue("origin", "8 8 8")

	op := twoWay(t, source, base)

	stale := base.FindEntity("info_player_start_1")
	if err := base.Remove(stale); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	op.AddAction(merge.NewRemoveEntityAction(stale))

	report := op.ApplyActions()
	if report.OK() {
		t.Fatal("expected the report to record a failure")
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Action.Type() != merge.ActionRemoveEntity {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	if !errors.Is(failed[0].Err, scene.ErrNotInScene) {
		t.Errorf("expected ErrNotInScene, got %v", failed[0].Err)
	}
	if got := base.FindEntity("light_1").Entity().KeyValue("origin"); got != "8 8 8" {
		t.Errorf("other actions should still apply, origin = %q", got)
	}
	if report.Count(merge.OutcomeApplied) != len(op.Actions())-1 {
		t.Errorf("expected all other actions applied, got %d", report.Count(merge.OutcomeApplied))
	}
}

func TestSetEntityFilter_DeactivatesActions(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	source.FindEntity("light_1").Entity().SetKeyValue("origin", "8 8 8")
	source.FindEntity("info_player_start_1").Entity().SetKeyValue("angle", "90")

	op := twoWay(t, source, base)
	op.SetEntityFilter(func(name string) bool { return name == "light_1" })

	report := op.ApplyActions()
	if got := base.FindEntity("light_1").Entity().KeyValue("origin"); got != "0 0 0" {
		t.Errorf("filtered entity must not change, origin = %q", got)
	}
	if got := base.FindEntity("info_player_start_1").Entity().KeyValue("angle"); got != "90" {
		t.Errorf("angle = %q", got)
	}
	if report.Count(merge.OutcomeSkipped) != 1 {
		t.Errorf("expected one skipped action, got %d", report.Count(merge.OutcomeSkipped))
	}
}

func TestAffectedEntityName(t *testing.T) {
	tree := scenetest.BaseMap()
	fs := tree.FindEntity("func_static_1")
	brush := scenetest.ChildWithMaterial(fs, brick)

	tests := []struct {
		name   string
		action merge.Action
		want   string
	}{
		{"key value", merge.NewAddKeyValueAction(tree.FindEntity("light_1"), "k", "v"), "light_1"},
		{"remove entity", merge.NewRemoveEntityAction(fs), "func_static_1"},
		{"remove child", merge.NewRemoveChildAction(brush), "func_static_1"},
		{"add child", merge.NewAddChildAction(brush, tree.FindEntity("light_1")), "light_1"},
		{"worldspawn", merge.NewRemoveEntityAction(tree.Worldspawn()), "worldspawn"},
	}

	for _, tt := range tests {
		if got := merge.AffectedEntityName(tt.action); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsTargetingKeyValue(t *testing.T) {
	tree := scenetest.BaseMap()
	light := tree.FindEntity("light_1")

	kv := merge.NewChangeKeyValueAction(light, "origin", "1 1 1")
	if !merge.IsTargetingKeyValue(kv) {
		t.Error("key value action should target a key value")
	}
	if merge.IsTargetingKeyValue(merge.NewRemoveEntityAction(light)) {
		t.Error("entity removal does not target a key value")
	}

	conflict := merge.NewConflictResolutionAction(merge.ConflictSettingKeyToDifferentValue,
		light, light, kv, merge.NewChangeKeyValueAction(light, "origin", "2 2 2"))
	if !merge.IsTargetingKeyValue(conflict) {
		t.Error("key value conflict should target a key value")
	}
	if got := merge.AffectedKeyName(conflict); got != "origin" {
		t.Errorf("AffectedKeyName = %q", got)
	}
	if got := merge.AffectedKeyValue(conflict); got != "1 1 1" {
		t.Errorf("AffectedKeyValue = %q", got)
	}
}
