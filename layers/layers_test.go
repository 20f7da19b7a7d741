package layers_test

import (
	"strings"
	"testing"

	"scenemerge/internal/scenetest"
	"scenemerge/layers"
	"scenemerge/scene"
)

func addToNewLayer(t *testing.T, tree *scene.Tree, layer string, names ...string) int {
	t.Helper()
	id := tree.Layers().LayerID(layer)
	if id == -1 {
		id = tree.Layers().CreateLayer(layer)
	}
	for _, name := range names {
		n := tree.FindEntity(name)
		if n == nil {
			t.Fatalf("entity %s not found in %s", name, tree.Name())
		}
		n.AddToLayer(id)
	}
	return id
}

func memberNames(tree *scene.Tree, layer string) []string {
	id := tree.Layers().LayerID(layer)
	if id == -1 {
		return nil
	}
	var names []string
	for _, n := range tree.Layers().Members(id) {
		if n.Kind() == scene.KindEntity {
			names = append(names, n.Entity().Name())
		}
	}
	return names
}

func hasChange(changes []layers.Change, typ layers.ChangeType, layer string) bool {
	for _, c := range changes {
		if c.Type == typ && c.LayerName == layer {
			return true
		}
	}
	return false
}

func TestMerger_CreatesSourceLayers(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	addToNewLayer(t, source, "Lights", "light_1")

	m := layers.NewMerger(source, base)
	m.AdjustBaseLayers()

	got := memberNames(base, "Lights")
	if len(got) != 1 || got[0] != "light_1" {
		t.Fatalf("expected Lights = [light_1], got %v", got)
	}
	if !hasChange(m.Changes(), layers.LayerCreated, "Lights") {
		t.Error("expected a LayerCreated change")
	}
	if !hasChange(m.Changes(), layers.NodeAddedToLayer, "Lights") {
		t.Error("expected a NodeAddedToLayer change")
	}
	if m.LogMessages() == "" {
		t.Error("expected log output")
	}
}

func TestMerger_SyncsExistingLayerMembers(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Lights", "light_1", "info_player_start_1")

	source := base.Clone("source")
	lights := source.Layers().LayerID("Lights")
	source.FindEntity("info_player_start_1").RemoveFromLayer(lights)

	layers.NewMerger(source, base).AdjustBaseLayers()

	got := memberNames(base, "Lights")
	if len(got) != 1 || got[0] != "light_1" {
		t.Errorf("expected Lights = [light_1], got %v", got)
	}
}

func TestMerger_RemovesLayerMissingInSource(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	addToNewLayer(t, base, "Old", "light_1")

	m := layers.NewMerger(source, base)
	m.AdjustBaseLayers()

	if base.Layers().LayerID("Old") != -1 {
		t.Fatal("layer Old should have been removed")
	}
	if !hasChange(m.Changes(), layers.LayerRemoved, "Old") {
		t.Error("expected a LayerRemoved change")
	}
	if !base.FindEntity("light_1").IsInLayer(scene.DefaultLayerID) {
		t.Error("light_1 should still be in the default layer")
	}
}

func TestMerger_KeepsLayerWithBaseOnlyMembers(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")

	scenetest.Entity(base, "classname", "info_null", "name", "extra_1")
	addToNewLayer(t, base, "Keep", "light_1", "extra_1")

	layers.NewMerger(source, base).AdjustBaseLayers()

	got := memberNames(base, "Keep")
	if len(got) != 1 || got[0] != "extra_1" {
		t.Errorf("expected Keep = [extra_1], got %v", got)
	}
}

// A layer added in source is created in target with the resolved members.
func TestThreeWayMerger_AddedSourceLayer(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")
	addToNewLayer(t, source, "Lights", "light_1")

	m := layers.NewThreeWayMerger(base, source, target)
	m.AdjustTargetLayers()

	got := memberNames(target, "Lights")
	if len(got) != 1 || got[0] != "light_1" {
		t.Fatalf("expected Lights = [light_1] in target, got %v", got)
	}
	if !hasChange(m.Changes(), layers.LayerCreated, "Lights") {
		t.Error("expected a LayerCreated change")
	}
}

func TestThreeWayMerger_RemovedSourceLayer(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Old", "info_player_start_1")
	source := base.Clone("source")
	target := base.Clone("target")
	source.Layers().DeleteLayer("Old")

	layers.NewThreeWayMerger(base, source, target).AdjustTargetLayers()

	if target.Layers().LayerID("Old") != -1 {
		t.Error("unmodified target layer should follow the source deletion")
	}
}

func TestThreeWayMerger_RemovedSourceLayerKeptOnTargetAddition(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Old", "info_player_start_1")
	source := base.Clone("source")
	target := base.Clone("target")
	source.Layers().DeleteLayer("Old")
	addToNewLayer(t, target, "Old", "light_1")

	m := layers.NewThreeWayMerger(base, source, target)
	m.AdjustTargetLayers()

	if target.Layers().LayerID("Old") == -1 {
		t.Fatal("layer with target additions must survive")
	}
	if !strings.Contains(m.LogMessages(), "keeping it") {
		t.Errorf("expected the decision to be logged, got:\n%s", m.LogMessages())
	}
}

func TestThreeWayMerger_RecreatesLayerWithSourceAdditions(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Lights", "light_1")
	source := base.Clone("source")
	target := base.Clone("target")

	addToNewLayer(t, source, "Lights", "info_player_start_1")
	target.Layers().DeleteLayer("Lights")

	layers.NewThreeWayMerger(base, source, target).AdjustTargetLayers()

	got := memberNames(target, "Lights")
	if len(got) != 2 {
		t.Errorf("expected Lights to be recreated with 2 members, got %v", got)
	}
}

func TestThreeWayMerger_SourceRemovalsDoNotRecreate(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Lights", "light_1", "info_player_start_1")
	source := base.Clone("source")
	target := base.Clone("target")

	source.FindEntity("info_player_start_1").RemoveFromLayer(source.Layers().LayerID("Lights"))
	target.Layers().DeleteLayer("Lights")

	layers.NewThreeWayMerger(base, source, target).AdjustTargetLayers()

	if target.Layers().LayerID("Lights") != -1 {
		t.Error("target deletion should persist when source only removed members")
	}
}

func TestThreeWayMerger_ModifiedSourceLayer(t *testing.T) {
	base := scenetest.BaseMap()
	addToNewLayer(t, base, "Lights", "light_1")
	source := base.Clone("source")
	target := base.Clone("target")

	addToNewLayer(t, source, "Lights", "func_static_1")
	source.FindEntity("light_1").RemoveFromLayer(source.Layers().LayerID("Lights"))

	layers.NewThreeWayMerger(base, source, target).AdjustTargetLayers()

	got := memberNames(target, "Lights")
	if len(got) != 1 || got[0] != "func_static_1" {
		t.Errorf("expected Lights = [func_static_1], got %v", got)
	}
}

func TestThreeWayMerger_LayerNameCollision(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")

	addToNewLayer(t, source, "Lights", "light_1")
	addToNewLayer(t, target, "Lights", "info_player_start_1")

	layers.NewThreeWayMerger(base, source, target).AdjustTargetLayers()

	if got := memberNames(target, "Lights"); len(got) != 1 || got[0] != "info_player_start_1" {
		t.Errorf("target layer must stay untouched, got %v", got)
	}
	if got := memberNames(target, "Lights (1)"); len(got) != 1 || got[0] != "light_1" {
		t.Errorf("expected the source layer under a free name, got %v", got)
	}
}

func TestThreeWayMerger_IdenticalAddedLayers(t *testing.T) {
	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")

	addToNewLayer(t, source, "Lights", "light_1")
	addToNewLayer(t, target, "Lights", "light_1")

	m := layers.NewThreeWayMerger(base, source, target)
	m.AdjustTargetLayers()

	if target.Layers().LayerID("Lights (1)") != -1 || len(m.Changes()) != 0 {
		t.Errorf("identical layers should not be duplicated, changes: %+v", m.Changes())
	}
}
