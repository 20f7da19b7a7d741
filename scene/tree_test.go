package scene_test

import (
	"errors"
	"testing"

	"scenemerge/internal/scenetest"
	"scenemerge/scene"
)

func TestEntity_KeyValues(t *testing.T) {
	e := scene.NewEntity(scenetest.KV("classname", "light", "Name", "light_1", "origin", "0 0 0")...)

	if got := e.KeyValue("name"); got != "light_1" {
		t.Errorf("case-insensitive lookup: got %q", got)
	}

	e.SetKeyValue("NAME", "light_2")
	kvs := e.KeyValues()
	if kvs[1].Key != "Name" || kvs[1].Value != "light_2" {
		t.Errorf("update should keep key spelling and position, got %+v", kvs[1])
	}

	e.SetKeyValue("origin", "")
	if e.HasKey("origin") {
		t.Error("empty value should remove the key")
	}

	var keys []string
	e.ForEachKeyValue(func(k, v string) { keys = append(keys, k) })
	if len(keys) != 2 || keys[0] != "classname" || keys[1] != "Name" {
		t.Errorf("unexpected iteration order: %v", keys)
	}
}

func TestEntity_Worldspawn(t *testing.T) {
	world := scene.NewEntity(scenetest.KV("classname", "worldspawn", "name", "ignored")...)
	if !world.IsWorldspawn() || world.Name() != "worldspawn" {
		t.Errorf("worldspawn identity broken: %q", world.Name())
	}
}

func TestTree_ForEachNodePreOrder(t *testing.T) {
	tree := scenetest.BaseMap()

	var kinds []scene.Kind
	tree.ForEachNode(func(n *scene.Node) bool {
		kinds = append(kinds, n.Kind())
		return true
	})

	// 4 entities, 3 worldspawn primitives, 2 func_static brushes
	if len(kinds) != 9 {
		t.Fatalf("expected 9 nodes, got %d: %v", len(kinds), kinds)
	}
	if kinds[0] != scene.KindEntity || kinds[1] != scene.KindBrush {
		t.Errorf("expected pre-order traversal, got %v", kinds)
	}

	count := 0
	tree.ForEachNode(func(n *scene.Node) bool {
		count++
		return n.Kind() != scene.KindEntity
	})
	if count != 4 {
		t.Errorf("declining to descend should skip primitives, visited %d", count)
	}
}

func TestTree_Traverse(t *testing.T) {
	tree := scenetest.BaseMap()

	var pre, post int
	tree.Traverse(scene.VisitorFuncs{
		PreFunc: func(n *scene.Node) bool {
			pre++
			return true
		},
		PostFunc: func(n *scene.Node) { post++ },
	})
	if pre != 9 || post != 9 {
		t.Errorf("expected 9 pre and post visits, got %d/%d", pre, post)
	}

	if n := len(tree.Entities()); n != 4 {
		t.Errorf("expected 4 entities, got %d", n)
	}
	if tree.FindEntity("light_1") == nil {
		t.Error("light_1 not found")
	}
	if tree.Worldspawn() == nil {
		t.Error("worldspawn not found")
	}
}

func TestTree_RemoveAndReAdd(t *testing.T) {
	tree := scenetest.BaseMap()
	fs := tree.FindEntity("func_static_1")
	children := fs.Children()

	if err := tree.Remove(fs); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fs.InScene() || children[0].InScene() {
		t.Error("removed subtree should be detached")
	}
	if tree.FindEntity("func_static_1") != nil {
		t.Error("removed entity still found")
	}

	// The handle stays valid
	if tree.Node(fs.ID()) != fs {
		t.Error("arena handle should keep resolving")
	}

	if err := tree.Remove(fs); !errors.Is(err, scene.ErrNotInScene) {
		t.Errorf("double removal: expected ErrNotInScene, got %v", err)
	}

	if err := tree.AddChild(tree.Root(), fs); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if !children[1].InScene() {
		t.Error("re-added subtree should be back in the scene")
	}
}

func TestTree_AddChildValidation(t *testing.T) {
	tree := scenetest.BaseMap()
	other := scene.New("other")

	light := tree.FindEntity("light_1")
	brush := tree.NewBrushNode(scenetest.Cube("x", 0))

	if err := tree.AddChild(tree.Root(), brush); !errors.Is(err, scene.ErrWrongKind) {
		t.Errorf("brush below root: expected ErrWrongKind, got %v", err)
	}

	foreign := other.NewBrushNode(scenetest.Cube("x", 0))
	if err := tree.AddChild(light, foreign); !errors.Is(err, scene.ErrForeignNode) {
		t.Errorf("foreign node: expected ErrForeignNode, got %v", err)
	}

	if err := tree.AddChild(light, brush); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if err := tree.AddChild(light, brush); !errors.Is(err, scene.ErrAlreadyInTree) {
		t.Errorf("re-attach: expected ErrAlreadyInTree, got %v", err)
	}
}

func TestNode_CloneInto(t *testing.T) {
	src := scenetest.BaseMap()
	dst := scene.New("dst")

	layer := src.Layers().CreateLayer("Statics")
	fs := src.FindEntity("func_static_1")
	fs.AddToLayer(layer)
	src.SelectionGroups().CreateSelectionGroup().AddNode(fs)

	clone := fs.CloneInto(dst)
	if clone.Tree() != dst || clone.InScene() {
		t.Fatal("clone should be a detached node of the destination tree")
	}
	if len(clone.Children()) != 2 {
		t.Errorf("expected 2 cloned children, got %d", len(clone.Children()))
	}
	if l := clone.Layers(); len(l) != 1 || l[0] != scene.DefaultLayerID {
		t.Errorf("clone should be in the default layer only, got %v", l)
	}
	if len(clone.GroupIDs()) != 0 {
		t.Error("clone should not carry group memberships")
	}

	clone.Entity().SetKeyValue("origin", "1 2 3")
	if fs.Entity().KeyValue("origin") != "256 0 0" {
		t.Error("clone shares entity state with its source")
	}

	if err := dst.AddChild(dst.Root(), clone); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if !clone.Children()[0].InScene() {
		t.Error("cloned children should enter the scene with their parent")
	}
}

func TestTree_Clone(t *testing.T) {
	src := scenetest.BaseMap()
	layer := src.Layers().CreateLayer("Lights")
	light := src.FindEntity("light_1")
	light.AddToLayer(layer)
	group := src.SelectionGroups().CreateSelectionGroup()
	group.AddNode(light)

	c := src.Clone("copy")
	cl := c.FindEntity("light_1")

	if !cl.IsInLayer(layer) || c.Layers().LayerName(layer) != "Lights" {
		t.Error("layers should survive a tree clone")
	}
	if g := c.SelectionGroups().SelectionGroup(group.ID()); g == nil || !g.Contains(cl) {
		t.Error("groups should survive a tree clone")
	}

	cl.Entity().SetKeyValue("origin", "9 9 9")
	if light.Entity().KeyValue("origin") != "0 0 0" {
		t.Error("tree clone shares entity state")
	}
}
