// Package scenetest builds small scene trees for tests.
package scenetest

import (
	"fmt"

	"scenemerge/scene"
)

// KV turns alternating key, value strings into pairs.
func KV(pairs ...string) []scene.KeyValue {
	if len(pairs)%2 != 0 {
		panic("scenetest.KV: odd number of arguments")
	}
	out := make([]scene.KeyValue, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, scene.KeyValue{Key: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// Box returns an axis-aligned brush spanning min..max.
func Box(material string, min, max [3]float64) scene.Brush {
	proj := [6]float64{0.0078125, 0, 0, 0, 0.0078125, 0}
	face := func(normal [3]float64, dist float64) scene.Face {
		return scene.Face{Plane: scene.Plane{Normal: normal, Dist: dist}, Material: material, Projection: proj}
	}
	return scene.Brush{
		Faces: []scene.Face{
			face([3]float64{1, 0, 0}, max[0]),
			face([3]float64{-1, 0, 0}, -min[0]),
			face([3]float64{0, 1, 0}, max[1]),
			face([3]float64{0, -1, 0}, -min[1]),
			face([3]float64{0, 0, 1}, max[2]),
			face([3]float64{0, 0, -1}, -min[2]),
		},
	}
}

// Cube returns a 64 unit cube offset along x.
func Cube(material string, x float64) scene.Brush {
	return Box(material, [3]float64{x, 0, 0}, [3]float64{x + 64, 64, 64})
}

// FlatPatch returns a 3x3 patch in the z=height plane.
func FlatPatch(material string, height float64) scene.Patch {
	p := scene.Patch{Width: 3, Height: 3, Material: material}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			p.Controls = append(p.Controls, scene.PatchControl{
				Vertex:   [3]float64{float64(col) * 32, float64(row) * 32, height},
				TexCoord: [2]float64{float64(col) * 0.5, float64(row) * 0.5},
			})
		}
	}
	return p
}

// Entity adds an entity to the tree from alternating key/value strings.
func Entity(t *scene.Tree, pairs ...string) *scene.Node {
	return t.AddEntity(KV(pairs...)...)
}

// MustBrush adds a brush below parent or panics.
func MustBrush(t *scene.Tree, parent *scene.Node, b scene.Brush) *scene.Node {
	n, err := t.AddBrush(parent, b)
	if err != nil {
		panic(fmt.Sprintf("adding brush: %v", err))
	}
	return n
}

// MustPatch adds a patch below parent or panics.
func MustPatch(t *scene.Tree, parent *scene.Node, p scene.Patch) *scene.Node {
	n, err := t.AddPatch(parent, p)
	if err != nil {
		panic(fmt.Sprintf("adding patch: %v", err))
	}
	return n
}

// BaseMap builds the reference map used across the merge tests:
//
//	worldspawn          two caulk cubes and a floor patch
//	light_1             origin 0 0 0
//	func_static_1       two cubes
//	info_player_start_1
func BaseMap() *scene.Tree {
	t := scene.New("base")

	world := Entity(t, "classname", "worldspawn")
	MustBrush(t, world, Cube("textures/common/caulk", 0))
	MustBrush(t, world, Cube("textures/common/caulk", 128))
	MustPatch(t, world, FlatPatch("textures/base_floor/tiles", 0))

	Entity(t, "classname", "light", "name", "light_1", "origin", "0 0 0", "light_radius", "320 320 320")

	fs := Entity(t, "classname", "func_static", "name", "func_static_1", "model", "func_static_1", "origin", "256 0 0")
	MustBrush(t, fs, Cube("textures/darkmod/stone/brick", 256))
	MustBrush(t, fs, Cube("textures/darkmod/stone/brick", 320))

	Entity(t, "classname", "info_player_start", "name", "info_player_start_1", "origin", "32 32 8")

	return t
}

// ChildWithMaterial returns the first primitive below parent using the material.
func ChildWithMaterial(parent *scene.Node, material string) *scene.Node {
	var found *scene.Node
	parent.ForEachChild(func(n *scene.Node) bool {
		switch {
		case n.Brush() != nil && len(n.Brush().Faces) > 0 && n.Brush().Faces[0].Material == material:
			found = n
		case n.Patch() != nil && n.Patch().Material == material:
			found = n
		}
		return found == nil
	})
	return found
}
