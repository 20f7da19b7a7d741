// Package mapfile reads and writes scene trees as YAML documents.
//
// A document lists the layers and selection groups of the map followed by
// its entities. Entity spawnargs are written as a mapping whose order is
// preserved on load:
//
//	name: example
//	layers:
//	  - {id: 1, name: Lights}
//	groups: [1]
//	entities:
//	  - keys:
//	      classname: light
//	      name: light_1
//	    layers: [1]
//	    groups: [1]
//	    brushes:
//	      - faces:
//	          - {plane: [1, 0, 0, 64], material: textures/common/caulk, projection: [0.0078125, 0, 0, 0, 0.0078125, 0]}
package mapfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"scenemerge/scene"
)

// ErrInvalidMap is returned for documents that don't describe a valid scene.
var ErrInvalidMap = errors.New("invalid map document")

// Document is the on-disk form of a scene tree.
type Document struct {
	Name     string      `yaml:"name,omitempty"`
	Layers   []LayerDoc  `yaml:"layers,omitempty"`
	Groups   []int       `yaml:"groups,omitempty,flow"`
	Entities []EntityDoc `yaml:"entities"`
}

// LayerDoc declares a layer. The default layer is implicit.
type LayerDoc struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// EntityDoc is one entity and its primitives.
type EntityDoc struct {
	Keys    yaml.Node  `yaml:"keys"`
	Layers  []int      `yaml:"layers,omitempty,flow"`
	Groups  []int      `yaml:"groups,omitempty,flow"`
	Brushes []BrushDoc `yaml:"brushes,omitempty"`
	Patches []PatchDoc `yaml:"patches,omitempty"`
}

// BrushDoc is a brush primitive.
type BrushDoc struct {
	Detail bool      `yaml:"detail,omitempty"`
	Layers []int     `yaml:"layers,omitempty,flow"`
	Groups []int     `yaml:"groups,omitempty,flow"`
	Faces  []FaceDoc `yaml:"faces"`
}

// FaceDoc stores the plane as normal x, y, z and distance.
type FaceDoc struct {
	Plane      [4]float64 `yaml:"plane,flow"`
	Material   string     `yaml:"material"`
	Projection [6]float64 `yaml:"projection,flow"`
}

// PatchDoc is a patch primitive. Each control is x, y, z, s, t.
type PatchDoc struct {
	Width        int          `yaml:"width"`
	Height       int          `yaml:"height"`
	Material     string       `yaml:"material"`
	Subdivisions []int        `yaml:"subdivisions,omitempty,flow"`
	Layers       []int        `yaml:"layers,omitempty,flow"`
	Groups       []int        `yaml:"groups,omitempty,flow"`
	Controls     [][5]float64 `yaml:"controls,flow"`
}

// Load reads a map file. The file name without extension is used as tree
// name if the document doesn't carry one.
func Load(path string) (*scene.Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map file: %w", err)
	}

	tree, err := decode(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return tree, nil
}

// Decode parses a map document.
func Decode(data []byte) (*scene.Tree, error) {
	return decode(data, "map")
}

// DecodeNamed parses a map document. name is used unless the document
// carries a name of its own.
func DecodeNamed(data []byte, name string) (*scene.Tree, error) {
	return decode(data, name)
}

func decode(data []byte, defaultName string) (*scene.Tree, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing map document: %w", err)
	}
	if doc.Name == "" {
		doc.Name = defaultName
	}
	return doc.Build()
}

// Build creates the scene tree described by the document.
func (d *Document) Build() (*scene.Tree, error) {
	tree := scene.New(d.Name)

	for _, l := range d.Layers {
		if l.ID == scene.DefaultLayerID {
			continue
		}
		if err := tree.Layers().CreateLayerWithID(l.ID, l.Name); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
		}
	}
	for _, id := range d.Groups {
		if _, err := tree.SelectionGroups().CreateSelectionGroupWithID(id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
		}
	}

	for i, e := range d.Entities {
		keyValues, err := decodeKeys(&e.Keys)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %d: %v", ErrInvalidMap, i, err)
		}

		node := tree.AddEntity(keyValues...)
		if err := applyMembership(tree, node, e.Layers, e.Groups); err != nil {
			return nil, fmt.Errorf("%w: entity %d: %v", ErrInvalidMap, i, err)
		}

		for j, b := range e.Brushes {
			child, err := tree.AddBrush(node, b.brush())
			if err != nil {
				return nil, fmt.Errorf("entity %d brush %d: %w", i, j, err)
			}
			if err := applyMembership(tree, child, b.Layers, b.Groups); err != nil {
				return nil, fmt.Errorf("%w: entity %d brush %d: %v", ErrInvalidMap, i, j, err)
			}
		}

		for j, p := range e.Patches {
			patch, err := p.patch()
			if err != nil {
				return nil, fmt.Errorf("%w: entity %d patch %d: %v", ErrInvalidMap, i, j, err)
			}
			child, err := tree.AddPatch(node, patch)
			if err != nil {
				return nil, fmt.Errorf("entity %d patch %d: %w", i, j, err)
			}
			if err := applyMembership(tree, child, p.Layers, p.Groups); err != nil {
				return nil, fmt.Errorf("%w: entity %d patch %d: %v", ErrInvalidMap, i, j, err)
			}
		}
	}

	return tree, nil
}

func decodeKeys(n *yaml.Node) ([]scene.KeyValue, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("keys must be a mapping, line %d", n.Line)
	}

	out := make([]scene.KeyValue, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("key values must be scalars, line %d", k.Line)
		}
		out = append(out, scene.KeyValue{Key: k.Value, Value: v.Value})
	}
	return out, nil
}

// applyMembership puts a fresh node into the listed layers and groups. Group
// order is kept as listed.
func applyMembership(tree *scene.Tree, n *scene.Node, layerIDs, groupIDs []int) error {
	if len(layerIDs) > 0 {
		inDefault := false
		for _, id := range layerIDs {
			if tree.Layers().LayerName(id) == "" {
				return fmt.Errorf("unknown layer %d", id)
			}
			if id == scene.DefaultLayerID {
				inDefault = true
			}
			n.AddToLayer(id)
		}
		if !inDefault {
			n.RemoveFromLayer(scene.DefaultLayerID)
		}
	}

	for _, id := range groupIDs {
		g := tree.SelectionGroups().SelectionGroup(id)
		if g == nil {
			return fmt.Errorf("unknown selection group %d", id)
		}
		g.AddNode(n)
	}
	return nil
}

func (b *BrushDoc) brush() scene.Brush {
	out := scene.Brush{Detail: b.Detail, Faces: make([]scene.Face, 0, len(b.Faces))}
	for _, f := range b.Faces {
		out.Faces = append(out.Faces, scene.Face{
			Plane:      scene.Plane{Normal: [3]float64{f.Plane[0], f.Plane[1], f.Plane[2]}, Dist: f.Plane[3]},
			Material:   f.Material,
			Projection: f.Projection,
		})
	}
	return out
}

func (p *PatchDoc) patch() (scene.Patch, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return scene.Patch{}, fmt.Errorf("bad dimensions %dx%d", p.Width, p.Height)
	}
	if len(p.Controls) != p.Width*p.Height {
		return scene.Patch{}, fmt.Errorf("expected %d controls, got %d", p.Width*p.Height, len(p.Controls))
	}

	out := scene.Patch{Width: p.Width, Height: p.Height, Material: p.Material}
	switch len(p.Subdivisions) {
	case 0:
	case 2:
		out.Subdivisions = &[2]int{p.Subdivisions[0], p.Subdivisions[1]}
	default:
		return scene.Patch{}, fmt.Errorf("subdivisions need two values, got %d", len(p.Subdivisions))
	}

	out.Controls = make([]scene.PatchControl, 0, len(p.Controls))
	for _, c := range p.Controls {
		out.Controls = append(out.Controls, scene.PatchControl{
			Vertex:   [3]float64{c[0], c[1], c[2]},
			TexCoord: [2]float64{c[3], c[4]},
		})
	}
	return out, nil
}

// NewDocument captures the scene part of a tree. Detached nodes are left out.
func NewDocument(tree *scene.Tree) *Document {
	doc := &Document{Name: tree.Name()}

	tree.Layers().ForEachLayer(func(id int, name string) {
		if id != scene.DefaultLayerID {
			doc.Layers = append(doc.Layers, LayerDoc{ID: id, Name: name})
		}
	})
	doc.Groups = tree.SelectionGroups().IDs()

	for _, n := range tree.Entities() {
		e := EntityDoc{
			Keys:   encodeKeys(n.Entity()),
			Layers: nonDefaultLayers(n),
			Groups: n.GroupIDs(),
		}

		n.ForEachChild(func(child *scene.Node) bool {
			switch {
			case child.Brush() != nil:
				e.Brushes = append(e.Brushes, brushDoc(child))
			case child.Patch() != nil:
				e.Patches = append(e.Patches, patchDoc(child))
			}
			return true
		})
		doc.Entities = append(doc.Entities, e)
	}
	return doc
}

func encodeKeys(e *scene.Entity) yaml.Node {
	keys := yaml.Node{Kind: yaml.MappingNode}
	e.ForEachKeyValue(func(key, value string) {
		keys.Content = append(keys.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
		)
	})
	return keys
}

// nonDefaultLayers returns nil for nodes only in the default layer.
func nonDefaultLayers(n *scene.Node) []int {
	ids := n.Layers()
	if len(ids) == 1 && ids[0] == scene.DefaultLayerID {
		return nil
	}
	return ids
}

func brushDoc(n *scene.Node) BrushDoc {
	b := n.Brush()
	out := BrushDoc{
		Detail: b.Detail,
		Layers: nonDefaultLayers(n),
		Groups: n.GroupIDs(),
		Faces:  make([]FaceDoc, 0, len(b.Faces)),
	}
	for _, f := range b.Faces {
		out.Faces = append(out.Faces, FaceDoc{
			Plane:      [4]float64{f.Plane.Normal[0], f.Plane.Normal[1], f.Plane.Normal[2], f.Plane.Dist},
			Material:   f.Material,
			Projection: f.Projection,
		})
	}
	return out
}

func patchDoc(n *scene.Node) PatchDoc {
	p := n.Patch()
	out := PatchDoc{
		Width:    p.Width,
		Height:   p.Height,
		Material: p.Material,
		Layers:   nonDefaultLayers(n),
		Groups:   n.GroupIDs(),
		Controls: make([][5]float64, 0, len(p.Controls)),
	}
	if p.Subdivisions != nil {
		out.Subdivisions = []int{p.Subdivisions[0], p.Subdivisions[1]}
	}
	for _, c := range p.Controls {
		out.Controls = append(out.Controls, [5]float64{c.Vertex[0], c.Vertex[1], c.Vertex[2], c.TexCoord[0], c.TexCoord[1]})
	}
	return out
}

// Encode serializes the tree.
func Encode(tree *scene.Tree) ([]byte, error) {
	data, err := yaml.Marshal(NewDocument(tree))
	if err != nil {
		return nil, fmt.Errorf("marshaling map: %w", err)
	}
	return data, nil
}

// Save writes the tree to path, creating the parent directory.
func Save(path string, tree *scene.Tree) error {
	data, err := Encode(tree)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing map file: %w", err)
	}
	return nil
}
