// Package scene provides the arena-backed scene tree the merge engine operates on.
package scene

import (
	"errors"
	"strings"
)

// Kind represents the type of a node.
type Kind string

const (
	KindRoot   Kind = "root"
	KindEntity Kind = "entity"
	KindBrush  Kind = "brush"
	KindPatch  Kind = "patch"
)

// NodeID is a stable handle into a tree's node arena.
type NodeID int

// InvalidNode marks the absence of a node.
const InvalidNode NodeID = -1

const worldspawnClassname = "worldspawn"

var (
	ErrNotInScene    = errors.New("node is not part of the scene")
	ErrWrongKind     = errors.New("node kind not supported here")
	ErrForeignNode   = errors.New("node belongs to a different tree")
	ErrAlreadyInTree = errors.New("node is already attached")
	ErrGroupExists   = errors.New("selection group already exists")
	ErrLayerExists   = errors.New("layer already exists")
)

// KeyValue is a single entity spawnarg.
type KeyValue struct {
	Key   string
	Value string
}

// Entity is an ordered key/value store with case-insensitive keys.
type Entity struct {
	keyValues []KeyValue
}

// NewEntity creates an entity from the given pairs. Later duplicates
// (compared case-insensitively) overwrite earlier ones.
func NewEntity(keyValues ...KeyValue) *Entity {
	e := &Entity{}
	for _, kv := range keyValues {
		e.SetKeyValue(kv.Key, kv.Value)
	}
	return e
}

func (e *Entity) index(key string) int {
	for i, kv := range e.keyValues {
		if strings.EqualFold(kv.Key, key) {
			return i
		}
	}
	return -1
}

// KeyValue returns the value for key, or "" if it is not set.
func (e *Entity) KeyValue(key string) string {
	if i := e.index(key); i >= 0 {
		return e.keyValues[i].Value
	}
	return ""
}

// HasKey reports whether key is set.
func (e *Entity) HasKey(key string) bool {
	return e.index(key) >= 0
}

// SetKeyValue sets key to value. An empty value removes the key.
// Updating an existing key keeps its original spelling and position.
func (e *Entity) SetKeyValue(key, value string) {
	i := e.index(key)
	switch {
	case value == "" && i >= 0:
		e.keyValues = append(e.keyValues[:i], e.keyValues[i+1:]...)
	case value == "":
	case i >= 0:
		e.keyValues[i].Value = value
	default:
		e.keyValues = append(e.keyValues, KeyValue{Key: key, Value: value})
	}
}

// ForEachKeyValue visits the pairs in insertion order.
func (e *Entity) ForEachKeyValue(fn func(key, value string)) {
	for _, kv := range e.keyValues {
		fn(kv.Key, kv.Value)
	}
}

// KeyValues returns a copy of all pairs in insertion order.
func (e *Entity) KeyValues() []KeyValue {
	out := make([]KeyValue, len(e.keyValues))
	copy(out, e.keyValues)
	return out
}

// IsWorldspawn reports whether this is the map's singleton world entity.
func (e *Entity) IsWorldspawn() bool {
	return strings.EqualFold(e.KeyValue("classname"), worldspawnClassname)
}

// Name returns the entity's identity name: "worldspawn" for the world
// entity, the "name" spawnarg otherwise.
func (e *Entity) Name() string {
	if e.IsWorldspawn() {
		return worldspawnClassname
	}
	return e.KeyValue("name")
}

func (e *Entity) clone() *Entity {
	return &Entity{keyValues: e.KeyValues()}
}

// Plane is a face plane in normal/distance form.
type Plane struct {
	Normal [3]float64
	Dist   float64
}

// Face is one brush face.
type Face struct {
	Plane      Plane
	Material   string
	Projection [6]float64 // texture projection matrix xx, yx, zx, xy, yy, zy
}

// Brush is a convex primitive made of faces.
type Brush struct {
	Detail bool
	Faces  []Face
}

func (b *Brush) clone() *Brush {
	c := &Brush{Detail: b.Detail, Faces: make([]Face, len(b.Faces))}
	copy(c.Faces, b.Faces)
	return c
}

// PatchControl is a single patch control vertex.
type PatchControl struct {
	Vertex   [3]float64
	TexCoord [2]float64
}

// Patch is a curved surface primitive defined by a control grid.
type Patch struct {
	Width        int
	Height       int
	Material     string
	Subdivisions *[2]int // nil unless subdivisions are fixed
	Controls     []PatchControl
}

func (p *Patch) clone() *Patch {
	c := &Patch{
		Width:    p.Width,
		Height:   p.Height,
		Material: p.Material,
		Controls: make([]PatchControl, len(p.Controls)),
	}
	copy(c.Controls, p.Controls)
	if p.Subdivisions != nil {
		sub := *p.Subdivisions
		c.Subdivisions = &sub
	}
	return c
}
