package scene

import (
	"fmt"
	"sort"
)

const (
	DefaultLayerID   = 0
	DefaultLayerName = "Default"
)

// LayerManager keeps the named layers of one tree. Membership is stored on
// the nodes; the manager only owns the id/name table.
type LayerManager struct {
	tree   *Tree
	names  map[int]string
	nextID int
}

func newLayerManager(t *Tree) *LayerManager {
	return &LayerManager{
		tree:   t,
		names:  map[int]string{DefaultLayerID: DefaultLayerName},
		nextID: DefaultLayerID + 1,
	}
}

func (m *LayerManager) cloneFor(t *Tree) *LayerManager {
	c := &LayerManager{tree: t, names: make(map[int]string, len(m.names)), nextID: m.nextID}
	for id, name := range m.names {
		c.names[id] = name
	}
	return c
}

// ForEachLayer visits all layers in ascending id order.
func (m *LayerManager) ForEachLayer(fn func(id int, name string)) {
	ids := make([]int, 0, len(m.names))
	for id := range m.names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fn(id, m.names[id])
	}
}

// LayerID returns the id of the named layer, or -1.
func (m *LayerManager) LayerID(name string) int {
	for id, n := range m.names {
		if n == name {
			return id
		}
	}
	return -1
}

// LayerName returns the name of the layer, or "" if it doesn't exist.
func (m *LayerManager) LayerName(id int) string {
	return m.names[id]
}

// LayerCount returns the number of layers including the default one.
func (m *LayerManager) LayerCount() int {
	return len(m.names)
}

// CreateLayer creates a layer with the next free id. It returns -1 if the
// name is empty or already taken.
func (m *LayerManager) CreateLayer(name string) int {
	if name == "" || m.LayerID(name) != -1 {
		return -1
	}
	id := m.nextID
	m.names[id] = name
	m.nextID++
	return id
}

// CreateLayerWithID creates a layer with an explicit id.
func (m *LayerManager) CreateLayerWithID(id int, name string) error {
	if _, ok := m.names[id]; ok {
		return fmt.Errorf("layer id %d: %w", id, ErrLayerExists)
	}
	if m.LayerID(name) != -1 {
		return fmt.Errorf("layer %q: %w", name, ErrLayerExists)
	}
	m.names[id] = name
	if id >= m.nextID {
		m.nextID = id + 1
	}
	return nil
}

// DeleteLayer deletes the named layer. Members that end up without any
// layer fall back to the default layer. The default layer can't be deleted.
func (m *LayerManager) DeleteLayer(name string) {
	id := m.LayerID(name)
	if id == -1 || id == DefaultLayerID {
		return
	}
	delete(m.names, id)

	// Detached nodes keep their stale membership otherwise
	for _, n := range m.tree.nodes {
		if n.kind != KindRoot {
			n.RemoveFromLayer(id)
		}
	}
}

// Members returns the scene nodes of the given layer in traversal order.
func (m *LayerManager) Members(layerID int) []*Node {
	var out []*Node
	m.tree.ForEachNode(func(n *Node) bool {
		if n.IsInLayer(layerID) {
			out = append(out, n)
		}
		return true
	})
	return out
}
