package scene

import (
	"fmt"
	"sort"
)

// SelectionGroup is an id-identified set of nodes that get selected together.
type SelectionGroup struct {
	id      int
	manager *SelectionGroupManager
	members []NodeID
}

// ID returns the group id.
func (g *SelectionGroup) ID() int { return g.id }

// Size returns the number of members.
func (g *SelectionGroup) Size() int { return len(g.members) }

// Contains reports whether n is a member.
func (g *SelectionGroup) Contains(n *Node) bool {
	return g.indexOf(n) >= 0
}

func (g *SelectionGroup) indexOf(n *Node) int {
	if n.tree != g.manager.tree {
		return -1
	}
	for i, id := range g.members {
		if id == n.id {
			return i
		}
	}
	return -1
}

// ForEachNode visits the members in the order they were added.
func (g *SelectionGroup) ForEachNode(fn func(*Node)) {
	for _, n := range g.Members() {
		fn(n)
	}
}

// Members returns a snapshot of the member nodes.
func (g *SelectionGroup) Members() []*Node {
	out := make([]*Node, 0, len(g.members))
	for _, id := range g.members {
		out = append(out, g.manager.tree.nodes[id])
	}
	return out
}

// AddNode adds n to the group and appends the group id to the node's
// ordered membership list.
func (g *SelectionGroup) AddNode(n *Node) {
	if n.tree != g.manager.tree || n.kind == KindRoot || g.Contains(n) {
		return
	}
	g.members = append(g.members, n.id)
	n.groups = append(n.groups, g.id)
}

// RemoveNode removes n from the group.
func (g *SelectionGroup) RemoveNode(n *Node) {
	i := g.indexOf(n)
	if i < 0 {
		return
	}
	g.members = append(g.members[:i], g.members[i+1:]...)
	n.removeGroupID(g.id)
}

func (n *Node) removeGroupID(id int) {
	for i, gid := range n.groups {
		if gid == id {
			n.groups = append(n.groups[:i], n.groups[i+1:]...)
			return
		}
	}
}

// SelectionGroupManager owns the selection groups of one tree.
type SelectionGroupManager struct {
	tree   *Tree
	groups map[int]*SelectionGroup
	nextID int
}

func newSelectionGroupManager(t *Tree) *SelectionGroupManager {
	return &SelectionGroupManager{tree: t, groups: make(map[int]*SelectionGroup), nextID: 1}
}

func (m *SelectionGroupManager) cloneFor(t *Tree) *SelectionGroupManager {
	c := &SelectionGroupManager{tree: t, groups: make(map[int]*SelectionGroup, len(m.groups)), nextID: m.nextID}
	for id, g := range m.groups {
		c.groups[id] = &SelectionGroup{id: id, manager: c, members: append([]NodeID(nil), g.members...)}
	}
	return c
}

// ForEachSelectionGroup visits the groups in ascending id order.
func (m *SelectionGroupManager) ForEachSelectionGroup(fn func(*SelectionGroup)) {
	for _, id := range m.IDs() {
		fn(m.groups[id])
	}
}

// IDs returns all group ids, ascending.
func (m *SelectionGroupManager) IDs() []int {
	ids := make([]int, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SelectionGroup returns the group with the given id, or nil.
func (m *SelectionGroupManager) SelectionGroup(id int) *SelectionGroup {
	return m.groups[id]
}

// GroupCount returns the number of groups.
func (m *SelectionGroupManager) GroupCount() int {
	return len(m.groups)
}

// CreateSelectionGroup creates an empty group with the next free id.
func (m *SelectionGroupManager) CreateSelectionGroup() *SelectionGroup {
	for m.groups[m.nextID] != nil {
		m.nextID++
	}
	g := &SelectionGroup{id: m.nextID, manager: m}
	m.groups[g.id] = g
	m.nextID++
	return g
}

// CreateSelectionGroupWithID creates an empty group with an explicit id.
func (m *SelectionGroupManager) CreateSelectionGroupWithID(id int) (*SelectionGroup, error) {
	if m.groups[id] != nil {
		return nil, fmt.Errorf("group %d: %w", id, ErrGroupExists)
	}
	g := &SelectionGroup{id: id, manager: m}
	m.groups[id] = g
	if id >= m.nextID {
		m.nextID = id + 1
	}
	return g, nil
}

// DeleteSelectionGroup removes the group and its id from every member.
func (m *SelectionGroupManager) DeleteSelectionGroup(id int) {
	g := m.groups[id]
	if g == nil {
		return
	}
	for _, n := range g.Members() {
		n.removeGroupID(id)
	}
	delete(m.groups, id)
}

// SetGroupOrder rewrites the node's membership order. ids must be a
// permutation of the node's current group ids.
func (m *SelectionGroupManager) SetGroupOrder(n *Node, ids []int) error {
	if n.tree != m.tree {
		return ErrForeignNode
	}
	if len(ids) != len(n.groups) {
		return fmt.Errorf("group order for %s: expected %d ids, got %d", n, len(n.groups), len(ids))
	}
	current := make(map[int]bool, len(n.groups))
	for _, id := range n.groups {
		current[id] = true
	}
	for _, id := range ids {
		if !current[id] {
			return fmt.Errorf("group order for %s: node is not a member of group %d", n, id)
		}
		delete(current, id)
	}
	n.groups = append([]int(nil), ids...)
	return nil
}

// forgetNode drops n from all groups, used when it leaves the scene.
func (m *SelectionGroupManager) forgetNode(n *Node) {
	for _, id := range n.GroupIDs() {
		if g := m.groups[id]; g != nil {
			g.RemoveNode(n)
		}
	}
}
