package scene

import (
	"fmt"
	"sort"
)

// Node is a tagged variant over the node kinds. Exactly one of the payload
// fields is set for entity, brush and patch nodes; root nodes carry none.
type Node struct {
	tree     *Tree
	id       NodeID
	kind     Kind
	parent   NodeID
	children []NodeID
	inScene  bool

	entity *Entity
	brush  *Brush
	patch  *Patch

	layers []int // sorted set of layer ids
	groups []int // ordered, smallest group first
}

// ID returns the node's handle within its tree.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// Tree returns the owning tree.
func (n *Node) Tree() *Tree { return n.tree }

// InScene reports whether the node is attached below the tree's root.
func (n *Node) InScene() bool { return n.inScene }

// Entity returns the entity payload, or nil for other kinds.
func (n *Node) Entity() *Entity { return n.entity }

// Brush returns the brush payload, or nil for other kinds.
func (n *Node) Brush() *Brush { return n.brush }

// Patch returns the patch payload, or nil for other kinds.
func (n *Node) Patch() *Patch { return n.patch }

// IsPrimitive reports whether the node is a brush or a patch.
func (n *Node) IsPrimitive() bool {
	return n.kind == KindBrush || n.kind == KindPatch
}

// Parent returns the parent node, or nil for the root and detached nodes.
func (n *Node) Parent() *Node {
	if n.parent == InvalidNode {
		return nil
	}
	return n.tree.nodes[n.parent]
}

// Children returns the direct children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, n.tree.nodes[id])
	}
	return out
}

// ForEachChild visits the direct children until fn returns false.
func (n *Node) ForEachChild(fn func(*Node) bool) {
	for _, id := range n.children {
		if !fn(n.tree.nodes[id]) {
			return
		}
	}
}

// Name returns a display name: the entity name for entities, the kind otherwise.
func (n *Node) Name() string {
	if n.entity != nil {
		if name := n.entity.Name(); name != "" {
			return name
		}
		return n.entity.KeyValue("classname")
	}
	return string(n.kind)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d(%s)", n.kind, n.id, n.Name())
}

// Tree is a scene graph. It owns every node it ever created; removed nodes
// stay in the arena, detached, so stale handles never dangle.
type Tree struct {
	name   string
	nodes  []*Node
	root   NodeID
	layers *LayerManager
	groups *SelectionGroupManager
}

// New creates a tree with an empty root and the default layer.
func New(name string) *Tree {
	t := &Tree{name: name}
	root := t.newNode(KindRoot)
	root.inScene = true
	t.root = root.id
	t.layers = newLayerManager(t)
	t.groups = newSelectionGroupManager(t)
	return t
}

// Name returns the tree's label (typically the map path).
func (t *Tree) Name() string { return t.name }

// Root returns the root node.
func (t *Tree) Root() *Node { return t.nodes[t.root] }

// Node resolves a handle. It returns nil for unknown ids.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Layers returns the tree's layer manager.
func (t *Tree) Layers() *LayerManager { return t.layers }

// SelectionGroups returns the tree's selection group manager.
func (t *Tree) SelectionGroups() *SelectionGroupManager { return t.groups }

func (t *Tree) newNode(kind Kind) *Node {
	n := &Node{
		tree:   t,
		id:     NodeID(len(t.nodes)),
		kind:   kind,
		parent: InvalidNode,
	}
	if kind != KindRoot {
		n.layers = []int{DefaultLayerID}
	}
	t.nodes = append(t.nodes, n)
	return n
}

// NewEntityNode creates a detached entity node.
func (t *Tree) NewEntityNode(entity *Entity) *Node {
	n := t.newNode(KindEntity)
	n.entity = entity
	return n
}

// NewBrushNode creates a detached brush node.
func (t *Tree) NewBrushNode(b Brush) *Node {
	n := t.newNode(KindBrush)
	n.brush = b.clone()
	return n
}

// NewPatchNode creates a detached patch node.
func (t *Tree) NewPatchNode(p Patch) *Node {
	n := t.newNode(KindPatch)
	n.patch = p.clone()
	return n
}

// AddEntity creates an entity below the root.
func (t *Tree) AddEntity(keyValues ...KeyValue) *Node {
	n := t.NewEntityNode(NewEntity(keyValues...))
	t.attach(t.Root(), n)
	return n
}

// AddBrush creates a brush below the given entity.
func (t *Tree) AddBrush(parent *Node, b Brush) (*Node, error) {
	n := t.NewBrushNode(b)
	if err := t.AddChild(parent, n); err != nil {
		return nil, err
	}
	return n, nil
}

// AddPatch creates a patch below the given entity.
func (t *Tree) AddPatch(parent *Node, p Patch) (*Node, error) {
	n := t.NewPatchNode(p)
	if err := t.AddChild(parent, n); err != nil {
		return nil, err
	}
	return n, nil
}

// AddChild attaches a detached node of this tree. Entities go below the
// root, primitives below an entity that is part of the scene.
func (t *Tree) AddChild(parent, child *Node) error {
	if parent.tree != t || child.tree != t {
		return ErrForeignNode
	}
	if child.parent != InvalidNode || child.kind == KindRoot {
		return ErrAlreadyInTree
	}
	if !parent.inScene {
		return fmt.Errorf("adding %s to %s: %w", child, parent, ErrNotInScene)
	}

	switch {
	case parent.kind == KindRoot && child.kind == KindEntity:
	case parent.kind == KindEntity && child.IsPrimitive():
	default:
		return fmt.Errorf("adding %s to %s: %w", child.kind, parent.kind, ErrWrongKind)
	}

	t.attach(parent, child)
	return nil
}

func (t *Tree) attach(parent, child *Node) {
	child.parent = parent.id
	parent.children = append(parent.children, child.id)
	child.setInScene(parent.inScene)
}

// Remove detaches the node and its subtree from the scene. Detached nodes
// leave every selection group they were part of.
func (t *Tree) Remove(n *Node) error {
	if n.tree != t {
		return ErrForeignNode
	}
	if n.kind == KindRoot {
		return fmt.Errorf("removing root: %w", ErrWrongKind)
	}
	if !n.inScene {
		return fmt.Errorf("removing %s: %w", n, ErrNotInScene)
	}

	parent := t.nodes[n.parent]
	for i, id := range parent.children {
		if id == n.id {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	n.parent = InvalidNode

	var detached []*Node
	n.walk(func(node *Node) bool {
		detached = append(detached, node)
		return true
	})
	for _, node := range detached {
		node.inScene = false
		t.groups.forgetNode(node)
	}
	return nil
}

func (n *Node) setInScene(inScene bool) {
	n.walk(func(node *Node) bool {
		node.inScene = inScene
		return true
	})
}

// walk visits n and its descendants pre-order.
func (n *Node) walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, id := range n.children {
		n.tree.nodes[id].walk(fn)
	}
}

// ForEachNode visits all descendants of n pre-order (n itself excluded).
// The callback returns whether to descend into the visited node.
func (n *Node) ForEachNode(fn func(*Node) bool) {
	for _, id := range n.children {
		n.tree.nodes[id].walk(fn)
	}
}

// ForEachNode visits every node in the scene below the root, pre-order.
// The callback returns whether to descend into the visited node.
func (t *Tree) ForEachNode(fn func(*Node) bool) {
	t.Root().ForEachNode(fn)
}

// Visitor receives pre- and post-order callbacks during Traverse.
type Visitor interface {
	// Pre is called before the children; returning false skips the subtree.
	Pre(n *Node) bool
	// Post is called after the children of a descended node.
	Post(n *Node)
}

// VisitorFuncs adapts two functions to a Visitor. Either may be nil.
type VisitorFuncs struct {
	PreFunc  func(n *Node) bool
	PostFunc func(n *Node)
}

func (v VisitorFuncs) Pre(n *Node) bool {
	if v.PreFunc == nil {
		return true
	}
	return v.PreFunc(n)
}

func (v VisitorFuncs) Post(n *Node) {
	if v.PostFunc != nil {
		v.PostFunc(n)
	}
}

// Traverse walks the subtree below the root with the visitor.
func (t *Tree) Traverse(v Visitor) {
	for _, id := range t.Root().children {
		t.nodes[id].traverse(v)
	}
}

func (n *Node) traverse(v Visitor) {
	if !v.Pre(n) {
		return
	}
	for _, id := range n.children {
		n.tree.nodes[id].traverse(v)
	}
	v.Post(n)
}

// Entities returns all entity nodes in the scene, in child order.
func (t *Tree) Entities() []*Node {
	var out []*Node
	t.Traverse(VisitorFuncs{PreFunc: func(n *Node) bool {
		if n.kind == KindEntity {
			out = append(out, n)
		}
		return false
	}})
	return out
}

// FindEntity returns the first entity whose identity name matches.
func (t *Tree) FindEntity(name string) *Node {
	for _, e := range t.Entities() {
		if e.entity.Name() == name {
			return e
		}
	}
	return nil
}

// Worldspawn returns the world entity, or nil.
func (t *Tree) Worldspawn() *Node {
	for _, e := range t.Entities() {
		if e.entity.IsWorldspawn() {
			return e
		}
	}
	return nil
}

// CloneInto deep-copies n and its subtree into dst as a detached node.
// The copy sits in the default layer and belongs to no selection group;
// membership is reconciled separately.
func (n *Node) CloneInto(dst *Tree) *Node {
	var c *Node
	switch n.kind {
	case KindEntity:
		c = dst.NewEntityNode(n.entity.clone())
	case KindBrush:
		c = dst.NewBrushNode(*n.brush)
	case KindPatch:
		c = dst.NewPatchNode(*n.patch)
	default:
		return nil
	}

	for _, id := range n.children {
		child := n.tree.nodes[id].CloneInto(dst)
		child.parent = c.id
		c.children = append(c.children, child.id)
	}
	return c
}

// Clone deep-copies the whole tree, keeping node ids, layers and groups.
func (t *Tree) Clone(name string) *Tree {
	c := &Tree{name: name, root: t.root, nodes: make([]*Node, len(t.nodes))}
	for i, n := range t.nodes {
		cn := &Node{
			tree:     c,
			id:       n.id,
			kind:     n.kind,
			parent:   n.parent,
			children: append([]NodeID(nil), n.children...),
			inScene:  n.inScene,
			layers:   append([]int(nil), n.layers...),
			groups:   append([]int(nil), n.groups...),
		}
		if n.entity != nil {
			cn.entity = n.entity.clone()
		}
		if n.brush != nil {
			cn.brush = n.brush.clone()
		}
		if n.patch != nil {
			cn.patch = n.patch.clone()
		}
		c.nodes[i] = cn
	}
	c.layers = t.layers.cloneFor(c)
	c.groups = t.groups.cloneFor(c)
	return c
}

// --- layer membership ---

// Layers returns the ids of the layers this node is part of, ascending.
func (n *Node) Layers() []int {
	return append([]int(nil), n.layers...)
}

// IsInLayer reports layer membership.
func (n *Node) IsInLayer(layerID int) bool {
	i := sort.SearchInts(n.layers, layerID)
	return i < len(n.layers) && n.layers[i] == layerID
}

// AddToLayer adds the node to the layer.
func (n *Node) AddToLayer(layerID int) {
	if n.IsInLayer(layerID) {
		return
	}
	n.layers = append(n.layers, layerID)
	sort.Ints(n.layers)
}

// RemoveFromLayer removes the node from the layer. A node always belongs
// to at least one layer; removing the last one moves it to the default layer.
func (n *Node) RemoveFromLayer(layerID int) {
	i := sort.SearchInts(n.layers, layerID)
	if i >= len(n.layers) || n.layers[i] != layerID {
		return
	}
	n.layers = append(n.layers[:i], n.layers[i+1:]...)
	if len(n.layers) == 0 {
		n.layers = []int{DefaultLayerID}
	}
}

// GroupIDs returns the ordered selection group ids, smallest group first.
func (n *Node) GroupIDs() []int {
	return append([]int(nil), n.groups...)
}
