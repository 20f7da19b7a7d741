// Package layers reconciles layer assignments after the primary merge.
// Layers are matched by name; ids differ between trees.
package layers

import (
	"scenemerge/internal/mergelog"
	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// ChangeType classifies an entry of the change log.
type ChangeType string

const (
	NodeAddedToLayer     ChangeType = "node_added_to_layer"
	NodeRemovedFromLayer ChangeType = "node_removed_from_layer"
	LayerCreated         ChangeType = "layer_created"
	LayerRemoved         ChangeType = "layer_removed"
)

// Change is one modification made to the tree being adjusted. Member is
// nil for layer creation and removal.
type Change struct {
	LayerID   int
	LayerName string
	Member    *scene.Node
	Type      ChangeType
}

// Members maps layer member fingerprints to nodes.
type Members = nodeutil.NodeFingerprints

// LayerMembers collects the member fingerprints of a layer.
func LayerMembers(t *scene.Tree, layerID int) Members {
	out := make(Members)
	for _, n := range t.Layers().Members(layerID) {
		fp := nodeutil.LayerMemberFingerprint(n)
		if fp == "" {
			continue
		}
		if _, exists := out[fp]; !exists {
			out[fp] = n
		}
	}
	return out
}

type membership struct {
	layerID int
	node    *scene.Node
}

// plan holds the membership edits collected during the read-only passes.
type plan struct {
	additions []membership
	removals  []membership
	deletions []string
}

func (p *plan) addNode(layerID int, n *scene.Node) {
	p.additions = append(p.additions, membership{layerID: layerID, node: n})
}

func (p *plan) removeNode(layerID int, n *scene.Node) {
	p.removals = append(p.removals, membership{layerID: layerID, node: n})
}

func (p *plan) deleteLayer(name string) {
	for _, existing := range p.deletions {
		if existing == name {
			return
		}
	}
	p.deletions = append(p.deletions, name)
}

// reconciler is shared by the two-way and three-way mergers.
type reconciler struct {
	log     *mergelog.Log
	changes []Change
}

func newReconciler(prefix string) reconciler {
	return reconciler{log: mergelog.New(prefix)}
}

// LogMessages returns the diagnostic text of the last run.
func (r *reconciler) LogMessages() string { return r.log.Messages() }

// Changes returns the modifications made by the last run.
func (r *reconciler) Changes() []Change { return r.changes }

func (r *reconciler) reset() {
	r.changes = nil
	r.log.Reset()
}

func (r *reconciler) createLayer(t *scene.Tree, name string) int {
	id := t.Layers().CreateLayer(name)
	if id == -1 {
		r.log.Warn("Could not create layer", "name", name)
		return -1
	}
	r.log.Infof("Created layer %s with ID %d", name, id)
	r.changes = append(r.changes, Change{LayerID: id, LayerName: name, Type: LayerCreated})
	return id
}

// execute applies a plan. Additions go first so nodes moving between
// layers never pass through the default-layer fallback.
func (r *reconciler) execute(t *scene.Tree, p *plan) {
	manager := t.Layers()

	for _, m := range p.additions {
		if m.node.IsInLayer(m.layerID) {
			continue
		}
		r.log.Infof("Adding node %s to layer %s", m.node, manager.LayerName(m.layerID))
		m.node.AddToLayer(m.layerID)
		r.changes = append(r.changes, Change{
			LayerID: m.layerID, LayerName: manager.LayerName(m.layerID), Member: m.node, Type: NodeAddedToLayer,
		})
	}

	for _, m := range p.removals {
		if !m.node.IsInLayer(m.layerID) {
			continue
		}
		r.log.Infof("Removing node %s from layer %s", m.node, manager.LayerName(m.layerID))
		m.node.RemoveFromLayer(m.layerID)
		r.changes = append(r.changes, Change{
			LayerID: m.layerID, LayerName: manager.LayerName(m.layerID), Member: m.node, Type: NodeRemovedFromLayer,
		})
	}

	r.log.Infof("Removing %d layers that have been marked for removal", len(p.deletions))
	for _, name := range p.deletions {
		id := manager.LayerID(name)
		if id == -1 || id == scene.DefaultLayerID {
			continue
		}
		manager.DeleteLayer(name)
		r.changes = append(r.changes, Change{LayerID: id, LayerName: name, Type: LayerRemoved})
	}
}
