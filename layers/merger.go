package layers

import (
	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// Merger adjusts the base tree's layers to match the source tree after a
// two-way merge has been applied to the base.
//
// Base layers no longer present in the source are removed, unless they
// still hold nodes that exist only in the base; those nodes have been
// kept on purpose and keep their layer.
type Merger struct {
	reconciler
	source *scene.Tree
	base   *scene.Tree

	sourceNodes nodeutil.NodeFingerprints
	baseNodes   nodeutil.NodeFingerprints
}

func NewMerger(source, base *scene.Tree) *Merger {
	return &Merger{
		reconciler: newReconciler("layers"),
		source:     source,
		base:       base,
	}
}

func (m *Merger) Source() *scene.Tree { return m.source }
func (m *Merger) Base() *scene.Tree   { return m.base }

// AdjustBaseLayers runs the reconciliation.
func (m *Merger) AdjustBaseLayers() {
	m.reset()

	m.sourceNodes = nodeutil.CollectNodeFingerprints(m.source, nodeutil.LayerMemberFingerprint)
	m.log.Infof("Got %d nodes in the source map", len(m.sourceNodes))

	m.baseNodes = nodeutil.CollectNodeFingerprints(m.base, nodeutil.LayerMemberFingerprint)
	m.log.Infof("Got %d nodes in the base map", len(m.baseNodes))

	p := &plan{}

	m.log.Info("Start processing base layers")
	m.base.Layers().ForEachLayer(func(id int, name string) {
		m.processBaseLayer(p, id, name)
	})

	m.log.Info("Start processing source layers")
	m.source.Layers().ForEachLayer(func(id int, name string) {
		m.processSourceLayer(p, id, name)
	})

	m.execute(m.base, p)

	m.sourceNodes = nil
	m.baseNodes = nil
}

func (m *Merger) processBaseLayer(p *plan, baseLayerID int, name string) {
	// Layers in both trees are reconciled member by member in processSourceLayer
	if m.source.Layers().LayerID(name) != -1 {
		m.log.Debugf("Base layer %s is present in source too, skipping", name)
		return
	}

	baseOnly := 0
	members := LayerMembers(m.base, baseLayerID)
	for _, fp := range members.Keys() {
		node := members[fp]
		if _, inSource := m.sourceNodes[fp]; !inSource {
			baseOnly++
			continue
		}
		m.log.Infof("Removing node %s from layer %s, since it is not exclusive to the base map", node, name)
		p.removeNode(baseLayerID, node)
	}

	if baseOnly > 0 {
		m.log.Infof("Keeping base layer %s, it still has %d base-only members", name, baseOnly)
		return
	}
	p.deleteLayer(name)
}

func (m *Merger) processSourceLayer(p *plan, sourceLayerID int, name string) {
	m.log.Debugf("Processing source layer %s with ID %d", name, sourceLayerID)

	baseLayerID := m.base.Layers().LayerID(name)
	if baseLayerID == -1 {
		baseLayerID = m.createLayer(m.base, name)
		if baseLayerID == -1 {
			return
		}
	}

	desired := LayerMembers(m.source, sourceLayerID)
	current := LayerMembers(m.base, baseLayerID)

	toRemove := nodeutil.Difference(current, desired)
	toAdd := nodeutil.Difference(desired, current)
	m.log.Debugf("Members to be added: %d, members to be removed: %d", len(toAdd), len(toRemove))

	for _, fp := range toRemove {
		// Nodes only present in the base were kept by the user, so is their membership
		if _, inSource := m.sourceNodes[fp]; !inSource {
			continue
		}
		p.removeNode(baseLayerID, current[fp])
	}

	for _, fp := range toAdd {
		baseNode, ok := m.baseNodes[fp]
		if !ok {
			m.log.Warnf("Could not look up the node %s in the base map for addition", desired[fp])
			continue
		}
		p.addNode(baseLayerID, baseNode)
	}
}
