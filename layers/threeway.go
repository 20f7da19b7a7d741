package layers

import (
	"fmt"

	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// ThreeWayMerger applies the layer changes made in source (relative to a
// common base) to the target tree.
//
// Layers deleted in source are deleted in target, unless target added
// members to them. Layers added in source are created in target; if the
// name is already taken by a layer with different members, the source
// layer gets a free name. Layers modified in source get the same
// modifications in target. If target deleted such a layer and source made
// additions to it, the layer is recreated with source's members.
//
// Membership changes referring to nodes missing in target are skipped.
type ThreeWayMerger struct {
	reconciler
	base   *scene.Tree
	source *scene.Tree
	target *scene.Tree

	sourceNodes nodeutil.NodeFingerprints
	targetNodes nodeutil.NodeFingerprints

	removedInSource map[string]bool
	removedInTarget map[string]bool
	baseMembers     map[string]Members
	targetChanges   map[string][]layerChange
}

type layerChangeType int

const (
	nodeAddition layerChangeType = iota
	nodeRemoval
)

// layerChange is one membership difference of a layer relative to base.
type layerChange struct {
	changeType  layerChangeType
	node        *scene.Node
	fingerprint string
}

func NewThreeWayMerger(base, source, target *scene.Tree) *ThreeWayMerger {
	return &ThreeWayMerger{
		reconciler: newReconciler("layers3"),
		base:       base,
		source:     source,
		target:     target,
	}
}

func (m *ThreeWayMerger) Base() *scene.Tree   { return m.base }
func (m *ThreeWayMerger) Source() *scene.Tree { return m.source }
func (m *ThreeWayMerger) Target() *scene.Tree { return m.target }

// AdjustTargetLayers runs the reconciliation.
func (m *ThreeWayMerger) AdjustTargetLayers() {
	m.reset()

	m.sourceNodes = nodeutil.CollectNodeFingerprints(m.source, nodeutil.LayerMemberFingerprint)
	m.log.Infof("Got %d nodes in the source map", len(m.sourceNodes))

	m.targetNodes = nodeutil.CollectNodeFingerprints(m.target, nodeutil.LayerMemberFingerprint)
	m.log.Infof("Got %d nodes in the target map", len(m.targetNodes))

	m.removedInSource = make(map[string]bool)
	m.removedInTarget = make(map[string]bool)
	m.baseMembers = make(map[string]Members)
	m.targetChanges = make(map[string][]layerChange)

	m.log.Info("Analysing base layers")
	m.base.Layers().ForEachLayer(m.analyseBaseLayer)

	m.log.Info("Analysing target layers with respect to base")
	m.target.Layers().ForEachLayer(m.analyseTargetLayer)

	p := &plan{}

	m.log.Info("Processing base layers removed in source")
	m.base.Layers().ForEachLayer(func(_ int, name string) {
		if m.removedInSource[name] {
			m.processRemovedSourceLayer(p, name)
		}
	})

	m.log.Info("Processing source layers")
	m.source.Layers().ForEachLayer(func(id int, name string) {
		m.processSourceLayer(p, id, name)
	})

	m.log.Info("Processing nodes not present in base")
	m.processNewNodes(p)

	m.execute(m.target, p)

	m.sourceNodes = nil
	m.targetNodes = nil
	m.removedInSource = nil
	m.removedInTarget = nil
	m.baseMembers = nil
	m.targetChanges = nil
}

func (m *ThreeWayMerger) analyseBaseLayer(id int, name string) {
	m.baseMembers[name] = LayerMembers(m.base, id)

	if m.source.Layers().LayerID(name) == -1 {
		m.log.Debugf("Base layer %s is not present in source", name)
		m.removedInSource[name] = true
	}
	if m.target.Layers().LayerID(name) == -1 {
		m.log.Debugf("Base layer %s is not present in target", name)
		m.removedInTarget[name] = true
	}
}

func (m *ThreeWayMerger) analyseTargetLayer(id int, name string) {
	baseMembers, inBase := m.baseMembers[name]
	if !inBase {
		return
	}
	m.targetChanges[name] = m.layerChanges(LayerMembers(m.target, id), baseMembers)
}

func (m *ThreeWayMerger) layerChanges(changed, base Members) []layerChange {
	var result []layerChange

	added := nodeutil.Difference(changed, base)
	removed := nodeutil.Difference(base, changed)
	m.log.Debugf("Found %d new members and %d removed members", len(added), len(removed))

	for _, fp := range added {
		result = append(result, layerChange{changeType: nodeAddition, node: changed[fp], fingerprint: fp})
	}
	for _, fp := range removed {
		result = append(result, layerChange{changeType: nodeRemoval, node: base[fp], fingerprint: fp})
	}
	return result
}

func hasAdditions(changes []layerChange) bool {
	for _, c := range changes {
		if c.changeType == nodeAddition {
			return true
		}
	}
	return false
}

func (m *ThreeWayMerger) processRemovedSourceLayer(p *plan, name string) {
	if m.removedInTarget[name] {
		m.log.Debugf("Layer %s has been removed in both maps", name)
		return
	}

	if hasAdditions(m.targetChanges[name]) {
		m.log.Infof("Layer %s has been removed in source, but target added members to it, keeping it", name)
		return
	}

	m.log.Infof("Layer %s has been removed in source, marking it for removal", name)
	p.deleteLayer(name)
}

func (m *ThreeWayMerger) processSourceLayer(p *plan, sourceLayerID int, name string) {
	sourceMembers := LayerMembers(m.source, sourceLayerID)

	baseMembers, inBase := m.baseMembers[name]
	if !inBase {
		m.processAddedSourceLayer(p, name, sourceMembers)
		return
	}

	sourceChanges := m.layerChanges(sourceMembers, baseMembers)
	if len(sourceChanges) == 0 {
		return
	}

	if m.removedInTarget[name] {
		if !hasAdditions(sourceChanges) {
			m.log.Infof("Layer %s has been removed in target, source only removed members, keeping it deleted", name)
			return
		}
		m.log.Infof("Layer %s has been removed in target, but source added members, recreating it", name)
		layerID := m.createLayer(m.target, name)
		if layerID != -1 {
			m.addResolvedMembers(p, layerID, sourceMembers)
		}
		return
	}

	targetLayerID := m.target.Layers().LayerID(name)
	for _, change := range sourceChanges {
		targetNode, ok := m.targetNodes[change.fingerprint]
		if !ok {
			m.log.Debugf("Node %s is not present in the target map, skipping", change.node)
			continue
		}
		switch change.changeType {
		case nodeAddition:
			p.addNode(targetLayerID, targetNode)
		case nodeRemoval:
			p.removeNode(targetLayerID, targetNode)
		}
	}
}

func (m *ThreeWayMerger) processAddedSourceLayer(p *plan, name string, sourceMembers Members) {
	targetLayerID := m.target.Layers().LayerID(name)

	if targetLayerID != -1 {
		targetMembers := LayerMembers(m.target, targetLayerID)
		if sameMembers(sourceMembers, targetMembers) {
			m.log.Infof("Layer %s has been added to both maps with the same members", name)
			return
		}
		name = m.freeLayerName(name)
		m.log.Infof("Layer name is already taken in target, importing source layer as %s", name)
	}

	layerID := m.createLayer(m.target, name)
	if layerID == -1 {
		return
	}
	m.addResolvedMembers(p, layerID, sourceMembers)
}

func (m *ThreeWayMerger) addResolvedMembers(p *plan, layerID int, members Members) {
	for _, fp := range members.Keys() {
		targetNode, ok := m.targetNodes[fp]
		if !ok {
			m.log.Warnf("Could not look up the node %s in the target map", members[fp])
			continue
		}
		p.addNode(layerID, targetNode)
	}
}

// processNewNodes gives nodes missing in base the layers of their source
// counterpart. Imported nodes arrive in the default layer, which neither
// side's layer changes account for.
func (m *ThreeWayMerger) processNewNodes(p *plan) {
	baseNodes := nodeutil.CollectNodeFingerprints(m.base, nodeutil.LayerMemberFingerprint)

	planned := make(map[*scene.Node]map[int]bool)
	for _, a := range p.additions {
		if planned[a.node] == nil {
			planned[a.node] = make(map[int]bool)
		}
		planned[a.node][a.layerID] = true
	}

	for _, fp := range m.targetNodes.Keys() {
		if _, inBase := baseNodes[fp]; inBase {
			continue
		}
		sourceNode, inSource := m.sourceNodes[fp]
		if !inSource {
			continue
		}
		targetNode := m.targetNodes[fp]

		var stale []int
		kept := len(planned[targetNode])
		for _, layerID := range targetNode.Layers() {
			if planned[targetNode][layerID] {
				continue
			}
			sourceLayerID := m.source.Layers().LayerID(m.target.Layers().LayerName(layerID))
			if sourceLayerID != -1 && sourceNode.IsInLayer(sourceLayerID) {
				kept++
				continue
			}
			stale = append(stale, layerID)
		}

		// Removing the last layer would fall back to the default layer
		if kept == 0 {
			continue
		}
		for _, layerID := range stale {
			m.log.Debugf("Node %s is not in layer %s in the source map", targetNode, m.target.Layers().LayerName(layerID))
			p.removeNode(layerID, targetNode)
		}
	}
}

func (m *ThreeWayMerger) freeLayerName(name string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", name, n)
		if m.target.Layers().LayerID(candidate) == -1 {
			return candidate
		}
	}
}

func sameMembers(a, b Members) bool {
	if len(a) != len(b) {
		return false
	}
	for fp := range a {
		if _, ok := b[fp]; !ok {
			return false
		}
	}
	return true
}
