package groups

import (
	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// ThreeWayMerger replays the selection group changes made in source
// (relative to a common base) onto the target tree.
//
// Added grouping information is kept intact, while groups are only removed
// if they haven't been altered in the target.
type ThreeWayMerger struct {
	reconciler
	base   *scene.Tree
	source *scene.Tree
	target *scene.Tree

	targetNodes nodeutil.NodeFingerprints

	sourceGroupFingerprints map[int]string
	targetGroupFingerprints map[string]bool

	addedSourceGroupIDs    []int
	removedSourceGroupIDs  []int
	modifiedSourceGroupIDs []int
	modifiedTargetGroupIDs map[int]bool
}

func NewThreeWayMerger(base, source, target *scene.Tree) *ThreeWayMerger {
	return &ThreeWayMerger{
		reconciler: newReconciler("groups3"),
		base:       base,
		source:     source,
		target:     target,
	}
}

func (m *ThreeWayMerger) Base() *scene.Tree   { return m.base }
func (m *ThreeWayMerger) Source() *scene.Tree { return m.source }
func (m *ThreeWayMerger) Target() *scene.Tree { return m.target }

// AdjustTargetGroups runs the reconciliation.
func (m *ThreeWayMerger) AdjustTargetGroups() error {
	m.reset()
	m.cleanupWorkingData()
	defer m.cleanupWorkingData()

	m.targetNodes = nodeutil.CollectNodeFingerprints(m.target, nodeutil.GroupMemberFingerprint)
	m.log.Infof("Got %d nodes in the target map", len(m.targetNodes))

	m.base.SelectionGroups().ForEachSelectionGroup(m.processBaseGroup)

	// Which groups have been added or modified on either side
	m.source.SelectionGroups().ForEachSelectionGroup(m.processSourceGroup)
	m.target.SelectionGroups().ForEachSelectionGroup(m.processTargetGroup)

	m.addMissingGroupsToTarget()
	m.removeGroupsFromTarget()
	m.adjustGroupMemberships()

	return EnsureGroupSizeOrder(m.target, m.record)
}

func (m *ThreeWayMerger) cleanupWorkingData() {
	m.targetNodes = nil
	m.sourceGroupFingerprints = make(map[int]string)
	m.targetGroupFingerprints = make(map[string]bool)
	m.addedSourceGroupIDs = nil
	m.removedSourceGroupIDs = nil
	m.modifiedSourceGroupIDs = nil
	m.modifiedTargetGroupIDs = make(map[int]bool)
}

func (m *ThreeWayMerger) processBaseGroup(g *scene.SelectionGroup) {
	m.log.Debugf("Processing base group with ID %d, size %d", g.ID(), g.Size())

	if m.source.SelectionGroups().SelectionGroup(g.ID()) == nil {
		m.log.Debugf("Base group %d is not present in source", g.ID())
		m.removedSourceGroupIDs = append(m.removedSourceGroupIDs, g.ID())
	}
}

func (m *ThreeWayMerger) processSourceGroup(g *scene.SelectionGroup) {
	m.log.Debugf("Processing source group with ID %d, size %d", g.ID(), g.Size())

	fingerprint := GroupFingerprint(g)
	m.sourceGroupFingerprints[g.ID()] = fingerprint

	baseGroup := m.base.SelectionGroups().SelectionGroup(g.ID())
	if baseGroup == nil {
		m.log.Debugf("Source group %d is not present in base", g.ID())
		m.addedSourceGroupIDs = append(m.addedSourceGroupIDs, g.ID())
		return
	}

	if fingerprint != GroupFingerprint(baseGroup) {
		m.modifiedSourceGroupIDs = append(m.modifiedSourceGroupIDs, g.ID())
	}
}

func (m *ThreeWayMerger) processTargetGroup(g *scene.SelectionGroup) {
	m.log.Debugf("Processing target group with ID %d, size %d", g.ID(), g.Size())

	fingerprint := GroupFingerprint(g)
	m.targetGroupFingerprints[fingerprint] = true

	baseGroup := m.base.SelectionGroups().SelectionGroup(g.ID())
	if baseGroup == nil {
		m.log.Debugf("Target group %d is not present in base", g.ID())
		return
	}

	if fingerprint != GroupFingerprint(baseGroup) {
		m.modifiedTargetGroupIDs[g.ID()] = true
	}
}

// addMissingGroupsToTarget creates the source-added groups under fresh
// ids, so they can't clash with groups the target created meanwhile.
func (m *ThreeWayMerger) addMissingGroupsToTarget() {
	for _, id := range m.addedSourceGroupIDs {
		if m.targetGroupFingerprints[m.sourceGroupFingerprints[id]] {
			m.log.Infof("Source group %d has an equivalent group in the target map", id)
			continue
		}

		targetGroup := m.target.SelectionGroups().CreateSelectionGroup()
		m.record(Change{GroupID: targetGroup.ID(), Type: GroupCreated})
		m.log.Infof("Adding missing source group %d to the target map as %d", id, targetGroup.ID())

		for _, member := range m.source.SelectionGroups().SelectionGroup(id).Members() {
			m.addResolvedNode(targetGroup, member)
		}
	}
}

func (m *ThreeWayMerger) removeGroupsFromTarget() {
	for _, id := range m.removedSourceGroupIDs {
		if m.modifiedTargetGroupIDs[id] {
			m.log.Infof("Removed source group %d has been modified in the target map, won't remove", id)
			continue
		}
		if m.target.SelectionGroups().SelectionGroup(id) == nil {
			continue
		}

		m.log.Infof("Removing group %d from the target map, as it has been removed in the source", id)
		m.target.SelectionGroups().DeleteSelectionGroup(id)
		m.record(Change{GroupID: id, Type: GroupRemoved})
	}
}

// adjustGroupMemberships replays source modifications additively.
func (m *ThreeWayMerger) adjustGroupMemberships() {
	for _, id := range m.modifiedSourceGroupIDs {
		targetGroup := m.target.SelectionGroups().SelectionGroup(id)
		if targetGroup == nil {
			m.log.Infof("The target group %d is no longer present, cannot apply changes", id)
			continue
		}

		for _, member := range m.source.SelectionGroups().SelectionGroup(id).Members() {
			m.addResolvedNode(targetGroup, member)
		}
	}
}

func (m *ThreeWayMerger) addResolvedNode(g *scene.SelectionGroup, sourceMember *scene.Node) {
	targetNode, ok := m.targetNodes[nodeutil.GroupMemberFingerprint(sourceMember)]
	if !ok {
		m.log.Debugf("Source member %s is not present in the target map", sourceMember)
		return
	}
	if g.Contains(targetNode) {
		return
	}
	m.log.Debugf("Adding target node %s to group %d", targetNode, g.ID())
	g.AddNode(targetNode)
	m.record(Change{GroupID: g.ID(), Member: targetNode, Type: NodeAddedToGroup})
}
