package groups

import (
	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// Merger adjusts the base tree's selection groups to match the source
// tree after a two-way merge has been applied to the base.
//
// Base groups missing in the source are removed unless they contain nodes
// that exist only in the base; those were kept by the user.
type Merger struct {
	reconciler
	source *scene.Tree
	base   *scene.Tree

	sourceNodes nodeutil.NodeFingerprints
	baseNodes   nodeutil.NodeFingerprints
}

func NewMerger(source, base *scene.Tree) *Merger {
	return &Merger{
		reconciler: newReconciler("groups"),
		source:     source,
		base:       base,
	}
}

func (m *Merger) Source() *scene.Tree { return m.source }
func (m *Merger) Base() *scene.Tree   { return m.base }

type groupMembership struct {
	group *scene.SelectionGroup
	node  *scene.Node
}

// AdjustBaseGroups runs the reconciliation.
func (m *Merger) AdjustBaseGroups() error {
	m.reset()

	m.sourceNodes = nodeutil.CollectNodeFingerprints(m.source, nodeutil.GroupMemberFingerprint)
	m.log.Infof("Got %d nodes in the source map", len(m.sourceNodes))

	m.baseNodes = nodeutil.CollectNodeFingerprints(m.base, nodeutil.GroupMemberFingerprint)
	m.log.Infof("Got %d nodes in the base map", len(m.baseNodes))

	var (
		removals  []groupMembership
		additions []groupMembership
		deletions []int
	)

	m.log.Info("Start processing base groups")
	m.base.SelectionGroups().ForEachSelectionGroup(func(g *scene.SelectionGroup) {
		if m.source.SelectionGroups().SelectionGroup(g.ID()) != nil {
			return
		}

		baseOnly := 0
		members := GroupMembers(g)
		for _, fp := range members.Keys() {
			if _, inSource := m.sourceNodes[fp]; inSource {
				removals = append(removals, groupMembership{group: g, node: members[fp]})
			} else {
				baseOnly++
			}
		}

		if baseOnly > 0 {
			m.log.Infof("Keeping base group %d, it still has %d base-only members", g.ID(), baseOnly)
			return
		}
		m.log.Infof("Base group %d is not present in source, marking it for removal", g.ID())
		deletions = append(deletions, g.ID())
	})

	m.log.Info("Start processing source groups")
	m.source.SelectionGroups().ForEachSelectionGroup(func(g *scene.SelectionGroup) {
		m.log.Debugf("Processing source group with ID %d, size %d", g.ID(), g.Size())

		baseGroup := m.base.SelectionGroups().SelectionGroup(g.ID())
		if baseGroup == nil {
			created, err := m.base.SelectionGroups().CreateSelectionGroupWithID(g.ID())
			if err != nil {
				m.log.Warn("Could not create group", "id", g.ID(), "err", err)
				return
			}
			m.log.Infof("Created group with ID %d in the base map", g.ID())
			m.record(Change{GroupID: g.ID(), Type: GroupCreated})
			baseGroup = created
		}

		desired := GroupMembers(g)
		current := GroupMembers(baseGroup)

		for _, fp := range nodeutil.Difference(current, desired) {
			if _, inSource := m.sourceNodes[fp]; !inSource {
				continue
			}
			removals = append(removals, groupMembership{group: baseGroup, node: current[fp]})
		}

		for _, fp := range nodeutil.Difference(desired, current) {
			baseNode, ok := m.baseNodes[fp]
			if !ok {
				m.log.Warnf("Could not look up the node %s in the base map for addition", desired[fp])
				continue
			}
			additions = append(additions, groupMembership{group: baseGroup, node: baseNode})
		}
	})

	for _, a := range additions {
		m.log.Infof("Adding node %s to group %d", a.node, a.group.ID())
		a.group.AddNode(a.node)
		m.record(Change{GroupID: a.group.ID(), Member: a.node, Type: NodeAddedToGroup})
	}

	for _, r := range removals {
		m.log.Infof("Removing node %s from group %d", r.node, r.group.ID())
		r.group.RemoveNode(r.node)
		m.record(Change{GroupID: r.group.ID(), Member: r.node, Type: NodeRemovedFromGroup})
	}

	m.log.Infof("Removing %d base groups that have been marked for removal", len(deletions))
	for _, id := range deletions {
		m.base.SelectionGroups().DeleteSelectionGroup(id)
		m.record(Change{GroupID: id, Type: GroupRemoved})
	}

	m.sourceNodes = nil
	m.baseNodes = nil

	return EnsureGroupSizeOrder(m.base, m.record)
}
