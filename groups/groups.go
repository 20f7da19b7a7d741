// Package groups reconciles selection groups after the primary merge.
// Groups are matched by id.
package groups

import (
	"errors"
	"fmt"
	"sort"

	"scenemerge/cas"
	"scenemerge/internal/mergelog"
	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// ErrGroupInvariant is returned when the size ordering of a node's groups
// cannot be established.
var ErrGroupInvariant = errors.New("selection group invariant violated")

// ChangeType classifies an entry of the change log.
type ChangeType string

const (
	NodeAddedToGroup     ChangeType = "node_added_to_group"
	NodeRemovedFromGroup ChangeType = "node_removed_from_group"
	GroupCreated         ChangeType = "group_created"
	GroupRemoved         ChangeType = "group_removed"
	NodeGroupsReordered  ChangeType = "node_groups_reordered"
)

// Change is one modification made to the tree being adjusted.
type Change struct {
	GroupID int
	Member  *scene.Node
	Type    ChangeType
}

// Members maps group member fingerprints to nodes.
type Members = nodeutil.NodeFingerprints

// GroupMembers collects the member fingerprints of a group.
func GroupMembers(g *scene.SelectionGroup) Members {
	out := make(Members)
	g.ForEachNode(func(n *scene.Node) {
		fp := nodeutil.GroupMemberFingerprint(n)
		if fp == "" {
			return
		}
		if _, exists := out[fp]; !exists {
			out[fp] = n
		}
	})
	return out
}

// GroupFingerprint hashes the sorted member fingerprints, so two groups
// with equivalent members in different trees compare equal.
func GroupFingerprint(g *scene.SelectionGroup) string {
	members := GroupMembers(g)
	h := cas.NewHasher()
	h.AddSize(uint64(len(members)))
	for _, fp := range members.Keys() {
		h.AddString(fp)
	}
	return h.Sum()
}

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

func (r *reconciler) record(c Change) {
	r.changes = append(r.changes, c)
}

// EnsureGroupSizeOrder repairs the membership order of every node so that
// each group is a superset of the ones before it: the ids are sorted by
// group size, smallest first. Groups of equal size on the same node can't
// be nested, they are merged into the one with the lower id.
func EnsureGroupSizeOrder(t *scene.Tree, onChange func(Change)) error {
	manager := t.SelectionGroups()
	if onChange == nil {
		onChange = func(Change) {}
	}

	// Every merge removes a group, so this bounds the number of rounds
	limit := manager.GroupCount()
	for round := 0; round <= limit; round++ {
		keep, drop, found := findEqualSizedGroups(t)
		if found {
			mergeGroups(manager, keep, drop, onChange)
			continue
		}

		var reorder []*scene.Node
		t.ForEachNode(func(n *scene.Node) bool {
			ids := n.GroupIDs()
			if !sort.SliceIsSorted(ids, bySize(manager, ids)) {
				reorder = append(reorder, n)
			}
			return true
		})

		for _, n := range reorder {
			ids := n.GroupIDs()
			sort.SliceStable(ids, bySize(manager, ids))
			if err := manager.SetGroupOrder(n, ids); err != nil {
				return fmt.Errorf("reordering groups of %s: %w", n, err)
			}
			onChange(Change{Member: n, Type: NodeGroupsReordered})
		}
		return nil
	}

	return fmt.Errorf("%s: %w", t.Name(), ErrGroupInvariant)
}

func bySize(manager *scene.SelectionGroupManager, ids []int) func(i, j int) bool {
	return func(i, j int) bool {
		return groupSize(manager, ids[i]) < groupSize(manager, ids[j])
	}
}

func groupSize(manager *scene.SelectionGroupManager, id int) int {
	if g := manager.SelectionGroup(id); g != nil {
		return g.Size()
	}
	return 0
}

// findEqualSizedGroups returns the first pair of distinct groups sharing a
// node and having the same size.
func findEqualSizedGroups(t *scene.Tree) (keep, drop int, found bool) {
	manager := t.SelectionGroups()
	t.ForEachNode(func(n *scene.Node) bool {
		if found {
			return false
		}
		ids := n.GroupIDs()
		for i := 0; i < len(ids) && !found; i++ {
			for j := i + 1; j < len(ids); j++ {
				if groupSize(manager, ids[i]) != groupSize(manager, ids[j]) {
					continue
				}
				keep, drop = min(ids[i], ids[j]), max(ids[i], ids[j])
				found = true
				break
			}
		}
		return true
	})
	return keep, drop, found
}

func mergeGroups(manager *scene.SelectionGroupManager, keep, drop int, onChange func(Change)) {
	target := manager.SelectionGroup(keep)
	for _, n := range manager.SelectionGroup(drop).Members() {
		if target.Contains(n) {
			continue
		}
		target.AddNode(n)
		onChange(Change{GroupID: keep, Member: n, Type: NodeAddedToGroup})
	}
	manager.DeleteSelectionGroup(drop)
	onChange(Change{GroupID: drop, Type: GroupRemoved})
}
