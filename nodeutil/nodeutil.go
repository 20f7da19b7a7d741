// Package nodeutil derives node identities for the different matching
// contexts of the merge engine.
package nodeutil

import (
	"sort"

	"scenemerge/scene"
)

// EntityName returns the identity name of an entity node ("worldspawn"
// for the world entity) or "" for any other node.
func EntityName(n *scene.Node) string {
	if n == nil || n.Entity() == nil {
		return ""
	}
	return n.Entity().Name()
}

// EntityNameOrFingerprint returns the name for entities, so group and layer
// membership survives geometry edits to the entity, and the content
// fingerprint for every other comparable node.
func EntityNameOrFingerprint(n *scene.Node) string {
	if n == nil {
		return ""
	}
	if n.Kind() == scene.KindEntity {
		return EntityName(n)
	}
	if n.Comparable() {
		return n.Fingerprint()
	}
	return ""
}

// LayerMemberFingerprint identifies a node as a layer member.
func LayerMemberFingerprint(n *scene.Node) string {
	return EntityNameOrFingerprint(n)
}

// GroupMemberFingerprint identifies a node as a selection group member.
func GroupMemberFingerprint(n *scene.Node) string {
	return EntityNameOrFingerprint(n)
}

// NodeFingerprints maps member fingerprints to nodes.
type NodeFingerprints map[string]*scene.Node

// Keys returns the fingerprints, sorted.
func (f NodeFingerprints) Keys() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CollectNodeFingerprints indexes every node of the tree by fn. Nodes that
// produce an empty fingerprint are skipped; on collision the first one wins.
func CollectNodeFingerprints(t *scene.Tree, fn func(*scene.Node) string) NodeFingerprints {
	out := make(NodeFingerprints)
	t.ForEachNode(func(n *scene.Node) bool {
		fp := fn(n)
		if fp == "" {
			return true
		}
		if _, exists := out[fp]; !exists {
			out[fp] = n
		}
		return true
	})
	return out
}

// Difference returns the keys of a that are missing in b, sorted.
func Difference(a, b map[string]*scene.Node) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Intersection returns the keys present in both, sorted.
func Intersection(a, b map[string]*scene.Node) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
