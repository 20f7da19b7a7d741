// Package namespace keeps entity names unique when entities are imported
// from one map into another.
package namespace

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"scenemerge/scene"
)

const nameKey = "name"

// Namespace resolves name clashes against a target tree.
type Namespace struct {
	target *scene.Tree
}

// New creates a namespace for the given target tree.
func New(target *scene.Tree) *Namespace {
	return &Namespace{target: target}
}

// EnsureNoConflicts renames the given entity nodes of source whose names
// are already used in the target (or elsewhere in source). Key values
// referring to an old name are rewritten on the given nodes and, for nodes
// that are part of the source scene, on every other source entity too.
func (ns *Namespace) EnsureNoConflicts(source *scene.Tree, nodes []*scene.Node) {
	candidates := make(map[*scene.Node]bool, len(nodes))
	for _, n := range nodes {
		candidates[n] = true
	}

	targetNames := entityNames(ns.target, nil)
	taken := entityNames(source, candidates)
	for name := range targetNames {
		taken[name] = true
	}

	renames := make(map[string]string)
	sceneRenames := make(map[string]string)
	for _, n := range nodes {
		entity := n.Entity()
		if entity == nil || entity.IsWorldspawn() {
			continue
		}
		name := entity.Name()
		if name == "" {
			continue
		}
		if !targetNames[name] && !taken[name] {
			taken[name] = true
			continue
		}

		newName := NextFreeName(name, taken)
		taken[newName] = true
		renames[name] = newName
		if n.Tree() == source && n.InScene() {
			sceneRenames[name] = newName
		}
		entity.SetKeyValue(nameKey, newName)
		log.Info("Renamed entity to avoid a name conflict", "from", name, "to", newName)
	}

	for _, n := range nodes {
		rewriteReferences(n, renames)
	}
	if len(sceneRenames) == 0 {
		return
	}
	for _, n := range source.Entities() {
		if !candidates[n] {
			rewriteReferences(n, sceneRenames)
		}
	}
}

// rewriteReferences points key values naming a renamed entity at its new
// name. The entity's own name is left alone.
func rewriteReferences(n *scene.Node, renames map[string]string) {
	entity := n.Entity()
	if entity == nil || len(renames) == 0 {
		return
	}
	for _, kv := range entity.KeyValues() {
		if strings.EqualFold(kv.Key, nameKey) {
			continue
		}
		if newName, ok := renames[kv.Value]; ok {
			entity.SetKeyValue(kv.Key, newName)
			log.Debug("Rewrote entity reference", "entity", entity.Name(), "key", kv.Key, "to", newName)
		}
	}
}

// NextFreeName derives a name not in taken: a numeric suffix is
// incremented ("door_3" becomes "door_4"), otherwise "_1" is appended.
func NextFreeName(name string, taken map[string]bool) string {
	prefix, n := splitSuffix(name)
	for {
		n++
		candidate := prefix + "_" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func splitSuffix(name string) (string, int) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 || i == len(name)-1 {
		return name, 0
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n < 0 {
		return name, 0
	}
	return name[:i], n
}

// entityNames returns the names of the scene entities, leaving out exclude.
func entityNames(t *scene.Tree, exclude map[*scene.Node]bool) map[string]bool {
	out := make(map[string]bool)
	for _, n := range t.Entities() {
		if exclude[n] {
			continue
		}
		if name := n.Entity().Name(); name != "" {
			out[name] = true
		}
	}
	return out
}
