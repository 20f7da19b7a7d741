package diff

import (
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"scenemerge/nodeutil"
	"scenemerge/scene"
)

// Fingerprints maps node fingerprints to nodes of one tree.
type Fingerprints map[string]*scene.Node

type entityMismatch struct {
	fingerprint string
	node        *scene.Node
	name        string
}

// Compare compares source against base. Entities are matched by
// fingerprint first; the remaining ones are paired up by name and diffed
// key by key and primitive by primitive.
func Compare(source, base *scene.Tree) (*ComparisonResult, error) {
	result := &ComparisonResult{Source: source, Base: base}

	sourceEntities := CollectEntityFingerprints(source)
	baseEntities := CollectEntityFingerprints(base)

	if len(sourceEntities) == 0 {
		return nil, &NotPossibleError{Message: "The source map doesn't contain any entities, cannot merge"}
	}

	sourceMismatches := make(map[string]entityMismatch)
	for _, fp := range sortedKeys(sourceEntities) {
		node := sourceEntities[fp]
		if baseNode, ok := baseEntities[fp]; ok {
			result.EquivalentEntities = append(result.EquivalentEntities, Match{
				Fingerprint: fp,
				SourceNode:  node,
				BaseNode:    baseNode,
			})
			continue
		}
		addMismatch(sourceMismatches, fp, node, source)
	}

	baseMismatches := make(map[string]entityMismatch)
	for _, fp := range sortedKeys(baseEntities) {
		if _, ok := sourceEntities[fp]; ok {
			continue // matched above
		}
		addMismatch(baseMismatches, fp, baseEntities[fp], base)
	}

	processDifferingEntities(result, sourceMismatches, baseMismatches)
	return result, nil
}

func addMismatch(bucket map[string]entityMismatch, fp string, node *scene.Node, tree *scene.Tree) {
	name := bucketName(node, fp)
	if existing, ok := bucket[name]; ok {
		log.Warn("More than one entity with the same name", "map", tree.Name(), "name", name,
			"dropped", existing.node.String())
	}
	bucket[name] = entityMismatch{fingerprint: fp, node: node, name: name}
}

// bucketName keys unnamed entities by fingerprint so they never pair up by accident.
func bucketName(node *scene.Node, fp string) string {
	if name := nodeutil.EntityName(node); name != "" {
		return name
	}
	return "#" + fp
}

func processDifferingEntities(result *ComparisonResult, sourceMismatches, baseMismatches map[string]entityMismatch) {
	var matchingByName, missingInSource, missingInBase []string

	for name := range sourceMismatches {
		if _, ok := baseMismatches[name]; ok {
			matchingByName = append(matchingByName, name)
		} else {
			missingInBase = append(missingInBase, name)
		}
	}
	for name := range baseMismatches {
		if _, ok := sourceMismatches[name]; !ok {
			missingInSource = append(missingInSource, name)
		}
	}
	sort.Strings(matchingByName)
	sort.Strings(missingInSource)
	sort.Strings(missingInBase)

	for _, name := range matchingByName {
		src := sourceMismatches[name]
		bse := baseMismatches[name]

		result.DifferingEntities = append(result.DifferingEntities, EntityDifference{
			SourceNode:         src.node,
			BaseNode:           bse.node,
			EntityName:         name,
			SourceFingerprint:  src.fingerprint,
			BaseFingerprint:    bse.fingerprint,
			Type:               EntityPresentButDifferent,
			DifferingKeyValues: CompareKeyValues(src.node, bse.node),
			DifferingChildren:  CompareChildNodes(src.node, bse.node),
		})
	}

	for _, name := range missingInSource {
		m := baseMismatches[name]
		result.DifferingEntities = append(result.DifferingEntities, EntityDifference{
			BaseNode:        m.node,
			EntityName:      name,
			BaseFingerprint: m.fingerprint,
			Type:            EntityMissingInSource,
		})
	}

	for _, name := range missingInBase {
		m := sourceMismatches[name]
		result.DifferingEntities = append(result.DifferingEntities, EntityDifference{
			SourceNode:        m.node,
			EntityName:        name,
			SourceFingerprint: m.fingerprint,
			Type:              EntityMissingInBase,
		})
	}
}

type keyValueEntry struct {
	key   string
	value string
}

func loadKeyValues(node *scene.Node) map[string]keyValueEntry {
	out := make(map[string]keyValueEntry)
	node.Entity().ForEachKeyValue(func(key, value string) {
		out[strings.ToLower(key)] = keyValueEntry{key: key, value: value}
	})
	return out
}

// CompareKeyValues diffs the spawnargs of two entity nodes. Keys are
// compared case-insensitively, values exactly.
func CompareKeyValues(sourceNode, baseNode *scene.Node) []KeyValueDifference {
	var result []KeyValueDifference

	sourceKeyValues := loadKeyValues(sourceNode)
	baseKeyValues := loadKeyValues(baseNode)

	var missingInBase, missingInSource, presentInBoth []string
	for k := range sourceKeyValues {
		if _, ok := baseKeyValues[k]; ok {
			presentInBoth = append(presentInBoth, k)
		} else {
			missingInBase = append(missingInBase, k)
		}
	}
	for k := range baseKeyValues {
		if _, ok := sourceKeyValues[k]; !ok {
			missingInSource = append(missingInSource, k)
		}
	}
	sort.Strings(missingInBase)
	sort.Strings(missingInSource)
	sort.Strings(presentInBoth)

	for _, k := range missingInBase {
		kv := sourceKeyValues[k]
		result = append(result, KeyValueDifference{Key: kv.key, Value: kv.value, Type: KeyValueAdded})
	}

	for _, k := range missingInSource {
		kv := baseKeyValues[k]
		result = append(result, KeyValueDifference{Key: kv.key, Value: kv.value, Type: KeyValueRemoved})
	}

	for _, k := range presentInBoth {
		src := sourceKeyValues[k]
		if src.value == baseKeyValues[k].value {
			continue
		}
		result = append(result, KeyValueDifference{Key: src.key, Value: src.value, Type: KeyValueChanged})
	}

	return result
}

// CompareChildNodes diffs the child primitives of two entity nodes by
// fingerprint. Primitives have no name, so there is no fallback matching.
func CompareChildNodes(sourceNode, baseNode *scene.Node) []PrimitiveDifference {
	var result []PrimitiveDifference

	sourceChildren := CollectPrimitiveFingerprints(sourceNode)
	baseChildren := CollectPrimitiveFingerprints(baseNode)

	for _, fp := range sortedKeys(sourceChildren) {
		if _, ok := baseChildren[fp]; !ok {
			result = append(result, PrimitiveDifference{Fingerprint: fp, Node: sourceChildren[fp], Type: PrimitiveAdded})
		}
	}

	for _, fp := range sortedKeys(baseChildren) {
		if _, ok := sourceChildren[fp]; !ok {
			result = append(result, PrimitiveDifference{Fingerprint: fp, Node: baseChildren[fp], Type: PrimitiveRemoved})
		}
	}

	return result
}

// CollectEntityFingerprints indexes all entities of the tree by fingerprint.
func CollectEntityFingerprints(t *scene.Tree) Fingerprints {
	result := make(Fingerprints)
	for _, n := range t.Entities() {
		storeFingerprint(result, n, t.Name())
	}
	return result
}

// CollectPrimitiveFingerprints indexes the brush and patch children of parent.
func CollectPrimitiveFingerprints(parent *scene.Node) Fingerprints {
	result := make(Fingerprints)
	parent.ForEachChild(func(n *scene.Node) bool {
		if n.IsPrimitive() {
			storeFingerprint(result, n, parent.Name())
		}
		return true
	})
	return result
}

// storeFingerprint records the node; on collision the later node wins.
func storeFingerprint(result Fingerprints, n *scene.Node, parentName string) {
	fp := n.Fingerprint()
	if _, exists := result[fp]; exists {
		log.Warn("More than one node with the same fingerprint found", "parent", parentName, "kind", n.Kind())
	}
	result[fp] = n
}

func sortedKeys(m Fingerprints) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
