package scene

import (
	"sort"
	"strings"

	"scenemerge/cas"
)

// Comparable reports whether the node carries a content fingerprint.
// Root nodes are not comparable.
func (n *Node) Comparable() bool {
	return n.kind != KindRoot
}

// Fingerprint returns the content-derived identity of the node. Fingerprints
// are only meaningful between nodes of the same kind.
func (n *Node) Fingerprint() string {
	switch n.kind {
	case KindEntity:
		return n.entityFingerprint()
	case KindBrush:
		return brushFingerprint(n.brush)
	case KindPatch:
		return patchFingerprint(n.patch)
	default:
		return ""
	}
}

func (n *Node) entityFingerprint() string {
	// Keys and values are compared lower case, independent of their order
	pairs := make([][2]string, 0, len(n.entity.keyValues))
	for _, kv := range n.entity.keyValues {
		pairs = append(pairs, [2]string{strings.ToLower(kv.Key), strings.ToLower(kv.Value)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })

	h := cas.NewHasher()
	for _, p := range pairs {
		h.AddString(p[0])
		h.AddString(p[1])
	}

	// Child order doesn't matter, duplicates collapse
	childSet := make(map[string]struct{})
	for _, id := range n.children {
		child := n.tree.nodes[id]
		if child.Comparable() {
			childSet[child.Fingerprint()] = struct{}{}
		}
	}
	children := make([]string, 0, len(childSet))
	for fp := range childSet {
		children = append(children, fp)
	}
	sort.Strings(children)
	for _, fp := range children {
		h.AddString(fp)
	}

	return h.Sum()
}

func brushFingerprint(b *Brush) string {
	const digits = cas.SignificantFingerprintDoubleDigits

	if len(b.Faces) == 0 {
		return ""
	}

	h := cas.NewHasher()
	detail := uint64(1)
	if b.Detail {
		detail = 2
	}
	h.AddSize(detail)
	h.AddSize(uint64(len(b.Faces)))

	for _, f := range b.Faces {
		h.AddVector3(f.Plane.Normal, digits)
		h.AddDouble(f.Plane.Dist, digits)
		h.AddString(f.Material)
		for _, v := range f.Projection {
			h.AddDouble(v, digits)
		}
	}

	return h.Sum()
}

func patchFingerprint(p *Patch) string {
	const digits = cas.SignificantFingerprintDoubleDigits

	if p.Width*p.Height == 0 {
		return ""
	}

	h := cas.NewHasher()
	h.AddSize(uint64(p.Height))
	h.AddSize(uint64(p.Width))

	if p.Subdivisions != nil {
		h.AddSize(uint64(p.Subdivisions[0]))
		h.AddSize(uint64(p.Subdivisions[1]))
	}

	h.AddString(p.Material)

	for _, c := range p.Controls {
		h.AddVector3(c.Vertex, digits)
		h.AddDouble(c.TexCoord[0], digits)
		h.AddDouble(c.TexCoord[1], digits)
	}

	return h.Sum()
}
