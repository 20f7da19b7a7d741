// Package diff compares two scene trees entity by entity.
package diff

import (
	"errors"

	"scenemerge/scene"
)

// EntityDifferenceType classifies an entity-level difference.
type EntityDifferenceType string

const (
	EntityMissingInSource     EntityDifferenceType = "missing_in_source"
	EntityMissingInBase       EntityDifferenceType = "missing_in_base"
	EntityPresentButDifferent EntityDifferenceType = "present_but_different"
)

// KeyValueDifferenceType classifies a spawnarg difference.
type KeyValueDifferenceType string

const (
	KeyValueAdded   KeyValueDifferenceType = "added"
	KeyValueRemoved KeyValueDifferenceType = "removed"
	KeyValueChanged KeyValueDifferenceType = "changed"
)

// PrimitiveDifferenceType classifies a child primitive difference.
type PrimitiveDifferenceType string

const (
	PrimitiveAdded   PrimitiveDifferenceType = "added"
	PrimitiveRemoved PrimitiveDifferenceType = "removed"
)

// ErrNotPossible is matched by every NotPossibleError.
var ErrNotPossible = errors.New("comparison not possible")

// NotPossibleError reports a failed precondition. The caller is expected to
// abort the merge request.
type NotPossibleError struct {
	Message string
}

func (e *NotPossibleError) Error() string { return e.Message }

func (e *NotPossibleError) Unwrap() error { return ErrNotPossible }

// Match pairs two entities with identical fingerprints.
type Match struct {
	Fingerprint string
	SourceNode  *scene.Node
	BaseNode    *scene.Node
}

// KeyValueDifference is a single spawnarg change. Value holds the source
// value for added and changed keys and the base value for removed keys.
type KeyValueDifference struct {
	Key   string
	Value string
	Type  KeyValueDifferenceType
}

// PrimitiveDifference is a child brush or patch present on one side only.
type PrimitiveDifference struct {
	Fingerprint string
	Node        *scene.Node
	Type        PrimitiveDifferenceType
}

// EntityDifference describes an entity that couldn't be matched by
// fingerprint. One of the nodes is nil unless Type is PresentButDifferent.
type EntityDifference struct {
	SourceNode *scene.Node
	BaseNode   *scene.Node
	// EntityName is the entity name, or "#" + fingerprint for unnamed entities.
	EntityName        string
	SourceFingerprint string
	BaseFingerprint   string
	Type              EntityDifferenceType

	DifferingKeyValues []KeyValueDifference
	DifferingChildren  []PrimitiveDifference
}

// ComparisonResult holds the outcome of comparing a source tree against a base tree.
// It references nodes of both trees; they must stay alive while it is used.
type ComparisonResult struct {
	Source *scene.Tree
	Base   *scene.Tree

	EquivalentEntities []Match
	DifferingEntities  []EntityDifference
}

// Summary provides aggregate statistics.
type Summary struct {
	Matched          int `json:"matched"`
	MissingInSource  int `json:"missingInSource"`
	MissingInBase    int `json:"missingInBase"`
	Modified         int `json:"modified"`
	KeyValueChanges  int `json:"keyValueChanges"`
	PrimitiveChanges int `json:"primitiveChanges"`
}

// Empty reports whether the trees are equivalent.
func (r *ComparisonResult) Empty() bool {
	return len(r.DifferingEntities) == 0
}

// Summary calculates counts over the result.
func (r *ComparisonResult) Summary() Summary {
	s := Summary{Matched: len(r.EquivalentEntities)}
	for _, d := range r.DifferingEntities {
		switch d.Type {
		case EntityMissingInSource:
			s.MissingInSource++
		case EntityMissingInBase:
			s.MissingInBase++
		case EntityPresentButDifferent:
			s.Modified++
		}
		s.KeyValueChanges += len(d.DifferingKeyValues)
		s.PrimitiveChanges += len(d.DifferingChildren)
	}
	return s
}

// FindEntityDifference returns the difference recorded for the named entity, or nil.
func (r *ComparisonResult) FindEntityDifference(name string) *EntityDifference {
	for i := range r.DifferingEntities {
		if r.DifferingEntities[i].EntityName == name {
			return &r.DifferingEntities[i]
		}
	}
	return nil
}
