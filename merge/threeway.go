package merge

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"scenemerge/diff"
	"scenemerge/groups"
	"scenemerge/layers"
	"scenemerge/namespace"
	"scenemerge/scene"
)

// Namespace renames entities about to be imported so their names don't
// collide with the target's.
type Namespace interface {
	EnsureNoConflicts(source *scene.Tree, nodes []*scene.Node)
}

// ThreeWayOperation merges the changes made in source (relative to base)
// into target, which diverged from base independently. Conflicting
// changes are recorded as ConflictResolutionActions and never applied
// unless resolved.
type ThreeWayOperation struct {
	*Operation
	base      *scene.Tree
	namespace Namespace

	sourceDifferences *diff.ComparisonResult
	targetDifferences *diff.ComparisonResult

	targetEntities diff.Fingerprints
}

// ThreeWayOption configures CreateThreeWay.
type ThreeWayOption func(*ThreeWayOperation)

// WithNamespace replaces the default namespace of the target tree.
func WithNamespace(ns Namespace) ThreeWayOption {
	return func(op *ThreeWayOperation) { op.namespace = ns }
}

// WithLogger sets the logger for diagnostics and action failures.
func WithLogger(l *log.Logger) ThreeWayOption {
	return func(op *ThreeWayOperation) { op.logger = l }
}

// CreateThreeWay compares base against source and target and collects the
// actions importing source's changes into target.
func CreateThreeWay(base, source, target *scene.Tree, opts ...ThreeWayOption) (*ThreeWayOperation, error) {
	op := &ThreeWayOperation{
		Operation: newOperation(source, target),
		base:      base,
	}
	op.reconcile = op.reconcileThreeWay
	op.namespace = namespace.New(target)
	for _, opt := range opts {
		opt(op)
	}

	var err error
	if op.sourceDifferences, err = diff.Compare(source, base); err != nil {
		return nil, fmt.Errorf("comparing source to base: %w", err)
	}
	if op.targetDifferences, err = diff.Compare(target, base); err != nil {
		return nil, fmt.Errorf("comparing target to base: %w", err)
	}

	if op.avoidNameConflicts() {
		// Renamed entities have new fingerprints
		if op.sourceDifferences, err = diff.Compare(source, base); err != nil {
			return nil, fmt.Errorf("comparing renamed source to base: %w", err)
		}
	}

	op.targetEntities = diff.CollectEntityFingerprints(target)

	targetByName := indexByName(op.targetDifferences)
	for i := range op.sourceDifferences.DifferingEntities {
		sourceDiff := &op.sourceDifferences.DifferingEntities[i]

		targetDiff, ok := targetByName[sourceDiff.EntityName]
		if !ok {
			op.addActionsForSourceDifference(sourceDiff)
			continue
		}
		if err := op.processConflictingDifference(sourceDiff, targetDiff); err != nil {
			return nil, err
		}
	}

	return op, nil
}

// Base returns the common ancestor tree.
func (op *ThreeWayOperation) Base() *scene.Tree { return op.base }

func indexByName(result *diff.ComparisonResult) map[string]*diff.EntityDifference {
	out := make(map[string]*diff.EntityDifference, len(result.DifferingEntities))
	for i := range result.DifferingEntities {
		d := &result.DifferingEntities[i]
		out[d.EntityName] = d
	}
	return out
}

// avoidNameConflicts renames source entities added under a name the target
// used for a different entity of its own. It returns whether anything was
// passed to the namespace.
func (op *ThreeWayOperation) avoidNameConflicts() bool {
	targetByName := indexByName(op.targetDifferences)

	var conflicting []*scene.Node
	for _, sourceDiff := range op.sourceDifferences.DifferingEntities {
		if sourceDiff.Type != diff.EntityMissingInBase {
			continue
		}
		targetDiff, ok := targetByName[sourceDiff.EntityName]
		if !ok || targetDiff.Type != diff.EntityMissingInBase {
			continue
		}
		if sourceDiff.SourceFingerprint == targetDiff.SourceFingerprint {
			continue
		}
		op.logger.Info("Entity added in both maps, renaming the source entity", "name", sourceDiff.EntityName)
		conflicting = append(conflicting, sourceDiff.SourceNode)
	}

	if len(conflicting) == 0 {
		return false
	}
	op.namespace.EnsureNoConflicts(op.source, conflicting)
	return true
}

// findTargetEntity resolves the target counterpart of an entity the target
// didn't touch: it still has the base fingerprint.
func (op *ThreeWayOperation) findTargetEntity(d *diff.EntityDifference) *scene.Node {
	if n, ok := op.targetEntities[d.BaseFingerprint]; ok && n.InScene() {
		return n
	}
	if !strings.HasPrefix(d.EntityName, "#") {
		return op.target.FindEntity(d.EntityName)
	}
	return nil
}

// addActionsForSourceDifference imports a change the target didn't touch.
func (op *ThreeWayOperation) addActionsForSourceDifference(d *diff.EntityDifference) {
	switch d.Type {
	case diff.EntityMissingInBase:
		op.AddAction(NewAddEntityAction(d.SourceNode, op.target))

	case diff.EntityMissingInSource:
		targetEntity := op.findTargetEntity(d)
		if targetEntity == nil {
			op.logger.Warn("Could not find the entity removed in source in the target map", "name", d.EntityName)
			return
		}
		op.AddAction(NewRemoveEntityAction(targetEntity))

	case diff.EntityPresentButDifferent:
		targetEntity := op.findTargetEntity(d)
		if targetEntity == nil {
			op.logger.Warn("Could not find the entity modified in source in the target map", "name", d.EntityName)
			return
		}

		for _, kv := range d.DifferingKeyValues {
			a, err := keyValueActionFor(targetEntity, kv)
			if err != nil {
				op.logger.Warn("Skipping key value change", "name", d.EntityName, "err", err)
				continue
			}
			op.AddAction(a)
		}

		targetChildren := diff.CollectPrimitiveFingerprints(targetEntity)
		op.addPrimitiveActions(d, targetEntity, targetChildren)
	}
}

func (op *ThreeWayOperation) addPrimitiveActions(d *diff.EntityDifference, targetEntity *scene.Node, targetChildren diff.Fingerprints) {
	for _, child := range d.DifferingChildren {
		switch child.Type {
		case diff.PrimitiveAdded:
			if _, exists := targetChildren[child.Fingerprint]; exists {
				op.logger.Debug("Primitive added in source is already present in target", "entity", d.EntityName)
				continue
			}
			op.AddAction(NewAddChildAction(child.Node, targetEntity))

		case diff.PrimitiveRemoved:
			targetChild, exists := targetChildren[child.Fingerprint]
			if !exists {
				op.logger.Debug("Primitive removed in source is already gone in target", "entity", d.EntityName)
				continue
			}
			op.AddAction(NewRemoveChildAction(targetChild))
		}
	}
}

// processConflictingDifference handles an entity changed on both sides.
func (op *ThreeWayOperation) processConflictingDifference(sourceDiff, targetDiff *diff.EntityDifference) error {
	switch targetDiff.Type {
	case diff.EntityMissingInSource: // removed in target
		switch sourceDiff.Type {
		case diff.EntityMissingInSource:
			return nil // removed on both sides
		case diff.EntityPresentButDifferent:
			op.AddAction(NewConflictResolutionAction(
				ConflictModificationOfRemovedEntity,
				sourceDiff.SourceNode,
				nil,
				NewAddEntityAction(sourceDiff.SourceNode, op.target),
				nil,
			))
			return nil
		}

	case diff.EntityPresentButDifferent: // modified in target
		switch sourceDiff.Type {
		case diff.EntityMissingInSource:
			op.AddAction(NewConflictResolutionAction(
				ConflictRemovalOfModifiedEntity,
				nil,
				targetDiff.SourceNode,
				NewRemoveEntityAction(targetDiff.SourceNode),
				nil,
			))
			return nil
		case diff.EntityPresentButDifferent:
			return op.reconcileEntityChanges(sourceDiff, targetDiff)
		}

	case diff.EntityMissingInBase: // added in target
		if sourceDiff.Type == diff.EntityMissingInBase {
			if sourceDiff.SourceFingerprint == targetDiff.SourceFingerprint {
				return nil // added on both sides, identical
			}
			op.AddAction(NewAddEntityAction(sourceDiff.SourceNode, op.target))
			return nil
		}
	}

	return logicErrorf("entity %s: source change %q cannot follow target change %q",
		sourceDiff.EntityName, sourceDiff.Type, targetDiff.Type)
}

// reconcileEntityChanges merges an entity both sides modified, field by field.
func (op *ThreeWayOperation) reconcileEntityChanges(sourceDiff, targetDiff *diff.EntityDifference) error {
	targetEntity := targetDiff.SourceNode

	// The target may already contain or lack some of the primitives
	targetChildren := diff.CollectPrimitiveFingerprints(targetEntity)
	op.addPrimitiveActions(sourceDiff, targetEntity, targetChildren)

	targetKeyChanges := make(map[string]diff.KeyValueDifference, len(targetDiff.DifferingKeyValues))
	for _, kv := range targetDiff.DifferingKeyValues {
		targetKeyChanges[strings.ToLower(kv.Key)] = kv
	}

	for _, sourceKV := range sourceDiff.DifferingKeyValues {
		sourceAction, err := keyValueActionFor(targetEntity, sourceKV)
		if err != nil {
			return err
		}

		targetKV, ok := targetKeyChanges[strings.ToLower(sourceKV.Key)]
		if !ok {
			op.AddAction(sourceAction)
			continue
		}

		if sourceKV.Type == targetKV.Type && sourceKV.Value == targetKV.Value {
			continue // same change on both sides
		}

		conflictType, err := keyValueConflictType(sourceKV, targetKV)
		if err != nil {
			return fmt.Errorf("entity %s: %w", sourceDiff.EntityName, err)
		}
		if conflictType == "" {
			continue
		}

		targetAction, err := keyValueActionFor(targetEntity, targetKV)
		if err != nil {
			return err
		}

		op.AddAction(NewConflictResolutionAction(
			conflictType,
			sourceDiff.SourceNode,
			targetEntity,
			sourceAction,
			targetAction,
		))
	}

	return nil
}

// keyValueConflictType classifies two changes to the same key. An empty
// type means there is nothing to merge. Combinations that can't arise from
// a shared base are logic errors.
func keyValueConflictType(source, target diff.KeyValueDifference) (ConflictType, error) {
	switch target.Type {
	case diff.KeyValueAdded:
		if source.Type == diff.KeyValueAdded {
			return ConflictSettingKeyToDifferentValue, nil
		}

	case diff.KeyValueRemoved:
		switch source.Type {
		case diff.KeyValueRemoved:
			return "", nil
		case diff.KeyValueChanged:
			return ConflictModificationOfRemovedKeyValue, nil
		}

	case diff.KeyValueChanged:
		switch source.Type {
		case diff.KeyValueRemoved:
			return ConflictRemovalOfModifiedKeyValue, nil
		case diff.KeyValueChanged:
			return ConflictSettingKeyToDifferentValue, nil
		}
	}

	return "", logicErrorf("key %s: source change %q cannot follow target change %q",
		source.Key, source.Type, target.Type)
}

func (op *ThreeWayOperation) reconcileThreeWay(_ *Operation, report *Report) {
	if op.MergeSelectionGroups {
		merger := groups.NewThreeWayMerger(op.base, op.source, op.target)
		if err := merger.AdjustTargetGroups(); err != nil {
			op.logger.Error("Selection group merge failed", "err", err)
			report.ReconcileErr = fmt.Errorf("merging selection groups: %w", err)
		}
		report.GroupChanges = merger.Changes()
		report.GroupLog = merger.LogMessages()
	}

	if op.MergeLayers {
		merger := layers.NewThreeWayMerger(op.base, op.source, op.target)
		merger.AdjustTargetLayers()
		report.LayerChanges = merger.Changes()
		report.LayerLog = merger.LogMessages()
	}
}

// SourceDifferences returns the comparison of source against base.
func (op *ThreeWayOperation) SourceDifferences() *diff.ComparisonResult { return op.sourceDifferences }

// TargetDifferences returns the comparison of target against base.
func (op *ThreeWayOperation) TargetDifferences() *diff.ComparisonResult { return op.targetDifferences }

// ResolveByKeepingBothEntities settles an entity conflict by leaving the
// target entity as it is and importing the source entity next to it under
// a free name. All key value actions on the target entity are dropped.
func (op *ThreeWayOperation) ResolveByKeepingBothEntities(conflict *ConflictResolutionAction) (*AddEntityAction, error) {
	sourceEntity, targetEntity := conflict.SourceEntity(), conflict.TargetEntity()
	if sourceEntity == nil || targetEntity == nil {
		return nil, fmt.Errorf("conflict %s needs both a source and a target entity", conflict.ConflictType())
	}

	for _, a := range op.actions {
		if a.AffectedNode() != targetEntity || !IsTargetingKeyValue(a) {
			continue
		}
		if c, ok := a.(*ConflictResolutionAction); ok {
			c.SetResolution(RejectSourceChange)
		}
		a.Deactivate()
	}

	add := NewAddEntityAction(sourceEntity, op.target)
	op.namespace.EnsureNoConflicts(op.target, []*scene.Node{add.AffectedNode()})
	op.AddAction(add)
	return add, nil
}
