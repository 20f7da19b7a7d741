package merge

import (
	"scenemerge/scene"
)

// ConflictType classifies a three-way conflict.
type ConflictType string

const (
	// Source modified an entity the target removed.
	ConflictModificationOfRemovedEntity ConflictType = "modification_of_removed_entity"
	// Source removed an entity the target modified.
	ConflictRemovalOfModifiedEntity ConflictType = "removal_of_modified_entity"
	// Source changed a key the target removed.
	ConflictModificationOfRemovedKeyValue ConflictType = "modification_of_removed_key_value"
	// Source removed a key the target changed.
	ConflictRemovalOfModifiedKeyValue ConflictType = "removal_of_modified_key_value"
	// Both sides set the same key to different values.
	ConflictSettingKeyToDifferentValue ConflictType = "setting_key_to_different_value"
)

// IsKeyValueConflict reports whether the conflict is about a single spawnarg.
func (c ConflictType) IsKeyValueConflict() bool {
	switch c {
	case ConflictModificationOfRemovedKeyValue, ConflictRemovalOfModifiedKeyValue, ConflictSettingKeyToDifferentValue:
		return true
	}
	return false
}

// ResolutionType is the user's decision on a conflict.
type ResolutionType string

const (
	Unresolved         ResolutionType = "unresolved"
	ApplySourceChange  ResolutionType = "apply_source_change"
	RejectSourceChange ResolutionType = "reject_source_change"
)

// ConflictResolutionAction records two competing changes. Applying it
// performs the source change only if it was resolved with ApplySourceChange.
type ConflictResolutionAction struct {
	actionBase
	conflictType ConflictType
	sourceEntity *scene.Node
	targetEntity *scene.Node
	sourceAction Action
	targetAction Action
	resolution   ResolutionType
}

// NewConflictResolutionAction wraps sourceAction. targetAction describes the
// change already present in the target and is never applied; it may be nil.
// Either entity is nil when that side removed it.
func NewConflictResolutionAction(conflictType ConflictType, sourceEntity, targetEntity *scene.Node, sourceAction, targetAction Action) *ConflictResolutionAction {
	return &ConflictResolutionAction{
		actionBase:   actionBase{actionType: ActionConflictResolution},
		conflictType: conflictType,
		sourceEntity: sourceEntity,
		targetEntity: targetEntity,
		sourceAction: sourceAction,
		targetAction: targetAction,
		resolution:   Unresolved,
	}
}

func (a *ConflictResolutionAction) ConflictType() ConflictType { return a.conflictType }
func (a *ConflictResolutionAction) SourceEntity() *scene.Node  { return a.sourceEntity }
func (a *ConflictResolutionAction) TargetEntity() *scene.Node  { return a.targetEntity }
func (a *ConflictResolutionAction) SourceAction() Action       { return a.sourceAction }
func (a *ConflictResolutionAction) TargetAction() Action       { return a.targetAction }
func (a *ConflictResolutionAction) Resolution() ResolutionType { return a.resolution }

func (a *ConflictResolutionAction) SetResolution(r ResolutionType) { a.resolution = r }

func (a *ConflictResolutionAction) AffectedNode() *scene.Node {
	return a.sourceAction.AffectedNode()
}

func (a *ConflictResolutionAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if a.resolution != ApplySourceChange {
		return nil
	}
	return a.sourceAction.Apply()
}
