// Package merge turns scene comparisons into applicable edit actions, for
// both two-way and three-way merges.
package merge

import (
	"errors"
	"fmt"

	"scenemerge/scene"
)

// ActionType identifies a merge action variant.
type ActionType string

const (
	ActionAddEntity          ActionType = "add_entity"
	ActionRemoveEntity       ActionType = "remove_entity"
	ActionAddChild           ActionType = "add_child"
	ActionRemoveChild        ActionType = "remove_child"
	ActionAddKeyValue        ActionType = "add_key_value"
	ActionRemoveKeyValue     ActionType = "remove_key_value"
	ActionChangeKeyValue     ActionType = "change_key_value"
	ActionConflictResolution ActionType = "conflict_resolution"
)

var (
	// ErrAlreadyApplied is returned when an action is applied a second time.
	ErrAlreadyApplied = errors.New("merge action already applied")
	// ErrLogic marks mutually inconsistent comparison results.
	ErrLogic = errors.New("merge logic error")
)

// LogicError reports a broken invariant between the comparisons feeding a
// merge. It indicates a bug or an unsupported input shape.
type LogicError struct {
	Message string
}

func (e *LogicError) Error() string { return "merge logic error: " + e.Message }

func (e *LogicError) Unwrap() error { return ErrLogic }

func logicErrorf(format string, args ...any) error {
	return &LogicError{Message: fmt.Sprintf(format, args...)}
}

// Action is a single edit to a target tree. An action applies at most once.
type Action interface {
	Type() ActionType
	// AffectedNode returns the node in the target tree this action changes.
	// For additions that is the clone that will be inserted.
	AffectedNode() *scene.Node
	Apply() error

	Activate()
	Deactivate()
	IsActive() bool
}

// KeyValueAction is implemented by the actions editing a spawnarg.
type KeyValueAction interface {
	Action
	Key() string
	// Value returns the value to set; it is empty for removals.
	Value() string
}

type actionBase struct {
	actionType ActionType
	inactive   bool
	applied    bool
}

func (a *actionBase) Type() ActionType { return a.actionType }
func (a *actionBase) Activate()        { a.inactive = false }
func (a *actionBase) Deactivate()      { a.inactive = true }
func (a *actionBase) IsActive() bool   { return !a.inactive }

func (a *actionBase) markApplied() error {
	if a.applied {
		return ErrAlreadyApplied
	}
	a.applied = true
	return nil
}

// AddEntityAction inserts a copy of a source entity below the target root.
type AddEntityAction struct {
	actionBase
	sourceNode *scene.Node
	target     *scene.Tree
	clone      *scene.Node
}

// NewAddEntityAction clones the source entity into the target arena right
// away; the clone stays detached until the action is applied.
func NewAddEntityAction(sourceEntity *scene.Node, target *scene.Tree) *AddEntityAction {
	return &AddEntityAction{
		actionBase: actionBase{actionType: ActionAddEntity},
		sourceNode: sourceEntity,
		target:     target,
		clone:      sourceEntity.CloneInto(target),
	}
}

// SourceNode returns the entity the clone was taken from.
func (a *AddEntityAction) SourceNode() *scene.Node { return a.sourceNode }

func (a *AddEntityAction) AffectedNode() *scene.Node { return a.clone }

func (a *AddEntityAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if a.clone == nil || a.clone.Kind() != scene.KindEntity {
		return fmt.Errorf("adding entity: %w", scene.ErrWrongKind)
	}
	if err := a.target.AddChild(a.target.Root(), a.clone); err != nil {
		return fmt.Errorf("adding entity %s: %w", a.clone, err)
	}
	return nil
}

// RemoveEntityAction detaches an entity from its tree.
type RemoveEntityAction struct {
	actionBase
	node *scene.Node
}

func NewRemoveEntityAction(entity *scene.Node) *RemoveEntityAction {
	return &RemoveEntityAction{actionBase: actionBase{actionType: ActionRemoveEntity}, node: entity}
}

func (a *RemoveEntityAction) AffectedNode() *scene.Node { return a.node }

func (a *RemoveEntityAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if a.node.Kind() != scene.KindEntity {
		return fmt.Errorf("removing entity %s: %w", a.node, scene.ErrWrongKind)
	}
	return a.node.Tree().Remove(a.node)
}

// AddChildAction inserts a copy of a source primitive below a target entity.
type AddChildAction struct {
	actionBase
	sourceNode *scene.Node
	parent     *scene.Node
	clone      *scene.Node
}

func NewAddChildAction(sourcePrimitive, targetParent *scene.Node) *AddChildAction {
	return &AddChildAction{
		actionBase: actionBase{actionType: ActionAddChild},
		sourceNode: sourcePrimitive,
		parent:     targetParent,
		clone:      sourcePrimitive.CloneInto(targetParent.Tree()),
	}
}

// SourceNode returns the primitive the clone was taken from.
func (a *AddChildAction) SourceNode() *scene.Node { return a.sourceNode }

// Parent returns the target entity receiving the primitive.
func (a *AddChildAction) Parent() *scene.Node { return a.parent }

func (a *AddChildAction) AffectedNode() *scene.Node { return a.clone }

func (a *AddChildAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if a.clone == nil {
		return fmt.Errorf("adding child: %w", scene.ErrWrongKind)
	}
	if err := a.parent.Tree().AddChild(a.parent, a.clone); err != nil {
		return fmt.Errorf("adding child %s: %w", a.clone, err)
	}
	return nil
}

// RemoveChildAction detaches a primitive from its parent entity.
type RemoveChildAction struct {
	actionBase
	node   *scene.Node
	parent *scene.Node
}

func NewRemoveChildAction(primitive *scene.Node) *RemoveChildAction {
	return &RemoveChildAction{
		actionBase: actionBase{actionType: ActionRemoveChild},
		node:       primitive,
		parent:     primitive.Parent(),
	}
}

// Parent returns the entity the primitive belonged to when the action was created.
func (a *RemoveChildAction) Parent() *scene.Node { return a.parent }

func (a *RemoveChildAction) AffectedNode() *scene.Node { return a.node }

func (a *RemoveChildAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if !a.node.IsPrimitive() {
		return fmt.Errorf("removing child %s: %w", a.node, scene.ErrWrongKind)
	}
	return a.node.Tree().Remove(a.node)
}

// SetKeyValueAction covers the add, remove and change spawnarg actions.
type SetKeyValueAction struct {
	actionBase
	node  *scene.Node
	key   string
	value string
}

func newKeyValueAction(t ActionType, entity *scene.Node, key, value string) *SetKeyValueAction {
	return &SetKeyValueAction{actionBase: actionBase{actionType: t}, node: entity, key: key, value: value}
}

func NewAddKeyValueAction(entity *scene.Node, key, value string) *SetKeyValueAction {
	return newKeyValueAction(ActionAddKeyValue, entity, key, value)
}

func NewRemoveKeyValueAction(entity *scene.Node, key string) *SetKeyValueAction {
	return newKeyValueAction(ActionRemoveKeyValue, entity, key, "")
}

func NewChangeKeyValueAction(entity *scene.Node, key, value string) *SetKeyValueAction {
	return newKeyValueAction(ActionChangeKeyValue, entity, key, value)
}

func (a *SetKeyValueAction) AffectedNode() *scene.Node { return a.node }
func (a *SetKeyValueAction) Key() string               { return a.key }
func (a *SetKeyValueAction) Value() string             { return a.value }

func (a *SetKeyValueAction) Apply() error {
	if err := a.markApplied(); err != nil {
		return err
	}
	if a.node.Entity() == nil {
		return fmt.Errorf("setting %q on %s: %w", a.key, a.node, scene.ErrWrongKind)
	}
	if !a.node.InScene() {
		return fmt.Errorf("setting %q on %s: %w", a.key, a.node, scene.ErrNotInScene)
	}
	a.node.Entity().SetKeyValue(a.key, a.value)
	return nil
}
