package merge

import (
	"fmt"

	"github.com/charmbracelet/log"

	"scenemerge/diff"
	"scenemerge/groups"
	"scenemerge/layers"
	"scenemerge/scene"
)

// Outcome is what happened to a single action during ApplyActions.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// ActionResult records the outcome of one action.
type ActionResult struct {
	Index   int
	Action  Action
	Outcome Outcome
	Err     error
}

// Report is the structured result of ApplyActions.
type Report struct {
	Results []ActionResult

	GroupChanges []groups.Change
	LayerChanges []layers.Change
	GroupLog     string
	LayerLog     string
	// ReconcileErr is set when the group reconciler could not repair the
	// group ordering.
	ReconcileErr error
}

// Failed returns the results of the actions that could not be applied.
func (r *Report) Failed() []ActionResult {
	var out []ActionResult
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

// Count returns how many actions ended with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// OK reports whether every action either applied or was skipped on purpose.
func (r *Report) OK() bool {
	return r.Count(OutcomeFailed) == 0 && r.ReconcileErr == nil
}

// EntityFilter returns true for entity names whose actions must not be applied.
type EntityFilter func(entityName string) bool

// Operation is an ordered list of actions bringing a target tree in line
// with a source tree. It is applied once.
type Operation struct {
	source *scene.Tree
	target *scene.Tree

	actions []Action
	filter  EntityFilter
	logger  *log.Logger

	// MergeSelectionGroups enables the selection group reconciler.
	MergeSelectionGroups bool
	// MergeLayers enables the layer reconciler.
	MergeLayers bool

	reconcile func(op *Operation, report *Report)
}

func newOperation(source, target *scene.Tree) *Operation {
	return &Operation{
		source:               source,
		target:               target,
		logger:               log.Default(),
		MergeSelectionGroups: true,
		MergeLayers:          true,
		reconcile:            reconcileTwoWay,
	}
}

// CreateFromComparisonResult builds the two-way operation that turns the
// compared base tree into the source tree.
func CreateFromComparisonResult(result *diff.ComparisonResult) (*Operation, error) {
	if result == nil {
		return nil, &diff.NotPossibleError{Message: "No comparison result to create a merge operation from"}
	}

	op := newOperation(result.Source, result.Base)

	for _, d := range result.DifferingEntities {
		if err := op.addActionsForEntityDifference(d); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func (op *Operation) addActionsForEntityDifference(d diff.EntityDifference) error {
	switch d.Type {
	case diff.EntityMissingInSource:
		op.AddAction(NewRemoveEntityAction(d.BaseNode))

	case diff.EntityMissingInBase:
		op.AddAction(NewAddEntityAction(d.SourceNode, op.target))

	case diff.EntityPresentButDifferent:
		for _, kv := range d.DifferingKeyValues {
			a, err := keyValueActionFor(d.BaseNode, kv)
			if err != nil {
				return err
			}
			op.AddAction(a)
		}
		for _, child := range d.DifferingChildren {
			switch child.Type {
			case diff.PrimitiveAdded:
				op.AddAction(NewAddChildAction(child.Node, d.BaseNode))
			case diff.PrimitiveRemoved:
				op.AddAction(NewRemoveChildAction(child.Node))
			default:
				return logicErrorf("unknown primitive difference %q", child.Type)
			}
		}

	default:
		return logicErrorf("unknown entity difference %q for %s", d.Type, d.EntityName)
	}
	return nil
}

func keyValueActionFor(entity *scene.Node, kv diff.KeyValueDifference) (*SetKeyValueAction, error) {
	switch kv.Type {
	case diff.KeyValueAdded:
		return NewAddKeyValueAction(entity, kv.Key, kv.Value), nil
	case diff.KeyValueRemoved:
		return NewRemoveKeyValueAction(entity, kv.Key), nil
	case diff.KeyValueChanged:
		return NewChangeKeyValueAction(entity, kv.Key, kv.Value), nil
	}
	return nil, logicErrorf("unknown key value difference %q for key %s", kv.Type, kv.Key)
}

// Source returns the tree the changes are taken from.
func (op *Operation) Source() *scene.Tree { return op.source }

// Target returns the tree the actions are applied to.
func (op *Operation) Target() *scene.Tree { return op.target }

// SetLogger replaces the logger used for action failures.
func (op *Operation) SetLogger(l *log.Logger) { op.logger = l }

// AddAction appends an action. It is deactivated right away if the entity
// filter excludes it.
func (op *Operation) AddAction(a Action) {
	op.actions = append(op.actions, a)
	op.applyFilter(a)
}

// SetEntityFilter deactivates every action, current or future, whose
// affected entity is excluded by filter.
func (op *Operation) SetEntityFilter(filter EntityFilter) {
	op.filter = filter
	for _, a := range op.actions {
		op.applyFilter(a)
	}
}

func (op *Operation) applyFilter(a Action) {
	if op.filter != nil && op.filter(AffectedEntityName(a)) {
		a.Deactivate()
	}
}

// Actions returns the actions in application order.
func (op *Operation) Actions() []Action {
	return append([]Action(nil), op.actions...)
}

// ForEachAction visits the actions in application order.
func (op *Operation) ForEachAction(fn func(Action)) {
	for _, a := range op.actions {
		fn(a)
	}
}

// Conflicts returns the conflict resolution actions.
func (op *Operation) Conflicts() []*ConflictResolutionAction {
	var out []*ConflictResolutionAction
	for _, a := range op.actions {
		if c, ok := a.(*ConflictResolutionAction); ok {
			out = append(out, c)
		}
	}
	return out
}

// ApplyActions applies the active actions in order. A failing action is
// logged and recorded; the remaining actions still run. The enabled
// reconcilers run afterwards, selection groups first.
func (op *Operation) ApplyActions() *Report {
	report := &Report{Results: make([]ActionResult, 0, len(op.actions))}

	for i, a := range op.actions {
		res := ActionResult{Index: i, Action: a, Outcome: OutcomeApplied}

		switch {
		case !a.IsActive():
			res.Outcome = OutcomeSkipped
		case isPendingConflict(a):
			res.Outcome = OutcomeSkipped
		default:
			if err := a.Apply(); err != nil {
				op.logger.Error("Failed to apply merge action", "index", i, "type", a.Type(),
					"entity", AffectedEntityName(a), "err", err)
				res.Outcome = OutcomeFailed
				res.Err = err
			}
		}
		report.Results = append(report.Results, res)
	}

	op.reconcile(op, report)
	return report
}

func isPendingConflict(a Action) bool {
	c, ok := a.(*ConflictResolutionAction)
	return ok && c.Resolution() != ApplySourceChange
}

func reconcileTwoWay(op *Operation, report *Report) {
	if op.MergeSelectionGroups {
		merger := groups.NewMerger(op.source, op.target)
		if err := merger.AdjustBaseGroups(); err != nil {
			op.logger.Error("Selection group merge failed", "err", err)
			report.ReconcileErr = fmt.Errorf("merging selection groups: %w", err)
		}
		report.GroupChanges = merger.Changes()
		report.GroupLog = merger.LogMessages()
	}

	if op.MergeLayers {
		merger := layers.NewMerger(op.source, op.target)
		merger.AdjustBaseLayers()
		report.LayerChanges = merger.Changes()
		report.LayerLog = merger.LogMessages()
	}
}

// AffectedEntityName returns the name of the entity an action touches:
// the node itself for entity actions, its parent for primitive actions.
// It returns "?" if there is no entity.
func AffectedEntityName(a Action) string {
	var entity *scene.Node

	switch act := a.(type) {
	case *ConflictResolutionAction:
		return AffectedEntityName(act.SourceAction())
	case *AddChildAction:
		entity = act.Parent()
	case *RemoveChildAction:
		entity = act.Parent()
	default:
		entity = a.AffectedNode()
		if entity != nil && entity.Entity() == nil {
			entity = entity.Parent()
		}
	}

	if entity == nil || entity.Entity() == nil {
		return "?"
	}
	return entity.Entity().Name()
}

// AffectedKeyName returns the key a key value action (or a key value
// conflict) targets, or "".
func AffectedKeyName(a Action) string {
	if kv := keyValueActionOf(a); kv != nil {
		return kv.Key()
	}
	return ""
}

// AffectedKeyValue returns the value a key value action (or a key value
// conflict) sets, or "".
func AffectedKeyValue(a Action) string {
	if kv := keyValueActionOf(a); kv != nil {
		return kv.Value()
	}
	return ""
}

func keyValueActionOf(a Action) KeyValueAction {
	if c, ok := a.(*ConflictResolutionAction); ok {
		a = c.SourceAction()
	}
	kv, _ := a.(KeyValueAction)
	return kv
}

// IsTargetingKeyValue reports whether the action edits a single spawnarg,
// directly or as a key value conflict.
func IsTargetingKeyValue(a Action) bool {
	switch a.Type() {
	case ActionAddKeyValue, ActionRemoveKeyValue, ActionChangeKeyValue:
		return true
	}
	c, ok := a.(*ConflictResolutionAction)
	return ok && c.ConflictType().IsKeyValueConflict()
}
