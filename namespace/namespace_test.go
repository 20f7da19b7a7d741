package namespace

import (
	"testing"

	"scenemerge/internal/scenetest"
	"scenemerge/scene"
)

func TestNextFreeName(t *testing.T) {
	tests := []struct {
		name  string
		taken []string
		want  string
	}{
		{"door", nil, "door_1"},
		{"door_3", nil, "door_4"},
		{"door_3", []string{"door_4"}, "door_5"},
		{"door_", nil, "door__1"},
		{"light_1a", nil, "light_1a_1"},
	}

	for _, tt := range tests {
		taken := make(map[string]bool)
		for _, n := range tt.taken {
			taken[n] = true
		}
		if got := NextFreeName(tt.name, taken); got != tt.want {
			t.Errorf("NextFreeName(%q, %v) = %q, want %q", tt.name, tt.taken, got, tt.want)
		}
	}
}

func TestEnsureNoConflicts_RenamesClashes(t *testing.T) {
	target := scenetest.BaseMap()
	source := scene.New("source")
	scenetest.Entity(source, "classname", "worldspawn")
	light := scenetest.Entity(source, "classname", "light", "name", "light_1")
	trigger := scenetest.Entity(source, "classname", "trigger_once", "name", "trigger_1", "target", "light_1")
	fresh := scenetest.Entity(source, "classname", "info_null", "name", "unique_1")

	New(target).EnsureNoConflicts(source, []*scene.Node{light, trigger, fresh})

	if got := light.Entity().Name(); got != "light_2" {
		t.Errorf("expected light_2, got %q", got)
	}
	if got := trigger.Entity().KeyValue("target"); got != "light_2" {
		t.Errorf("reference should follow the rename, got %q", got)
	}
	if got := trigger.Entity().Name(); got != "trigger_1" {
		t.Errorf("non-clashing name should be kept, got %q", got)
	}
	if got := fresh.Entity().Name(); got != "unique_1" {
		t.Errorf("non-clashing name should be kept, got %q", got)
	}
}

func TestEnsureNoConflicts_AvoidsOtherSourceNames(t *testing.T) {
	target := scene.New("target")
	scenetest.Entity(target, "classname", "light", "name", "lamp")

	source := scene.New("source")
	lamp := scenetest.Entity(source, "classname", "light", "name", "lamp")
	scenetest.Entity(source, "classname", "light", "name", "lamp_1")

	New(target).EnsureNoConflicts(source, []*scene.Node{lamp})

	if got := lamp.Entity().Name(); got != "lamp_2" {
		t.Errorf("expected lamp_2, got %q", got)
	}
}

func TestEnsureNoConflicts_KeepsWorldspawn(t *testing.T) {
	target := scenetest.BaseMap()
	source := scene.New("source")
	world := scenetest.Entity(source, "classname", "worldspawn")

	New(target).EnsureNoConflicts(source, []*scene.Node{world})

	if world.Entity().HasKey("name") {
		t.Error("worldspawn must not be renamed")
	}
}

func TestEnsureNoConflicts_RewritesReferencesInSource(t *testing.T) {
	target := scenetest.BaseMap()
	torch := scenetest.Entity(target, "classname", "light", "name", "torch")
	targetTrigger := scenetest.Entity(target, "classname", "trigger_once", "name", "trigger_2", "target", "torch")

	source := scene.New("source")
	scenetest.Entity(source, "classname", "worldspawn")
	sourceTorch := scenetest.Entity(source, "classname", "light", "name", "torch")
	trigger := scenetest.Entity(source, "classname", "trigger_once", "name", "trigger_1", "target", "torch")

	New(target).EnsureNoConflicts(source, []*scene.Node{sourceTorch})

	if got := sourceTorch.Entity().Name(); got != "torch_1" {
		t.Fatalf("expected torch_1, got %q", got)
	}
	if got := trigger.Entity().KeyValue("target"); got != "torch_1" {
		t.Errorf("source reference should follow the rename, got %q", got)
	}
	if got := targetTrigger.Entity().KeyValue("target"); got != "torch" {
		t.Errorf("target references must not change, got %q", got)
	}
	if got := torch.Entity().Name(); got != "torch" {
		t.Errorf("target entity must not be renamed, got %q", got)
	}
}

func TestEnsureNoConflicts_DetachedCloneLeavesTreeAlone(t *testing.T) {
	target := scenetest.BaseMap()
	trigger := scenetest.Entity(target, "classname", "trigger_once", "name", "trigger_1", "target", "light_1")
	clone := target.FindEntity("light_1").CloneInto(target)

	New(target).EnsureNoConflicts(target, []*scene.Node{clone})

	if got := clone.Entity().Name(); got != "light_2" {
		t.Fatalf("expected light_2, got %q", got)
	}
	if got := trigger.Entity().KeyValue("target"); got != "light_1" {
		t.Errorf("references to the original entity must stay, got %q", got)
	}
}
