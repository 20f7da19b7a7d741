package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"scenemerge/internal/scenetest"
	"scenemerge/mapfile"
	"scenemerge/scene"
)

// TestRootCommand tests that the root command is properly configured
func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "scenemerge" {
		t.Errorf("expected Use 'scenemerge', got %q", rootCmd.Use)
	}
	for _, name := range []string{"compare", "merge", "merge3", "log", "restore"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("missing subcommand %s", name)
			continue
		}
		if cmd.RunE == nil {
			t.Errorf("%s: RunE should not be nil", name)
		}
	}
}

func resetFlags() {
	journalPath, logLevel, outputPath = "", "", ""
	noLayers, noGroups, jsonOutput, applySource, keepBoth, allowFailures = false, false, false, false, false, false
	excludes = nil
	logLimit = 10
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("scenemerge %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}

func saveMap(t *testing.T, dir, name string, tree *scene.Tree) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	if err := mapfile.Save(path, tree); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return path
}

func TestCompare_JSON(t *testing.T) {
	dir := t.TempDir()
	base := scenetest.BaseMap()
	source := base.Clone("source")
	source.FindEntity("light_1").Entity().SetKeyValue("origin", "4 4 4")

	out := execute(t, "compare", "--json", "--journal", "off",
		saveMap(t, dir, "source", source), saveMap(t, dir, "base", base))

	var doc struct {
		Summary struct {
			Modified int `json:"modified"`
		} `json:"summary"`
		Differences []struct {
			Entity string `json:"entity"`
		} `json:"differences"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	if doc.Summary.Modified != 1 || len(doc.Differences) != 1 || doc.Differences[0].Entity != "light_1" {
		t.Errorf("unexpected output %s", out)
	}
}

func TestMerge3_RecordsRun(t *testing.T) {
	dir := t.TempDir()
	journalFile := filepath.Join(dir, "journal.db")

	base := scenetest.BaseMap()
	source := base.Clone("source")
	target := base.Clone("target")
	source.FindEntity("light_1").Entity().SetKeyValue("light_radius", "64 64 64")
	target.FindEntity("light_1").Entity().SetKeyValue("light_radius", "128 128 128")
	scenetest.Entity(source, "classname", "light", "name", "torch_1")

	merged := filepath.Join(dir, "merged.yaml")
	out := execute(t, "merge3", "--journal", journalFile, "--apply-source-on-conflict", "-o", merged,
		saveMap(t, dir, "base", base), saveMap(t, dir, "source", source), saveMap(t, dir, "target", target))

	if !strings.Contains(out, "setting_key_to_different_value light_1") {
		t.Errorf("conflict not listed:\n%s", out)
	}
	if !strings.Contains(out, "Recorded run") {
		t.Errorf("run not recorded:\n%s", out)
	}

	result, err := mapfile.Load(merged)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := result.FindEntity("light_1").Entity().KeyValue("light_radius"); got != "64 64 64" {
		t.Errorf("light_radius = %q", got)
	}
	if result.FindEntity("torch_1") == nil {
		t.Error("torch_1 should have been imported")
	}

	logOut := execute(t, "log", "--journal", journalFile)
	if !strings.Contains(logOut, "merge3") {
		t.Errorf("log should list the run:\n%s", logOut)
	}
}

func TestMerge_TwoWay(t *testing.T) {
	dir := t.TempDir()
	base := scenetest.BaseMap()
	source := base.Clone("source")
	if err := source.Remove(source.FindEntity("info_player_start_1")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	merged := filepath.Join(dir, "out", "merged.yaml")
	execute(t, "merge", "--journal", "off", "-o", merged,
		saveMap(t, dir, "source", source), saveMap(t, dir, "base", base))

	result, err := mapfile.Load(merged)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.FindEntity("info_player_start_1") != nil {
		t.Error("entity should have been removed")
	}
}
