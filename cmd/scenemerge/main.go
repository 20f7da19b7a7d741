// Package main provides the scenemerge CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"scenemerge/config"
	"scenemerge/diff"
	"scenemerge/journal"
	"scenemerge/mapfile"
	"scenemerge/merge"
	"scenemerge/scene"
)

// Version is the current scenemerge version
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:     "scenemerge",
	Short:   "scenemerge - two-way and three-way merges of map scene graphs",
	Long:    `scenemerge compares map files entity by entity and merges the differences, reconciling layers and selection groups along the way.`,
	Version: Version,

	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var compareCmd = &cobra.Command{
	Use:   "compare <source> <base>",
	Short: "List the entity differences between two maps",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <base>",
	Short: "Bring base in line with source",
	Long: `Apply every difference between source and base to base and write the result.

Examples:
  scenemerge merge edited.yaml original.yaml -o merged.yaml
  scenemerge merge edited.yaml original.yaml -o merged.yaml --exclude 'func_static_*'`,
	Args: cobra.ExactArgs(2),
	RunE: runMerge,
}

var merge3Cmd = &cobra.Command{
	Use:   "merge3 <base> <source> <target>",
	Short: "Merge the changes source made to base into target",
	Long: `Three-way merge. Changes made in source relative to base are applied to
target. Changes that contradict what target did are reported as conflicts
and left out unless --apply-source-on-conflict or --keep-both is given.`,
	Args: cobra.ExactArgs(3),
	RunE: runMerge3,
}

var logCmd = &cobra.Command{
	Use:   "log [run-id]",
	Short: "Show recorded merge runs, or the actions of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLog,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <digest>",
	Short: "Write a map snapshot from the journal to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var (
	configPath  string
	journalPath string
	logLevel    string
	noLayers    bool
	noGroups    bool
	excludes    []string

	outputPath    string
	jsonOutput    bool
	applySource   bool
	keepBoth      bool
	logLimit      int
	allowFailures bool

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Journal database (default from config, \"off\" to disable)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noLayers, "no-layers", false, "Don't reconcile layers")
	rootCmd.PersistentFlags().BoolVar(&noGroups, "no-groups", false, "Don't reconcile selection groups")
	rootCmd.PersistentFlags().StringSliceVar(&excludes, "exclude", nil, "Entity name patterns to leave untouched (repeatable)")

	compareCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	mergeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the merged map")
	mergeCmd.Flags().BoolVar(&allowFailures, "allow-failures", false, "Write the result even if some actions failed")
	_ = mergeCmd.MarkFlagRequired("output")

	merge3Cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the merged map")
	merge3Cmd.Flags().BoolVar(&applySource, "apply-source-on-conflict", false, "Resolve all conflicts in favour of source")
	merge3Cmd.Flags().BoolVar(&keepBoth, "keep-both", false, "Resolve key value conflicts by importing the source entity next to the target one")
	merge3Cmd.Flags().BoolVar(&allowFailures, "allow-failures", false, "Write the result even if some actions failed")
	merge3Cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	_ = merge3Cmd.MarkFlagRequired("output")
	merge3Cmd.MarkFlagsMutuallyExclusive("apply-source-on-conflict", "keep-both")

	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 10, "Number of runs to show")

	restoreCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Where to write the map")
	_ = restoreCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(compareCmd, mergeCmd, merge3Cmd, logCmd, restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and applies the command line overrides.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadOrDefault(configPath)
	}
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if journalPath != "" {
		cfg.Journal.Path = journalPath
	}
	if noLayers {
		cfg.Merge.Layers = false
	}
	if noGroups {
		cfg.Merge.SelectionGroups = false
	}
	cfg.Merge.Exclude = append(cfg.Merge.Exclude, excludes...)

	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())
	return nil
}

func openJournal() (*journal.DB, error) {
	if cfg.Journal.Path == "" || cfg.Journal.Path == "off" {
		return nil, nil
	}
	return journal.Open(cfg.Journal.Path)
}

// record stores the run and the given maps. Journal problems are reported
// but never fail a merge that already succeeded.
func record(ctx context.Context, run journal.Run, base, source, target, result *scene.Tree) string {
	db, err := openJournal()
	if err != nil {
		log.Warn("Could not open the journal", "path", cfg.Journal.Path, "err", err)
		return ""
	}
	if db == nil {
		return ""
	}
	defer db.Close()

	put := func(tree *scene.Tree) string {
		if tree == nil {
			return ""
		}
		digest, err := db.PutSnapshot(ctx, tree)
		if err != nil {
			log.Warn("Could not store snapshot", "map", tree.Name(), "err", err)
		}
		return digest
	}
	run.BaseDigest = put(base)
	run.SourceDigest = put(source)
	run.TargetDigest = put(target)
	run.ResultDigest = put(result)

	id, err := db.RecordRun(ctx, run)
	if err != nil {
		log.Warn("Could not record the run", "err", err)
		return ""
	}
	return id
}

func loadMaps(paths ...string) ([]*scene.Tree, error) {
	trees := make([]*scene.Tree, 0, len(paths))
	for _, p := range paths {
		tree, err := mapfile.Load(p)
		if err != nil {
			return nil, err
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	trees, err := loadMaps(args[0], args[1])
	if err != nil {
		return err
	}
	source, base := trees[0], trees[1]

	result, err := diff.Compare(source, base)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeComparisonJSON(out, result); err != nil {
			return err
		}
	} else {
		printComparison(out, result)
	}

	run := journal.NewRun(journal.KindCompare, nil)
	run.Summary = result.Summary()
	record(cmd.Context(), run, base, source, nil, nil)
	return nil
}

type entityDifferenceJSON struct {
	Entity    string                    `json:"entity"`
	Type      diff.EntityDifferenceType `json:"type"`
	KeyValues []keyValueDifferenceJSON  `json:"keyValues,omitempty"`
	Added     int                       `json:"primitivesAdded,omitempty"`
	Removed   int                       `json:"primitivesRemoved,omitempty"`
}

type keyValueDifferenceJSON struct {
	Key   string                      `json:"key"`
	Value string                      `json:"value,omitempty"`
	Type  diff.KeyValueDifferenceType `json:"type"`
}

func writeComparisonJSON(w io.Writer, result *diff.ComparisonResult) error {
	doc := struct {
		Summary     diff.Summary           `json:"summary"`
		Differences []entityDifferenceJSON `json:"differences"`
	}{Summary: result.Summary(), Differences: []entityDifferenceJSON{}}

	for _, d := range result.DifferingEntities {
		e := entityDifferenceJSON{Entity: d.EntityName, Type: d.Type}
		for _, kv := range d.DifferingKeyValues {
			e.KeyValues = append(e.KeyValues, keyValueDifferenceJSON{Key: kv.Key, Value: kv.Value, Type: kv.Type})
		}
		for _, p := range d.DifferingChildren {
			if p.Type == diff.PrimitiveAdded {
				e.Added++
			} else {
				e.Removed++
			}
		}
		doc.Differences = append(doc.Differences, e)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func printComparison(w io.Writer, result *diff.ComparisonResult) {
	if result.Empty() {
		fmt.Fprintf(w, "No differences (%d entities match)\n", len(result.EquivalentEntities))
		return
	}

	for _, d := range result.DifferingEntities {
		switch d.Type {
		case diff.EntityMissingInBase:
			fmt.Fprintf(w, "A %s\n", d.EntityName)
		case diff.EntityMissingInSource:
			fmt.Fprintf(w, "D %s\n", d.EntityName)
		case diff.EntityPresentButDifferent:
			fmt.Fprintf(w, "M %s\n", d.EntityName)
			for _, kv := range d.DifferingKeyValues {
				switch kv.Type {
				case diff.KeyValueRemoved:
					fmt.Fprintf(w, "    - %s\n", kv.Key)
				case diff.KeyValueAdded:
					fmt.Fprintf(w, "    + %s = %q\n", kv.Key, kv.Value)
				default:
					fmt.Fprintf(w, "    ~ %s = %q\n", kv.Key, kv.Value)
				}
			}
			for _, p := range d.DifferingChildren {
				sign := "+"
				if p.Type == diff.PrimitiveRemoved {
					sign = "-"
				}
				fmt.Fprintf(w, "    %s %s %s\n", sign, p.Node.Kind(), shortID(p.Fingerprint))
			}
		}
	}

	s := result.Summary()
	fmt.Fprintf(w, "\n%d added, %d removed, %d modified, %d unchanged\n",
		s.MissingInBase, s.MissingInSource, s.Modified, s.Matched)
}

func configure(op *merge.Operation) {
	op.MergeLayers = cfg.Merge.Layers
	op.MergeSelectionGroups = cfg.Merge.SelectionGroups
	if filter := cfg.EntityFilter(); filter != nil {
		op.SetEntityFilter(filter)
	}
	op.SetLogger(log.Default())
}

func runMerge(cmd *cobra.Command, args []string) error {
	trees, err := loadMaps(args[0], args[1])
	if err != nil {
		return err
	}
	source, base := trees[0], trees[1]
	original := base.Clone(base.Name())

	result, err := diff.Compare(source, base)
	if err != nil {
		return err
	}
	op, err := merge.CreateFromComparisonResult(result)
	if err != nil {
		return err
	}
	configure(op)

	report := op.ApplyActions()
	printReport(cmd.OutOrStdout(), report)
	if err := checkReport(report); err != nil {
		return err
	}

	if err := mapfile.Save(outputPath, base); err != nil {
		return err
	}

	run := journal.NewRun(journal.KindTwoWay, report)
	run.Summary = result.Summary()
	if id := record(cmd.Context(), run, original, source, nil, base); id != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded run %s\n", shortID(id))
	}
	return nil
}

func runMerge3(cmd *cobra.Command, args []string) error {
	trees, err := loadMaps(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	base, source, target := trees[0], trees[1], trees[2]
	original := target.Clone(target.Name())
	// CreateThreeWay may rename source entities
	sourceSnapshot := source.Clone(source.Name())

	op, err := merge.CreateThreeWay(base, source, target, merge.WithLogger(log.Default()))
	if err != nil {
		return err
	}
	configure(op.Operation)

	if err := resolveConflicts(op); err != nil {
		return err
	}

	report := op.ApplyActions()
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := json.NewEncoder(out).Encode(journal.NewRun(journal.KindThreeWay, report)); err != nil {
			return err
		}
	} else {
		printConflicts(out, op.Conflicts())
		printReport(out, report)
	}
	if err := checkReport(report); err != nil {
		return err
	}

	if err := mapfile.Save(outputPath, target); err != nil {
		return err
	}

	run := journal.NewRun(journal.KindThreeWay, report)
	run.Summary = op.SourceDifferences().Summary()
	if id := record(cmd.Context(), run, base, sourceSnapshot, original, target); id != "" && !jsonOutput {
		fmt.Fprintf(out, "Recorded run %s\n", shortID(id))
	}
	return nil
}

func resolveConflicts(op *merge.ThreeWayOperation) error {
	for _, c := range op.Conflicts() {
		if !c.IsActive() {
			continue
		}
		switch {
		case applySource:
			c.SetResolution(merge.ApplySourceChange)
		case keepBoth && c.SourceEntity() != nil && c.TargetEntity() != nil:
			if c.Resolution() != merge.Unresolved {
				continue // already handled with a sibling conflict
			}
			if _, err := op.ResolveByKeepingBothEntities(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkReport(report *merge.Report) error {
	if report.ReconcileErr != nil && !allowFailures {
		return report.ReconcileErr
	}
	if n := report.Count(merge.OutcomeFailed); n > 0 && !allowFailures {
		return fmt.Errorf("%d merge actions failed, use --allow-failures to write the result anyway", n)
	}
	return nil
}

func printConflicts(w io.Writer, conflicts []*merge.ConflictResolutionAction) {
	if len(conflicts) == 0 {
		return
	}
	fmt.Fprintf(w, "Conflicts:\n")
	for _, c := range conflicts {
		line := fmt.Sprintf("  %s %s", c.ConflictType(), merge.AffectedEntityName(c))
		if key := merge.AffectedKeyName(c); key != "" {
			line += fmt.Sprintf(" %s: source %q", key, merge.AffectedKeyValue(c))
			if c.TargetAction() != nil {
				line += fmt.Sprintf(", target %q", merge.AffectedKeyValue(c.TargetAction()))
			}
		}
		fmt.Fprintf(w, "%s [%s]\n", line, c.Resolution())
	}
}

func printReport(w io.Writer, report *merge.Report) {
	fmt.Fprintf(w, "%d applied, %d skipped, %d failed\n",
		report.Count(merge.OutcomeApplied), report.Count(merge.OutcomeSkipped), report.Count(merge.OutcomeFailed))
	for _, res := range report.Failed() {
		fmt.Fprintf(w, "  failed: %s on %s: %v\n", res.Action.Type(), merge.AffectedEntityName(res.Action), res.Err)
	}
	if n := len(report.GroupChanges); n > 0 {
		fmt.Fprintf(w, "%d selection group changes\n", n)
	}
	if n := len(report.LayerChanges); n > 0 {
		fmt.Fprintf(w, "%d layer changes\n", n)
	}
}

func runLog(cmd *cobra.Command, args []string) error {
	db, err := openJournal()
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("the journal is disabled")
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		return showRun(cmd.Context(), out, db, args[0])
	}

	runs, err := db.Runs(cmd.Context(), logLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tWHEN\tAPPLIED\tSKIPPED\tFAILED\tCONFLICTS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", shortID(r.ID), r.Kind,
			r.CreatedAt.Format(time.DateTime), r.Applied, r.Skipped, r.Failed, r.Conflicts)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, w io.Writer, db *journal.DB, prefix string) error {
	runs, err := db.Runs(ctx, 0)
	if err != nil {
		return err
	}
	var matches []string
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("%s: %w", prefix, journal.ErrRunNotFound)
	case 1:
	default:
		sort.Strings(matches)
		return fmt.Errorf("ambiguous run prefix %q: %s", prefix, strings.Join(matches, ", "))
	}

	run, err := db.GetRun(ctx, matches[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s (%s) at %s\n", run.ID, run.Kind, run.CreatedAt.Format(time.DateTime))
	for _, d := range []struct{ label, digest string }{
		{"base", run.BaseDigest}, {"source", run.SourceDigest},
		{"target", run.TargetDigest}, {"result", run.ResultDigest}, {"plan", run.PlanDigest},
	} {
		if d.digest != "" {
			fmt.Fprintf(w, "  %-7s %s\n", d.label, shortID(d.digest))
		}
	}

	for _, a := range run.Actions {
		line := fmt.Sprintf("  #%d %s %s", a.Index, a.Type, a.Entity)
		if a.Key != "" {
			line += fmt.Sprintf(" %s=%q", a.Key, a.Value)
		}
		if a.Conflict != "" {
			line += fmt.Sprintf(" (%s, %s)", a.Conflict, a.Resolution)
		}
		line += " " + a.Outcome
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	db, err := openJournal()
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("the journal is disabled")
	}
	defer db.Close()

	tree, err := db.GetSnapshot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return mapfile.Save(outputPath, tree)
}

// shortID safely truncates an ID string to 12 characters.
func shortID(s string) string {
	if len(s) >= 12 {
		return s[:12]
	}
	return s
}
