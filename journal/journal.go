// Package journal records merge runs and the maps involved in a SQLite
// database, so earlier merges can be inspected and their inputs restored.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"scenemerge/cas"
	"scenemerge/diff"
	"scenemerge/mapfile"
	"scenemerge/merge"
	"scenemerge/scene"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrInvalidDigest    = errors.New("invalid digest")
)

// RunKind tells what produced a run.
type RunKind string

const (
	KindCompare  RunKind = "compare"
	KindTwoWay   RunKind = "merge"
	KindThreeWay RunKind = "merge3"
)

// Run is one recorded invocation. Digests are empty for maps not involved.
type Run struct {
	ID           string
	Kind         RunKind
	BaseDigest   string
	SourceDigest string
	TargetDigest string
	ResultDigest string

	// PlanDigest identifies the decided actions independent of how they
	// turned out; rerunning a merge on the same maps gives the same digest.
	PlanDigest string

	Applied   int
	Skipped   int
	Failed    int
	Conflicts int

	Summary   diff.Summary
	Actions   []ActionRecord
	CreatedAt time.Time
}

// ActionRecord is the persisted form of one action result.
type ActionRecord struct {
	Index      int
	Type       string
	Entity     string
	Key        string
	Value      string
	Outcome    string
	Conflict   string
	Resolution string
	Error      string
}

// ActionsFromReport converts the results of ApplyActions.
func ActionsFromReport(report *merge.Report) []ActionRecord {
	out := make([]ActionRecord, 0, len(report.Results))
	for _, res := range report.Results {
		rec := ActionRecord{
			Index:   res.Index,
			Type:    string(res.Action.Type()),
			Entity:  merge.AffectedEntityName(res.Action),
			Key:     merge.AffectedKeyName(res.Action),
			Value:   merge.AffectedKeyValue(res.Action),
			Outcome: string(res.Outcome),
		}
		if c, ok := res.Action.(*merge.ConflictResolutionAction); ok {
			rec.Conflict = string(c.ConflictType())
			rec.Resolution = string(c.Resolution())
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		out = append(out, rec)
	}
	return out
}

// planStep is the part of an action record that describes the merge
// decision rather than its outcome.
type planStep struct {
	Type       string `json:"type"`
	Entity     string `json:"entity"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value,omitempty"`
	Conflict   string `json:"conflict,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// PlanDigest returns the canonical digest of the actions' decisions, or ""
// when there are none.
func PlanDigest(actions []ActionRecord) (string, error) {
	if len(actions) == 0 {
		return "", nil
	}
	steps := make([]planStep, len(actions))
	for i, a := range actions {
		steps[i] = planStep{
			Type: a.Type, Entity: a.Entity, Key: a.Key, Value: a.Value,
			Conflict: a.Conflict, Resolution: a.Resolution,
		}
	}
	digest, _, err := cas.CanonicalDigest(steps)
	return digest, err
}

// NewRun fills in the counters of a run from a report. report may be nil
// for compare runs.
func NewRun(kind RunKind, report *merge.Report) Run {
	run := Run{Kind: kind}
	if report == nil {
		return run
	}
	run.Actions = ActionsFromReport(report)
	run.Applied = report.Count(merge.OutcomeApplied)
	run.Skipped = report.Count(merge.OutcomeSkipped)
	run.Failed = report.Count(merge.OutcomeFailed)
	for _, rec := range run.Actions {
		if rec.Conflict != "" {
			run.Conflicts++
		}
	}
	return run
}

// DB wraps the journal database.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the journal at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PutSnapshot stores the tree's map document and returns its digest.
// Storing the same content twice is a no-op.
func (db *DB) PutSnapshot(ctx context.Context, tree *scene.Tree) (string, error) {
	data, err := mapfile.Encode(tree)
	if err != nil {
		return "", err
	}
	digest := cas.Blake3HashHex(data)

	blob, err := compress(data)
	if err != nil {
		return "", err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (digest, name, size, blob, created_at) VALUES (?, ?, ?, ?, ?)`,
		digest, tree.Name(), len(data), blob, time.Now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting snapshot: %w", err)
	}
	return digest, nil
}

// GetSnapshot restores a stored tree. A unique hex digest prefix is accepted.
func (db *DB) GetSnapshot(ctx context.Context, digest string) (*scene.Tree, error) {
	prefix := strings.ToLower(digest)
	if prefix == "" || len(prefix) > 64 || strings.Trim(prefix, "0123456789abcdef") != "" {
		return nil, fmt.Errorf("%q: %w", digest, ErrInvalidDigest)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT digest, name, blob FROM snapshots WHERE substr(digest, 1, ?) = ? LIMIT 2`,
		len(prefix), prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	defer rows.Close()

	var found int
	var name string
	var blob []byte
	for rows.Next() {
		found++
		var d string
		if err := rows.Scan(&d, &name, &blob); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	switch {
	case found == 0:
		return nil, fmt.Errorf("%s: %w", digest, ErrSnapshotNotFound)
	case found > 1:
		return nil, fmt.Errorf("ambiguous snapshot prefix %q", digest)
	}

	data, err := decompress(blob)
	if err != nil {
		return nil, err
	}
	tree, err := mapfile.DecodeNamed(data, name)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", digest, err)
	}
	return tree, nil
}

// RecordRun stores a run and its actions in one transaction and returns
// the new run id.
func (db *DB) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	summary, err := cas.Canonical(run.Summary)
	if err != nil {
		return "", fmt.Errorf("encoding summary: %w", err)
	}
	if run.PlanDigest == "" {
		if run.PlanDigest, err = PlanDigest(run.Actions); err != nil {
			return "", fmt.Errorf("hashing plan: %w", err)
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, base_digest, source_digest, target_digest, result_digest, plan_digest,
		                   applied, skipped, failed, conflicts, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.BaseDigest, run.SourceDigest, run.TargetDigest, run.ResultDigest, run.PlanDigest,
		run.Applied, run.Skipped, run.Failed, run.Conflicts, string(summary), run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_actions (run_id, idx, type, entity, kv_key, kv_value, outcome, conflict, resolution, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("preparing action insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range run.Actions {
		if _, err := stmt.ExecContext(ctx, run.ID, a.Index, a.Type, a.Entity, a.Key, a.Value,
			a.Outcome, a.Conflict, a.Resolution, a.Error); err != nil {
			return "", fmt.Errorf("inserting action %d: %w", a.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing run: %w", err)
	}
	return run.ID, nil
}

const runColumns = `id, kind, base_digest, source_digest, target_digest, result_digest, plan_digest,
	applied, skipped, failed, conflicts, summary, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	var kind, summary string
	var base, source, target, result sql.NullString
	var createdAt int64

	if err := s.Scan(&run.ID, &kind, &base, &source, &target, &result, &run.PlanDigest,
		&run.Applied, &run.Skipped, &run.Failed, &run.Conflicts, &summary, &createdAt); err != nil {
		return Run{}, err
	}
	run.Kind = RunKind(kind)
	run.BaseDigest = base.String
	run.SourceDigest = source.String
	run.TargetDigest = target.String
	run.ResultDigest = result.String
	run.CreatedAt = time.UnixMilli(createdAt)

	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return Run{}, fmt.Errorf("decoding summary of run %s: %w", run.ID, err)
	}
	return run, nil
}

// Runs returns the most recent runs first. limit <= 0 returns all of them.
// Actions are not loaded, see RunActions.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its actions.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	run.Actions, err = db.RunActions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RunActions returns the recorded actions of a run in application order.
func (db *DB) RunActions(ctx context.Context, runID string) ([]ActionRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT idx, type, entity, kv_key, kv_value, outcome, conflict, resolution, error
		 FROM run_actions WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.Index, &a.Type, &a.Entity, &a.Key, &a.Value,
			&a.Outcome, &a.Conflict, &a.Resolution, &a.Error); err != nil {
			return nil, fmt.Errorf("scanning run action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func decompress(blob []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	return data, nil
}
