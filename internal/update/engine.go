// Package update implements spec.md §4.G's change-propagation pipeline
// and component H, the update engine: it applies an inbound CDC to a
// tabular.Node's live data, recomputes dependent formulas, re-checks
// constraints, and emits outbound CDCs and constraint-change events.
// Its ingest-validate-apply-notify shape follows
// internal/memorystore/api.go's single-owner write path, generalized
// from a metric time-series buffer to the column×row cell grid; per
// spec.md §5, the engine serializes all callers behind one mutex
// rather than the teacher's actor mailbox.
package update

import (
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/internal/constraint"
	"github.com/race-platform/race-core/internal/formula"
	"github.com/race-platform/race-core/internal/tabular"
)

// PermissionError is spec.md §7's PermissionError: the CDC's
// originator lacks write permission for the target column (or row).
// The CDC is rejected outright; no state changes.
type PermissionError struct {
	Originator string
	Column     string
	Row        string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("update: %s may not write %s::%s", e.Originator, e.Column, e.Row)
}

// Result summarizes the outcome of one Apply call: the outbound CDCs
// produced (one per column whose data actually changed, spanning both
// directly applied and formula-recomputed cells) and any constraint
// transitions it caused.
type Result struct {
	Outbound    []*tabular.CDC
	Constraints []constraint.Change
}

// Engine is the single owner of one Node's live state. All mutation
// goes through Apply; external consumers only ever see the Result it
// returns or snapshots taken via Node().
type Engine struct {
	mu          sync.Mutex
	node        *tabular.Node
	compiled    *formula.CompiledSet
	constraints *constraint.Registry
}

// New returns an Engine owning node, with formulas compiled once at
// construction (spec.md §4.G: compile-time failures are caught at
// node startup and are fatal only to the one offending cell) and the
// given constraint registry (may be nil if the node declares none).
func New(node *tabular.Node, constraints *constraint.Registry) (*Engine, error) {
	compiled, err := formula.CompileNode(node)
	if err != nil {
		return nil, fmt.Errorf("update: compile formulas: %w", err)
	}
	if constraints == nil {
		constraints, _ = constraint.Compile(nil)
	}
	return &Engine{node: node, compiled: compiled, constraints: constraints}, nil
}

// Node returns an immutable snapshot of the engine's node data,
// suitable for a subscriber or a checkpoint writer.
func (e *Engine) Node() map[string]tabular.ColumnData {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node.Snapshot()
}

// Apply runs spec.md §4.G's six-step change-propagation pipeline for
// one inbound CDC: permission check, per-cell validation, apply,
// recompute dependents, emit outbound CDCs, re-check constraints.
// Concurrent callers (the UDP wire server and the NATS ingestion
// adapter alike) are serialized by mu, satisfying spec.md §5's "the
// engine MUST serialize them" requirement without an actor mailbox.
func (e *Engine) Apply(cdc *tabular.CDC) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	col, ok := e.node.Columns.Find(cdc.Column)
	if !ok {
		return nil, fmt.Errorf("update: column %q not declared", cdc.Column)
	}
	for _, rc := range cdc.Changes {
		if !col.Allows(cdc.Originator, rc.RowID) {
			return nil, &PermissionError{Originator: cdc.Originator, Column: cdc.Column, Row: rc.RowID}
		}
	}

	cd, ok := e.node.Data[cdc.Column]
	if !ok {
		cd = tabular.NewColumnData(cdc.Column)
		e.node.Data[cdc.Column] = cd
	}

	byColumn := make(map[string][]tabular.RowChange)
	var changedRefs []formula.CellRef
	for _, rc := range cdc.Changes {
		row, ok := e.node.Rows.Find(rc.RowID)
		if !ok {
			cclog.Warnf("update: CDC %s::%s: row not declared, dropping", cdc.Column, rc.RowID)
			continue
		}
		if rc.Value.Kind != row.Kind {
			cclog.Warnf("update: CDC %s::%s: value kind %s does not match declared kind %s, dropping",
				cdc.Column, rc.RowID, rc.Value.Kind, row.Kind)
			continue
		}
		if cur, ok := cd.Get(rc.RowID); ok && rc.Value.Timestamp.Before(cur.Timestamp) {
			cclog.Warnf("update: CDC %s::%s: stale update (%s before %s), dropping",
				cdc.Column, rc.RowID, rc.Value.Timestamp, cur.Timestamp)
			continue
		}
		if changed := cd.Apply(rc.RowID, rc.Value); changed {
			byColumn[cdc.Column] = append(byColumn[cdc.Column], rc)
			changedRefs = append(changedRefs, formula.CellRef{Column: cdc.Column, Row: rc.RowID})
		}
	}

	now := cdc.ChangeTime
	if len(changedRefs) > 0 {
		recomputed, err := formula.Recompute(e.node, e.compiled, changedRefs, now)
		if err != nil {
			return nil, fmt.Errorf("update: recompute: %w", err)
		}
		for ref, v := range recomputed {
			target, ok := e.node.Data[ref.Column]
			if !ok {
				target = tabular.NewColumnData(ref.Column)
				e.node.Data[ref.Column] = target
			}
			if target.Apply(ref.Row, v) {
				byColumn[ref.Column] = append(byColumn[ref.Column], tabular.RowChange{RowID: ref.Row, Value: v})
			}
		}
	}

	result := &Result{}
	for colID, changes := range byColumn {
		result.Outbound = append(result.Outbound, &tabular.CDC{
			Originator: e.node.LocalID,
			Column:     colID,
			ChangeTime: now,
			Changes:    changes,
		})
	}
	result.Constraints = e.constraints.Evaluate(e.node, now)
	return result, nil
}

// SweepConstraints re-evaluates every registered constraint against
// the node's current data without any inbound CDC, for cmd/racecored's
// periodic defensive re-check (spec.md §4.G step 6, run on a timer
// rather than only on change).
func (e *Engine) SweepConstraints(now time.Time) []constraint.Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.constraints.Evaluate(e.node, now)
}
