// Package task implements the session's task DAG as a flat arena: tasks
// reference each other by id, not by pointer, so the graph serializes
// cleanly into checkpoints and carries no ownership cycles.
package task

import (
	"github.com/ara-systems/ara/internal/arerr"
)

// ActionType is a closed enumeration of task action kinds.
type ActionType string

const (
	ActionReadFile ActionType = "read_file"
	ActionWriteFile ActionType = "write_file"
	ActionEditFile  ActionType = "edit_file"
	ActionAnalyze   ActionType = "analyze"
	ActionValidate  ActionType = "validate"
	ActionGeneric   ActionType = "generic"
)

// Status is a closed enumeration of task lifecycle states.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Task is one node in the DAG.
type Task struct {
	ID            string
	Title         string
	Description   string
	ActionType    ActionType
	TargetPath    string // optional
	DependsOn     []string
	Status        Status
	OutputSummary string
	Confidence    float64
	DurationMS    int64
	SelectedSkill string // nullable; empty means none
	NeedsApproval bool   // tagged "pending approval" at plan time
}

// DAG is the arena: a flat slice of tasks plus an index for O(1) lookup.
type DAG struct {
	Tasks []*Task
	index map[string]int
}

// NewDAG builds a DAG from tasks, validating acyclicity and that every
// depends_on id resolves within the set.
func NewDAG(tasks []*Task) (*DAG, error) {
	d := &DAG{Tasks: tasks, index: make(map[string]int, len(tasks))}
	for i, t := range tasks {
		if _, exists := d.index[t.ID]; exists {
			return nil, arerr.New(arerr.KindInternal, "duplicate task id: "+t.ID)
		}
		d.index[t.ID] = i
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := d.index[dep]; !ok {
				return nil, arerr.New(arerr.KindInternal, "task "+t.ID+" depends on unknown task "+dep)
			}
		}
	}
	if _, err := d.TopoSort(); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns the task with the given id, or nil.
func (d *DAG) Get(id string) *Task {
	i, ok := d.index[id]
	if !ok {
		return nil
	}
	return d.Tasks[i]
}

// TopoSort returns task ids in dependency order, or an error naming the
// acyclicity violation.
func (d *DAG) TopoSort() ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Tasks))
	var order []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return arerr.New(arerr.KindInternal, "task graph contains a cycle at "+id)
		}
		color[id] = gray
		t := d.Get(id)
		for _, dep := range t.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		order = append(order, id)
		return nil
	}

	for _, t := range d.Tasks {
		if err := visit(t.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Ready returns ids of pending tasks whose dependencies are all done.
func (d *DAG) Ready() []string {
	var ready []string
	for _, t := range d.Tasks {
		if t.Status != StatusPending {
			continue
		}
		allDone := true
		for _, dep := range t.DependsOn {
			if d.Get(dep).Status != StatusDone {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t.ID)
		}
	}
	return ready
}

// AllDone reports whether every task has reached a terminal status.
func (d *DAG) AllDone() bool {
	for _, t := range d.Tasks {
		if t.Status == StatusPending || t.Status == StatusRunning {
			return false
		}
	}
	return true
}

// EnforceWriteOnceRule implements the plan-time rule that only the first
// task targeting a given path may be write_file; later tasks against the
// same path are auto-downgraded to edit_file.
func EnforceWriteOnceRule(order []string, d *DAG) {
	seen := make(map[string]bool)
	for _, id := range order {
		t := d.Get(id)
		if t.TargetPath == "" {
			continue
		}
		if t.ActionType == ActionWriteFile {
			if seen[t.TargetPath] {
				t.ActionType = ActionEditFile
			}
			seen[t.TargetPath] = true
		}
	}
}
