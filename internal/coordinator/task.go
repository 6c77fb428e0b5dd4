package coordinator

import (
	"sync"
	"time"
)

// TaskState is the monotonically advancing progress surface of a task.
type TaskState string

const (
	StateQueued     TaskState = "queued"
	StateProcessing TaskState = "processing"
	StateEmbedding  TaskState = "embedding"
	StateStoring    TaskState = "storing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
)

// Terminal reports whether a task in this state will not advance further.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskKind distinguishes the work a task performs.
type TaskKind string

const (
	KindProcessDocument TaskKind = "process_document"
)

// Task tracks one document through the pipeline. The ID is assigned at
// submission and stable for the task's lifetime.
type Task struct {
	ID          string
	Kind        TaskKind
	Source      string
	TypeHint    string
	State       TaskState
	Attempts    int
	LastError   string
	Chunks      int
	SubmittedAt time.Time
	ScheduledAt time.Time
	UpdatedAt   time.Time
	cancelled   bool
}

// taskTable is the in-memory task registry, safe for concurrent use.
type taskTable struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func newTaskTable() *taskTable {
	return &taskTable{tasks: make(map[string]*Task)}
}

func (t *taskTable) put(task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[task.ID] = task
}

// get returns a copy so callers never race with worker updates.
func (t *taskTable) get(id string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// update applies fn to the task under the table lock.
func (t *taskTable) update(id string, fn func(*Task)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return false
	}
	fn(task)
	task.UpdatedAt = time.Now().UTC()
	return true
}

// prune drops terminal tasks older than the retention window and returns
// how many were removed.
func (t *taskTable) prune(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, task := range t.tasks {
		if task.State.Terminal() && task.UpdatedAt.Before(olderThan) {
			delete(t.tasks, id)
			removed++
		}
	}
	return removed
}
