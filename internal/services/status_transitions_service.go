package services

import "taskflow/internal/models"

// TaskTransitions is the strict transition table. Reopen is the only way out
// of done; cancelled tasks can only be brought back to todo.
var TaskTransitions = map[models.TaskStatus]map[models.TaskStatus]bool{
	models.StatusTodo:       {models.StatusInProgress: true, models.StatusDone: true, models.StatusCancelled: true},
	models.StatusInProgress: {models.StatusTodo: true, models.StatusDone: true, models.StatusCancelled: true},
	models.StatusDone:       {models.StatusTodo: true},
	models.StatusCancelled:  {models.StatusTodo: true},
}

// TransitionPolicy decides which status changes the engine accepts.
// The zero value is permissive: any valid status from any status.
type TransitionPolicy struct {
	Strict bool
}

func (p TransitionPolicy) Allow(from, to models.TaskStatus) bool {
	if !to.Valid() {
		return false
	}
	if !p.Strict || from == to {
		return true
	}
	return canTransition(from, to, TaskTransitions)
}

func canTransition(current, to models.TaskStatus, table map[models.TaskStatus]map[models.TaskStatus]bool) bool {
	nexts, ok := table[current]
	if !ok {
		return false
	}
	return nexts[to]
}
