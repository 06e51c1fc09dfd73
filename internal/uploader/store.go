package uploader

import (
	"context"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

type entry struct {
	task *domain.UploadTask

	// cancel aborts the running transfer; nil until the task is dispatched.
	cancel context.CancelFunc
	// evictTimer fires the post-terminal eviction.
	evictTimer *time.Timer
}

// taskStore keeps tasks in admission order. It is not safe for concurrent
// use; Manager.mu guards every call.
type taskStore struct {
	order []string
	tasks map[string]*entry
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: make(map[string]*entry)}
}

func (s *taskStore) add(t *domain.UploadTask) {
	s.tasks[t.ID] = &entry{task: t}
	s.order = append(s.order, t.ID)
}

func (s *taskStore) get(id string) (*entry, bool) {
	e, ok := s.tasks[id]
	return e, ok
}

func (s *taskStore) remove(id string) (*entry, bool) {
	e, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	delete(s.tasks, id)

	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	e.task.Payload = nil
	return e, true
}

// firstPending returns the earliest admitted task that is still pending.
func (s *taskStore) firstPending() *entry {
	for _, id := range s.order {
		if e := s.tasks[id]; e.task.Status == domain.StatusPending {
			return e
		}
	}
	return nil
}

func (s *taskStore) each(fn func(e *entry)) {
	for _, id := range s.order {
		fn(s.tasks[id])
	}
}

func (s *taskStore) views() []domain.TaskView {
	views := make([]domain.TaskView, 0, len(s.order))
	s.each(func(e *entry) {
		views = append(views, e.task.View())
	})
	return views
}

func (s *taskStore) countStatus(status domain.TaskStatus) int {
	n := 0
	s.each(func(e *entry) {
		if e.task.Status == status {
			n++
		}
	})
	return n
}

func (s *taskStore) len() int {
	return len(s.order)
}
