package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskflow/internal/models"
	"taskflow/internal/services"
	"taskflow/internal/testutil"
)

const (
	projectP   = "proj-p"
	projectQ   = "proj-q"
	projectOld = "proj-archived"

	alice = "user-alice"
	bob   = "user-bob"
	carol = "user-carol"
	dave  = "user-dave" // disabled
	eve   = "user-eve"  // no standing on anything
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []models.ActivityEntry
}

func (p *recordingPublisher) Publish(_ context.Context, entries []models.ActivityEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries...)
}

func (p *recordingPublisher) all() []models.ActivityEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ActivityEntry(nil), p.entries...)
}

type fixture struct {
	store *testutil.MemStore
	tasks services.TaskService
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts ...services.TaskOption) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	store.AddProject(models.Project{ID: projectP, Key: "P", Name: "Platform", CreatorID: alice})
	store.AddProject(models.Project{ID: projectQ, Key: "Q", Name: "Quality", CreatorID: alice})
	store.AddProject(models.Project{ID: projectOld, Key: "OLD", Name: "Legacy", Status: models.ProjectArchived})
	store.AddUser(models.User{ID: alice, Username: "alice", FullName: "Alice Adams", IsActive: true})
	store.AddUser(models.User{ID: bob, Username: "bob", FullName: "Bob Brown", IsActive: true})
	store.AddUser(models.User{ID: carol, Username: "carol", IsActive: true})
	store.AddUser(models.User{ID: dave, Username: "dave", IsActive: false})
	store.AddUser(models.User{ID: eve, Username: "eve", IsActive: true})

	pub := &recordingPublisher{}
	opts = append([]services.TaskOption{services.WithClock(stepClock()), services.WithActivityPublisher(pub)}, opts...)
	return &fixture{store: store, tasks: services.NewTaskService(store, opts...), pub: pub}
}

func (f *fixture) create(t *testing.T, projectID, title string) *models.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), alice, models.CreateTaskInput{ProjectID: projectID, Title: title})
	require.NoError(t, err)
	return task
}

func (f *fixture) raw(t *testing.T, id string) *models.Task {
	t.Helper()
	task, ok := f.store.RawTask(id)
	require.True(t, ok, "task %s not stored", id)
	return task
}

func ptr[T any](v T) *T { return &v }
