package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskflow/internal/handlers"
	"taskflow/internal/middleware"
	"taskflow/internal/models"
	"taskflow/internal/pdf"
	"taskflow/internal/realtime"
	"taskflow/internal/routes"
	"taskflow/internal/services"
	"taskflow/internal/testutil"
)

var secret = []byte("handler-test-secret")

type api struct {
	t      *testing.T
	router *gin.Engine
	store  *testutil.MemStore
	notes  *recordingNotifier
}

// recordingNotifier keeps the assignee of every notification sent.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) NotifyAssignee(_ context.Context, task *models.Task, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if task.AssigneeID != nil {
		n.sent = append(n.sent, *task.AssigneeID)
	}
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()

	store := testutil.NewMemStore()
	store.AddProject(models.Project{ID: "p1", Key: "WEB", Name: "Website"})
	store.AddProject(models.Project{ID: "p2", Key: "OPS", Name: "Operations"})
	store.AddUser(models.User{ID: "alice", Username: "alice", IsActive: true})
	store.AddUser(models.User{ID: "bob", Username: "bob", IsActive: true})
	store.AddUser(models.User{ID: "eve", Username: "eve", IsActive: true})

	hub := realtime.NewHub(log)
	tasks := services.NewTaskService(store, services.WithActivityPublisher(hub))
	activity := services.NewActivityService(store, 20, hub)
	reports := services.NewReportService(store, activity, pdf.NewTaskReportGenerator(""))
	notes := &recordingNotifier{}

	r := gin.New()
	r.Use(middleware.RequestLogger(log))
	routes.SetupRoutes(r, secret,
		handlers.NewTaskHandler(tasks, notes, log),
		handlers.NewActivityHandler(activity, tasks, reports, hub, log),
	)
	return &api{t: t, router: r, store: store, notes: notes}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(secret)
	require.NoError(t, err)
	return s
}

func (a *api) do(user, method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, user))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (a *api) createTask(title string) models.Task {
	a.t.Helper()
	w := a.do("alice", http.MethodPost, "/api/tasks", gin.H{"project_id": "p1", "title": title})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Task](a.t, w)
}

func TestCreateAndGet(t *testing.T) {
	a := newAPI(t)

	w := a.do("alice", http.MethodPost, "/api/tasks", gin.H{
		"project_id":      "p1",
		"title":           "Landing page",
		"priority":        "high",
		"due_date":        "2024-06-30",
		"estimated_hours": 3,
		"tags":            []string{"ui"},
		"assignee_id":     "bob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[models.Task](t, w)
	assert.Equal(t, "WEB-1", task.Key())
	assert.Equal(t, models.PriorityHigh, task.Priority)
	require.NotNil(t, task.DueDate)
	assert.Equal(t, "2024-06-30", task.DueDate.Format("2006-01-02"))

	w = a.do("bob", http.MethodGet, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, task.ID, decode[models.Task](t, w).ID)
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("mapped")

	cases := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		code   int
	}{
		{"no token", "", http.MethodGet, "/api/tasks", nil, http.StatusUnauthorized},
		{"missing title", "alice", http.MethodPost, "/api/tasks", gin.H{"project_id": "p1"}, http.StatusBadRequest},
		{"bad date", "alice", http.MethodPost, "/api/tasks", gin.H{"project_id": "p1", "title": "x", "due_date": "next week"}, http.StatusBadRequest},
		{"unknown project", "alice", http.MethodPost, "/api/tasks", gin.H{"project_id": "nope", "title": "x"}, http.StatusNotFound},
		{"unknown task", "alice", http.MethodGet, "/api/tasks/nope", nil, http.StatusNotFound},
		{"bad status", "alice", http.MethodPost, "/api/tasks/" + task.ID + "/status", gin.H{"status": "blocked"}, http.StatusBadRequest},
		{"outsider status", "eve", http.MethodPost, "/api/tasks/" + task.ID + "/status", gin.H{"status": "done"}, http.StatusForbidden},
		{"outsider update", "eve", http.MethodPut, "/api/tasks/" + task.ID, gin.H{"title": "mine"}, http.StatusForbidden},
		{"outsider delete", "eve", http.MethodDelete, "/api/tasks/" + task.ID, nil, http.StatusForbidden},
		{"bad page", "alice", http.MethodGet, "/api/tasks?page=two", nil, http.StatusBadRequest},
		{"unknown project stats", "alice", http.MethodGet, "/api/projects/nope/statistics", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(tc.user, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
			assert.Contains(t, decode[map[string]string](t, w), "error")
		})
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("flow")
	base := "/api/tasks/" + task.ID

	w := a.do("alice", http.MethodPost, base+"/assign", gin.H{"assignee_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("bob", http.MethodPost, base+"/status", gin.H{"status": "in_progress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode[models.Task](t, w).StartedAt)

	w = a.do("bob", http.MethodPut, base+"/hours", gin.H{"actual_hours": 2.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("bob", http.MethodPost, base+"/complete", gin.H{"resolution": "done and dusted"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[models.Task](t, w)
	assert.Equal(t, models.StatusDone, done.Status)
	assert.Equal(t, "done and dusted", *done.Resolution)

	w = a.do("alice", http.MethodPost, base+"/reopen", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Nil(t, decode[models.Task](t, w).CompletedAt)

	w = a.do("alice", http.MethodPost, base+"/cancel", gin.H{"reason": "descoped"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do("alice", http.MethodPost, base+"/unassign", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[models.Task](t, w).AssigneeID)

	w = a.do("alice", http.MethodPost, base+"/tags", gin.H{"tag": "later"})
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do("alice", http.MethodPost, base+"/tags", gin.H{"tag": "later"})
	assert.Equal(t, []string{"later"}, decode[models.Task](t, w).Tags)
	w = a.do("alice", http.MethodDelete, base+"/tags/later", nil)
	assert.Empty(t, decode[models.Task](t, w).Tags)

	w = a.do("alice", http.MethodPost, base+"/copy", gin.H{"project_id": "p2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	copied := decode[models.Task](t, w)
	assert.Equal(t, "OPS-1", copied.Key())

	w = a.do("alice", http.MethodPost, base+"/move", gin.H{"project_id": "p2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[models.Task](t, w)
	assert.Equal(t, "OPS-2", moved.Key())

	w = a.do("alice", http.MethodGet, base+"/activity?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]models.ActivityEntry](t, w)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ActionTaskMoved, *entries[0].SystemAction)

	w = a.do("alice", http.MethodGet, "/api/projects/p2/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[models.TaskStatistics](t, w).TotalTasks)

	w = a.do("alice", http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do("alice", http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEndpoint(t *testing.T) {
	a := newAPI(t)
	for _, title := range []string{"alpha", "beta", "gamma"} {
		a.createTask(title)
	}

	w := a.do("alice", http.MethodGet, "/api/tasks?project_id=p1&sort_by=title&sort_dir=asc&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.TaskPage](t, w)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "alpha", page.Items[0].Title)

	w = a.do("alice", http.MethodGet, "/api/tasks?search=gam", nil)
	assert.Equal(t, 1, decode[models.TaskPage](t, w).TotalCount)
}

func TestCommentsEndpoints(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("talk")

	w := a.do("bob", http.MethodPost, "/api/tasks/"+task.ID+"/comments", gin.H{"content": "on it"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	comment := decode[models.Comment](t, w)

	w = a.do("alice", http.MethodPut, "/api/comments/"+comment.ID, gin.H{"content": "not yours"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("bob", http.MethodPut, "/api/comments/"+comment.ID, gin.H{"content": "on it, ETA friday"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.Comment](t, w).IsEdited)
}

func TestExportPDF(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("printable")

	w := a.do("alice", http.MethodGet, "/api/tasks/"+task.ID+"/export.pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "WEB-1.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestAssignNotifiesOnlyOnChange(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("hand over")
	base := "/api/tasks/" + task.ID

	w := a.do("alice", http.MethodPost, base+"/assign", gin.H{"assignee_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do("alice", http.MethodPost, base+"/assign", gin.H{"assignee_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do("alice", http.MethodPut, base, gin.H{"assignee_id": "bob", "title": "hand over now"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"bob"}, a.notes.all(), "re-assigning the same user stays quiet")

	w = a.do("alice", http.MethodPut, base, gin.H{"assignee_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = a.do("alice", http.MethodPut, base, gin.H{"assignee_id": "eve"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"bob", "eve"}, a.notes.all(), "self-assignment is not announced")

	w = a.do("eve", http.MethodPost, "/api/tasks/missing/assign", gin.H{"assignee_id": "bob"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, a.notes.all(), 2)
}

func TestBatchEndpoints(t *testing.T) {
	a := newAPI(t)
	one := a.createTask("one")
	two := a.createTask("two")

	w := a.do("alice", http.MethodPost, "/api/tasks/batch-status", gin.H{
		"task_ids": []string{one.ID, two.ID, "missing"},
		"status":   "in_progress",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[models.BatchResult](t, w)
	assert.ElementsMatch(t, []string{one.ID, two.ID}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing", res.Failed[0].TaskID)

	w = a.do("alice", http.MethodPost, "/api/tasks/batch-status", gin.H{"task_ids": []string{one.ID}, "status": "blocked"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do("bob", http.MethodPost, "/api/tasks/batch-delete", gin.H{"task_ids": []string{one.ID, two.ID}})
	assert.Equal(t, http.StatusForbidden, w.Code, "bob created none of them")

	w = a.do("alice", http.MethodPost, "/api/tasks/batch-delete", gin.H{"task_ids": []string{one.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{one.ID}, decode[models.BatchResult](t, w).Succeeded)

	w = a.do("alice", http.MethodGet, "/api/tasks/"+one.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOverdueAndMyStatisticsEndpoints(t *testing.T) {
	a := newAPI(t)
	w := a.do("alice", http.MethodPost, "/api/tasks", gin.H{
		"project_id": "p1", "title": "ancient", "due_date": "2001-01-01", "assignee_id": "bob",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	late := decode[models.Task](t, w)
	a.createTask("no deadline")

	w = a.do("alice", http.MethodGet, "/api/tasks/overdue?project_id=p1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	overdue := decode[[]models.Task](t, w)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	w = a.do("alice", http.MethodGet, "/api/tasks/overdue?project_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do("bob", http.MethodGet, "/api/me/statistics", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode[models.TaskStatistics](t, w)
	assert.Equal(t, 1, stats.TotalTasks)
	assert.Equal(t, 1, stats.OverdueTasks)
}

func TestCommentDeleteAndLikeEndpoints(t *testing.T) {
	a := newAPI(t)
	task := a.createTask("feedback")

	w := a.do("bob", http.MethodPost, "/api/tasks/"+task.ID+"/comments", gin.H{"content": "nice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	comment := decode[models.Comment](t, w)

	w = a.do("alice", http.MethodPost, "/api/comments/"+comment.ID+"/like", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[models.LikeState](t, w)
	assert.True(t, state.Liked)
	assert.Equal(t, 1, state.LikeCount)

	w = a.do("alice", http.MethodGet, "/api/tasks/"+task.ID+"/activity", nil)
	entries := decode[[]models.ActivityEntry](t, w)
	var system models.ActivityEntry
	for _, e := range entries {
		if e.IsSystem {
			system = e
		}
	}
	require.NotEmpty(t, system.ID)
	w = a.do("alice", http.MethodPost, "/api/comments/"+system.ID+"/like", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do("alice", http.MethodDelete, "/api/comments/"+system.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do("alice", http.MethodDelete, "/api/comments/"+comment.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do("bob", http.MethodDelete, "/api/comments/"+comment.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = a.do("bob", http.MethodDelete, "/api/comments/"+comment.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
