// Package testutil holds an in-memory repositories.Store for tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

// MemStore mimics the Postgres store: transactions are serialized and a
// failed transaction leaves no trace.
type MemStore struct {
	mu     *sync.Mutex
	data   *memData
	faults *faults
	inTx   bool
}

// faults survive rollbacks.
type faults struct {
	commentErr error
	conflicts  int
}

type memData struct {
	tasks    map[string]*models.Task
	comments []*models.Comment
	likes    map[string]map[string]bool // comment id -> user ids
	projects map[string]*projectRow
	users    map[string]*models.User
}

type projectRow struct {
	project models.Project
	seq     int
}

func NewMemStore() *MemStore {
	return &MemStore{
		mu:     &sync.Mutex{},
		faults: &faults{},
		data: &memData{
			tasks:    map[string]*models.Task{},
			likes:    map[string]map[string]bool{},
			projects: map[string]*projectRow{},
			users:    map[string]*models.User{},
		},
	}
}

// ---- seeding & inspection ----

func (m *MemStore) AddProject(p models.Project) {
	defer m.lock()()
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	m.data.projects[p.ID] = &projectRow{project: p}
}

func (m *MemStore) AddUser(u models.User) {
	defer m.lock()()
	m.data.users[u.ID] = &u
}

// FailCommentInserts makes every following comment insert return err.
func (m *MemStore) FailCommentInserts(err error) {
	defer m.lock()()
	m.faults.commentErr = err
}

// InjectConflicts makes the next n task inserts fail with ErrConflict.
func (m *MemStore) InjectConflicts(n int) {
	defer m.lock()()
	m.faults.conflicts = n
}

// RawTask returns the stored row, soft-deleted ones included.
func (m *MemStore) RawTask(id string) (*models.Task, bool) {
	defer m.lock()()
	t, ok := m.data.tasks[id]
	if !ok {
		return nil, false
	}
	return m.withKey(t.Clone()), true
}

// TaskComments returns the comments of a task in insertion order.
func (m *MemStore) TaskComments(taskID string) []models.Comment {
	defer m.lock()()
	var out []models.Comment
	for _, c := range m.data.comments {
		if c.TaskID == taskID {
			out = append(out, *c)
		}
	}
	return out
}

// SystemComments returns the system comments of a task carrying action.
func (m *MemStore) SystemComments(taskID string, action models.SystemAction) []models.Comment {
	var out []models.Comment
	for _, c := range m.TaskComments(taskID) {
		if c.IsSystem && c.SystemAction != nil && *c.SystemAction == action {
			out = append(out, c)
		}
	}
	return out
}

// ---- repositories.Store ----

func (m *MemStore) Tasks() repositories.TaskRepository       { return memTasks{m} }
func (m *MemStore) Comments() repositories.CommentRepository { return memComments{m} }
func (m *MemStore) Projects() repositories.ProjectRepository { return memProjects{m} }
func (m *MemStore) Users() repositories.UserRepository       { return memUsers{m} }

func (m *MemStore) InTx(ctx context.Context, fn func(repositories.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	tx := &MemStore{mu: m.mu, data: m.data, faults: m.faults, inTx: true}
	if err := fn(tx); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

// lock takes the mutex unless the caller already holds it through InTx.
func (m *MemStore) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemStore) withKey(t *models.Task) *models.Task {
	if p, ok := m.data.projects[t.ProjectID]; ok {
		t.ProjectKey = p.project.Key
	}
	return t
}

func (d *memData) clone() *memData {
	c := &memData{
		tasks:    make(map[string]*models.Task, len(d.tasks)),
		comments: make([]*models.Comment, 0, len(d.comments)),
		likes:    make(map[string]map[string]bool, len(d.likes)),
		projects: make(map[string]*projectRow, len(d.projects)),
		users:    make(map[string]*models.User, len(d.users)),
	}
	for id, t := range d.tasks {
		c.tasks[id] = t.Clone()
	}
	for _, cm := range d.comments {
		cp := *cm
		c.comments = append(c.comments, &cp)
	}
	for id, users := range d.likes {
		cp := make(map[string]bool, len(users))
		for u := range users {
			cp[u] = true
		}
		c.likes[id] = cp
	}
	for id, p := range d.projects {
		cp := *p
		c.projects[id] = &cp
	}
	for id, u := range d.users {
		cp := *u
		c.users[id] = &cp
	}
	return c
}

// ---- tasks ----

type memTasks struct{ m *MemStore }

func (r memTasks) Store(ctx context.Context, task *models.Task) error {
	defer r.m.lock()()
	d := r.m.data
	if r.m.faults.conflicts > 0 {
		r.m.faults.conflicts--
		return repositories.ErrConflict
	}
	for _, t := range d.tasks {
		if t.ProjectID == task.ProjectID && t.TaskNumber == task.TaskNumber {
			return repositories.ErrConflict
		}
	}
	d.tasks[task.ID] = task.Clone()
	return nil
}

func (r memTasks) FindByID(ctx context.Context, id string) (*models.Task, error) {
	defer r.m.lock()()
	t, ok := r.m.data.tasks[id]
	if !ok || t.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	return r.m.withKey(t.Clone()), nil
}

func (r memTasks) FindByIDForUpdate(ctx context.Context, id string) (*models.Task, error) {
	return r.FindByID(ctx, id)
}

func (r memTasks) FindAll(ctx context.Context, f models.TaskFilter) ([]models.Task, int, error) {
	defer r.m.lock()()
	var out []models.Task
	for _, t := range r.m.data.tasks {
		if t.DeletedAt != nil || !matches(t, f) {
			continue
		}
		out = append(out, *r.m.withKey(t.Clone()))
	}
	sortTasks(out, f.SortBy, strings.EqualFold(f.SortDirection, "asc"))

	total := len(out)
	if f.PageSize > 0 {
		page := f.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * f.PageSize
		if start > total {
			start = total
		}
		end := start + f.PageSize
		if end > total {
			end = total
		}
		out = out[start:end]
	}
	return out, total, nil
}

func (r memTasks) Update(ctx context.Context, task *models.Task) error {
	defer r.m.lock()()
	d := r.m.data
	cur, ok := d.tasks[task.ID]
	if !ok || cur.DeletedAt != nil {
		return repositories.ErrNotFound
	}
	for _, t := range d.tasks {
		if t.ID != task.ID && t.ProjectID == task.ProjectID && t.TaskNumber == task.TaskNumber {
			return repositories.ErrConflict
		}
	}
	next := task.Clone()
	next.AttachmentCount = cur.AttachmentCount
	next.CommentCount = cur.CommentCount
	next.CreatedAt = cur.CreatedAt
	next.CreatorID = cur.CreatorID
	d.tasks[task.ID] = next
	return nil
}

func (r memTasks) SoftDelete(ctx context.Context, id string, at time.Time) error {
	defer r.m.lock()()
	t, ok := r.m.data.tasks[id]
	if !ok || t.DeletedAt != nil {
		return repositories.ErrNotFound
	}
	t.DeletedAt = &at
	t.UpdatedAt = at
	return nil
}

func (r memTasks) NextNumber(ctx context.Context, projectID string) (int, error) {
	defer r.m.lock()()
	d := r.m.data
	p, ok := d.projects[projectID]
	if !ok {
		return 0, repositories.ErrNotFound
	}
	max := p.seq
	for _, t := range d.tasks {
		if t.ProjectID == projectID && t.TaskNumber > max {
			max = t.TaskNumber
		}
	}
	p.seq = max + 1
	return p.seq, nil
}

func (r memTasks) IncrementCommentCount(ctx context.Context, id string, delta int) error {
	defer r.m.lock()()
	if t, ok := r.m.data.tasks[id]; ok {
		t.CommentCount += delta
	}
	return nil
}

func matches(t *models.Task, f models.TaskFilter) bool {
	switch {
	case f.ProjectID != nil && t.ProjectID != *f.ProjectID:
		return false
	case f.AssigneeID != nil && !t.IsAssignee(*f.AssigneeID):
		return false
	case f.CreatorID != nil && t.CreatorID != *f.CreatorID:
		return false
	case f.Status != nil && t.Status != *f.Status:
		return false
	case f.Priority != nil && t.Priority != *f.Priority:
		return false
	case f.Type != nil && t.Type != *f.Type:
		return false
	case f.Tag != nil && !t.HasTag(*f.Tag):
		return false
	}
	if f.OverdueBefore != nil {
		if t.Status == models.StatusDone || t.Status == models.StatusCancelled {
			return false
		}
		if t.DueDate == nil || !t.DueDate.Before(*f.OverdueBefore) {
			return false
		}
	}
	if f.Search != nil {
		q := strings.ToLower(*f.Search)
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

var priorityRank = map[models.TaskPriority]int{
	models.PriorityLow: 1, models.PriorityMedium: 2, models.PriorityHigh: 3, models.PriorityUrgent: 4,
}

func sortTasks(ts []models.Task, by string, asc bool) {
	less := func(a, b models.Task) int {
		switch strings.ToLower(by) {
		case "title":
			return strings.Compare(a.Title, b.Title)
		case "status":
			return strings.Compare(string(a.Status), string(b.Status))
		case "priority":
			return priorityRank[a.Priority] - priorityRank[b.Priority]
		case "task_number":
			return a.TaskNumber - b.TaskNumber
		case "due_date":
			return compareTimes(a.DueDate, b.DueDate)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(ts, func(i, j int) bool {
		c := less(ts[i], ts[j])
		if !asc {
			c = -c
		}
		if c == 0 {
			return ts[i].ID < ts[j].ID
		}
		return c < 0
	})
}

func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

// ---- comments ----

type memComments struct{ m *MemStore }

func (r memComments) Create(ctx context.Context, c *models.Comment) error {
	defer r.m.lock()()
	if r.m.faults.commentErr != nil {
		return r.m.faults.commentErr
	}
	cp := *c
	r.m.data.comments = append(r.m.data.comments, &cp)
	return nil
}

func (r memComments) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	defer r.m.lock()()
	if c := r.m.live(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, repositories.ErrNotFound
}

func (r memComments) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	defer r.m.lock()()
	c := r.m.live(id)
	if c == nil || c.IsSystem {
		return repositories.ErrNotFound
	}
	c.Content = content
	c.IsEdited = true
	c.EditedAt = &editedAt
	return nil
}

func (r memComments) SoftDelete(ctx context.Context, id string, at time.Time) error {
	defer r.m.lock()()
	c := r.m.live(id)
	if c == nil || c.IsSystem {
		return repositories.ErrNotFound
	}
	c.DeletedAt = &at
	return nil
}

func (r memComments) ToggleLike(ctx context.Context, commentID, userID string, at time.Time) (bool, int, error) {
	defer r.m.lock()()
	c := r.m.live(commentID)
	if c == nil {
		return false, 0, repositories.ErrNotFound
	}
	users := r.m.data.likes[commentID]
	if users == nil {
		users = map[string]bool{}
		r.m.data.likes[commentID] = users
	}
	liked := !users[userID]
	if liked {
		users[userID] = true
		c.LikeCount++
	} else {
		delete(users, userID)
		c.LikeCount--
	}
	return liked, c.LikeCount, nil
}

// live finds a comment that is not soft-deleted. Callers hold the lock.
func (m *MemStore) live(id string) *models.Comment {
	for _, c := range m.data.comments {
		if c.ID == id && c.DeletedAt == nil {
			return c
		}
	}
	return nil
}

func (r memComments) ListActivity(ctx context.Context, taskID string, limit int) ([]models.ActivityEntry, error) {
	defer r.m.lock()()
	var cs []*models.Comment
	for _, c := range r.m.data.comments {
		if c.TaskID == taskID && c.DeletedAt == nil {
			cs = append(cs, c)
		}
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID > cs[j].ID
	})
	if limit > 0 && len(cs) > limit {
		cs = cs[:limit]
	}
	out := make([]models.ActivityEntry, 0, len(cs))
	for _, c := range cs {
		actor := models.Actor{ID: c.UserID}
		if u, ok := r.m.data.users[c.UserID]; ok {
			actor = models.ActorOf(u)
		}
		out = append(out, models.ActivityEntry{
			ID:           c.ID,
			TaskID:       c.TaskID,
			Type:         models.ActivityTypeComment,
			Content:      c.Content,
			Actor:        actor,
			IsSystem:     c.IsSystem,
			SystemAction: c.SystemAction,
			Metadata:     c.Metadata,
			LikeCount:    c.LikeCount,
			CreatedAt:    c.CreatedAt,
		})
	}
	return out, nil
}

// ---- projects & users ----

type memProjects struct{ m *MemStore }

func (r memProjects) FindByID(ctx context.Context, id string) (*models.Project, error) {
	defer r.m.lock()()
	p, ok := r.m.data.projects[id]
	if !ok || p.project.DeletedAt != nil {
		return nil, repositories.ErrNotFound
	}
	cp := p.project
	return &cp, nil
}

type memUsers struct{ m *MemStore }

func (r memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	defer r.m.lock()()
	u, ok := r.m.data.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

var _ repositories.Store = (*MemStore)(nil)

// ErrInjected is a ready-made failure for FailCommentInserts.
var ErrInjected = errors.New("injected failure")
