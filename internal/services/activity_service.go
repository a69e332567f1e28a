package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

const (
	DefaultActivityLimit = 20
	MaxActivityLimit     = 100
	maxCommentLength     = 5000
)

// ActivityService projects a task's comments into its activity log and
// handles user comments.
type ActivityService interface {
	List(ctx context.Context, taskID string, limit int) ([]models.ActivityEntry, error)
	AddComment(ctx context.Context, taskID, actorID, content string) (*models.Comment, error)
	EditComment(ctx context.Context, commentID, actorID, content string) (*models.Comment, error)
	DeleteComment(ctx context.Context, commentID, actorID string) error
	ToggleLike(ctx context.Context, commentID, actorID string) (*models.LikeState, error)
}

type activityService struct {
	store        repositories.Store
	defaultLimit int
	publisher    ActivityPublisher
	now          func() time.Time
}

func NewActivityService(store repositories.Store, defaultLimit int, publisher ActivityPublisher) ActivityService {
	if defaultLimit <= 0 || defaultLimit > MaxActivityLimit {
		defaultLimit = DefaultActivityLimit
	}
	return &activityService{
		store:        store,
		defaultLimit: defaultLimit,
		publisher:    publisher,
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (s *activityService) List(ctx context.Context, taskID string, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	if _, err := s.store.Tasks().FindByID(ctx, taskID); err != nil {
		return nil, translate(err, "task", taskID)
	}
	entries, err := s.store.Comments().ListActivity(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	return entries, nil
}

func (s *activityService) AddComment(ctx context.Context, taskID, actorID, content string) (*models.Comment, error) {
	content, err := validateComment(content)
	if err != nil {
		return nil, err
	}
	comment := &models.Comment{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    actorID,
		Content:   content,
		Metadata:  map[string]any{},
		CreatedAt: s.now(),
	}
	err = s.store.InTx(ctx, func(st repositories.Store) error {
		if _, err := st.Tasks().FindByID(ctx, taskID); err != nil {
			return translate(err, "task", taskID)
		}
		if err := st.Comments().Create(ctx, comment); err != nil {
			return err
		}
		return st.Tasks().IncrementCommentCount(ctx, taskID, 1)
	})
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, activityEntries(ctx, s.store, []*models.Comment{comment}))
	}
	return comment, nil
}

func (s *activityService) EditComment(ctx context.Context, commentID, actorID, content string) (*models.Comment, error) {
	content, err := validateComment(content)
	if err != nil {
		return nil, err
	}
	var out *models.Comment
	err = s.store.InTx(ctx, func(st repositories.Store) error {
		c, err := st.Comments().FindByID(ctx, commentID)
		if err != nil {
			return translate(err, "comment", commentID)
		}
		if c.IsSystem {
			return deniedf("system comment %s cannot be edited", commentID)
		}
		if c.UserID != actorID {
			return deniedf("only the author can edit comment %s", commentID)
		}
		now := s.now()
		if err := st.Comments().UpdateContent(ctx, commentID, content, now); err != nil {
			return translate(err, "comment", commentID)
		}
		c.Content = content
		c.IsEdited = true
		c.EditedAt = &now
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteComment soft-deletes a user comment. Only its author may do so and the
// task's comment count drops in the same transaction.
func (s *activityService) DeleteComment(ctx context.Context, commentID, actorID string) error {
	return s.store.InTx(ctx, func(st repositories.Store) error {
		c, err := st.Comments().FindByID(ctx, commentID)
		if err != nil {
			return translate(err, "comment", commentID)
		}
		if c.IsSystem {
			return deniedf("system comment %s cannot be deleted", commentID)
		}
		if c.UserID != actorID {
			return deniedf("only the author can delete comment %s", commentID)
		}
		if err := st.Comments().SoftDelete(ctx, commentID, s.now()); err != nil {
			return translate(err, "comment", commentID)
		}
		return st.Tasks().IncrementCommentCount(ctx, c.TaskID, -1)
	})
}

func (s *activityService) ToggleLike(ctx context.Context, commentID, actorID string) (*models.LikeState, error) {
	var out *models.LikeState
	err := s.store.InTx(ctx, func(st repositories.Store) error {
		c, err := st.Comments().FindByID(ctx, commentID)
		if err != nil {
			return translate(err, "comment", commentID)
		}
		if c.IsSystem {
			return deniedf("system comment %s cannot be liked", commentID)
		}
		liked, count, err := st.Comments().ToggleLike(ctx, commentID, actorID, s.now())
		if err != nil {
			return translate(err, "comment", commentID)
		}
		out = &models.LikeState{CommentID: commentID, Liked: liked, LikeCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", invalidf("comment content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return "", invalidf("comment exceeds %d characters", maxCommentLength)
	}
	return content, nil
}

// activityEntries turns freshly committed comments into activity entries,
// resolving each distinct author once.
func activityEntries(ctx context.Context, store repositories.Store, comments []*models.Comment) []models.ActivityEntry {
	actors := map[string]models.Actor{}
	out := make([]models.ActivityEntry, 0, len(comments))
	for _, c := range comments {
		actor, ok := actors[c.UserID]
		if !ok {
			actor = models.Actor{ID: c.UserID}
			if u, err := store.Users().GetByID(ctx, c.UserID); err == nil {
				actor = models.ActorOf(u)
			}
			actors[c.UserID] = actor
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
	return out
}
