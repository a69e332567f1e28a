package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("unique constraint violation")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories behind one unit of work.
// Repositories obtained inside InTx share the transaction.
type Store interface {
	Tasks() TaskRepository
	Comments() CommentRepository
	Projects() ProjectRepository
	Users() UserRepository
	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	db *sql.DB
	q  DBTX
}

func NewStore(db *sql.DB) Store {
	return &pgStore{db: db, q: db}
}

func (s *pgStore) Tasks() TaskRepository       { return NewTaskRepository(s.q) }
func (s *pgStore) Comments() CommentRepository { return NewCommentRepository(s.q) }
func (s *pgStore) Projects() ProjectRepository { return NewProjectRepository(s.q) }
func (s *pgStore) Users() UserRepository       { return NewUserRepository(s.q) }

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgStore{db: s.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapPQError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapPQError turns unique violations into ErrConflict.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}
