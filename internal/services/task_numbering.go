package services

import (
	"context"
	"errors"

	"taskflow/internal/repositories"
)

const numberingAttempts = 3

// allocateNumber reserves the next task number of a project. It must run in
// the same transaction that stores the task carrying the number.
func allocateNumber(ctx context.Context, st repositories.Store, projectID string) (int, error) {
	n, err := st.Tasks().NextNumber(ctx, projectID)
	if err != nil {
		return 0, translate(err, "project", projectID)
	}
	return n, nil
}

// withNumberingRetry reruns fn when the (project, number) unique index
// rejected the write because a concurrent transaction took the number first.
func withNumberingRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < numberingAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, repositories.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
