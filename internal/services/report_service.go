package services

import (
	"context"
	"time"

	"taskflow/internal/pdf"
	"taskflow/internal/repositories"
)

const reportActivityLimit = 50

// ReportRenderer is satisfied by *pdf.TaskReportGenerator.
type ReportRenderer interface {
	Render(data pdf.TaskReportData) ([]byte, error)
}

type ReportService interface {
	// TaskPDF returns the rendered report and a download file name.
	TaskPDF(ctx context.Context, taskID string) ([]byte, string, error)
}

type reportService struct {
	store    repositories.Store
	activity ActivityService
	renderer ReportRenderer
}

func NewReportService(store repositories.Store, activity ActivityService, renderer ReportRenderer) ReportService {
	return &reportService{store: store, activity: activity, renderer: renderer}
}

func (s *reportService) TaskPDF(ctx context.Context, taskID string) ([]byte, string, error) {
	task, err := s.store.Tasks().FindByID(ctx, taskID)
	if err != nil {
		return nil, "", translate(err, "task", taskID)
	}
	entries, err := s.activity.List(ctx, taskID, reportActivityLimit)
	if err != nil {
		return nil, "", err
	}

	data := pdf.TaskReportData{
		Task:        task,
		CreatorName: userName(ctx, s.store, task.CreatorID),
		Activity:    entries,
		GeneratedAt: time.Now().UTC(),
	}
	if task.AssigneeID != nil {
		data.AssigneeName = userName(ctx, s.store, *task.AssigneeID)
	}
	out, err := s.renderer.Render(data)
	if err != nil {
		return nil, "", err
	}
	return out, task.Key() + ".pdf", nil
}

var _ ReportRenderer = (*pdf.TaskReportGenerator)(nil)
