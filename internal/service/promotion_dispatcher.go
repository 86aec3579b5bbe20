package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-registrar-api/pkg/jobs"
)

// PromotionJobType names the queued promotion task.
const PromotionJobType = "waitlist.promote"

// PromotionJobPayload identifies the subject/term a promotion pass covers.
type PromotionJobPayload struct {
	SubjectID    string
	Semester     int
	AcademicYear string
}

// PromotionDispatcher enqueues promotion passes onto the background queue. It
// implements the trigger the enrollment service fires on drops.
type PromotionDispatcher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewPromotionDispatcher constructs PromotionDispatcher.
func NewPromotionDispatcher(queue *jobs.Queue, logger *zap.Logger) *PromotionDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotionDispatcher{queue: queue, logger: logger}
}

// TriggerPromotion schedules a promotion batch; failures are logged, never
// surfaced, since the batch endpoint can always re-run the pass.
func (d *PromotionDispatcher) TriggerPromotion(subjectID string, semester int, academicYear string) {
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: PromotionJobType,
		Payload: PromotionJobPayload{
			SubjectID:    subjectID,
			Semester:     semester,
			AcademicYear: academicYear,
		},
	}
	if err := d.queue.Enqueue(job); err != nil {
		d.logger.Warn("failed to enqueue promotion job",
			zap.String("subject_id", subjectID), zap.Error(err))
	}
}

// NewPromotionJobHandler adapts the waitlist service into a queue handler.
func NewPromotionJobHandler(svc *WaitlistService, logger *zap.Logger) jobs.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(PromotionJobPayload)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for job %s", job.Payload, job.ID)
		}
		summary, err := svc.Promote(ctx, payload.SubjectID, payload.Semester, payload.AcademicYear)
		if err != nil {
			return err
		}
		logger.Info("promotion batch finished",
			zap.String("subject_id", payload.SubjectID),
			zap.Int("processed", summary.Processed),
			zap.Int("enrolled", summary.Enrolled))
		return nil
	}
}
