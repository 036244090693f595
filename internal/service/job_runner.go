package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

// ErrRunnerClosed is returned by Start after Shutdown.
var ErrRunnerClosed = errors.New("job runner is shut down")

type runningJob struct {
	job  *domain.SendJob
	ctx  context.Context
	done chan struct{}
	// next waits for this job to exit before it is launched.
	next *runningJob
}

// JobRunner runs send loops in the background and records each run as a
// SendJob row. Loops run under the runner's own context, not the request's,
// so they outlive the HTTP call that started them.
type JobRunner struct {
	jobs    repository.JobRepository
	loop    SendLoop
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	byJob      map[string]*runningJob
	byCampaign map[string]*runningJob
}

func NewJobRunner(
	jobs repository.JobRepository,
	loop SendLoop,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*JobRunner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if loop == nil {
		return nil, fmt.Errorf("send loop is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &JobRunner{
		jobs:       jobs,
		loop:       loop,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		baseCtx:    baseCtx,
		cancel:     cancel,
		byJob:      make(map[string]*runningJob),
		byCampaign: make(map[string]*runningJob),
	}, nil
}

// Start persists a running job and launches its loop. If a loop for the
// campaign is still running in this process, the new job is queued behind
// it and launched once that loop exits; the running loop may already have
// seen the campaign leave sending and be on its way out. A campaign has at
// most one queued job, later calls return it.
func (r *JobRunner) Start(ctx context.Context, campaign *domain.Campaign, kind domain.JobKind, total int) (*domain.SendJob, error) {
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRunnerClosed
	}
	current, busy := r.byCampaign[campaign.ID]
	if busy && current.next != nil {
		queued := *current.next.job
		return &queued, nil
	}

	job := &domain.SendJob{
		ID:             uuid.NewString(),
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		Kind:           kind,
		Status:         domain.JobRunning,
		Total:          total,
		StartedAt:      r.now().UTC(),
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create send job: %w", err)
	}

	running := &runningJob{job: job, ctx: r.runContext(ctx, campaign), done: make(chan struct{})}
	r.byJob[job.ID] = running
	snapshot := *job

	if busy {
		current.next = running
		r.logger.Info("send job queued behind running loop",
			zap.String("campaignId", campaign.ID),
			zap.String("jobId", job.ID),
			zap.String("runningJobId", current.job.ID),
		)
		return &snapshot, nil
	}

	r.byCampaign[campaign.ID] = running
	r.launch(running)
	return &snapshot, nil
}

// runContext derives the loop context from the runner's own, keeping the
// request's correlation id and the campaign's organization on the loop's logs.
func (r *JobRunner) runContext(ctx context.Context, campaign *domain.Campaign) context.Context {
	runCtx := r.baseCtx
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		runCtx = observability.WithCorrelationID(runCtx, correlationID)
	}
	if campaign.OrganizationID != "" {
		runCtx = observability.WithOrganizationID(runCtx, campaign.OrganizationID)
	}
	return runCtx
}

// launch must be called with r.mu held.
func (r *JobRunner) launch(running *runningJob) {
	r.wg.Add(1)
	go r.run(running)
}

func (r *JobRunner) run(running *runningJob) {
	defer r.wg.Done()

	ctx := running.ctx

	job := *running.job
	kind := job.Kind.String()
	r.metrics.IncSendJobsInFlight(kind)
	defer r.metrics.DecSendJobsInFlight(kind)

	result := r.safeRun(ctx, &job)

	finishedAt := r.now().UTC()
	job.Status = result.Status
	job.Sent = result.Sent
	job.Failed = result.Failed
	job.FinishedAt = &finishedAt
	if result.Err != nil {
		msg := result.Err.Error()
		job.Error = &msg
	}

	if err := r.jobs.Finish(context.WithoutCancel(ctx), &job); err != nil {
		r.logger.Error("failed to persist send job result",
			zap.String("jobId", job.ID),
			zap.String("status", job.Status.String()),
			zap.Error(err),
		)
	}

	r.mu.Lock()
	delete(r.byJob, job.ID)
	if r.byCampaign[job.CampaignID] == running {
		delete(r.byCampaign, job.CampaignID)
	}
	next := running.next
	if next != nil && !r.closed {
		r.byCampaign[job.CampaignID] = next
		r.launch(next)
		next = nil
	}
	r.mu.Unlock()

	if next != nil {
		r.dropQueued(next)
	}
	close(running.done)
}

// dropQueued closes out a queued job that never ran because the runner shut
// down first. The campaign stays in sending for recovery to pick up.
func (r *JobRunner) dropQueued(queued *runningJob) {
	job := *queued.job
	finishedAt := r.now().UTC()
	msg := ErrRunnerClosed.Error()
	job.Status = domain.JobStopped
	job.FinishedAt = &finishedAt
	job.Error = &msg

	if err := r.jobs.Finish(context.WithoutCancel(queued.ctx), &job); err != nil {
		r.logger.Error("failed to persist queued send job result",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}

	r.mu.Lock()
	delete(r.byJob, job.ID)
	r.mu.Unlock()
	close(queued.done)
}

func (r *JobRunner) safeRun(ctx context.Context, job *domain.SendJob) (result RunResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("send loop panicked",
				zap.String("jobId", job.ID),
				zap.Any("panic", rec),
			)
			result = RunResult{Status: domain.JobFailed, Err: fmt.Errorf("send loop panicked: %v", rec)}
		}
	}()
	return r.loop.Run(ctx, job)
}

// Wait blocks until the job finishes or ctx ends. Unknown or finished jobs
// return immediately.
func (r *JobRunner) Wait(ctx context.Context, jobID string) error {
	r.mu.Lock()
	running, ok := r.byJob[jobID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-running.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether a loop for the campaign is active in this process.
func (r *JobRunner) IsRunning(campaignID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byCampaign[campaignID]
	return ok
}

// Shutdown refuses new jobs, cancels running loops at their next recipient
// boundary and waits for them to persist their results.
func (r *JobRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send jobs did not stop in time: %w", ctx.Err())
	}
}
