package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/lock"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"github.com/itemize-cloud/campaign-engine/internal/ratelimit"
	"github.com/itemize-cloud/campaign-engine/internal/render"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSendDelay       = 100 * time.Millisecond
	defaultCheckpointEvery = 10
	lockRetryInterval      = 250 * time.Millisecond
	metricsSourceCampaign  = "campaign"
	metricsSourceTest      = "test"
)

// DispatcherConfig tunes the send loop.
type DispatcherConfig struct {
	// SendDelay is the pause between two recipients. A pause request takes
	// effect within one mail round trip plus SendDelay.
	SendDelay time.Duration
	// CheckpointEvery is how many successful sends go by between total_sent writes.
	CheckpointEvery int
	// LockWait is how long Run keeps retrying a campaign lock held by another
	// loop, which covers a loop still releasing it after a pause. Zero gives up
	// at once.
	LockWait time.Duration
	Sender   Sender
}

// RunResult is the outcome of one loop run.
type RunResult struct {
	Status domain.JobStatus
	// Sent and Failed count this run only.
	Sent   int
	Failed int
	// TotalSent is the campaign-wide sent count after the run.
	TotalSent int
	Err       error
}

// Dispatcher is the send loop. It delivers the pending recipients of a
// campaign one at a time and stops as soon as the campaign leaves sending.
type Dispatcher struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	templates  repository.TemplateRepository
	jobs       repository.JobRepository
	mailer     mailer.Mailer
	limiter    ratelimit.RateLimiter
	locker     lock.Locker
	events     *campaignEvents
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        DispatcherConfig
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	templates repository.TemplateRepository,
	jobs repository.JobRepository,
	mailClient mailer.Mailer,
	cfg DispatcherConfig,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if campaigns == nil || recipients == nil || templates == nil || jobs == nil {
		return nil, fmt.Errorf("dispatcher repositories are required")
	}
	if mailClient == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = defaultSendDelay
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	if cfg.LockWait < 0 {
		cfg.LockWait = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		campaigns:  campaigns,
		recipients: recipients,
		templates:  templates,
		jobs:       jobs,
		mailer:     mailClient,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		sleep:      sleepWithContext,
	}
	d.events = &campaignEvents{logger: logger, now: func() time.Time { return d.now() }}
	return d, nil
}

// SetRateLimiter shares a cross-process send budget between loops.
func (d *Dispatcher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	d.limiter = limiter
}

// SetLocker keeps a single loop per campaign across processes.
func (d *Dispatcher) SetLocker(locker lock.Locker) {
	d.locker = locker
}

func (d *Dispatcher) SetPublisher(publisher queue.Publisher) {
	d.events.publisher = publisher
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
	d.events.metrics = metrics
}

// Run processes the job until the pending list is exhausted, the campaign
// leaves sending, or ctx is canceled. Only a loop that ran to the end moves
// the campaign to sent; a loop that stopped early writes total_sent and
// leaves the status set by whoever stopped it.
func (d *Dispatcher) Run(ctx context.Context, job *domain.SendJob) RunResult {
	logger := observability.WithContextLogger(d.logger, ctx).With(
		zap.String("campaignId", job.CampaignID),
		zap.String("jobId", job.ID),
	)

	var lease lock.Lease
	if d.locker != nil {
		acquired, err := d.acquireLock(ctx, job.CampaignID)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return RunResult{Status: domain.JobStopped, Err: err}
			}
			return RunResult{Status: domain.JobFailed, Err: err}
		}
		lease = acquired
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release campaign lock", zap.Error(err))
			}
		}()
	}

	campaign, err := d.campaigns.GetByID(ctx, job.OrganizationID, job.CampaignID)
	if err != nil {
		return RunResult{Status: domain.JobFailed, Err: fmt.Errorf("failed to load campaign: %w", err)}
	}
	content, err := resolveContent(ctx, d.templates, campaign)
	if err != nil {
		return RunResult{Status: domain.JobFailed, Err: err}
	}
	pending, err := d.recipients.ListPending(ctx, campaign.ID)
	if err != nil {
		return RunResult{Status: domain.JobFailed, Err: fmt.Errorf("failed to list pending recipients: %w", err)}
	}
	alreadySent, err := d.recipients.CountByStatus(ctx, campaign.ID, domain.RecipientSent)
	if err != nil {
		return RunResult{Status: domain.JobFailed, Err: fmt.Errorf("failed to count sent recipients: %w", err)}
	}

	logger.Info("send loop started",
		zap.String("kind", job.Kind.String()),
		zap.Int("pending", len(pending)),
		zap.Int64("alreadySent", alreadySent),
	)

	result := RunResult{Status: domain.JobCompleted, TotalSent: int(alreadySent)}

	for i, recipient := range pending {
		if ctx.Err() != nil {
			result.Status = domain.JobStopped
			break
		}

		status, err := d.campaigns.GetStatus(ctx, campaign.ID)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = domain.JobStopped
				break
			}
			result.Status = domain.JobFailed
			result.Err = fmt.Errorf("failed to read campaign status: %w", err)
			break
		}
		if status != domain.CampaignSending {
			logger.Info("campaign left sending, stopping loop", zap.String("status", status.String()))
			result.Status = domain.JobStopped
			break
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, ratelimit.ScopeEmail); err != nil {
				if ctx.Err() != nil {
					result.Status = domain.JobStopped
					break
				}
				logger.Warn("send throttle unavailable, continuing unthrottled", zap.Error(err))
			}
		}

		if d.deliver(ctx, logger, campaign, content, recipient) {
			result.Sent++
			result.TotalSent++
			if result.Sent%d.cfg.CheckpointEvery == 0 {
				d.checkpoint(ctx, logger, job, &result)
			}
		} else {
			result.Failed++
		}

		// The lease is renewed after every attempt, failed or not.
		if err := renewLease(ctx, logger, lease); err != nil {
			result.Status = domain.JobStopped
			result.Err = err
			break
		}

		if i < len(pending)-1 && d.cfg.SendDelay > 0 {
			if err := d.sleep(ctx, d.cfg.SendDelay); err != nil {
				result.Status = domain.JobStopped
				break
			}
		}
	}

	d.finish(ctx, logger, campaign, &result)
	return result
}

// deliver sends to one recipient and records the outcome on its row. It
// reports whether the email was accepted by the transport.
func (d *Dispatcher) deliver(
	ctx context.Context,
	logger *zap.Logger,
	campaign *domain.Campaign,
	content domain.EmailContent,
	recipient *domain.CampaignRecipient,
) bool {
	// Row writes and the in-flight send outlive a shutdown so a delivered
	// email is never left pending.
	writeCtx := context.WithoutCancel(ctx)

	rendered := render.RenderEmail(content, render.LiveVariables(recipient))
	email := composeEmail(campaign, d.cfg.Sender, recipient.Email, rendered)

	started := d.now()
	res, sendErr := d.mailer.Send(writeCtx, email)
	d.metrics.ObserveEmailSendDuration(metricsSourceCampaign, d.now().Sub(started))

	if sendErr != nil {
		d.metrics.IncEmailFailed(metricsSourceCampaign, mailer.FailureReason(sendErr))
		logger.Warn("recipient delivery failed",
			zap.String("recipientId", recipient.ID),
			zap.Bool("transient", mailer.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		if err := d.recipients.MarkFailed(writeCtx, recipient.ID, sendErr.Error()); err != nil {
			logger.Error("failed to mark recipient failed",
				zap.String("recipientId", recipient.ID),
				zap.Error(err),
			)
		}
		return false
	}

	messageID := ""
	if res != nil {
		messageID = res.MessageID
	}
	d.metrics.IncEmailSent(metricsSourceCampaign)
	if err := d.recipients.MarkSent(writeCtx, recipient.ID, messageID, d.now().UTC()); err != nil {
		logger.Error("failed to mark recipient sent",
			zap.String("recipientId", recipient.ID),
			zap.Error(err),
		)
	}
	return true
}

// checkpoint persists progress. Failures are logged; the final write in
// finish catches up.
func (d *Dispatcher) checkpoint(ctx context.Context, logger *zap.Logger, job *domain.SendJob, result *RunResult) {
	writeCtx := context.WithoutCancel(ctx)
	if err := d.campaigns.Checkpoint(writeCtx, job.CampaignID, result.TotalSent); err != nil {
		logger.Error("failed to checkpoint total_sent", zap.Int("totalSent", result.TotalSent), zap.Error(err))
	}
	if err := d.jobs.UpdateProgress(writeCtx, job.ID, result.Sent, result.Failed); err != nil {
		logger.Warn("failed to update job progress", zap.Error(err))
	}
}

// acquireLock takes the campaign lock, retrying for up to LockWait while
// another loop holds it.
func (d *Dispatcher) acquireLock(ctx context.Context, campaignID string) (lock.Lease, error) {
	attempts := 1 + int(d.cfg.LockWait/lockRetryInterval)
	for attempt := 1; ; attempt++ {
		lease, ok, err := d.locker.Acquire(ctx, campaignLockKey(campaignID))
		if err != nil {
			return nil, fmt.Errorf("failed to acquire campaign lock: %w", err)
		}
		if ok {
			return lease, nil
		}
		if attempt >= attempts {
			return nil, fmt.Errorf("%w: another sender holds the campaign", domain.ErrConflict)
		}
		if err := d.sleep(ctx, lockRetryInterval); err != nil {
			return nil, fmt.Errorf("%w: another sender holds the campaign", domain.ErrConflict)
		}
	}
}

// renewLease extends the campaign lock. It fails only when the lock went to
// another owner.
func renewLease(ctx context.Context, logger *zap.Logger, lease lock.Lease) error {
	if lease == nil {
		return nil
	}
	if err := lease.Extend(context.WithoutCancel(ctx)); err != nil {
		if errors.Is(err, lock.ErrLockLost) {
			return err
		}
		logger.Warn("failed to extend campaign lock", zap.Error(err))
	}
	return nil
}

func (d *Dispatcher) finish(ctx context.Context, logger *zap.Logger, campaign *domain.Campaign, result *RunResult) {
	writeCtx := context.WithoutCancel(ctx)

	if result.Status == domain.JobCompleted {
		applied, err := d.campaigns.Complete(writeCtx, campaign.ID, []domain.CampaignStatus{domain.CampaignSending}, result.TotalSent, d.now().UTC())
		switch {
		case err != nil:
			result.Status = domain.JobFailed
			result.Err = fmt.Errorf("failed to complete campaign: %w", err)
		case applied:
			d.events.transitioned(ctx, campaign.ID, campaign.OrganizationID, domain.CampaignSent, result.TotalSent)
			logger.Info("send loop completed",
				zap.Int("sent", result.Sent),
				zap.Int("failed", result.Failed),
				zap.Int("totalSent", result.TotalSent),
			)
			return
		default:
			// Paused or otherwise moved between the last recipient and the final write.
			result.Status = domain.JobStopped
		}
	}

	if err := d.campaigns.Checkpoint(writeCtx, campaign.ID, result.TotalSent); err != nil {
		logger.Error("failed to write final total_sent", zap.Error(err))
	}
	logger.Info("send loop stopped",
		zap.String("status", result.Status.String()),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("totalSent", result.TotalSent),
		zap.Error(result.Err),
	)
}

func campaignLockKey(campaignID string) string {
	return "campaign:" + campaignID
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
