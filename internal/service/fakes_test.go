package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/lock"
	"github.com/itemize-cloud/campaign-engine/internal/mailer"
	"github.com/itemize-cloud/campaign-engine/internal/queue"
	"github.com/itemize-cloud/campaign-engine/internal/repository"
	"github.com/itemize-cloud/campaign-engine/internal/usage"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for the campaign tables. The typed views
// below implement the repository interfaces over it.
type memStore struct {
	mu          sync.Mutex
	campaigns   map[string]*domain.Campaign
	recipients  map[string][]*domain.CampaignRecipient
	contacts    []domain.Contact
	contactTags map[string][]string
	templates   map[string]*domain.EmailTemplate
	jobs        map[string]*domain.SendJob
	checkpoints []int

	startSendingErr error
	getStatusFn     func(campaignID string) (domain.CampaignStatus, error)
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:   make(map[string]*domain.Campaign),
		recipients:  make(map[string][]*domain.CampaignRecipient),
		contactTags: make(map[string][]string),
		templates:   make(map[string]*domain.EmailTemplate),
		jobs:        make(map[string]*domain.SendJob),
	}
}

func (s *memStore) campaignRepo() *memCampaigns   { return &memCampaigns{s} }
func (s *memStore) recipientRepo() *memRecipients { return &memRecipients{s} }
func (s *memStore) contactRepo() *memContacts     { return &memContacts{s} }
func (s *memStore) templateRepo() *memTemplates   { return &memTemplates{s} }
func (s *memStore) jobRepo() *memJobs             { return &memJobs{s} }

func (s *memStore) addCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Segment.Kind == "" {
		c.Segment = domain.AllContacts()
	}
	s.campaigns[c.ID] = &c
}

func (s *memStore) addContacts(orgID string, n int) []domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	added := make([]domain.Contact, 0, n)
	for i := 0; i < n; i++ {
		idx := len(s.contacts) + 1
		c := domain.Contact{
			ID:             fmt.Sprintf("contact-%02d", idx),
			OrganizationID: orgID,
			Email:          fmt.Sprintf("user%02d@example.com", idx),
			FirstName:      fmt.Sprintf("First%02d", idx),
			LastName:       "Last",
			Status:         "lead",
			CreatedAt:      base.Add(time.Duration(idx) * time.Minute),
		}
		s.contacts = append(s.contacts, c)
		added = append(added, c)
	}
	return added
}

func (s *memStore) setStatus(campaignID string, status domain.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[campaignID].Status = status
}

func (s *memStore) campaign(campaignID string) domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[campaignID]
}

func (s *memStore) recipientStatuses(campaignID string) []domain.RecipientStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecipientStatus, 0, len(s.recipients[campaignID]))
	for _, r := range s.recipients[campaignID] {
		out = append(out, r.Status)
	}
	return out
}

func (s *memStore) recipientRows(campaignID string) []domain.CampaignRecipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CampaignRecipient, 0, len(s.recipients[campaignID]))
	for _, r := range s.recipients[campaignID] {
		out = append(out, *r)
	}
	return out
}

func (s *memStore) job(jobID string) domain.SendJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

func (s *memStore) checkpointLog() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.checkpoints...)
}

func statusIn(status domain.CampaignStatus, allowed []domain.CampaignStatus) bool {
	return slices.Contains(allowed, status)
}

type memCampaigns struct{ s *memStore }

var _ repository.CampaignRepository = (*memCampaigns)(nil)

func (r *memCampaigns) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *c
	r.s.campaigns[c.ID] = &stored
	return nil
}

func (r *memCampaigns) GetByID(_ context.Context, orgID, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return nil, domain.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *memCampaigns) GetStatus(_ context.Context, id string) (domain.CampaignStatus, error) {
	if r.s.getStatusFn != nil {
		return r.s.getStatusFn(id)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return "", domain.ErrNotFound
	}
	return c.Status, nil
}

func (r *memCampaigns) List(_ context.Context, params repository.CampaignListParams) ([]domain.Campaign, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.OrganizationID != params.OrganizationID {
			continue
		}
		if params.Status != nil && c.Status != *params.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, int64(len(out)), nil
}

func (r *memCampaigns) Update(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.campaigns[c.ID]
	if !ok || existing.OrganizationID != c.OrganizationID {
		return domain.ErrNotFound
	}
	if !existing.Status.Editable() {
		return domain.ErrInvalidState
	}
	stored := *c
	stored.Status = existing.Status
	r.s.campaigns[c.ID] = &stored
	return nil
}

func (r *memCampaigns) Delete(_ context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return domain.ErrNotFound
	}
	if c.Status == domain.CampaignSending {
		return domain.ErrInvalidState
	}
	delete(r.s.campaigns, id)
	delete(r.s.recipients, id)
	return nil
}

func (r *memCampaigns) Schedule(_ context.Context, orgID, id string, at *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return domain.ErrNotFound
	}
	if !c.Status.Editable() {
		return domain.ErrInvalidState
	}
	c.ScheduledAt = at
	c.Status = domain.CampaignDraft
	if at != nil {
		c.Status = domain.CampaignScheduled
	}
	return nil
}

func (r *memCampaigns) Transition(_ context.Context, orgID, id string, from []domain.CampaignStatus, to domain.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.OrganizationID != orgID {
		return domain.ErrNotFound
	}
	if !statusIn(c.Status, from) {
		return fmt.Errorf("%w: campaign is %s", domain.ErrInvalidState, c.Status)
	}
	c.Status = to
	return nil
}

func (r *memCampaigns) StartSending(_ context.Context, start domain.SendStart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.startSendingErr != nil {
		return r.s.startSendingErr
	}
	c, ok := r.s.campaigns[start.CampaignID]
	if !ok || c.OrganizationID != start.OrganizationID {
		return domain.ErrNotFound
	}
	if !statusIn(c.Status, start.From) {
		return domain.ErrInvalidState
	}
	startedAt := start.StartedAt
	c.Status = domain.CampaignSending
	c.StartedAt = &startedAt
	c.TotalRecipients = start.TotalRecipients
	c.TotalSent = 0
	c.CompletedAt = nil

	existing := r.s.recipients[c.ID]
	for _, rec := range start.Recipients {
		duplicate := slices.ContainsFunc(existing, func(e *domain.CampaignRecipient) bool {
			return e.ContactID == rec.ContactID
		})
		if duplicate {
			continue
		}
		stored := *rec
		existing = append(existing, &stored)
	}
	r.s.recipients[c.ID] = existing
	return nil
}

func (r *memCampaigns) Checkpoint(_ context.Context, id string, totalSent int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.campaigns[id].TotalSent = totalSent
	r.s.checkpoints = append(r.s.checkpoints, totalSent)
	return nil
}

func (r *memCampaigns) Complete(_ context.Context, id string, from []domain.CampaignStatus, totalSent int, completedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := r.s.campaigns[id]
	if !statusIn(c.Status, from) {
		return false, nil
	}
	c.Status = domain.CampaignSent
	c.TotalSent = totalSent
	c.CompletedAt = &completedAt
	return true, nil
}

func (r *memCampaigns) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCampaigns) ListByStatus(_ context.Context, status domain.CampaignStatus, limit int) ([]domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRecipients struct{ s *memStore }

var _ repository.RecipientRepository = (*memRecipients)(nil)

func (r *memRecipients) ListPending(_ context.Context, campaignID string) ([]*domain.CampaignRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CampaignRecipient
	for _, rec := range r.s.recipients[campaignID] {
		if rec.Status == domain.RecipientPending {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memRecipients) List(_ context.Context, params repository.RecipientListParams) ([]domain.CampaignRecipient, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.CampaignRecipient
	for _, rec := range r.s.recipients[params.CampaignID] {
		if params.Status != nil && rec.Status != *params.Status {
			continue
		}
		out = append(out, *rec)
	}
	return out, int64(len(out)), nil
}

func (r *memRecipients) find(id string) *domain.CampaignRecipient {
	for _, list := range r.s.recipients {
		for _, rec := range list {
			if rec.ID == id {
				return rec
			}
		}
	}
	return nil
}

func (r *memRecipients) MarkSent(_ context.Context, id string, providerMessageID string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec := r.find(id)
	if rec == nil {
		return domain.ErrNotFound
	}
	if rec.Status != domain.RecipientPending {
		return domain.ErrConflict
	}
	rec.Status = domain.RecipientSent
	rec.SentAt = &sentAt
	rec.ProviderMessageID = &providerMessageID
	return nil
}

func (r *memRecipients) MarkFailed(_ context.Context, id string, errMessage string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec := r.find(id)
	if rec == nil {
		return domain.ErrNotFound
	}
	if rec.Status != domain.RecipientPending {
		return domain.ErrConflict
	}
	rec.Status = domain.RecipientFailed
	rec.ErrorMessage = &errMessage
	return nil
}

func (r *memRecipients) CountByStatus(_ context.Context, campaignID string, status domain.RecipientStatus) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, rec := range r.s.recipients[campaignID] {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *memRecipients) StatusCounts(_ context.Context, campaignID string) ([]domain.RecipientStatusCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[domain.RecipientStatus]int{}
	for _, rec := range r.s.recipients[campaignID] {
		counts[rec.Status]++
	}
	var out []domain.RecipientStatusCount
	for _, status := range []domain.RecipientStatus{domain.RecipientPending, domain.RecipientSent, domain.RecipientFailed} {
		if counts[status] > 0 {
			out = append(out, domain.RecipientStatusCount{Status: status, Count: counts[status]})
		}
	}
	return out, nil
}

type memContacts struct{ s *memStore }

var _ repository.ContactRepository = (*memContacts)(nil)

func (r *memContacts) FindEligible(_ context.Context, orgID string, segment domain.Segment) ([]domain.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	hasAny := func(contactID string, tags []string) bool {
		for _, tag := range r.s.contactTags[contactID] {
			if slices.Contains(tags, tag) {
				return true
			}
		}
		return false
	}

	var out []domain.Contact
	for _, c := range r.s.contacts {
		if c.OrganizationID != orgID || c.Email == "" || c.Unsubscribed || c.Bounced {
			continue
		}
		if tags := segment.TagFilter(); tags != nil && !hasAny(c.ID, tags) {
			continue
		}
		if status := segment.StatusFilter(); status != "" && c.Status != status {
			continue
		}
		if len(segment.ExcludedTagIDs) > 0 && hasAny(c.ID, segment.ExcludedTagIDs) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memContacts) CountEligible(ctx context.Context, orgID string, segment domain.Segment) (int64, error) {
	contacts, err := r.FindEligible(ctx, orgID, segment)
	return int64(len(contacts)), err
}

type memTemplates struct{ s *memStore }

func (r *memTemplates) GetByID(_ context.Context, orgID, id string) (*domain.EmailTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tpl, ok := r.s.templates[id]
	if !ok || tpl.OrganizationID != orgID {
		return nil, domain.ErrNotFound
	}
	out := *tpl
	return &out, nil
}

type memJobs struct{ s *memStore }

var _ repository.JobRepository = (*memJobs)(nil)

func (r *memJobs) Create(_ context.Context, job *domain.SendJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *job
	r.s.jobs[job.ID] = &stored
	return nil
}

func (r *memJobs) GetByID(_ context.Context, orgID, id string) (*domain.SendJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.OrganizationID != orgID {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (r *memJobs) UpdateProgress(_ context.Context, id string, sent, failed int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job, ok := r.s.jobs[id]; ok && job.Status == domain.JobRunning {
		job.Sent = sent
		job.Failed = failed
	}
	return nil
}

func (r *memJobs) Finish(_ context.Context, job *domain.SendJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.ID]; !ok {
		return domain.ErrNotFound
	}
	stored := *job
	r.s.jobs[job.ID] = &stored
	return nil
}

func (r *memJobs) AbandonRunning(_ context.Context, campaignID, reason string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, job := range r.s.jobs {
		if job.CampaignID == campaignID && job.Status == domain.JobRunning {
			job.Status = domain.JobFailed
			job.Error = &reason
			job.FinishedAt = &at
			n++
		}
	}
	return n, nil
}

// memUsage is an in-memory usage counter table.
type memUsage struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemUsage() *memUsage {
	return &memUsage{counts: make(map[string]int64)}
}

func usageKey(orgID string, resource domain.ResourceType, period time.Time) string {
	return orgID + "|" + resource.String() + "|" + period.Format(time.RFC3339)
}

func (u *memUsage) Current(_ context.Context, orgID string, resource domain.ResourceType, period time.Time) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[usageKey(orgID, resource, period)], nil
}

func (u *memUsage) Increment(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[usageKey(orgID, resource, period)] += amount
	return nil
}

func (u *memUsage) Reserve(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount, limit int64) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := usageKey(orgID, resource, period)
	if u.counts[key]+amount > limit {
		return false, nil
	}
	u.counts[key] += amount
	return true, nil
}

func (u *memUsage) Release(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	key := usageKey(orgID, resource, period)
	u.counts[key] = max(u.counts[key]-amount, 0)
	return nil
}

func (u *memUsage) emails(orgID string) int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	var total int64
	for key, count := range u.counts {
		if strings.HasPrefix(key, orgID+"|"+domain.ResourceEmails.String()+"|") {
			total += count
		}
	}
	return total
}

type fixedLimits map[domain.ResourceType]int64

func (f fixedLimits) Limit(_ context.Context, _ string, resource domain.ResourceType) (int64, error) {
	return f[resource], nil
}

func newTestAccountant(t *testing.T, emailLimit int64, counter *memUsage) *usage.Accountant {
	accountant, err := usage.NewAccountant(fixedLimits{domain.ResourceEmails: emailLimit}, counter, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAccountant() error = %v", err)
	}
	return accountant
}

type fakeMailer struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, email mailer.Email, call int) (*mailer.SendResult, error)
	sent   []mailer.Email
}

func (f *fakeMailer) Send(ctx context.Context, email mailer.Email) (*mailer.SendResult, error) {
	f.mu.Lock()
	f.sent = append(f.sent, email)
	call := len(f.sent)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, email, call)
	}
	return &mailer.SendResult{MessageID: fmt.Sprintf("msg-%d", call), StatusCode: 200}, nil
}

func (f *fakeMailer) emails() []mailer.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Email(nil), f.sent...)
}

type fakeJobStarter struct {
	startFn   func(ctx context.Context, campaign *domain.Campaign, kind domain.JobKind, total int) (*domain.SendJob, error)
	isRunning func(campaignID string) bool
	started   []domain.SendJob
}

func (f *fakeJobStarter) Start(ctx context.Context, campaign *domain.Campaign, kind domain.JobKind, total int) (*domain.SendJob, error) {
	if f.startFn != nil {
		return f.startFn(ctx, campaign, kind, total)
	}
	job := domain.SendJob{
		ID:             fmt.Sprintf("job-%d", len(f.started)+1),
		CampaignID:     campaign.ID,
		OrganizationID: campaign.OrganizationID,
		Kind:           kind,
		Status:         domain.JobRunning,
		Total:          total,
	}
	f.started = append(f.started, job)
	return &job, nil
}

func (f *fakeJobStarter) IsRunning(campaignID string) bool {
	if f.isRunning != nil {
		return f.isRunning(campaignID)
	}
	return false
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, queueName string, msg queue.Message) error
	published []queue.Message
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) statuses() []domain.CampaignStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CampaignStatus
	for _, msg := range f.published {
		if event, ok := msg.(queue.CampaignEvent); ok {
			out = append(out, event.Status)
		}
	}
	return out
}

type fakeRateLimiter struct {
	mu     sync.Mutex
	waitFn func(ctx context.Context, scope string) error
	scopes []string
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	f.mu.Lock()
	f.scopes = append(f.scopes, scope)
	f.mu.Unlock()
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeLocker struct {
	mu        sync.Mutex
	held      map[string]bool
	extendErr error
	acquired  []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ context.Context, key string) (lock.Lease, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return &fakeLease{locker: f, key: key}, true, nil
}

func (f *fakeLocker) isHeld(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

type fakeLease struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLease) Extend(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	return l.locker.extendErr
}

func (l *fakeLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
