package usage

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
	"github.com/itemize-cloud/campaign-engine/internal/observability"
)

type fakeLimits struct {
	limit int64
	err   error
}

func (f fakeLimits) Limit(context.Context, string, domain.ResourceType) (int64, error) {
	return f.limit, f.err
}

// memoryUsage implements the counter semantics of the usage_counters table.
type memoryUsage struct {
	mu       sync.Mutex
	counts   map[string]int64
	readErr  error
	periods  []time.Time
	reserves int
}

func newMemoryUsage() *memoryUsage {
	return &memoryUsage{counts: make(map[string]int64)}
}

func key(orgID string, resource domain.ResourceType, period time.Time) string {
	return orgID + "|" + resource.String() + "|" + period.Format(time.RFC3339)
}

func (m *memoryUsage) Current(_ context.Context, orgID string, resource domain.ResourceType, period time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.periods = append(m.periods, period)
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.counts[key(orgID, resource, period)], nil
}

func (m *memoryUsage) Increment(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key(orgID, resource, period)] += amount
	return nil
}

func (m *memoryUsage) Reserve(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount, limit int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves++
	k := key(orgID, resource, period)
	if m.counts[k]+amount > limit {
		return false, nil
	}
	m.counts[k] += amount
	return true, nil
}

func (m *memoryUsage) Release(_ context.Context, orgID string, resource domain.ResourceType, period time.Time, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(orgID, resource, period)
	m.counts[k] = max(m.counts[k]-amount, 0)
	return nil
}

func (m *memoryUsage) count(orgID string, resource domain.ResourceType, now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key(orgID, resource, domain.PeriodStart(now))]
}

var fixedNow = time.Date(2026, time.May, 20, 10, 0, 0, 0, time.UTC)

func newTestAccountant(t *testing.T, limit int64, store *memoryUsage, metrics *observability.Metrics) *Accountant {
	t.Helper()

	accountant, err := NewAccountant(fakeLimits{limit: limit}, store, metrics, nil)
	if err != nil {
		t.Fatalf("NewAccountant() error = %v", err)
	}
	accountant.now = func() time.Time { return fixedNow }
	return accountant
}

func TestAccountantCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		limit      int64
		current    int64
		requested  int64
		wantWithin bool
		wantRemain int64
	}{
		{name: "unlimited", limit: -1, current: 50_000, requested: 10_000, wantWithin: true, wantRemain: -1},
		{name: "not entitled", limit: 0, current: 0, requested: 1, wantWithin: false, wantRemain: 0},
		{name: "headroom", limit: 1000, current: 0, requested: 3, wantWithin: true, wantRemain: 1000},
		{name: "over", limit: 2, current: 0, requested: 3, wantWithin: false, wantRemain: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMemoryUsage()
			store.counts[key("org-1", domain.ResourceEmails, domain.PeriodStart(fixedNow))] = tt.current
			accountant := newTestAccountant(t, tt.limit, store, nil)

			check, err := accountant.Check(context.Background(), "org-1", domain.ResourceEmails, tt.requested)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if check.WithinLimits != tt.wantWithin || check.Remaining != tt.wantRemain {
				t.Fatalf("Check() = %+v, want within=%v remaining=%d", check, tt.wantWithin, tt.wantRemain)
			}
			if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != tt.current {
				t.Fatalf("Check() changed the counter to %d", got)
			}
		})
	}
}

func TestAccountantUsesMonthlyPeriod(t *testing.T) {
	t.Parallel()

	store := newMemoryUsage()
	accountant := newTestAccountant(t, 10, store, nil)

	if _, err := accountant.Check(context.Background(), "org-1", domain.ResourceEmails, 1); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	want := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	if len(store.periods) != 1 || !store.periods[0].Equal(want) {
		t.Fatalf("periods = %v, want [%v]", store.periods, want)
	}
}

func TestAccountantCommitIsUnconditional(t *testing.T) {
	t.Parallel()

	store := newMemoryUsage()
	accountant := newTestAccountant(t, 2, store, nil)

	if err := accountant.Commit(context.Background(), "org-1", domain.ResourceEmails, 5); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != 5 {
		t.Fatalf("counter = %d, want 5", got)
	}
}

func TestAccountantReserve(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	store := newMemoryUsage()
	accountant := newTestAccountant(t, 5, store, metrics)
	ctx := context.Background()

	check, err := accountant.Reserve(ctx, "org-1", domain.ResourceEmails, 3)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !check.WithinLimits || check.Current != 0 {
		t.Fatalf("first Reserve() = %+v, want within from current 0", check)
	}

	check, err = accountant.Reserve(ctx, "org-1", domain.ResourceEmails, 3)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if check.WithinLimits {
		t.Fatalf("second Reserve() = %+v, want rejection", check)
	}
	if check.Current != 3 || check.Limit != 5 || check.Requested != 3 || check.Remaining != 2 {
		t.Fatalf("rejection payload = %+v", check)
	}
	if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != 3 {
		t.Fatalf("counter = %d, want 3", got)
	}
	if body := scrape(t, metrics); !strings.Contains(body, `campaign_engine_usage_rejections_total{resource="emails"} 1`) {
		t.Fatalf("usage rejection not recorded:\n%s", body)
	}

	if err := accountant.Release(ctx, "org-1", domain.ResourceEmails, 3); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != 0 {
		t.Fatalf("counter after release = %d, want 0", got)
	}
}

func TestAccountantReserveNeverOvershootsUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := newMemoryUsage()
	accountant := newTestAccountant(t, 10, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = accountant.Reserve(context.Background(), "org-1", domain.ResourceEmails, 3)
		}()
	}
	wg.Wait()

	if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != 9 {
		t.Fatalf("counter = %d, want 9 (three reservations of 3)", got)
	}
}

func TestAccountantReserveSpecialLimits(t *testing.T) {
	t.Parallel()

	store := newMemoryUsage()
	unlimited := newTestAccountant(t, domain.Unlimited, store, nil)
	check, err := unlimited.Reserve(context.Background(), "org-1", domain.ResourceEmails, 1_000_000)
	if err != nil || !check.WithinLimits {
		t.Fatalf("unlimited Reserve() = %+v, %v", check, err)
	}
	if got := store.count("org-1", domain.ResourceEmails, fixedNow); got != 1_000_000 {
		t.Fatalf("unlimited counter = %d, want 1000000", got)
	}

	store = newMemoryUsage()
	notEntitled := newTestAccountant(t, 0, store, nil)
	check, err = notEntitled.Reserve(context.Background(), "org-1", domain.ResourceSMS, 1)
	if err != nil || check.WithinLimits {
		t.Fatalf("not entitled Reserve() = %+v, %v", check, err)
	}
	if store.reserves != 0 {
		t.Fatalf("Reserve() hit the store %d times for a zero limit", store.reserves)
	}
}

func TestAccountantValidation(t *testing.T) {
	t.Parallel()

	accountant := newTestAccountant(t, 10, newMemoryUsage(), nil)
	ctx := context.Background()

	if _, err := accountant.Check(ctx, "", domain.ResourceEmails, 1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Check(empty org) error = %v", err)
	}
	if _, err := accountant.Check(ctx, "org-1", "faxes", 1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Check(bad resource) error = %v", err)
	}
	if err := accountant.Commit(ctx, "org-1", domain.ResourceEmails, -1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Commit(negative) error = %v", err)
	}
}

func TestAccountantPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	store := newMemoryUsage()
	store.readErr = boom
	accountant := newTestAccountant(t, 10, store, nil)

	if _, err := accountant.Check(context.Background(), "org-1", domain.ResourceEmails, 1); !errors.Is(err, boom) {
		t.Fatalf("Check() error = %v, want %v", err, boom)
	}

	limitErr := errors.New("plan lookup failed")
	failing, _ := NewAccountant(fakeLimits{err: limitErr}, newMemoryUsage(), nil, nil)
	if _, err := failing.Check(context.Background(), "org-1", domain.ResourceEmails, 1); !errors.Is(err, limitErr) {
		t.Fatalf("Check() error = %v, want %v", err, limitErr)
	}
}

func scrape(t *testing.T, metrics *observability.Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}
