package management

import (
	"context"
	"errors"
	"fmt"
	"time"

	"login-management-go/internal/audit"
	"login-management-go/internal/core/models"
	"login-management-go/internal/db/repository"
	"login-management-go/internal/integrations/partner"
	"login-management-go/internal/logger"
	"login-management-go/internal/observability"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrValidation marks an item missing a field its workflow requires
var ErrValidation = errors.New("validation error")

// DefaultPacingDelay separates items and the block/unblock steps
const DefaultPacingDelay = 500 * time.Millisecond

const persistTimeout = 10 * time.Second

// PartnerClient is the subset of the partner API the workflows use
type PartnerClient interface {
	CreateUser(ctx context.Context, userCode string) partner.Result
	BlockUser(ctx context.Context, externalKey string) partner.Result
	UnblockUser(ctx context.Context, externalKey string) partner.Result
	CreateGroup(ctx context.Context, name, originKey string) partner.Result
	AddUserToGroup(ctx context.Context, groupUUID, userUUID string) partner.Result
}

// OutcomePublisher receives every terminal transition
type OutcomePublisher interface {
	Publish(ctx context.Context, outcome models.Outcome) error
}

// Publishers fans one outcome out to several publishers. Errors are joined.
type Publishers []OutcomePublisher

// Publish implements OutcomePublisher
func (p Publishers) Publish(ctx context.Context, outcome models.Outcome) error {
	var errs []error
	for _, pub := range p {
		if err := pub.Publish(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Options configures a Service. Zero values select defaults.
// BaseContext bounds every drain; only its cancellation stops a batch
// between items. It defaults to context.Background.
type Options struct {
	BaseContext context.Context
	PacingDelay time.Duration
	Catalog     *audit.Catalog
	Publisher   OutcomePublisher
	Metrics     *observability.Metrics
	Now         func() time.Time
}

// Summary reports one drain
type Summary struct {
	RunID       string        `json:"runId,omitempty"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"durationNs"`
}

// Service drains the login management queue against the partner API
type Service struct {
	base    context.Context
	store   repository.ItemStore
	partner PartnerClient
	pacing  time.Duration
	catalog *audit.Catalog
	pub     OutcomePublisher
	metrics *observability.Metrics
	now     func() time.Time

	flight singleflight.Group
}

// NewService creates the workflow service
func NewService(store repository.ItemStore, client PartnerClient, opts Options) *Service {
	s := &Service{
		base:    opts.BaseContext,
		store:   store,
		partner: client,
		pacing:  opts.PacingDelay,
		catalog: opts.Catalog,
		pub:     opts.Publisher,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.base == nil {
		s.base = context.Background()
	}
	if s.pacing < 0 {
		s.pacing = 0
	}
	if s.catalog == nil {
		s.catalog = audit.MustCatalog(audit.DefaultLocale)
	}
	if s.metrics == nil {
		s.metrics = observability.Noop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run drains all pending items once. Concurrent callers share the drain in
// flight and receive its summary. The drain runs under the service base
// context: a caller whose ctx ends stops waiting and gets ctx.Err(), while
// the drain goes on for the others.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	ch := s.flight.DoChan("drain", func() (any, error) {
		return s.drain(s.base)
	})
	select {
	case res := <-ch:
		if res.Shared {
			logger.Component("management").Debug("Joined drain already in progress")
		}
		summary, _ := res.Val.(Summary)
		return summary, res.Err
	case <-ctx.Done():
		logger.Component("management").Info("Caller left, drain continues in the background")
		return Summary{}, ctx.Err()
	}
}

// PendingCount returns the number of items the next drain would select
func (s *Service) PendingCount(ctx context.Context) (int64, error) {
	return s.store.CountPending(ctx)
}

func (s *Service) drain(ctx context.Context) (Summary, error) {
	started := s.now()
	summary := Summary{RunID: uuid.NewString()}
	runLog := logger.Component("management").WithField("run_id", summary.RunID)

	items, err := s.store.FindPending(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to fetch pending items: %w", err)
	}
	summary.Total = len(items)
	if len(items) == 0 {
		runLog.Debug("No pending items found")
		summary.Duration = s.now().Sub(started)
		s.metrics.RecordDrain(ctx, false, summary.Duration)
		return summary, nil
	}

	runLog.Infof("Found %d items for processing", len(items))

	for i := range items {
		if i > 0 {
			if err := s.wait(ctx, s.pacing); err != nil {
				summary.Interrupted = true
				summary.Skipped = len(items) - i
				runLog.Warnf("Processing interrupted, %d items left for the next drain", summary.Skipped)
				break
			}
		}

		ok, err := s.ProcessItem(ctx, &items[i])
		if ok {
			summary.Succeeded++
		} else if err == nil {
			summary.Failed++
		}
		if err != nil {
			// interrupted mid-item: the item itself was left pending
			summary.Interrupted = true
			summary.Skipped = len(items) - i - 1
			if !ok {
				summary.Skipped++
			}
			runLog.Warnf("Processing interrupted at item %d: %v", items[i].ID, err)
			break
		}
	}

	summary.Duration = s.now().Sub(started)
	s.metrics.RecordDrain(ctx, summary.Interrupted, summary.Duration)
	runLog.Infof("Processing finished. Successes: %d, errors: %d, skipped: %d", summary.Succeeded, summary.Failed, summary.Skipped)
	return summary, nil
}

// ProcessItem runs the workflow of one item and persists its terminal status.
// It reports whether the item ended in SUCCESS. A non-nil error means the
// pacing wait was cancelled; the item is then either left untouched or has
// already been persisted as SUCCESS.
func (s *Service) ProcessItem(ctx context.Context, item *models.QueueItem) (ok bool, err error) {
	logger := s.itemLogger(item)

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Unexpected error while processing item: %v", r)
			ok = s.finish(ctx, item, transition{status: models.StatusError, log: s.catalog.T(audit.UnexpectedError)})
			err = nil
		}
	}()

	logger.Infof("Processing item | type: %s | user code: %s", item.ManagementType, item.UserCode)

	switch item.ManagementType {
	case models.TypeCreate:
		return s.processCreate(ctx, item)
	case models.TypeBlock:
		return s.processBlock(ctx, item), nil
	case models.TypeUnblock:
		return s.processUnblock(ctx, item), nil
	case models.TypeReset:
		return s.processReset(ctx, item)
	default:
		logger.Warnf("Unknown management type %d", int(item.ManagementType))
		return s.finish(ctx, item, transition{status: models.StatusError, log: s.catalog.T(audit.UnknownType)}), nil
	}
}

// wait blocks for d or until ctx is done
func (s *Service) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) itemLogger(item *models.QueueItem) *log.Entry {
	return logger.Component("management").WithFields(log.Fields{
		"item_id": item.ID,
		"type":    item.ManagementType.Name(),
	})
}

// detached keeps values of ctx but survives its cancellation, so a shutdown
// never aborts a partner call or status write in the middle of an item.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func validationError(field string, item *models.QueueItem) error {
	return fmt.Errorf("%w: item %d has empty %s", ErrValidation, item.ID, field)
}
