package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"eventregistry/internal/domain"
	"eventregistry/internal/metrics"
)

// DefaultTxTimeout bounds every registration transaction. On expiry the
// transaction aborts and rolls back like any other failure.
const DefaultTxTimeout = 10 * time.Second

// List page size bounds applied when the caller passes out-of-range values.
const (
	defaultListPageSize = 20
	maxListPageSize     = 50
)

type registrationService struct {
	store        domain.RegistrationStore
	emailService domain.EmailService
	metrics      metrics.Recorder
	logger       *slog.Logger
	txTimeout    time.Duration
}

// NewRegistrationService creates the registration engine. emailService and
// recorder may be nil; confirmation emails and metrics are then skipped.
func NewRegistrationService(
	store domain.RegistrationStore,
	emailService domain.EmailService,
	recorder metrics.Recorder,
	logger *slog.Logger,
	txTimeout time.Duration,
) domain.RegistrationEngine {
	if txTimeout <= 0 {
		txTimeout = DefaultTxTimeout
	}
	return &registrationService{
		store:        store,
		emailService: emailService,
		metrics:      recorder,
		logger:       logger,
		txTimeout:    txTimeout,
	}
}

// opError is a typed failure raised inside a registration transaction. Its
// message is safe to show to an end user.
type opError struct {
	kind domain.FailureKind
	msg  string
}

func (e *opError) Error() string { return e.msg }

func failOp(kind domain.FailureKind, format string, args ...any) error {
	return &opError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// RegisterUserForEvent links the user to the event and decrements capacity as
// one all-or-nothing transaction. It re-verifies existence, capacity, and
// duplicates inside the transaction regardless of what the caller observed.
func (s *registrationService) RegisterUserForEvent(ctx context.Context, userID, eventID string) *domain.RegistrationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		user    *domain.User
		event   *domain.Event
		reg     *domain.Registration
		summary *domain.EventSummary
	)
	err := s.store.InTx(ctx, func(tx domain.RegistrationTx) error {
		var err error
		user, err = tx.GetUserByID(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			return failOp(domain.FailureUserNotFound, "user not found")
		} else if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		event, err = tx.GetEventByID(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return failOp(domain.FailureEventNotFound, "event not found")
		} else if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		if event.Capacity <= 0 {
			return failOp(domain.FailureCapacityExhausted,
				"%q has no open slots left (capacity %d)", event.Title, event.Capacity)
		}

		// Advisory pre-check for a friendly error; the uniqueness constraint
		// on (user_id, event_id) remains the authoritative guard.
		if existing, err := tx.GetRegistration(ctx, userID, eventID); err == nil {
			return failOp(domain.FailureDuplicateRegistration,
				"already registered for this event (registration %s)", existing.ID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("get registration: %w", err)
		}

		reg = domain.NewRegistration(userID, eventID)
		if err := tx.InsertRegistration(ctx, reg); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}

		capacity, err := tx.DecrementCapacity(ctx, eventID, 1)
		if err != nil {
			return fmt.Errorf("decrement capacity: %w", err)
		}
		summary = &domain.EventSummary{ID: event.ID, Title: event.Title, Capacity: capacity}
		return nil
	})
	if err != nil {
		return s.registrationFailure("register", err, start)
	}

	s.recordSuccess("register", start)
	s.sendConfirmationAsync(user, event)
	return &domain.RegistrationResult{
		Success:      true,
		Registration: reg,
		UpdatedEvent: summary,
		Metrics:      operationMetrics(start),
	}
}

// UnregisterUserForEvent is the mirror transaction of RegisterUserForEvent:
// it deletes the registration row and restores one capacity slot atomically.
func (s *registrationService) UnregisterUserForEvent(ctx context.Context, userID, eventID string) *domain.RegistrationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var summary *domain.EventSummary
	err := s.store.InTx(ctx, func(tx domain.RegistrationTx) error {
		event, err := tx.GetEventByID(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return failOp(domain.FailureEventNotFound, "event not found")
		} else if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		if err := tx.DeleteRegistration(ctx, userID, eventID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return failOp(domain.FailureRegistrationNotFound, "no registration found for this event")
			}
			return fmt.Errorf("delete registration: %w", err)
		}

		capacity, err := tx.IncrementCapacity(ctx, eventID, 1)
		if err != nil {
			return fmt.Errorf("increment capacity: %w", err)
		}
		summary = &domain.EventSummary{ID: event.ID, Title: event.Title, Capacity: capacity}
		return nil
	})
	if err != nil {
		return s.registrationFailure("unregister", err, start)
	}

	s.recordSuccess("unregister", start)
	return &domain.RegistrationResult{
		Success:      true,
		UpdatedEvent: summary,
		Metrics:      operationMetrics(start),
	}
}

// BulkRegisterUsersForEvent inserts registrations for all given users in one
// transaction, silently skipping pairs that already exist, and decrements
// capacity by the rows actually inserted, never by the count requested.
func (s *registrationService) BulkRegisterUsersForEvent(ctx context.Context, userIDs []string, eventID string) *domain.BulkRegistrationResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return &domain.BulkRegistrationResult{Success: true, Metrics: operationMetrics(start)}
	}

	var (
		created int
		skipped int
		summary *domain.EventSummary
	)
	err := s.store.InTx(ctx, func(tx domain.RegistrationTx) error {
		event, err := tx.GetEventByID(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return failOp(domain.FailureEventNotFound, "event not found")
		} else if err != nil {
			return fmt.Errorf("get event: %w", err)
		}

		if event.Capacity < len(ids) {
			return failOp(domain.FailureInsufficientCapacity,
				"not enough open slots on %q: %d available, %d requested", event.Title, event.Capacity, len(ids))
		}

		inserted, err := tx.InsertRegistrationsSkipDuplicates(ctx, eventID, ids)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return failOp(domain.FailureUserNotFound, "one or more users do not exist")
			}
			return fmt.Errorf("bulk insert registrations: %w", err)
		}

		capacity := event.Capacity
		if inserted > 0 {
			capacity, err = tx.DecrementCapacity(ctx, eventID, inserted)
			if err != nil {
				return fmt.Errorf("decrement capacity: %w", err)
			}
		}

		created = inserted
		skipped = len(ids) - inserted
		summary = &domain.EventSummary{ID: event.ID, Title: event.Title, Capacity: capacity}
		return nil
	})
	if err != nil {
		return s.bulkFailure(err, start)
	}

	s.recordSuccess("bulk_register", start)
	return &domain.BulkRegistrationResult{
		Success:           true,
		Created:           created,
		DuplicatesSkipped: skipped,
		UpdatedEvent:      summary,
		Metrics:           operationMetrics(start),
	}
}

// GetUserRegistrations returns one page of the user's registrations, most
// recent first. The count and the page fetch are independent read-only
// queries and run concurrently; a registration created between them showing
// up in only one of the two is acceptable.
func (s *registrationService) GetUserRegistrations(ctx context.Context, userID string, p domain.PaginationParams) (*domain.PagedRegistrations, error) {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = defaultListPageSize
	}
	if p.PageSize > maxListPageSize {
		p.PageSize = maxListPageSize
	}

	var (
		items []*domain.RegistrationWithEvent
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = s.store.ListByUserPaged(gctx, userID, p)
		if err != nil {
			return fmt.Errorf("list registrations: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		total, err = s.store.CountByUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("count registrations: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totalPages := 0
	if p.PageSize > 0 {
		totalPages = (total + p.PageSize - 1) / p.PageSize
	}
	if items == nil {
		items = []*domain.RegistrationWithEvent{}
	}
	return &domain.PagedRegistrations{
		Items:        items,
		Page:         p.Page,
		PageSize:     p.PageSize,
		TotalRecords: total,
		TotalPages:   totalPages,
		HasNextPage:  p.Page < totalPages,
	}, nil
}

// classifyFailure converts any transaction error into a structured failure.
// The transaction has already been rolled back by the store when this runs.
func classifyFailure(err error) *domain.RegistrationFailure {
	var oe *opError
	switch {
	case errors.As(err, &oe):
		return &domain.RegistrationFailure{Message: oe.msg, Kind: oe.kind, RolledBack: true}
	case errors.Is(err, domain.ErrDuplicateRegistration):
		return &domain.RegistrationFailure{
			Message:    "already registered for this event",
			Kind:       domain.FailureDuplicateRegistration,
			RolledBack: true,
		}
	case errors.Is(err, domain.ErrCapacityExhausted):
		return &domain.RegistrationFailure{
			Message:    "the event has no open slots left",
			Kind:       domain.FailureCapacityExhausted,
			RolledBack: true,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.RegistrationFailure{
			Message:    "the request timed out, please try again",
			Kind:       domain.FailureStorageTimeout,
			RolledBack: true,
		}
	default:
		return &domain.RegistrationFailure{
			Message:    "something went wrong, please try again",
			Kind:       domain.FailureStorageUnexpected,
			RolledBack: true,
		}
	}
}

func (s *registrationService) registrationFailure(operation string, err error, start time.Time) *domain.RegistrationResult {
	failure := s.recordFailure(operation, err, start)
	return &domain.RegistrationResult{
		Success: false,
		Failure: failure,
		Metrics: operationMetrics(start),
	}
}

func (s *registrationService) bulkFailure(err error, start time.Time) *domain.BulkRegistrationResult {
	failure := s.recordFailure("bulk_register", err, start)
	return &domain.BulkRegistrationResult{
		Success: false,
		Failure: failure,
		Metrics: operationMetrics(start),
	}
}

func (s *registrationService) recordFailure(operation string, err error, start time.Time) *domain.RegistrationFailure {
	failure := classifyFailure(err)
	if failure.Kind == domain.FailureStorageTimeout || failure.Kind == domain.FailureStorageUnexpected {
		if s.logger != nil {
			s.logger.Error("registration operation failed",
				"operation", operation, "kind", string(failure.Kind), "err", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordOutcome(operation, failure.Kind)
		s.metrics.RecordDuration(operation, time.Since(start))
	}
	return failure
}

func (s *registrationService) recordSuccess(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSuccess(operation)
		s.metrics.RecordDuration(operation, time.Since(start))
	}
}

// sendConfirmationAsync sends the confirmation email off the request path.
// A send failure never affects the committed registration.
func (s *registrationService) sendConfirmationAsync(user *domain.User, event *domain.Event) {
	if s.emailService == nil || user == nil || event == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := s.emailService.SendRegistrationConfirmation(ctx, &domain.RegistrationConfirmationEmailData{
			Email:         user.Email,
			Name:          user.Name,
			EventTitle:    event.Title,
			EventDate:     event.Date,
			EventLocation: event.Location,
		})
		if err != nil && s.logger != nil {
			s.logger.Warn("confirmation email failed", "event_id", event.ID, "err", err)
		}
	}()
}

func operationMetrics(start time.Time) domain.OperationMetrics {
	end := time.Now()
	return domain.OperationMetrics{
		StartedAt:  start,
		FinishedAt: end,
		DurationMs: end.Sub(start).Milliseconds(),
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
