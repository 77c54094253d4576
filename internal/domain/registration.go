package domain

import (
	"context"
	"time"
)

// Registration links exactly one user to exactly one event. Rows are created
// by a successful register operation and never updated; the pair
// (user_id, event_id) is unique.
// swagger:model Registration
type Registration struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRegistration creates a new Registration. ID and CreatedAt are typically set by the repository on create.
func NewRegistration(userID, eventID string) *Registration {
	return &Registration{UserID: userID, EventID: eventID}
}

// RegistrationWithEvent bundles a registration with a summary of its event.
type RegistrationWithEvent struct {
	Registration *Registration `json:"registration"`
	Event        *EventView    `json:"event"`
}

// EventView is the event summary joined onto a registration listing.
// swagger:model EventView
type EventView struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
}

// FailureKind tags a registration failure for machine branching.
type FailureKind string

// Failure kinds returned by the registration engine.
const (
	FailureUserNotFound          FailureKind = "UserNotFound"
	FailureEventNotFound         FailureKind = "EventNotFound"
	FailureCapacityExhausted     FailureKind = "CapacityExhausted"
	FailureDuplicateRegistration FailureKind = "DuplicateRegistration"
	FailureInsufficientCapacity  FailureKind = "InsufficientCapacity"
	FailureRegistrationNotFound  FailureKind = "RegistrationNotFound"
	FailureStorageTimeout        FailureKind = "StorageTimeout"
	FailureStorageUnexpected     FailureKind = "StorageUnexpectedError"
)

// RegistrationFailure describes a failed engine operation. Message is safe to
// show to an end user; RolledBack confirms no partial state was persisted.
// swagger:model RegistrationFailure
type RegistrationFailure struct {
	Message    string      `json:"message"`
	Kind       FailureKind `json:"type"`
	RolledBack bool        `json:"rolled_back"`
}

// OperationMetrics carries timing for a single engine operation.
// swagger:model OperationMetrics
type OperationMetrics struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// RegistrationResult is the outcome of a single register or unregister call.
// Exactly one of Registration/Failure is set, according to Success.
// swagger:model RegistrationResult
type RegistrationResult struct {
	Success      bool                 `json:"success"`
	Registration *Registration        `json:"registration,omitempty"`
	UpdatedEvent *EventSummary        `json:"updated_event,omitempty"`
	Failure      *RegistrationFailure `json:"error,omitempty"`
	Metrics      OperationMetrics     `json:"metrics"`
}

// BulkRegistrationResult is the outcome of a bulk register call. Created and
// DuplicatesSkipped are only meaningful when Success is true.
// swagger:model BulkRegistrationResult
type BulkRegistrationResult struct {
	Success           bool                 `json:"success"`
	Created           int                  `json:"created"`
	DuplicatesSkipped int                  `json:"duplicates_skipped"`
	UpdatedEvent      *EventSummary        `json:"updated_event,omitempty"`
	Failure           *RegistrationFailure `json:"error,omitempty"`
	Metrics           OperationMetrics     `json:"metrics"`
}

// PagedRegistrations is a page of a user's registrations, most recent first.
// swagger:model PagedRegistrations
type PagedRegistrations struct {
	Items        []*RegistrationWithEvent `json:"items"`
	Page         int                      `json:"page"`
	PageSize     int                      `json:"page_size"`
	TotalRecords int                      `json:"total_records"`
	TotalPages   int                      `json:"total_pages"`
	HasNextPage  bool                     `json:"has_next_page"`
}

// RegistrationTx exposes the storage operations available inside one
// registration transaction. Implementations must scope every call to the
// same underlying transaction.
type RegistrationTx interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetEventByID(ctx context.Context, eventID string) (*Event, error)
	GetRegistration(ctx context.Context, userID, eventID string) (*Registration, error)
	InsertRegistration(ctx context.Context, reg *Registration) error
	// InsertRegistrationsSkipDuplicates inserts one row per user ID, silently
	// skipping pairs that already exist, and reports the rows actually written.
	InsertRegistrationsSkipDuplicates(ctx context.Context, eventID string, userIDs []string) (inserted int, err error)
	DeleteRegistration(ctx context.Context, userID, eventID string) error
	// DecrementCapacity applies "capacity = capacity - by" guarded by
	// "capacity >= by", evaluated atomically by the store, and returns the new
	// capacity. ErrCapacityExhausted when the guard rejects the row.
	DecrementCapacity(ctx context.Context, eventID string, by int) (newCapacity int, err error)
	IncrementCapacity(ctx context.Context, eventID string, by int) (newCapacity int, err error)
}

// RegistrationStore is the transactional relational store behind the
// registration engine.
type RegistrationStore interface {
	// InTx runs fn inside one transaction at read-committed isolation or
	// stronger. A non-nil error from fn rolls the transaction back.
	InTx(ctx context.Context, fn func(tx RegistrationTx) error) error
	ListByUserPaged(ctx context.Context, userID string, p PaginationParams) ([]*RegistrationWithEvent, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// RegistrationEngine performs the atomic register/unregister/bulk operations.
// The write operations never return an error: every outcome, including
// storage failures, is reported as a structured result value.
type RegistrationEngine interface {
	RegisterUserForEvent(ctx context.Context, userID, eventID string) *RegistrationResult
	UnregisterUserForEvent(ctx context.Context, userID, eventID string) *RegistrationResult
	BulkRegisterUsersForEvent(ctx context.Context, userIDs []string, eventID string) *BulkRegistrationResult
	GetUserRegistrations(ctx context.Context, userID string, p PaginationParams) (*PagedRegistrations, error)
}
