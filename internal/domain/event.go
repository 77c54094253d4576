package domain

import (
	"context"
	"time"
)

// Event represents a registerable occurrence. Capacity counts the remaining
// open slots, not the original size; once an event is published only the
// registration engine writes it.
// swagger:model Event
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Capacity    int       `json:"capacity"`
	OrganizerID string    `json:"organizer_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewEvent returns a new Event with the given fields. ID is typically set by the repository on create.
func NewEvent(title, location, organizerID string, date time.Time, capacity int, createdAt, updatedAt time.Time) *Event {
	return &Event{
		Title:       title,
		Location:    location,
		OrganizerID: organizerID,
		Date:        date,
		Capacity:    capacity,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// EventSummary is the slice of an Event returned alongside registration results.
// swagger:model EventSummary
type EventSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Capacity int    `json:"capacity"`
}

// EventRepository defines the interface for event storage.
type EventRepository interface {
	Create(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	ListUpcoming(ctx context.Context, p PaginationParams) ([]*Event, error)
	CountUpcoming(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// EventService defines organizer-facing event management.
type EventService interface {
	CreateEvent(ctx context.Context, event *Event) error
	GetEventByID(ctx context.Context, eventID string) (*Event, error)
	ListUpcomingEvents(ctx context.Context, p PaginationParams) ([]*Event, int, error)
	DeleteEvent(ctx context.Context, eventID, callerID string) error
}
