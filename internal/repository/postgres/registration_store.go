package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"eventregistry/internal/domain"
)

type registrationStore struct {
	DB *sql.DB
}

// NewRegistrationStore returns the transactional store backing the
// registration engine.
func NewRegistrationStore(db *sql.DB) domain.RegistrationStore {
	return &registrationStore{DB: db}
}

// InTx runs fn inside one read-committed transaction. Any error from fn rolls
// the transaction back; fn's registration tx must not be used after return.
func (s *registrationStore) InTx(ctx context.Context, fn func(tx domain.RegistrationTx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	if err := fn(&registrationTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *registrationStore) ListByUserPaged(ctx context.Context, userID string, p domain.PaginationParams) ([]*domain.RegistrationWithEvent, error) {
	query := `
		SELECT r.id, r.user_id, r.event_id, r.created_at,
		       e.id, e.title, e.date, e.location
		FROM registrations r
		JOIN events e ON e.id = r.event_id
		WHERE r.user_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.DB.QueryContext(ctx, query, userID, p.PageSize, p.Offset())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*domain.RegistrationWithEvent, 0)
	for rows.Next() {
		reg := &domain.Registration{}
		ev := &domain.EventView{}
		if err := rows.Scan(
			&reg.ID, &reg.UserID, &reg.EventID, &reg.CreatedAt,
			&ev.ID, &ev.Title, &ev.Date, &ev.Location,
		); err != nil {
			return nil, err
		}
		items = append(items, &domain.RegistrationWithEvent{Registration: reg, Event: ev})
	}
	return items, rows.Err()
}

func (s *registrationStore) CountByUser(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

// registrationTx scopes all registration reads and writes to one *sql.Tx.
type registrationTx struct {
	tx *sql.Tx
}

func (t *registrationTx) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, email, name, role FROM users WHERE id = $1`
	u := &domain.User{}
	err := t.tx.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (t *registrationTx) GetEventByID(ctx context.Context, eventID string) (*domain.Event, error) {
	query := `
		SELECT id, title, date, location, capacity, organizer_id
		FROM events
		WHERE id = $1
	`
	e := &domain.Event{}
	err := t.tx.QueryRowContext(ctx, query, eventID).
		Scan(&e.ID, &e.Title, &e.Date, &e.Location, &e.Capacity, &e.OrganizerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (t *registrationTx) GetRegistration(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	query := `
		SELECT id, user_id, event_id, created_at
		FROM registrations
		WHERE user_id = $1 AND event_id = $2
	`
	reg := &domain.Registration{}
	err := t.tx.QueryRowContext(ctx, query, userID, eventID).
		Scan(&reg.ID, &reg.UserID, &reg.EventID, &reg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return reg, nil
}

func (t *registrationTx) InsertRegistration(ctx context.Context, reg *domain.Registration) error {
	query := `
		INSERT INTO registrations (user_id, event_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`
	err := t.tx.QueryRowContext(ctx, query, reg.UserID, reg.EventID).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateRegistration
		}
		return err
	}
	return nil
}

func (t *registrationTx) InsertRegistrationsSkipDuplicates(ctx context.Context, eventID string, userIDs []string) (int, error) {
	query := `
		INSERT INTO registrations (user_id, event_id)
		SELECT u, $1 FROM unnest($2::uuid[]) AS u
		ON CONFLICT ON CONSTRAINT registrations_user_event_unique DO NOTHING
	`
	result, err := t.tx.ExecContext(ctx, query, eventID, pq.Array(userIDs))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(inserted), nil
}

func (t *registrationTx) DeleteRegistration(ctx context.Context, userID, eventID string) error {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM registrations WHERE user_id = $1 AND event_id = $2`, userID, eventID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DecrementCapacity applies the decrement relative to the stored value, so
// concurrent transactions serialize on the row lock instead of racing on an
// application-read capacity. The guard rejects rows that would go negative.
func (t *registrationTx) DecrementCapacity(ctx context.Context, eventID string, by int) (int, error) {
	query := `
		UPDATE events
		SET capacity = capacity - $2, updated_at = NOW()
		WHERE id = $1 AND capacity >= $2
		RETURNING capacity
	`
	var capacity int
	err := t.tx.QueryRowContext(ctx, query, eventID, by).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrCapacityExhausted
		}
		return 0, err
	}
	return capacity, nil
}

func (t *registrationTx) IncrementCapacity(ctx context.Context, eventID string, by int) (int, error) {
	query := `
		UPDATE events
		SET capacity = capacity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING capacity
	`
	var capacity int
	err := t.tx.QueryRowContext(ctx, query, eventID, by).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return capacity, nil
}
