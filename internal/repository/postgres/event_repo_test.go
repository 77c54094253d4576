package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"eventregistry/internal/domain"
)

func TestEventRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	date := time.Date(2026, 6, 15, 18, 0, 0, 0, time.UTC)
	cols := []string{"id", "title", "description", "date", "location", "capacity", "organizer_id", "created_at", "updated_at"}

	tests := []struct {
		name    string
		id      string
		mock    func(mock sqlmock.Sqlmock)
		check   func(t *testing.T, e *domain.Event)
		wantErr bool
		errIs   error
	}{
		{
			name: "found with description",
			id:   "event-uuid-1",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM events`).
					WithArgs("event-uuid-1").
					WillReturnRows(sqlmock.NewRows(cols).
						AddRow("event-uuid-1", "GopherConf", "Talks and hallway track", date, "Berlin", 100, "org-uuid-1", now, now))
			},
			check: func(t *testing.T, e *domain.Event) {
				require.Equal(t, "GopherConf", e.Title)
				require.NotNil(t, e.Description)
				require.Equal(t, "Talks and hallway track", *e.Description)
				require.Equal(t, 100, e.Capacity)
			},
		},
		{
			name: "found with null description",
			id:   "event-uuid-2",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM events`).
					WithArgs("event-uuid-2").
					WillReturnRows(sqlmock.NewRows(cols).
						AddRow("event-uuid-2", "Meetup", nil, date, "Munich", 30, "org-uuid-1", now, now))
			},
			check: func(t *testing.T, e *domain.Event) {
				require.Nil(t, e.Description)
			},
		},
		{
			name: "not found",
			id:   "nonexistent",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT (.+) FROM events`).
					WithArgs("nonexistent").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: true,
			errIs:   domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.mock(mock)
			repo := NewEventRepository(db)
			got, err := repo.GetByID(ctx, tt.id)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errIs != nil {
					require.ErrorIs(t, err, tt.errIs)
				}
			} else {
				require.NoError(t, err)
				tt.check(t, got)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestEventRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO events`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("event-uuid-1"))

	repo := NewEventRepository(db)
	e := &domain.Event{Title: "GopherConf", Location: "Berlin", Capacity: 100, OrganizerID: "org-uuid-1"}
	require.NoError(t, repo.Create(context.Background(), e))
	require.Equal(t, "event-uuid-1", e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_ListUpcoming(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cols := []string{"id", "title", "description", "date", "location", "capacity", "organizer_id", "created_at", "updated_at"}
	mock.ExpectQuery(`SELECT (.+) FROM events`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("event-uuid-1", "First", nil, now.Add(24*time.Hour), "Berlin", 10, "org-1", now, now).
			AddRow("event-uuid-2", "Second", "desc", now.Add(48*time.Hour), "Munich", 20, "org-1", now, now))

	repo := NewEventRepository(db)
	events, err := repo.ListUpcoming(context.Background(), domain.PaginationParams{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "First", events[0].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_Delete(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "deleted", rows: 1},
		{name: "not found", rows: 0, wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(`DELETE FROM events`).
				WithArgs("event-uuid-1").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			repo := NewEventRepository(db)
			err = repo.Delete(context.Background(), "event-uuid-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
