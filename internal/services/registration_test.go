package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventregistry/internal/domain"
)

// fakeStore is an in-memory RegistrationStore with real transaction
// semantics: writes are staged per transaction and applied only on commit,
// and transactions serialize on one mutex the way row locks serialize
// concurrent decrements.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	events map[string]*domain.Event
	regs   map[string]*domain.Registration
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*domain.User),
		events: make(map[string]*domain.Event),
		regs:   make(map[string]*domain.Registration),
	}
}

func regKey(userID, eventID string) string { return userID + "|" + eventID }

func (s *fakeStore) addUser(id string) {
	s.users[id] = &domain.User{ID: id, Email: id + "@example.com", Name: id, Role: domain.RoleUser}
}

func (s *fakeStore) addEvent(id, title string, capacity int) {
	s.events[id] = &domain.Event{ID: id, Title: title, Capacity: capacity, Location: "Berlin", Date: time.Now().Add(24 * time.Hour)}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx domain.RegistrationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &fakeTx{
		s:        s,
		capDelta: make(map[string]int),
		inserted: make(map[string]*domain.Registration),
		deleted:  make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for k, r := range tx.inserted {
		s.regs[k] = r
	}
	for k := range tx.deleted {
		delete(s.regs, k)
	}
	for id, d := range tx.capDelta {
		s.events[id].Capacity += d
	}
	return nil
}

func (s *fakeStore) ListByUserPaged(ctx context.Context, userID string, p domain.PaginationParams) ([]*domain.RegistrationWithEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var regs []*domain.Registration
	for _, r := range s.regs {
		if r.UserID == userID {
			regs = append(regs, r)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.After(regs[j].CreatedAt) })

	offset := p.Offset()
	if offset > len(regs) {
		offset = len(regs)
	}
	end := offset + p.PageSize
	if end > len(regs) {
		end = len(regs)
	}
	items := make([]*domain.RegistrationWithEvent, 0, end-offset)
	for _, r := range regs[offset:end] {
		ev := s.events[r.EventID]
		items = append(items, &domain.RegistrationWithEvent{
			Registration: r,
			Event:        &domain.EventView{ID: ev.ID, Title: ev.Title, Date: ev.Date, Location: ev.Location},
		})
	}
	return items, nil
}

func (s *fakeStore) CountByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) registrationCount(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.EventID == eventID {
			n++
		}
	}
	return n
}

func (s *fakeStore) capacity(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[eventID].Capacity
}

// fakeTx stages all writes; the store applies them on commit.
type fakeTx struct {
	s        *fakeStore
	capDelta map[string]int
	inserted map[string]*domain.Registration
	deleted  map[string]bool
}

func (t *fakeTx) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (t *fakeTx) GetEventByID(ctx context.Context, eventID string) (*domain.Event, error) {
	e, ok := t.s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	cp.Capacity += t.capDelta[eventID]
	return &cp, nil
}

func (t *fakeTx) GetRegistration(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	k := regKey(userID, eventID)
	if t.deleted[k] {
		return nil, domain.ErrNotFound
	}
	if r, ok := t.inserted[k]; ok {
		return r, nil
	}
	if r, ok := t.s.regs[k]; ok {
		return r, nil
	}
	return nil, domain.ErrNotFound
}

func (t *fakeTx) InsertRegistration(ctx context.Context, reg *domain.Registration) error {
	k := regKey(reg.UserID, reg.EventID)
	if _, exists := t.s.regs[k]; exists && !t.deleted[k] {
		return domain.ErrDuplicateRegistration
	}
	if _, exists := t.inserted[k]; exists {
		return domain.ErrDuplicateRegistration
	}
	t.s.nextID++
	reg.ID = fmt.Sprintf("reg-%d", t.s.nextID)
	reg.CreatedAt = time.Unix(0, 0).Add(time.Duration(t.s.nextID) * time.Second)
	t.inserted[k] = reg
	return nil
}

func (t *fakeTx) InsertRegistrationsSkipDuplicates(ctx context.Context, eventID string, userIDs []string) (int, error) {
	inserted := 0
	for _, uid := range userIDs {
		if _, ok := t.s.users[uid]; !ok {
			return 0, domain.ErrNotFound
		}
		k := regKey(uid, eventID)
		if _, exists := t.s.regs[k]; exists && !t.deleted[k] {
			continue
		}
		if _, exists := t.inserted[k]; exists {
			continue
		}
		t.s.nextID++
		t.inserted[k] = &domain.Registration{
			ID:        fmt.Sprintf("reg-%d", t.s.nextID),
			UserID:    uid,
			EventID:   eventID,
			CreatedAt: time.Unix(0, 0).Add(time.Duration(t.s.nextID) * time.Second),
		}
		inserted++
	}
	return inserted, nil
}

func (t *fakeTx) DeleteRegistration(ctx context.Context, userID, eventID string) error {
	k := regKey(userID, eventID)
	if _, ok := t.s.regs[k]; !ok || t.deleted[k] {
		return domain.ErrNotFound
	}
	t.deleted[k] = true
	return nil
}

func (t *fakeTx) DecrementCapacity(ctx context.Context, eventID string, by int) (int, error) {
	e, ok := t.s.events[eventID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	effective := e.Capacity + t.capDelta[eventID]
	if effective < by {
		return 0, domain.ErrCapacityExhausted
	}
	t.capDelta[eventID] -= by
	return effective - by, nil
}

func (t *fakeTx) IncrementCapacity(ctx context.Context, eventID string, by int) (int, error) {
	e, ok := t.s.events[eventID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	t.capDelta[eventID] += by
	return e.Capacity + t.capDelta[eventID], nil
}

// errStore fails every operation with a fixed error.
type errStore struct {
	err error
}

func (s *errStore) InTx(ctx context.Context, fn func(tx domain.RegistrationTx) error) error {
	return s.err
}

func (s *errStore) ListByUserPaged(ctx context.Context, userID string, p domain.PaginationParams) ([]*domain.RegistrationWithEvent, error) {
	return nil, s.err
}

func (s *errStore) CountByUser(ctx context.Context, userID string) (int, error) {
	return 0, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEngine(store domain.RegistrationStore) domain.RegistrationEngine {
	return NewRegistrationService(store, nil, nil, testLogger(), 0)
}

func TestRegisterUserForEvent_Success(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addEvent("e1", "GopherConf", 10)
	engine := newEngine(store)

	res := engine.RegisterUserForEvent(context.Background(), "u1", "e1")

	require.True(t, res.Success)
	require.NotNil(t, res.Registration)
	assert.Equal(t, "u1", res.Registration.UserID)
	assert.Equal(t, "e1", res.Registration.EventID)
	require.NotNil(t, res.UpdatedEvent)
	assert.Equal(t, 9, res.UpdatedEvent.Capacity)
	assert.Equal(t, 9, store.capacity("e1"))
	assert.Equal(t, 1, store.registrationCount("e1"))
	assert.False(t, res.Metrics.FinishedAt.Before(res.Metrics.StartedAt))
}

func TestRegisterUserForEvent_UserNotFound(t *testing.T) {
	store := newFakeStore()
	store.addEvent("e1", "GopherConf", 10)
	engine := newEngine(store)

	res := engine.RegisterUserForEvent(context.Background(), "missing", "e1")

	require.False(t, res.Success)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureUserNotFound, res.Failure.Kind)
	assert.True(t, res.Failure.RolledBack)
	assert.Equal(t, 10, store.capacity("e1"))
}

func TestRegisterUserForEvent_EventNotFound_NoWrites(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	engine := newEngine(store)

	res := engine.RegisterUserForEvent(context.Background(), "u1", "missing")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureEventNotFound, res.Failure.Kind)
	assert.True(t, res.Failure.RolledBack)
	assert.Equal(t, 0, len(store.regs))
}

func TestRegisterUserForEvent_CapacityZero_Atomicity(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addEvent("e1", "Sold Out Show", 0)
	engine := newEngine(store)

	res := engine.RegisterUserForEvent(context.Background(), "u1", "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureCapacityExhausted, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "Sold Out Show")
	// No partial write: neither a registration row nor a capacity change.
	assert.Equal(t, 0, store.registrationCount("e1"))
	assert.Equal(t, 0, store.capacity("e1"))
}

func TestRegisterUserForEvent_DuplicateRejectedOnce(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addEvent("e1", "GopherConf", 10)
	engine := newEngine(store)

	first := engine.RegisterUserForEvent(context.Background(), "u1", "e1")
	require.True(t, first.Success)

	second := engine.RegisterUserForEvent(context.Background(), "u1", "e1")
	require.False(t, second.Success)
	assert.Equal(t, domain.FailureDuplicateRegistration, second.Failure.Kind)
	assert.Contains(t, second.Failure.Message, first.Registration.ID)

	// Exactly one row, and the second call did not change capacity.
	assert.Equal(t, 1, store.registrationCount("e1"))
	assert.Equal(t, 9, store.capacity("e1"))
}

func TestRegisterUserForEvent_ConstraintBackstop(t *testing.T) {
	// The pre-check is advisory; a constraint violation surfacing from the
	// insert must still map to DuplicateRegistration.
	engine := newEngine(&errStore{err: domain.ErrDuplicateRegistration})

	res := engine.RegisterUserForEvent(context.Background(), "u1", "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureDuplicateRegistration, res.Failure.Kind)
	assert.True(t, res.Failure.RolledBack)
}

func TestRegisterUserForEvent_Timeout(t *testing.T) {
	engine := newEngine(&errStore{err: context.DeadlineExceeded})

	res := engine.RegisterUserForEvent(context.Background(), "u1", "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureStorageTimeout, res.Failure.Kind)
	assert.True(t, res.Failure.RolledBack)
}

func TestRegisterUserForEvent_UnexpectedStorageError(t *testing.T) {
	engine := newEngine(&errStore{err: fmt.Errorf("connection reset")})

	res := engine.RegisterUserForEvent(context.Background(), "u1", "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureStorageUnexpected, res.Failure.Kind)
	assert.NotContains(t, res.Failure.Message, "connection reset")
}

func TestRegisterUserForEvent_CapacityOne_TwoConcurrentCallers(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addUser("u2")
	store.addEvent("e1", "Final Slot", 1)
	engine := newEngine(store)

	results := make([]*domain.RegistrationResult, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, uid := range []string{"u1", "u2"} {
		go func(i int, uid string) {
			defer wg.Done()
			results[i] = engine.RegisterUserForEvent(context.Background(), uid, "e1")
		}(i, uid)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res.Success {
			successes++
			assert.Equal(t, 0, res.UpdatedEvent.Capacity)
		} else {
			assert.Equal(t, domain.FailureCapacityExhausted, res.Failure.Kind)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, store.capacity("e1"))
	assert.Equal(t, 1, store.registrationCount("e1"))
}

func TestRegisterUserForEvent_ConcurrentNeverOversells(t *testing.T) {
	const initialCapacity = 5
	const callers = 50

	store := newFakeStore()
	store.addEvent("e1", "Hot Ticket", initialCapacity)
	for i := 0; i < callers; i++ {
		store.addUser(fmt.Sprintf("u%d", i))
	}
	engine := newEngine(store)

	var wg sync.WaitGroup
	results := make([]*domain.RegistrationResult, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = engine.RegisterUserForEvent(context.Background(), fmt.Sprintf("u%d", i), "e1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res.Success {
			successes++
		} else {
			assert.Equal(t, domain.FailureCapacityExhausted, res.Failure.Kind)
		}
	}
	assert.Equal(t, initialCapacity, successes)
	assert.Equal(t, initialCapacity, store.registrationCount("e1"))
	assert.Equal(t, 0, store.capacity("e1"))
}

func TestUnregisterUserForEvent_RestoresCapacity(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addEvent("e1", "GopherConf", 3)
	engine := newEngine(store)

	require.True(t, engine.RegisterUserForEvent(context.Background(), "u1", "e1").Success)
	require.Equal(t, 2, store.capacity("e1"))

	res := engine.UnregisterUserForEvent(context.Background(), "u1", "e1")

	require.True(t, res.Success)
	assert.Equal(t, 3, res.UpdatedEvent.Capacity)
	assert.Equal(t, 3, store.capacity("e1"))
	assert.Equal(t, 0, store.registrationCount("e1"))
}

func TestUnregisterUserForEvent_NotRegistered(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	store.addEvent("e1", "GopherConf", 3)
	engine := newEngine(store)

	res := engine.UnregisterUserForEvent(context.Background(), "u1", "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureRegistrationNotFound, res.Failure.Kind)
	assert.Equal(t, 3, store.capacity("e1"))
}

func TestBulkRegister_SkipsDuplicatesAndAdjustsCapacity(t *testing.T) {
	store := newFakeStore()
	store.addEvent("e1", "Team Offsite", 10)
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		store.addUser(u)
	}
	engine := newEngine(store)

	// Two of the five are already registered.
	require.True(t, engine.RegisterUserForEvent(context.Background(), "u1", "e1").Success)
	require.True(t, engine.RegisterUserForEvent(context.Background(), "u2", "e1").Success)
	require.Equal(t, 8, store.capacity("e1"))

	res := engine.BulkRegisterUsersForEvent(context.Background(), users, "e1")

	require.True(t, res.Success)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 2, res.DuplicatesSkipped)
	// Capacity dropped by the created count, not the requested count.
	assert.Equal(t, 5, store.capacity("e1"))
	assert.Equal(t, 5, store.registrationCount("e1"))
}

func TestBulkRegister_InsufficientCapacity_FailsFast(t *testing.T) {
	store := newFakeStore()
	store.addEvent("e1", "Tiny Venue", 2)
	for _, u := range []string{"u1", "u2", "u3"} {
		store.addUser(u)
	}
	engine := newEngine(store)

	res := engine.BulkRegisterUsersForEvent(context.Background(), []string{"u1", "u2", "u3"}, "e1")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureInsufficientCapacity, res.Failure.Kind)
	assert.Contains(t, res.Failure.Message, "2 available")
	assert.Contains(t, res.Failure.Message, "3 requested")
	// Fail fast means no writes at all.
	assert.Equal(t, 0, store.registrationCount("e1"))
	assert.Equal(t, 2, store.capacity("e1"))
}

func TestBulkRegister_EventNotFound(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	engine := newEngine(store)

	res := engine.BulkRegisterUsersForEvent(context.Background(), []string{"u1"}, "missing")

	require.False(t, res.Success)
	assert.Equal(t, domain.FailureEventNotFound, res.Failure.Kind)
}

func TestBulkRegister_DuplicateIDsInRequest(t *testing.T) {
	store := newFakeStore()
	store.addEvent("e1", "GopherConf", 10)
	store.addUser("u1")
	engine := newEngine(store)

	res := engine.BulkRegisterUsersForEvent(context.Background(), []string{"u1", "u1", "u1"}, "e1")

	require.True(t, res.Success)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.DuplicatesSkipped)
	assert.Equal(t, 9, store.capacity("e1"))
}

func TestGetUserRegistrations_Pagination(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	engine := newEngine(store)

	// 25 registrations across 25 events, created in order.
	for i := 0; i < 25; i++ {
		eventID := fmt.Sprintf("e%d", i)
		store.addEvent(eventID, fmt.Sprintf("Event %d", i), 10)
		require.True(t, engine.RegisterUserForEvent(context.Background(), "u1", eventID).Success)
	}

	page1, err := engine.GetUserRegistrations(context.Background(), "u1", domain.PaginationParams{Page: 1, PageSize: 10})
	require.NoError(t, err)
	page2, err := engine.GetUserRegistrations(context.Background(), "u1", domain.PaginationParams{Page: 2, PageSize: 10})
	require.NoError(t, err)
	page3, err := engine.GetUserRegistrations(context.Background(), "u1", domain.PaginationParams{Page: 3, PageSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 25, page1.TotalRecords)
	assert.Equal(t, 3, page1.TotalPages)
	assert.True(t, page1.HasNextPage)
	assert.True(t, page2.HasNextPage)
	assert.False(t, page3.HasNextPage)
	assert.Len(t, page1.Items, 10)
	assert.Len(t, page2.Items, 10)
	assert.Len(t, page3.Items, 5)

	// Pages are disjoint, contiguous, and ordered most recent first.
	seen := make(map[string]bool)
	var all []*domain.RegistrationWithEvent
	for _, page := range []*domain.PagedRegistrations{page1, page2, page3} {
		for _, item := range page.Items {
			require.False(t, seen[item.Registration.ID], "registration %s appeared twice", item.Registration.ID)
			seen[item.Registration.ID] = true
			all = append(all, item)
		}
	}
	require.Len(t, all, 25)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Registration.CreatedAt.After(all[i-1].Registration.CreatedAt),
			"items must be ordered by created_at descending")
	}
	// Each item carries its event summary.
	assert.NotEmpty(t, all[0].Event.Title)
}

func TestGetUserRegistrations_ClampsPageParams(t *testing.T) {
	store := newFakeStore()
	store.addUser("u1")
	engine := newEngine(store)

	page, err := engine.GetUserRegistrations(context.Background(), "u1", domain.PaginationParams{Page: 0, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxListPageSize, page.PageSize)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNextPage)
}

func TestGetUserRegistrations_StorageError(t *testing.T) {
	engine := newEngine(&errStore{err: fmt.Errorf("boom")})

	_, err := engine.GetUserRegistrations(context.Background(), "u1", domain.PaginationParams{Page: 1, PageSize: 10})
	require.Error(t, err)
}
