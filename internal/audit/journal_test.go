package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memStore) Insert(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *memStore) all() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestJournalPersistsEvents(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, slog.Default())

	actor := uuid.New()
	j.Record(context.Background(), Event{
		ActorID: &actor,
		Action:  ActionLoginSuccess,
		Success: true,
	})
	j.Close()

	events := store.all()
	require.Len(t, events, 1)
	assert.Equal(t, ActionLoginSuccess, events[0].Action)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestJournalSurvivesCanceledRequestContext(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Record(ctx, Event{Action: ActionLogout, Success: true})
	j.Close()

	require.Len(t, store.all(), 1)
}

func TestJournalTimestampsMonotonicPerSession(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, slog.Default())

	session := uuid.New()
	for i := 0; i < 50; i++ {
		j.Record(context.Background(), Event{SessionID: &session, Action: ActionRefreshSuccess, Success: true})
	}
	j.Close()

	events := store.all()
	require.Len(t, events, 50)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.Before(events[i-1].CreatedAt))
	}
}

func TestJournalSaturationFallsBackSynchronously(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, slog.Default())

	// Far more events than the queue holds; none may be dropped.
	const n = queueDepth * 4
	for i := 0; i < n; i++ {
		j.Record(context.Background(), Event{Action: ActionAccessDecision, Success: true})
	}
	j.Close()

	assert.Len(t, store.all(), n)
}

func TestJournalInsertFailureDoesNotPanic(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	j := NewJournal(store, slog.Default())

	j.Record(context.Background(), Event{Action: ActionLoginFail})
	j.Close()
	// The event is lost to the store but the process keeps running.
}

func TestJournalCloseIsIdempotent(t *testing.T) {
	j := NewJournal(&memStore{}, slog.Default())
	j.Close()
	j.Close()
}

func TestRef(t *testing.T) {
	assert.Nil(t, Ref(uuid.Nil))
	id := uuid.New()
	require.NotNil(t, Ref(id))
	assert.Equal(t, id, *Ref(id))
}
