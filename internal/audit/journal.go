package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	queueDepth  = 256
	insertGrace = 5 * time.Second
)

// Journal is the durable Recorder. Events normally flow through a buffered
// queue drained off the request path; when the queue is saturated the
// write degrades to a synchronous insert rather than dropping the event —
// the contract is "may be asynchronous, must be durable".
type Journal struct {
	store  Store
	logger *slog.Logger
	queue  chan Event
	now    func() time.Time

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func NewJournal(store Store, logger *slog.Logger) *Journal {
	j := &Journal{
		store:    store,
		logger:   logger,
		queue:    make(chan Event, queueDepth),
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
	j.wg.Add(1)
	go j.drain()
	return j
}

// Record stamps and enqueues the event. The caller's context is not used
// for the write — a canceled request must still leave its trace.
func (j *Journal) Record(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	// Stamped at enqueue time so events for one session are monotonic in
	// issuance order regardless of drain scheduling.
	if event.CreatedAt.IsZero() {
		event.CreatedAt = j.now()
	}

	select {
	case j.queue <- event:
	default:
		j.insert(event)
	}
}

func (j *Journal) drain() {
	defer j.wg.Done()
	for {
		select {
		case event := <-j.queue:
			j.insert(event)
		case <-j.shutdown:
			for {
				select {
				case event := <-j.queue:
					j.insert(event)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) insert(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertGrace)
	defer cancel()

	if err := j.store.Insert(ctx, &event); err != nil {
		// Last resort: the event reaches the structured log so it is not
		// lost entirely, and operators see the journal failing.
		j.logger.Error("audit_insert_failed",
			"action", event.Action,
			"actor_id", event.ActorID,
			"success", event.Success,
			"error", err,
		)
	}
}

// Close flushes the queue and stops the drain goroutine.
func (j *Journal) Close() {
	j.once.Do(func() { close(j.shutdown) })
	j.wg.Wait()
}
