package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
)

// Queue errors.
var (
	ErrQueueFull   = errors.New("operation queue full")
	ErrQueueClosed = errors.New("operation queue closed")
	ErrNotFound    = errors.New("operation not found")
	ErrInvalidType = errors.New("invalid operation type")
)

// Executor performs one operation.
type Executor interface {
	Execute(ctx context.Context, op Operation) (*motion.MoveSummary, error)
}

// Recorder persists operation state changes.
type Recorder interface {
	Save(ctx context.Context, op Operation) error
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Capacity int
	Recorder Recorder
	Logger   logger.Logger
}

// Queue runs submitted operations one at a time in submission order.
type Queue struct {
	exec    Executor
	rec     Recorder
	log     logger.Logger
	pending chan string

	mu     sync.Mutex
	ops    map[string]*Operation
	order  []string
	done   map[string]chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue and starts its worker.
func NewQueue(exec Executor, opts QueueOptions) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:    exec,
		rec:     opts.Recorder,
		log:     opts.Logger.WithComponent("queue"),
		pending: make(chan string, opts.Capacity),
		ops:     make(map[string]*Operation),
		done:    make(map[string]chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit queues an operation. payload is encoded as JSON; a json.RawMessage
// is stored as is.
func (q *Queue) Submit(typ Type, payload any) (Operation, error) {
	if !typ.Valid() {
		return Operation{}, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	raw, ok := payload.(json.RawMessage)
	if !ok && payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encode payload: %w", err)
		}
		raw = data
	}

	op := &Operation{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   raw,
		Status:    StatusQueued,
		Submitted: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Operation{}, ErrQueueClosed
	}
	select {
	case q.pending <- op.ID:
	default:
		q.mu.Unlock()
		return Operation{}, ErrQueueFull
	}
	q.ops[op.ID] = op
	q.order = append(q.order, op.ID)
	q.done[op.ID] = make(chan struct{})
	snapshot := *op
	q.mu.Unlock()

	q.record(snapshot)
	q.log.Info("operation queued", logger.WithField("id", op.ID), logger.WithField("type", typ))
	return snapshot, nil
}

// Get returns a snapshot of the operation with id.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// List returns snapshots of every operation in submission order.
func (q *Queue) List() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.ops[id])
	}
	return out
}

// Wait blocks until the operation finishes or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (Operation, error) {
	q.mu.Lock()
	done, ok := q.done[id]
	q.mu.Unlock()
	if !ok {
		return Operation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-done:
		op, _ := q.Get(id)
		return op, nil
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}
}

// Close stops accepting operations, cancels the running one and waits for
// the worker to exit. Operations still queued are marked failed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.pending)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for id := range q.pending {
		if q.ctx.Err() != nil {
			q.finish(id, nil, ErrQueueClosed)
			continue
		}
		q.run(id)
	}
}

func (q *Queue) run(id string) {
	op := q.update(id, func(op *Operation) {
		op.Status = StatusRunning
		op.Started = time.Now()
	})
	q.log.Info("operation started", logger.WithField("id", id), logger.WithField("type", op.Type))

	summary, err := q.exec.Execute(q.ctx, op)
	q.finish(id, summary, err)
}

func (q *Queue) finish(id string, summary *motion.MoveSummary, err error) {
	op := q.update(id, func(op *Operation) {
		op.Finished = time.Now()
		op.Result = summary
		if err != nil {
			op.Status = StatusFailed
			op.Error = err.Error()
		} else {
			op.Status = StatusSucceeded
		}
	})

	fields := []logger.Field{
		logger.WithField("id", id),
		logger.WithField("type", op.Type),
		logger.WithField("elapsed", op.Finished.Sub(op.Started).Round(time.Millisecond)),
	}
	if err != nil {
		q.log.Error("operation failed", append(fields, logger.WithError(err))...)
	} else {
		q.log.Info("operation succeeded", fields...)
	}

	q.mu.Lock()
	close(q.done[id])
	q.mu.Unlock()
}

// update applies fn under the lock, records the result and returns a
// snapshot.
func (q *Queue) update(id string, fn func(op *Operation)) Operation {
	q.mu.Lock()
	op := q.ops[id]
	fn(op)
	snapshot := *op
	q.mu.Unlock()

	q.record(snapshot)
	return snapshot
}

func (q *Queue) record(op Operation) {
	if q.rec == nil {
		return
	}
	// Recording must outlive queue shutdown so final states are kept.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), 5*time.Second)
	defer cancel()
	if err := q.rec.Save(ctx, op); err != nil {
		q.log.Warn("record operation failed", logger.WithError(err), logger.WithField("id", op.ID))
	}
}

// Pending returns the number of operations not yet finished.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, op := range q.ops {
		if !op.Status.Done() {
			n++
		}
	}
	return n
}
