package loader

import (
	"context"
	"errors"
	"expvar"
	"image"
	"slices"
	"sync"

	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/queue"
)

var (
	tasksInFlight = expvar.NewInt("gauge_loader_tasks_in_flight")
	tasksCanceled = expvar.NewInt("counter_loader_tasks_canceled")
	tasksFailed   = expvar.NewInt("counter_loader_tasks_failed")
)

// Operation produces the image of a task, it runs on a worker
type Operation func(ctx context.Context) (image.Image, error)

// Completion receives the result of a task
type Completion func(img image.Image, err error)

// Cancellable is a handle that stops delivery of a result
type Cancellable interface {
	Cancel()
}

type state int

const (
	idle state = iota
	started
	completed
	canceled
)

// LoadTask is a single in-flight unit of work for a request key, whose result is delivered to every subscriber.
//
// A task starts when it gets its first subscriber, and terminates when its operation finishes
// or when its last subscriber unsubscribes, whichever happens first.
// All state is guarded by the mutex of the TaskPool the task is registered with.
type LoadTask struct {
	key       smoothieImage.RequestKey
	priority  queue.Priority
	operation Operation

	// Set when the task is registered with a pool
	mutex   *sync.Mutex
	queue   *queue.Queue
	dispose func()

	state         state
	nextID        uint64
	subscriptions map[uint64]Completion
	cancel        context.CancelFunc
}

// NewLoadTask creates a task for the key that runs operation with the given priority
func NewLoadTask(key smoothieImage.RequestKey, priority queue.Priority, operation Operation) *LoadTask {
	return &LoadTask{
		key:           key,
		priority:      priority,
		operation:     operation,
		subscriptions: make(map[uint64]Completion),
	}
}

// Key returns the key of the task
func (t *LoadTask) Key() smoothieImage.RequestKey {
	return t.key
}

// Subscribe registers a completion, starting the task if needed.
// It never blocks on the operation; ErrTaskTerminated is returned if the task has already terminated.
func (t *LoadTask) Subscribe(completion Completion) (*Subscription, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.subscribe(completion)
}

// Unsubscribe removes a subscription. Removing the last subscription cancels the operation.
func (t *LoadTask) Unsubscribe(id uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.unsubscribe(id)
}

// Must be called with the mutex held
func (t *LoadTask) subscribe(completion Completion) (*Subscription, error) {
	if t.state == completed || t.state == canceled {
		return nil, ErrTaskTerminated
	}

	id := t.nextID
	t.nextID++
	t.subscriptions[id] = completion

	if t.state == idle {
		t.start()
	}

	return &Subscription{
		task: t,
		id:   id,
	}, nil
}

// Must be called with the mutex held
func (t *LoadTask) unsubscribe(id uint64) {
	if t.state != started {
		return
	}

	if _, ok := t.subscriptions[id]; !ok {
		return
	}

	delete(t.subscriptions, id)
	if len(t.subscriptions) > 0 {
		return
	}

	t.state = canceled
	t.subscriptions = nil
	t.cancel()
	t.dispose()
	tasksCanceled.Add(1)
}

// Must be called with the mutex held
func (t *LoadTask) start() {
	t.state = started

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go t.run(ctx)
}

func (t *LoadTask) run(ctx context.Context) {
	result, err := t.queue.ProcessWithPriority(ctx, t.priority, t.operation)

	img, _ := result.(image.Image)
	if err == nil && img == nil {
		err = ErrDecodeFailed
	}

	t.complete(img, err)
}

// complete delivers the result to every current subscriber and terminates the task
func (t *LoadTask) complete(img image.Image, err error) {
	t.mutex.Lock()

	// Every subscriber has already left
	if t.state != started {
		t.mutex.Unlock()
		return
	}

	ids := make([]uint64, 0, len(t.subscriptions))
	for id := range t.subscriptions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	completions := make([]Completion, 0, len(ids))
	for _, id := range ids {
		completions = append(completions, t.subscriptions[id])
	}

	t.state = completed
	t.subscriptions = nil
	t.cancel()
	t.dispose()
	t.mutex.Unlock()

	if err != nil {
		tasksFailed.Add(1)
	}

	for _, completion := range completions {
		completion(img, err)
	}
}

// Subscription is a handle to a subscription on a task
type Subscription struct {
	task *LoadTask
	id   uint64
}

// Cancel removes the subscription, it's a no-op if the result has already been delivered or if called more than once
func (s *Subscription) Cancel() {
	s.task.Unsubscribe(s.id)
}

// Must be called with the mutex held
func (s *Subscription) cancel() {
	s.task.unsubscribe(s.id)
}

// Errors
var (
	ErrTaskTerminated = errors.New("task has terminated")
	ErrDecodeFailed   = errors.New("failed to decode image")
)
