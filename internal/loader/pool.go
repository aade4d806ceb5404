package loader

import (
	"context"
	"fmt"
	"sync"

	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/queue"
)

// TaskPool ensures that there's at most one live LoadTask per request key.
// Its mutex is the single lock guarding the pool, the tasks, and any Thumbnails registry built on top of it.
type TaskPool struct {
	mutex sync.Mutex
	queue *queue.Queue
	tasks map[smoothieImage.RequestKey]*LoadTask
}

// NewTaskPool creates a pool running operations on the given amount of workers, until the context is canceled
func NewTaskPool(ctx context.Context, workers int) *TaskPool {
	workerQueue := queue.New(ctx, workers, runOperation)
	go workerQueue.Run()

	return &TaskPool{
		queue: workerQueue,
		tasks: make(map[smoothieImage.RequestKey]*LoadTask),
	}
}

func runOperation(ctx context.Context, data interface{}) (interface{}, error) {
	operation, ok := data.(Operation)
	if !ok {
		return nil, fmt.Errorf("invalid data")
	}

	img, err := operation(ctx)
	if err != nil || img == nil {
		return nil, err
	}

	return img, nil
}

// JoinOrCreate returns the live task for the key, or registers the task returned by create.
// A registered task removes itself from the pool when it terminates.
func (p *TaskPool) JoinOrCreate(key smoothieImage.RequestKey, create func() *LoadTask) *LoadTask {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.joinOrCreate(key, create)
}

// Subscribe joins or creates the task for the key and subscribes to it, atomically
func (p *TaskPool) Subscribe(key smoothieImage.RequestKey, create func() *LoadTask, completion Completion) *Subscription {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	subscription, err := p.joinOrCreate(key, create).subscribe(completion)
	if err != nil {
		// Terminated tasks are removed from the pool in the same critical section as they terminate
		panic(fmt.Sprintf("loader: subscribed to a terminated task for %s", key))
	}

	return subscription
}

// Len returns the amount of live tasks
func (p *TaskPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.tasks)
}

// Must be called with the mutex held
func (p *TaskPool) joinOrCreate(key smoothieImage.RequestKey, create func() *LoadTask) *LoadTask {
	if task, ok := p.tasks[key]; ok {
		return task
	}

	task := create()
	if task.key != key {
		panic(fmt.Sprintf("loader: created a task for %s under %s", task.key, key))
	}

	disposed := false
	task.mutex = &p.mutex
	task.queue = p.queue
	task.dispose = func() {
		if disposed {
			panic(fmt.Sprintf("loader: task for %s disposed twice", key))
		}
		disposed = true

		if p.tasks[key] == task {
			delete(p.tasks, key)
		}
		tasksInFlight.Add(-1)
	}

	p.tasks[key] = task
	tasksInFlight.Add(1)

	return task
}
