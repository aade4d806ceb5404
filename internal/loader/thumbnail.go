package loader

import (
	"fmt"
	"image"
	"sync/atomic"

	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/queue"
)

// LoadObserver receives the result of a load
type LoadObserver interface {
	DidLoad(img image.Image)
	DidFailToLoad(err error)
}

// PrefetchObserver is notified when a prefetch is done, whether it succeeded, failed or was released
type PrefetchObserver interface {
	DidFinishPrefetch()
}

// requestContext is either a loadContext or a prefetchContext
type requestContext interface {
	contextID() uint64
}

// canceled is shared with the handle of the context, notifications that were
// collected before a cancel are dropped when it's set
type loadContext struct {
	id       uint64
	request  *smoothieImage.Request
	observer LoadObserver
	canceled *atomic.Bool
}

func (c loadContext) contextID() uint64 { return c.id }

type prefetchContext struct {
	id       uint64
	request  *smoothieImage.Request
	observer PrefetchObserver
	canceled *atomic.Bool
}

func (c prefetchContext) contextID() uint64 { return c.id }

// ThumbnailPool groups the loads and prefetches for a single request key, behind one task subscription.
// It's guarded by the mutex of the TaskPool.
type ThumbnailPool struct {
	key          smoothieImage.RequestKey
	contexts     []requestContext
	released     bool
	done         bool
	subscription *Subscription
	finished     func()
}

func (p *ThumbnailPool) checkKey(request *smoothieImage.Request) {
	if key := request.Key(); key != p.key {
		panic(fmt.Sprintf("loader: appended %s to the pool for %s", key, p.key))
	}
}

func (p *ThumbnailPool) appendLoad(id uint64, request *smoothieImage.Request, observer LoadObserver) *atomic.Bool {
	p.checkKey(request)
	canceled := &atomic.Bool{}
	p.contexts = append(p.contexts, loadContext{
		id:       id,
		request:  request,
		observer: observer,
		canceled: canceled,
	})
	return canceled
}

// appendPrefetch returns nil if the pool has released its prefetches
func (p *ThumbnailPool) appendPrefetch(id uint64, request *smoothieImage.Request, observer PrefetchObserver) *atomic.Bool {
	p.checkKey(request)
	if p.released {
		return nil
	}

	canceled := &atomic.Bool{}
	p.contexts = append(p.contexts, prefetchContext{
		id:       id,
		request:  request,
		observer: observer,
		canceled: canceled,
	})
	return canceled
}

// didLoad empties the pool and returns the notifications to deliver outside the lock
func (p *ThumbnailPool) didLoad(img image.Image, err error) []func() {
	if p.done {
		return nil
	}

	notifications := make([]func(), 0, len(p.contexts))
	for _, c := range p.contexts {
		switch c := c.(type) {
		case loadContext:
			observer, canceled := c.observer, c.canceled
			notifications = append(notifications, func() {
				if canceled.Load() {
					return
				}
				if err != nil {
					observer.DidFailToLoad(err)
				} else {
					observer.DidLoad(img)
				}
			})
		case prefetchContext:
			notifications = append(notifications, finishPrefetch(c))
		}
	}

	p.contexts = nil
	p.done = true
	p.finished()

	return notifications
}

// releasePrefetches removes every prefetch, leaving loads untouched
func (p *ThumbnailPool) releasePrefetches() []func() {
	p.released = true

	var notifications []func()
	loads := p.contexts[:0]
	for _, c := range p.contexts {
		if prefetch, ok := c.(prefetchContext); ok {
			notifications = append(notifications, finishPrefetch(prefetch))
			continue
		}
		loads = append(loads, c)
	}
	p.contexts = loads

	if len(p.contexts) == 0 {
		p.teardown()
	}

	return notifications
}

// cancel removes a single context without notifying it
func (p *ThumbnailPool) cancel(id uint64) {
	for i, c := range p.contexts {
		if c.contextID() != id {
			continue
		}

		p.contexts = append(p.contexts[:i], p.contexts[i+1:]...)
		if len(p.contexts) == 0 {
			p.teardown()
		}
		return
	}
}

func finishPrefetch(c prefetchContext) func() {
	return func() {
		if !c.canceled.Load() {
			c.observer.DidFinishPrefetch()
		}
	}
}

func (p *ThumbnailPool) teardown() {
	if p.done {
		return
	}

	p.done = true
	p.subscription.cancel()
	p.finished()
}

// Thumbnails keeps track of the thumbnail pools, and subscribes them to the tasks of a TaskPool
type Thumbnails struct {
	tasks     *TaskPool
	operation func(request *smoothieImage.Request) Operation
	pools     map[smoothieImage.RequestKey]*ThumbnailPool
	nextID    uint64
}

// NewThumbnails creates a registry on top of a TaskPool, operation creates the operation for a new task
func NewThumbnails(tasks *TaskPool, operation func(request *smoothieImage.Request) Operation) *Thumbnails {
	return &Thumbnails{
		tasks:     tasks,
		operation: operation,
		pools:     make(map[smoothieImage.RequestKey]*ThumbnailPool),
	}
}

// AppendLoad adds a load to the pool for the request
func (r *Thumbnails) AppendLoad(request *smoothieImage.Request, observer LoadObserver) Cancellable {
	r.tasks.mutex.Lock()
	defer r.tasks.mutex.Unlock()

	pool := r.pool(request, queue.High)
	id := r.id()
	canceled := pool.appendLoad(id, request, observer)

	return &thumbnailHandle{
		registry: r,
		key:      pool.key,
		id:       id,
		canceled: canceled,
	}
}

// AppendPrefetch adds a prefetch to the pool for the request.
// If the prefetches for the key have been released, the observer is notified right away.
func (r *Thumbnails) AppendPrefetch(request *smoothieImage.Request, observer PrefetchObserver) Cancellable {
	r.tasks.mutex.Lock()

	pool := r.pool(request, queue.Low)
	id := r.id()
	canceled := pool.appendPrefetch(id, request, observer)
	if canceled == nil {
		r.tasks.mutex.Unlock()
		observer.DidFinishPrefetch()
		return nopHandle{}
	}

	r.tasks.mutex.Unlock()

	return &thumbnailHandle{
		registry: r,
		key:      pool.key,
		id:       id,
		canceled: canceled,
	}
}

// ReleasePrefetches releases the prefetches for the key, loads are left running
func (r *Thumbnails) ReleasePrefetches(key smoothieImage.RequestKey) {
	r.tasks.mutex.Lock()

	var notifications []func()
	if pool, ok := r.pools[key]; ok {
		notifications = pool.releasePrefetches()
	}

	r.tasks.mutex.Unlock()
	notify(notifications)
}

// ReleaseAllPrefetches releases the prefetches for every key
func (r *Thumbnails) ReleaseAllPrefetches() {
	r.tasks.mutex.Lock()

	var notifications []func()
	for _, pool := range r.pools {
		notifications = append(notifications, pool.releasePrefetches()...)
	}

	r.tasks.mutex.Unlock()
	notify(notifications)
}

// Len returns the amount of live pools
func (r *Thumbnails) Len() int {
	r.tasks.mutex.Lock()
	defer r.tasks.mutex.Unlock()

	return len(r.pools)
}

// Must be called with the mutex held
func (r *Thumbnails) id() uint64 {
	id := r.nextID
	r.nextID++
	return id
}

// pool finds or creates the pool for the request. Must be called with the mutex held.
func (r *Thumbnails) pool(request *smoothieImage.Request, priority queue.Priority) *ThumbnailPool {
	key := request.Key()
	if pool, ok := r.pools[key]; ok {
		return pool
	}

	pool := &ThumbnailPool{
		key: key,
	}
	pool.finished = func() {
		if r.pools[key] == pool {
			delete(r.pools, key)
		}
	}

	task := r.tasks.joinOrCreate(key, func() *LoadTask {
		return NewLoadTask(key, priority, r.operation(request))
	})

	subscription, err := task.subscribe(func(img image.Image, err error) {
		r.didLoad(pool, img, err)
	})
	if err != nil {
		panic(fmt.Sprintf("loader: subscribed to a terminated task for %s", key))
	}

	pool.subscription = subscription
	r.pools[key] = pool

	return pool
}

func (r *Thumbnails) didLoad(pool *ThumbnailPool, img image.Image, err error) {
	r.tasks.mutex.Lock()
	notifications := pool.didLoad(img, err)
	r.tasks.mutex.Unlock()

	notify(notifications)
}

func (r *Thumbnails) cancel(key smoothieImage.RequestKey, id uint64) {
	r.tasks.mutex.Lock()
	defer r.tasks.mutex.Unlock()

	if pool, ok := r.pools[key]; ok {
		pool.cancel(id)
	}
}

func notify(notifications []func()) {
	for _, notification := range notifications {
		notification()
	}
}

type thumbnailHandle struct {
	registry *Thumbnails
	key      smoothieImage.RequestKey
	id       uint64
	canceled *atomic.Bool
}

// Cancel removes the load or prefetch without notifying its observer.
// Once it returns the observer won't be called, unless it's already running.
func (h *thumbnailHandle) Cancel() {
	h.canceled.Store(true)
	h.registry.cancel(h.key, h.id)
}

type nopHandle struct{}

func (nopHandle) Cancel() {}
