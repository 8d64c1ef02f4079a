// Package affinity runs tasks in FIFO order per key while different keys proceed in parallel
// on a shared worker pool.
package affinity

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"lifeline.ai/internal/logging"
)

var ErrClosed = errors.New("affinity queue closed")

type Queue struct {
	pool *ants.Pool
	log  *zap.Logger

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
	idle   *sync.Cond
}

type lane struct {
	tasks []func()
}

func New(workers int, logger *zap.Logger) (*Queue, error) {
	if workers <= 0 {
		workers = 64
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, errors.Wrap(err, "create affinity pool")
	}
	q := &Queue{
		pool:  pool,
		log:   logging.OrNop(logger),
		lanes: map[string]*lane{},
	}
	q.idle = sync.NewCond(&q.mu)
	return q, nil
}

// Submit appends task to the lane for key. Tasks of one key never overlap and run in
// submission order.
func (q *Queue) Submit(key string, task func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if ln, ok := q.lanes[key]; ok {
		ln.tasks = append(ln.tasks, task)
		q.mu.Unlock()
		return nil
	}
	q.lanes[key] = &lane{tasks: []func(){task}}
	q.mu.Unlock()

	if err := q.pool.Submit(func() { q.drain(key) }); err != nil {
		q.mu.Lock()
		delete(q.lanes, key)
		q.idle.Broadcast()
		q.mu.Unlock()
		return errors.Wrapf(err, "schedule lane %s", key)
	}
	return nil
}

func (q *Queue) drain(key string) {
	for {
		q.mu.Lock()
		ln := q.lanes[key]
		if ln == nil || len(ln.tasks) == 0 {
			delete(q.lanes, key)
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		task := ln.tasks[0]
		ln.tasks[0] = nil
		ln.tasks = ln.tasks[1:]
		q.mu.Unlock()

		q.run(key, task)
	}
}

func (q *Queue) run(key string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("affinity task panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	task()
}

// Wait blocks until every lane is empty.
func (q *Queue) Wait() {
	q.mu.Lock()
	for len(q.lanes) > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Close stops accepting tasks, lets queued ones finish and releases the pool.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Wait()
	q.pool.Release()
}
