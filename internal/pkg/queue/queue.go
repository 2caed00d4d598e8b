package queue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrClosed 队列已关闭。
var ErrClosed = errors.New("queue closed")

// ErrFull 队列已满，任务被丢弃。
var ErrFull = errors.New("queue full")

// Job 是一个带名称的异步任务。Name 只用于日志与错误回调。
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// ErrorHandler 在任务返回错误或 panic 时被调用。
type ErrorHandler func(job Job, err error)

// DepthObserver 在队列长度变化时被调用（例如更新 gauge）。
type DepthObserver func(depth int)

// Queue 是内存任务队列加固定 worker 池。入队不阻塞，满时直接丢弃。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	mu        sync.RWMutex
	onError   ErrorHandler
	onDepth   DepthObserver
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计快照。
type Stats struct {
	Enqueued  int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Panics    int64
	Pending   int
}

// New 创建队列；workers 与 capacity 小于 1 时按 1 处理。
func New(logger *slog.Logger, workers, capacity int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误回调。
func (q *Queue) SetErrorHandler(h ErrorHandler) {
	q.mu.Lock()
	q.onError = h
	q.mu.Unlock()
}

// SetDepthObserver 设置队列长度回调。
func (q *Queue) SetDepthObserver(o DepthObserver) {
	q.mu.Lock()
	q.onDepth = o
	q.mu.Unlock()
}

// Start 启动 worker；ctx 会传给每个任务。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.observeDepth()
		q.run(ctx, id, job)
	}
	q.logger.Debug("queue worker exit", slog.Int("worker_id", id))
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("queue job panic",
				slog.String("job", job.Name),
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			q.reportError(job, errors.New("job panicked"))
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Warn("queue job failed",
			slog.String("job", job.Name),
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		q.reportError(job, err)
		return
	}
	q.succeeded.Add(1)
}

func (q *Queue) reportError(job Job, err error) {
	q.mu.RLock()
	h := q.onError
	q.mu.RUnlock()
	if h != nil {
		h(job, err)
	}
}

func (q *Queue) observeDepth() {
	q.mu.RLock()
	o := q.onDepth
	q.mu.RUnlock()
	if o != nil {
		o(len(q.jobs))
	}
}

// Enqueue 非阻塞入队。
func (q *Queue) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("job has no run func")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		if q.onDepth != nil {
			q.onDepth(len(q.jobs))
		}
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("queue full, job dropped",
			slog.String("job", job.Name),
			slog.Int("capacity", cap(q.jobs)))
		return ErrFull
	}
}

// Shutdown 拒绝新任务并等待已入队任务执行完，ctx 到期则提前返回。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed.Store(true)
		close(q.jobs)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回统计快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
		Pending:   len(q.jobs),
	}
}
