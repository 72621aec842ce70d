package task

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// WorkerPool manages a pool of workers for executing tasks
type WorkerPool struct {
	config        ResourceConfig
	workers       []*Worker
	taskQueue     chan *Task
	stopChan      chan struct{}
	idleWorkers   chan *Worker
	clientManager *ClientManager
	mu            sync.RWMutex
}

// Worker represents a task execution worker
type Worker struct {
	id       string
	status   WorkerStatus
	taskChan chan *Task
	stopChan chan struct{}
	pool     *WorkerPool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config ResourceConfig, clientManager *ClientManager) *WorkerPool {
	// 队列至少能容纳单个客户端的满额突发，避免一个客户端挤占其他客户端的入队空间
	queueSize := config.MaxWorkers * 2
	if queueSize < config.MaxWorkers+config.MaxTasksPerClient {
		queueSize = config.MaxWorkers + config.MaxTasksPerClient
	}

	wp := &WorkerPool{
		config:        config,
		taskQueue:     make(chan *Task, queueSize),
		stopChan:      make(chan struct{}),
		idleWorkers:   make(chan *Worker, config.MaxWorkers),
		clientManager: clientManager,
	}

	wp.initWorkers()
	return wp
}

// initWorkers initializes all workers as idle
func (wp *WorkerPool) initWorkers() {
	wp.workers = make([]*Worker, wp.config.MaxWorkers)
	for i := 0; i < wp.config.MaxWorkers; i++ {
		worker := newWorker(fmt.Sprintf("worker-%d", i), wp)
		wp.workers[i] = worker
		wp.idleWorkers <- worker
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	for _, worker := range wp.workers {
		go worker.start()
	}

	go wp.distributeTasks()
}

// Stop stops the worker pool
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	close(wp.stopChan)
	for _, worker := range wp.workers {
		worker.stop()
	}
}

// Submit submits a task to the worker pool
func (wp *WorkerPool) Submit(task *Task) error {
	select {
	case wp.taskQueue <- task:
		return nil
	default:
	}

	// 队列瞬时打满时等分发器腾出空间，而不是立刻拒绝
	select {
	case wp.taskQueue <- task:
		return nil
	case <-time.After(500 * time.Millisecond):
		return fmt.Errorf("task queue is full")
	}
}

// distributeTasks distributes tasks to idle workers
func (wp *WorkerPool) distributeTasks() {
	for {
		select {
		case <-wp.stopChan:
			return
		case task := <-wp.taskQueue:
			wp.assignTask(task)
		}
	}
}

// assignTask assigns a task to an available worker
func (wp *WorkerPool) assignTask(task *Task) {
	if _, exists := GetTaskExecutor(task.Type); !exists {
		task.Error = fmt.Errorf("no executor registered for task type: %v", task.Type)
		task.Status = TaskStatusFailed
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
		return
	}

	select {
	case worker := <-wp.idleWorkers:
		worker.assignTask(task)
	case <-time.After(10 * time.Second):
		// 超时处理：直接失败，不重排队
		task.Status = TaskStatusFailed
		task.Error = fmt.Errorf("no available workers within timeout")
		wp.releaseQuota(task)
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// releaseQuota 归还客户端并发名额
func (wp *WorkerPool) releaseQuota(task *Task) {
	if task.ClientID != "" && wp.clientManager != nil {
		ctx := wp.clientManager.GetClientContext(task.ClientID)
		ctx.ResourceQuota.Release()
	}
}

// workerFinished 当工作者完成任务时调用
func (wp *WorkerPool) workerFinished(worker *Worker) {
	select {
	case wp.idleWorkers <- worker:
		// 工作者重新加入空闲队列
	default:
		// 这种情况不应该发生，但为了安全起见
		fmt.Printf("Warning: Failed to return worker %s to idle pool\n", worker.id)
	}
}

// newWorker creates a new worker
func newWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:       id,
		status:   WorkerStatusIdle,
		taskChan: make(chan *Task, 1),
		stopChan: make(chan struct{}),
		pool:     pool,
	}
}

// start starts the worker
func (w *Worker) start() {
	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskChan:
			w.executeTask(task)
		}
	}
}

// executeTask executes a task
func (w *Worker) executeTask(task *Task) {
	w.status = WorkerStatusBusy

	defer func() {
		w.status = WorkerStatusIdle
		w.pool.workerFinished(w)
		w.pool.releaseQuota(task)
	}()

	// 推理调用本身有传输层超时，这里再加一道整体保护
	ctx, cancel := context.WithTimeout(task.Context, 5*time.Minute)
	defer cancel()
	task.Context = ctx

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				task.Status = TaskStatusFailed
				task.Error = fmt.Errorf("task panicked: %v", r)
			}
		}()

		select {
		case <-ctx.Done():
			task.Status = TaskStatusFailed
			task.Error = ctx.Err()
			return
		default:
		}

		task.Execute()
	}()

	select {
	case <-done:
		// 任务正常完成
	case <-ctx.Done():
		task.Status = TaskStatusFailed
		task.Error = ctx.Err()
		if task.Callback != nil {
			task.Callback.OnError(task.Error)
		}
	}
}

// stop stops the worker
func (w *Worker) stop() {
	w.status = WorkerStatusStopped
	close(w.stopChan)
}

// assignTask assigns a task to the worker
func (w *Worker) assignTask(task *Task) {
	select {
	case w.taskChan <- task:
		// 任务成功分配
	default:
		// 这种情况不应该发生，因为 taskChan 有缓冲
		fmt.Printf("Warning: Failed to assign task to worker %s\n", w.id)
	}
}
