package task

import (
	"fmt"
	"time"
)

// TaskManager manages async tasks and their execution
type TaskManager struct {
	workerPool    *WorkerPool
	clientManager *ClientManager

	janitor         func() // 定期维护钩子（产物清理）
	janitorInterval time.Duration
	janitorStop     chan struct{}
}

// NewTaskManager creates a new TaskManager instance
func NewTaskManager(config ResourceConfig) *TaskManager {
	tm := &TaskManager{
		clientManager:   NewClientManager(config.MaxTasksPerClient),
		janitorInterval: 10 * time.Minute,
		janitorStop:     make(chan struct{}),
	}

	tm.workerPool = NewWorkerPool(config, tm.clientManager)
	return tm
}

// SetJanitor 挂载定期维护钩子
func (tm *TaskManager) SetJanitor(fn func()) {
	tm.janitor = fn
}

// Start starts the task manager and its components
func (tm *TaskManager) Start() {
	tm.workerPool.Start()
	if tm.janitor != nil {
		go tm.runJanitor()
	}
}

// Stop stops the task manager and its components
func (tm *TaskManager) Stop() {
	tm.workerPool.Stop()
	close(tm.janitorStop)
}

// SubmitTask submits a task for execution
func (tm *TaskManager) SubmitTask(clientID string, t *Task) error {
	// 检查任务类型是否已注册
	if _, exists := GetTaskExecutor(t.Type); !exists {
		return fmt.Errorf("task type %v is not registered", t.Type)
	}

	ctx := tm.clientManager.GetClientContext(clientID)

	// 原子占用并发名额，提交失败时回滚
	if err := ctx.ResourceQuota.TryAcquire(); err != nil {
		return err
	}

	t.ClientID = clientID

	if err := tm.workerPool.Submit(t); err != nil {
		ctx.ResourceQuota.Release()
		return err
	}

	return nil
}

// runJanitor 定期执行维护钩子
func (tm *TaskManager) runJanitor() {
	ticker := time.NewTicker(tm.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.janitorStop:
			return
		case <-ticker.C:
			tm.janitor()
		}
	}
}
