package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

const testTaskType TaskType = "test_task"

func TestTaskManager_SubmitTask(t *testing.T) {
	var executed atomic.Int32
	RegisterTaskExecutor(testTaskType, func(task *Task) error {
		executed.Add(1)
		return nil
	})

	tm := NewTaskManager(ResourceConfig{MaxWorkers: 2, MaxTasksPerClient: 4})
	tm.Start()
	defer tm.Stop()

	task, id := NewTask(context.Background(), testTaskType, nil)
	if id == "" || task.ID != id {
		t.Fatalf("NewTask 返回的ID不一致: %q vs %q", id, task.ID)
	}

	if err := tm.SubmitTask("client-1", task); err != nil {
		t.Fatalf("SubmitTask() 返回错误: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for executed.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("任务未在期限内执行")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTaskManager_UnregisteredType(t *testing.T) {
	tm := NewTaskManager(ResourceConfig{MaxWorkers: 1, MaxTasksPerClient: 2})
	tm.Start()
	defer tm.Stop()

	task, _ := NewTask(context.Background(), TaskType("never_registered"), nil)
	if err := tm.SubmitTask("client-1", task); err == nil {
		t.Error("未注册的任务类型应被拒绝")
	}
}

func TestResourceQuota(t *testing.T) {
	quota := NewResourceQuota(2)

	if err := quota.TryAcquire(); err != nil {
		t.Fatalf("第一个名额获取失败: %v", err)
	}
	if err := quota.TryAcquire(); err != nil {
		t.Fatalf("第二个名额获取失败: %v", err)
	}
	if err := quota.TryAcquire(); err == nil {
		t.Error("超过上限仍获取到名额")
	}

	quota.Release()
	if err := quota.TryAcquire(); err != nil {
		t.Errorf("归还名额后获取失败: %v", err)
	}

	// 归还不会把计数减到负数
	quota.Release()
	quota.Release()
	quota.Release()
	if quota.RunningTasks != 0 {
		t.Errorf("RunningTasks = %d, want 0", quota.RunningTasks)
	}
}

func TestTaskManager_PerClientLimit(t *testing.T) {
	block := make(chan struct{})
	RegisterTaskExecutor(testTaskType, func(task *Task) error {
		<-block
		return nil
	})
	defer close(block)

	tm := NewTaskManager(ResourceConfig{MaxWorkers: 1, MaxTasksPerClient: 2})
	tm.Start()
	defer tm.Stop()

	for i := 0; i < 2; i++ {
		task, _ := NewTask(context.Background(), testTaskType, nil)
		if err := tm.SubmitTask("client-limited", task); err != nil {
			t.Fatalf("第%d个任务提交失败: %v", i+1, err)
		}
	}

	task, _ := NewTask(context.Background(), testTaskType, nil)
	if err := tm.SubmitTask("client-limited", task); err == nil {
		t.Error("超过客户端并发上限的任务应被拒绝")
	}

	// 其他客户端不受影响
	other, _ := NewTask(context.Background(), testTaskType, nil)
	if err := tm.SubmitTask("client-other", other); err != nil {
		t.Errorf("其他客户端提交失败: %v", err)
	}
}
