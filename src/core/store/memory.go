package store

import (
	"sync"

	"scenegraph-server-go/src/core/orchestrator"
)

// MemoryStore 会话级结果存储，按作业ID索引
// 写入是完整值的一次性发布，读端不会看到写了一半的条目
// 生命周期与进程一致，不做逐条淘汰，整体随进程销毁
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*orchestrator.SceneGraphResult
}

// NewMemoryStore 创建会话级结果存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*orchestrator.SceneGraphResult),
	}
}

// Put 按作业ID存储结果，同ID覆盖
func (s *MemoryStore) Put(jobID string, result *orchestrator.SceneGraphResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[jobID] = result
}

// Get 按作业ID读取结果，未存储过时返回false（这是预期情况，不是错误）
func (s *MemoryStore) Get(jobID string) (*orchestrator.SceneGraphResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	return result, ok
}

// Len 当前存储的结果数量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
