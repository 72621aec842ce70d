package task

import (
	"sync"
)

// ClientManager manages client contexts and resources
type ClientManager struct {
	clients       map[string]*ClientContext
	maxConcurrent int
	mu            sync.RWMutex
}

// NewClientManager creates a new client manager
func NewClientManager(maxConcurrent int) *ClientManager {
	return &ClientManager{
		clients:       make(map[string]*ClientContext),
		maxConcurrent: maxConcurrent,
	}
}

// GetClientContext gets or creates a client context
func (cm *ClientManager) GetClientContext(clientID string) *ClientContext {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if ctx, exists := cm.clients[clientID]; exists {
		return ctx
	}

	ctx := &ClientContext{
		ID:            clientID,
		ResourceQuota: NewResourceQuota(cm.maxConcurrent),
	}

	cm.clients[clientID] = ctx
	return ctx
}

// RemoveClient removes a client context
func (cm *ClientManager) RemoveClient(clientID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.clients, clientID)
}
