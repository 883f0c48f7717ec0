package gateway

import "sync"

// AuthHub fans auth events out to the listeners of each device.
type AuthHub struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string]map[uint64]func(AuthEvent)
}

// NewAuthHub returns an empty hub.
func NewAuthHub() *AuthHub {
	return &AuthHub{listeners: make(map[string]map[uint64]func(AuthEvent))}
}

// Subscribe registers fn for deviceID. The returned func removes it and is safe to call twice.
func (h *AuthHub) Subscribe(deviceID string, fn func(AuthEvent)) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.listeners[deviceID] == nil {
		h.listeners[deviceID] = make(map[uint64]func(AuthEvent))
	}
	h.listeners[deviceID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners[deviceID], id)
			if len(h.listeners[deviceID]) == 0 {
				delete(h.listeners, deviceID)
			}
		})
	}
}

// Publish delivers ev to every listener of deviceID.
// Listeners are called outside the lock, so they may subscribe or unsubscribe.
func (h *AuthHub) Publish(deviceID string, ev AuthEvent) {
	h.mu.RLock()
	fns := make([]func(AuthEvent), 0, len(h.listeners[deviceID]))
	for _, fn := range h.listeners[deviceID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// ListenerCount returns how many listeners deviceID has.
func (h *AuthHub) ListenerCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[deviceID])
}
