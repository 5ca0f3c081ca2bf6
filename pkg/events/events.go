// Package events provides a small Node-style event emitter used for the
// lifecycle channels of connections, namespaces and adapters.
package events

import (
	"errors"
	"reflect"
	"sync"
)

type Listener func(...any)

type EventEmitter interface {
	On(string, ...Listener) error
	Once(string, ...Listener) error
	RemoveListener(string, Listener) bool
	RemoveAllListeners(string) bool
	Emit(string, ...any)
	Listeners(string) []Listener
	ListenerCount(string) int
	Clear()
}

type handler struct {
	listener Listener
	once     bool
}

type emitter struct {
	mu       sync.RWMutex
	handlers map[string][]*handler
}

func New() EventEmitter {
	return &emitter{handlers: map[string][]*handler{}}
}

func (e *emitter) On(ev string, listeners ...Listener) error {
	if len(listeners) == 0 {
		return errors.New("missing listener")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, listener := range listeners {
		e.handlers[ev] = append(e.handlers[ev], &handler{listener: listener})
	}
	return nil
}

func (e *emitter) Once(ev string, listeners ...Listener) error {
	if len(listeners) == 0 {
		return errors.New("missing listener")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, listener := range listeners {
		e.handlers[ev] = append(e.handlers[ev], &handler{listener: listener, once: true})
	}
	return nil
}

// RemoveListener removes the first registration of listener for ev and
// reports whether one was found.
func (e *emitter) RemoveListener(ev string, listener Listener) bool {
	if listener == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pointer := reflect.ValueOf(listener).Pointer()
	handlers := e.handlers[ev]
	for i, h := range handlers {
		if reflect.ValueOf(h.listener).Pointer() == pointer {
			e.handlers[ev] = append(handlers[:i], handlers[i+1:]...)
			if len(e.handlers[ev]) == 0 {
				delete(e.handlers, ev)
			}
			return true
		}
	}
	return false
}

func (e *emitter) RemoveAllListeners(ev string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handlers[ev]; !ok {
		return false
	}
	delete(e.handlers, ev)
	return true
}

func (e *emitter) Emit(ev string, args ...any) {
	e.mu.Lock()
	handlers := append([]*handler{}, e.handlers[ev]...)
	remaining := e.handlers[ev][:0:0]
	for _, h := range e.handlers[ev] {
		if !h.once {
			remaining = append(remaining, h)
		}
	}
	if len(remaining) == 0 {
		delete(e.handlers, ev)
	} else {
		e.handlers[ev] = remaining
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h.listener(args...)
	}
}

func (e *emitter) Listeners(ev string) []Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()

	listeners := make([]Listener, 0, len(e.handlers[ev]))
	for _, h := range e.handlers[ev] {
		listeners = append(listeners, h.listener)
	}
	return listeners
}

func (e *emitter) ListenerCount(ev string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[ev])
}

func (e *emitter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers = map[string][]*handler{}
}
