// Package subs owns one logical subscription per scope key and fans typed
// events out to a handler. Re-opening a scope tears down the previous
// handle first, so duplicate delivery after a remount or reconnect is
// structurally impossible.
package subs

import (
	"fmt"
	"sync"
	"time"

	"convsync/pkg/logger"
	"convsync/pkg/pubsub"
)

// Handler receives decoded events for one scope. Handlers for a given scope
// run on a single goroutine in transport arrival order; no ordering holds
// across scopes.
type Handler func(ev pubsub.Event)

type handle struct {
	stream pubsub.Stream
	done   chan struct{}
}

// Manager multiplexes scope subscriptions onto a Transport. It is
// explicitly constructed and injected (no package-level instance) so the
// scope-key map is testable in isolation.
type Manager struct {
	transport pubsub.Transport

	mu   sync.Mutex
	open map[string]*handle
	shut bool
}

// NewManager returns a Manager over the given transport.
func NewManager(t pubsub.Transport) *Manager {
	return &Manager{transport: t, open: make(map[string]*handle)}
}

// Open subscribes to scope and pumps decoded events to h. If the scope is
// already open the previous handle is closed first. A transport refusal is
// returned as a terminal error; the manager never retries silently.
func (m *Manager) Open(scope string, h Handler) error {
	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		return fmt.Errorf("subscription manager is shut down")
	}
	prev := m.open[scope]
	delete(m.open, scope)
	m.mu.Unlock()
	if prev != nil {
		closeHandle(prev)
		logger.Debug("subscription_replaced", "scope", scope)
	}

	stream, err := m.transport.Subscribe(scope)
	if err != nil {
		return fmt.Errorf("open subscription %s: %w", scope, err)
	}
	hd := &handle{stream: stream, done: make(chan struct{})}

	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		stream.Close()
		close(hd.done)
		return fmt.Errorf("subscription manager is shut down")
	}
	m.open[scope] = hd
	m.mu.Unlock()

	go func() {
		defer close(hd.done)
		for it := range stream.Events() {
			env := it.Env
			// Arrival timestamp drives staleness checks downstream.
			env.ReceivedAt = time.Now()
			ev, err := pubsub.Decode(env)
			it.Done()
			if err != nil {
				logger.Warn("event_decode_failed", "scope", scope, "error", err)
				continue
			}
			h(ev)
		}
	}()
	logger.Debug("subscription_opened", "scope", scope)
	return nil
}

// Close tears down the scope's subscription. It returns only after the
// pump goroutine has exited, so no handler fires after Close.
func (m *Manager) Close(scope string) {
	m.mu.Lock()
	hd := m.open[scope]
	delete(m.open, scope)
	m.mu.Unlock()
	if hd != nil {
		closeHandle(hd)
		logger.Debug("subscription_closed", "scope", scope)
	}
}

// Scopes returns the currently subscribed scope keys.
func (m *Manager) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.open))
	for s := range m.open {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every open subscription and rejects further opens.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shut {
		m.mu.Unlock()
		return
	}
	m.shut = true
	open := m.open
	m.open = make(map[string]*handle)
	m.mu.Unlock()
	for scope, hd := range open {
		closeHandle(hd)
		logger.Debug("subscription_closed", "scope", scope)
	}
}

func closeHandle(hd *handle) {
	hd.stream.Close()
	<-hd.done
}
