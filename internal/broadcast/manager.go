// Package broadcast tracks live subscribers and pushes updates to them.
// A subscriber that fails a send is dropped on the spot.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/logging"
)

// SendTimeout bounds a single delivery.
const SendTimeout = 10 * time.Second

// Subscriber is one open push channel.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

type Manager struct {
	mu       sync.RWMutex
	bySymbol map[string][]Subscriber
	global   map[string]Subscriber
	log      zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		bySymbol: make(map[string][]Subscriber),
		global:   make(map[string]Subscriber),
		log:      logging.Component(logger, "broadcast"),
	}
}

// Connect registers sub globally and, when symbol is set, under symbol.
func (m *Manager) Connect(sub Subscriber, symbol string) {
	m.mu.Lock()
	m.global[sub.ID()] = sub
	if symbol != "" {
		m.bySymbol[symbol] = append(m.bySymbol[symbol], sub)
	}
	total := len(m.global)
	m.mu.Unlock()

	m.log.Info().Str("subscriber", sub.ID()).Str("symbol", symbol).Int("total", total).Msg("subscriber connected")
}

// Disconnect removes sub from the global set and from symbol, then closes
// it. Calling it again for the same subscriber is harmless.
func (m *Manager) Disconnect(sub Subscriber, symbol string) {
	m.mu.Lock()
	_, known := m.global[sub.ID()]
	delete(m.global, sub.ID())
	if symbol != "" {
		m.removeLocked(symbol, sub.ID())
	}
	m.mu.Unlock()

	if known {
		m.closeSub(sub)
	}
}

// DisconnectEverywhere removes sub from every scope and closes it.
func (m *Manager) DisconnectEverywhere(sub Subscriber) {
	m.mu.Lock()
	_, known := m.global[sub.ID()]
	delete(m.global, sub.ID())
	for symbol := range m.bySymbol {
		m.removeLocked(symbol, sub.ID())
	}
	m.mu.Unlock()

	if known {
		m.closeSub(sub)
	}
}

// removeLocked drops id from symbol's list and deletes the list once empty.
func (m *Manager) removeLocked(symbol, id string) {
	subs := m.bySymbol[symbol]
	kept := subs[:0:0]
	for _, s := range subs {
		if s.ID() != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(m.bySymbol, symbol)
		return
	}
	m.bySymbol[symbol] = kept
}

func (m *Manager) closeSub(sub Subscriber) {
	if err := sub.Close(); err != nil {
		m.log.Debug().Err(err).Str("subscriber", sub.ID()).Msg("close subscriber")
	}
}

// BroadcastToSymbol delivers msg to symbol's subscribers and returns how
// many received it.
func (m *Manager) BroadcastToSymbol(ctx context.Context, symbol string, msg any) int {
	m.mu.RLock()
	targets := append([]Subscriber(nil), m.bySymbol[symbol]...)
	m.mu.RUnlock()
	return m.deliver(ctx, targets, msg)
}

// BroadcastToAll delivers msg to every subscriber.
func (m *Manager) BroadcastToAll(ctx context.Context, msg any) int {
	m.mu.RLock()
	targets := make([]Subscriber, 0, len(m.global))
	for _, s := range m.global {
		targets = append(targets, s)
	}
	m.mu.RUnlock()
	return m.deliver(ctx, targets, msg)
}

func (m *Manager) deliver(ctx context.Context, targets []Subscriber, msg any) int {
	if len(targets) == 0 {
		return 0
	}
	b, err := encode(msg)
	if err != nil {
		m.log.Error().Err(err).Msg("encode broadcast message")
		return 0
	}

	var failed []Subscriber
	delivered := 0
	for _, sub := range targets {
		sctx, cancel := context.WithTimeout(ctx, SendTimeout)
		err := sub.Send(sctx, b)
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("subscriber", sub.ID()).Msg("send failed, dropping subscriber")
			failed = append(failed, sub)
			continue
		}
		delivered++
	}

	for _, sub := range failed {
		m.DisconnectEverywhere(sub)
	}
	return delivered
}

func encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

func (m *Manager) SubscriberCount(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol[symbol])
}

func (m *Manager) GlobalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.global)
}

// Symbols lists the symbols with at least one subscriber.
func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bySymbol))
	for s := range m.bySymbol {
		out = append(out, s)
	}
	return out
}

// HasSubscribers reports whether an update for symbol would reach anyone.
func (m *Manager) HasSubscribers(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySymbol[symbol]) > 0 || len(m.global) > 0
}

// CloseAll disconnects and closes every subscriber.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	subs := m.global
	m.global = make(map[string]Subscriber)
	m.bySymbol = make(map[string][]Subscriber)
	m.mu.Unlock()

	for _, sub := range subs {
		m.closeSub(sub)
	}
	m.log.Info().Int("closed", len(subs)).Msg("all subscribers closed")
}
