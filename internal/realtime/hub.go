// Package realtime fans JSON events out to each user's open websocket
// connections.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"dcabot/internal/metrics"
)

const (
	TypeConnected       = "connected"
	TypeExecutionUpdate = "execution_update"
	TypeStrategyUpdate  = "strategy_update"
	TypeNotification    = "notification"
	TypePriceUpdate     = "price_update"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Message is the envelope every client receives.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster is the fire-and-forget side the engine and services depend on.
type Broadcaster interface {
	SendToUser(userID uint64, msgType string, data any)
}

type Subscriber struct {
	UserID uint64
	ch     chan Message
}

func (s *Subscriber) C() <-chan Message {
	return s.ch
}

// Hub never blocks a sender: a full subscriber buffer drops the message.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]map[*Subscriber]struct{}
	buf  int
	now  func() time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var _ Broadcaster = (*Hub)(nil)

func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 64
	}
	return &Hub{
		subs: map[uint64]map[*Subscriber]struct{}{},
		buf:  buf,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hub) Subscribe(userID uint64) *Subscriber {
	sub := &Subscriber{UserID: userID, ch: make(chan Message, h.buf)}
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = map[*Subscriber]struct{}{}
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h == nil || sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.UserID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.UserID)
	}
	metrics.WSConnections.Dec()
}

func (h *Hub) SendToUser(userID uint64, msgType string, data any) {
	if h == nil {
		return
	}
	msg := Message{Type: msgType, Data: data, Timestamp: h.now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		h.deliver(sub, msg)
	}
}

// Broadcast sends to every connected user.
func (h *Hub) Broadcast(msgType string, data any) {
	if h == nil {
		return
	}
	msg := Message{Type: msgType, Data: data, Timestamp: h.now()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.subs {
		for sub := range set {
			h.deliver(sub, msg)
		}
	}
}

func (h *Hub) deliver(sub *Subscriber, msg Message) {
	select {
	case sub.ch <- msg:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
		metrics.WSDropped.Inc()
	}
}

// IsUserConnected reports whether the user has at least one open connection.
func (h *Hub) IsUserConnected(userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

type Stats struct {
	Users       int    `json:"users"`
	Connections int    `json:"connections"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := 0
	for _, set := range h.subs {
		conns += len(set)
	}
	return Stats{Users: len(h.subs), Connections: conns, Sent: h.sent.Load(), Dropped: h.dropped.Load()}
}
