package bus

import (
	"context"
	"sync"
)

const defaultQueueDepth = 256

// MessageBus is the concrete, in-process implementation of
// MessageRouter and EventPublisher. One MessageBus instance is shared
// by every channel adapter and the Orchestrator within a process.
type MessageBus struct {
	inbound  chan UnifiedMessage
	outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]EventHandler
}

// New creates a MessageBus with the default queue depth.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan UnifiedMessage, defaultQueueDepth),
		outbound: make(chan OutboundMessage, defaultQueueDepth),
		handlers: make(map[string]EventHandler),
	}
}

// PublishInbound enqueues a message from a channel adapter for the
// Orchestrator to consume. Drops the message if the queue is full
// rather than blocking the adapter's read loop.
func (b *MessageBus) PublishInbound(msg UnifiedMessage) {
	select {
	case b.inbound <- msg:
	default:
		b.Broadcast(Event{Name: "bus.inbound_dropped", Payload: msg.ID})
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (UnifiedMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return UnifiedMessage{}, false
	}
}

// PublishOutbound enqueues a reply for channel adapters to deliver.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		b.Broadcast(Event{Name: "bus.outbound_dropped", Payload: msg.ChatID})
	}
}

// SubscribeOutbound blocks until an outbound reply is available or ctx
// is done. Channel adapters run this in their own dispatch loop.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers an event handler under id, replacing any
// existing handler registered under the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

// Unsubscribe removes the handler registered under id.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers event to every subscribed handler synchronously.
// Handlers must not block; slow consumers should buffer internally.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
