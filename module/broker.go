package module

import (
	"log/slog"
	"sync"
)

// MessageHandler processes messages delivered by the broker.
type MessageHandler interface {
	HandleMessage(msg []byte) error
}

// MessageHandlerFunc adapts a plain function to the MessageHandler interface.
type MessageHandlerFunc func(msg []byte) error

// HandleMessage implements MessageHandler.
func (f MessageHandlerFunc) HandleMessage(msg []byte) error { return f(msg) }

// MessageBroker is the in-process pub/sub channel carrying domain events and
// lifecycle notifications between the engine and its observers.
type MessageBroker interface {
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, message []byte) error
}

// MemoryBroker is an in-memory MessageBroker. Delivery is synchronous: Publish
// invokes every subscribed handler before returning. Handler errors are logged
// and do not stop delivery to the remaining handlers.
type MemoryBroker struct {
	logger        *slog.Logger
	mu            sync.RWMutex
	subscriptions map[string][]MessageHandler
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker(logger *slog.Logger) *MemoryBroker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroker{
		logger:        logger,
		subscriptions: make(map[string][]MessageHandler),
	}
}

// Subscribe adds a handler for a topic. Multiple handlers may subscribe to
// the same topic; each receives every message.
func (b *MemoryBroker) Subscribe(topic string, handler MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriptions[topic] = append(b.subscriptions[topic], handler)
	b.logger.Debug("Handler subscribed", "topic", topic)
	return nil
}

// Unsubscribe removes all handlers for a topic.
func (b *MemoryBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscriptions, topic)
	b.logger.Debug("Handlers unsubscribed", "topic", topic)
	return nil
}

// Publish delivers a message to every handler subscribed to the topic. A
// topic with no subscribers is not an error.
func (b *MemoryBroker) Publish(topic string, message []byte) error {
	b.mu.RLock()
	handlers := b.subscriptions[topic]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("No subscribers", "topic", topic)
		return nil
	}

	for _, handler := range handlers {
		if err := handler.HandleMessage(message); err != nil {
			b.logger.Error("Message handler failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// Topics returns the topics that currently have at least one subscriber.
func (b *MemoryBroker) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subscriptions))
	for topic := range b.subscriptions {
		out = append(out, topic)
	}
	return out
}
