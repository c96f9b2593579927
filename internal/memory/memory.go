// Package memory keeps a bounded window of recent chat messages.
package memory

import (
	"sync"

	"github.com/wolfman30/safeguard/internal/detection"
)

// DefaultCapacity is the window size used when none is configured.
const DefaultCapacity = 20

// ConversationMemory is a FIFO window of the most recent messages.
type ConversationMemory struct {
	mu       sync.Mutex
	capacity int
	messages []detection.Message
}

func New(capacity int) *ConversationMemory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ConversationMemory{
		capacity: capacity,
		messages: make([]detection.Message, 0, capacity),
	}
}

// Append records a message, evicting the oldest once over capacity.
func (m *ConversationMemory) Append(msg detection.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if over := len(m.messages) - m.capacity; over > 0 {
		m.messages = append(m.messages[:0], m.messages[over:]...)
	}
}

// Last returns up to n most recent messages, oldest first.
func (m *ConversationMemory) Last(n int) []detection.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return []detection.Message{}
	}
	if n > len(m.messages) {
		n = len(m.messages)
	}
	out := make([]detection.Message, n)
	copy(out, m.messages[len(m.messages)-n:])
	return out
}

func (m *ConversationMemory) All() []detection.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]detection.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *ConversationMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *ConversationMemory) Capacity() int {
	return m.capacity
}

func (m *ConversationMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = m.messages[:0]
}
