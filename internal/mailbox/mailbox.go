// Package mailbox holds the next pending notification text awaiting
// delivery to the pull endpoint.
package mailbox

import "sync"

// Separator joins coalesced notifications.
const Separator = "\n\n"

// Mailbox is a single-slot, coalescing, thread-safe holder of outbound
// notification text. Concurrent appends are concatenated, never lost.
type Mailbox struct {
	mu      sync.Mutex
	pending string
	set     bool
}

func New() *Mailbox {
	return &Mailbox{}
}

// Append sets the pending text if the mailbox is empty, otherwise
// concatenates with the separator.
func (m *Mailbox) Append(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.set {
		m.pending = m.pending + Separator + text
		return
	}
	m.pending = text
	m.set = true
}

// Take atomically reads and clears the pending text.
func (m *Mailbox) Take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", false
	}
	text := m.pending
	m.pending = ""
	m.set = false
	return text, true
}

// Peek atomically reads the pending text without clearing it.
func (m *Mailbox) Peek() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, m.set
}
