package plan

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const subscriberBufferSize = 16

// Emitter holds the current upgrade prompt and broadcasts new prompts to
// subscribers. A new prompt overwrites the previous one; dismissal clears it.
type Emitter struct {
	mu          sync.RWMutex
	current     *Prompt
	subscribers map[string]chan Prompt
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		subscribers: make(map[string]chan Prompt),
	}
}

// Emit records p as the current prompt and notifies subscribers.
func (e *Emitter) Emit(p Prompt) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = &p

	for id, ch := range e.subscribers {
		select {
		case ch <- p:
		default:
			// Slow consumer; skip rather than block the dispatcher.
			log.Warn().Str("subscriber", id).Msg("Upgrade prompt subscriber blocked, dropping prompt")
		}
	}
}

// Current returns a copy of the active prompt, or nil when none is pending.
func (e *Emitter) Current() *Prompt {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.current == nil {
		return nil
	}
	p := *e.current
	return &p
}

// Dismiss clears the active prompt. Dismissing an empty emitter is a no-op.
func (e *Emitter) Dismiss() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = nil
}

// Subscribe registers a new prompt listener and returns its id and channel.
func (e *Emitter) Subscribe() (string, <-chan Prompt) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	ch := make(chan Prompt, subscriberBufferSize)
	e.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Emitter) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.subscribers[id]; ok {
		delete(e.subscribers, id)
		close(ch)
	}
}
