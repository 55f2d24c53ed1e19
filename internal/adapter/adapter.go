// Package adapter defines the channel adapter capability: a stateless
// collaborator that accepts optimized content and returns a delivery
// receipt or a classified error. Production code always talks to a real
// implementation; deterministic fakes live in test files.
package adapter

import (
	"context"
	"sort"
	"sync"

	"signalcast/internal/models"
)

// Adapter delivers content to one distribution channel.
//
// Contract:
//   - Send is safe for concurrent use and retains no state across calls.
//   - Errors should be classified: wrap with Transient() (or RetryAfter())
//     when a retry can help; unwrapped errors are treated as permanent.
//   - Send must respect ctx cancellation and deadlines.
type Adapter interface {
	ChannelID() string
	Send(ctx context.Context, text string) (models.Receipt, error)
}

// Registry maps channel ids to adapters. The orchestrator receives it by
// injection; nothing reaches adapters through globals.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byID: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its channel id.
func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.byID[a.ChannelID()] = a
	r.mu.Unlock()
}

func (r *Registry) Get(channelID string) (Adapter, bool) {
	r.mu.RLock()
	a, ok := r.byID[channelID]
	r.mu.RUnlock()
	return a, ok
}

// ChannelIDs lists registered channels, sorted.
func (r *Registry) ChannelIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byID))
	for id := range r.byID {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
