package Registry

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DefaultTTL is how long a pending confirmation stays resolvable before
// its expiry task discards it.
const DefaultTTL = 15 * time.Minute

// ScheduleFunc runs task once after the given delay. The production
// scheduler is time.AfterFunc; tests inject their own to drive expiry
// without a real clock.
type ScheduleFunc func(delay time.Duration, task func())

// Registry correlates a posted confirmation message id back to the
// interaction that can still be edited once the user confirms.
//
// Every Register is matched by exactly one removal: either the first
// Resolve, or the expiry task scheduled at registration time. A token
// that is already gone resolves as absent, which callers treat as
// "already handled or expired" and not as an error.
type Registry struct {
	mu       sync.Mutex
	pending  map[string]*discordgo.Interaction
	ttl      time.Duration
	schedule ScheduleFunc
}

func New(ttl time.Duration) *Registry {
	return NewWithScheduler(ttl, func(delay time.Duration, task func()) {
		time.AfterFunc(delay, task)
	})
}

func NewWithScheduler(ttl time.Duration, schedule ScheduleFunc) *Registry {
	return &Registry{
		pending:  make(map[string]*discordgo.Interaction),
		ttl:      ttl,
		schedule: schedule,
	}
}

// Register stores the pair and schedules its expiry. Tokens are Discord
// message ids and therefore unique; a duplicate token silently
// overwrites the previous entry.
func (registry *Registry) Register(token string, origin *discordgo.Interaction) {
	registry.mu.Lock()
	registry.pending[token] = origin
	registry.mu.Unlock()

	// The expiry task needs no cancellation: if the token was resolved
	// first, the delete below finds nothing.
	registry.schedule(registry.ttl, func() {
		registry.mu.Lock()
		delete(registry.pending, token)
		registry.mu.Unlock()
	})
}

// Resolve removes and returns the entry for token. The lookup and the
// delete happen under one lock hold so two handlers racing on the same
// token cannot both consume it. A second Resolve of the same token
// always reports absent.
func (registry *Registry) Resolve(token string) (*discordgo.Interaction, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	origin, ok := registry.pending[token]
	if ok {
		delete(registry.pending, token)
	}
	return origin, ok
}

// Len reports how many confirmations are currently pending.
func (registry *Registry) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return len(registry.pending)
}
