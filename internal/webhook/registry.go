package webhook

import (
	"sort"
	"sync"
	"time"

	"github.com/relaykit/whatsrelay/internal/metrics"
	"github.com/relaykit/whatsrelay/internal/models"
)

// Registry holds the registered webhook subscribers, keyed by URL.
// Registration is last-write-wins on the secret; two concurrent
// registrations of the same URL never produce duplicate entries.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]models.Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]models.Subscriber)}
}

// Register adds or updates a subscriber. Re-registering an existing URL
// replaces the secret but keeps the original registration time.
func (r *Registry) Register(url, secret string) models.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.subs[url]
	if !exists {
		sub = models.Subscriber{URL: url, RegisteredAt: time.Now().UTC()}
	}
	sub.Secret = secret
	r.subs[url] = sub

	metrics.Subscribers.Set(float64(len(r.subs)))
	return sub
}

// Unregister removes a subscriber by URL. Returns false if the URL was
// not registered.
func (r *Registry) Unregister(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subs[url]; !exists {
		return false
	}
	delete(r.subs, url)
	metrics.Subscribers.Set(float64(len(r.subs)))
	return true
}

// Get returns the subscriber registered at url.
func (r *Registry) Get(url string) (models.Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[url]
	return sub, ok
}

// List returns all subscribers sorted by URL for stable output.
func (r *Registry) List() []models.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]models.Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].URL < subs[j].URL })
	return subs
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
