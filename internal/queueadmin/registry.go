// Package queueadmin orchestrates administrative operations across the index queues of a site.
package queueadmin

import (
	"errors"
	"fmt"

	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/site"
)

// PrimaryImplementation is preferred as the default queue whenever a site resolves it.
const PrimaryImplementation = models.QueueImplementationDatabase

var ErrConfigurationNotResolved = errors.New("indexing configuration has no resolved queue")

// Factory constructs queue instances by implementation id. *queue.Registry satisfies it.
type Factory interface {
	New(id models.QueueImplementationID) (queue.IndexQueue, error)
}

type FactoryFunc func(id models.QueueImplementationID) (queue.IndexQueue, error)

func (f FactoryFunc) New(id models.QueueImplementationID) (queue.IndexQueue, error) { return f(id) }

type resolvedEntry struct {
	id    models.QueueImplementationID
	queue queue.IndexQueue
}

// ResolvedQueues holds one instance per implementation id used by a site, in first-seen order.
type ResolvedQueues struct {
	entries         []resolvedEntry
	byID            map[models.QueueImplementationID]int
	byConfiguration map[string]models.QueueImplementationID
}

// Resolve walks the enabled configurations of s in order and instantiates each distinct
// implementation once. Configuration lookup and construction errors are returned as is.
func Resolve(s *site.Site, factory Factory) (*ResolvedQueues, error) {
	r := &ResolvedQueues{
		byID:            make(map[models.QueueImplementationID]int),
		byConfiguration: make(map[string]models.QueueImplementationID),
	}
	for _, name := range s.EnabledConfigurationNames() {
		id, err := s.QueueImplementation(name)
		if err != nil {
			return nil, fmt.Errorf("resolve queue for %q: %w", name, err)
		}
		if _, ok := r.byID[id]; !ok {
			if factory == nil {
				return nil, fmt.Errorf("resolve queue for %q: %w: %q", name, queue.ErrUnknownImplementation, id)
			}
			q, err := factory.New(id)
			if err != nil {
				return nil, fmt.Errorf("resolve queue for %q: %w", name, err)
			}
			r.byID[id] = len(r.entries)
			r.entries = append(r.entries, resolvedEntry{id: id, queue: q})
		}
		r.byConfiguration[name] = id
	}
	return r, nil
}

func (r *ResolvedQueues) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Default returns the primary implementation if resolved, else the first resolved one.
func (r *ResolvedQueues) Default() (queue.IndexQueue, bool) {
	if r.Len() == 0 {
		return nil, false
	}
	if q, ok := r.Get(PrimaryImplementation); ok {
		return q, true
	}
	return r.entries[0].queue, true
}

// Get returns the instance of an implementation, if any enabled configuration resolved to it.
func (r *ResolvedQueues) Get(id models.QueueImplementationID) (queue.IndexQueue, bool) {
	if r == nil {
		return nil, false
	}
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.entries[i].queue, true
}

// ForConfiguration returns the instance servicing an enabled configuration.
func (r *ResolvedQueues) ForConfiguration(name string) (queue.IndexQueue, error) {
	if r != nil {
		if id, ok := r.byConfiguration[name]; ok {
			if q, ok := r.Get(id); ok {
				return q, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrConfigurationNotResolved, name)
}

func (r *ResolvedQueues) All() []queue.IndexQueue {
	out := make([]queue.IndexQueue, 0, r.Len())
	if r == nil {
		return out
	}
	for _, e := range r.entries {
		out = append(out, e.queue)
	}
	return out
}

func (r *ResolvedQueues) IDs() []models.QueueImplementationID {
	out := make([]models.QueueImplementationID, 0, r.Len())
	if r == nil {
		return out
	}
	for _, e := range r.entries {
		out = append(out, e.id)
	}
	return out
}
