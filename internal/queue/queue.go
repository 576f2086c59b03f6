// Package queue defines the index queue capability set and its implementations.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/site"
)

var (
	ErrUnknownImplementation = errors.New("unknown queue implementation")
	ErrNoSite                = errors.New("no site selected")
)

// IndexQueue is implemented by every queue implementation the administrative layer can address.
type IndexQueue interface {
	ImplementationID() models.QueueImplementationID
	// Statistics counts items of a site. An empty configuration covers all configurations.
	Statistics(ctx context.Context, s *site.Site, configuration string) (models.QueueStatistics, error)
	Errors(ctx context.Context, s *site.Site) ([]models.QueueError, error)
	// ResetAllErrors clears the error state of every item and returns how many were cleared.
	ResetAllErrors(ctx context.Context) (int64, error)
	// UpdateItem marks items of a record for re-processing and returns how many were touched.
	UpdateItem(ctx context.Context, itemType string, recordID int64, changed time.Time) (int64, error)
	// Item returns nil, nil when no item has the given id.
	Item(ctx context.Context, itemID int64) (*models.IndexQueueItem, error)
	Initializer() Initializer
}

// Initializer populates a queue from indexing configurations.
type Initializer interface {
	InitializeByConfigurations(ctx context.Context, s *site.Site, configurations []string) (map[string]bool, error)
}

// Consumer is the part of a queue the execution service claims work through.
type Consumer interface {
	Pending(ctx context.Context, s *site.Site, limit int) ([]models.IndexQueueItem, error)
	MarkIndexed(ctx context.Context, itemID int64, indexed time.Time) error
	MarkFailed(ctx context.Context, itemID int64, message string) error
}

// Error codes carried by InitializationError.
const (
	CodeUnknownConfiguration = "unknown_configuration"
	CodeStorage              = "storage_failure"
)

// InitializationError describes why one configuration could not be initialized.
type InitializationError struct {
	Configuration string
	Code          string
	Err           error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %q: %v", e.Configuration, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ErrorCode returns a stable identifier for reports.
func (e *InitializationError) ErrorCode() string { return e.Code }

// Constructor builds a fresh queue instance.
type Constructor func() (IndexQueue, error)

// Registry maps implementation ids to constructors registered at startup.
type Registry struct {
	mu           sync.RWMutex
	constructors map[models.QueueImplementationID]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[models.QueueImplementationID]Constructor)}
}

// Register adds or replaces the constructor for id.
func (r *Registry) Register(id models.QueueImplementationID, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[id] = c
}

// New constructs the implementation registered under id.
func (r *Registry) New(id models.QueueImplementationID) (IndexQueue, error) {
	r.mu.RLock()
	c, ok := r.constructors[id]
	r.mu.RUnlock()
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImplementation, id)
	}
	q, err := c()
	if err != nil {
		return nil, fmt.Errorf("construct %s queue: %w", id, err)
	}
	return q, nil
}

// Has reports whether id has a registered constructor.
func (r *Registry) Has(id models.QueueImplementationID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[id]
	return ok
}

func (r *Registry) IDs() []models.QueueImplementationID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]models.QueueImplementationID, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func requireSite(s *site.Site) error {
	if s == nil || s.ID == "" {
		return ErrNoSite
	}
	return nil
}

func lookupConfiguration(s *site.Site, name string) (site.IndexingConfiguration, error) {
	c, err := s.Configuration(name)
	if err != nil {
		return site.IndexingConfiguration{}, &InitializationError{Configuration: name, Code: CodeUnknownConfiguration, Err: err}
	}
	return c, nil
}
