// Package site exposes the read-only view of configured sites that the queue layer works against.
package site

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/indexq/internal/config"
	"github.com/odvcencio/indexq/internal/models"
)

var (
	ErrUnknownConfiguration = errors.New("unknown indexing configuration")
	ErrSiteNotFound         = errors.New("site not found")
)

// BackendConnection is a search backend a site's documents are transmitted to.
type BackendConnection struct {
	Name       string
	Addresses  []string
	Index      string
	Username   string
	Password   string
	MaxRetries int
}

// IndexingConfiguration is a named rule set selecting content records of one type.
type IndexingConfiguration struct {
	Name     string
	Type     string
	Queue    models.QueueImplementationID
	Priority int
	Enabled  bool
}

type Site struct {
	ID             string
	Name           string
	Base           string
	backends       []BackendConnection
	configurations []IndexingConfiguration
}

func New(id, name string, backends []BackendConnection, configurations []IndexingConfiguration) *Site {
	return &Site{
		ID:             id,
		Name:           name,
		backends:       append([]BackendConnection(nil), backends...),
		configurations: append([]IndexingConfiguration(nil), configurations...),
	}
}

// FromConfig converts one site section of the service configuration.
func FromConfig(sc config.SiteConfig) *Site {
	backends := make([]BackendConnection, 0, len(sc.Backends))
	for _, b := range sc.Backends {
		index := strings.TrimSpace(b.Index)
		if index == "" {
			index = sc.ID
		}
		backends = append(backends, BackendConnection{
			Name:       b.Name,
			Addresses:  append([]string(nil), b.Addresses...),
			Index:      index,
			Username:   b.Username,
			Password:   b.Password,
			MaxRetries: b.MaxRetries,
		})
	}
	configurations := make([]IndexingConfiguration, 0, len(sc.Configurations))
	for _, ic := range sc.Configurations {
		configurations = append(configurations, IndexingConfiguration{
			Name:     strings.TrimSpace(ic.Name),
			Type:     strings.TrimSpace(ic.Type),
			Queue:    models.QueueImplementationID(strings.TrimSpace(ic.Queue)),
			Priority: ic.Priority,
			Enabled:  !ic.Disabled,
		})
	}
	s := New(strings.TrimSpace(sc.ID), sc.Name, backends, configurations)
	s.Base = sc.Base
	return s
}

// EnabledConfigurationNames returns enabled configuration names in definition order.
func (s *Site) EnabledConfigurationNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.configurations))
	for _, c := range s.configurations {
		if c.Enabled {
			names = append(names, c.Name)
		}
	}
	return names
}

func (s *Site) Configuration(name string) (IndexingConfiguration, error) {
	if s != nil {
		for _, c := range s.configurations {
			if c.Name == name {
				return c, nil
			}
		}
	}
	return IndexingConfiguration{}, fmt.Errorf("%w: %q", ErrUnknownConfiguration, name)
}

// QueueImplementation returns the queue implementation servicing a configuration.
// Configurations without an explicit queue use the database queue.
func (s *Site) QueueImplementation(name string) (models.QueueImplementationID, error) {
	c, err := s.Configuration(name)
	if err != nil {
		return "", err
	}
	if c.Queue == "" {
		return models.QueueImplementationDatabase, nil
	}
	return c.Queue, nil
}

func (s *Site) BackendConnections() []BackendConnection {
	if s == nil {
		return nil
	}
	return s.backends
}
