package site

import (
	"fmt"
	"strings"

	"github.com/odvcencio/indexq/internal/config"
)

// Provider looks up configured sites by ID.
type Provider struct {
	order []string
	sites map[string]*Site
}

func NewProvider(sites ...*Site) *Provider {
	p := &Provider{sites: make(map[string]*Site, len(sites))}
	for _, s := range sites {
		if s == nil {
			continue
		}
		if _, ok := p.sites[s.ID]; !ok {
			p.order = append(p.order, s.ID)
		}
		p.sites[s.ID] = s
	}
	return p
}

func NewProviderFromConfig(cfg *config.Config) *Provider {
	if cfg == nil {
		return NewProvider()
	}
	sites := make([]*Site, 0, len(cfg.Sites))
	for _, sc := range cfg.Sites {
		sites = append(sites, FromConfig(sc))
	}
	return NewProvider(sites...)
}

func (p *Provider) Get(id string) (*Site, error) {
	s, ok := p.sites[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSiteNotFound, id)
	}
	return s, nil
}

// All returns every site in configuration order.
func (p *Provider) All() []*Site {
	out := make([]*Site, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.sites[id])
	}
	return out
}
