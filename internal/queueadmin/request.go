package queueadmin

import "github.com/odvcencio/indexq/internal/site"

// Request carries the state of one administrative request. Queue resolution happens on first
// use and is reused for the rest of the request. A Request must not be shared between requests.
type Request struct {
	Site *site.Site

	factory  Factory
	resolved bool
	queues   *ResolvedQueues
	err      error
}

func NewRequest(s *site.Site, factory Factory) *Request {
	return &Request{Site: s, factory: factory}
}

// Queues resolves the site's queues at most once.
func (r *Request) Queues() (*ResolvedQueues, error) {
	if !r.resolved {
		r.queues, r.err = Resolve(r.Site, r.factory)
		r.resolved = true
	}
	return r.queues, r.err
}

// Resolved reports whether Queues has been called.
func (r *Request) Resolved() bool { return r.resolved }
