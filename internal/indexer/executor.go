package indexer

import (
	"fmt"

	"github.com/odvcencio/indexq/internal/database"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

// NewExecutorFactory returns a factory building a Service over every queue the site's enabled
// configurations resolve to. Queues that cannot hand out work are skipped.
func NewExecutorFactory(records database.DB, queues queueadmin.Factory, opts ServiceOptions) queueadmin.ExecutorFactory {
	return func(s *site.Site) (queueadmin.Executor, error) {
		consumers, err := Consumers(s, queues)
		if err != nil {
			return nil, err
		}
		return NewService(s, records, consumers, opts)
	}
}

// Consumers resolves the site's queues and keeps those implementing queue.Consumer, default
// queue first.
func Consumers(s *site.Site, queues queueadmin.Factory) ([]queue.Consumer, error) {
	resolved, err := queueadmin.Resolve(s, queues)
	if err != nil {
		return nil, fmt.Errorf("resolve queues: %w", err)
	}
	var out []queue.Consumer
	def, ok := resolved.Default()
	if ok {
		if c, ok := def.(queue.Consumer); ok {
			out = append(out, c)
		}
	}
	for _, q := range resolved.All() {
		if ok && q == def {
			continue
		}
		if c, isConsumer := q.(queue.Consumer); isConsumer {
			out = append(out, c)
		}
	}
	return out, nil
}
