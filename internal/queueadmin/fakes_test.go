package queueadmin

import (
	"context"
	"fmt"
	"time"

	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
	"github.com/odvcencio/indexq/internal/site"
)

type fakeQueue struct {
	id models.QueueImplementationID

	counts      map[string]int64
	initErrs    map[string]error
	rejected    map[string]bool
	statsErr    error
	resetErr    error
	errorsList  []models.QueueError
	items       map[int64]*models.IndexQueueItem
	initialized []string
	resetCalls  int
}

func newFakeQueue(id models.QueueImplementationID) *fakeQueue {
	return &fakeQueue{
		id:       id,
		counts:   map[string]int64{},
		initErrs: map[string]error{},
		rejected: map[string]bool{},
		items:    map[int64]*models.IndexQueueItem{},
	}
}

func (q *fakeQueue) ImplementationID() models.QueueImplementationID { return q.id }

func (q *fakeQueue) Statistics(_ context.Context, _ *site.Site, configuration string) (models.QueueStatistics, error) {
	if q.statsErr != nil {
		return models.QueueStatistics{}, q.statsErr
	}
	if configuration != "" {
		return models.QueueStatistics{Total: q.counts[configuration], Pending: q.counts[configuration]}, nil
	}
	var total int64
	for _, n := range q.counts {
		total += n
	}
	return models.QueueStatistics{Total: total, Pending: total}, nil
}

func (q *fakeQueue) Errors(context.Context, *site.Site) ([]models.QueueError, error) {
	return q.errorsList, nil
}

func (q *fakeQueue) ResetAllErrors(context.Context) (int64, error) {
	q.resetCalls++
	if q.resetErr != nil {
		return 0, q.resetErr
	}
	n := int64(len(q.errorsList))
	q.errorsList = nil
	return n, nil
}

func (q *fakeQueue) UpdateItem(_ context.Context, itemType string, recordID int64, changed time.Time) (int64, error) {
	var n int64
	for _, item := range q.items {
		if item.ItemType == itemType && item.RecordID == recordID {
			item.Changed = changed.Unix()
			item.Errors = ""
			n++
		}
	}
	return n, nil
}

func (q *fakeQueue) Item(_ context.Context, itemID int64) (*models.IndexQueueItem, error) {
	item, ok := q.items[itemID]
	if !ok {
		return nil, nil
	}
	return item, nil
}

func (q *fakeQueue) Initializer() queue.Initializer { return q }

func (q *fakeQueue) InitializeByConfigurations(_ context.Context, _ *site.Site, configurations []string) (map[string]bool, error) {
	out := make(map[string]bool, len(configurations))
	for _, name := range configurations {
		q.initialized = append(q.initialized, name)
		if err := q.initErrs[name]; err != nil {
			return map[string]bool{name: false}, err
		}
		out[name] = !q.rejected[name]
	}
	return out, nil
}

// countingFactory hands out prepared fakes and counts constructions per id.
type countingFactory struct {
	queues map[models.QueueImplementationID]*fakeQueue
	calls  map[models.QueueImplementationID]int
}

func newCountingFactory(queues ...*fakeQueue) *countingFactory {
	f := &countingFactory{
		queues: map[models.QueueImplementationID]*fakeQueue{},
		calls:  map[models.QueueImplementationID]int{},
	}
	for _, q := range queues {
		f.queues[q.id] = q
	}
	return f
}

func (f *countingFactory) New(id models.QueueImplementationID) (queue.IndexQueue, error) {
	f.calls[id]++
	q, ok := f.queues[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownImplementation, id)
	}
	return q, nil
}

func (f *countingFactory) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

var testBackends = []site.BackendConnection{{Name: "primary", Addresses: []string{"http://localhost:9200"}, Index: "main"}}

func newTestSite(backends []site.BackendConnection, configurations ...site.IndexingConfiguration) *site.Site {
	return site.New("main", "Main", backends, configurations)
}

func enabled(name string, id models.QueueImplementationID) site.IndexingConfiguration {
	return site.IndexingConfiguration{Name: name, Type: name, Queue: id, Enabled: true}
}

type fakeCodedError struct{ code string }

func (e fakeCodedError) Error() string     { return "configuration has no records source" }
func (e fakeCodedError) ErrorCode() string { return e.code }
