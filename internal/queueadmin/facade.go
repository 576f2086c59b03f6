package queueadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queue"
)

const tracerName = "github.com/odvcencio/indexq/internal/queueadmin"

// ErrUnavailable matches every *RefusalError.
var ErrUnavailable = errors.New("index queue administration unavailable")

// Refusal reasons, in the order the guard checks them.
const (
	ReasonNoSite           = "no site selected"
	ReasonNoBackend        = "site has no search backend connection"
	ReasonNoConfigurations = "site has no enabled indexing configurations"
	ReasonNoDefaultQueue   = "no index queue could be resolved"
)

// RefusalError reports that a precondition of an operation is unmet. It is a disabled state,
// not a failure of the operation.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return ErrUnavailable.Error() + ": " + e.Reason
}

func (e *RefusalError) Is(target error) bool { return target == ErrUnavailable }

func refuse(reason string) error { return &RefusalError{Reason: reason} }

// OperationResult is the outcome of a side-effecting operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Count   int64  `json:"count"`
	Err     error  `json:"-"`
	Report  Report `json:"report"`
}

// OverviewView is what the presentation layer renders for a site's queues.
type OverviewView struct {
	Available      bool                           `json:"available"`
	Reason         string                         `json:"reason,omitempty"`
	SiteID         string                         `json:"site,omitempty"`
	Configuration  string                         `json:"configuration,omitempty"`
	DefaultQueue   models.QueueImplementationID   `json:"default_queue,omitempty"`
	Queues         []models.QueueImplementationID `json:"queues,omitempty"`
	Configurations []string                       `json:"configurations,omitempty"`
	Statistics     *models.QueueStatistics        `json:"statistics,omitempty"`
	PercentFailed  float64                        `json:"percent_failed"`
	Errors         []models.QueueError            `json:"errors,omitempty"`
}

type FacadeOptions struct {
	Coordinator *Coordinator
	Metrics     *Metrics
	Logger      *slog.Logger
	// Now is the requeue timestamp source. Defaults to time.Now.
	Now func() time.Time
}

// Facade is the entry point for queue administration on one site at a time.
type Facade struct {
	coordinator *Coordinator
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

func NewFacade(opts FacadeOptions) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = NewCoordinator(logger)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Facade{
		coordinator: coordinator,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         now,
		tracer:      otel.Tracer(tracerName),
	}
}

// Guard returns the default queue of the request, or a *RefusalError when the site is missing,
// has no backend connection, has no enabled configuration or resolves no queue. Nothing is
// instantiated unless the site passes the first three checks.
func (f *Facade) Guard(req *Request) (queue.IndexQueue, error) {
	if err := requireConfiguredSite(req); err != nil {
		return nil, err
	}
	if len(req.Site.BackendConnections()) == 0 {
		return nil, refuse(ReasonNoBackend)
	}
	queues, err := req.Queues()
	if err != nil {
		return nil, err
	}
	def, ok := queues.Default()
	if !ok {
		return nil, refuse(ReasonNoDefaultQueue)
	}
	return def, nil
}

func requireConfiguredSite(req *Request) error {
	if req == nil || req.Site == nil {
		return refuse(ReasonNoSite)
	}
	if len(req.Site.EnabledConfigurationNames()) == 0 {
		return refuse(ReasonNoConfigurations)
	}
	return nil
}

func (f *Facade) startSpan(ctx context.Context, operation string, req *Request) (context.Context, trace.Span) {
	ctx, span := f.tracer.Start(ctx, "queueadmin."+operation)
	if req != nil && req.Site != nil {
		span.SetAttributes(attribute.String("indexq.site", req.Site.ID))
	}
	return ctx, span
}

func (f *Facade) finish(span trace.Span, operation string, err error, failed bool) {
	switch {
	case errors.Is(err, ErrUnavailable):
		f.metrics.observe(operation, resultRefused)
		span.SetStatus(codes.Ok, "refused")
	case err != nil:
		f.metrics.observe(operation, resultFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case failed:
		f.metrics.observe(operation, resultFailure)
		span.SetStatus(codes.Error, "operation failed")
	default:
		f.metrics.observe(operation, resultSuccess)
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Statistics returns the default queue's counts, narrowed to configuration when set.
func (f *Facade) Statistics(ctx context.Context, req *Request, configuration string) (stats models.QueueStatistics, err error) {
	ctx, span := f.startSpan(ctx, "statistics", req)
	defer func() { f.finish(span, "statistics", err, false) }()

	def, err := f.Guard(req)
	if err != nil {
		return models.QueueStatistics{}, err
	}
	return def.Statistics(ctx, req.Site, strings.TrimSpace(configuration))
}

// Errors lists items of the site carrying an error, from the default queue.
func (f *Facade) Errors(ctx context.Context, req *Request) (errs []models.QueueError, err error) {
	ctx, span := f.startSpan(ctx, "errors", req)
	defer func() { f.finish(span, "errors", err, false) }()

	def, err := f.Guard(req)
	if err != nil {
		return nil, err
	}
	return def.Errors(ctx, req.Site)
}

// Overview builds the view model of the queue page. A refused guard yields an unavailable view
// rather than an error.
func (f *Facade) Overview(ctx context.Context, req *Request, configuration string) (view OverviewView, err error) {
	ctx, span := f.startSpan(ctx, "overview", req)
	defer func() {
		outcome := err
		if outcome == nil && !view.Available {
			outcome = refuse(view.Reason)
		}
		f.finish(span, "overview", outcome, false)
	}()

	def, err := f.Guard(req)
	if err != nil {
		var refusal *RefusalError
		if errors.As(err, &refusal) {
			return OverviewView{Available: false, Reason: refusal.Reason}, nil
		}
		return OverviewView{}, err
	}
	configuration = strings.TrimSpace(configuration)
	stats, err := f.Statistics(ctx, req, configuration)
	if err != nil {
		return OverviewView{}, err
	}
	errs, err := f.Errors(ctx, req)
	if err != nil {
		return OverviewView{}, err
	}
	queues, _ := req.Queues()
	return OverviewView{
		Available:      true,
		SiteID:         req.Site.ID,
		Configuration:  configuration,
		DefaultQueue:   def.ImplementationID(),
		Queues:         queues.IDs(),
		Configurations: req.Site.EnabledConfigurationNames(),
		Statistics:     &stats,
		PercentFailed:  stats.PercentFailed(),
		Errors:         errs,
	}, nil
}

// InitializeConfigurations initializes the selected configurations. An empty selection only
// produces a warning. Initialization needs no backend connection or default queue, only a site
// with enabled configurations.
func (f *Facade) InitializeConfigurations(ctx context.Context, req *Request, names []string) (result InitializationResult, err error) {
	ctx, span := f.startSpan(ctx, "initialize", req)
	defer func() { f.finish(span, "initialize", err, result.Report.HasErrors()) }()

	if len(names) == 0 {
		return f.coordinator.Initialize(ctx, req, nil)
	}
	if err := requireConfiguredSite(req); err != nil {
		return InitializationResult{}, err
	}
	span.SetAttributes(attribute.StringSlice("indexq.configurations", names))
	result, err = f.coordinator.Initialize(ctx, req, names)
	if err != nil {
		return InitializationResult{}, err
	}
	f.metrics.observeInitialization(result.Outcomes)
	return result, nil
}

// ResetAllErrors clears errors on every resolved queue. All queues are attempted; the operation
// succeeds only if every queue succeeds.
func (f *Facade) ResetAllErrors(ctx context.Context, req *Request) (result OperationResult, err error) {
	ctx, span := f.startSpan(ctx, "reset_errors", req)
	defer func() { f.finish(span, "reset_errors", err, !result.Success) }()

	if err := requireConfiguredSite(req); err != nil {
		return OperationResult{}, err
	}
	queues, err := req.Queues()
	if err != nil {
		return OperationResult{}, err
	}

	var errs []error
	var failed []string
	for _, q := range queues.All() {
		n, err := q.ResetAllErrors(ctx)
		if err != nil {
			f.logger.Error("reset queue errors failed", "site", req.Site.ID, "queue", q.ImplementationID(), "error", err)
			errs = append(errs, err)
			failed = append(failed, string(q.ImplementationID()))
			continue
		}
		result.Count += n
	}
	result.Err = errors.Join(errs...)
	result.Success = result.Err == nil
	if result.Success {
		result.Report.OK("Errors reset", fmt.Sprintf("All errors have been reset (%d items)", result.Count))
	} else {
		result.Report.Error("Errors not reset", fmt.Sprintf("Resetting errors failed for queue: %s", strings.Join(failed, ", ")))
	}
	return result, nil
}

// RequeueItem marks the items of a record for re-indexing on the default queue. Touching no
// item is a reported failure.
func (f *Facade) RequeueItem(ctx context.Context, req *Request, itemType string, recordID int64) (result OperationResult, err error) {
	ctx, span := f.startSpan(ctx, "requeue", req)
	defer func() { f.finish(span, "requeue", err, !result.Success) }()

	def, err := f.Guard(req)
	if err != nil {
		return OperationResult{}, err
	}
	itemType = strings.TrimSpace(itemType)
	n, opErr := def.UpdateItem(ctx, itemType, recordID, f.now())
	result.Count = n
	switch {
	case opErr != nil:
		result.Err = opErr
		f.logger.Error("requeue item failed", "site", req.Site.ID, "type", itemType, "uid", recordID, "error", opErr)
		result.Report.Error("Item not requeued", fmt.Sprintf("Item %s:%d was not requeued: %v", itemType, recordID, opErr))
	case n == 0:
		result.Report.Error("Item not requeued", fmt.Sprintf("Item %s:%d was not requeued", itemType, recordID))
	default:
		result.Success = true
		result.Report.OK("Item requeued", fmt.Sprintf("Item %s:%d was requeued", itemType, recordID))
	}
	return result, nil
}

// Item fetches one item from the default queue. A missing item is reported, not returned as an
// error.
func (f *Facade) Item(ctx context.Context, req *Request, itemID int64) (item *models.IndexQueueItem, report Report, err error) {
	ctx, span := f.startSpan(ctx, "item", req)
	defer func() { f.finish(span, "item", err, item == nil) }()

	def, err := f.Guard(req)
	if err != nil {
		return nil, Report{}, err
	}
	item, opErr := def.Item(ctx, itemID)
	if opErr != nil {
		f.logger.Error("load queue item failed", "site", req.Site.ID, "item_id", itemID, "error", opErr)
		report.Error("Item not loaded", fmt.Sprintf("Item %d could not be loaded: %v", itemID, opErr))
		return nil, report, nil
	}
	if item == nil {
		report.Error("No such item", fmt.Sprintf("No such item: %d", itemID))
		return nil, report, nil
	}
	return item, report, nil
}
