package queueadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var errInitializationRejected = errors.New("queue reported initialization failure")

// InitializationOutcome is the result of initializing one configuration. ItemCount is only
// meaningful when Succeeded is true.
type InitializationOutcome struct {
	Configuration string `json:"configuration"`
	Succeeded     bool   `json:"succeeded"`
	ItemCount     int64  `json:"item_count"`
	Err           error  `json:"-"`
}

// InitializationResult holds one outcome per requested configuration, in request order.
type InitializationResult struct {
	Outcomes []InitializationOutcome `json:"outcomes"`
	Report   Report                  `json:"report"`
}

// Outcome returns the first outcome recorded for a configuration.
func (r InitializationResult) Outcome(configuration string) (InitializationOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Configuration == configuration {
			return o, true
		}
	}
	return InitializationOutcome{}, false
}

type coder interface {
	ErrorCode() string
}

// Coordinator initializes configurations one at a time against their owning queue.
type Coordinator struct {
	logger *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger}
}

// Initialize attempts every configuration in names even when earlier ones fail. Already
// initialized configurations are not rolled back. Only queue resolution errors are returned.
func (c *Coordinator) Initialize(ctx context.Context, req *Request, names []string) (InitializationResult, error) {
	var result InitializationResult
	if len(names) == 0 {
		result.Report.Warning("Index queue not initialized", "No indexing configurations selected")
		return result, nil
	}
	queues, err := req.Queues()
	if err != nil {
		return result, err
	}

	result.Outcomes = make([]InitializationOutcome, 0, len(names))
	for _, name := range names {
		outcome := c.initializeOne(ctx, req, queues, name)
		if !outcome.Succeeded {
			c.logger.Warn("index queue initialization failed", "site", req.Site.ID, "configuration", name, "error", outcome.Err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	result.Report = initializationReport(result.Outcomes)
	return result, nil
}

func (c *Coordinator) initializeOne(ctx context.Context, req *Request, queues *ResolvedQueues, name string) InitializationOutcome {
	outcome := InitializationOutcome{Configuration: name}
	q, err := queues.ForConfiguration(name)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	statuses, err := q.Initializer().InitializeByConfigurations(ctx, req.Site, []string{name})
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if !statuses[name] {
		outcome.Err = errInitializationRejected
		return outcome
	}
	stats, err := q.Statistics(ctx, req.Site, name)
	if err != nil {
		outcome.Err = fmt.Errorf("read statistics: %w", err)
		return outcome
	}
	outcome.Succeeded = true
	outcome.ItemCount = stats.Total
	return outcome
}

func initializationReport(outcomes []InitializationOutcome) Report {
	var report Report
	var initialized []string
	for _, o := range outcomes {
		if o.Succeeded {
			initialized = append(initialized, fmt.Sprintf("%s (%d records)", o.Configuration, o.ItemCount))
		}
	}
	if len(initialized) > 0 {
		report.OK("Index queue initialized", "Initialized index queue for: "+strings.Join(initialized, ", "))
	}
	for _, o := range outcomes {
		if o.Succeeded {
			continue
		}
		report.Error("Index queue initialization failed", failureText(o.Configuration, o.Err))
	}
	return report
}

func failureText(configuration string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	text := fmt.Sprintf("%s: %s", configuration, msg)
	var c coder
	if errors.As(err, &c) && c.ErrorCode() != "" {
		text += fmt.Sprintf(" (code %s)", c.ErrorCode())
	}
	return text
}
