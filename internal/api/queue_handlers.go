package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/odvcencio/indexq/internal/models"
	"github.com/odvcencio/indexq/internal/queueadmin"
	"github.com/odvcencio/indexq/internal/site"
)

const defaultOverviewErrorLimit = 100

type siteResponse struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Base           string                  `json:"base,omitempty"`
	Backends       int                     `json:"backends"`
	Configurations []configurationResponse `json:"configurations"`
}

type configurationResponse struct {
	Name     string                       `json:"name"`
	Type     string                       `json:"type"`
	Queue    models.QueueImplementationID `json:"queue"`
	Priority int                          `json:"priority"`
}

type initializeRequest struct {
	Configurations []string `json:"configurations"`
}

type initializeOutcome struct {
	Configuration string `json:"configuration"`
	Succeeded     bool   `json:"succeeded"`
	ItemCount     int64  `json:"item_count"`
	Error         string `json:"error,omitempty"`
}

type requeueRequest struct {
	Type string `json:"type"`
	UID  int64  `json:"uid"`
}

type runRequest struct {
	BatchSize int `json:"batch_size"`
}

type itemResponse struct {
	Item     *models.IndexQueueItem `json:"item"`
	Redirect string                 `json:"redirect"`
}

func overviewPath(siteID string) string {
	return "/api/v1/sites/" + siteID + "/queue"
}

// queueRequest scopes an administrative request to the addressed site. An unknown site yields a
// request without a site, which the guard refuses.
func (s *Server) queueRequest(r *http.Request) (*queueadmin.Request, string) {
	siteID := strings.TrimSpace(r.PathValue("site"))
	st, err := s.sites.Get(siteID)
	if err != nil {
		return queueadmin.NewRequest(nil, s.queues), siteID
	}
	return queueadmin.NewRequest(st, s.queues), siteID
}

// writeAdminError answers guard refusals as a disabled state and everything else as a server
// error.
func (s *Server) writeAdminError(w http.ResponseWriter, r *http.Request, siteID string, err error) {
	var refusal *queueadmin.RefusalError
	if errors.As(err, &refusal) {
		var report queueadmin.Report
		report.Warning("Index queue unavailable", refusal.Reason)
		resp := newRedirectResponse(overviewPath(siteID), report)
		resp.Available = false
		resp.Reason = refusal.Reason
		jsonResponse(w, http.StatusOK, resp)
		return
	}
	s.logger.Error("queue administration failed", "site", siteID, "path", r.URL.Path, "error", err)
	jsonError(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	all := s.sites.All()
	out := make([]siteResponse, 0, len(all))
	for _, st := range all {
		out = append(out, newSiteResponse(st))
	}
	jsonResponse(w, http.StatusOK, out)
}

func newSiteResponse(st *site.Site) siteResponse {
	resp := siteResponse{
		ID:             st.ID,
		Name:           st.Name,
		Base:           st.Base,
		Backends:       len(st.BackendConnections()),
		Configurations: []configurationResponse{},
	}
	for _, name := range st.EnabledConfigurationNames() {
		c, err := st.Configuration(name)
		if err != nil {
			continue
		}
		queueID, _ := st.QueueImplementation(name)
		resp.Configurations = append(resp.Configurations, configurationResponse{
			Name:     c.Name,
			Type:     c.Type,
			Queue:    queueID,
			Priority: c.Priority,
		})
	}
	return resp
}

func (s *Server) handleQueueOverview(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseOptionalQueryPositiveInt(w, r, "limit", "limit", defaultOverviewErrorLimit)
	if !ok {
		return
	}
	req, siteID := s.queueRequest(r)
	view, err := s.facade.Overview(r.Context(), req, r.URL.Query().Get("configuration"))
	if err != nil {
		s.writeAdminError(w, r, siteID, err)
		return
	}
	if len(view.Errors) > limit {
		view.Errors = view.Errors[:limit]
	}
	jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleInitializeQueue(w http.ResponseWriter, r *http.Request) {
	var body initializeRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	names := make([]string, 0, len(body.Configurations))
	for _, name := range body.Configurations {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	req, siteID := s.queueRequest(r)
	result, err := s.facade.InitializeConfigurations(r.Context(), req, names)
	if err != nil {
		s.writeAdminError(w, r, siteID, err)
		return
	}
	resp := newRedirectResponse(overviewPath(siteID), result.Report)
	for _, o := range result.Outcomes {
		out := initializeOutcome{Configuration: o.Configuration, Succeeded: o.Succeeded, ItemCount: o.ItemCount}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	req, siteID := s.queueRequest(r)
	result, err := s.facade.ResetAllErrors(r.Context(), req)
	if err != nil {
		s.writeAdminError(w, r, siteID, err)
		return
	}
	jsonResponse(w, http.StatusOK, operationResponse(siteID, result))
}

func (s *Server) handleRequeueItem(w http.ResponseWriter, r *http.Request) {
	var body requeueRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	body.Type = strings.TrimSpace(body.Type)
	if body.Type == "" {
		jsonError(w, "type is required", http.StatusBadRequest)
		return
	}
	if body.UID <= 0 {
		jsonError(w, "invalid uid", http.StatusBadRequest)
		return
	}

	req, siteID := s.queueRequest(r)
	result, err := s.facade.RequeueItem(r.Context(), req, body.Type, body.UID)
	if err != nil {
		s.writeAdminError(w, r, siteID, err)
		return
	}
	jsonResponse(w, http.StatusOK, operationResponse(siteID, result))
}

func (s *Server) handleShowItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := parsePathPositiveInt64(w, r, "id", "item id")
	if !ok {
		return
	}
	req, siteID := s.queueRequest(r)
	item, report, err := s.facade.Item(r.Context(), req, itemID)
	if err != nil {
		s.writeAdminError(w, r, siteID, err)
		return
	}
	if item == nil {
		jsonResponse(w, http.StatusOK, newRedirectResponse(overviewPath(siteID), report))
		return
	}
	jsonResponse(w, http.StatusOK, itemResponse{Item: item, Redirect: overviewPath(siteID)})
}

func (s *Server) handleRunIndexing(w http.ResponseWriter, r *http.Request) {
	body := runRequest{BatchSize: s.opts.RunBatchSize}
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.BatchSize < 0 {
		jsonError(w, "invalid batch_size", http.StatusBadRequest)
		return
	}
	if s.trigger == nil {
		jsonError(w, "indexing is not configured", http.StatusServiceUnavailable)
		return
	}

	siteID := strings.TrimSpace(r.PathValue("site"))
	st, _ := s.sites.Get(siteID)
	ok, report := s.trigger.RunIncrementalIndexing(r.Context(), st, body.BatchSize)
	resp := newRedirectResponse(overviewPath(siteID), report)
	resp.Success = &ok
	jsonResponse(w, http.StatusOK, resp)
}

func operationResponse(siteID string, result queueadmin.OperationResult) redirectResponse {
	resp := newRedirectResponse(overviewPath(siteID), result.Report)
	success, count := result.Success, result.Count
	resp.Success = &success
	resp.Count = &count
	return resp
}
