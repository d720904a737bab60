package httpapi

import (
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/varaprasadreddy9676/integration-control-plane/domain"
	"github.com/varaprasadreddy9676/integration-control-plane/engine/delivery"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/errors"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/httputil"
	"github.com/varaprasadreddy9676/integration-control-plane/infrastructure/logging"
)

type handlers struct {
	deps Dependencies
}

func pathID(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ingestEvent is the manual event-injection endpoint: it lets an operator or
// integration test push a source event straight into the audit ledger,
// bypassing the source adapters, so a given integration's matching/transform/
// delivery chain can be exercised without a live EHR feed.
type ingestEventRequest struct {
	TenantID  string         `json:"tenantId"`
	EventType string         `json:"eventType"`
	SourceID  string         `json:"sourceId,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func (h *handlers) ingestEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		httputil.ServiceUnavailable(w, "event ingestion is not configured")
		return
	}
	var req ingestEventRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.EventType == "" {
		httputil.BadRequest(w, "tenantId and eventType are required")
		return
	}
	if req.SourceID == "" {
		req.SourceID = uuid.NewString()
	}

	audit, err := h.deps.Audit.CreateAuditRow(r.Context(), domain.EventAudit{
		SourceID:  req.SourceID,
		TenantID:  req.TenantID,
		EventType: req.EventType,
		Payload:   domain.NewPayload(req.Payload),
		Status:    domain.AuditPending,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, audit)
}

// inboundProxy implements the inverse of a normal delivery: an external
// caller posts straight to a tenant's INBOUND-direction integration, which
// is authenticated per its own InboundAuth rather than the operator JWT,
// run through the same transform/auth/dispatch pipeline a C9 delivery uses,
// and the forwarded response handed back with an X-Request-Id correlating
// to the execution log (spec §9).
func (h *handlers) inboundProxy(w http.ResponseWriter, r *http.Request) {
	if h.deps.InboundConfigs == nil || h.deps.InboundAuth == nil || h.deps.InboundDelivery == nil {
		httputil.ServiceUnavailable(w, "inbound proxy is not configured")
		return
	}
	eventType := pathID(r, "type")
	orgID := httputil.QueryString(r, "orgId", "")
	if eventType == "" || orgID == "" {
		httputil.BadRequest(w, "type path segment and orgId query parameter are required")
		return
	}

	cfg, err := h.deps.InboundConfigs.GetInboundConfig(r.Context(), orgID, eventType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.BadRequest(w, "failed to read request body")
		return
	}

	var authSpec domain.AuthSpec
	if cfg.InboundAuth != nil {
		authSpec = *cfg.InboundAuth
	}
	if err := h.deps.InboundAuth.VerifyInbound(r, authSpec, cfg.Signing, body); err != nil {
		writeServiceError(w, r, err)
		return
	}

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	traceID := logging.NewTraceID()
	ctx := logging.WithIntegrationID(logging.WithTenantID(logging.WithTraceID(r.Context(), traceID), orgID), cfg.ID)

	if h.deps.ExecutionLog != nil {
		_ = h.deps.ExecutionLog.Start(ctx, traceID, orgID, cfg.ID, eventType, requestID, domain.DirectionInbound, domain.TriggerAPI)
	}

	payload, err := domain.ParsePayload(body)
	if err != nil {
		if h.deps.ExecutionLog != nil {
			_ = h.deps.ExecutionLog.Finish(ctx, traceID, domain.ExecutionFailed, domain.RequestSnapshot{Body: string(body)}, domain.ResponseSnapshot{}, "malformed JSON body: "+err.Error())
		}
		httputil.BadRequest(w, "request body must be a JSON object")
		return
	}

	outcome, err := h.deps.InboundDelivery.Attempt(ctx, delivery.Request{TraceID: traceID, MessageID: requestID, Config: cfg, Payload: payload})
	for _, step := range outcome.Steps {
		if h.deps.ExecutionLog != nil {
			_ = h.deps.ExecutionLog.Append(ctx, traceID, step.Name, step.Outcome, step.Detail)
		}
	}

	w.Header().Set("X-Request-Id", requestID)

	if err != nil {
		if h.deps.ExecutionLog != nil {
			_ = h.deps.ExecutionLog.Finish(ctx, traceID, domain.ExecutionFailed, outcome.Request, outcome.Response, err.Error())
		}
		httputil.WriteErrorResponse(w, r, http.StatusBadGateway, "", "inbound proxy attempt failed: "+err.Error(), nil)
		return
	}
	if !outcome.Success {
		detail := lastStepDetail(outcome.Steps)
		if h.deps.ExecutionLog != nil {
			_ = h.deps.ExecutionLog.Finish(ctx, traceID, domain.ExecutionFailed, outcome.Request, outcome.Response, detail)
		}
		status := outcome.ResponseStatus
		if status == 0 {
			status = http.StatusBadGateway
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(outcome.ResponseBody)
		return
	}

	if h.deps.ExecutionLog != nil {
		_ = h.deps.ExecutionLog.Finish(ctx, traceID, domain.ExecutionSuccess, outcome.Request, outcome.Response, "")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(outcome.ResponseStatus)
	w.Write(outcome.ResponseBody)
}

func lastStepDetail(steps []domain.Step) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Outcome == domain.OutcomeFailure {
			return steps[i].Detail
		}
	}
	return ""
}

func (h *handlers) createConfig(w http.ResponseWriter, r *http.Request) {
	if h.deps.Configs == nil {
		httputil.ServiceUnavailable(w, "configuration store is not configured")
		return
	}
	var cfg domain.IntegrationConfig
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	created, err := h.deps.Configs.CreateConfig(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	if h.deps.Configs == nil {
		httputil.ServiceUnavailable(w, "configuration store is not configured")
		return
	}
	var cfg domain.IntegrationConfig
	if !httputil.DecodeJSON(w, r, &cfg) {
		return
	}
	cfg.ID = pathID(r, "id")
	if err := cfg.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	updated, err := h.deps.Configs.UpdateConfig(r.Context(), cfg)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	if h.deps.Configs == nil {
		httputil.ServiceUnavailable(w, "configuration store is not configured")
		return
	}
	cfg, err := h.deps.Configs.GetConfig(r.Context(), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *handlers) listDLQ(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQStore == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	tenantID := httputil.QueryString(r, "tenantId", "")
	status := domain.DLQStatus(httputil.QueryString(r, "status", ""))
	limit := httputil.QueryInt(r, "limit", 50)

	entries, err := h.deps.DLQStore.ListByTenant(r.Context(), tenantID, status, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handlers) dlqStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQStats == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	stats, err := h.deps.DLQStats.GetStats(r.Context(), httputil.QueryString(r, "tenantId", ""))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *handlers) getDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQStore == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	entry, err := h.deps.DLQStore.GetDLQEntry(r.Context(), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *handlers) retryDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	if err := h.deps.DLQProcessor.Retry(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type abandonRequest struct {
	Notes string `json:"notes"`
}

func (h *handlers) abandonDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	var req abandonRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}
	if err := h.deps.DLQProcessor.Abandon(r.Context(), pathID(r, "id"), req.Notes); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) deleteDLQEntry(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	if err := h.deps.DLQProcessor.Delete(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkIDsRequest struct {
	IDs   []string `json:"ids"`
	Notes string   `json:"notes,omitempty"`
}

func (h *handlers) bulkRetryDLQ(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	var req bulkIDsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, errorMapToStrings(h.deps.DLQProcessor.BulkRetry(r.Context(), req.IDs)))
}

func (h *handlers) bulkAbandonDLQ(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	var req bulkIDsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, errorMapToStrings(h.deps.DLQProcessor.BulkAbandon(r.Context(), req.IDs, req.Notes)))
}

func (h *handlers) bulkDeleteDLQ(w http.ResponseWriter, r *http.Request) {
	if h.deps.DLQProcessor == nil {
		httputil.ServiceUnavailable(w, "dead letter queue is not configured")
		return
	}
	var req bulkIDsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, errorMapToStrings(h.deps.DLQProcessor.BulkDelete(r.Context(), req.IDs)))
}

func errorMapToStrings(in map[string]error) map[string]string {
	out := make(map[string]string, len(in))
	for id, err := range in {
		if err != nil {
			out[id] = err.Error()
		} else {
			out[id] = "ok"
		}
	}
	return out
}

func (h *handlers) listExecutionLogs(w http.ResponseWriter, r *http.Request) {
	if h.deps.ExecutionLog == nil {
		httputil.ServiceUnavailable(w, "execution log is not configured")
		return
	}
	tenantID := httputil.QueryString(r, "tenantId", "")
	limit := httputil.QueryInt(r, "limit", 50)
	logs, err := h.deps.ExecutionLog.List(r.Context(), tenantID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, logs)
}

func (h *handlers) getExecutionLog(w http.ResponseWriter, r *http.Request) {
	if h.deps.ExecutionLog == nil {
		httputil.ServiceUnavailable(w, "execution log is not configured")
		return
	}
	log, err := h.deps.ExecutionLog.Get(r.Context(), pathID(r, "traceId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, log)
}

func (h *handlers) cancelScheduledDelivery(w http.ResponseWriter, r *http.Request) {
	if h.deps.Schedule == nil {
		httputil.ServiceUnavailable(w, "scheduler is not configured")
		return
	}
	if err := h.deps.Schedule.Cancel(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) requeueAudit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Watchdog == nil {
		httputil.ServiceUnavailable(w, "watchdog is not configured")
		return
	}
	if err := h.deps.Watchdog.Requeue(r.Context(), pathID(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetHTTPStatus(err)
	if se := errors.GetServiceError(err); se != nil {
		httputil.WriteErrorResponse(w, r, status, string(se.Code), se.Message, se.Details)
		return
	}
	httputil.WriteErrorResponse(w, r, status, "", err.Error(), nil)
}
