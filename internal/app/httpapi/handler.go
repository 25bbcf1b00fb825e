// Package httpapi exposes the provider's administrative and public REST API
// plus the fulfillment callback endpoint for oracle nodes.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/contract"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/metrics"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/provider"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// identityHeader carries the caller identity on administrative calls.
const identityHeader = "X-Admin-Identity"

// Options tune optional handler behavior.
type Options struct {
	AuditFile        string  // JSONL sink for the audit trail, empty disables
	FulfillmentRate  float64 // fulfillment deliveries per second, 0 disables limiting
	FulfillmentBurst int
}

type handler struct {
	provider *provider.Provider
	hub      *Hub
	audit    *auditLog
	limiter  *rate.Limiter
	log      *logger.Logger
}

// NewHandler returns the API router wrapped with audit and metrics
// middleware.
func NewHandler(p *provider.Provider, hub *Hub, opts Options, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	h := &handler{
		provider: p,
		hub:      hub,
		audit:    newAuditLog(200, sink),
		log:      log,
	}
	if opts.FulfillmentRate > 0 {
		burst := opts.FulfillmentBurst
		if burst <= 0 {
			burst = int(opts.FulfillmentRate)
			if burst < 1 {
				burst = 1
			}
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.FulfillmentRate), burst)
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/contracts", h.createContract).Methods(http.MethodPost)
	r.HandleFunc("/contracts", h.listContracts).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}", h.getContract).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/jobs", h.addJob).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{id}/jobs/{jobID}", h.removeJob).Methods(http.MethodDelete)
	r.HandleFunc("/contracts/{id}/evaluate", h.evaluate).Methods(http.MethodPost)
	r.HandleFunc("/contracts/{id}/payout", h.payout).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/balance", h.balance).Methods(http.MethodGet)
	r.HandleFunc("/contracts/{id}/events", h.events).Methods(http.MethodGet)

	r.HandleFunc("/fulfillments", h.fulfill).Methods(http.MethodPost)
	r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)
	if hub != nil {
		r.HandleFunc("/ws", hub.handle)
	}

	return metrics.InstrumentHandler(h.withAudit(r)), nil
}

func caller(r *http.Request) string {
	return r.Header.Get(identityHeader)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createContract(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID    string         `json:"id"`
		Terms contract.Terms `json:"terms"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	st, err := h.provider.CreateContract(r.Context(), caller(r), payload.ID, payload.Terms)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handler) listContracts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.List())
}

func (h *handler) getContract(w http.ResponseWriter, r *http.Request) {
	st, err := h.provider.Status(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) addJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Endpoint string `json:"endpoint"`
		JobID    string `json:"job_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.provider.AddJob(r.Context(), caller(r), id, payload.Endpoint, payload.JobID); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	st, err := h.provider.Status(id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handler) removeJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.provider.RemoveJob(r.Context(), caller(r), vars["id"], vars["jobID"]); err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ids, err := h.provider.InitiateEvaluation(r.Context(), caller(r), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"contract_id":     id,
		"correlation_ids": ids,
	})
}

func (h *handler) payout(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	amount, err := h.provider.Payout(id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	st, err := h.provider.Status(id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract_id": id,
		"payout":      amount,
		"final":       st.State == contract.StateEvaluated,
	})
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	bal, err := h.provider.Balance(r.Context(), id)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract_id": id,
		"balance":     bal,
	})
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	events, err := h.provider.Events(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("fulfillment rate exceeded"))
		return
	}

	var payload struct {
		CorrelationID string `json:"correlation_id"`
		Result        uint64 `json:"result"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("correlation_id is required"))
		return
	}

	id, finalized, err := h.provider.Fulfill(r.Context(), payload.CorrelationID, payload.Result)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contract_id": id,
		"finalized":   finalized,
	})
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if caller(r) != h.provider.Admin() {
		writeError(w, http.StatusForbidden, contract.ErrNotAuthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// withAudit records every request against the in-memory audit trail.
func (h *handler) withAudit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.audit.add(auditEntry{
			Time:       time.Now().UTC(),
			User:       caller(r),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, contract.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, provider.ErrUnknownID),
		errors.Is(err, contract.ErrUnknownJob),
		errors.Is(err, contract.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrDuplicateID),
		errors.Is(err, contract.ErrDuplicateJob),
		errors.Is(err, contract.ErrTermsAlreadySet),
		errors.Is(err, contract.ErrAlreadyEvaluating),
		errors.Is(err, contract.ErrAlreadyEvaluated),
		errors.Is(err, contract.ErrRoundInFlight),
		errors.Is(err, contract.ErrNotActive),
		errors.Is(err, contract.ErrCoverageNotEnded):
		return http.StatusConflict
	case errors.Is(err, contract.ErrNoJobs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contract.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadRequest
	}
}

func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
