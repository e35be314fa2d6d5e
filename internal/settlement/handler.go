package settlement

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bridgekit/chainsettle/internal/audit"
	"github.com/bridgekit/chainsettle/pkg/response"
)

// Handler handles HTTP requests for settlement operations
type Handler struct {
	orchestrator *Orchestrator
	events       *audit.Store
}

// NewHandler creates a new settlement handler. events may be nil when
// the audit trail is disabled.
func NewHandler(orchestrator *Orchestrator, events *audit.Store) *Handler {
	return &Handler{orchestrator: orchestrator, events: events}
}

// Routes returns the router for settlement endpoints
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Submit)
	r.Get("/{id}", h.GetStatus)
	r.Get("/{id}/events", h.ListEvents)
	r.Post("/{id}/process", h.Process)
	r.Post("/{id}/retry", h.Retry)

	return r
}

// Submit handles POST /settlements
//
//	@Summary	Submit a cross-chain settlement
//	@Tags		settlements
//	@Accept		json
//	@Produce	json
//	@Param		request	body	SubmitSettlementRequest	true	"settlement request"
//	@Success	201	{object}	SettlementResponse	"new settlement created"
//	@Success	200	{object}	SettlementResponse	"idempotency key already mapped"
//	@Router		/settlements [post]
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	stl, created, err := h.orchestrator.Submit(r.Context(), SubmitRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceChain:    req.SourceChain,
		DestChain:      req.DestChain,
		Account:        req.Account,
		Amount:         req.Amount,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrMissingField) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to submit settlement")
		return
	}

	// 201 only for a freshly created settlement; a replayed key returns
	// the existing record with 200.
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, stl.ToResponse())
}

// GetStatus handles GET /settlements/{id}
//
//	@Summary	Get the latest durable settlement snapshot
//	@Tags		settlements
//	@Produce	json
//	@Param		id	path	string	true	"settlement id"
//	@Success	200	{object}	SettlementResponse
//	@Router		/settlements/{id} [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	stl, err := h.orchestrator.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to get settlement")
		return
	}

	response.JSON(w, http.StatusOK, stl.ToResponse())
}

// ListEvents handles GET /settlements/{id}/events
//
//	@Summary	List a settlement's lifecycle events, oldest first
//	@Tags		settlements
//	@Produce	json
//	@Param		id	path	string	true	"settlement id"
//	@Success	200	{array}	audit.Event
//	@Router		/settlements/{id}/events [get]
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 on unknown settlements rather than an empty trail.
	if _, err := h.orchestrator.GetStatus(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to get settlement")
		return
	}

	if h.events == nil {
		response.JSON(w, http.StatusOK, []*audit.Event{})
		return
	}

	events, err := h.events.ListBySettlement(r.Context(), id, 100)
	if err != nil {
		response.InternalError(w, "Failed to list settlement events")
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	response.JSON(w, http.StatusOK, events)
}

// Process handles POST /settlements/{id}/process
//
//	@Summary	Drive a settlement forward from its recorded stage
//	@Tags		settlements
//	@Produce	json
//	@Param		id	path	string	true	"settlement id"
//	@Success	200	{object}	OutcomeResponse
//	@Router		/settlements/{id}/process [post]
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.orchestrator.Process(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to process settlement")
		return
	}

	if outcome.Code == OutcomeLockBusy {
		response.Conflict(w, "Settlement is being processed by another worker")
		return
	}

	response.JSON(w, http.StatusOK, outcome.ToResponse())
}

// Retry handles POST /settlements/{id}/retry
//
//	@Summary	Retry a failed settlement or resume a stuck compensation
//	@Tags		settlements
//	@Produce	json
//	@Param		id	path	string	true	"settlement id"
//	@Success	200	{object}	OutcomeResponse
//	@Router		/settlements/{id}/retry [post]
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.orchestrator.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, err.Error())
			return
		}
		if errors.Is(err, ErrNotRetryable) {
			response.BadRequest(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to retry settlement")
		return
	}

	if outcome.Code == OutcomeLockBusy {
		response.Conflict(w, "Settlement is being processed by another worker")
		return
	}

	response.JSON(w, http.StatusOK, outcome.ToResponse())
}
