package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/model"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/store"
)

type quoteRequest struct {
	VolumeMM3  float64               `json:"volume_mm3,omitempty"`
	FileRef    string                `json:"file_ref,omitempty"`
	Parameters model.PrintParameters `json:"parameters"`
}

func (s *Server) createQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid quote request: "+err.Error())
		return
	}

	var (
		q   *model.Quote
		err error
	)
	if req.FileRef != "" {
		q, err = s.quotes.CreateFromMetrics(r.Context(), req.FileRef, req.Parameters)
	} else {
		q, err = s.quotes.Create(r.Context(), pricing.QuoteInput{VolumeMM3: req.VolumeMM3, Parameters: req.Parameters})
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	var req model.ServiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid service request: "+err.Error())
		return
	}
	if err := matching.ValidateRequest(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.matcher.FindProviders(r.Context(), req))
}

type createOrderRequest struct {
	QuoteID string `json:"quote_id"`
	order.OrderDetails
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid order request: "+err.Error())
		return
	}
	if req.QuoteID == "" {
		badRequest(w, "quote_id is required")
		return
	}
	o, err := s.orders.CreateFromQuote(r.Context(), req.QuoteID, req.OrderDetails)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.OrderFilter{
		ProviderID: q.Get("provider_id"),
	}
	if raw := q.Get("status"); raw != "" {
		filter.Status = model.OrderStatus(strings.ToUpper(raw))
		if !filter.Status.Valid() {
			badRequest(w, "unknown status "+raw)
			return
		}
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		badRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		badRequest(w, "invalid offset")
		return
	}

	orders, err := s.orders.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.ServiceOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type transitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor,omitempty"`
}

func (s *Server) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid transition request: "+err.Error())
		return
	}
	target := model.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		badRequest(w, "unknown status "+req.Status)
		return
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	o, err := s.orders.TransitionOrder(r.Context(), chi.URLParam(r, "id"), target, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type routeRequest struct {
	// ProviderID picks a specific match; empty takes the best one.
	ProviderID string               `json:"provider_id,omitempty"`
	Request    model.ServiceRequest `json:"request"`
}

type routeResponse struct {
	Order    *model.ServiceOrder `json:"order"`
	Match    model.ProviderMatch `json:"match"`
	Degraded bool                `json:"degraded"`
}

type noMatchBody struct {
	errorBody
	Alternatives []string `json:"alternatives"`
}

// routeOrder matches providers for the order and routes it to the chosen one.
// Requirements the client leaves empty come from the accepted quote.
func (s *Server) routeOrder(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid route request: "+err.Error())
		return
	}
	ctx := r.Context()
	o, err := s.orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	match, err := s.orders.MatchRequest(ctx, o, req.Request)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := matching.ValidateRequest(match); err != nil {
		s.writeError(w, r, err)
		return
	}

	res := s.matcher.FindProviders(ctx, match)
	var chosen *model.ProviderMatch
	for i := range res.Matches {
		if req.ProviderID == "" || res.Matches[i].ProviderID == req.ProviderID {
			chosen = &res.Matches[i]
			break
		}
	}
	if chosen == nil {
		msg := "no capable provider"
		if req.ProviderID != "" {
			msg = "provider " + req.ProviderID + " is not a match"
		}
		writeJSON(w, http.StatusUnprocessableEntity, noMatchBody{
			errorBody:    errorBody{Error: msg, Kind: "no_capable_provider"},
			Alternatives: res.Alternatives,
		})
		return
	}

	routed, err := s.orders.Route(ctx, o.ID, *chosen)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{Order: routed, Match: *chosen, Degraded: res.Degraded})
}

func (s *Server) publishOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ack, err := s.bridge.PublishJob(r.Context(), o)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

type statusRequest struct {
	Status     string     `json:"status"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (s *Server) receiveStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, "invalid status update: "+err.Error())
		return
	}
	at := s.now().UTC()
	if req.OccurredAt != nil {
		at = req.OccurredAt.UTC()
	}

	ack, err := s.bridge.ReceiveStatusUpdate(r.Context(), chi.URLParam(r, "id"), req.Status, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// redeliver replays the outbox. With ?force=true the partner circuit is
// closed first, for use once an outage is known to be over.
func (s *Server) redeliver(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("force") == "true" {
		s.bridge.ResetCircuit()
	}
	res, err := s.bridge.Redeliver(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AlertFilter{
		Type:     model.AlertType(q.Get("type")),
		OpenOnly: q.Get("open") == "true" || q.Get("open") == "1",
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		badRequest(w, "invalid limit")
		return
	}

	alerts, err := s.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.ResolveAlert(r.Context(), chi.URLParam(r, "id"), s.now().UTC()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
