package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/fabroute/internal/bridge"
	"github.com/sells-group/fabroute/internal/matching"
	"github.com/sells-group/fabroute/internal/order"
	"github.com/sells-group/fabroute/internal/pricing"
	"github.com/sells-group/fabroute/internal/store"
)

type errorBody struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// statusFor maps a domain error to an HTTP status and error kind.
func statusFor(err error) (int, string) {
	var (
		verr *pricing.ValidationError
		merr *matching.ValidationError
		berr *bridge.BridgeError
		terr *order.InvalidTransitionError
		derr *bridge.BridgeDeliveryError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &merr):
		return http.StatusUnprocessableEntity, "validation"
	case errors.As(err, &berr):
		switch berr.Kind {
		case bridge.KindUnmappedStatus:
			return http.StatusUnprocessableEntity, string(berr.Kind)
		case bridge.KindUnknownJob:
			return http.StatusNotFound, string(berr.Kind)
		default:
			return http.StatusConflict, string(berr.Kind)
		}
	case errors.As(err, &terr):
		return http.StatusConflict, "invalid_transition"
	case errors.As(err, &derr):
		return http.StatusBadGateway, "bridge_delivery"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pricing.ErrQuoteExpired), errors.Is(err, pricing.ErrQuoteUnavailable):
		return http.StatusGone, "quote_unavailable"
	case errors.Is(err, store.ErrConflict), errors.Is(err, order.ErrProviderAssigned), errors.Is(err, bridge.ErrNoProvider):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}

	var terr *order.InvalidTransitionError
	if errors.As(err, &terr) {
		for _, st := range terr.Allowed {
			body.Allowed = append(body.Allowed, string(st))
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if code == http.StatusInternalServerError {
			body.Error = http.StatusText(code)
		}
	}
	writeJSON(w, code, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: "bad_request"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
