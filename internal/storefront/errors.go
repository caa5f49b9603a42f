package storefront

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/internal/checkout"
	"FruitMarket/internal/session"
	"FruitMarket/pkg/kit"
)

var (
	errBadTarget    = errors.New("api base url must be absolute")
	errUnknownFruit = errors.New("unknown fruit")
	errOutOfStock   = errors.New("out of stock")
	errNotInCart    = errors.New("not in cart")
	errNoCheckout   = errors.New("no checkout in progress")

	errCheckoutActive = errors.New("checkout in progress")
	errNoScale        = errors.New("scale unavailable")
)

// statusClientClosedRequest marks requests the caller abandoned (nginx 499).
const statusClientClosedRequest = 499

// writeError maps domain and upstream errors onto the error envelope.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	switch {
	case errors.Is(err, checkout.ErrValidation),
		errors.Is(err, session.ErrMissingCredentials):
		kit.WriteError(w, r, http.StatusBadRequest, err.Error(), details)
	case errors.Is(err, session.ErrInvalidCredentials):
		kit.WriteError(w, r, http.StatusUnauthorized, "invalid credentials", details)
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, checkout.ErrNoStaff):
		kit.WriteError(w, r, http.StatusUnauthorized, "login required", details)
	case errors.Is(err, api.ErrUnauthorized):
		kit.WriteError(w, r, http.StatusUnauthorized, "store service rejected credentials", details)
	case errors.Is(err, checkout.ErrCustomerNotFound):
		kit.WriteError(w, r, http.StatusNotFound, "customer not found", details)
	case errors.Is(err, errUnknownFruit),
		errors.Is(err, errNotInCart),
		errors.Is(err, errNoCheckout):
		kit.WriteError(w, r, http.StatusNotFound, err.Error(), details)
	case errors.Is(err, errOutOfStock):
		kit.WriteError(w, r, http.StatusConflict, "out of stock", details)
	case errors.Is(err, checkout.ErrBusy),
		errors.Is(err, checkout.ErrInvalidState),
		errors.Is(err, errCheckoutActive):
		kit.WriteError(w, r, http.StatusConflict, err.Error(), details)
	case errors.Is(err, checkout.ErrInvalidTotal):
		kit.WriteError(w, r, http.StatusUnprocessableEntity, "total must be greater than zero", details)
	case errors.Is(err, context.Canceled):
		s.log().Debug("client went away", zap.Error(err), zap.String("path", r.URL.Path))
		w.WriteHeader(statusClientClosedRequest)
	case isTimeoutErr(err):
		kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", details)
	case errors.Is(err, errNoScale):
		kit.WriteError(w, r, http.StatusServiceUnavailable, err.Error(), details)
	case errors.Is(err, api.ErrUnavailable):
		kit.WriteError(w, r, http.StatusServiceUnavailable, "store service unavailable", details)
	case api.IsNetwork(err),
		errors.Is(err, api.ErrNotFound):
		s.log().Warn("store service error", zap.Error(err))
		kit.WriteError(w, r, http.StatusBadGateway, "store service error", details)
	default:
		s.log().Error("request failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
	}
}

func isTimeoutErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func badJSON(w http.ResponseWriter, r *http.Request, err error) {
	kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
}
