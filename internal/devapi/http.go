// Package devapi is an in-memory stand-in for the remote store API and the
// hardware bridge, for local development and tests.
package devapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/pkg/kit"
)

const defaultTokenTTL = 8 * time.Hour

type Server struct {
	Store    *Store
	JWT      *TokenMaker
	Log      *zap.Logger
	TokenTTL time.Duration
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/fruits", s.listFruits)
	r.Get("/fruits/", s.listFruits)

	r.Get("/hardware/get_weight", s.getWeight)
	r.Put("/hardware/weight", s.putWeight)
	for _, p := range []string{"/files/latest", "/api/files/latest"} {
		r.Get(p, s.latestFiles)
		r.Put(p, s.putLatestFiles)
	}

	r.Route("/customer", func(rr chi.Router) {
		rr.Get("/", s.listCustomers)
		rr.Post("/", s.createCustomer)
		rr.Get("/search/{phone}", s.searchCustomers)
		rr.Get("/{id}", s.getCustomer)
		rr.Put("/{id}", s.updateCustomer)
	})

	r.Post("/user/login", s.login)

	r.Group(func(rr chi.Router) {
		rr.Use(s.authJWT)
		rr.Get("/user/me", s.me)
		rr.Post("/bill", s.createBill)
		rr.Get("/ViewAllBill", s.listBills)
	})

	return r
}

func (s *Server) listFruits(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Store.Fruits())
}

func (s *Server) getWeight(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, map[string]any{"weight": s.Store.Weight()})
}

type weightReq struct {
	Weight any `json:"weight"`
}

func (s *Server) putWeight(w http.ResponseWriter, r *http.Request) {
	var req weightReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	s.Store.SetWeight(req.Weight)
	w.WriteHeader(http.StatusNoContent)
}

type detectionJSON struct {
	ImageURL string   `json:"image_url"`
	Weight   *float64 `json:"weight,omitempty"`
}

type latestJSON struct {
	Status string                   `json:"status,omitempty"`
	Files  map[string]detectionJSON `json:"files"`
}

// latestFiles answers "empty" rather than "success" when nothing is on the
// scale, as the bridge does.
func (s *Server) latestFiles(w http.ResponseWriter, _ *http.Request) {
	det := s.Store.Detections()
	out := latestJSON{Status: "success", Files: make(map[string]detectionJSON, len(det))}
	if len(det) == 0 {
		out.Status = "empty"
	}
	for name, d := range det {
		out.Files[name] = detectionJSON{ImageURL: d.ImageURL, Weight: d.Weight}
	}
	kit.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) putLatestFiles(w http.ResponseWriter, r *http.Request) {
	var req latestJSON
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	det := make(map[string]api.Detection, len(req.Files))
	for name, d := range req.Files {
		det[name] = api.Detection{ImageURL: d.ImageURL, Weight: d.Weight}
	}
	s.Store.SetDetections(det)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCustomers(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Store.Customers())
}

func (s *Server) searchCustomers(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	kit.WriteJSON(w, http.StatusOK, s.Store.SearchCustomers(phone))
}

func (s *Server) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, found := s.Store.Customer(id)
	if !found {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req api.NewCustomer
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if req.Name == "" || req.Phone == "" || req.Address == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "name/phone/address required", nil)
		return
	}

	c, err := s.Store.CreateCustomer(req)
	if err != nil {
		kit.WriteError(w, r, http.StatusConflict, err.Error(), nil)
		return
	}
	kit.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	var req api.Customer
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}
	req.ID = id

	c, err := s.Store.UpdateCustomer(req)
	if errors.Is(err, ErrNotFound) {
		kit.WriteError(w, r, http.StatusNotFound, "not found", map[string]any{"id": id})
		return
	}
	if err != nil {
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, c)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)

	if req.Email == "" || req.Password == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "email/password required", nil)
		return
	}

	u, err := s.Store.Verify(req.Email, req.Password)
	if err != nil {
		kit.WriteError(w, r, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	tok, err := s.JWT.New(u, ttl)
	if err != nil {
		kit.OrNop(s.Log).Error("token issue", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, loginResp{AccessToken: tok, TokenType: "bearer"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c, _ := claimsFrom(r.Context())
	u, ok := s.Store.StaffByID(c.UserID)
	if !ok {
		kit.WriteError(w, r, http.StatusUnauthorized, "unknown user", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, u)
}

// billCreated is the creation response; unlike the history listing it names
// the id "id".
type billCreated struct {
	ID         int64            `json:"id"`
	Date       time.Time        `json:"date"`
	UserID     int64            `json:"user_id"`
	CustomerID int64            `json:"cus_id"`
	TotalCost  float64          `json:"total_cost"`
	Details    []api.BillDetail `json:"bill_details"`
}

func (s *Server) createBill(w http.ResponseWriter, r *http.Request) {
	var req api.BillRequest
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	b, err := s.Store.CreateBill(req, r.Header.Get("Idempotency-Key"))
	switch {
	case errors.Is(err, ErrEmptyBill), errors.Is(err, ErrUnknownFruit):
		kit.WriteError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	kit.WriteJSON(w, http.StatusCreated, billCreated{
		ID:         b.ID,
		Date:       b.Date,
		UserID:     b.UserID,
		CustomerID: b.CustomerID,
		TotalCost:  b.TotalCost,
		Details:    b.Details,
	})
}

func (s *Server) listBills(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.Store.Bills())
}

type ctxKey string

const claimsKey ctxKey = "claims"

func claimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey).(Claims)
	return c, ok
}

func (s *Server) authJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := kit.BearerToken(r)
		if !ok {
			kit.WriteError(w, r, http.StatusUnauthorized, "missing token", nil)
			return
		}

		claims, err := s.JWT.Parse(tok)
		if err != nil || claims.UserID == 0 {
			kit.WriteError(w, r, http.StatusUnauthorized, "invalid token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		kit.WriteError(w, r, http.StatusBadRequest, "bad id", map[string]any{"id": raw})
		return 0, false
	}
	return id, true
}
