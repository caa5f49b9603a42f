package storefront

import (
	"net/http"

	"FruitMarket/internal/session"
	"FruitMarket/pkg/kit"
)

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}

	u, err := s.Session.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.checkoutActive() {
		_ = s.cancelCheckout()
	}
	if err := s.Session.Logout(r.Context()); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	u, ok := s.Session.Current()
	if !ok {
		s.writeError(w, r, session.ErrNoSession, nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, u)
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.Session.Current(); !ok {
			s.writeError(w, r, session.ErrNoSession, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
