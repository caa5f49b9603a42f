package storefront

import (
	"net/http"

	"FruitMarket/internal/checkout"
	"FruitMarket/pkg/kit"
)

func (s *Server) handleBeginCheckout(w http.ResponseWriter, r *http.Request) {
	if len(s.Cart.Snapshot()) == 0 {
		kit.WriteError(w, r, http.StatusConflict, "cart is empty", nil)
		return
	}

	f, created := s.beginCheckout()
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	kit.WriteJSON(w, status, f.State())
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	f := s.currentFlow()
	if f == nil {
		s.writeError(w, r, errNoCheckout, nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, f.State())
}

func (s *Server) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	if err := s.cancelCheckout(); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type modeReq struct {
	Mode string `json:"mode"`
}

func (s *Server) handleCheckoutMode(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowOr404(w, r)
	if !ok {
		return
	}

	var req modeReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}

	var err error
	switch req.Mode {
	case "find":
		err = f.ChooseFind()
	case "create":
		err = f.ChooseCreate()
	case "guest":
		err = f.UseGuest()
	case "back":
		err = f.Back()
	default:
		kit.WriteError(w, r, http.StatusBadRequest, "bad mode", map[string]any{
			"mode":    req.Mode,
			"allowed": []string{"find", "create", "guest", "back"},
		})
		return
	}
	s.writeFlow(w, r, f, err)
}

type findReq struct {
	Phone string `json:"phone"`
}

func (s *Server) handleFindCustomer(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowOr404(w, r)
	if !ok {
		return
	}

	var req findReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}

	_, err := f.FindCustomer(r.Context(), req.Phone)
	s.writeFlow(w, r, f, err)
}

type createCustomerReq struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowOr404(w, r)
	if !ok {
		return
	}

	var req createCustomerReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}

	_, err := f.CreateCustomer(r.Context(), req.Name, req.Phone, req.Address)
	s.writeFlow(w, r, f, err)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flowOr404(w, r)
	if !ok {
		return
	}

	_, err := f.Submit(r.Context())
	s.writeFlow(w, r, f, err)
}

func (s *Server) flowOr404(w http.ResponseWriter, r *http.Request) (*checkout.Flow, bool) {
	f := s.currentFlow()
	if f == nil {
		s.writeError(w, r, errNoCheckout, nil)
		return nil, false
	}
	return f, true
}

// writeFlow renders the flow, attaching it to the error envelope on failure
// so the UI can show the flow's message.
func (s *Server) writeFlow(w http.ResponseWriter, r *http.Request, f *checkout.Flow, err error) {
	v := f.State()
	if err != nil {
		s.writeError(w, r, err, map[string]any{"checkout": v})
		return
	}
	kit.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.Remote.ListBills(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, bills)
}
