package storefront

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"FruitMarket/internal/cart"
	"FruitMarket/pkg/kit"
)

const sseKeepAlive = 15 * time.Second

type lineView struct {
	Fruit        cart.Fruit `json:"fruit"`
	Quantity     float64    `json:"quantity"`
	QuantityText string     `json:"quantity_text"`
	Subtotal     string     `json:"subtotal"`
	Image        string     `json:"image,omitempty"`
	Pinned       int        `json:"pinned,omitempty"`
}

type cartView struct {
	Version    uint64     `json:"version"`
	Lines      []lineView `json:"lines"`
	ItemCount  int        `json:"item_count"`
	Total      float64    `json:"total"`
	TotalText  string     `json:"total_text"`
	Polling    bool       `json:"polling"`
	PollPaused bool       `json:"poll_paused"`
}

func (s *Server) cartView() cartView {
	version := s.Cart.Version()
	snap := s.Cart.Snapshot()
	images := s.Cart.Images()

	v := cartView{
		Version:   version,
		Lines:     make([]lineView, 0, len(snap)),
		ItemCount: snap.TotalItemCount(),
		Total:     snap.TotalPrice(),
	}
	v.TotalText = cart.FormatMoney(v.Total)
	for _, l := range snap {
		v.Lines = append(v.Lines, lineView{
			Fruit:        l.Fruit,
			Quantity:     l.Quantity,
			QuantityText: cart.FormatWeight(l.Quantity),
			Subtotal:     cart.FormatMoney(l.Subtotal()),
			Image:        images[l.Fruit.ID],
			Pinned:       s.Cart.Pinned(l.Fruit.ID),
		})
	}
	if s.Poller != nil {
		v.Polling = s.Poller.Running()
		v.PollPaused = s.Poller.Paused()
	}
	return v
}

func (s *Server) handleGetCart(w http.ResponseWriter, _ *http.Request) {
	kit.WriteJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	err := s.editCart(func() error {
		s.Cart.Clear()
		return nil
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addItemReq struct {
	FruitID cart.ID `json:"fruit_id"`
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}
	req.FruitID = cart.ID(strings.TrimSpace(string(req.FruitID)))
	if req.FruitID == "" {
		kit.WriteError(w, r, http.StatusBadRequest, "fruit_id required", nil)
		return
	}

	f, err := s.lookupFruit(r, req.FruitID)
	if err != nil {
		s.writeError(w, r, err, map[string]any{"fruit_id": req.FruitID})
		return
	}
	if !f.InStock() {
		s.writeError(w, r, errOutOfStock, map[string]any{"fruit_id": f.ID, "name": f.Name})
		return
	}

	var (
		line  cart.Line
		added bool
	)
	err = s.editCart(func() error {
		line, added = s.Cart.AddItem(f)
		return nil
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	kit.WriteJSON(w, status, line)
}

type setQuantityReq struct {
	Quantity any `json:"quantity"`
}

// handleSetQuantity accepts a number or a string; malformed input becomes 0.
func (s *Server) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	id := cart.ID(chi.URLParam(r, "id"))

	var req setQuantityReq
	if err := kit.DecodeJSON(w, r, &req, false); err != nil {
		badJSON(w, r, err)
		return
	}

	err := s.editCart(func() error {
		if !s.Cart.SetQuantity(id, cart.CoerceQuantity(req.Quantity)) {
			return errNotInCart
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err, map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	err := s.editCart(func() error {
		s.Cart.RemoveItem(cart.ID(chi.URLParam(r, "id")))
		return nil
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWeigh(w http.ResponseWriter, r *http.Request) {
	id := cart.ID(chi.URLParam(r, "id"))
	if s.Poller == nil {
		s.writeError(w, r, errNoScale, nil)
		return
	}

	err := s.editCart(func() error {
		if _, ok := s.Cart.Snapshot().Find(id); !ok {
			return errNotInCart
		}
		_, _, err := s.Poller.Weigh(r.Context(), id)
		return err
	})
	if err != nil {
		s.writeError(w, r, err, map[string]any{"id": id})
		return
	}
	kit.WriteJSON(w, http.StatusOK, s.cartView())
}

// handleViewOpen starts polling for the cart view. An open checkout keeps
// it paused.
func (s *Server) handleViewOpen(w http.ResponseWriter, _ *http.Request) {
	if s.Poller != nil {
		s.Poller.Start(s.baseCtx())
		if s.checkoutActive() {
			s.Poller.Pause()
		}
	}
	kit.WriteJSON(w, http.StatusOK, s.cartView())
}

func (s *Server) handleViewClose(w http.ResponseWriter, _ *http.Request) {
	if s.Poller != nil {
		s.Poller.Stop()
	}
	kit.WriteJSON(w, http.StatusOK, s.cartView())
}

// handleCartEvents streams the cart view as server-sent events: one on
// connect, then one per change until the client or the server goes away.
// Changes that land between two sends coalesce into one event.
func (s *Server) handleCartEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		kit.WriteError(w, r, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}

	changes := s.Cart.Subscribe()
	defer s.Cart.Unsubscribe(changes)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	if !s.sendCart(w, flusher) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx().Done():
			return
		case _, open := <-changes:
			if !open || !s.sendCart(w, flusher) {
				return
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) sendCart(w io.Writer, flusher http.Flusher) bool {
	v := s.cartView()
	raw, err := json.Marshal(v)
	if err != nil {
		s.log().Error("cart event encode failed", zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: cart\ndata: %s\n\n", v.Version, raw); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
