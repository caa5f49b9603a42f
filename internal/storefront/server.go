// Package storefront is the kiosk's local HTTP API: session, catalog, cart,
// scale polling lifecycle, checkout and bill history.
package storefront

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
	"FruitMarket/internal/checkout"
	"FruitMarket/internal/hardware"
	"FruitMarket/internal/session"
	"FruitMarket/pkg/kit"
)

// Remote is the part of the store API the storefront calls directly.
type Remote interface {
	checkout.Remote
	ListFruits(ctx context.Context) ([]cart.Fruit, error)
	ListBills(ctx context.Context) ([]api.Bill, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Log     *zap.Logger
	Cart    *cart.Store
	Remote  Remote
	Poller  *hardware.Poller
	Session *session.Manager
	Storage Pinger

	CheckoutMetrics *checkout.Metrics

	// BaseCtx bounds poll sessions; it outlives any single request.
	BaseCtx context.Context

	mu   sync.Mutex
	flow *checkout.Flow
}

func (s *Server) log() *zap.Logger { return kit.OrNop(s.Log) }

func (s *Server) baseCtx() context.Context {
	if s.BaseCtx != nil {
		return s.BaseCtx
	}
	return context.Background()
}

// Shutdown stops polling; cmd wires it as a server stop hook.
func (s *Server) Shutdown(context.Context) {
	if s.Poller != nil {
		s.Poller.Stop()
	}
}

func (s *Server) currentFlow() *checkout.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// checkoutActive reports whether a flow exists that has not completed.
func (s *Server) checkoutActive() bool {
	f := s.currentFlow()
	return f != nil && f.State().State != checkout.Complete
}

// beginCheckout returns the open flow or starts a new one. Polling pauses
// for as long as a flow is open.
func (s *Server) beginCheckout() (*checkout.Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flow != nil && s.flow.State().State != checkout.Complete {
		return s.flow, false
	}

	s.flow = checkout.New(checkout.Deps{
		Remote:     s.Remote,
		Cart:       s.Cart,
		Staff:      s.Session,
		OnComplete: s.onCheckoutComplete,
		Log:        s.Log,
		Metrics:    s.CheckoutMetrics,
	})
	if s.Poller != nil {
		s.Poller.Pause()
	}
	return s.flow, true
}

// editCart runs fn unless a checkout is open. mu is held across the check and
// fn, so a checkout cannot begin while the edit is applied.
func (s *Server) editCart(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flow != nil && s.flow.State().State != checkout.Complete {
		return errCheckoutActive
	}
	return fn()
}

// cancelCheckout drops the flow and resumes polling. A flow mid-submit
// cannot be cancelled.
func (s *Server) cancelCheckout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flow == nil {
		return nil
	}
	if s.flow.State().State == checkout.Submitting {
		return checkout.ErrBusy
	}
	s.flow = nil
	if s.Poller != nil {
		s.Poller.Resume()
	}
	return nil
}

// onCheckoutComplete removes the billed lines and closes the cart view, which
// ends the poll session.
func (s *Server) onCheckoutComplete(_ context.Context, b api.Bill, billed cart.Snapshot) {
	n := s.Cart.RemoveLines(billed)
	if s.Poller != nil {
		s.Poller.Stop()
	}
	s.log().Info("checkout complete, billed lines removed",
		zap.Int64("bill_id", b.ID),
		zap.Int("lines", n),
		zap.Int("remaining", len(s.Cart.Snapshot())),
	)
}
