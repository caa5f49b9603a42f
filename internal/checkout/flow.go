// Package checkout turns a cart snapshot into a bill: customer lookup or
// creation, spend update and bill submission.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
	"FruitMarket/pkg/kit"
)

type State string

const (
	ChoosingCustomerMode State = "choosing_customer_mode"
	FindingCustomer      State = "finding_customer"
	CreatingCustomer     State = "creating_customer"
	CustomerResolved     State = "customer_resolved"
	Submitting           State = "submitting"
	Complete             State = "complete"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvalidTotal     = errors.New("total must be a positive amount")
	ErrInvalidState     = errors.New("action not allowed in current state")
	ErrBusy             = errors.New("submission in progress")
	ErrNoStaff          = errors.New("no staff member logged in")
)

// Messages shown to the operator. Remote failures never leak details.
const (
	msgNotFound      = "No customer with that phone number. Create a new customer instead."
	msgLookupFailed  = "Could not search customers. Please try again."
	msgCreateFailed  = "Could not create the customer. Please try again."
	msgSubmitFailed  = "Could not place the order. Please try again."
	msgInvalidTotal  = "The order total must be greater than zero."
	msgStaffRequired = "Log in before placing an order."
)

type Remote interface {
	SearchCustomers(ctx context.Context, phone string) ([]api.Customer, error)
	CreateCustomer(ctx context.Context, in api.NewCustomer) (api.Customer, error)
	UpdateCustomer(ctx context.Context, cu api.Customer) (api.Customer, error)
	CreateBill(ctx context.Context, req api.BillRequest) (api.Bill, error)
}

type Cart interface {
	Snapshot() cart.Snapshot
}

type Staff interface {
	StaffID() (int64, error)
}

type Deps struct {
	Remote Remote
	Cart   Cart
	Staff  Staff
	// OnComplete runs once the bill is confirmed, outside the flow lock.
	// billed is the snapshot the bill was built from.
	OnComplete func(ctx context.Context, b api.Bill, billed cart.Snapshot)
	Log        *zap.Logger
	Metrics    *Metrics
	Tracer     trace.Tracer
}

// Flow is one checkout session. It is safe for concurrent use; a second
// Submit while one is in flight fails with ErrBusy.
type Flow struct {
	deps    Deps
	idemKey string

	mu        sync.Mutex
	state     State
	customer  *api.Customer
	baseSpent float64
	lastErr   string
	bill      *api.Bill
	submitted cart.Snapshot
}

func New(d Deps) *Flow {
	d.Log = kit.OrNop(d.Log)
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("FruitMarket/checkout")
	}
	return &Flow{
		deps:    d,
		idemKey: uuid.NewString(),
		state:   ChoosingCustomerMode,
	}
}

func (f *Flow) ChooseFind() error {
	return f.transition(FindingCustomer, ChoosingCustomerMode)
}

func (f *Flow) ChooseCreate() error {
	return f.transition(CreatingCustomer, ChoosingCustomerMode)
}

// UseGuest resolves the sale with no customer.
func (f *Flow) UseGuest() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case ChoosingCustomerMode, FindingCustomer, CreatingCustomer:
	case Submitting:
		return ErrBusy
	default:
		return fmt.Errorf("%w: guest from %s", ErrInvalidState, f.state)
	}
	f.customer = nil
	f.baseSpent = 0
	f.lastErr = ""
	f.state = CustomerResolved
	return nil
}

func (f *Flow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case FindingCustomer, CreatingCustomer, CustomerResolved:
	case Submitting:
		return ErrBusy
	default:
		return fmt.Errorf("%w: back from %s", ErrInvalidState, f.state)
	}
	f.customer = nil
	f.baseSpent = 0
	f.lastErr = ""
	f.state = ChoosingCustomerMode
	return nil
}

func (f *Flow) transition(to State, from ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Submitting {
		return ErrBusy
	}
	for _, s := range from {
		if f.state == s {
			f.state = to
			f.lastErr = ""
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidState, f.state, to)
}

// FindCustomer resolves the first customer registered under phone.
func (f *Flow) FindCustomer(ctx context.Context, phone string) (api.Customer, error) {
	phone = strings.TrimSpace(phone)
	if err := f.expect(FindingCustomer); err != nil {
		return api.Customer{}, err
	}
	if phone == "" {
		f.fail(FindingCustomer, "Enter a phone number.")
		return api.Customer{}, fmt.Errorf("%w: phone required", ErrValidation)
	}

	found, err := f.deps.Remote.SearchCustomers(ctx, phone)
	if err != nil {
		f.deps.Log.Warn("customer search failed", zap.Error(err))
		f.fail(FindingCustomer, msgLookupFailed)
		return api.Customer{}, err
	}
	if len(found) == 0 {
		f.fail(FindingCustomer, msgNotFound)
		return api.Customer{}, ErrCustomerNotFound
	}

	return f.resolve(FindingCustomer, found[0])
}

// CreateCustomer registers a new customer with zero spend and resolves it.
func (f *Flow) CreateCustomer(ctx context.Context, name, phone, address string) (api.Customer, error) {
	in := api.NewCustomer{
		Name:    strings.TrimSpace(name),
		Phone:   strings.TrimSpace(phone),
		Address: strings.TrimSpace(address),
	}
	if err := f.expect(CreatingCustomer); err != nil {
		return api.Customer{}, err
	}

	var missing []string
	if in.Name == "" {
		missing = append(missing, "name")
	}
	if in.Phone == "" {
		missing = append(missing, "phone")
	}
	if in.Address == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		f.fail(CreatingCustomer, "Name, phone and address are required.")
		return api.Customer{}, fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}

	cu, err := f.deps.Remote.CreateCustomer(ctx, in)
	if err != nil {
		f.deps.Log.Warn("customer create failed", zap.Error(err))
		f.fail(CreatingCustomer, msgCreateFailed)
		return api.Customer{}, err
	}
	if cu.Phone == "" {
		cu.Name, cu.Phone, cu.Address = in.Name, in.Phone, in.Address
	}

	return f.resolve(CreatingCustomer, cu)
}

func (f *Flow) expect(s State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == s {
		return nil
	}
	if f.state == Submitting {
		return ErrBusy
	}
	return fmt.Errorf("%w: expected %s, have %s", ErrInvalidState, s, f.state)
}

// fail records msg if the flow is still in s; a concurrent Back wins.
func (f *Flow) fail(s State, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == s {
		f.lastErr = msg
	}
}

func (f *Flow) resolve(from State, cu api.Customer) (api.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != from {
		return api.Customer{}, fmt.Errorf("%w: left %s during request", ErrInvalidState, from)
	}
	f.customer = &cu
	f.baseSpent = cu.MoneySpent
	f.lastErr = ""
	f.state = CustomerResolved
	return cu, nil
}

// Submit places the order for the current cart. The customer's spend is
// updated first; a failed update aborts before any bill is posted. The
// completion hook runs only after the bill is confirmed.
func (f *Flow) Submit(ctx context.Context) (api.Bill, error) {
	f.mu.Lock()
	switch f.state {
	case CustomerResolved:
	case Submitting:
		f.mu.Unlock()
		return api.Bill{}, ErrBusy
	default:
		st := f.state
		f.mu.Unlock()
		return api.Bill{}, fmt.Errorf("%w: submit from %s", ErrInvalidState, st)
	}

	snap := f.deps.Cart.Snapshot()
	total := snap.TotalPrice()
	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		f.lastErr = msgInvalidTotal
		f.mu.Unlock()
		f.deps.Metrics.observe("invalid")
		return api.Bill{}, ErrInvalidTotal
	}

	staffID, err := f.deps.Staff.StaffID()
	if err != nil {
		f.lastErr = msgStaffRequired
		f.mu.Unlock()
		f.deps.Metrics.observe("invalid")
		return api.Bill{}, fmt.Errorf("%w: %v", ErrNoStaff, err)
	}

	var customer *api.Customer
	if f.customer != nil {
		c := *f.customer
		customer = &c
	}
	baseSpent := f.baseSpent
	f.state = Submitting
	f.lastErr = ""
	f.mu.Unlock()

	ctx, span := f.deps.Tracer.Start(ctx, "checkout.submit", trace.WithAttributes(
		attribute.Int("cart.lines", len(snap)),
		attribute.Float64("cart.total", total),
		attribute.Bool("checkout.guest", customer == nil),
	))
	defer span.End()

	bill, updated, err := f.submit(ctx, staffID, customer, baseSpent, total, snap)

	f.mu.Lock()
	if updated != nil {
		f.customer = updated
	}
	if err != nil {
		f.state = CustomerResolved
		f.lastErr = msgSubmitFailed
		f.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		f.deps.Metrics.observe("error")
		f.deps.Log.Warn("checkout submit failed", zap.Error(err))
		return api.Bill{}, err
	}
	f.state = Complete
	f.bill = &bill
	f.submitted = snap
	f.mu.Unlock()

	span.SetAttributes(attribute.Int64("bill.id", bill.ID))
	f.deps.Metrics.observe("ok")
	f.deps.Log.Info("bill created",
		zap.Int64("bill_id", bill.ID),
		zap.Int64("user_id", staffID),
		zap.Int("lines", len(snap)),
		zap.String("total", cart.FormatMoney(total)),
	)

	if f.deps.OnComplete != nil {
		f.deps.OnComplete(ctx, bill, snap)
	}
	return bill, nil
}

func (f *Flow) submit(ctx context.Context, staffID int64, cu *api.Customer, baseSpent, total float64, snap cart.Snapshot) (api.Bill, *api.Customer, error) {
	req := api.BillRequest{
		UserID:     staffID,
		CustomerID: api.GuestCustomerID,
		Items:      make([]api.BillItem, 0, len(snap)),
	}
	for _, l := range snap {
		req.Items = append(req.Items, api.BillItem{
			FruitID: l.Fruit.ID,
			Weight:  l.Quantity,
			Price:   l.Fruit.Price,
		})
	}

	var updated *api.Customer
	if cu != nil {
		req.CustomerID = cu.ID

		// Spend is written as an absolute value so a retry in the same
		// session does not count the order twice.
		want := baseSpent + total
		if cu.MoneySpent != want {
			next := *cu
			next.MoneySpent = want
			got, err := f.deps.Remote.UpdateCustomer(ctx, next)
			if err != nil {
				return api.Bill{}, nil, fmt.Errorf("update customer: %w", err)
			}
			got.MoneySpent = want
			updated = &got
		}
	}

	bill, err := f.deps.Remote.CreateBill(api.WithIdempotencyKey(ctx, f.idemKey), req)
	if err != nil {
		return api.Bill{}, updated, fmt.Errorf("create bill: %w", err)
	}
	return bill, updated, nil
}

type View struct {
	State     State         `json:"state"`
	Customer  *api.Customer `json:"customer,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	BillID    int64         `json:"bill_id,omitempty"`
	Total     float64       `json:"total"`
	TotalText string        `json:"total_text"`
	Lines     cart.Snapshot `json:"lines"`
	CanSubmit bool          `json:"can_submit"`
}

// State renders the flow. Before completion the lines are the live cart;
// afterwards they are what was billed.
func (f *Flow) State() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := View{State: f.state, LastError: f.lastErr}
	if f.customer != nil {
		c := *f.customer
		v.Customer = &c
	}
	if f.bill != nil {
		v.BillID = f.bill.ID
		v.Lines = f.submitted
	} else {
		v.Lines = f.deps.Cart.Snapshot()
	}
	if v.Lines == nil {
		v.Lines = cart.Snapshot{}
	}
	v.Total = v.Lines.TotalPrice()
	v.TotalText = cart.FormatMoney(v.Total)
	v.CanSubmit = f.state == CustomerResolved && v.Total > 0 && !math.IsInf(v.Total, 0)
	return v
}
