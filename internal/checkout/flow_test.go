package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
	"FruitMarket/internal/storage"
)

var (
	apple = cart.Fruit{ID: "1", Name: "Fresh Apples", Price: 2.5, Quantity: 50}
	pear  = cart.Fruit{ID: "6", Name: "Pears", Price: 3, Quantity: 20}
)

type fakeRemote struct {
	mu sync.Mutex

	customers []api.Customer
	searchErr error
	createErr error
	updateErr error
	billErr   error

	events  []string
	updates []api.Customer
	bills   []api.BillRequest
	created []api.NewCustomer

	billGate chan struct{}
}

func (r *fakeRemote) SearchCustomers(_ context.Context, phone string) ([]api.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "search")
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	var out []api.Customer
	for _, c := range r.customers {
		if c.Phone == phone {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRemote) CreateCustomer(_ context.Context, in api.NewCustomer) (api.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "create")
	r.created = append(r.created, in)
	if r.createErr != nil {
		return api.Customer{}, r.createErr
	}
	c := api.Customer{ID: int64(100 + len(r.customers)), Name: in.Name, Phone: in.Phone, Address: in.Address}
	r.customers = append(r.customers, c)
	return c, nil
}

func (r *fakeRemote) UpdateCustomer(_ context.Context, cu api.Customer) (api.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "update")
	r.updates = append(r.updates, cu)
	if r.updateErr != nil {
		return api.Customer{}, r.updateErr
	}
	return cu, nil
}

func (r *fakeRemote) CreateBill(ctx context.Context, req api.BillRequest) (api.Bill, error) {
	r.mu.Lock()
	r.events = append(r.events, "bill")
	r.bills = append(r.bills, req)
	gate, err := r.billGate, r.billErr
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return api.Bill{}, err
	}
	return api.Bill{ID: 42, UserID: req.UserID, CustomerID: req.CustomerID}, nil
}

func (r *fakeRemote) billCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bills)
}

type staffID int64

func (s staffID) StaffID() (int64, error) {
	if s == 0 {
		return 0, errors.New("no session")
	}
	return int64(s), nil
}

type fixture struct {
	remote  *fakeRemote
	cart    *cart.Store
	flow    *Flow
	reg     *prometheus.Registry
	cleared []int
	billed  cart.Snapshot
}

func newFixture(t *testing.T, staff staffID) *fixture {
	t.Helper()
	fx := &fixture{
		remote: &fakeRemote{customers: []api.Customer{{ID: 9, Name: "Lan", Phone: "0901", Address: "Hue", MoneySpent: 10}}},
		cart:   cart.NewStore(context.Background(), storage.NewMemStore(), cart.DefaultKey),
		reg:    prometheus.NewRegistry(),
	}
	fx.flow = New(Deps{
		Remote:  fx.remote,
		Cart:    fx.cart,
		Staff:   staff,
		Metrics: NewMetrics(fx.reg),
		OnComplete: func(_ context.Context, _ api.Bill, billed cart.Snapshot) {
			fx.cleared = append(fx.cleared, fx.remote.billCount())
			fx.billed = billed
			fx.cart.RemoveLines(billed)
		},
	})
	return fx
}

func TestFlow_Transitions(t *testing.T) {
	fx := newFixture(t, 1)
	f := fx.flow

	assert.Equal(t, ChoosingCustomerMode, f.State().State)
	require.NoError(t, f.ChooseFind())
	assert.Equal(t, FindingCustomer, f.State().State)
	assert.ErrorIs(t, f.ChooseCreate(), ErrInvalidState)

	require.NoError(t, f.Back())
	require.NoError(t, f.ChooseCreate())
	require.NoError(t, f.UseGuest())
	assert.Equal(t, CustomerResolved, f.State().State)
	assert.Nil(t, f.State().Customer)

	require.NoError(t, f.Back())
	assert.Equal(t, ChoosingCustomerMode, f.State().State)
	assert.ErrorIs(t, f.Back(), ErrInvalidState)

	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFindCustomer(t *testing.T) {
	ctx := context.Background()

	t.Run("empty phone", func(t *testing.T) {
		fx := newFixture(t, 1)
		require.NoError(t, fx.flow.ChooseFind())
		_, err := fx.flow.FindCustomer(ctx, "  ")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, fx.remote.events)
	})

	t.Run("not found", func(t *testing.T) {
		fx := newFixture(t, 1)
		require.NoError(t, fx.flow.ChooseFind())
		_, err := fx.flow.FindCustomer(ctx, "0999")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		v := fx.flow.State()
		assert.Equal(t, FindingCustomer, v.State)
		assert.Equal(t, msgNotFound, v.LastError)
	})

	t.Run("network failure is not not-found", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.remote.searchErr = api.ErrUnavailable
		require.NoError(t, fx.flow.ChooseFind())
		_, err := fx.flow.FindCustomer(ctx, "0901")
		assert.ErrorIs(t, err, api.ErrUnavailable)
		assert.NotErrorIs(t, err, ErrCustomerNotFound)
		assert.Equal(t, msgLookupFailed, fx.flow.State().LastError)
	})

	t.Run("found takes first", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.remote.customers = append(fx.remote.customers, api.Customer{ID: 10, Phone: "0901"})
		require.NoError(t, fx.flow.ChooseFind())
		cu, err := fx.flow.FindCustomer(ctx, " 0901 ")
		require.NoError(t, err)
		assert.Equal(t, int64(9), cu.ID)
		v := fx.flow.State()
		assert.Equal(t, CustomerResolved, v.State)
		require.NotNil(t, v.Customer)
		assert.Equal(t, "Lan", v.Customer.Name)
	})
}

func TestCreateCustomer(t *testing.T) {
	ctx := context.Background()

	t.Run("missing fields never reach the network", func(t *testing.T) {
		fx := newFixture(t, 1)
		require.NoError(t, fx.flow.ChooseCreate())
		_, err := fx.flow.CreateCustomer(ctx, "Binh", " ", "Hanoi")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, fx.remote.events)
		assert.Equal(t, CreatingCustomer, fx.flow.State().State)
	})

	t.Run("remote failure stays", func(t *testing.T) {
		fx := newFixture(t, 1)
		fx.remote.createErr = api.ErrBadStatus
		require.NoError(t, fx.flow.ChooseCreate())
		_, err := fx.flow.CreateCustomer(ctx, "Binh", "0902", "Hanoi")
		assert.ErrorIs(t, err, api.ErrBadStatus)
		v := fx.flow.State()
		assert.Equal(t, CreatingCustomer, v.State)
		assert.Equal(t, msgCreateFailed, v.LastError)
	})

	t.Run("created becomes resolved", func(t *testing.T) {
		fx := newFixture(t, 1)
		require.NoError(t, fx.flow.ChooseCreate())
		cu, err := fx.flow.CreateCustomer(ctx, " Binh ", "0902", "Hanoi")
		require.NoError(t, err)
		assert.Equal(t, "Binh", cu.Name)
		assert.Equal(t, api.NewCustomer{Name: "Binh", Phone: "0902", Address: "Hanoi"}, fx.remote.created[0])
		assert.Equal(t, CustomerResolved, fx.flow.State().State)
	})
}

func TestSubmit_ZeroTotalBlocked(t *testing.T) {
	fx := newFixture(t, 1)
	fx.cart.AddItem(apple)
	require.NoError(t, fx.flow.UseGuest())
	assert.False(t, fx.flow.State().CanSubmit)

	_, err := fx.flow.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTotal)
	assert.Zero(t, fx.remote.billCount())
	assert.Equal(t, CustomerResolved, fx.flow.State().State)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.flow.deps.Metrics.submissions.WithLabelValues("invalid")))
}

func TestSubmit_RequiresStaff(t *testing.T) {
	fx := newFixture(t, 0)
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 1)
	require.NoError(t, fx.flow.UseGuest())

	_, err := fx.flow.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoStaff)
	assert.Zero(t, fx.remote.billCount())
}

func TestSubmit_CustomerSpendAndClearAfterBill(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 3)
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 2)

	require.NoError(t, fx.flow.ChooseFind())
	_, err := fx.flow.FindCustomer(ctx, "0901")
	require.NoError(t, err)

	bill, err := fx.flow.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), bill.ID)

	assert.Equal(t, []string{"search", "update", "bill"}, fx.remote.events)
	require.Len(t, fx.remote.updates, 1)
	assert.Equal(t, 15.0, fx.remote.updates[0].MoneySpent)

	req := fx.remote.bills[0]
	assert.Equal(t, int64(3), req.UserID)
	assert.Equal(t, int64(9), req.CustomerID)
	assert.Equal(t, []api.BillItem{{FruitID: "1", Weight: 2, Price: 2.5}}, req.Items)

	// Clear ran after the bill response.
	assert.Equal(t, []int{1}, fx.cleared)
	assert.Empty(t, fx.cart.Snapshot())

	v := fx.flow.State()
	assert.Equal(t, Complete, v.State)
	assert.Equal(t, int64(42), v.BillID)
	assert.Equal(t, 5.0, v.Total)
	assert.Equal(t, "5.00", v.TotalText)
}

func TestSubmit_GuestUsesSentinel(t *testing.T) {
	fx := newFixture(t, 3)
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 1)
	require.NoError(t, fx.flow.UseGuest())

	_, err := fx.flow.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.GuestCustomerID, fx.remote.bills[0].CustomerID)
	assert.Empty(t, fx.remote.updates)
}

func TestSubmit_BillFailureKeepsCart(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 3)
	fx.remote.billErr = api.ErrUnavailable
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 2)

	require.NoError(t, fx.flow.ChooseFind())
	_, err := fx.flow.FindCustomer(ctx, "0901")
	require.NoError(t, err)

	_, err = fx.flow.Submit(ctx)
	assert.ErrorIs(t, err, api.ErrUnavailable)
	v := fx.flow.State()
	assert.Equal(t, CustomerResolved, v.State)
	assert.Equal(t, msgSubmitFailed, v.LastError)
	assert.Len(t, fx.cart.Snapshot(), 1)
	assert.Empty(t, fx.cleared)

	// Retry in the same session: spend is not counted twice.
	fx.remote.billErr = nil
	_, err = fx.flow.Submit(ctx)
	require.NoError(t, err)
	assert.Len(t, fx.remote.updates, 1)
	assert.Len(t, fx.remote.bills, 2)
	assert.Equal(t, Complete, fx.flow.State().State)
}

func TestSubmit_UpdateFailureAbortsBeforeBill(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, 3)
	fx.remote.updateErr = api.ErrBadStatus
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 2)

	require.NoError(t, fx.flow.ChooseFind())
	_, err := fx.flow.FindCustomer(ctx, "0901")
	require.NoError(t, err)

	_, err = fx.flow.Submit(ctx)
	assert.ErrorIs(t, err, api.ErrBadStatus)
	assert.Zero(t, fx.remote.billCount())
	assert.Equal(t, CustomerResolved, fx.flow.State().State)
	assert.Equal(t, 10.0, fx.flow.State().Customer.MoneySpent)
}

func TestSubmit_Busy(t *testing.T) {
	fx := newFixture(t, 3)
	gate := make(chan struct{})
	fx.remote.billGate = gate
	fx.cart.AddItem(apple)
	fx.cart.SetQuantity(apple.ID, 1)
	require.NoError(t, fx.flow.UseGuest())

	done := make(chan error, 1)
	go func() {
		_, err := fx.flow.Submit(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return fx.flow.State().State == Submitting }, time.Second, 5*time.Millisecond)
	_, err := fx.flow.Submit(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, fx.flow.Back(), ErrBusy)

	// A line added while the bill is in flight is not part of it.
	fx.cart.AddItem(pear)
	fx.cart.SetQuantity(pear.ID, 2)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fx.remote.billCount())

	require.Len(t, fx.billed, 1)
	assert.Equal(t, apple.ID, fx.billed[0].Fruit.ID)
	snap := fx.cart.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, pear.ID, snap[0].Fruit.ID)
	assert.Equal(t, 2.0, snap[0].Quantity)
}
