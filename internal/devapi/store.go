package devapi

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"FruitMarket/internal/api"
	"FruitMarket/internal/cart"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailExists        = errors.New("email already exists")
	ErrPhoneExists        = errors.New("phone already registered")
	ErrNotFound           = errors.New("not found")
	ErrUnknownFruit       = errors.New("unknown fruit")
	ErrEmptyBill          = errors.New("bill has no items")
)

// Staff is a kiosk operator account with a bcrypt password hash.
type Staff struct {
	api.StaffUser
	Hash []byte
}

// Store is the whole remote data set held in memory.
type Store struct {
	mu sync.RWMutex

	fruits    []cart.Fruit
	staff     map[string]Staff
	customers map[int64]api.Customer
	bills     []api.Bill
	requests  []api.BillRequest
	idem      map[string]int64

	weight     any
	detections map[string]api.Detection

	nextCustomer int64
	nextBill     int64
	nextDetail   int64
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		staff:        make(map[string]Staff),
		customers:    make(map[int64]api.Customer),
		idem:         make(map[string]int64),
		detections:   make(map[string]api.Detection),
		weight:       "0.000",
		nextCustomer: 1,
		nextBill:     1,
		nextDetail:   1,
		now:          time.Now,
	}
}

// SeedFruits is the produce list the dev catalog starts with.
func SeedFruits() []cart.Fruit {
	return []cart.Fruit{
		{ID: "1", Name: "Fresh Apples", Price: 3.99, Image: "/images/apples.jpg", Description: "Crisp red apples", Category: "Pome", Quantity: 50},
		{ID: "2", Name: "Ripe Bananas", Price: 2.49, Image: "/images/bananas.jpg", Description: "Sweet yellow bananas", Category: "Tropical", Quantity: 75},
		{ID: "3", Name: "Juicy Oranges", Price: 4.29, Image: "/images/oranges.jpg", Description: "Vitamin C packed oranges", Category: "Citrus", Quantity: 40},
		{ID: "4", Name: "Sweet Mangoes", Price: 5.99, Image: "/images/mangoes.jpg", Description: "Tropical mangoes", Category: "Tropical", Quantity: 25},
		{ID: "5", Name: "Green Grapes", Price: 6.49, Image: "/images/grapes.jpg", Description: "Seedless green grapes", Category: "Berry", Quantity: 0},
	}
}

func (s *Store) SetFruits(f []cart.Fruit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fruits = append([]cart.Fruit(nil), f...)
}

func (s *Store) Fruits() []cart.Fruit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]cart.Fruit{}, s.fruits...)
}

func (s *Store) CreateStaff(u api.StaffUser, password string) error {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	password = strings.TrimSpace(password)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.staff[email]; ok {
		return ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	u.Email = email
	if u.ID == 0 {
		u.ID = int64(len(s.staff) + 1)
	}
	s.staff[email] = Staff{StaffUser: u, Hash: hash}
	return nil
}

func (s *Store) Verify(email, password string) (Staff, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.RLock()
	u, ok := s.staff[email]
	s.mu.RUnlock()

	if !ok || !u.Valid {
		return Staff{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(u.Hash, []byte(password)); err != nil {
		return Staff{}, ErrInvalidCredentials
	}

	return u, nil
}

func (s *Store) StaffByID(id int64) (api.StaffUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.staff {
		if u.ID == id {
			return u.StaffUser, true
		}
	}
	return api.StaffUser{}, false
}

// SetClock replaces the time source used to date new bills.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetWeight sets the scale reading. Strings are served verbatim, which is
// how the real bridge reports it.
func (s *Store) SetWeight(w any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weight = w
}

func (s *Store) Weight() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weight
}

func (s *Store) SetDetections(d map[string]api.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = make(map[string]api.Detection, len(d))
	for k, v := range d {
		s.detections[k] = v
	}
}

func (s *Store) Detections() map[string]api.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]api.Detection, len(s.detections))
	for k, v := range s.detections {
		out[k] = v
	}
	return out
}

func (s *Store) SearchCustomers(phone string) []api.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []api.Customer{}
	for _, c := range s.customers {
		if c.Phone == phone {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Customers() []api.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Customer(id int64) (api.Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	return c, ok
}

func (s *Store) CreateCustomer(in api.NewCustomer) (api.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.customers {
		if c.Phone == in.Phone {
			return api.Customer{}, ErrPhoneExists
		}
	}
	c := api.Customer{
		ID:         s.nextCustomer,
		Name:       in.Name,
		Phone:      in.Phone,
		Address:    in.Address,
		MoneySpent: in.MoneySpent,
	}
	s.nextCustomer++
	s.customers[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCustomer(c api.Customer) (api.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[c.ID]; !ok {
		return api.Customer{}, ErrNotFound
	}
	s.customers[c.ID] = c
	return c, nil
}

// CreateBill records a sale. A repeated idempotency key returns the bill
// created the first time.
func (s *Store) CreateBill(req api.BillRequest, idemKey string) (api.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if idemKey != "" {
		if id, ok := s.idem[idemKey]; ok {
			for _, b := range s.bills {
				if b.ID == id {
					return b, nil
				}
			}
		}
	}

	if len(req.Items) == 0 {
		return api.Bill{}, ErrEmptyBill
	}

	b := api.Bill{
		ID:         s.nextBill,
		Date:       s.now().UTC(),
		UserID:     req.UserID,
		CustomerID: req.CustomerID,
	}
	for _, it := range req.Items {
		name, ok := s.fruitName(it.FruitID)
		if !ok {
			return api.Bill{}, ErrUnknownFruit
		}
		b.Details = append(b.Details, api.BillDetail{
			DetailID:  s.nextDetail,
			FruitID:   it.FruitID,
			FruitName: name,
			Weight:    it.Weight,
			Price:     it.Price,
		})
		s.nextDetail++
		b.TotalCost += it.Weight * it.Price
	}

	s.nextBill++
	s.bills = append(s.bills, b)
	if idemKey != "" {
		s.idem[idemKey] = b.ID
	}
	return b, nil
}

func (s *Store) fruitName(id cart.ID) (string, bool) {
	for _, f := range s.fruits {
		if f.ID == id {
			return f.Name, true
		}
	}
	return "", false
}

// Bills is the history in insertion order.
func (s *Store) Bills() []api.Bill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.Bill{}, s.bills...)
}

// BillRequests returns every POST /bill body received, including rejected
// and replayed ones.
func (s *Store) BillRequests() []api.BillRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]api.BillRequest{}, s.requests...)
}
