package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"FruitMarket/internal/cart"
)

// Customer is a phone-keyed shopper record owned by the remote service.
type Customer struct {
	ID         int64   `json:"cus_id"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Address    string  `json:"address"`
	MoneySpent float64 `json:"moneySpent"`
}

type NewCustomer struct {
	Name       string  `json:"name"`
	Phone      string  `json:"phone"`
	Address    string  `json:"address"`
	MoneySpent float64 `json:"moneySpent"`
}

// GuestCustomerID is sent as cus_id when the sale has no customer.
const GuestCustomerID int64 = 0

type BillItem struct {
	FruitID cart.ID `json:"fruit_id"`
	Weight  float64 `json:"weight"`
	Price   float64 `json:"price"`
}

type BillRequest struct {
	UserID     int64      `json:"user_id"`
	CustomerID int64      `json:"cus_id"`
	Items      []BillItem `json:"items"`
}

type BillDetail struct {
	DetailID  int64   `json:"detail_id"`
	FruitID   cart.ID `json:"fruit_id"`
	FruitName string  `json:"fruit_name"`
	Weight    float64 `json:"weight"`
	Price     float64 `json:"price"`
}

// Bill is the immutable record of a completed sale.
type Bill struct {
	ID         int64        `json:"bill_id"`
	Date       time.Time    `json:"date"`
	UserID     int64        `json:"user_id"`
	CustomerID int64        `json:"cus_id"`
	TotalCost  float64      `json:"total_cost"`
	Details    []BillDetail `json:"bill_details"`
}

// UnmarshalJSON accepts the creation response, which names the id "id", as
// well as the history listing, which names it "bill_id".
func (b *Bill) UnmarshalJSON(raw []byte) error {
	type plain Bill
	var aux struct {
		plain
		AltID *int64  `json:"id"`
		Date  *string `json:"date"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	*b = Bill(aux.plain)
	if b.ID == 0 && aux.AltID != nil {
		b.ID = *aux.AltID
	}
	if aux.Date != nil {
		b.Date = parseBillDate(*aux.Date)
	}
	return nil
}

var billDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseBillDate tolerates the naive timestamps the bill service emits; those
// are treated as UTC. Unparseable dates become the zero time.
func parseBillDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range billDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// StaffUser is the logged-in employee operating the kiosk.
type StaffUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    bool   `json:"role"`
	Valid   bool   `json:"valid"`
	Phone   string `json:"phone,omitempty"`
	Birth   string `json:"birth,omitempty"`
	Gender  bool   `json:"gender,omitempty"`
	Address string `json:"address,omitempty"`
}

// IsAdmin mirrors the remote convention: role=true means administrator.
func (u StaffUser) IsAdmin() bool { return u.Role }

// Detection is one identified item from the vision bridge.
type Detection struct {
	ImageURL string
	Weight   *float64
}

// flexFloat decodes a JSON number, a numeric string, or null.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexFloat{}
		return nil
	}

	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = flexFloat{}
			return nil
		}
		if !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat{v: v, set: true}
	return nil
}
