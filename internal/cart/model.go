package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// ID is a catalog item id. The remote catalog hands out numbers in some
// deployments and strings in others; both decode to the same ID, and ids that
// arrived as numbers are sent back as numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("cart: id must be a string or number")
	}
	*id = ID(n.String())
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// numeric reports whether id is an integer in canonical form. "+1", "-01"
// and "007" stay strings.
func (id ID) numeric() bool {
	s := string(id)
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == s
}

// Fruit is a catalog item as served by GET /fruits/. The cart never mutates
// it; Quantity is the stock the catalog reports.
type Fruit struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	Quantity    float64 `json:"quantity"`
}

func (f Fruit) InStock() bool { return f.Quantity > 0 }

// Line pairs a catalog item with the weighed quantity in kilograms.
type Line struct {
	Fruit    Fruit   `json:"fruit"`
	Quantity float64 `json:"quantity"`
}

func (l Line) Subtotal() float64 { return l.Fruit.Price * l.Quantity }

// Snapshot is the ordered set of lines at one instant. Order is insertion
// order and matters only for display.
type Snapshot []Line

// TotalItemCount is the number of distinct lines, not the summed weight.
func (s Snapshot) TotalItemCount() int { return len(s) }

// TotalPrice sums price × quantity over every line; zero-weight lines
// contribute zero.
func (s Snapshot) TotalPrice() float64 {
	var total float64
	for _, l := range s {
		total += l.Subtotal()
	}
	return total
}

func (s Snapshot) Find(id ID) (Line, bool) {
	for _, l := range s {
		if l.Fruit.ID == id {
			return l, true
		}
	}
	return Line{}, false
}

// Equal compares line sets, quantities and order.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}
