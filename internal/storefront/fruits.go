package storefront

import (
	"net/http"
	"sort"
	"strings"

	"FruitMarket/internal/cart"
	"FruitMarket/pkg/kit"
)

type fruitQuery struct {
	Text     string
	Category string
	Sort     string
}

func parseFruitQuery(r *http.Request) fruitQuery {
	q := r.URL.Query()
	return fruitQuery{
		Text:     strings.ToLower(strings.TrimSpace(q.Get("q"))),
		Category: strings.TrimSpace(q.Get("category")),
		Sort:     strings.TrimSpace(q.Get("sort")),
	}
}

// filterFruits matches the text against name and description and the
// category exactly, ignoring case; "all" or empty disables a filter.
func filterFruits(in []cart.Fruit, q fruitQuery) []cart.Fruit {
	out := make([]cart.Fruit, 0, len(in))
	for _, f := range in {
		if q.Text != "" &&
			!strings.Contains(strings.ToLower(f.Name), q.Text) &&
			!strings.Contains(strings.ToLower(f.Description), q.Text) {
			continue
		}
		if q.Category != "" && !strings.EqualFold(q.Category, "all") && !strings.EqualFold(f.Category, q.Category) {
			continue
		}
		out = append(out, f)
	}

	switch q.Sort {
	case "price-asc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	case "price-desc":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	case "name", "":
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	}
	return out
}

func (s *Server) handleFruits(w http.ResponseWriter, r *http.Request) {
	q := parseFruitQuery(r)
	switch q.Sort {
	case "", "name", "price-asc", "price-desc":
	default:
		kit.WriteError(w, r, http.StatusBadRequest, "bad sort", map[string]any{
			"sort":    q.Sort,
			"allowed": []string{"name", "price-asc", "price-desc"},
		})
		return
	}

	fruits, err := s.Remote.ListFruits(r.Context())
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, filterFruits(fruits, q))
}

// lookupFruit finds id in the live catalog.
func (s *Server) lookupFruit(r *http.Request, id cart.ID) (cart.Fruit, error) {
	fruits, err := s.Remote.ListFruits(r.Context())
	if err != nil {
		return cart.Fruit{}, err
	}
	for _, f := range fruits {
		if f.ID == id {
			return f, nil
		}
	}
	return cart.Fruit{}, errUnknownFruit
}
